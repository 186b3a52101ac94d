package handler

import (
	"github.com/vietddude/facilitator/internal/core/domain"
)

// Record field names as emitted by the gateway and composer contracts.
const (
	fieldMessageHash   = "_messageHash"
	fieldStaker        = "_staker"
	fieldStakerNonce   = "_stakerNonce"
	fieldRedeemer      = "_redeemer"
	fieldRedeemerNonce = "_redeemerNonce"
	fieldBeneficiary   = "_beneficiary"
	fieldAmount        = "_amount"
	fieldUnlockSecret  = "_unlockSecret"
	fieldHashLock      = "_hashLock"
	fieldBlockHeight   = "_blockHeight"
	fieldGasPrice      = "_gasPrice"
	fieldGasLimit      = "_gasLimit"
	fieldNonce         = "_nonce"
)

// actorFields names the sender and its nonce for one message type.
type actorFields struct {
	sender string
	nonce  string
}

var (
	stakerFields   = actorFields{sender: fieldStaker, nonce: fieldStakerNonce}
	redeemerFields = actorFields{sender: fieldRedeemer, nonce: fieldRedeemerNonce}
)

// messageKind is what one event kind implies for a message.
type messageKind struct {
	entity  domain.EntityType
	msgType domain.MessageType
	side    domain.Side
	status  domain.MessageStatus
	actor   actorFields
	amount  string
}

func stakeKind(entity domain.EntityType, side domain.Side, status domain.MessageStatus) messageKind {
	return messageKind{entity, domain.MessageTypeStake, side, status, stakerFields, fieldAmount}
}

func redeemKind(entity domain.EntityType, side domain.Side, status domain.MessageStatus) messageKind {
	return messageKind{entity, domain.MessageTypeRedeem, side, status, redeemerFields, fieldAmount}
}

var messageKinds = []messageKind{
	// stake: origin is the source, auxiliary the target
	stakeKind(domain.EntityStakeIntentDeclared, domain.SideSource, domain.MessageStatusDeclared),
	stakeKind(domain.EntityStakeProgressed, domain.SideSource, domain.MessageStatusProgressed),
	stakeKind(domain.EntityRevertStakeIntentDeclared, domain.SideSource, domain.MessageStatusRevocationDeclared),
	stakeKind(domain.EntityRevertStakeProgressed, domain.SideSource, domain.MessageStatusRevoked),
	stakeKind(domain.EntityStakeIntentConfirmed, domain.SideTarget, domain.MessageStatusDeclared),
	{domain.EntityMintProgressed, domain.MessageTypeStake, domain.SideTarget, domain.MessageStatusProgressed, stakerFields, "_stakeAmount"},
	stakeKind(domain.EntityRevertStakeIntentConfirmed, domain.SideTarget, domain.MessageStatusRevoked),

	// redeem: auxiliary is the source, origin the target
	redeemKind(domain.EntityRedeemIntentDeclared, domain.SideSource, domain.MessageStatusDeclared),
	redeemKind(domain.EntityRedeemProgressed, domain.SideSource, domain.MessageStatusProgressed),
	redeemKind(domain.EntityRevertRedeemDeclared, domain.SideSource, domain.MessageStatusRevocationDeclared),
	redeemKind(domain.EntityRevertRedeemProgressed, domain.SideSource, domain.MessageStatusRevoked),
	redeemKind(domain.EntityRedeemIntentConfirmed, domain.SideTarget, domain.MessageStatusDeclared),
	{domain.EntityUnstakeProgressed, domain.MessageTypeRedeem, domain.SideTarget, domain.MessageStatusProgressed, redeemerFields, "_redeemAmount"},
	redeemKind(domain.EntityRevertRedeemIntentConfirmed, domain.SideTarget, domain.MessageStatusRevoked),
}

// requestKind names the fields of a composer request event.
type requestKind struct {
	entity  domain.EntityType
	msgType domain.MessageType
	hash    string
	sender  string
	proxy   string
	gateway string
}

var requestKinds = []requestKind{
	{domain.EntityStakeRequested, domain.MessageTypeStake, "_stakeRequestHash", fieldStaker, "_stakerProxy", "_gateway"},
	{domain.EntityRedeemRequested, domain.MessageTypeRedeem, "_redeemRequestHash", fieldRedeemer, "_redeemerProxy", "_cogateway"},
}
