package graph

import "github.com/vietddude/facilitator/internal/core/domain"

// Fields every entity carries.
var commonFields = []string{"id", "contractAddress", "blockNumber", "uts"}

var (
	stakeMessageFields  = []string{"_messageHash", "_staker", "_stakerNonce", "_amount"}
	redeemMessageFields = []string{"_messageHash", "_redeemer", "_redeemerNonce", "_amount"}
)

func with(base []string, extra ...string) []string {
	out := make([]string, 0, len(base)+len(extra))
	out = append(out, base...)
	return append(out, extra...)
}

// DefaultFields is the selection set queried per entity type, on top of
// commonFields.
var DefaultFields = map[domain.EntityType][]string{
	domain.EntityStakeRequested: {
		"_amount", "_beneficiary", "_gasPrice", "_gasLimit", "_nonce",
		"_staker", "_stakerProxy", "_gateway", "_stakeRequestHash",
	},
	domain.EntityStakeIntentDeclared:        with(stakeMessageFields, "_beneficiary"),
	domain.EntityStakeProgressed:            with(stakeMessageFields, "_unlockSecret"),
	domain.EntityRevertStakeIntentDeclared:  stakeMessageFields,
	domain.EntityRevertStakeProgressed:      stakeMessageFields,
	domain.EntityStakeIntentConfirmed:       with(stakeMessageFields, "_beneficiary", "_blockHeight", "_hashLock"),
	domain.EntityMintProgressed:             {"_messageHash", "_staker", "_beneficiary", "_stakeAmount", "_unlockSecret"},
	domain.EntityRevertStakeIntentConfirmed: stakeMessageFields,

	domain.EntityRedeemRequested: {
		"_amount", "_beneficiary", "_gasPrice", "_gasLimit", "_nonce",
		"_redeemer", "_redeemerProxy", "_cogateway", "_redeemRequestHash",
	},
	domain.EntityRedeemIntentDeclared:        with(redeemMessageFields, "_beneficiary"),
	domain.EntityRedeemProgressed:            with(redeemMessageFields, "_unlockSecret"),
	domain.EntityRevertRedeemDeclared:        redeemMessageFields,
	domain.EntityRevertRedeemProgressed:      redeemMessageFields,
	domain.EntityRedeemIntentConfirmed:       with(redeemMessageFields, "_beneficiary", "_blockHeight", "_hashLock"),
	domain.EntityUnstakeProgressed:           {"_messageHash", "_redeemer", "_beneficiary", "_redeemAmount", "_unlockSecret"},
	domain.EntityRevertRedeemIntentConfirmed: redeemMessageFields,
}
