package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// MessageType is the direction-agnostic kind of transfer.
type MessageType string

const (
	MessageTypeStake  MessageType = "stake"
	MessageTypeRedeem MessageType = "redeem"
)

// Direction is the chain the message travels from and to.
type Direction string

const (
	DirectionOriginToAuxiliary Direction = "origin_to_auxiliary"
	DirectionAuxiliaryToOrigin Direction = "auxiliary_to_origin"
)

// DirectionOf returns the direction a message type always travels in.
func DirectionOf(t MessageType) Direction {
	if t == MessageTypeRedeem {
		return DirectionAuxiliaryToOrigin
	}
	return DirectionOriginToAuxiliary
}

// Message is the lifecycle of one cross-chain message on both sides.
type Message struct {
	MessageHash                  common.Hash
	Type                         MessageType
	Direction                    Direction
	Sender                       common.Address
	Nonce                        *uint256.Int
	GatewayAddress               common.Address
	Beneficiary                  common.Address
	Amount                       *uint256.Int
	Secret                       common.Hash
	HashLock                     common.Hash
	SourceStatus                 MessageStatus
	TargetStatus                 MessageStatus
	SourceDeclarationBlockHeight *uint256.Int
	CreatedAt                    time.Time
	UpdatedAt                    time.Time
}

// NewMessage creates a message that is undeclared on both sides.
func NewMessage(hash common.Hash, t MessageType, d Direction) *Message {
	return &Message{
		MessageHash:  hash,
		Type:         t,
		Direction:    d,
		SourceStatus: MessageStatusUndeclared,
		TargetStatus: MessageStatusUndeclared,
	}
}

// Status returns the status of the given side.
func (m *Message) Status(side Side) MessageStatus {
	if side == SideTarget {
		return m.TargetStatus
	}
	return m.SourceStatus
}

// Advance moves the given side to status if that is a forward move.
// It returns false and leaves the message untouched otherwise.
func (m *Message) Advance(side Side, status MessageStatus) bool {
	if !CanAdvance(m.Status(side), status) {
		return false
	}
	if side == SideTarget {
		m.TargetStatus = status
	} else {
		m.SourceStatus = status
	}
	return true
}

// FillSender sets sender and nonce when the message has none yet.
func (m *Message) FillSender(sender common.Address, nonce *uint256.Int) bool {
	changed := false
	if m.Sender == (common.Address{}) && sender != (common.Address{}) {
		m.Sender = sender
		changed = true
	}
	if m.Nonce == nil && nonce != nil {
		m.Nonce = nonce.Clone()
		changed = true
	}
	return changed
}

// FillGateway sets the emitting gateway when unknown.
func (m *Message) FillGateway(gateway common.Address) bool {
	if m.GatewayAddress != (common.Address{}) || gateway == (common.Address{}) {
		return false
	}
	m.GatewayAddress = gateway
	return true
}

// FillTransfer sets beneficiary and amount when unknown.
func (m *Message) FillTransfer(beneficiary common.Address, amount *uint256.Int) bool {
	changed := false
	if m.Beneficiary == (common.Address{}) && beneficiary != (common.Address{}) {
		m.Beneficiary = beneficiary
		changed = true
	}
	if m.Amount == nil && amount != nil {
		m.Amount = amount.Clone()
		changed = true
	}
	return changed
}

// FillSecret sets the unlock secret when unknown.
func (m *Message) FillSecret(secret common.Hash) bool {
	if m.Secret != (common.Hash{}) || secret == (common.Hash{}) {
		return false
	}
	m.Secret = secret
	return true
}

// FillHashLock sets the hash lock when unknown.
func (m *Message) FillHashLock(lock common.Hash) bool {
	if m.HashLock != (common.Hash{}) || lock == (common.Hash{}) {
		return false
	}
	m.HashLock = lock
	return true
}

// FillDeclarationHeight sets the source declaration block height when unknown.
func (m *Message) FillDeclarationHeight(height *uint256.Int) bool {
	if m.SourceDeclarationBlockHeight != nil || height == nil {
		return false
	}
	m.SourceDeclarationBlockHeight = height.Clone()
	return true
}

// Merge folds another observation of the same message into m.
// Statuses only move forward and known fields are never overwritten,
// so Merge is commutative for the statuses and idempotent.
func (m *Message) Merge(other *Message) bool {
	if other == nil || other.MessageHash != m.MessageHash {
		return false
	}
	changed := false
	if m.Type == "" && other.Type != "" {
		m.Type = other.Type
		changed = true
	}
	if m.Direction == "" && other.Direction != "" {
		m.Direction = other.Direction
		changed = true
	}
	changed = m.Advance(SideSource, other.SourceStatus) || changed
	changed = m.Advance(SideTarget, other.TargetStatus) || changed
	changed = m.FillSender(other.Sender, other.Nonce) || changed
	changed = m.FillGateway(other.GatewayAddress) || changed
	changed = m.FillTransfer(other.Beneficiary, other.Amount) || changed
	changed = m.FillSecret(other.Secret) || changed
	changed = m.FillHashLock(other.HashLock) || changed
	changed = m.FillDeclarationHeight(other.SourceDeclarationBlockHeight) || changed
	if m.CreatedAt.IsZero() || (!other.CreatedAt.IsZero() && other.CreatedAt.Before(m.CreatedAt)) {
		m.CreatedAt = other.CreatedAt
	}
	return changed
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	c := *m
	if m.Nonce != nil {
		c.Nonce = m.Nonce.Clone()
	}
	if m.Amount != nil {
		c.Amount = m.Amount.Clone()
	}
	if m.SourceDeclarationBlockHeight != nil {
		c.SourceDeclarationBlockHeight = m.SourceDeclarationBlockHeight.Clone()
	}
	return &c
}
