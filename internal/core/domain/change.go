package domain

import "github.com/ethereum/go-ethereum/common"

// ChangeKind is the entity a Change refers to.
type ChangeKind string

const (
	ChangeKindMessage ChangeKind = "message"
	ChangeKindRequest ChangeKind = "request"
)

// Change describes an entity that a committed batch created or updated.
type Change struct {
	Kind         ChangeKind    `json:"kind"`
	ID           common.Hash   `json:"id"`
	MessageHash  *common.Hash  `json:"message_hash,omitempty"`
	SourceStatus MessageStatus `json:"source_status,omitempty"`
	TargetStatus MessageStatus `json:"target_status,omitempty"`
}

// MessageChange builds the change notice for a message.
func MessageChange(m *Message) Change {
	h := m.MessageHash
	return Change{
		Kind:         ChangeKindMessage,
		ID:           m.MessageHash,
		MessageHash:  &h,
		SourceStatus: m.SourceStatus,
		TargetStatus: m.TargetStatus,
	}
}

// RequestChange builds the change notice for a transfer request.
func RequestChange(r *MessageTransferRequest) Change {
	return Change{
		Kind:        ChangeKindRequest,
		ID:          r.RequestHash,
		MessageHash: r.MessageHash,
	}
}
