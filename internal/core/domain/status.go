package domain

// MessageStatus is the progress of one side of a message.
type MessageStatus string

const (
	MessageStatusUndeclared         MessageStatus = "undeclared"
	MessageStatusDeclared           MessageStatus = "declared"
	MessageStatusProgressed         MessageStatus = "progressed"
	MessageStatusRevocationDeclared MessageStatus = "revocation_declared"
	MessageStatusRevoked            MessageStatus = "revoked"
)

// statusSuccessors lists every status reachable from a given status.
// Progressed and the revocation branch do not reach each other.
var statusSuccessors = map[MessageStatus][]MessageStatus{
	MessageStatusUndeclared: {
		MessageStatusDeclared,
		MessageStatusProgressed,
		MessageStatusRevocationDeclared,
		MessageStatusRevoked,
	},
	MessageStatusDeclared: {
		MessageStatusProgressed,
		MessageStatusRevocationDeclared,
		MessageStatusRevoked,
	},
	MessageStatusRevocationDeclared: {MessageStatusRevoked},
	MessageStatusProgressed:         {},
	MessageStatusRevoked:            {},
}

// CanAdvance reports whether a side may move from one status to another.
// Moving to the same status is not an advance.
func CanAdvance(from, to MessageStatus) bool {
	if from == "" {
		from = MessageStatusUndeclared
	}
	for _, next := range statusSuccessors[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status.
func (s MessageStatus) Valid() bool {
	_, ok := statusSuccessors[s]
	return ok
}

// Rank is the depth of the status in its branch.
func (s MessageStatus) Rank() int {
	switch s {
	case MessageStatusDeclared:
		return 1
	case MessageStatusProgressed, MessageStatusRevocationDeclared:
		return 2
	case MessageStatusRevoked:
		return 3
	default:
		return 0
	}
}

// Terminal reports whether no further transition is possible.
func (s MessageStatus) Terminal() bool {
	next, ok := statusSuccessors[s]
	return ok && len(next) == 0
}

// Side selects which of the two message statuses a transition applies to.
type Side string

const (
	SideSource Side = "source"
	SideTarget Side = "target"
)
