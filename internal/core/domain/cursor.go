package domain

import (
	"math"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Cursor is the ingestion watermark for one contract and event type:
// the event time of the newest record already committed.
type Cursor struct {
	ContractAddress common.Address
	EntityType      EntityType
	Timestamp       uint64
	UpdatedAt       time.Time
}

// MaxTimestamp is the largest event time a cursor can hold. Cursors are
// stored as signed 64-bit integers.
const MaxTimestamp = math.MaxInt64

// CursorKey identifies a cursor.
type CursorKey struct {
	ContractAddress common.Address
	EntityType      EntityType
}

// Key returns the identity of the cursor.
func (c *Cursor) Key() CursorKey {
	return CursorKey{ContractAddress: c.ContractAddress, EntityType: c.EntityType}
}

// CursorAdvance is a request to move a cursor to Timestamp.
type CursorAdvance struct {
	ContractAddress common.Address
	EntityType      EntityType
	Timestamp       uint64
}
