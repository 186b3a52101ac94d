package storage

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/vietddude/facilitator/internal/core/domain"
)

var (
	// ErrTxDone is returned when a unit of work is used after Commit or Rollback.
	ErrTxDone = errors.New("unit of work already completed")

	// ErrTimestampRange is returned for cursor timestamps above domain.MaxTimestamp.
	ErrTimestampRange = errors.New("cursor timestamp out of range")
)

// MessageRepository reads messages.
type MessageRepository interface {
	// Get retrieves a message by hash. It returns nil, nil when absent.
	Get(ctx context.Context, hash common.Hash) (*domain.Message, error)

	// GetMany retrieves the messages that exist among hashes.
	GetMany(ctx context.Context, hashes []common.Hash) (map[common.Hash]*domain.Message, error)

	// FindBySenderAndNonce returns the messages declared by sender with nonce.
	FindBySenderAndNonce(ctx context.Context, sender common.Address, nonce *uint256.Int) ([]*domain.Message, error)
}

// RequestRepository reads message transfer requests.
type RequestRepository interface {
	// Get retrieves a request by hash. It returns nil, nil when absent.
	Get(ctx context.Context, hash common.Hash) (*domain.MessageTransferRequest, error)

	// FindBySenderProxyAndNonce returns every request for the pair, oldest first.
	FindBySenderProxyAndNonce(
		ctx context.Context,
		senderProxy common.Address,
		nonce *uint256.Int,
	) ([]*domain.MessageTransferRequest, error)

	// GetByMessageHash returns the request bound to a message, or nil, nil.
	GetByMessageHash(ctx context.Context, hash common.Hash) (*domain.MessageTransferRequest, error)
}

// CursorRepository handles watermark storage.
type CursorRepository interface {
	// Get retrieves a cursor. It returns nil, nil when absent.
	Get(ctx context.Context, contract common.Address, entityType domain.EntityType) (*domain.Cursor, error)

	// List returns all cursors.
	List(ctx context.Context) ([]*domain.Cursor, error)

	// Advance moves the cursor to timestamp if it is strictly newer.
	// It reports whether the stored value changed.
	Advance(ctx context.Context, contract common.Address, entityType domain.EntityType, timestamp uint64) (bool, error)

	// Delete removes a cursor so ingestion restarts from the beginning.
	Delete(ctx context.Context, contract common.Address, entityType domain.EntityType) error
}

// UnitOfWork groups the writes of one dispatched batch into a single
// transaction: everything is applied on Commit or nothing is.
type UnitOfWork interface {
	// SaveMessages upserts messages. Existing rows are merged with the
	// incoming state, so statuses only move forward.
	SaveMessages(ctx context.Context, msgs []*domain.Message) error

	// SaveRequests inserts new requests and binds unbound ones.
	// A request that is already bound keeps its message hash.
	SaveRequests(ctx context.Context, reqs []*domain.MessageTransferRequest) error

	// AdvanceCursor moves a watermark forward within the transaction.
	AdvanceCursor(ctx context.Context, adv domain.CursorAdvance) error

	// Commit applies all writes.
	Commit() error

	// Rollback discards all writes. Safe to call multiple times.
	Rollback() error
}

// Store is the process-wide handle shared by repositories and units of work.
type Store interface {
	Messages() MessageRepository
	Requests() RequestRepository
	Cursors() CursorRepository

	// Begin starts a unit of work.
	Begin(ctx context.Context) (UnitOfWork, error)

	// Health checks the backend is reachable.
	Health(ctx context.Context) error

	Close() error
}
