package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vietddude/facilitator/internal/core/domain"
	"github.com/vietddude/facilitator/internal/indexing/metrics"
	"github.com/vietddude/facilitator/internal/infra/storage"
)

// UnitOfWork bundles all persistence operations of a batch into a single
// database transaction, ensuring atomicity (all succeed or all fail).
type UnitOfWork struct {
	tx  *sqlx.Tx
	now func() time.Time
}

// NewUnitOfWork creates a new unit of work with an active transaction.
func (db *DB) NewUnitOfWork(ctx context.Context) (*UnitOfWork, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &UnitOfWork{tx: tx, now: time.Now}, nil
}

// SaveMessages merges messages into their stored rows.
func (u *UnitOfWork) SaveMessages(ctx context.Context, msgs []*domain.Message) error {
	if u.tx == nil {
		return storage.ErrTxDone
	}
	if len(msgs) == 0 {
		return nil
	}
	metrics.DBBatchSize.WithLabelValues("save_messages").Observe(float64(len(msgs)))
	return saveMessages(ctx, u.tx, msgs, u.now())
}

// SaveRequests inserts or binds requests.
func (u *UnitOfWork) SaveRequests(ctx context.Context, reqs []*domain.MessageTransferRequest) error {
	if u.tx == nil {
		return storage.ErrTxDone
	}
	if len(reqs) == 0 {
		return nil
	}
	metrics.DBBatchSize.WithLabelValues("save_requests").Observe(float64(len(reqs)))
	return saveRequests(ctx, u.tx, reqs, u.now())
}

// AdvanceCursor updates a watermark within the transaction.
func (u *UnitOfWork) AdvanceCursor(ctx context.Context, adv domain.CursorAdvance) error {
	if u.tx == nil {
		return storage.ErrTxDone
	}
	if _, err := advanceCursor(ctx, u.tx, adv, u.now()); err != nil {
		return fmt.Errorf("failed to advance cursor %s/%s: %w", adv.ContractAddress.Hex(), adv.EntityType, err)
	}
	return nil
}

// Commit commits the transaction.
func (u *UnitOfWork) Commit() error {
	if u.tx == nil {
		return storage.ErrTxDone
	}
	err := u.tx.Commit()
	u.tx = nil
	return err
}

// Rollback rolls back the transaction. Safe to call multiple times.
func (u *UnitOfWork) Rollback() error {
	if u.tx == nil {
		return nil
	}
	err := u.tx.Rollback()
	u.tx = nil
	return err
}
