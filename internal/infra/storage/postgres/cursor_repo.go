package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jmoiron/sqlx"

	"github.com/vietddude/facilitator/internal/core/domain"
	"github.com/vietddude/facilitator/internal/infra/storage"
)

// CursorRepo implements storage.CursorRepository using PostgreSQL.
type CursorRepo struct {
	db *DB
}

// NewCursorRepo creates a new PostgreSQL cursor repository.
func NewCursorRepo(db *DB) *CursorRepo {
	return &CursorRepo{db: db}
}

// Get retrieves a cursor by contract and entity type.
func (r *CursorRepo) Get(
	ctx context.Context,
	contract common.Address,
	entityType domain.EntityType,
) (*domain.Cursor, error) {
	var row cursorRow
	err := sqlx.GetContext(ctx, r.db, &row, `
		SELECT contract_address, entity_type, timestamp, updated_at
		FROM cursors WHERE contract_address = $1 AND entity_type = $2`,
		addressKey(contract), string(entityType),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cursor: %w", err)
	}
	return row.toDomain(), nil
}

// List returns all cursors.
func (r *CursorRepo) List(ctx context.Context) ([]*domain.Cursor, error) {
	var rows []cursorRow
	if err := sqlx.SelectContext(ctx, r.db, &rows, `
		SELECT contract_address, entity_type, timestamp, updated_at
		FROM cursors ORDER BY contract_address, entity_type`); err != nil {
		return nil, fmt.Errorf("failed to list cursors: %w", err)
	}
	out := make([]*domain.Cursor, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

// Advance moves the cursor forward outside of any batch transaction.
func (r *CursorRepo) Advance(
	ctx context.Context,
	contract common.Address,
	entityType domain.EntityType,
	timestamp uint64,
) (bool, error) {
	changed, err := advanceCursor(ctx, r.db, domain.CursorAdvance{
		ContractAddress: contract,
		EntityType:      entityType,
		Timestamp:       timestamp,
	}, time.Now())
	if err != nil {
		return false, fmt.Errorf("failed to advance cursor: %w", err)
	}
	return changed, nil
}

// Delete removes a cursor.
func (r *CursorRepo) Delete(ctx context.Context, contract common.Address, entityType domain.EntityType) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM cursors WHERE contract_address = $1 AND entity_type = $2`,
		addressKey(contract), string(entityType),
	)
	if err != nil {
		return fmt.Errorf("failed to delete cursor: %w", err)
	}
	return nil
}

// advanceCursor upserts the watermark only when the new timestamp is
// strictly greater, so retried or racing advances never move it back.
func advanceCursor(ctx context.Context, ex sqlx.ExecerContext, adv domain.CursorAdvance, now time.Time) (bool, error) {
	if adv.Timestamp > domain.MaxTimestamp {
		return false, fmt.Errorf("%w: %d", storage.ErrTimestampRange, adv.Timestamp)
	}
	res, err := ex.ExecContext(ctx, `
		INSERT INTO cursors (contract_address, entity_type, timestamp, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (contract_address, entity_type) DO UPDATE SET
			timestamp = EXCLUDED.timestamp,
			updated_at = EXCLUDED.updated_at
		WHERE cursors.timestamp < EXCLUDED.timestamp`,
		addressKey(adv.ContractAddress), string(adv.EntityType), int64(adv.Timestamp), now.Unix(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
