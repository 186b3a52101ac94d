package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/vietddude/facilitator/internal/core/domain"
)

// MessageRepo implements storage.MessageRepository using PostgreSQL.
type MessageRepo struct {
	db *DB
}

// NewMessageRepo creates a new PostgreSQL message repository.
func NewMessageRepo(db *DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Get retrieves a message by hash.
func (r *MessageRepo) Get(ctx context.Context, hash common.Hash) (*domain.Message, error) {
	m, err := getMessage(ctx, r.db, hash, false)
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return m, nil
}

// GetMany retrieves the messages that exist among hashes.
func (r *MessageRepo) GetMany(
	ctx context.Context,
	hashes []common.Hash,
) (map[common.Hash]*domain.Message, error) {
	out := make(map[common.Hash]*domain.Message, len(hashes))
	if len(hashes) == 0 {
		return out, nil
	}
	keys := make([]string, len(hashes))
	for i, h := range hashes {
		keys[i] = h.Hex()
	}

	var rows []messageRow
	query := `SELECT ` + messageColumns + ` FROM messages WHERE message_hash = ANY($1::text[])`
	if err := sqlx.SelectContext(ctx, r.db, &rows, query, pq.Array(keys)); err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	for i := range rows {
		m, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out[m.MessageHash] = m
	}
	return out, nil
}

// FindBySenderAndNonce returns the messages declared by sender with nonce.
func (r *MessageRepo) FindBySenderAndNonce(
	ctx context.Context,
	sender common.Address,
	nonce *uint256.Int,
) ([]*domain.Message, error) {
	if nonce == nil {
		return nil, nil
	}
	var rows []messageRow
	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE sender = $1 AND nonce = $2::numeric ORDER BY message_hash`
	if err := sqlx.SelectContext(ctx, r.db, &rows, query, addressKey(sender), nonce.Dec()); err != nil {
		return nil, fmt.Errorf("failed to find messages: %w", err)
	}
	out := make([]*domain.Message, 0, len(rows))
	for i := range rows {
		m, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func getMessage(ctx context.Context, q sqlx.QueryerContext, hash common.Hash, lock bool) (*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE message_hash = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	var row messageRow
	err := sqlx.GetContext(ctx, q, &row, query, hash.Hex())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain()
}

// saveMessages merges each message into its stored row under a row lock.
// Hashes are processed in sorted order so concurrent batches lock rows in
// the same order.
func saveMessages(ctx context.Context, tx sqlx.ExtContext, msgs []*domain.Message, now time.Time) error {
	sorted := make([]*domain.Message, len(msgs))
	copy(sorted, msgs)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].MessageHash.Hex() < sorted[j].MessageHash.Hex()
	})

	for _, m := range sorted {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (message_hash, type, direction, source_status, target_status, created_at, updated_at)
			VALUES ($1, $2, $3, 'undeclared', 'undeclared', $4, $4)
			ON CONFLICT (message_hash) DO NOTHING`,
			m.MessageHash.Hex(), string(m.Type), string(m.Direction), now.Unix(),
		); err != nil {
			return fmt.Errorf("failed to ensure message %s: %w", m.MessageHash.Hex(), err)
		}

		stored, err := getMessage(ctx, tx, m.MessageHash, true)
		if err != nil {
			return fmt.Errorf("failed to lock message %s: %w", m.MessageHash.Hex(), err)
		}
		if stored == nil {
			return fmt.Errorf("message %s vanished after insert", m.MessageHash.Hex())
		}
		stored.Merge(m)

		if _, err := tx.ExecContext(ctx, `
			UPDATE messages SET
				sender = $2,
				nonce = $3::numeric,
				gateway_address = $4,
				beneficiary = $5,
				amount = $6::numeric,
				secret = $7,
				hash_lock = $8,
				source_status = $9,
				target_status = $10,
				source_declaration_block_height = $11::numeric,
				updated_at = $12
			WHERE message_hash = $1`,
			stored.MessageHash.Hex(),
			addressParam(stored.Sender),
			uintParam(stored.Nonce),
			addressParam(stored.GatewayAddress),
			addressParam(stored.Beneficiary),
			uintParam(stored.Amount),
			hashParam(stored.Secret),
			hashParam(stored.HashLock),
			string(stored.SourceStatus),
			string(stored.TargetStatus),
			uintParam(stored.SourceDeclarationBlockHeight),
			now.Unix(),
		); err != nil {
			return fmt.Errorf("failed to update message %s: %w", m.MessageHash.Hex(), err)
		}
	}
	return nil
}
