package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jmoiron/sqlx"

	"github.com/vietddude/facilitator/internal/core/domain"
)

// RequestRepo implements storage.RequestRepository using PostgreSQL.
type RequestRepo struct {
	db *DB
}

// NewRequestRepo creates a new PostgreSQL request repository.
func NewRequestRepo(db *DB) *RequestRepo {
	return &RequestRepo{db: db}
}

// Get retrieves a request by hash.
func (r *RequestRepo) Get(ctx context.Context, hash common.Hash) (*domain.MessageTransferRequest, error) {
	req, err := r.getOne(ctx, `WHERE request_hash = $1`, hash.Hex())
	if err != nil {
		return nil, fmt.Errorf("failed to get request: %w", err)
	}
	return req, nil
}

// GetByMessageHash retrieves the request bound to a message.
func (r *RequestRepo) GetByMessageHash(
	ctx context.Context,
	hash common.Hash,
) (*domain.MessageTransferRequest, error) {
	req, err := r.getOne(ctx, `WHERE message_hash = $1`, hash.Hex())
	if err != nil {
		return nil, fmt.Errorf("failed to get request by message: %w", err)
	}
	return req, nil
}

// FindBySenderProxyAndNonce returns the requests for the pair, oldest first.
func (r *RequestRepo) FindBySenderProxyAndNonce(
	ctx context.Context,
	senderProxy common.Address,
	nonce *uint256.Int,
) ([]*domain.MessageTransferRequest, error) {
	if nonce == nil {
		return nil, nil
	}
	var rows []requestRow
	query := `SELECT ` + requestColumns + ` FROM message_transfer_requests
		WHERE sender_proxy = $1 AND nonce = $2::numeric
		ORDER BY block_number ASC, created_at ASC, request_hash ASC`
	if err := sqlx.SelectContext(ctx, r.db, &rows, query, addressKey(senderProxy), nonce.Dec()); err != nil {
		return nil, fmt.Errorf("failed to find requests: %w", err)
	}
	out := make([]*domain.MessageTransferRequest, 0, len(rows))
	for i := range rows {
		req, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}

func (r *RequestRepo) getOne(ctx context.Context, where string, args ...any) (*domain.MessageTransferRequest, error) {
	var row requestRow
	query := `SELECT ` + requestColumns + ` FROM message_transfer_requests ` + where + ` LIMIT 1`
	err := sqlx.GetContext(ctx, r.db, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain()
}

// saveRequests inserts new requests and binds unbound ones. The bind only
// applies while message_hash is still NULL, so a bound request is never rebound.
func saveRequests(ctx context.Context, tx sqlx.ExecerContext, reqs []*domain.MessageTransferRequest, now time.Time) error {
	for _, req := range reqs {
		var messageHash sql.NullString
		if req.MessageHash != nil {
			messageHash = sql.NullString{String: req.MessageHash.Hex(), Valid: true}
		}
		created := now.Unix()
		if !req.CreatedAt.IsZero() {
			created = req.CreatedAt.Unix()
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO message_transfer_requests (
				request_hash, request_type, amount, beneficiary, gas_price, gas_limit, nonce,
				sender, sender_proxy, gateway, message_hash, block_number, created_at, updated_at
			) VALUES ($1, $2, $3::numeric, $4, $5::numeric, $6::numeric, $7::numeric, $8, $9, $10, $11, $12, $13, $14)
			ON CONFLICT (request_hash) DO UPDATE SET
				message_hash = EXCLUDED.message_hash,
				updated_at = EXCLUDED.updated_at
			WHERE message_transfer_requests.message_hash IS NULL
				AND EXCLUDED.message_hash IS NOT NULL`,
			req.RequestHash.Hex(),
			string(req.RequestType),
			uintParam(req.Amount),
			addressParam(req.Beneficiary),
			uintParam(req.GasPrice),
			uintParam(req.GasLimit),
			uintParam(req.Nonce),
			addressParam(req.Sender),
			addressKey(req.SenderProxy),
			addressParam(req.Gateway),
			messageHash,
			int64(req.BlockNumber),
			created,
			now.Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to save request %s: %w", req.RequestHash.Hex(), err)
		}
	}
	return nil
}
