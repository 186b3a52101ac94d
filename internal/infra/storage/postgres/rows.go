package postgres

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/vietddude/facilitator/internal/core/domain"
)

const messageColumns = `message_hash, type, direction, sender, nonce::text AS nonce, gateway_address,
	beneficiary, amount::text AS amount, secret, hash_lock, source_status, target_status,
	source_declaration_block_height::text AS source_declaration_block_height, created_at, updated_at`

const requestColumns = `request_hash, request_type, amount::text AS amount, beneficiary,
	gas_price::text AS gas_price, gas_limit::text AS gas_limit, nonce::text AS nonce, sender,
	sender_proxy, gateway, message_hash, block_number, created_at, updated_at`

type messageRow struct {
	MessageHash                  string         `db:"message_hash"`
	Type                         string         `db:"type"`
	Direction                    string         `db:"direction"`
	Sender                       sql.NullString `db:"sender"`
	Nonce                        sql.NullString `db:"nonce"`
	GatewayAddress               sql.NullString `db:"gateway_address"`
	Beneficiary                  sql.NullString `db:"beneficiary"`
	Amount                       sql.NullString `db:"amount"`
	Secret                       sql.NullString `db:"secret"`
	HashLock                     sql.NullString `db:"hash_lock"`
	SourceStatus                 string         `db:"source_status"`
	TargetStatus                 string         `db:"target_status"`
	SourceDeclarationBlockHeight sql.NullString `db:"source_declaration_block_height"`
	CreatedAt                    int64          `db:"created_at"`
	UpdatedAt                    int64          `db:"updated_at"`
}

func (r *messageRow) toDomain() (*domain.Message, error) {
	m := &domain.Message{
		MessageHash:    common.HexToHash(r.MessageHash),
		Type:           domain.MessageType(r.Type),
		Direction:      domain.Direction(r.Direction),
		Sender:         toAddress(r.Sender),
		GatewayAddress: toAddress(r.GatewayAddress),
		Beneficiary:    toAddress(r.Beneficiary),
		Secret:         toHash(r.Secret),
		HashLock:       toHash(r.HashLock),
		SourceStatus:   domain.MessageStatus(r.SourceStatus),
		TargetStatus:   domain.MessageStatus(r.TargetStatus),
		CreatedAt:      time.Unix(r.CreatedAt, 0),
		UpdatedAt:      time.Unix(r.UpdatedAt, 0),
	}
	var err error
	if m.Nonce, err = toUint256(r.Nonce); err != nil {
		return nil, fmt.Errorf("message %s nonce: %w", r.MessageHash, err)
	}
	if m.Amount, err = toUint256(r.Amount); err != nil {
		return nil, fmt.Errorf("message %s amount: %w", r.MessageHash, err)
	}
	if m.SourceDeclarationBlockHeight, err = toUint256(r.SourceDeclarationBlockHeight); err != nil {
		return nil, fmt.Errorf("message %s declaration height: %w", r.MessageHash, err)
	}
	return m, nil
}

type requestRow struct {
	RequestHash string         `db:"request_hash"`
	RequestType string         `db:"request_type"`
	Amount      sql.NullString `db:"amount"`
	Beneficiary sql.NullString `db:"beneficiary"`
	GasPrice    sql.NullString `db:"gas_price"`
	GasLimit    sql.NullString `db:"gas_limit"`
	Nonce       sql.NullString `db:"nonce"`
	Sender      sql.NullString `db:"sender"`
	SenderProxy string         `db:"sender_proxy"`
	Gateway     sql.NullString `db:"gateway"`
	MessageHash sql.NullString `db:"message_hash"`
	BlockNumber int64          `db:"block_number"`
	CreatedAt   int64          `db:"created_at"`
	UpdatedAt   int64          `db:"updated_at"`
}

func (r *requestRow) toDomain() (*domain.MessageTransferRequest, error) {
	req := &domain.MessageTransferRequest{
		RequestHash: common.HexToHash(r.RequestHash),
		RequestType: domain.MessageType(r.RequestType),
		Beneficiary: toAddress(r.Beneficiary),
		Sender:      toAddress(r.Sender),
		SenderProxy: common.HexToAddress(r.SenderProxy),
		Gateway:     toAddress(r.Gateway),
		BlockNumber: uint64(r.BlockNumber),
		CreatedAt:   time.Unix(r.CreatedAt, 0),
		UpdatedAt:   time.Unix(r.UpdatedAt, 0),
	}
	if r.MessageHash.Valid && r.MessageHash.String != "" {
		h := common.HexToHash(r.MessageHash.String)
		req.MessageHash = &h
	}
	fields := []struct {
		dst  **uint256.Int
		src  sql.NullString
		name string
	}{
		{&req.Amount, r.Amount, "amount"},
		{&req.GasPrice, r.GasPrice, "gas_price"},
		{&req.GasLimit, r.GasLimit, "gas_limit"},
		{&req.Nonce, r.Nonce, "nonce"},
	}
	for _, f := range fields {
		v, err := toUint256(f.src)
		if err != nil {
			return nil, fmt.Errorf("request %s %s: %w", r.RequestHash, f.name, err)
		}
		*f.dst = v
	}
	return req, nil
}

type cursorRow struct {
	ContractAddress string `db:"contract_address"`
	EntityType      string `db:"entity_type"`
	Timestamp       int64  `db:"timestamp"`
	UpdatedAt       int64  `db:"updated_at"`
}

func (r *cursorRow) toDomain() *domain.Cursor {
	return &domain.Cursor{
		ContractAddress: common.HexToAddress(r.ContractAddress),
		EntityType:      domain.EntityType(r.EntityType),
		Timestamp:       uint64(r.Timestamp),
		UpdatedAt:       time.Unix(r.UpdatedAt, 0),
	}
}

// Value helpers. Zero addresses and hashes are stored as NULL, integers as
// decimal text cast to NUMERIC by the queries.

func addressParam(a common.Address) sql.NullString {
	if a == (common.Address{}) {
		return sql.NullString{}
	}
	return sql.NullString{String: addressKey(a), Valid: true}
}

func hashParam(h common.Hash) sql.NullString {
	if h == (common.Hash{}) {
		return sql.NullString{}
	}
	return sql.NullString{String: h.Hex(), Valid: true}
}

func uintParam(v *uint256.Int) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: v.Dec(), Valid: true}
}

// addressKey is the canonical lower-case form used in keys and lookups.
func addressKey(a common.Address) string {
	return "0x" + common.Bytes2Hex(a.Bytes())
}

func toAddress(s sql.NullString) common.Address {
	if !s.Valid {
		return common.Address{}
	}
	return common.HexToAddress(s.String)
}

func toHash(s sql.NullString) common.Hash {
	if !s.Valid {
		return common.Hash{}
	}
	return common.HexToHash(s.String)
}

func toUint256(s sql.NullString) (*uint256.Int, error) {
	if !s.Valid {
		return nil, nil
	}
	return uint256.FromDecimal(s.String)
}
