package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

var (
	// ErrInvalidRecord is the parent of every record validation error.
	ErrInvalidRecord = errors.New("invalid event record")

	// ErrMissingField is returned when a required field is absent or null.
	ErrMissingField = errors.New("missing field")

	// ErrMalformedField is returned when a field cannot be parsed.
	ErrMalformedField = errors.New("malformed field")
)

// Fields every record carries besides the event's own fields.
const (
	FieldID              = "id"
	FieldContractAddress = "contractAddress"
	FieldBlockNumber     = "blockNumber"
	FieldUTS             = "uts"
)

// ValueKind tags the JSON type a Value was decoded from.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindString
	KindNumber
	KindBool
)

// Value is one field of an event record. Numbers keep their decimal text
// so that no precision is lost before parsing.
type Value struct {
	Kind ValueKind
	Text string
}

// String returns a string value.
func String(s string) Value { return Value{Kind: KindString, Text: s} }

// Number returns a number value from its decimal text.
func Number(s string) Value { return Value{Kind: KindNumber, Text: s} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{Kind: KindBool, Text: strconv.FormatBool(b)} }

// UnmarshalJSON decodes any scalar JSON value.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*v = Value{Kind: KindNull}
	case bytes.Equal(data, []byte("true")), bytes.Equal(data, []byte("false")):
		*v = Value{Kind: KindBool, Text: string(data)}
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = Value{Kind: KindString, Text: s}
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("unsupported record value %s", data)
		}
		*v = Value{Kind: KindNumber, Text: n.String()}
	}
	return nil
}

// MarshalJSON encodes the value with its original JSON type.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return []byte("null"), nil
	case KindNumber, KindBool:
		return []byte(v.Text), nil
	default:
		return json.Marshal(v.Text)
	}
}

// EventRecord is a flat event as delivered by the indexer.
type EventRecord map[string]Value

func missing(field string) error {
	return fmt.Errorf("%w: %w: %s", ErrInvalidRecord, ErrMissingField, field)
}

func malformed(field, text string, cause error) error {
	if cause != nil {
		return fmt.Errorf("%w: %w: %s=%q: %v", ErrInvalidRecord, ErrMalformedField, field, text, cause)
	}
	return fmt.Errorf("%w: %w: %s=%q", ErrInvalidRecord, ErrMalformedField, field, text)
}

// Has reports whether field is present and not null.
func (r EventRecord) Has(field string) bool {
	v, ok := r[field]
	return ok && v.Kind != KindNull
}

func (r EventRecord) text(field string) (string, error) {
	v, ok := r[field]
	if !ok || v.Kind == KindNull {
		return "", missing(field)
	}
	return v.Text, nil
}

// String returns the raw text of a required field.
func (r EventRecord) String(field string) (string, error) {
	return r.text(field)
}

// Hash parses a required 32-byte hex field.
func (r EventRecord) Hash(field string) (common.Hash, error) {
	s, err := r.text(field)
	if err != nil {
		return common.Hash{}, err
	}
	b, ok := decodeHex(s)
	if !ok || len(b) != common.HashLength {
		return common.Hash{}, malformed(field, s, nil)
	}
	return common.BytesToHash(b), nil
}

// OptionalHash parses a 32-byte hex field, returning the zero hash when absent.
func (r EventRecord) OptionalHash(field string) (common.Hash, error) {
	if !r.Has(field) {
		return common.Hash{}, nil
	}
	return r.Hash(field)
}

// Address parses a required 20-byte hex field.
func (r EventRecord) Address(field string) (common.Address, error) {
	s, err := r.text(field)
	if err != nil {
		return common.Address{}, err
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, malformed(field, s, nil)
	}
	return common.HexToAddress(s), nil
}

// OptionalAddress parses an address field, returning the zero address when absent.
func (r EventRecord) OptionalAddress(field string) (common.Address, error) {
	if !r.Has(field) {
		return common.Address{}, nil
	}
	return r.Address(field)
}

// Uint256 parses a required unsigned integer given as decimal or 0x-hex text.
func (r EventRecord) Uint256(field string) (*uint256.Int, error) {
	s, err := r.text(field)
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		b, ok := new(big.Int).SetString(s[2:], 16)
		if !ok || b.Sign() < 0 {
			return nil, malformed(field, s, nil)
		}
		out, overflow := uint256.FromBig(b)
		if overflow {
			return nil, malformed(field, s, errors.New("exceeds 256 bits"))
		}
		return out, nil
	}
	out, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, malformed(field, s, err)
	}
	return out, nil
}

// OptionalUint256 parses an unsigned integer field, returning nil when absent.
func (r EventRecord) OptionalUint256(field string) (*uint256.Int, error) {
	if !r.Has(field) {
		return nil, nil
	}
	return r.Uint256(field)
}

// Uint64 parses a required unsigned integer that must fit 64 bits.
func (r EventRecord) Uint64(field string) (uint64, error) {
	s, err := r.text(field)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, malformed(field, s, err)
	}
	return n, nil
}

// Bool parses a required boolean field.
func (r EventRecord) Bool(field string) (bool, error) {
	s, err := r.text(field)
	if err != nil {
		return false, err
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, malformed(field, s, err)
	}
	return b, nil
}

// ContractAddress returns the address of the emitting contract.
func (r EventRecord) ContractAddress() (common.Address, error) {
	return r.Address(FieldContractAddress)
}

// BlockNumber returns the block the event was emitted in.
func (r EventRecord) BlockNumber() (*uint256.Int, error) {
	return r.Uint256(FieldBlockNumber)
}

// UTS returns the event time used for cursors. Values above MaxTimestamp
// are malformed.
func (r EventRecord) UTS() (uint64, error) {
	uts, err := r.Uint64(FieldUTS)
	if err != nil {
		return 0, err
	}
	if uts > MaxTimestamp {
		return 0, malformed(FieldUTS, r[FieldUTS].Text, errors.New("exceeds cursor range"))
	}
	return uts, nil
}

func decodeHex(s string) ([]byte, bool) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, false
	}
	return b, true
}
