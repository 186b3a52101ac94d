// Package memory is an in-process Store used by tests and database-less runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/vietddude/facilitator/internal/core/domain"
	"github.com/vietddude/facilitator/internal/infra/storage"
)

type MemoryStorage struct {
	messages map[common.Hash]*domain.Message
	requests map[common.Hash]*domain.MessageTransferRequest
	cursors  map[domain.CursorKey]*domain.Cursor
	now      func() time.Time
	mu       sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		messages: make(map[common.Hash]*domain.Message),
		requests: make(map[common.Hash]*domain.MessageTransferRequest),
		cursors:  make(map[domain.CursorKey]*domain.Cursor),
		now:      time.Now,
	}
}

var _ storage.Store = (*MemoryStorage)(nil)

func (s *MemoryStorage) Messages() storage.MessageRepository { return &MessageRepo{store: s} }
func (s *MemoryStorage) Requests() storage.RequestRepository { return &RequestRepo{store: s} }
func (s *MemoryStorage) Cursors() storage.CursorRepository   { return &CursorRepo{store: s} }
func (s *MemoryStorage) Health(ctx context.Context) error    { return nil }
func (s *MemoryStorage) Close() error                        { return nil }

// Begin starts a unit of work whose writes are staged until Commit.
func (s *MemoryStorage) Begin(ctx context.Context) (storage.UnitOfWork, error) {
	return &UnitOfWork{store: s}, nil
}

// -----------------------------------------------------------------------------
// Message Repository
// -----------------------------------------------------------------------------

type MessageRepo struct {
	store *MemoryStorage
}

func (r *MessageRepo) Get(ctx context.Context, hash common.Hash) (*domain.Message, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	m, ok := r.store.messages[hash]
	if !ok {
		return nil, nil
	}
	return m.Clone(), nil
}

func (r *MessageRepo) GetMany(
	ctx context.Context,
	hashes []common.Hash,
) (map[common.Hash]*domain.Message, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make(map[common.Hash]*domain.Message, len(hashes))
	for _, h := range hashes {
		if m, ok := r.store.messages[h]; ok {
			out[h] = m.Clone()
		}
	}
	return out, nil
}

func (r *MessageRepo) FindBySenderAndNonce(
	ctx context.Context,
	sender common.Address,
	nonce *uint256.Int,
) ([]*domain.Message, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.Message
	for _, m := range r.store.messages {
		if m.Sender == sender && m.Nonce != nil && nonce != nil && m.Nonce.Eq(nonce) {
			out = append(out, m.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].MessageHash.Hex() < out[j].MessageHash.Hex()
	})
	return out, nil
}

// -----------------------------------------------------------------------------
// Request Repository
// -----------------------------------------------------------------------------

type RequestRepo struct {
	store *MemoryStorage
}

func (r *RequestRepo) Get(ctx context.Context, hash common.Hash) (*domain.MessageTransferRequest, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	req, ok := r.store.requests[hash]
	if !ok {
		return nil, nil
	}
	return req.Clone(), nil
}

func (r *RequestRepo) FindBySenderProxyAndNonce(
	ctx context.Context,
	senderProxy common.Address,
	nonce *uint256.Int,
) ([]*domain.MessageTransferRequest, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.MessageTransferRequest
	for _, req := range r.store.requests {
		if req.SenderProxy == senderProxy && req.Nonce != nil && nonce != nil && req.Nonce.Eq(nonce) {
			out = append(out, req.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OlderThan(out[j]) })
	return out, nil
}

func (r *RequestRepo) GetByMessageHash(
	ctx context.Context,
	hash common.Hash,
) (*domain.MessageTransferRequest, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	for _, req := range r.store.requests {
		if req.MessageHash != nil && *req.MessageHash == hash {
			return req.Clone(), nil
		}
	}
	return nil, nil
}

// -----------------------------------------------------------------------------
// Cursor Repository
// -----------------------------------------------------------------------------

type CursorRepo struct {
	store *MemoryStorage
}

func (r *CursorRepo) Get(
	ctx context.Context,
	contract common.Address,
	entityType domain.EntityType,
) (*domain.Cursor, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	c, ok := r.store.cursors[domain.CursorKey{ContractAddress: contract, EntityType: entityType}]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *CursorRepo) List(ctx context.Context) ([]*domain.Cursor, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]*domain.Cursor, 0, len(r.store.cursors))
	for _, c := range r.store.cursors {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ContractAddress != out[j].ContractAddress {
			return out[i].ContractAddress.Hex() < out[j].ContractAddress.Hex()
		}
		return out[i].EntityType < out[j].EntityType
	})
	return out, nil
}

func (r *CursorRepo) Advance(
	ctx context.Context,
	contract common.Address,
	entityType domain.EntityType,
	timestamp uint64,
) (bool, error) {
	if timestamp > domain.MaxTimestamp {
		return false, fmt.Errorf("%w: %d", storage.ErrTimestampRange, timestamp)
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.store.advanceLocked(domain.CursorAdvance{
		ContractAddress: contract,
		EntityType:      entityType,
		Timestamp:       timestamp,
	}), nil
}

func (r *CursorRepo) Delete(ctx context.Context, contract common.Address, entityType domain.EntityType) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.cursors, domain.CursorKey{ContractAddress: contract, EntityType: entityType})
	return nil
}

// -----------------------------------------------------------------------------
// Unit of Work
// -----------------------------------------------------------------------------

type UnitOfWork struct {
	store *MemoryStorage
	ops   []func()
	done  bool
}

func (u *UnitOfWork) SaveMessages(ctx context.Context, msgs []*domain.Message) error {
	if u.done {
		return storage.ErrTxDone
	}
	for _, m := range msgs {
		m := m.Clone()
		u.ops = append(u.ops, func() { u.store.saveMessageLocked(m) })
	}
	return nil
}

func (u *UnitOfWork) SaveRequests(ctx context.Context, reqs []*domain.MessageTransferRequest) error {
	if u.done {
		return storage.ErrTxDone
	}
	for _, r := range reqs {
		r := r.Clone()
		u.ops = append(u.ops, func() { u.store.saveRequestLocked(r) })
	}
	return nil
}

func (u *UnitOfWork) AdvanceCursor(ctx context.Context, adv domain.CursorAdvance) error {
	if u.done {
		return storage.ErrTxDone
	}
	if adv.Timestamp > domain.MaxTimestamp {
		return fmt.Errorf("%w: %d", storage.ErrTimestampRange, adv.Timestamp)
	}
	u.ops = append(u.ops, func() { u.store.advanceLocked(adv) })
	return nil
}

func (u *UnitOfWork) Commit() error {
	if u.done {
		return storage.ErrTxDone
	}
	u.done = true
	u.store.mu.Lock()
	defer u.store.mu.Unlock()
	for _, op := range u.ops {
		op()
	}
	u.ops = nil
	return nil
}

func (u *UnitOfWork) Rollback() error {
	u.done = true
	u.ops = nil
	return nil
}

func (s *MemoryStorage) saveMessageLocked(m *domain.Message) {
	now := s.now()
	existing, ok := s.messages[m.MessageHash]
	if !ok {
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		m.UpdatedAt = now
		s.messages[m.MessageHash] = m
		return
	}
	if existing.Merge(m) {
		existing.UpdatedAt = now
	}
}

func (s *MemoryStorage) saveRequestLocked(r *domain.MessageTransferRequest) {
	now := s.now()
	existing, ok := s.requests[r.RequestHash]
	if !ok {
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		r.UpdatedAt = now
		s.requests[r.RequestHash] = r
		return
	}
	if r.MessageHash != nil && existing.Bind(*r.MessageHash) {
		existing.UpdatedAt = now
	}
}

func (s *MemoryStorage) advanceLocked(adv domain.CursorAdvance) bool {
	key := domain.CursorKey{ContractAddress: adv.ContractAddress, EntityType: adv.EntityType}
	c, ok := s.cursors[key]
	if ok && adv.Timestamp <= c.Timestamp {
		return false
	}
	s.cursors[key] = &domain.Cursor{
		ContractAddress: adv.ContractAddress,
		EntityType:      adv.EntityType,
		Timestamp:       adv.Timestamp,
		UpdatedAt:       s.now(),
	}
	return true
}
