package handler

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/vietddude/facilitator/internal/core/domain"
)

// record is an event record with its ordering fields parsed.
type record struct {
	domain.EventRecord
	contract common.Address
	block    *uint256.Int
	uts      uint64
}

// sortRecords parses the common fields and orders records by (uts, block
// number). The sort is stable so records with equal keys keep batch order.
func sortRecords(records []domain.EventRecord) ([]record, error) {
	out := make([]record, 0, len(records))
	for _, r := range records {
		contract, err := r.ContractAddress()
		if err != nil {
			return nil, err
		}
		block, err := r.BlockNumber()
		if err != nil {
			return nil, err
		}
		uts, err := r.UTS()
		if err != nil {
			return nil, err
		}
		out = append(out, record{EventRecord: r, contract: contract, block: block, uts: uts})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].uts != out[j].uts {
			return out[i].uts < out[j].uts
		}
		return out[i].block.Lt(out[j].block)
	})
	return out, nil
}

// messageSet is the per-call working copy of the messages a handler touches.
type messageSet struct {
	byHash  map[common.Hash]*domain.Message
	changed map[common.Hash]bool
	order   []common.Hash
}

func newMessageSet(stored map[common.Hash]*domain.Message) *messageSet {
	return &messageSet{
		byHash:  stored,
		changed: make(map[common.Hash]bool),
	}
}

// getOrCreate returns the message for hash, creating it for kind when absent.
func (s *messageSet) getOrCreate(hash common.Hash, kind messageKind) (*domain.Message, bool) {
	if m, ok := s.byHash[hash]; ok {
		return m, false
	}
	m := domain.NewMessage(hash, kind.msgType, domain.DirectionOf(kind.msgType))
	s.byHash[hash] = m
	return m, true
}

func (s *messageSet) markChanged(hash common.Hash) {
	if s.changed[hash] {
		return
	}
	s.changed[hash] = true
	s.order = append(s.order, hash)
}

// result returns the changed messages in first-change order.
func (s *messageSet) result() []*domain.Message {
	out := make([]*domain.Message, 0, len(s.order))
	for _, h := range s.order {
		out = append(out, s.byHash[h])
	}
	return out
}

// requestSet is the per-call working copy of requests.
type requestSet struct {
	byHash  map[common.Hash]*domain.MessageTransferRequest
	changed []common.Hash
}

func newRequestSet() *requestSet {
	return &requestSet{byHash: make(map[common.Hash]*domain.MessageTransferRequest)}
}

// overlay returns the working copy of req if this call already has one.
func (s *requestSet) overlay(req *domain.MessageTransferRequest) *domain.MessageTransferRequest {
	if cur, ok := s.byHash[req.RequestHash]; ok {
		return cur
	}
	return req
}

func (s *requestSet) put(req *domain.MessageTransferRequest) {
	if _, ok := s.byHash[req.RequestHash]; !ok {
		s.changed = append(s.changed, req.RequestHash)
	}
	s.byHash[req.RequestHash] = req
}

func (s *requestSet) result() []*domain.MessageTransferRequest {
	out := make([]*domain.MessageTransferRequest, 0, len(s.changed))
	for _, h := range s.changed {
		out = append(out, s.byHash[h])
	}
	return out
}
