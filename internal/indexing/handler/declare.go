package handler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vietddude/facilitator/internal/core/domain"
	"github.com/vietddude/facilitator/internal/indexing/metrics"
	"github.com/vietddude/facilitator/internal/infra/storage"
)

// DeclareHandler handles intent declarations on the source chain
// (stakeIntentDeclareds, redeemIntentDeclareds). It also binds the pending
// request that produced the message.
type DeclareHandler struct {
	messageHandler
	requests storage.RequestRepository
}

// NewDeclareHandler creates a source declaration handler.
func NewDeclareHandler(kind messageKind, repos Repositories, logger *slog.Logger) *DeclareHandler {
	return &DeclareHandler{
		messageHandler: newMessageHandler(kind, repos, logger),
		requests:       repos.Requests,
	}
}

// Persist implements Handler.
func (h *DeclareHandler) Persist(ctx context.Context, records []domain.EventRecord) (*Result, error) {
	if len(records) == 0 {
		return &Result{}, nil
	}
	set, applied, err := h.apply(ctx, records, h.fill)
	if err != nil {
		return nil, err
	}

	reqs := newRequestSet()
	for _, t := range applied {
		if err := h.match(ctx, t, reqs); err != nil {
			return nil, err
		}
	}
	return &Result{Messages: set.result(), Requests: reqs.result()}, nil
}

func (h *DeclareHandler) fill(m *domain.Message, r record) (bool, error) {
	// Declarations always carry the actor, matching depends on it.
	if _, err := r.Address(h.kind.actor.sender); err != nil {
		return false, err
	}
	if _, err := r.Uint256(h.kind.actor.nonce); err != nil {
		return false, err
	}
	changed := m.FillGateway(r.contract)
	changed = m.FillDeclarationHeight(r.block) || changed
	return changed, nil
}

// match binds the oldest unbound request for the declaring (proxy, nonce).
// Nothing is bound when any request for that pair is already bound.
func (h *DeclareHandler) match(ctx context.Context, t touched, reqs *requestSet) error {
	if h.requests == nil {
		return nil
	}
	m := t.msg
	// The declared actor is the proxy contract the request went through.
	proxy, _ := t.rec.Address(h.kind.actor.sender)
	nonce, _ := t.rec.Uint256(h.kind.actor.nonce)

	candidates, err := h.requests.FindBySenderProxyAndNonce(ctx, proxy, nonce)
	if err != nil {
		return fmt.Errorf("failed to find requests: %w", err)
	}

	var pick *domain.MessageTransferRequest
	for _, c := range candidates {
		c = reqs.overlay(c)
		if c.Bound() {
			if *c.MessageHash != m.MessageHash {
				h.logger.Debug("Request already bound",
					"request_hash", c.RequestHash.Hex(),
					"bound_to", c.MessageHash.Hex(),
					"message_hash", m.MessageHash.Hex(),
				)
			}
			return nil
		}
		if pick == nil && c.RequestType == m.Type {
			pick = c
		}
	}
	if pick == nil {
		return nil
	}

	pick = pick.Clone()
	pick.Bind(m.MessageHash)
	reqs.put(pick)
	metrics.RequestsBound.Inc()
	h.logger.Info("Request bound to message",
		"request_hash", pick.RequestHash.Hex(),
		"message_hash", m.MessageHash.Hex(),
	)
	return nil
}
