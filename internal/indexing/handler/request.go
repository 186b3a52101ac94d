package handler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/facilitator/internal/core/domain"
	"github.com/vietddude/facilitator/internal/indexing/metrics"
	"github.com/vietddude/facilitator/internal/infra/storage"
)

// RequestHandler records stake and redeem requests made through a composer
// (stakeRequesteds, redeemRequesteds). A request whose message was declared
// before the request was indexed is bound here instead of by DeclareHandler.
type RequestHandler struct {
	kind     requestKind
	messages storage.MessageRepository
	requests storage.RequestRepository
	logger   *slog.Logger
}

// NewRequestHandler creates a request handler.
func NewRequestHandler(kind requestKind, repos Repositories, logger *slog.Logger) *RequestHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RequestHandler{
		kind:     kind,
		messages: repos.Messages,
		requests: repos.Requests,
		logger:   logger.With("component", "handler", "entity_type", string(kind.entity)),
	}
}

// Persist implements Handler.
func (h *RequestHandler) Persist(ctx context.Context, records []domain.EventRecord) (*Result, error) {
	if len(records) == 0 {
		return &Result{}, nil
	}
	sorted, err := sortRecords(records)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", h.kind.entity, err)
	}

	reqs := newRequestSet()
	known := make(map[common.Hash]bool)
	boundMessages := make(map[common.Hash]bool)

	for _, r := range sorted {
		metrics.RecordsHandled.WithLabelValues(string(h.kind.entity)).Inc()
		req, err := h.parse(r)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", h.kind.entity, err)
		}

		exists, ok := known[req.RequestHash]
		if !ok {
			stored, err := h.requests.Get(ctx, req.RequestHash)
			if err != nil {
				return nil, fmt.Errorf("failed to get request: %w", err)
			}
			exists = stored != nil
			known[req.RequestHash] = exists
		}
		if exists {
			metrics.StaleRecords.WithLabelValues(string(h.kind.entity)).Inc()
			h.logger.Debug("Duplicate request absorbed", "request_hash", req.RequestHash.Hex())
			continue
		}
		known[req.RequestHash] = true

		if err := h.bindDeclared(ctx, req, reqs, boundMessages); err != nil {
			return nil, err
		}
		reqs.put(req)
	}
	return &Result{Requests: reqs.result()}, nil
}

func (h *RequestHandler) parse(r record) (*domain.MessageTransferRequest, error) {
	req := &domain.MessageTransferRequest{RequestType: h.kind.msgType}
	var err error
	if req.Amount, err = r.Uint256(fieldAmount); err != nil {
		return nil, err
	}
	if req.Beneficiary, err = r.Address(fieldBeneficiary); err != nil {
		return nil, err
	}
	if req.GasPrice, err = r.Uint256(fieldGasPrice); err != nil {
		return nil, err
	}
	if req.GasLimit, err = r.Uint256(fieldGasLimit); err != nil {
		return nil, err
	}
	if req.Nonce, err = r.Uint256(fieldNonce); err != nil {
		return nil, err
	}
	if req.SenderProxy, err = r.Address(h.kind.proxy); err != nil {
		return nil, err
	}
	if req.Sender, err = r.OptionalAddress(h.kind.sender); err != nil {
		return nil, err
	}
	if req.Gateway, err = r.OptionalAddress(h.kind.gateway); err != nil {
		return nil, err
	}
	if req.RequestHash, err = r.OptionalHash(h.kind.hash); err != nil {
		return nil, err
	}
	if req.RequestHash == (common.Hash{}) {
		req.RequestHash = domain.NewRequestHash(
			req.RequestType, req.Amount, req.Beneficiary,
			req.GasPrice, req.GasLimit, req.Nonce,
			req.SenderProxy, req.Gateway,
		)
	}
	if r.block.IsUint64() {
		req.BlockNumber = r.block.Uint64()
	}
	return req, nil
}

// bindDeclared binds req to an already declared message for the same
// (proxy, nonce) unless some request for that pair is already bound or the
// message already has a request.
func (h *RequestHandler) bindDeclared(
	ctx context.Context,
	req *domain.MessageTransferRequest,
	reqs *requestSet,
	boundMessages map[common.Hash]bool,
) error {
	if h.messages == nil {
		return nil
	}
	candidates, err := h.requests.FindBySenderProxyAndNonce(ctx, req.SenderProxy, req.Nonce)
	if err != nil {
		return fmt.Errorf("failed to find requests: %w", err)
	}
	for _, c := range candidates {
		if reqs.overlay(c).Bound() {
			return nil
		}
	}
	for _, c := range reqs.byHash {
		if c.Bound() && c.SenderProxy == req.SenderProxy && c.Nonce.Eq(req.Nonce) {
			return nil
		}
	}

	msgs, err := h.messages.FindBySenderAndNonce(ctx, req.SenderProxy, req.Nonce)
	if err != nil {
		return fmt.Errorf("failed to find messages: %w", err)
	}
	for _, m := range msgs {
		if m.Type != req.RequestType || m.SourceStatus == domain.MessageStatusUndeclared || boundMessages[m.MessageHash] {
			continue
		}
		existing, err := h.requests.GetByMessageHash(ctx, m.MessageHash)
		if err != nil {
			return fmt.Errorf("failed to get request by message: %w", err)
		}
		if existing != nil {
			continue
		}
		req.Bind(m.MessageHash)
		boundMessages[m.MessageHash] = true
		metrics.RequestsBound.Inc()
		h.logger.Info("Request bound to declared message",
			"request_hash", req.RequestHash.Hex(),
			"message_hash", m.MessageHash.Hex(),
		)
		return nil
	}
	return nil
}
