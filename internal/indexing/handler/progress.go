package handler

import (
	"context"
	"log/slog"

	"github.com/vietddude/facilitator/internal/core/domain"
)

// ProgressHandler handles progress on the source chain
// (stakeProgresseds, redeemProgresseds). Progress may arrive before the
// declaration, in which case the message is created already progressed.
type ProgressHandler struct {
	messageHandler
}

// NewProgressHandler creates a source progress handler.
func NewProgressHandler(kind messageKind, repos Repositories, logger *slog.Logger) *ProgressHandler {
	return &ProgressHandler{messageHandler: newMessageHandler(kind, repos, logger)}
}

// Persist implements Handler.
func (h *ProgressHandler) Persist(ctx context.Context, records []domain.EventRecord) (*Result, error) {
	return h.persist(ctx, records, fillSecret)
}

// TargetProgressHandler handles progress on the target chain
// (mintProgresseds, unstakeProgresseds).
type TargetProgressHandler struct {
	messageHandler
}

// NewTargetProgressHandler creates a target progress handler.
func NewTargetProgressHandler(kind messageKind, repos Repositories, logger *slog.Logger) *TargetProgressHandler {
	return &TargetProgressHandler{messageHandler: newMessageHandler(kind, repos, logger)}
}

// Persist implements Handler.
func (h *TargetProgressHandler) Persist(ctx context.Context, records []domain.EventRecord) (*Result, error) {
	return h.persist(ctx, records, fillSecret)
}

func fillSecret(m *domain.Message, r record) (bool, error) {
	secret, err := r.OptionalHash(fieldUnlockSecret)
	if err != nil {
		return false, err
	}
	return m.FillSecret(secret), nil
}
