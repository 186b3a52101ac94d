package handler

import (
	"context"
	"log/slog"

	"github.com/vietddude/facilitator/internal/core/domain"
)

// ConfirmHandler handles intent confirmations on the target chain
// (stakeIntentConfirmeds, redeemIntentConfirmeds).
type ConfirmHandler struct {
	messageHandler
}

// NewConfirmHandler creates a target declaration handler.
func NewConfirmHandler(kind messageKind, repos Repositories, logger *slog.Logger) *ConfirmHandler {
	return &ConfirmHandler{messageHandler: newMessageHandler(kind, repos, logger)}
}

// Persist implements Handler.
func (h *ConfirmHandler) Persist(ctx context.Context, records []domain.EventRecord) (*Result, error) {
	return h.persist(ctx, records, fillConfirmation)
}

func fillConfirmation(m *domain.Message, r record) (bool, error) {
	lock, err := r.OptionalHash(fieldHashLock)
	if err != nil {
		return false, err
	}
	// _blockHeight is the source declaration height proven on the target.
	height, err := r.OptionalUint256(fieldBlockHeight)
	if err != nil {
		return false, err
	}
	changed := m.FillHashLock(lock)
	changed = m.FillDeclarationHeight(height) || changed
	return changed, nil
}
