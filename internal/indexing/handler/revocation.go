package handler

import (
	"context"
	"log/slog"

	"github.com/vietddude/facilitator/internal/core/domain"
)

// RevocationHandler handles the revocation branch on either side: declared
// reverts move a side to revocation_declared, completed reverts to revoked.
type RevocationHandler struct {
	messageHandler
}

// NewRevocationHandler creates a revocation handler.
func NewRevocationHandler(kind messageKind, repos Repositories, logger *slog.Logger) *RevocationHandler {
	return &RevocationHandler{messageHandler: newMessageHandler(kind, repos, logger)}
}

// Persist implements Handler.
func (h *RevocationHandler) Persist(ctx context.Context, records []domain.EventRecord) (*Result, error) {
	return h.persist(ctx, records, nil)
}
