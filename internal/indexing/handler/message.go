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

// applyFunc copies the kind-specific fields of rec into m.
// It reports whether m changed.
type applyFunc func(m *domain.Message, rec record) (bool, error)

// messageHandler is the shared read-modify loop of all message handlers.
type messageHandler struct {
	kind     messageKind
	messages storage.MessageRepository
	logger   *slog.Logger
}

func newMessageHandler(kind messageKind, repos Repositories, logger *slog.Logger) messageHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return messageHandler{
		kind:     kind,
		messages: repos.Messages,
		logger:   logger.With("component", "handler", "entity_type", string(kind.entity)),
	}
}

// touched is one record applied to its message.
type touched struct {
	rec record
	msg *domain.Message
}

// apply runs the records through the state machine in event-time order.
func (h *messageHandler) apply(
	ctx context.Context,
	records []domain.EventRecord,
	extra applyFunc,
) (*messageSet, []touched, error) {
	sorted, err := sortRecords(records)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", h.kind.entity, err)
	}

	hashes := make([]common.Hash, len(sorted))
	seen := make(map[common.Hash]bool, len(sorted))
	unique := make([]common.Hash, 0, len(sorted))
	for i, r := range sorted {
		hash, err := r.Hash(fieldMessageHash)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", h.kind.entity, err)
		}
		hashes[i] = hash
		if !seen[hash] {
			seen[hash] = true
			unique = append(unique, hash)
		}
	}

	stored, err := h.messages.GetMany(ctx, unique)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load messages: %w", err)
	}
	set := newMessageSet(stored)
	applied := make([]touched, 0, len(sorted))

	for i, r := range sorted {
		m, created := set.getOrCreate(hashes[i], h.kind)
		changed := created

		if m.Advance(h.kind.side, h.kind.status) {
			changed = true
			metrics.StatusTransitions.WithLabelValues(string(h.kind.side), string(h.kind.status)).Inc()
		}

		fieldsChanged, err := h.fillActor(m, r)
		if err != nil {
			return nil, nil, err
		}
		changed = fieldsChanged || changed

		if extra != nil {
			fieldsChanged, err = extra(m, r)
			if err != nil {
				return nil, nil, fmt.Errorf("%s: %w", h.kind.entity, err)
			}
			changed = fieldsChanged || changed
		}

		metrics.RecordsHandled.WithLabelValues(string(h.kind.entity)).Inc()
		if changed {
			set.markChanged(m.MessageHash)
		} else {
			metrics.StaleRecords.WithLabelValues(string(h.kind.entity)).Inc()
			h.logger.Debug("Stale event absorbed",
				"message_hash", m.MessageHash.Hex(),
				"side", h.kind.side,
				"status", m.Status(h.kind.side),
				"uts", r.uts,
			)
		}
		applied = append(applied, touched{rec: r, msg: m})
	}
	return set, applied, nil
}

// fillActor sets sender, nonce and transfer fields when the record has them.
func (h *messageHandler) fillActor(m *domain.Message, r record) (bool, error) {
	sender, err := r.OptionalAddress(h.kind.actor.sender)
	if err != nil {
		return false, fmt.Errorf("%s: %w", h.kind.entity, err)
	}
	nonce, err := r.OptionalUint256(h.kind.actor.nonce)
	if err != nil {
		return false, fmt.Errorf("%s: %w", h.kind.entity, err)
	}
	beneficiary, err := r.OptionalAddress(fieldBeneficiary)
	if err != nil {
		return false, fmt.Errorf("%s: %w", h.kind.entity, err)
	}
	amount, err := r.OptionalUint256(h.kind.amount)
	if err != nil {
		return false, fmt.Errorf("%s: %w", h.kind.entity, err)
	}
	changed := m.FillSender(sender, nonce)
	changed = m.FillTransfer(beneficiary, amount) || changed
	return changed, nil
}

func (h *messageHandler) persist(ctx context.Context, records []domain.EventRecord, extra applyFunc) (*Result, error) {
	if len(records) == 0 {
		return &Result{}, nil
	}
	set, _, err := h.apply(ctx, records, extra)
	if err != nil {
		return nil, err
	}
	return &Result{Messages: set.result()}, nil
}
