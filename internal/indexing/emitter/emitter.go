// Package emitter delivers change notices for committed batches to
// downstream consumers such as a transaction submitter.
package emitter

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/vietddude/facilitator/internal/core/domain"
)

// Notification lists what one committed batch changed.
type Notification struct {
	BatchID     string           `json:"batch_id"`
	Side        domain.ChainSide `json:"side"`
	Changes     []domain.Change  `json:"changes"`
	CommittedAt time.Time        `json:"committed_at"`
}

// Emitter defines the interface for publishing change notices.
// Emit is called only after the batch committed.
type Emitter interface {
	// Emit sends the notification for one batch
	Emit(ctx context.Context, n Notification) error

	// Close closes the emitter connection
	Close() error
}

// LogEmitter writes notifications to a logger.
type LogEmitter struct {
	logger *slog.Logger
}

// NewLogEmitter creates an emitter that logs every change.
func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{logger: logger.With("component", "emitter")}
}

func (e *LogEmitter) Emit(ctx context.Context, n Notification) error {
	for _, c := range n.Changes {
		attrs := []any{
			"batch_id", n.BatchID,
			"side", n.Side,
			"kind", c.Kind,
			"id", c.ID.Hex(),
		}
		if c.Kind == domain.ChangeKindMessage {
			attrs = append(attrs, "source_status", c.SourceStatus, "target_status", c.TargetStatus)
		} else if c.MessageHash != nil {
			attrs = append(attrs, "message_hash", c.MessageHash.Hex())
		}
		e.logger.Info("Entity changed", attrs...)
	}
	return nil
}

func (e *LogEmitter) Close() error { return nil }

// MultiEmitter fans a notification out to several emitters. Every emitter
// is called even when an earlier one fails.
type MultiEmitter []Emitter

func (m MultiEmitter) Emit(ctx context.Context, n Notification) error {
	var errs []error
	for _, e := range m {
		if err := e.Emit(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiEmitter) Close() error {
	var errs []error
	for _, e := range m {
		if err := e.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
