// Package cursor tracks the ingestion watermark for each (contract, entity type).
//
// # Purpose
//
// A cursor remembers the greatest uts already committed for one event
// stream, so ingestion resumes with uts_gt = cursor after a restart.
//
// # Key Features
//
// Monotonic - Advance is a no-op unless the new timestamp is strictly
// greater than the stored one. Replays and racing writers never move a
// cursor back.
//
// Operator reset - Reset removes a cursor so the stream is re-ingested from
// zero. Handlers are idempotent, so replaying is safe.
//
// Throughput - The manager keeps a short window of committed advances per
// key and reports advances per second.
//
// # Quick Start
//
//	manager := cursor.NewManager(store.Cursors())
//
//	ts, _ := manager.Timestamp(ctx, gateway, domain.EntityStakeProgressed)
//	// fetch records with uts > ts, dispatch them, then
//	manager.Observe(advances)
//
// # Package Structure
//
//   - manager.go - Manager implementation
//   - metrics.go - Throughput window per key
package cursor

import (
	"github.com/vietddude/facilitator/internal/core/domain"
	"github.com/vietddude/facilitator/internal/infra/storage"
)

// Cursor represents the watermark of one event stream.
type Cursor = domain.Cursor

// NewManager creates a new cursor manager with the given repository.
func NewManager(repo storage.CursorRepository) *DefaultManager {
	return &DefaultManager{
		repo:    repo,
		history: make(map[domain.CursorKey]*MetricsCollector),
	}
}

// NewMetricsCollector creates a new metrics collector with the given window size.
func NewMetricsCollector(windowSize int) *MetricsCollector {
	if windowSize <= 0 {
		windowSize = 100
	}
	return &MetricsCollector{
		windowSize: windowSize,
		advances:   make([]advanceRecord, 0, windowSize),
	}
}
