package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/facilitator/internal/core/domain"
	"github.com/vietddude/facilitator/internal/indexing/pipeline"
)

// StatusSource reports the state of one ingestion loop.
type StatusSource interface {
	GetStatus() pipeline.Status
}

// StorageChecker pings the backing store.
type StorageChecker interface {
	Health(ctx context.Context) error
}

// Thresholds for consecutive batch failures.
const (
	degradedFailures = 1
	criticalFailures = 5
)

// Monitor aggregates health status from the pipelines and the store.
type Monitor struct {
	sides       map[domain.ChainSide]StatusSource
	store       StorageChecker
	minInterval time.Duration
	lastCheck   time.Time
	lastReport  *HealthReport
	mu          sync.Mutex
}

// NewMonitor creates a new health monitor. Reports are cached for
// minInterval.
func NewMonitor(sides map[domain.ChainSide]StatusSource, store StorageChecker, minInterval time.Duration) *Monitor {
	return &Monitor{
		sides:       sides,
		store:       store,
		minInterval: minInterval,
	}
}

// Sides returns the monitored sides in a stable order.
func (m *Monitor) Sides() []domain.ChainSide {
	out := make([]domain.ChainSide, 0, len(m.sides))
	for side := range m.sides {
		out = append(out, side)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CheckHealth builds a report of every side and the store.
func (m *Monitor) CheckHealth(ctx context.Context) HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastReport != nil && time.Since(m.lastCheck) < m.minInterval {
		return *m.lastReport
	}

	report := HealthReport{
		SystemStatus: StatusHealthy,
		Storage:      StatusHealthy,
		Sides:        make(map[string]SideHealth, len(m.sides)),
	}

	if m.store != nil {
		if err := m.store.Health(ctx); err != nil {
			report.Storage = StatusCritical
			report.StorageError = err.Error()
		}
	}
	report.SystemStatus = worse(report.SystemStatus, report.Storage)

	for side, src := range m.sides {
		st := src.GetStatus()
		h := SideHealth{
			Side:      string(side),
			Status:    StatusHealthy,
			Running:   st.Running,
			LeaseHeld: st.LeaseHeld,
			Failures:  st.Failures,
			LastError: st.LastError,
			Batches:   st.Batches,
			Records:   st.Records,
		}
		if !st.LastBatchAt.IsZero() {
			at := st.LastBatchAt
			h.LastBatchAt = &at
		}

		switch {
		case !st.Running || st.Failures >= criticalFailures:
			h.Status = StatusCritical
		case st.Failures >= degradedFailures:
			h.Status = StatusDegraded
		}

		report.Sides[string(side)] = h
		report.SystemStatus = worse(report.SystemStatus, h.Status)
	}

	m.lastCheck = time.Now()
	m.lastReport = &report
	return report
}
