package cursor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/facilitator/internal/core/domain"
	"github.com/vietddude/facilitator/internal/indexing/metrics"
	"github.com/vietddude/facilitator/internal/infra/storage"
)

var (
	// ErrUnknownEntityType is returned for an entity type no handler knows.
	ErrUnknownEntityType = errors.New("unknown entity type")
)

// Manager handles cursor reads and out-of-band updates.
type Manager interface {
	// Get retrieves the cursor, or nil when the stream was never committed.
	Get(ctx context.Context, contract common.Address, entityType domain.EntityType) (*domain.Cursor, error)

	// Timestamp returns the watermark, zero when absent.
	Timestamp(ctx context.Context, contract common.Address, entityType domain.EntityType) (uint64, error)

	// Advance moves the cursor to ts if ts is strictly greater.
	Advance(ctx context.Context, contract common.Address, entityType domain.EntityType, ts uint64) (bool, error)

	// Reset deletes the cursor so the stream is re-ingested from zero.
	Reset(ctx context.Context, contract common.Address, entityType domain.EntityType) error

	// List returns all cursors.
	List(ctx context.Context) ([]*domain.Cursor, error)

	// Observe records advances committed elsewhere, e.g. inside a batch.
	Observe(advances []domain.CursorAdvance)

	// GetMetrics returns throughput for one stream.
	GetMetrics(key domain.CursorKey) Metrics
}

// DefaultManager implements Manager over a CursorRepository.
type DefaultManager struct {
	repo    storage.CursorRepository
	mu      sync.RWMutex
	history map[domain.CursorKey]*MetricsCollector
}

// Get retrieves the current cursor for a stream.
func (m *DefaultManager) Get(
	ctx context.Context,
	contract common.Address,
	entityType domain.EntityType,
) (*domain.Cursor, error) {
	c, err := m.repo.Get(ctx, contract, entityType)
	if err != nil {
		return nil, fmt.Errorf("failed to get cursor: %w", err)
	}
	return c, nil
}

// Timestamp returns the watermark for a stream.
func (m *DefaultManager) Timestamp(
	ctx context.Context,
	contract common.Address,
	entityType domain.EntityType,
) (uint64, error) {
	c, err := m.Get(ctx, contract, entityType)
	if err != nil {
		return 0, err
	}
	if c == nil {
		return 0, nil
	}
	return c.Timestamp, nil
}

// Advance moves the cursor forward outside of a batch.
func (m *DefaultManager) Advance(
	ctx context.Context,
	contract common.Address,
	entityType domain.EntityType,
	ts uint64,
) (bool, error) {
	if !entityType.Known() {
		return false, fmt.Errorf("%w: %s", ErrUnknownEntityType, entityType)
	}
	changed, err := m.repo.Advance(ctx, contract, entityType, ts)
	if err != nil {
		return false, fmt.Errorf("failed to advance cursor: %w", err)
	}
	if changed {
		m.Observe([]domain.CursorAdvance{{ContractAddress: contract, EntityType: entityType, Timestamp: ts}})
	}
	return changed, nil
}

// Reset deletes the cursor of a stream.
func (m *DefaultManager) Reset(ctx context.Context, contract common.Address, entityType domain.EntityType) error {
	if !entityType.Known() {
		return fmt.Errorf("%w: %s", ErrUnknownEntityType, entityType)
	}
	if err := m.repo.Delete(ctx, contract, entityType); err != nil {
		return fmt.Errorf("failed to reset cursor: %w", err)
	}

	key := domain.CursorKey{ContractAddress: contract, EntityType: entityType}
	m.mu.Lock()
	if collector, ok := m.history[key]; ok {
		collector.Reset()
	}
	m.mu.Unlock()
	metrics.CursorTimestamp.WithLabelValues(contract.Hex(), string(entityType)).Set(0)
	return nil
}

// List returns all cursors.
func (m *DefaultManager) List(ctx context.Context) ([]*domain.Cursor, error) {
	cursors, err := m.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list cursors: %w", err)
	}
	return cursors, nil
}

// Observe records committed advances.
func (m *DefaultManager) Observe(advances []domain.CursorAdvance) {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, adv := range advances {
		key := domain.CursorKey{ContractAddress: adv.ContractAddress, EntityType: adv.EntityType}
		collector, ok := m.history[key]
		if !ok {
			collector = NewMetricsCollector(100)
			m.history[key] = collector
		}
		collector.RecordAdvance(adv.Timestamp, now)
		metrics.CursorTimestamp.WithLabelValues(adv.ContractAddress.Hex(), string(adv.EntityType)).
			Set(float64(adv.Timestamp))
	}
}

// GetMetrics returns throughput for a stream.
func (m *DefaultManager) GetMetrics(key domain.CursorKey) Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if collector, ok := m.history[key]; ok {
		return collector.GetMetrics()
	}

	return Metrics{}
}
