// Package pipeline runs the ingestion loop of one chain side: wake on a
// source signal or poll tick, page every subscribed stream past its cursor,
// and dispatch what was read in bounded batches.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vietddude/facilitator/internal/core/cursor"
	"github.com/vietddude/facilitator/internal/core/domain"
	"github.com/vietddude/facilitator/internal/indexing/dispatcher"
	"github.com/vietddude/facilitator/internal/indexing/recovery"
)

var (
	// ErrAlreadyRunning is returned when Start is called twice.
	ErrAlreadyRunning = errors.New("pipeline already running")
)

// Dispatcher commits batches.
type Dispatcher interface {
	Handle(ctx context.Context, batch dispatcher.Batch) error
}

// Config holds pipeline configuration
type Config struct {
	Side          domain.ChainSide
	Subscriptions []Subscription
	PageSize      int
	// MaxBatchRecords caps the records of one batch; the rest is read by
	// the next batch without waiting for a tick.
	MaxBatchRecords int
	PollInterval    time.Duration
	Source          Source
	Dispatcher      Dispatcher
	Cursors         cursor.Manager
	Retry           recovery.RetryStrategy
	Lease           Lease // optional
	Logger          *slog.Logger
}

// Status is a snapshot of the loop.
type Status struct {
	Side        domain.ChainSide
	Running     bool
	LeaseHeld   bool
	Batches     uint64
	Records     uint64
	Failures    int
	LastBatchAt time.Time
	LastError   string
}

// Pipeline is the ingestion loop of one side.
type Pipeline struct {
	cfg     Config
	logger  *slog.Logger
	running atomic.Bool
	stop    chan struct{}
	once    sync.Once

	mu     sync.RWMutex
	status Status
}

// New creates a new pipeline
func New(cfg Config) *Pipeline {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.MaxBatchRecords <= 0 {
		cfg.MaxBatchRecords = 10 * cfg.PageSize
	}
	cfg.MaxBatchRecords = max(cfg.MaxBatchRecords, cfg.PageSize)
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.Retry == nil {
		cfg.Retry = recovery.DefaultBackoff(nil)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:    cfg,
		logger: logger.With("component", "pipeline", "side", string(cfg.Side)),
		stop:   make(chan struct{}),
		status: Status{Side: cfg.Side},
	}
}

// Start runs the loop until ctx is canceled or Stop is called. A batch in
// flight is always finished first.
func (p *Pipeline) Start(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer p.running.Store(false)
	defer p.releaseLease()

	p.logger.Info("Pipeline started",
		"subscriptions", len(p.cfg.Subscriptions),
		"page_size", p.cfg.PageSize,
		"max_batch_records", p.cfg.MaxBatchRecords,
		"poll_interval", p.cfg.PollInterval,
	)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	signals := p.subscribe(ctx)
	attempt := 0

	for {
		more, err := p.cycle(ctx)
		if err != nil {
			category := p.cfg.Retry.Classify(err)
			if category == recovery.CategoryCanceled || ctx.Err() != nil {
				return nil
			}
			delay := p.cfg.Retry.GetDelay(err, attempt)
			p.recordFailure(err)

			if p.cfg.Retry.ShouldRetry(err, attempt) {
				p.logger.Warn("Batch failed, retrying",
					"category", category, "attempt", attempt+1, "delay", delay, "error", err)
			} else {
				p.logger.Error("Batch failed, cursor kept",
					"category", category, "attempt", attempt+1, "delay", delay, "error", err)
			}
			attempt++

			select {
			case <-ctx.Done():
				return nil
			case <-p.stop:
				return nil
			case <-time.After(delay):
			}
			continue
		}
		attempt = 0

		if more {
			select {
			case <-ctx.Done():
				return nil
			case <-p.stop:
				p.logger.Info("Pipeline stopped")
				return nil
			default:
				continue
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-p.stop:
			p.logger.Info("Pipeline stopped")
			return nil
		case <-ticker.C:
			if signals == nil {
				signals = p.subscribe(ctx)
			}
		case _, ok := <-signals:
			if !ok {
				p.logger.Warn("Subscription closed, polling until resubscribed")
				signals = nil
			}
		}
	}
}

// Stop stops the pipeline after the current batch.
func (p *Pipeline) Stop() error {
	p.once.Do(func() { close(p.stop) })
	return nil
}

// GetStatus returns the current status
func (p *Pipeline) GetStatus() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s := p.status
	s.Running = p.running.Load()
	return s
}

// cycle runs one batch if this process holds the lease. It reports whether
// the batch was capped with records left to read.
func (p *Pipeline) cycle(ctx context.Context) (bool, error) {
	if p.cfg.Lease != nil {
		held, err := p.cfg.Lease.Acquire(ctx)
		if err != nil {
			return false, fmt.Errorf("failed to acquire lease: %w", err)
		}
		p.mu.Lock()
		p.status.LeaseHeld = held
		p.mu.Unlock()
		if !held {
			p.logger.Debug("Lease held by another process, skipping cycle")
			return false, nil
		}
	}
	_, more, err := p.RunOnce(ctx)
	return more, err
}

// RunOnce reads every subscription past its cursor and dispatches the
// records as one batch of at most MaxBatchRecords. It returns the number of
// records dispatched and whether records remain past the batch.
func (p *Pipeline) RunOnce(ctx context.Context) (int, bool, error) {
	batch, more, err := p.collect(ctx)
	if err != nil {
		return 0, false, err
	}
	n := batch.Size()
	if n == 0 {
		return 0, more, nil
	}

	if err := p.cfg.Dispatcher.Handle(ctx, batch); err != nil {
		return 0, false, fmt.Errorf("failed to dispatch batch: %w", err)
	}
	p.cfg.Cursors.Observe(batch.Watermarks)

	p.mu.Lock()
	p.status.Batches++
	p.status.Records += uint64(n)
	p.status.Failures = 0
	p.status.LastBatchAt = time.Now()
	p.status.LastError = ""
	p.mu.Unlock()

	p.logger.Info("Batch dispatched", "records", n, "watermarks", len(batch.Watermarks), "more", more)
	return n, more, nil
}

// collect reads subscriptions in order until the record budget is spent.
func (p *Pipeline) collect(ctx context.Context) (dispatcher.Batch, bool, error) {
	batch := dispatcher.Batch{
		Side:    p.cfg.Side,
		Records: make(map[domain.EntityType][]domain.EventRecord),
	}

	more := false
	budget := p.cfg.MaxBatchRecords
	for _, sub := range p.cfg.Subscriptions {
		if budget <= 0 {
			more = true
			break
		}
		since, err := p.cfg.Cursors.Timestamp(ctx, sub.Contract, sub.EntityType)
		if err != nil {
			return batch, false, err
		}

		records, watermark, capped, err := p.readStream(ctx, sub, since, budget)
		if err != nil {
			return batch, false, err
		}
		more = more || capped
		if len(records) == 0 {
			continue
		}
		budget -= len(records)

		batch.Records[sub.EntityType] = append(batch.Records[sub.EntityType], records...)
		if watermark > since {
			batch.Watermarks = append(batch.Watermarks, domain.CursorAdvance{
				ContractAddress: sub.Contract,
				EntityType:      sub.EntityType,
				Timestamp:       watermark,
			})
		}
	}
	return batch, more, nil
}

// readStream pages one stream past since until a short page or until limit
// records are read. A capped read drops the records sharing the highest uts
// so the watermark never passes records still waiting on the next page. A
// single uts group larger than limit is read whole.
func (p *Pipeline) readStream(
	ctx context.Context,
	sub Subscription,
	since uint64,
	limit int,
) ([]domain.EventRecord, uint64, bool, error) {
	var records []domain.EventRecord
	for skip := 0; ; {
		page, err := p.cfg.Source.Fetch(ctx, FetchRequest{
			Contract:   sub.Contract,
			EntityType: sub.EntityType,
			Since:      since,
			Skip:       skip,
			Limit:      p.cfg.PageSize,
		})
		if err != nil {
			return nil, since, false, fmt.Errorf("failed to fetch %s: %w", sub.EntityType, err)
		}
		records = append(records, page...)
		if len(page) < p.cfg.PageSize {
			watermark, err := highestUTS(records, since)
			if err != nil {
				return nil, since, false, fmt.Errorf("%s: %w", sub.EntityType, err)
			}
			return records, watermark, false, nil
		}
		skip += len(page)

		if len(records) >= limit {
			kept, watermark, err := dropLastGroup(records, since)
			if err != nil {
				return nil, since, false, fmt.Errorf("%s: %w", sub.EntityType, err)
			}
			if len(kept) > 0 {
				return kept, watermark, true, nil
			}
		}
	}
}

func highestUTS(records []domain.EventRecord, since uint64) (uint64, error) {
	watermark := since
	for _, r := range records {
		uts, err := r.UTS()
		if err != nil {
			return since, err
		}
		watermark = max(watermark, uts)
	}
	return watermark, nil
}

// dropLastGroup removes every record carrying the highest uts and returns
// the rest with their highest uts.
func dropLastGroup(records []domain.EventRecord, since uint64) ([]domain.EventRecord, uint64, error) {
	top, err := highestUTS(records, since)
	if err != nil {
		return nil, since, err
	}
	kept := make([]domain.EventRecord, 0, len(records))
	watermark := since
	for _, r := range records {
		uts, _ := r.UTS()
		if uts == top {
			continue
		}
		kept = append(kept, r)
		watermark = max(watermark, uts)
	}
	return kept, watermark, nil
}

func (p *Pipeline) subscribe(ctx context.Context) <-chan Signal {
	signals, err := p.cfg.Source.Subscribe(ctx, p.cfg.Side, p.cfg.Subscriptions)
	if err != nil {
		p.logger.Warn("Failed to subscribe, polling only", "error", err)
		return nil
	}
	return signals
}

func (p *Pipeline) recordFailure(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.Failures++
	p.status.LastError = err.Error()
}

func (p *Pipeline) releaseLease() {
	if p.cfg.Lease == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.cfg.Lease.Release(ctx); err != nil {
		p.logger.Warn("Failed to release lease", "error", err)
	}
}
