// Package dispatcher runs the handlers of one ingestion batch and commits
// their results together with the batch watermarks.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/facilitator/internal/core/domain"
	"github.com/vietddude/facilitator/internal/indexing/emitter"
	"github.com/vietddude/facilitator/internal/indexing/handler"
	"github.com/vietddude/facilitator/internal/indexing/metrics"
	"github.com/vietddude/facilitator/internal/infra/storage"
)

var (
	// ErrUnimplementedHandler is returned when a batch holds records of an
	// entity type without a registered handler. Nothing is run or written.
	ErrUnimplementedHandler = errors.New("unimplemented handler")
)

// Batch is one unit of ingestion: records grouped by entity type and the
// cursor positions to commit along with them.
type Batch struct {
	Side       domain.ChainSide
	Records    map[domain.EntityType][]domain.EventRecord
	Watermarks []domain.CursorAdvance
}

// Size returns the number of records in the batch.
func (b Batch) Size() int {
	n := 0
	for _, recs := range b.Records {
		n += len(recs)
	}
	return n
}

// Beginner starts units of work.
type Beginner interface {
	Begin(ctx context.Context) (storage.UnitOfWork, error)
}

// Config holds dispatcher dependencies.
type Config struct {
	Registry *handler.Registry
	Store    Beginner
	Emitter  emitter.Emitter // optional
	Logger   *slog.Logger

	// Requests enables matching of requests and declarations that arrive
	// in the same batch. Optional.
	Requests storage.RequestRepository
}

// Dispatcher fans a batch out to its handlers and commits the merged result.
type Dispatcher struct {
	registry *handler.Registry
	store    Beginner
	emitter  emitter.Emitter
	requests storage.RequestRepository
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a dispatcher.
func New(cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: cfg.Registry,
		store:    cfg.Store,
		emitter:  cfg.Emitter,
		requests: cfg.Requests,
		logger:   logger.With("component", "dispatcher"),
		now:      time.Now,
	}
}

// Handle processes a batch all-or-nothing: handler results, request bindings
// and watermarks are committed in one unit of work, or none of them are.
// The emitter runs after commit and its failure does not fail the call.
func (d *Dispatcher) Handle(ctx context.Context, batch Batch) (err error) {
	start := time.Now()
	side := string(batch.Side)
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		metrics.DispatchTotal.WithLabelValues(side, result).Inc()
		metrics.DispatchLatency.WithLabelValues(side).Observe(time.Since(start).Seconds())
	}()

	keys := make([]domain.EntityType, 0, len(batch.Records))
	for t := range batch.Records {
		keys = append(keys, t)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	handlers := make([]handler.Handler, len(keys))
	var missing []string
	for i, t := range keys {
		h, ok := d.registry.Get(t)
		if !ok {
			missing = append(missing, string(t))
			continue
		}
		handlers[i] = h
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", ErrUnimplementedHandler, missing)
	}
	if len(keys) == 0 && len(batch.Watermarks) == 0 {
		return nil
	}

	results := make([]*handler.Result, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	for i := range keys {
		g.Go(func() error {
			res, err := handlers[i].Persist(gctx, batch.Records[keys[i]])
			if err != nil {
				return fmt.Errorf("handler %s: %w", keys[i], err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	msgs, reqs := merge(results)
	if err := d.bindWithinBatch(ctx, msgs, reqs); err != nil {
		return err
	}
	batchID := uuid.NewString()
	if err := d.commit(ctx, msgs, reqs, batch.Watermarks); err != nil {
		return fmt.Errorf("batch %s: %w", batchID, err)
	}

	d.logger.Debug("Batch committed",
		"batch_id", batchID,
		"side", side,
		"records", batch.Size(),
		"messages", len(msgs),
		"requests", len(reqs),
		"watermarks", len(batch.Watermarks),
	)
	d.emit(ctx, batchID, batch.Side, msgs, reqs)
	return nil
}

func (d *Dispatcher) commit(
	ctx context.Context,
	msgs []*domain.Message,
	reqs []*domain.MessageTransferRequest,
	watermarks []domain.CursorAdvance,
) (err error) {
	uow, err := d.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin unit of work: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := uow.Rollback(); rbErr != nil {
				d.logger.Warn("Rollback failed", "error", rbErr)
			}
		}
	}()

	if err := uow.SaveMessages(ctx, msgs); err != nil {
		return err
	}
	if err := uow.SaveRequests(ctx, reqs); err != nil {
		return err
	}
	for _, w := range watermarks {
		if err := uow.AdvanceCursor(ctx, w); err != nil {
			return err
		}
	}
	if err := uow.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func (d *Dispatcher) emit(
	ctx context.Context,
	batchID string,
	side domain.ChainSide,
	msgs []*domain.Message,
	reqs []*domain.MessageTransferRequest,
) {
	if d.emitter == nil || len(msgs)+len(reqs) == 0 {
		return
	}
	changes := make([]domain.Change, 0, len(msgs)+len(reqs))
	for _, m := range msgs {
		changes = append(changes, domain.MessageChange(m))
	}
	for _, r := range reqs {
		changes = append(changes, domain.RequestChange(r))
	}
	n := emitter.Notification{
		BatchID:     batchID,
		Side:        side,
		Changes:     changes,
		CommittedAt: d.now(),
	}
	if err := d.emitter.Emit(ctx, n); err != nil {
		d.logger.Warn("Failed to emit changes", "batch_id", batchID, "error", err)
	}
}

// merge folds handler results by identity. Two handlers may return the same
// message when a batch carries several event kinds for one hash.
func merge(results []*handler.Result) ([]*domain.Message, []*domain.MessageTransferRequest) {
	var msgs []*domain.Message
	byHash := make(map[common.Hash]*domain.Message)
	var reqs []*domain.MessageTransferRequest
	byRequest := make(map[common.Hash]*domain.MessageTransferRequest)

	for _, res := range results {
		if res == nil {
			continue
		}
		for _, m := range res.Messages {
			if cur, ok := byHash[m.MessageHash]; ok {
				cur.Merge(m)
				continue
			}
			c := m.Clone()
			byHash[m.MessageHash] = c
			msgs = append(msgs, c)
		}
		for _, r := range res.Requests {
			if cur, ok := byRequest[r.RequestHash]; ok {
				if r.MessageHash != nil {
					cur.Bind(*r.MessageHash)
				}
				continue
			}
			c := r.Clone()
			byRequest[r.RequestHash] = c
			reqs = append(reqs, c)
		}
	}
	return msgs, reqs
}
