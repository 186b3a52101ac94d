// Package control wires storage, handlers, the dispatcher and one ingestion
// pipeline per chain side into a running facilitator.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/vietddude/facilitator/internal/core/config"
	"github.com/vietddude/facilitator/internal/core/cursor"
	"github.com/vietddude/facilitator/internal/core/domain"
	"github.com/vietddude/facilitator/internal/indexing/dispatcher"
	"github.com/vietddude/facilitator/internal/indexing/emitter"
	"github.com/vietddude/facilitator/internal/indexing/handler"
	"github.com/vietddude/facilitator/internal/indexing/health"
	"github.com/vietddude/facilitator/internal/indexing/pipeline"
	"github.com/vietddude/facilitator/internal/indexing/recovery"
	"github.com/vietddude/facilitator/internal/infra/graph"
	redisclient "github.com/vietddude/facilitator/internal/infra/redis"
	"github.com/vietddude/facilitator/internal/infra/storage"
	"github.com/vietddude/facilitator/internal/infra/storage/memory"
	"github.com/vietddude/facilitator/internal/infra/storage/postgres"
)

// Facilitator is the main application struct that manages the pipeline lifecycle.
type Facilitator struct {
	cfg          Config
	store        storage.Store
	db           *postgres.DB
	redisClient  *redisclient.Client
	cursors      *cursor.DefaultManager
	emitter      emitter.Emitter
	pipelines    map[domain.ChainSide]*pipeline.Pipeline
	healthMon    *health.Monitor
	healthServer *health.Server
	grpcServer   *health.GRPCServer
	wg           sync.WaitGroup
	log          *slog.Logger
}

// Config holds the application configuration.
type Config struct {
	Port     int
	GRPCPort int
	Sides    config.SidesConfig
	Redis    redisclient.Config
	Database postgres.Config
	Notify   config.NotifyConfig
	Lease    config.LeaseConfig

	// Sources replaces the GraphQL client of a side.
	Sources map[domain.ChainSide]pipeline.Source
	Logger  *slog.Logger
}

// FromAppConfig maps the loaded file onto a Config.
func FromAppConfig(cfg *config.AppConfig) Config {
	return Config{
		Port:     cfg.Server.Port,
		GRPCPort: cfg.Server.GRPCPort,
		Sides:    cfg.Sides,
		Redis:    cfg.Redis,
		Database: cfg.Database,
		Notify:   cfg.Notify,
		Lease:    cfg.Lease,
	}
}

// OpenStore connects to postgres and migrates it, or returns the in-memory
// store when no database URL is configured.
func OpenStore(ctx context.Context, cfg postgres.Config) (storage.Store, *postgres.DB, error) {
	if cfg.URL == "" {
		slog.Info("Using in-memory storage")
		return memory.NewMemoryStorage(), nil, nil
	}
	db, err := postgres.NewDB(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init db: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to migrate db: %w", err)
	}
	slog.Info("Using PostgreSQL storage")
	return postgres.NewStore(db), db, nil
}

// NewFacilitator creates a new Facilitator instance with all dependencies initialized.
func NewFacilitator(ctx context.Context, cfg Config) (*Facilitator, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// 1. Initialize Storage
	store, db, err := OpenStore(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	f := &Facilitator{
		cfg:       cfg,
		store:     store,
		db:        db,
		cursors:   cursor.NewManager(store.Cursors()),
		pipelines: make(map[domain.ChainSide]*pipeline.Pipeline),
		log:       logger,
	}

	// 2. Redis for notifications and leases
	if cfg.Redis.URL != "" {
		f.redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			f.closeResources()
			return nil, err
		}
	}

	// 3. Notification sinks
	var sinks emitter.MultiEmitter
	if cfg.Notify.Log {
		sinks = append(sinks, emitter.NewLogEmitter(logger))
	}
	if f.redisClient != nil {
		sinks = append(sinks, redisclient.NewNotifier(f.redisClient, cfg.Notify.Channel))
	}
	if len(sinks) > 0 {
		f.emitter = sinks
	}

	// 4. Handlers and dispatcher
	registry, err := handler.DefaultRegistry(handler.Repositories{
		Messages: store.Messages(),
		Requests: store.Requests(),
	}, logger)
	if err != nil {
		f.closeResources()
		return nil, err
	}
	disp := dispatcher.New(dispatcher.Config{
		Registry: registry,
		Store:    store,
		Emitter:  f.emitter,
		Logger:   logger,
		Requests: store.Requests(),
	})

	// 5. One pipeline per side
	retry := recovery.DefaultBackoff(recovery.NewClassifier(postgres.IsTransient, graph.IsTransient))
	statuses := make(map[domain.ChainSide]health.StatusSource)
	for side, sc := range cfg.Sides.Each() {
		source := cfg.Sources[side]
		if source == nil {
			source = graph.NewClient(graph.Config{
				Side:              side,
				URL:               sc.GraphURL,
				FallbackURLs:      sc.FallbackURLs,
				SubscriptionURL:   sc.SubscriptionURL,
				RequestsPerSecond: sc.RequestsPerSecond,
				Timeout:           sc.Timeout,
				Logger:            logger,
			})
		}

		var subs []pipeline.Subscription
		for _, s := range sc.Streams(side) {
			subs = append(subs, pipeline.Subscription{Contract: s.Contract, EntityType: s.EntityType})
		}

		pcfg := pipeline.Config{
			Side:            side,
			Subscriptions:   subs,
			PageSize:        sc.PageSize,
			MaxBatchRecords: sc.MaxBatchRecords,
			PollInterval:    sc.PollInterval,
			Source:          source,
			Dispatcher:      disp,
			Cursors:         f.cursors,
			Retry:           retry,
			Logger:          logger,
		}
		if cfg.Lease.Enabled && f.redisClient != nil {
			pcfg.Lease = redisclient.NewLease(f.redisClient, side, cfg.Lease.TTL)
		}

		p := pipeline.New(pcfg)
		f.pipelines[side] = p
		statuses[side] = p
		logger.Info("Pipeline initialized", "side", side, "streams", len(subs))
	}
	if len(f.pipelines) == 0 {
		f.closeResources()
		return nil, errors.New("no chain side configured")
	}

	// 6. Health
	f.healthMon = health.NewMonitor(statuses, store, 5*time.Second)
	f.healthServer = health.NewServer(f.healthMon, cfg.Port)
	if cfg.GRPCPort > 0 {
		f.grpcServer = health.NewGRPCServer(f.healthMon, cfg.GRPCPort, 10*time.Second, logger)
	}

	return f, nil
}

// Store returns the backing store.
func (f *Facilitator) Store() storage.Store { return f.store }

// Pipeline returns the pipeline of side, or nil.
func (f *Facilitator) Pipeline(side domain.ChainSide) *pipeline.Pipeline { return f.pipelines[side] }

// Start starts the health servers and every pipeline.
func (f *Facilitator) Start(ctx context.Context) error {
	// Start Health Server
	go func() {
		if err := f.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			f.log.Error("Health server failed", "error", err)
		}
	}()
	if f.grpcServer != nil {
		go func() {
			if err := f.grpcServer.Start(ctx); err != nil {
				f.log.Error("gRPC health server failed", "error", err)
			}
		}()
	}

	// Start DB Metrics Collector
	if f.db != nil {
		f.db.StartMetricsCollector(ctx)
	}

	for side, p := range f.pipelines {
		f.log.Info("Starting pipeline", "side", side)
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			if err := p.Start(ctx); err != nil {
				f.log.Error("Pipeline failed", "side", side, "error", err)
			}
		}()
	}
	return nil
}

// Stop stops every pipeline after its current batch, then releases
// resources.
func (f *Facilitator) Stop(ctx context.Context) error {
	f.log.Info("Stopping Facilitator...")

	for _, p := range f.pipelines {
		p.Stop()
	}

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()
	var errs []error
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("pipelines did not stop: %w", ctx.Err()))
	}

	if f.grpcServer != nil {
		f.grpcServer.Stop()
	}
	if err := f.healthServer.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := f.closeResources(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (f *Facilitator) closeResources() error {
	var errs []error
	if f.emitter != nil {
		if err := f.emitter.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if f.redisClient != nil {
		if err := f.redisClient.Close(); err != nil {
			f.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if f.store != nil {
		if err := f.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
