package config

import (
	"time"

	"github.com/vietddude/facilitator/internal/core/domain"
	redisclient "github.com/vietddude/facilitator/internal/infra/redis"
	"github.com/vietddude/facilitator/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Sides    SidesConfig        `yaml:"sides"`
	Redis    redisclient.Config `yaml:"redis"`
	Notify   NotifyConfig       `yaml:"notify"`
	Lease    LeaseConfig        `yaml:"lease"`
	Logging  LoggingConfig      `yaml:"logging"`
	Database postgres.Config    `yaml:"database"`
}

// ServerConfig holds HTTP and gRPC health server settings.
type ServerConfig struct {
	Port     int `yaml:"port"`
	GRPCPort int `yaml:"grpc_port"` // 0 = off
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// NotifyConfig selects downstream notification sinks.
type NotifyConfig struct {
	Log     bool   `yaml:"log"`
	Channel string `yaml:"channel"` // redis channel override
}

// LeaseConfig enables the per-side ingestion lease. Requires redis.
type LeaseConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
}

// SidesConfig holds the two chains of a gateway pair.
type SidesConfig struct {
	Origin    SideConfig `yaml:"origin"`
	Auxiliary SideConfig `yaml:"auxiliary"`
}

// Each returns the configured sides keyed by name. A side without a graph
// URL is left out.
func (s SidesConfig) Each() map[domain.ChainSide]SideConfig {
	out := make(map[domain.ChainSide]SideConfig, 2)
	if s.Origin.GraphURL != "" {
		out[domain.ChainSideOrigin] = s.Origin
	}
	if s.Auxiliary.GraphURL != "" {
		out[domain.ChainSideAuxiliary] = s.Auxiliary
	}
	return out
}

// SideConfig holds the indexer and ingestion settings of one side.
type SideConfig struct {
	GraphURL          string               `yaml:"graph_url"`
	FallbackURLs      []string             `yaml:"fallback_urls"`
	SubscriptionURL   string               `yaml:"subscription_url"`
	PollInterval      time.Duration        `yaml:"poll_interval"`
	PageSize          int                  `yaml:"page_size"`
	MaxBatchRecords   int                  `yaml:"max_batch_records"`
	RequestsPerSecond float64              `yaml:"requests_per_second"`
	Timeout           time.Duration        `yaml:"timeout"`
	Subscriptions     []SubscriptionConfig `yaml:"subscriptions"`
}

// SubscriptionConfig lists the event kinds read from one contract. An
// empty list means every kind of the side.
type SubscriptionConfig struct {
	Contract    string              `yaml:"contract"`
	EntityTypes []domain.EntityType `yaml:"entity_types"`
}
