package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v2"

	"github.com/vietddude/facilitator/internal/core/domain"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) setDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Lease.TTL == 0 {
		c.Lease.TTL = 30 * time.Second
	}
	for _, side := range []*SideConfig{&c.Sides.Origin, &c.Sides.Auxiliary} {
		if side.PollInterval == 0 {
			side.PollInterval = 10 * time.Second
		}
		if side.PageSize == 0 {
			side.PageSize = 100
		}
		if side.MaxBatchRecords == 0 {
			side.MaxBatchRecords = 1000
		}
		if side.RequestsPerSecond == 0 {
			side.RequestsPerSecond = 5
		}
		if side.Timeout == 0 {
			side.Timeout = 30 * time.Second
		}
	}
}

// Validate rejects unknown entity types, event kinds on the wrong side and
// malformed contract addresses.
func (c *AppConfig) Validate() error {
	if len(c.Sides.Each()) == 0 {
		return fmt.Errorf("%w: no side has a graph_url", ErrInvalidConfig)
	}
	if c.Lease.Enabled && c.Redis.URL == "" {
		return fmt.Errorf("%w: lease requires redis.url", ErrInvalidConfig)
	}
	for side, sc := range c.Sides.Each() {
		if len(sc.Subscriptions) == 0 {
			return fmt.Errorf("%w: %s: no subscriptions", ErrInvalidConfig, side)
		}
		for _, sub := range sc.Subscriptions {
			if !common.IsHexAddress(sub.Contract) {
				return fmt.Errorf("%w: %s: bad contract address %q", ErrInvalidConfig, side, sub.Contract)
			}
			for _, et := range sub.EntityTypes {
				got, ok := et.ChainSide()
				if !ok {
					return fmt.Errorf("%w: %s: unknown entity type %q", ErrInvalidConfig, side, et)
				}
				if got != side {
					return fmt.Errorf("%w: %s: %s is emitted on %s", ErrInvalidConfig, side, et, got)
				}
			}
		}
	}
	return nil
}

// Streams expands a side's subscriptions into (contract, entity type)
// pairs. A subscription without entity types covers every kind of side.
func (s SideConfig) Streams(side domain.ChainSide) []Stream {
	var out []Stream
	for _, sub := range s.Subscriptions {
		types := sub.EntityTypes
		if len(types) == 0 {
			types = domain.EntityTypes(side)
		}
		for _, et := range types {
			out = append(out, Stream{Contract: common.HexToAddress(sub.Contract), EntityType: et})
		}
	}
	return out
}

// Stream is one ingested (contract, entity type) pair.
type Stream struct {
	Contract   common.Address
	EntityType domain.EntityType
}
