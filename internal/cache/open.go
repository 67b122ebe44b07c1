package cache

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Supported backends.
const (
	BackendBadger = "badger"
	BackendRedis  = "redis"
)

// Config selects and tunes the cache backend.
type Config struct {
	Backend          string        `mapstructure:"backend"`
	BadgerPath       string        `mapstructure:"badger_path"`
	RedisURL         string        `mapstructure:"redis_url"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	AnalyticsTTL     time.Duration `mapstructure:"analytics_ttl"`
	SignalTTL        time.Duration `mapstructure:"signal_ttl"`
	IndexWeightsTTL  time.Duration `mapstructure:"index_weights_ttl"`
	IndexLiveTTL     time.Duration `mapstructure:"index_live_ttl"`
	AlertStateTTL    time.Duration `mapstructure:"alert_state_ttl"`
}

// Open builds the configured backend.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", BackendBadger:
		return OpenBadger(cfg.BadgerPath)
	case BackendRedis:
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("cache.redis_url is required for the redis backend")
		}
		return OpenRedis(ctx, cfg.RedisURL)
	default:
		return nil, fmt.Errorf("unsupported cache backend %q", cfg.Backend)
	}
}

// TTLs resolves zero values to the package defaults. Alert state keeps its zero.
func (c Config) TTLs() Config {
	if c.AnalyticsTTL <= 0 {
		c.AnalyticsTTL = TTLAnalytics
	}
	if c.SignalTTL <= 0 {
		c.SignalTTL = TTLSignal
	}
	if c.IndexWeightsTTL <= 0 {
		c.IndexWeightsTTL = TTLIndexWeight
	}
	if c.IndexLiveTTL <= 0 {
		c.IndexLiveTTL = TTLIndexLive
	}
	if c.AlertStateTTL < 0 {
		c.AlertStateTTL = TTLAlertState
	}
	return c
}

// Ephemeral reports whether the configured store lives only as long as the
// process: badger without a directory.
func (c Config) Ephemeral() bool {
	switch strings.ToLower(c.Backend) {
	case "", BackendBadger:
		return strings.TrimSpace(c.BadgerPath) == ""
	default:
		return false
	}
}
