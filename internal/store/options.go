package store

import (
	"time"

	"github.com/agentic-research/strata/internal/cache"
	"github.com/agentic-research/strata/internal/include"
)

type Option func(*config)

type config struct {
	loader     include.Loader
	includeKey string
	decoder    include.DecodeFunc
	cacheSize  int
	clock      func() time.Time
}

func applyOptions(opts []Option) config {
	cfg := config{
		includeKey: include.DefaultKey,
		cacheSize:  cache.DefaultSize,
		clock:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// WithLoader sets the capability used to resolve include markers. Without a
// loader every marker is logged and skipped.
func WithLoader(l include.Loader) Option {
	return func(cfg *config) {
		cfg.loader = l
	}
}

// WithIncludeKey overrides the reserved include marker property.
func WithIncludeKey(key string) Option {
	return func(cfg *config) {
		if key != "" {
			cfg.includeKey = key
		}
	}
}

// WithDecoder overrides how included resources are decoded.
func WithDecoder(fn include.DecodeFunc) Option {
	return func(cfg *config) {
		cfg.decoder = fn
	}
}

// WithCacheSize bounds the merge cache. Non-positive values keep the default.
func WithCacheSize(n int) Option {
	return func(cfg *config) {
		if n > 0 {
			cfg.cacheSize = n
		}
	}
}

// WithClock sets the time source for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(cfg *config) {
		if now != nil {
			cfg.clock = now
		}
	}
}
