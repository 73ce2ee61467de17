package source

import (
	"context"
	"time"

	"k8s.io/apimachinery/pkg/util/clock"
)

// Config holds the construction parameters for a Source.
type Config struct {
	// SpeedTrafficBalance trades latency for reduced call volume, in
	// [0,1]; values outside that range are clamped. Default 0 (always
	// hot, no backoff).
	SpeedTrafficBalance float64
	// MaxDelayMilliseconds hard-caps the inter-batch pacing wait.
	// Default 500.
	MaxDelayMilliseconds int
	// Init runs once per Start (including the one New performs), before
	// the first Supply call after it, for one-shot handshake-style setup.
	// May be nil.
	Init func(ctx context.Context) error
	// DedupeCacheSize bounds a defensive LRU of recently seen update_ids,
	// guarding against a misbehaving remote that violates its own
	// monotonicity guarantee. Zero disables the cache.
	DedupeCacheSize int
	// Clock is injectable for deterministic tests.
	Clock clock.Clock
	// Name labels this source's metrics. Default "default".
	Name string
}

func (c Config) withDefaults() Config {
	if c.SpeedTrafficBalance < 0 {
		c.SpeedTrafficBalance = 0
	}
	if c.SpeedTrafficBalance > 1 {
		c.SpeedTrafficBalance = 1
	}
	if c.MaxDelayMilliseconds <= 0 {
		c.MaxDelayMilliseconds = 500
	}
	if c.Clock == nil {
		c.Clock = clock.RealClock{}
	}
	if c.Name == "" {
		c.Name = "default"
	}
	return c
}

func (c Config) maxDelay() time.Duration {
	return time.Duration(c.MaxDelayMilliseconds) * time.Millisecond
}
