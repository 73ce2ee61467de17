package supplier

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/avast/retry-go"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/clock"

	"github.com/armadaproject/botrunner/internal/common/runnererrors"
	"github.com/armadaproject/botrunner/pkg/update"
)

// RetryInterval computes the delay before the nth (0-indexed) retry
// attempt of a Fetcher: attempt 0 is the wait after the first failure.
type RetryInterval func(attempt uint) time.Duration

// ExponentialInterval doubles start on every attempt: 100, 200, 400, ...
func ExponentialInterval(start time.Duration) RetryInterval {
	return func(attempt uint) time.Duration {
		d := start
		for i := uint(0); i < attempt; i++ {
			d *= 2
		}
		return d
	}
}

// QuadraticInterval grows start by a fixed step on every attempt: 100, 200, 300, ...
func QuadraticInterval(start time.Duration) RetryInterval {
	return func(attempt uint) time.Duration {
		return start + time.Duration(attempt)*start
	}
}

// FixedInterval always waits the same duration between attempts.
func FixedInterval(d time.Duration) RetryInterval {
	return func(attempt uint) time.Duration { return d }
}

// FetcherConfig configures the retry policy layered atop a Supplier.
type FetcherConfig struct {
	// MaxRetryTime bounds total time spent retrying a single Supply call,
	// measured from its first attempt. Default 15h.
	MaxRetryTime time.Duration
	// RetryInterval computes the backoff between attempts. Default
	// ExponentialInterval(100ms).
	RetryInterval RetryInterval
	// Silent suppresses the warning log emitted on each retry.
	Silent bool
	// Clock is injectable for deterministic tests.
	Clock clock.Clock
}

func (c FetcherConfig) withDefaults() FetcherConfig {
	if c.MaxRetryTime <= 0 {
		c.MaxRetryTime = 54_000_000 * time.Millisecond
	}
	if c.RetryInterval == nil {
		c.RetryInterval = ExponentialInterval(100 * time.Millisecond)
	}
	if c.Clock == nil {
		c.Clock = clock.RealClock{}
	}
	return c
}

// Fetcher wraps a Supplier with a configurable retry policy: exponential
// (or quadratic, or fixed) backoff; immediate, unretried failure on
// non-recoverable errors; a sleep-then-continue on rate-limit errors; and a
// hard ceiling on total time spent retrying.
type Fetcher struct {
	inner Supplier
	cfg   FetcherConfig
	log   *logrus.Entry
}

// NewFetcher wraps inner in the configured retry policy.
func NewFetcher(inner Supplier, cfg FetcherConfig) *Fetcher {
	return &Fetcher{
		inner: inner,
		cfg:   cfg.withDefaults(),
		log:   logrus.WithField("component", "fetcher"),
	}
}

func (f *Fetcher) Supply(ctx context.Context, offset int64, batchSize int) (update.Batch, error) {
	batchSize = clampBatchSize(batchSize)
	start := f.cfg.Clock.Now()

	var batch update.Batch
	var rateLimitSleep time.Duration

	var attempt uint

	err := retry.Do(
		func() error {
			if rateLimitSleep > 0 {
				d := rateLimitSleep
				rateLimitSleep = 0
				select {
				case <-f.cfg.Clock.After(d):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			b, err := f.inner.Supply(ctx, offset, batchSize)
			if err != nil {
				return err
			}
			batch = b
			return nil
		},
		retry.Context(ctx),
		// Effectively unbounded: RetryIf enforces MaxRetryTime instead.
		retry.Attempts(math.MaxUint32),
		retry.LastErrorOnly(true),
		retry.DelayType(func(n uint, err error, cfg *retry.Config) time.Duration {
			return f.cfg.RetryInterval(n)
		}),
		retry.RetryIf(func(err error) bool {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return false
			}
			var nonRecoverable *runnererrors.ErrNonRecoverable
			if errors.As(err, &nonRecoverable) {
				return false
			}
			var rateLimited *runnererrors.ErrRateLimited
			if errors.As(err, &rateLimited) {
				rateLimitSleep = rateLimited.RetryAfter
				return true
			}
			nextIn := f.cfg.RetryInterval(attempt)
			if f.cfg.Clock.Now().Add(nextIn).Sub(start) >= f.cfg.MaxRetryTime {
				return false
			}
			return true
		}),
		retry.OnRetry(func(n uint, err error) {
			attempt = n + 1
			if !f.cfg.Silent {
				f.log.WithError(err).Warnf("supply attempt %d failed, retrying", n+1)
			}
		}),
	)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "fetcher: supply failed after %d attempt(s)", attempt+1)
	}
	return batch, nil
}
