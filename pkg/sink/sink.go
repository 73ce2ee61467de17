// Package sink adapts a batch of updates onto a decayingdeque.DecayingDeque
// in one of three modes: sequential, batch, or concurrent.
package sink

import (
	"time"

	"k8s.io/apimachinery/pkg/util/clock"

	"github.com/armadaproject/botrunner/internal/common/runnercontext"
	"github.com/armadaproject/botrunner/pkg/decayingdeque"
	"github.com/armadaproject/botrunner/pkg/update"
)

// defaultConcurrentLimit is the Concurrent mode's default DecayingDeque
// limit.
const defaultConcurrentLimit = 500

// Sink is the common surface all three modes expose.
type Sink interface {
	// Handle processes a batch and returns the live capacity the sink is
	// now willing to accept (Unbounded for sequential and batch modes).
	Handle(ctx *runnercontext.Context, batch update.Batch) update.Capacity
	// Snapshot returns the updates currently in flight, in insertion
	// order.
	Snapshot() update.Batch
	// Size returns the number of updates currently in flight.
	Size() int
	// WaitEmpty blocks until no updates are in flight, or ctx is done.
	// The Runner uses this on stop to await in-flight handler work.
	WaitEmpty(ctx *runnercontext.Context) error
}

// Options configures any of the three sink modes.
type Options struct {
	// Concurrency bounds the Concurrent mode's DecayingDeque. Ignored by
	// Sequential and Batch. Default 500.
	Concurrency int
	// Timeout is the per-update deadline passed to the underlying
	// DecayingDeque. Zero disables timeouts.
	Timeout time.Duration
	// Consume is the user handler.
	Consume func(ctx *runnercontext.Context, u update.Update) error
	// ErrorHandler runs when Consume fails; its own error is reported
	// out-of-band by the DecayingDeque, never propagated here.
	ErrorHandler func(ctx *runnercontext.Context, err error, u update.Update) error
	// TimeoutHandler runs synchronously the moment an update's deadline
	// fires.
	TimeoutHandler func(u update.Update, task *decayingdeque.PendingTask)
	// Clock is injectable for deterministic tests.
	Clock clock.Clock
	// Name labels this sink's underlying queue's metrics.
	Name string
}

func (o Options) queueConfig(limit int) decayingdeque.Config {
	return decayingdeque.Config{
		Timeout:        o.Timeout,
		Limit:          limit,
		Consume:        o.Consume,
		ErrorHandler:   o.ErrorHandler,
		TimeoutHandler: o.TimeoutHandler,
		Clock:          o.Clock,
		Name:           o.Name,
	}
}

type base struct {
	queue *decayingdeque.DecayingDeque
}

func (b *base) Snapshot() update.Batch { return b.queue.PendingTasks() }

func (b *base) Size() int { return b.queue.Length() }

func (b *base) WaitEmpty(ctx *runnercontext.Context) error { return b.queue.WaitEmpty(ctx) }

// Close releases the sink's underlying queue resources.
func (b *base) Close() { b.queue.Close() }
