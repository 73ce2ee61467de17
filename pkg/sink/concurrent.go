package sink

import (
	"github.com/armadaproject/botrunner/internal/common/runnercontext"
	"github.com/armadaproject/botrunner/pkg/decayingdeque"
	"github.com/armadaproject/botrunner/pkg/update"
)

// Concurrent is the default sink mode: Handle forwards the batch to a
// bounded DecayingDeque and returns its live capacity immediately,
// feeding backpressure to whoever drives this sink.
type Concurrent struct {
	base
}

// NewConcurrent constructs a Concurrent sink. opts.Concurrency defaults to
// 500 if unset.
func NewConcurrent(ctx *runnercontext.Context, opts Options) *Concurrent {
	limit := opts.Concurrency
	if limit <= 0 {
		limit = defaultConcurrentLimit
	}
	return &Concurrent{base{queue: decayingdeque.New(ctx, opts.queueConfig(limit))}}
}

// Handle forwards batch to the queue and returns its live capacity.
func (c *Concurrent) Handle(ctx *runnercontext.Context, batch update.Batch) update.Capacity {
	return c.queue.Add(ctx, batch)
}

var _ Sink = (*Concurrent)(nil)
