package sink

import (
	"github.com/armadaproject/botrunner/internal/common/runnercontext"
	"github.com/armadaproject/botrunner/pkg/decayingdeque"
	"github.com/armadaproject/botrunner/pkg/update"
)

// Sequential processes updates one at a time, in order, over a DecayingDeque
// with limit 1: Add naturally blocks until the single in-flight update's
// slot frees before admitting the next one.
type Sequential struct {
	base
}

// NewSequential constructs a Sequential sink.
func NewSequential(ctx *runnercontext.Context, opts Options) *Sequential {
	return &Sequential{base{queue: decayingdeque.New(ctx, opts.queueConfig(1))}}
}

// Handle processes each update of batch in order and returns Unbounded.
func (s *Sequential) Handle(ctx *runnercontext.Context, batch update.Batch) update.Capacity {
	for _, u := range batch {
		s.queue.Add(ctx, update.Batch{u})
	}
	return update.Unbounded
}

var _ Sink = (*Sequential)(nil)
