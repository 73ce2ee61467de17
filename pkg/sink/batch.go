package sink

import (
	"github.com/armadaproject/botrunner/internal/common/runnercontext"
	"github.com/armadaproject/botrunner/pkg/decayingdeque"
	"github.com/armadaproject/botrunner/pkg/update"
)

// Batch processes every update of one batch concurrently, over an
// unbounded DecayingDeque, but Handle does not return until the whole
// batch has drained.
type Batch struct {
	base
}

// NewBatch constructs a Batch sink.
func NewBatch(ctx *runnercontext.Context, opts Options) *Batch {
	return &Batch{base{queue: decayingdeque.New(ctx, opts.queueConfig(0))}}
}

// Handle admits batch, waits for it to fully drain, then returns Unbounded.
func (b *Batch) Handle(ctx *runnercontext.Context, batch update.Batch) update.Capacity {
	b.queue.Add(ctx, batch)
	_ = b.queue.WaitEmpty(ctx)
	return update.Unbounded
}

var _ Sink = (*Batch)(nil)
