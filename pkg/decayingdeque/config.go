package decayingdeque

import (
	"time"

	"k8s.io/apimachinery/pkg/util/clock"

	"github.com/armadaproject/botrunner/internal/common/runnercontext"
	"github.com/armadaproject/botrunner/pkg/update"
)

// Config holds the construction parameters for a DecayingDeque.
type Config struct {
	// Timeout is the per-task deadline. Zero or negative disables
	// timeouts entirely.
	Timeout time.Duration
	// Limit bounds the number of concurrently in-flight tasks. Zero or
	// negative means unbounded.
	Limit int
	// Consume runs one task. Its error return is routed to ErrorHandler.
	Consume func(ctx *runnercontext.Context, u update.Update) error
	// ErrorHandler is invoked when Consume returns a non-nil error, before
	// the task's slot is released. Its own error is logged, never
	// propagated.
	ErrorHandler func(ctx *runnercontext.Context, err error, u update.Update) error
	// TimeoutHandler is invoked synchronously, on the deque's own
	// goroutine, the moment a task's deadline fires. It must not block.
	TimeoutHandler func(u update.Update, task *PendingTask)
	// Clock is injectable for deterministic tests; defaults to the real
	// clock.
	Clock clock.Clock
	// Name labels this queue's metrics.
	Name string
}

func (c Config) withDefaults() Config {
	if c.ErrorHandler == nil {
		c.ErrorHandler = func(ctx *runnercontext.Context, err error, u update.Update) error { return nil }
	}
	if c.TimeoutHandler == nil {
		c.TimeoutHandler = func(u update.Update, task *PendingTask) {}
	}
	if c.Clock == nil {
		c.Clock = clock.RealClock{}
	}
	if c.Name == "" {
		c.Name = "default"
	}
	return c
}
