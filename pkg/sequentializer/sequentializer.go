// Package sequentializer implements per-key FIFO middleware:
// invocations whose key sets overlap run strictly in arrival order;
// invocations with disjoint key sets run concurrently. Chaining happens on
// settle, not on success, so a failing invocation never poisons the
// invocations queued behind it.
package sequentializer

import (
	"sync"

	"github.com/armadaproject/botrunner/internal/common/runnercontext"
	"github.com/armadaproject/botrunner/pkg/update"
)

// Handler is the shape of the per-update handler this middleware wraps.
type Handler func(ctx *runnercontext.Context, u update.Update) error

// entry is the per-key chain state: tail is the settle channel of the most
// recently registered task for this key, and refcount is the number of
// live tasks still referencing it.
type entry struct {
	tail     chan struct{}
	refcount int
}

// Sequentializer serializes Run calls whose key sets intersect, while
// letting disjoint key sets proceed concurrently.
type Sequentializer struct {
	mu     sync.Mutex
	chains map[string]*entry
}

// New constructs an empty Sequentializer.
func New() *Sequentializer {
	return &Sequentializer{chains: make(map[string]*entry)}
}

// Run invokes next after waiting for every prior task that shares a key
// with keys to settle (resolve or error, it does not matter which), then
// returns next's error. Empty or duplicate keys are ignored; a call with
// no keys runs next immediately.
func (s *Sequentializer) Run(ctx *runnercontext.Context, keys []string, next func() error) error {
	unique := normalizeKeys(keys)
	if len(unique) == 0 {
		return next()
	}

	settle := make(chan struct{})
	barriers := s.register(unique, settle)

	for _, b := range barriers {
		<-b
	}

	err := next()

	s.release(unique)
	close(settle)

	return err
}

// Middleware wraps next so that updates whose keysFor-derived key sets
// overlap run strictly in arrival order, while disjoint-key updates still
// run concurrently through next.
func (s *Sequentializer) Middleware(keysFor func(update.Update) []string, next Handler) Handler {
	return func(ctx *runnercontext.Context, u update.Update) error {
		return s.Run(ctx, keysFor(u), func() error {
			return next(ctx, u)
		})
	}
}

func (s *Sequentializer) register(keys []string, settle chan struct{}) []chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	barriers := make([]chan struct{}, 0, len(keys))
	for _, k := range keys {
		e, ok := s.chains[k]
		if !ok {
			e = &entry{}
			s.chains[k] = e
		} else {
			barriers = append(barriers, e.tail)
		}
		e.tail = settle
		e.refcount++
	}
	return barriers
}

func (s *Sequentializer) release(keys []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		e, ok := s.chains[k]
		if !ok {
			continue
		}
		e.refcount--
		if e.refcount == 0 {
			delete(s.chains, k)
		}
	}
}

// Len reports the number of distinct keys with at least one live task
// referencing them. Intended for tests and diagnostics.
func (s *Sequentializer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chains)
}

func normalizeKeys(keys []string) []string {
	if len(keys) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}
