// Package decayingdeque implements a bounded-concurrency task queue: an
// insertion-ordered deque of in-flight tasks that self-expire at a fixed
// deadline and report live capacity back to whoever is feeding it.
//
// All mutable state (the node list, the capacity waiters, the timer) lives
// on a single goroutine reached only through channels, so no lock is
// needed.
package decayingdeque

import (
	"container/list"
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/armadaproject/botrunner/internal/common/metrics"
	"github.com/armadaproject/botrunner/internal/common/runnercontext"
	"github.com/armadaproject/botrunner/pkg/update"
)

type node struct {
	seq            uint64
	u              update.Update
	deadline       time.Time // zero value means no deadline
	awaitingHandle bool      // true while its errorHandler is still running
}

type settleKind int

const (
	settleConsume settleKind = iota
	settleErrorHandler
)

type taskSettle struct {
	seq  uint64
	kind settleKind
	err  error
}

type addRequest struct {
	updates  update.Batch
	resultCh chan update.Capacity
}

// DecayingDeque is a bounded-concurrency task queue with per-task timeout
// expiry. See the package doc.
type DecayingDeque struct {
	ctx *runnercontext.Context
	cfg Config

	addCh      chan addRequest
	settleCh   chan taskSettle
	snapshotCh chan chan update.Batch
	lengthCh   chan chan int
	drainCh    chan chan struct{}
	stopCh     chan struct{}
	stoppedCh  chan struct{}
}

// New constructs a DecayingDeque and starts its event loop. ctx is handed
// to every Consume/ErrorHandler call; cancelling it is the caller's way to
// ask in-flight tasks to abort (the deque itself never cancels them).
func New(ctx *runnercontext.Context, cfg Config) *DecayingDeque {
	cfg = cfg.withDefaults()
	q := &DecayingDeque{
		ctx:        ctx,
		cfg:        cfg,
		addCh:      make(chan addRequest),
		settleCh:   make(chan taskSettle),
		snapshotCh: make(chan chan update.Batch),
		lengthCh:   make(chan chan int),
		drainCh:    make(chan chan struct{}),
		stopCh:     make(chan struct{}),
		stoppedCh:  make(chan struct{}),
	}
	go q.loop()
	return q
}

// Close stops the queue's event loop. In-flight Consume goroutines that
// have not yet settled are abandoned (their eventual send to settleCh is
// dropped); callers that need them to finish should cancel their own
// context and rely on Consume to respect it.
func (q *DecayingDeque) Close() {
	close(q.stopCh)
	<-q.stoppedCh
}

// Add appends updates to the deque, launches their Consume tasks, and
// blocks until a positive capacity is known (or returns immediately for
// unbounded queues). Multiple concurrent callers are admitted in FIFO
// order of arrival at the internal event loop.
//
// If ctx is done before capacity resolves, Add returns early with the
// queue's configured Limit as a best-effort capacity estimate; the added
// tasks remain enqueued and still run to completion.
func (q *DecayingDeque) Add(ctx *runnercontext.Context, updates update.Batch) update.Capacity {
	resultCh := make(chan update.Capacity, 1)
	select {
	case q.addCh <- addRequest{updates: updates, resultCh: resultCh}:
	case <-q.stoppedCh:
		return update.Unbounded
	}
	select {
	case c := <-resultCh:
		return c
	case <-ctx.Done():
		return update.Capacity(q.cfg.Limit)
	case <-q.stoppedCh:
		return update.Unbounded
	}
}

// PendingTasks returns the updates of all nodes currently enqueued, in
// insertion order, without mutating the deque.
func (q *DecayingDeque) PendingTasks() update.Batch {
	respCh := make(chan update.Batch, 1)
	select {
	case q.snapshotCh <- respCh:
	case <-q.stoppedCh:
		return nil
	}
	return <-respCh
}

// Length returns the number of live nodes.
func (q *DecayingDeque) Length() int {
	respCh := make(chan int, 1)
	select {
	case q.lengthCh <- respCh:
	case <-q.stoppedCh:
		return 0
	}
	return <-respCh
}

// WaitEmpty blocks until the queue has no live nodes, or ctx is done, or
// the queue itself is closed. It is how a caller (a batch-draining Sink,
// or a Runner awaiting in-flight work on stop) observes completion of
// everything currently enqueued.
func (q *DecayingDeque) WaitEmpty(ctx *runnercontext.Context) error {
	respCh := make(chan struct{})
	select {
	case q.drainCh <- respCh:
	case <-q.stoppedCh:
		return nil
	}
	select {
	case <-respCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.stoppedCh:
		return nil
	}
}

// reportSweepErrors waits for every task swept out by a single timeout
// sweep to settle, and logs their failures as one combined error rather
// than one line per straggler.
func (q *DecayingDeque) reportSweepErrors(swept []*PendingTask) {
	var result *multierror.Error
	for _, pt := range swept {
		result = multierror.Append(result, pt.Wait())
	}
	if err := result.ErrorOrNil(); err != nil {
		q.ctx.Log.WithField("queue", q.cfg.Name).
			WithField("timed_out", len(swept)).
			Warnf("decaying deque: %d late tasks resolved with errors after timeout sweep: %v", len(result.Errors), err)
	}
}

func (q *DecayingDeque) loop() {
	defer close(q.stoppedCh)

	nodes := list.New()
	byID := map[uint64]*list.Element{}
	late := map[uint64]*PendingTask{}
	var waiters []chan update.Capacity
	var drainWaiters []chan struct{}
	var nextSeq uint64
	var timerC <-chan time.Time

	setSize := func() { metrics.QueueSize.WithLabelValues(q.cfg.Name).Set(float64(nodes.Len())) }

	// oldestActive finds the earliest-deadline node that is not currently
	// stuck awaiting its error handler. Such nodes hold their slot but
	// are no longer subject to the timeout sweep.
	oldestActive := func() *node {
		for el := nodes.Front(); el != nil; el = el.Next() {
			if n := el.Value.(*node); !n.awaitingHandle {
				return n
			}
		}
		return nil
	}

	armTimer := func() {
		if q.cfg.Timeout <= 0 {
			timerC = nil
			return
		}
		oldest := oldestActive()
		if oldest == nil {
			timerC = nil
			return
		}
		d := oldest.deadline.Sub(q.cfg.Clock.Now())
		if d < 0 {
			d = 0
		}
		timerC = q.cfg.Clock.After(d)
	}

	wakeWaiters := func() {
		if q.cfg.Limit <= 0 || len(waiters) == 0 {
			return
		}
		free := q.cfg.Limit - nodes.Len()
		if free <= 0 {
			return
		}
		for _, w := range waiters {
			w <- update.Capacity(free)
		}
		waiters = waiters[:0]
	}

	wakeDrainWaiters := func() {
		if nodes.Len() != 0 || len(drainWaiters) == 0 {
			return
		}
		for _, w := range drainWaiters {
			close(w)
		}
		drainWaiters = drainWaiters[:0]
	}

	startConsume := func(n *node) {
		go func() {
			err := q.cfg.Consume(q.ctx, n.u)
			select {
			case q.settleCh <- taskSettle{seq: n.seq, kind: settleConsume, err: err}:
			case <-q.stopCh:
			}
		}()
	}

	runErrorHandler := func(n *node, consumeErr error) {
		go func() {
			handlerErr := q.cfg.ErrorHandler(q.ctx, consumeErr, n.u)
			if handlerErr != nil {
				fmt.Fprintf(os.Stderr, "--- decaying deque %q: errorHandler itself failed ---\nupdate: %v\nconsume error: %v\nhandler error: %v\n", q.cfg.Name, n.u, consumeErr, handlerErr)
			}
			select {
			case q.settleCh <- taskSettle{seq: n.seq, kind: settleErrorHandler}:
			case <-q.stopCh:
			}
		}()
	}

	for {
		select {
		case req := <-q.addCh:
			for _, u := range req.updates {
				nextSeq++
				n := &node{seq: nextSeq, u: u}
				if q.cfg.Timeout > 0 {
					n.deadline = q.cfg.Clock.Now().Add(q.cfg.Timeout)
				}
				byID[n.seq] = nodes.PushBack(n)
				startConsume(n)
			}
			setSize()
			armTimer()
			if q.cfg.Limit <= 0 {
				req.resultCh <- update.Unbounded
				continue
			}
			if free := q.cfg.Limit - nodes.Len(); free > 0 {
				req.resultCh <- update.Capacity(free)
			} else {
				waiters = append(waiters, req.resultCh)
			}

		case s := <-q.settleCh:
			switch s.kind {
			case settleConsume:
				el, ok := byID[s.seq]
				if !ok {
					// Already purged by the timeout sweep: this is the
					// task's eventual late resolution.
					if pt, ok := late[s.seq]; ok {
						delete(late, s.seq)
						pt.resolve(s.err)
					}
					continue
				}
				n := el.Value.(*node)
				if s.err == nil {
					nodes.Remove(el)
					delete(byID, s.seq)
					metrics.TasksCompleted.WithLabelValues(q.cfg.Name).Inc()
					setSize()
					armTimer()
					wakeWaiters()
					wakeDrainWaiters()
					continue
				}
				// Keep the node's slot occupied, and in place (deadline
				// order among the remaining active nodes must not shift),
				// until the error handler resolves.
				n.awaitingHandle = true
				runErrorHandler(n, s.err)

			case settleErrorHandler:
				if el, ok := byID[s.seq]; ok {
					nodes.Remove(el)
					delete(byID, s.seq)
				}
				metrics.TasksErrored.WithLabelValues(q.cfg.Name).Inc()
				setSize()
				armTimer()
				wakeWaiters()
				wakeDrainWaiters()
			}

		case <-timerC:
			now := q.cfg.Clock.Now()
			var swept []*PendingTask
			for el := nodes.Front(); el != nil; {
				next := el.Next()
				n := el.Value.(*node)
				if n.awaitingHandle {
					el = next
					continue
				}
				if n.deadline.IsZero() || n.deadline.After(now) {
					break
				}
				nodes.Remove(el)
				delete(byID, n.seq)
				pt := newPendingTask()
				late[n.seq] = pt
				swept = append(swept, pt)
				q.cfg.TimeoutHandler(n.u, pt)
				metrics.TasksTimedOut.WithLabelValues(q.cfg.Name).Inc()
				el = next
			}
			if len(swept) > 1 {
				// A single blocked event loop can miss many deadlines at
				// once; report their eventual late failures as one combined
				// error instead of one log line per straggler.
				go q.reportSweepErrors(swept)
			}
			setSize()
			armTimer()
			wakeWaiters()
			wakeDrainWaiters()

		case respCh := <-q.snapshotCh:
			batch := make(update.Batch, 0, nodes.Len())
			for el := nodes.Front(); el != nil; el = el.Next() {
				batch = append(batch, el.Value.(*node).u)
			}
			respCh <- batch

		case respCh := <-q.lengthCh:
			respCh <- nodes.Len()

		case respCh := <-q.drainCh:
			if nodes.Len() == 0 {
				close(respCh)
			} else {
				drainWaiters = append(drainWaiters, respCh)
			}

		case <-q.stopCh:
			return
		}
	}
}
