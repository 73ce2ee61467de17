// Package distributor spreads updates across a fixed-size pool of
// isolated workers for CPU parallelism. It complements the
// Sink's concurrency with parallelism across worker boundaries; the
// transport carrying updates to and acks back from a worker is abstracted
// behind the Transport interface so the same routing and correlation
// logic works over in-process channels or a network-backed queue.
package distributor

import (
	"sync"

	"github.com/google/uuid"

	"github.com/armadaproject/botrunner/internal/common/runnercontext"
	"github.com/armadaproject/botrunner/pkg/update"
)

// DefaultCount is the default worker pool size.
const DefaultCount = 4

// Seed is the one-time identity message sent to a worker before any
// update.
type Seed struct {
	SessionID   uuid.UUID
	BotIdentity interface{}
}

// Transport is the parent side of the worker wire protocol: a seed
// message followed by a stream of updates, with acks (by update_id)
// flowing back independently. Implementations need not preserve ack
// order relative to send order.
type Transport interface {
	Seed(Seed) error
	Send(update.Update) error
	Acks() <-chan int64
	Close() error
}

// Distributor routes updates to workers by update_id mod N and
// correlates each dispatched update with its eventual ack.
type Distributor struct {
	workers []Transport

	mu      sync.Mutex
	pending map[int64]chan struct{}

	closed chan struct{}
	wg     sync.WaitGroup
}

// New seeds every worker in workers with botIdentity and starts listening
// for acks. The pool size is len(workers); callers wanting the default
// pool size build DefaultCount transports before calling New.
func New(botIdentity interface{}, workers []Transport) (*Distributor, error) {
	d := &Distributor{
		workers: workers,
		pending: make(map[int64]chan struct{}),
		closed:  make(chan struct{}),
	}

	for _, w := range workers {
		if err := w.Seed(Seed{SessionID: uuid.New(), BotIdentity: botIdentity}); err != nil {
			return nil, err
		}
	}

	for _, w := range workers {
		d.wg.Add(1)
		go d.ackLoop(w)
	}

	return d, nil
}

func (d *Distributor) ackLoop(w Transport) {
	defer d.wg.Done()
	acks := w.Acks()
	for {
		select {
		case id, ok := <-acks:
			if !ok {
				return
			}
			d.resolve(id)
		case <-d.closed:
			return
		}
	}
}

func (d *Distributor) resolve(id int64) {
	d.mu.Lock()
	ch, ok := d.pending[id]
	if ok {
		delete(d.pending, id)
	}
	d.mu.Unlock()
	if ok {
		close(ch)
	}
}

// worker picks the worker assigned update_id's traffic:
// workers[update_id mod N].
func (d *Distributor) worker(id int64) Transport {
	n := int64(len(d.workers))
	idx := id % n
	if idx < 0 {
		idx += n
	}
	return d.workers[idx]
}

// Process dispatches u to its assigned worker and blocks until that
// worker acks update_id back, or ctx is done.
func (d *Distributor) Process(ctx *runnercontext.Context, u update.Update) error {
	id := u.UpdateID()
	ch := make(chan struct{})

	d.mu.Lock()
	d.pending[id] = ch
	d.mu.Unlock()

	if err := d.worker(id).Send(u); err != nil {
		d.mu.Lock()
		delete(d.pending, id)
		d.mu.Unlock()
		return err
	}

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		d.mu.Lock()
		delete(d.pending, id)
		d.mu.Unlock()
		return ctx.Err()
	}
}

// Close stops every worker's ack loop and closes every worker transport.
func (d *Distributor) Close() error {
	close(d.closed)
	var firstErr error
	for _, w := range d.workers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	d.wg.Wait()
	return firstErr
}
