// Package localtransport implements distributor.Transport over a pair of
// in-process channels, for running a worker pool in-process (e.g. a
// goroutine-per-worker pool rather than separate processes). The channel
// pair mirrors the internal pipeline channels used elsewhere in this
// codebase to move work between pipeline stages.
package localtransport

import (
	"errors"

	"github.com/armadaproject/botrunner/pkg/distributor"
	"github.com/armadaproject/botrunner/pkg/update"
)

// ErrClosed is returned by Seed/Send once the pair has been closed.
var ErrClosed = errors.New("localtransport: closed")

type message struct {
	seed   *distributor.Seed
	update update.Update
}

// Pair is a connected parent/worker channel pair.
type Pair struct {
	Parent *ParentEnd
	Worker *WorkerEnd
}

// NewPair constructs a connected Parent/Worker channel pair. toWorker
// carries the seed and update stream; acks carries update_ids back.
func NewPair() *Pair {
	toWorker := make(chan message)
	acks := make(chan int64)
	closed := make(chan struct{})
	return &Pair{
		Parent: &ParentEnd{toWorker: toWorker, acks: acks, closed: closed},
		Worker: &WorkerEnd{toWorker: toWorker, acks: acks, closed: closed},
	}
}

// ParentEnd is the distributor.Transport implementation sitting on the
// parent side of a Pair.
type ParentEnd struct {
	toWorker chan message
	acks     chan int64
	closed   chan struct{}
}

func (p *ParentEnd) Seed(seed distributor.Seed) error {
	select {
	case p.toWorker <- message{seed: &seed}:
		return nil
	case <-p.closed:
		return ErrClosed
	}
}

func (p *ParentEnd) Send(u update.Update) error {
	select {
	case p.toWorker <- message{update: u}:
		return nil
	case <-p.closed:
		return ErrClosed
	}
}

func (p *ParentEnd) Acks() <-chan int64 { return p.acks }

func (p *ParentEnd) Close() error {
	select {
	case <-p.closed:
	default:
		close(p.closed)
	}
	return nil
}

var _ distributor.Transport = (*ParentEnd)(nil)

// WorkerEnd is the worker-side handle of a Pair: it receives the seed
// once, then a stream of updates, and sends an ack for each one it
// finishes processing.
type WorkerEnd struct {
	toWorker chan message
	acks     chan int64
	closed   chan struct{}
}

// Run blocks, dispatching every update received after the seed to
// consume, and acking update_id back to the parent once consume returns.
// consume's error is not reported over the wire, matching the
// acknowledge-only wire protocol; callers needing failure visibility
// should handle it inside consume.
func (w *WorkerEnd) Run(consume func(seed distributor.Seed, u update.Update) error) error {
	var seed distributor.Seed
	seeded := false

	for {
		select {
		case msg := <-w.toWorker:
			if msg.seed != nil {
				seed = *msg.seed
				seeded = true
				continue
			}
			if !seeded {
				continue
			}
			_ = consume(seed, msg.update)
			select {
			case w.acks <- msg.update.UpdateID():
			case <-w.closed:
				return nil
			}
		case <-w.closed:
			return nil
		}
	}
}
