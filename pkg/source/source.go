// Package source implements the pull loop: batch
// size and inter-batch pacing adapt to downstream throughput, retry and
// abort are delegated to the wrapped supplier.Supplier, and the loop is
// resumable after Close via a fresh abort context per Start.
package source

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/armadaproject/botrunner/internal/common/metrics"
	"github.com/armadaproject/botrunner/internal/common/runnererrors"
	"github.com/armadaproject/botrunner/pkg/supplier"
	"github.com/armadaproject/botrunner/pkg/update"
)

// ErrNotActive is returned by Next when called on a Source that has been
// Close'd and not yet resumed with Start.
var ErrNotActive = errors.New("source is not active")

const maxProtocolBatchSize = 100

// Source adapts a supplier.Supplier into a pull loop with feedback-driven
// batch sizing and pacing. It is not safe for concurrent Next calls (the
// single-threaded cooperative model), but Close and SetGeneratorPace may
// be called from another goroutine at any time.
type Source struct {
	supplier supplier.Supplier
	cfg      Config

	mu          sync.Mutex
	offset      int64
	pace        update.Capacity // Unbounded until the first SetGeneratorPace
	active      bool
	initialized bool
	ctx         context.Context
	cancel      context.CancelFunc

	stats  statsRing
	dedupe *dedupe
}

// New constructs a Source over supplier, starting at offset 0.
func New(s supplier.Supplier, cfg Config) *Source {
	cfg = cfg.withDefaults()
	src := &Source{
		supplier: s,
		cfg:      cfg,
		pace:     update.Unbounded,
		dedupe:   newDedupe(cfg.DedupeCacheSize),
	}
	src.Start()
	return src
}

// Start installs a fresh abort context and marks the Source active. It is
// how a consumer resumes iteration after Close; calling it on an
// already-active Source replaces its abort context.
func (s *Source) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.active = true
	s.initialized = false
}

// IsActive reports whether the Source has not been closed since its last
// (re)start.
func (s *Source) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Offset returns the next offset Next will request.
func (s *Source) Offset() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset
}

// SetGeneratorPace sets the batch size hint for the next Next call.
func (s *Source) SetGeneratorPace(capacity update.Capacity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pace = capacity
}

// Close raises the Source's abort signal, cancelling any in-flight Supply
// call and cutting short the pacing wait, marks the Source inactive, and
// resets pace to unbounded. Next returns ErrNotActive until a subsequent
// Start installs a fresh abort context and resumes iteration.
func (s *Source) Close() {
	s.mu.Lock()
	cancel := s.cancel
	s.active = false
	s.pace = update.Unbounded
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Source) snapshot() (context.Context, update.Capacity, int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx, s.pace, s.offset, s.initialized
}

// Next pulls the next batch. It blocks for the Supply call and for any
// pacing wait computed from the previous batch's throughput.
//
// Either way a failed Supply closes the Source. A non-abort error from
// Supply is returned as-is to the caller; an abort-induced failure is
// reported as *runnererrors.ErrAborted.
func (s *Source) Next() (update.Batch, error) {
	ctx, pace, offset, initialized := s.snapshot()
	if !s.IsActive() {
		return nil, ErrNotActive
	}

	if !initialized && s.cfg.Init != nil {
		if err := s.cfg.Init(ctx); err != nil {
			return s.fail(ctx, err)
		}
		s.mu.Lock()
		s.initialized = true
		s.mu.Unlock()
	}

	batchSize := maxProtocolBatchSize
	if !pace.IsUnbounded() {
		batchSize = int(pace)
		if batchSize < 1 {
			batchSize = 1
		}
		if batchSize > maxProtocolBatchSize {
			batchSize = maxProtocolBatchSize
		}
	}

	start := s.cfg.Clock.Now()
	batch, err := s.supplier.Supply(ctx, offset, batchSize)
	elapsed := s.cfg.Clock.Now().Sub(start)
	if err != nil {
		return s.fail(ctx, err)
	}

	if maxID, ok := batch.MaxUpdateID(); ok {
		s.mu.Lock()
		s.offset = maxID + 1
		s.mu.Unlock()
	}
	batch = s.dedupe.filter(batch)

	s.stats.record(len(batch), float64(elapsed/time.Millisecond))
	metrics.SourceBatchSize.WithLabelValues(s.cfg.Name).Observe(float64(len(batch)))

	wait := s.stats.wait(s.cfg.SpeedTrafficBalance, s.cfg.MaxDelayMilliseconds)
	if wait > 0 && len(batch) < maxProtocolBatchSize {
		metrics.SourceWaitSeconds.WithLabelValues(s.cfg.Name).Observe(wait / 1000)
		select {
		case <-s.cfg.Clock.After(time.Duration(wait) * time.Millisecond):
		case <-ctx.Done():
		}
	}

	return batch, nil
}

func (s *Source) fail(ctx context.Context, err error) (update.Batch, error) {
	if ctx.Err() != nil {
		s.Close()
		return nil, &runnererrors.ErrAborted{}
	}
	s.Close()
	return nil, err
}
