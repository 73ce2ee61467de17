package sink

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armadaproject/botrunner/internal/common/runnercontext"
	"github.com/armadaproject/botrunner/pkg/update"
)

type strUpdate struct {
	id  int64
	str string
}

func (u strUpdate) UpdateID() int64 { return u.id }

func TestSequential_PreservesOrder(t *testing.T) {
	var mu sync.Mutex
	var record string
	s := NewSequential(runnercontext.Background(), Options{
		Consume: func(ctx *runnercontext.Context, u update.Update) error {
			mu.Lock()
			record += u.(strUpdate).str
			mu.Unlock()
			return nil
		},
	})
	defer s.Close()

	c := s.Handle(runnercontext.Background(), update.Batch{
		strUpdate{id: 1, str: "a"},
		strUpdate{id: 2, str: "b"},
	})
	assert.True(t, c.IsUnbounded())
	assert.Equal(t, "ab", record)
}

func TestConcurrent_SingleUpdateLimit12(t *testing.T) {
	release := make(chan struct{})
	s := NewConcurrent(runnercontext.Background(), Options{
		Concurrency: 12,
		Consume: func(ctx *runnercontext.Context, u update.Update) error {
			<-release
			return nil
		},
	})
	defer func() { close(release); s.Close() }()

	c := s.Handle(runnercontext.Background(), update.Batch{strUpdate{id: 7}})
	assert.Equal(t, update.Capacity(11), c)
}

func TestBatch_HandleWaitsForWholeBatchToDrain(t *testing.T) {
	var processed int32
	var mu sync.Mutex
	s := NewBatch(runnercontext.Background(), Options{
		Consume: func(ctx *runnercontext.Context, u update.Update) error {
			mu.Lock()
			processed++
			mu.Unlock()
			return nil
		},
	})
	defer s.Close()

	batch := update.Batch{strUpdate{id: 1}, strUpdate{id: 2}, strUpdate{id: 3}}
	c := s.Handle(runnercontext.Background(), batch)
	assert.True(t, c.IsUnbounded())

	mu.Lock()
	defer mu.Unlock()
	assert.EqualValues(t, 3, processed)
	assert.Equal(t, 0, s.Size())
}

func TestConcurrent_SnapshotReflectsInFlight(t *testing.T) {
	release := make(chan struct{})
	s := NewConcurrent(runnercontext.Background(), Options{
		Consume: func(ctx *runnercontext.Context, u update.Update) error {
			<-release
			return nil
		},
	})
	defer func() { close(release); s.Close() }()

	s.Handle(runnercontext.Background(), update.Batch{strUpdate{id: 1}, strUpdate{id: 2}})
	require.Equal(t, 2, s.Size())
	snap := s.Snapshot()
	require.Len(t, snap, 2)
}
