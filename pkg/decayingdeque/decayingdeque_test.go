package decayingdeque

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/util/clock"

	"github.com/armadaproject/botrunner/internal/common/runnercontext"
	"github.com/armadaproject/botrunner/pkg/update"
)

type intUpdate int64

func (u intUpdate) UpdateID() int64 { return int64(u) }

func batchOf(ids ...int64) update.Batch {
	b := make(update.Batch, len(ids))
	for i, id := range ids {
		b[i] = intUpdate(id)
	}
	return b
}

func TestAdd_UnboundedResolvesImmediately(t *testing.T) {
	var done sync.WaitGroup
	done.Add(1)
	q := New(runnercontext.Background(), Config{
		Consume: func(ctx *runnercontext.Context, u update.Update) error {
			done.Done()
			return nil
		},
	})
	defer q.Close()

	c := q.Add(runnercontext.Background(), batchOf(1))
	assert.True(t, c.IsUnbounded())
	done.Wait()
}

func TestAdd_SingleUpdateLimit12(t *testing.T) {
	release := make(chan struct{})
	q := New(runnercontext.Background(), Config{
		Limit: 12,
		Consume: func(ctx *runnercontext.Context, u update.Update) error {
			<-release
			return nil
		},
	})
	defer func() { close(release); q.Close() }()

	c := q.Add(runnercontext.Background(), batchOf(7))
	assert.Equal(t, update.Capacity(11), c)
}

func TestAdd_CapacityBackpressure(t *testing.T) {
	release := make(chan int64, 6)
	var started int32
	q := New(runnercontext.Background(), Config{
		Limit: 3,
		Consume: func(ctx *runnercontext.Context, u update.Update) error {
			atomic.AddInt32(&started, 1)
			<-release
			return nil
		},
	})
	defer q.Close()

	resultCh := make(chan update.Capacity, 1)
	go func() {
		resultCh <- q.Add(runnercontext.Background(), batchOf(1, 2, 3, 4, 5, 6))
	}()

	require.Eventually(t, func() bool { return q.Length() == 6 }, time.Second, time.Millisecond)

	// Drain 4 of the 6 tasks; capacity should resolve with the first
	// positive value observed after admission, never zero.
	release <- 1
	release <- 1
	release <- 1
	release <- 1

	select {
	case c := <-resultCh:
		assert.Equal(t, update.Capacity(1), c)
	case <-time.After(time.Second):
		t.Fatal("add did not resolve")
	}

	release <- 1
	release <- 1
}

func TestAdd_NeverExceedsLimit(t *testing.T) {
	release := make(chan struct{})
	q := New(runnercontext.Background(), Config{
		Limit: 5,
		Consume: func(ctx *runnercontext.Context, u update.Update) error {
			<-release
			return nil
		},
	})
	defer q.Close()

	ids := make([]int64, 20)
	for i := range ids {
		ids[i] = int64(i + 1)
	}

	capacities := make([]update.Capacity, 4)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			capacities[i] = q.Add(runnercontext.Background(), batchOf(ids[i*5:i*5+5]...))
		}(i)
	}
	// Let tasks drain so every Add can resolve.
	close(release)
	wg.Wait()

	// A resolved capacity is Limit minus the live size at that moment, so a
	// positive value means the size was below the limit when Add returned.
	for _, c := range capacities {
		assert.Greater(t, int(c), 0)
	}
	assert.LessOrEqual(t, q.Length(), 5)
}

func TestTimeoutPurge(t *testing.T) {
	fakeClock := clock.NewFakeClock(time.Now())
	var timeoutCount int32
	never := make(chan struct{})
	q := New(runnercontext.Background(), Config{
		Timeout: 5 * time.Millisecond,
		Clock:   fakeClock,
		Consume: func(ctx *runnercontext.Context, u update.Update) error {
			<-never
			return nil
		},
		TimeoutHandler: func(u update.Update, task *PendingTask) {
			atomic.AddInt32(&timeoutCount, 1)
		},
	})
	defer q.Close()

	ids := make([]int64, 100)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	q.Add(runnercontext.Background(), batchOf(ids...))

	require.Eventually(t, func() bool { return q.Length() == 100 }, time.Second, time.Millisecond)

	fakeClock.Step(10 * time.Millisecond)

	require.Eventually(t, func() bool { return q.Length() == 0 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(100), atomic.LoadInt32(&timeoutCount))
}

func TestErrorHandlerReleasesSlotAfterResolving(t *testing.T) {
	handlerStarted := make(chan struct{})
	handlerRelease := make(chan struct{})
	q := New(runnercontext.Background(), Config{
		Limit: 1,
		Consume: func(ctx *runnercontext.Context, u update.Update) error {
			return fmt.Errorf("boom")
		},
		ErrorHandler: func(ctx *runnercontext.Context, err error, u update.Update) error {
			close(handlerStarted)
			<-handlerRelease
			return nil
		},
	})
	defer q.Close()

	go q.Add(runnercontext.Background(), batchOf(1))
	<-handlerStarted

	// The slot is still held while the error handler runs.
	assert.Equal(t, 1, q.Length())
	close(handlerRelease)
	require.Eventually(t, func() bool { return q.Length() == 0 }, time.Second, time.Millisecond)
}

func TestPendingTasksSnapshotPreservesOrder(t *testing.T) {
	release := make(chan struct{})
	q := New(runnercontext.Background(), Config{
		Consume: func(ctx *runnercontext.Context, u update.Update) error {
			<-release
			return nil
		},
	})
	defer func() { close(release); q.Close() }()

	q.Add(runnercontext.Background(), batchOf(1, 2, 3))
	require.Eventually(t, func() bool { return q.Length() == 3 }, time.Second, time.Millisecond)

	snap := q.PendingTasks()
	ids := make([]int64, len(snap))
	for i, u := range snap {
		ids[i] = u.UpdateID()
	}
	assert.Equal(t, []int64{1, 2, 3}, ids)
}

func TestLateResolutionReachesPendingTask(t *testing.T) {
	fakeClock := clock.NewFakeClock(time.Now())
	finish := make(chan error, 1)
	var pending *PendingTask
	var mu sync.Mutex
	q := New(runnercontext.Background(), Config{
		Timeout: time.Millisecond,
		Clock:   fakeClock,
		Consume: func(ctx *runnercontext.Context, u update.Update) error {
			return <-finish
		},
		TimeoutHandler: func(u update.Update, task *PendingTask) {
			mu.Lock()
			pending = task
			mu.Unlock()
		},
	})
	defer q.Close()

	q.Add(runnercontext.Background(), batchOf(1))
	fakeClock.Step(5 * time.Millisecond)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return pending != nil
	}, time.Second, time.Millisecond)

	lateErr := fmt.Errorf("late failure")
	finish <- lateErr

	mu.Lock()
	p := pending
	mu.Unlock()
	assert.Equal(t, lateErr, p.Wait())
}

func TestTimeoutSweep_BatchesLateFailuresIntoOneLogLine(t *testing.T) {
	logger, hook := logrustest.NewNullLogger()
	ctx := runnercontext.New(context.Background(), logrus.NewEntry(logger))

	fakeClock := clock.NewFakeClock(time.Now())
	finish := make(chan error, 3)
	var pending []*PendingTask
	var mu sync.Mutex
	q := New(ctx, Config{
		Timeout: time.Millisecond,
		Clock:   fakeClock,
		Consume: func(ctx *runnercontext.Context, u update.Update) error {
			return <-finish
		},
		TimeoutHandler: func(u update.Update, task *PendingTask) {
			mu.Lock()
			pending = append(pending, task)
			mu.Unlock()
		},
	})
	defer q.Close()

	q.Add(runnercontext.Background(), batchOf(1, 2, 3))
	fakeClock.Step(5 * time.Millisecond)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(pending) == 3
	}, time.Second, time.Millisecond)

	finish <- fmt.Errorf("late failure 1")
	finish <- fmt.Errorf("late failure 2")
	finish <- nil

	require.Eventually(t, func() bool {
		for _, e := range hook.AllEntries() {
			if e.Data["timed_out"] == 3 {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)

	var warning *logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Data["timed_out"] == 3 {
			warning = e
		}
	}
	require.NotNil(t, warning)
	assert.Contains(t, warning.Message, "2 late tasks resolved with errors")
}

func TestWaitEmpty_BlocksUntilQueueDrains(t *testing.T) {
	release := make(chan struct{})
	q := New(runnercontext.Background(), Config{
		Consume: func(ctx *runnercontext.Context, u update.Update) error {
			<-release
			return nil
		},
	})
	defer q.Close()

	q.Add(runnercontext.Background(), batchOf(1, 2))
	require.Eventually(t, func() bool { return q.Length() == 2 }, time.Second, time.Millisecond)

	doneCh := make(chan struct{})
	go func() {
		require.NoError(t, q.WaitEmpty(runnercontext.Background()))
		close(doneCh)
	}()

	select {
	case <-doneCh:
		t.Fatal("WaitEmpty returned before the queue drained")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case <-doneCh:
	case <-time.After(time.Second):
		t.Fatal("WaitEmpty did not return after drain")
	}
}

func TestWaitEmpty_ReturnsImmediatelyWhenAlreadyEmpty(t *testing.T) {
	q := New(runnercontext.Background(), Config{
		Consume: func(ctx *runnercontext.Context, u update.Update) error { return nil },
	})
	defer q.Close()

	require.NoError(t, q.WaitEmpty(runnercontext.Background()))
}
