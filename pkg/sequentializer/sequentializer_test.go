package sequentializer

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armadaproject/botrunner/internal/common/runnercontext"
)

func TestRun_DisjointKeysRunConcurrently(t *testing.T) {
	s := New()
	var started int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = s.Run(runnercontext.Background(), []string{"x"}, func() error {
			atomic.AddInt32(&started, 1)
			<-release
			return nil
		})
	}()
	go func() {
		defer wg.Done()
		_ = s.Run(runnercontext.Background(), []string{"y"}, func() error {
			atomic.AddInt32(&started, 1)
			<-release
			return nil
		})
	}()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&started) == 2 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()
}

// TestRun_OverlappingKeysChainFIFO: A=[a,b,c,d], B=[c,e], each next sleeps
// 50ms; at t=75ms A is done but B is not yet done; by t=100ms B is done.
func TestRun_OverlappingKeysChainFIFO(t *testing.T) {
	s := New()
	var aDone, bDone atomic.Bool

	start := make(chan struct{})
	done := make(chan struct{})

	go func() {
		<-start
		_ = s.Run(runnercontext.Background(), []string{"a", "b", "c", "d"}, func() error {
			time.Sleep(50 * time.Millisecond)
			return nil
		})
		aDone.Store(true)
	}()
	go func() {
		<-start
		// B arrives only after A has registered its keys.
		for s.Len() == 0 {
			time.Sleep(100 * time.Microsecond)
		}
		_ = s.Run(runnercontext.Background(), []string{"c", "e"}, func() error {
			time.Sleep(50 * time.Millisecond)
			return nil
		})
		bDone.Store(true)
		close(done)
	}()

	t0 := time.Now()
	close(start)

	time.Sleep(75*time.Millisecond - time.Since(t0))
	assert.True(t, aDone.Load(), "A should be done by t=75ms")
	assert.False(t, bDone.Load(), "B should not be done yet by t=75ms")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("B never completed")
	}
	assert.True(t, bDone.Load())
}

func TestRun_FailingTaskDoesNotPoisonDownstreamChain(t *testing.T) {
	s := New()
	boom := errors.New("boom")

	err1 := s.Run(runnercontext.Background(), []string{"k"}, func() error {
		return boom
	})
	assert.Equal(t, boom, err1)

	ran := false
	err2 := s.Run(runnercontext.Background(), []string{"k"}, func() error {
		ran = true
		return nil
	})
	assert.NoError(t, err2)
	assert.True(t, ran, "second task sharing the key should still have run")
}

func TestRun_MapEmptiesAfterAllTasksSettle(t *testing.T) {
	s := New()
	for _, keys := range [][]string{{"p"}, {"p", "q"}, {"q"}} {
		_ = s.Run(runnercontext.Background(), keys, func() error { return nil })
	}
	assert.Equal(t, 0, s.Len())
}

func TestRun_NoKeysRunsImmediately(t *testing.T) {
	s := New()
	ran := false
	err := s.Run(runnercontext.Background(), nil, func() error {
		ran = true
		return nil
	})
	assert.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 0, s.Len())
}
