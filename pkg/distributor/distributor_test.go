package distributor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armadaproject/botrunner/internal/common/runnercontext"
	"github.com/armadaproject/botrunner/pkg/update"
)

type intUpdate int64

func (u intUpdate) UpdateID() int64 { return int64(u) }

// fakeTransport is an in-memory Transport that echoes every Send back as
// an ack after a configurable delay, recording which updates it saw.
type fakeTransport struct {
	mu      sync.Mutex
	seeded  []Seed
	sent    []update.Update
	acks    chan int64
	closed  chan struct{}
	onSend  func(update.Update)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{acks: make(chan int64, 16), closed: make(chan struct{})}
}

func (f *fakeTransport) Seed(s Seed) error {
	f.mu.Lock()
	f.seeded = append(f.seeded, s)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Send(u update.Update) error {
	f.mu.Lock()
	f.sent = append(f.sent, u)
	f.mu.Unlock()
	if f.onSend != nil {
		f.onSend(u)
	} else {
		f.acks <- u.UpdateID()
	}
	return nil
}

func (f *fakeTransport) Acks() <-chan int64 { return f.acks }

func (f *fakeTransport) Close() error {
	select {
	case <-f.closed:
	default:
		close(f.closed)
	}
	return nil
}

func (f *fakeTransport) sentIDs() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]int64, len(f.sent))
	for i, u := range f.sent {
		ids[i] = u.UpdateID()
	}
	return ids
}

func TestNew_SeedsEveryWorker(t *testing.T) {
	w0, w1 := newFakeTransport(), newFakeTransport()
	d, err := New("bot-identity", []Transport{w0, w1})
	require.NoError(t, err)
	defer d.Close()

	require.Len(t, w0.seeded, 1)
	require.Len(t, w1.seeded, 1)
	assert.Equal(t, "bot-identity", w0.seeded[0].BotIdentity)
}

func TestProcess_RoutesByUpdateIDModuloWorkerCount(t *testing.T) {
	w0, w1 := newFakeTransport(), newFakeTransport()
	d, err := New(nil, []Transport{w0, w1})
	require.NoError(t, err)
	defer d.Close()

	for _, id := range []int64{0, 1, 2, 3} {
		require.NoError(t, d.Process(runnercontext.Background(), intUpdate(id)))
	}

	assert.Equal(t, []int64{0, 2}, w0.sentIDs())
	assert.Equal(t, []int64{1, 3}, w1.sentIDs())
}

func TestProcess_BlocksUntilAckArrives(t *testing.T) {
	w0 := newFakeTransport()
	ackNow := make(chan struct{})
	w0.onSend = func(u update.Update) {
		go func() {
			<-ackNow
			w0.acks <- u.UpdateID()
		}()
	}
	d, err := New(nil, []Transport{w0})
	require.NoError(t, err)
	defer d.Close()

	done := make(chan error, 1)
	go func() { done <- d.Process(runnercontext.Background(), intUpdate(5)) }()

	select {
	case <-done:
		t.Fatal("Process returned before ack arrived")
	case <-time.After(20 * time.Millisecond):
	}

	close(ackNow)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Process never returned after ack arrived")
	}
}

func TestProcess_ContextCancelUnblocks(t *testing.T) {
	w0 := newFakeTransport()
	w0.onSend = func(update.Update) {} // never acks
	d, err := New(nil, []Transport{w0})
	require.NoError(t, err)
	defer d.Close()

	ctx, cancel := runnercontext.WithCancel(runnercontext.Background())
	done := make(chan error, 1)
	go func() { done <- d.Process(ctx, intUpdate(9)) }()

	cancel()
	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("Process never unblocked on cancel")
	}
}
