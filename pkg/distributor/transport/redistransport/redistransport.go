// Package redistransport implements distributor.Transport over Redis
// lists: Seed and Send RPUSH onto the worker's inbound list, a background
// loop BLPOPs the worker's ack list. Grounded on the blocking-receive-loop
// shape used to pull pulsar messages elsewhere in this codebase,
// retargeted at Redis.
package redistransport

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis"
	"github.com/sirupsen/logrus"

	"github.com/armadaproject/botrunner/internal/common/runnercontext"
	"github.com/armadaproject/botrunner/internal/common/util"
	"github.com/armadaproject/botrunner/pkg/distributor"
	"github.com/armadaproject/botrunner/pkg/update"
)

// wireUpdate is the JSON envelope an Update is serialized as. The id is
// carried redundantly alongside the opaque update body so a worker that
// only cares about routing/acking never needs to unmarshal the payload.
type wireUpdate struct {
	ID      int64           `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// Transport is a Redis-backed distributor.Transport, talking to one
// worker identified by workerID over a pair of list keys.
type Transport struct {
	client  redis.UniversalClient
	inKey   string
	ackKey  string
	timeout time.Duration
	log     *logrus.Entry

	acks   chan int64
	closed chan struct{}
}

// New constructs a Transport addressing workerID's inbound and ack list
// keys under prefix. blockTimeout bounds each BLPOP call; it must be
// positive (Redis treats 0 as "block forever", which would leave the ack
// loop blocked after Close until the next ack arrives).
func New(client redis.UniversalClient, prefix, workerID string, blockTimeout time.Duration) *Transport {
	if blockTimeout <= 0 {
		blockTimeout = time.Second
	}
	t := &Transport{
		client:  client,
		inKey:   fmt.Sprintf("%s:%s:in", prefix, workerID),
		ackKey:  fmt.Sprintf("%s:%s:ack", prefix, workerID),
		timeout: blockTimeout,
		log:     logrus.WithField("worker", workerID),
		acks:    make(chan int64),
		closed:  make(chan struct{}),
	}
	go t.ackLoop()
	return t
}

func (t *Transport) Seed(seed distributor.Seed) error {
	payload, err := json.Marshal(struct {
		Kind string `json:"kind"`
		Seed distributor.Seed
	}{Kind: "seed", Seed: seed})
	if err != nil {
		return err
	}
	return t.client.RPush(t.inKey, payload).Err()
}

func (t *Transport) Send(u update.Update) error {
	body, err := json.Marshal(u)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(struct {
		Kind   string     `json:"kind"`
		Update wireUpdate `json:"update"`
	}{Kind: "update", Update: wireUpdate{ID: u.UpdateID(), Payload: body}})
	if err != nil {
		return err
	}
	return t.client.RPush(t.inKey, payload).Err()
}

func (t *Transport) Acks() <-chan int64 { return t.acks }

func (t *Transport) Close() error {
	select {
	case <-t.closed:
	default:
		close(t.closed)
	}
	return nil
}

func (t *Transport) ackLoop() {
	for {
		select {
		case <-t.closed:
			return
		default:
		}

		res, err := t.client.BLPop(t.timeout, t.ackKey).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			t.log.WithError(err).Warn("redistransport: ack BLPOP failed")
			continue
		}
		if len(res) < 2 {
			continue
		}
		id, err := strconv.ParseInt(res[1], 10, 64)
		if err != nil {
			t.log.WithError(err).Warn("redistransport: malformed ack payload")
			continue
		}
		select {
		case t.acks <- id:
		case <-t.closed:
			return
		}
	}
}

var _ distributor.Transport = (*Transport)(nil)

type wireEnvelope struct {
	Kind   string          `json:"kind"`
	Seed   distributor.Seed `json:"seed"`
	Update wireUpdate      `json:"update"`
}

// simpleUpdate decodes a wireUpdate back into an update.Update whose
// payload a consume callback can re-unmarshal against its own concrete
// type.
type simpleUpdate struct {
	id      int64
	payload json.RawMessage
}

func (u simpleUpdate) UpdateID() int64 { return u.id }

// Payload returns the raw JSON body a caller can decode into its own
// update type.
func (u simpleUpdate) Payload() json.RawMessage { return u.payload }

// Worker is the worker-side reader of a Transport's list pair: it BLPOPs
// inKey, dispatching the seed once and every update after it to consume,
// then RPUSHes consume's update_id onto ackKey.
type Worker struct {
	client  redis.UniversalClient
	inKey   string
	ackKey  string
	timeout time.Duration
	log     *logrus.Entry
}

// NewWorker constructs a Worker reading the same list pair a Transport
// constructed with matching prefix/workerID writes to.
func NewWorker(client redis.UniversalClient, prefix, workerID string, blockTimeout time.Duration) *Worker {
	if blockTimeout <= 0 {
		blockTimeout = time.Second
	}
	return &Worker{
		client:  client,
		inKey:   fmt.Sprintf("%s:%s:in", prefix, workerID),
		ackKey:  fmt.Sprintf("%s:%s:ack", prefix, workerID),
		timeout: blockTimeout,
		log:     logrus.WithField("worker", workerID),
	}
}

// Run blocks, processing the seed message once and every subsequent
// update via consume, until closed is closed. consume's error is not
// reported over the wire; see localtransport.WorkerEnd.Run for the same
// tradeoff.
func (w *Worker) Run(closed <-chan struct{}, consume func(seed distributor.Seed, u update.Update) error) error {
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-closed:
			cancel()
		case <-runCtx.Done():
		}
	}()
	ackCtx := runnercontext.New(runCtx, w.log)

	var seed distributor.Seed
	seeded := false

	for {
		select {
		case <-closed:
			return nil
		default:
		}

		res, err := w.client.BLPop(w.timeout, w.inKey).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			w.log.WithError(err).Warn("redistransport: inbound BLPOP failed")
			continue
		}
		if len(res) < 2 {
			continue
		}

		var env wireEnvelope
		if err := json.Unmarshal([]byte(res[1]), &env); err != nil {
			w.log.WithError(err).Warn("redistransport: malformed inbound payload")
			continue
		}

		switch env.Kind {
		case "seed":
			seed = env.Seed
			seeded = true
		case "update":
			if !seeded {
				continue
			}
			u := simpleUpdate{id: env.Update.ID, payload: env.Update.Payload}
			_ = consume(seed, u)
			// Acking must never be silently dropped (the parent is blocked
			// waiting for it), but a momentary Redis hiccup here should not
			// stall the whole worker loop either, so retry until the ack
			// lands or the worker is torn down.
			util.RetryUntilSuccess(ackCtx,
				func() error { return w.client.RPush(w.ackKey, strconv.FormatInt(u.UpdateID(), 10)).Err() },
				func(err error) { w.log.WithError(err).Warn("redistransport: ack RPUSH failed, retrying") },
			)
		}
	}
}
