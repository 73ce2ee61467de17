// Package pulsarsupplier implements supplier.Supplier over an Apache Pulsar
// consumer: each Supply call drains up to batchSize messages from the
// topic, decoding them as it goes and acking the decoded ones once the
// batch is complete.
package pulsarsupplier

import (
	"context"
	"errors"
	"time"

	"github.com/apache/pulsar-client-go/pulsar"
	"github.com/sirupsen/logrus"

	"github.com/armadaproject/botrunner/internal/common/runnererrors"
	"github.com/armadaproject/botrunner/pkg/update"
)

// Decoder turns one Pulsar message into an Update. A non-nil error causes
// the message to be acked (it is permanently unprocessable) and skipped.
type Decoder func(pulsar.Message) (update.Update, error)

// Supplier adapts a Pulsar consumer to the Supplier contract: offset is
// ignored (Pulsar's own cursor tracks position), and batchSize bounds how
// many messages a single Supply call drains before returning.
type Supplier struct {
	consumer       pulsar.Consumer
	decode         Decoder
	receiveTimeout time.Duration
	log            *logrus.Entry
}

// New constructs a Supplier reading from consumer. receiveTimeout bounds
// each individual message receive; once it elapses with no message
// available, Supply returns whatever it has accumulated so far rather than
// blocking for the full batchSize.
func New(consumer pulsar.Consumer, decode Decoder, receiveTimeout time.Duration) *Supplier {
	if receiveTimeout <= 0 {
		receiveTimeout = 5 * time.Second
	}
	return &Supplier{
		consumer:       consumer,
		decode:         decode,
		receiveTimeout: receiveTimeout,
		log:            logrus.WithField("component", "pulsarsupplier"),
	}
}

func (s *Supplier) Supply(ctx context.Context, offset int64, batchSize int) (update.Batch, error) {
	if batchSize < 1 {
		batchSize = 1
	}
	if batchSize > 100 {
		batchSize = 100
	}

	batch := make(update.Batch, 0, batchSize)
	toAck := make([]pulsar.Message, 0, batchSize)

	for len(batch) < batchSize {
		recvCtx, cancel := context.WithTimeout(ctx, s.receiveTimeout)
		msg, err := s.consumer.Receive(recvCtx)
		cancel()

		if errors.Is(err, context.DeadlineExceeded) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, &runnererrors.ErrAborted{}
			}
			return nil, err
		}

		u, decodeErr := s.decode(msg)
		if decodeErr != nil {
			s.log.WithError(decodeErr).WithField("messageId", msg.ID()).Warn("dropping unparseable message")
			if ackErr := s.consumer.Ack(msg); ackErr != nil {
				s.log.WithError(ackErr).Warn("failed to ack unparseable message")
			}
			continue
		}

		batch = append(batch, u)
		toAck = append(toAck, msg)
	}

	for _, msg := range toAck {
		if err := s.consumer.Ack(msg); err != nil {
			s.log.WithError(err).WithField("messageId", msg.ID()).Warn("failed to ack message")
		}
	}

	return batch, nil
}
