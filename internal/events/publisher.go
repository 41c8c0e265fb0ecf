package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fjod/go_cart/merch-cart/internal/checkout"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

const EventCheckoutAttempted = "checkout.attempted"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes checkout attempts to Kafka. Failures are logged and
// never reach the shopper.
type Publisher struct {
	writer messageWriter
	log    logrus.FieldLogger
}

// NewPublisher returns a publisher whose writes are asynchronous: Record only
// enqueues, and delivery failures are logged once the batch completes.
func NewPublisher(log logrus.FieldLogger, topic string, brokers ...string) *Publisher {
	p := &Publisher{log: log}
	p.writer = &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		Async:                  true,
		Completion:             p.delivered,
	}
	return p
}

func (p *Publisher) Record(ctx context.Context, a checkout.Attempt) {
	payload, err := json.Marshal(a)
	if err != nil {
		p.log.WithError(err).Error("failed to marshal checkout attempt")
		return
	}

	msg := kafka.Message{
		Key:   []byte(a.SessionID), // keeps a session's attempts ordered
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(EventCheckoutAttempted)},
		},
	}
	// the attempt outlives the request that produced it
	if err := p.writer.WriteMessages(context.WithoutCancel(ctx), msg); err != nil {
		p.log.WithError(err).WithField("session", a.SessionID).Warn("failed to publish checkout attempt")
	}
}

func (p *Publisher) delivered(msgs []kafka.Message, err error) {
	if err == nil {
		return
	}
	for _, msg := range msgs {
		p.log.WithError(err).WithField("session", string(msg.Key)).Warn("failed to publish checkout attempt")
	}
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
