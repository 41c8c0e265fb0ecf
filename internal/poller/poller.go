package poller

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// CartClearer empties the cart of a browser session.
type CartClearer interface {
	ClearSession(ctx context.Context, sessionID string) error
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type completedEvent struct {
	SessionID string `json:"session_id"`
}

// Poller clears carts whose checkout the payment side reports as completed.
type Poller struct {
	carts  CartClearer
	reader messageReader
	log    logrus.FieldLogger
}

func NewPoller(carts CartClearer, log logrus.FieldLogger, topic string, brokers ...string) *Poller {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  "merch-cart",
		MaxBytes: 10e6, // 10MB
	})
	return &Poller{carts: carts, reader: reader, log: log}
}

func (p *Poller) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		p.clearCompletedCart(ctx)
	}
}

func (p *Poller) Close() {
	if err := p.reader.Close(); err != nil {
		p.log.WithError(err).Warn("error closing reader")
	}
}

func (p *Poller) clearCompletedCart(ctx context.Context) {
	m, err := p.reader.ReadMessage(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.log.WithError(err).Warn("error reading message")
		}
		return
	}

	var event completedEvent
	if err := json.Unmarshal(m.Value, &event); err != nil {
		p.log.WithError(err).WithField("offset", m.Offset).Warn("error parsing message")
		return
	}
	sessionID := strings.TrimSpace(event.SessionID)
	if sessionID == "" {
		p.log.WithField("offset", m.Offset).Warn("missing or invalid session_id")
		return
	}

	if err := p.carts.ClearSession(ctx, sessionID); err != nil {
		p.log.WithError(err).WithField("session", sessionID).Error("failed to clear cart")
		return
	}
	p.log.WithField("session", sessionID).Info("cart cleared after completed checkout")
}
