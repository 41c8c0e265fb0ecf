package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/fjod/go_cart/merch-cart/internal/checkout"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockWriter struct {
	msgs   []kafka.Message
	ctxErr error
	err    error
	closed bool
}

func (m *mockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	m.ctxErr = ctx.Err()
	if m.err != nil {
		return m.err
	}
	m.msgs = append(m.msgs, msgs...)
	return nil
}

func (m *mockWriter) Close() error {
	m.closed = true
	return nil
}

func TestPublisher_Record(t *testing.T) {
	w := &mockWriter{}
	log := logrus.New()
	log.SetOutput(io.Discard)
	p := &Publisher{writer: w, log: log}

	attempt := checkout.Attempt{
		SessionID:     "sess-1",
		Items:         []checkout.Item{{PriceID: "P1", Quantity: 2}},
		NeedsShipping: true,
		URL:           "https://pay.example.com/x",
		AttemptedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	p.Record(context.Background(), attempt)

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "sess-1", string(msg.Key))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, EventCheckoutAttempted, string(msg.Headers[0].Value))

	var got checkout.Attempt
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, attempt, got)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublisher_WriteFailureIsLogged(t *testing.T) {
	log, hook := test.NewNullLogger()
	p := &Publisher{writer: &mockWriter{err: errors.New("no brokers")}, log: log}

	p.Record(context.Background(), checkout.Attempt{SessionID: "sess-1"})

	require.Len(t, hook.Entries, 1)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, "sess-1", hook.LastEntry().Data["session"])
}

func TestPublisher_RecordIgnoresRequestCancel(t *testing.T) {
	w := &mockWriter{}
	p := &Publisher{writer: w, log: logrus.New()}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p.Record(ctx, checkout.Attempt{SessionID: "sess-1"})

	require.Len(t, w.msgs, 1)
	assert.NoError(t, w.ctxErr)
}

func TestNewPublisher_WritesAsync(t *testing.T) {
	log, hook := test.NewNullLogger()
	p := NewPublisher(log, "checkout-attempts", "localhost:9092")
	w, ok := p.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.True(t, w.Async)
	require.NotNil(t, w.Completion)

	w.Completion([]kafka.Message{{Key: []byte("sess-1")}}, nil)
	assert.Empty(t, hook.Entries)

	w.Completion([]kafka.Message{{Key: []byte("sess-1")}, {Key: []byte("sess-2")}}, errors.New("leader not available"))
	require.Len(t, hook.Entries, 2)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, "sess-2", hook.LastEntry().Data["session"])
	require.NoError(t, p.Close())
}
