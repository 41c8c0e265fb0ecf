package checkout

import (
	"context"
	"time"

	"github.com/fjod/go_cart/merch-cart/internal/domain"
	"github.com/sirupsen/logrus"
)

// Cart is the read side of a cart store.
type Cart interface {
	SessionID() string
	Items(ctx context.Context) ([]domain.LineItem, error)
}

// Attempt describes one checkout try, successful or not.
type Attempt struct {
	SessionID     string    `json:"session_id"`
	Items         []Item    `json:"items"`
	NeedsShipping bool      `json:"needs_shipping"`
	URL           string    `json:"url,omitempty"`
	Error         string    `json:"error,omitempty"`
	AttemptedAt   time.Time `json:"attempted_at"`
}

// Recorder is told about every attempt that reached the checkout service.
type Recorder interface {
	Record(ctx context.Context, a Attempt)
}

type SessionCreator interface {
	Create(ctx context.Context, req Request) (*Session, error)
}

type Initiator struct {
	creator  SessionCreator
	recorder Recorder
	log      logrus.FieldLogger
}

// NewInitiator builds an Initiator. recorder may be nil.
func NewInitiator(creator SessionCreator, recorder Recorder, log logrus.FieldLogger) *Initiator {
	return &Initiator{
		creator:  creator,
		recorder: recorder,
		log:      log,
	}
}

// Checkout turns the cart into an order intent and returns the hosted
// payment page to redirect to. The cart is never modified. An empty cart
// returns ErrEmptyCart without contacting the service.
func (i *Initiator) Checkout(ctx context.Context, cart Cart) (*Session, error) {
	items, err := cart.Items(ctx)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}

	req := BuildRequest(items)
	session, err := i.creator.Create(ctx, req)

	attempt := Attempt{
		SessionID:     cart.SessionID(),
		Items:         req.Items,
		NeedsShipping: req.NeedsShipping,
		AttemptedAt:   time.Now().UTC(),
	}
	log := i.log.WithFields(logrus.Fields{
		"session":        cart.SessionID(),
		"items":          len(req.Items),
		"needs_shipping": req.NeedsShipping,
	})
	if err != nil {
		attempt.Error = err.Error()
		log.WithError(err).Warn("checkout failed")
	} else {
		attempt.URL = session.URL
		log.Info("checkout session created")
	}
	if i.recorder != nil {
		i.recorder.Record(ctx, attempt)
	}

	if err != nil {
		return nil, err
	}
	return session, nil
}

func BuildRequest(items []domain.LineItem) Request {
	req := Request{
		Items:         make([]Item, 0, len(items)),
		NeedsShipping: domain.NeedsShipping(items),
	}
	for _, item := range items {
		req.Items = append(req.Items, Item{PriceID: item.PriceID, Quantity: item.Quantity})
	}
	return req
}
