package cart

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/fjod/go_cart/merch-cart/internal/domain"
	"github.com/fjod/go_cart/merch-cart/internal/storage"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Key is the storage key of a cart. Session carts append ":<session id>".
const Key = "merch_cart_v1"

const readTimeout = 5 * time.Second

var ErrMissingPriceID = errors.New("price id is required")

// Store owns one persisted cart. Mutations are serialized and each one
// writes the whole cart back before notifying subscribers.
type Store struct {
	sessionID string
	key       string
	storage   storage.Storage
	log       logrus.FieldLogger

	mu  sync.Mutex
	sfg singleflight.Group // coalesces concurrent reads of the same cart

	subMu  sync.RWMutex
	subs   map[uint64]func()
	nextID uint64
}

func NewStore(s storage.Storage, sessionID string, log logrus.FieldLogger) *Store {
	return &Store{
		sessionID: sessionID,
		key:       KeyFor(sessionID),
		storage:   s,
		log:       log.WithField("cart", KeyFor(sessionID)),
		subs:      make(map[uint64]func()),
	}
}

func KeyFor(sessionID string) string {
	if sessionID == "" {
		return Key
	}
	return Key + ":" + sessionID
}

func (s *Store) SessionID() string { return s.sessionID }

func (s *Store) Key() string { return s.key }

// Items returns the current cart. A missing or malformed persisted value
// reads as an empty cart; only storage failures are returned.
// The read is shared by every caller that joins it, so it runs detached
// from ctx under its own timeout; ctx only bounds how long this caller waits.
func (s *Store) Items(ctx context.Context) ([]domain.LineItem, error) {
	ch := s.sfg.DoChan(s.key, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), readTimeout)
		defer cancel()
		return s.load(loadCtx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return slices.Clone(res.Val.([]domain.LineItem)), nil
	}
}

// Add merges in into the cart: an existing PriceID gets its quantity
// incremented and its present display fields overwritten, otherwise the
// item is appended.
func (s *Store) Add(ctx context.Context, in domain.ItemInput) error {
	if in.PriceID == "" {
		return ErrMissingPriceID
	}
	return s.mutate(ctx, func(items []domain.LineItem) ([]domain.LineItem, bool) {
		if idx := indexOf(items, in.PriceID); idx >= 0 {
			in.MergeInto(&items[idx])
			return items, true
		}
		return append(items, in.NewLineItem()), true
	})
}

func (s *Store) Remove(ctx context.Context, priceID string) error {
	return s.mutate(ctx, func(items []domain.LineItem) ([]domain.LineItem, bool) {
		return slices.DeleteFunc(items, func(item domain.LineItem) bool {
			return item.PriceID == priceID
		}), true
	})
}

// SetQuantity clamps qty to [1, 99]. Unknown price ids are ignored without
// a write.
func (s *Store) SetQuantity(ctx context.Context, priceID string, qty int) error {
	return s.mutate(ctx, func(items []domain.LineItem) ([]domain.LineItem, bool) {
		idx := indexOf(items, priceID)
		if idx < 0 {
			return items, false
		}
		items[idx].Quantity = domain.ClampQuantity(qty)
		return items, true
	})
}

func (s *Store) Clear(ctx context.Context) error {
	return s.mutate(ctx, func([]domain.LineItem) ([]domain.LineItem, bool) {
		return []domain.LineItem{}, true
	})
}

// Backfill fills in unit amounts still at zero from catalog. It only writes
// and notifies when at least one item changed.
func (s *Store) Backfill(ctx context.Context, catalog map[string]int64) (bool, error) {
	if len(catalog) == 0 {
		return false, nil
	}
	var changed bool
	err := s.mutate(ctx, func(items []domain.LineItem) ([]domain.LineItem, bool) {
		for i := range items {
			if items[i].UnitAmount != 0 {
				continue
			}
			if amount, ok := catalog[items[i].PriceID]; ok && amount > 0 {
				items[i].UnitAmount = amount
				changed = true
			}
		}
		return items, changed
	})
	return changed, err
}

// Subscribe registers fn to run after every mutation. The returned func
// removes it.
func (s *Store) Subscribe(fn func()) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

func (s *Store) Subscribers() int {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	return len(s.subs)
}

func (s *Store) mutate(ctx context.Context, apply func([]domain.LineItem) ([]domain.LineItem, bool)) error {
	s.mu.Lock()
	items, err := s.load(ctx)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	items, write := apply(items)
	if !write {
		s.mu.Unlock()
		return nil
	}
	err = s.save(ctx, items)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.notify()
	return nil
}

func (s *Store) load(ctx context.Context) ([]domain.LineItem, error) {
	data, err := s.storage.Get(ctx, s.key)
	if errors.Is(err, storage.ErrNotFound) {
		return []domain.LineItem{}, nil
	}
	if err != nil {
		return nil, err
	}

	items, err := domain.DecodeItems(data)
	if err != nil {
		s.log.WithError(err).Warn("persisted cart is malformed, treating it as empty")
		return []domain.LineItem{}, nil
	}
	items, changed := domain.NormalizeItems(items)
	if changed {
		s.log.Warn("persisted cart had invalid entries, normalized them")
	}
	return items, nil
}

func (s *Store) save(ctx context.Context, items []domain.LineItem) error {
	data, err := domain.EncodeItems(items)
	if err != nil {
		return err
	}
	if err := s.storage.Set(ctx, s.key, data); err != nil {
		return err
	}
	// reads that start from now on must not join one begun before this write
	s.sfg.Forget(s.key)
	return nil
}

func (s *Store) notify() {
	s.subMu.RLock()
	fns := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.RUnlock()

	for _, fn := range fns {
		fn()
	}
}

func indexOf(items []domain.LineItem, priceID string) int {
	return slices.IndexFunc(items, func(item domain.LineItem) bool {
		return item.PriceID == priceID
	})
}
