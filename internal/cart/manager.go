package cart

import (
	"context"
	"sync"

	"github.com/fjod/go_cart/merch-cart/internal/storage"
	"github.com/sirupsen/logrus"
)

// Manager hands out one Store per browser session. All stores share the
// same backend. A store lives only while someone holds it: requests hold it
// for their duration, event streams for the life of the connection.
type Manager struct {
	storage storage.Storage
	catalog map[string]int64
	log     logrus.FieldLogger

	mu     sync.Mutex
	stores map[string]*lease
}

type lease struct {
	store *Store
	refs  int
}

// NewManager builds a Manager. catalog may be nil; when set, a store is
// backfilled from it every time it is loaded into memory.
func NewManager(s storage.Storage, catalog map[string]int64, log logrus.FieldLogger) *Manager {
	return &Manager{
		storage: s,
		catalog: catalog,
		log:     log,
		stores:  make(map[string]*lease),
	}
}

// Open returns the session's store and a release func that must be called
// once the caller is done with it. Concurrent holders share one Store, so
// their mutations are serialized and their subscribers notified.
func (m *Manager) Open(ctx context.Context, sessionID string) (*Store, func()) {
	m.mu.Lock()
	l, ok := m.stores[sessionID]
	if !ok {
		l = &lease{store: NewStore(m.storage, sessionID, m.log)}
		m.stores[sessionID] = l
	}
	l.refs++
	m.mu.Unlock()

	if !ok {
		if _, err := l.store.Backfill(ctx, m.catalog); err != nil {
			m.log.WithError(err).WithField("session", sessionID).Warn("price backfill failed")
		}
	}

	var once sync.Once
	return l.store, func() {
		once.Do(func() { m.release(sessionID, l) })
	}
}

func (m *Manager) release(sessionID string, l *lease) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.refs--
	if l.refs <= 0 && m.stores[sessionID] == l {
		delete(m.stores, sessionID)
	}
}

// Sessions reports how many stores are currently held.
func (m *Manager) Sessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stores)
}

// ClearSession empties a session's cart, e.g. once its checkout completed.
func (m *Manager) ClearSession(ctx context.Context, sessionID string) error {
	store, release := m.Open(ctx, sessionID)
	defer release()
	return store.Clear(ctx)
}

func (m *Manager) Ping(ctx context.Context) error {
	return m.storage.Ping(ctx)
}
