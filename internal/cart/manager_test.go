package cart

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/fjod/go_cart/merch-cart/internal/domain"
	"github.com/fjod/go_cart/merch-cart/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_OneStorePerSession(t *testing.T) {
	m := NewManager(storage.NewMemory(), nil, testLogger())
	ctx := context.Background()

	a, releaseA := m.Open(ctx, "a")
	defer releaseA()
	again, releaseAgain := m.Open(ctx, "a")
	defer releaseAgain()
	assert.Same(t, a, again)

	b, releaseB := m.Open(ctx, "b")
	defer releaseB()
	assert.NotSame(t, a, b)
	assert.Equal(t, "merch_cart_v1:a", a.Key())
	assert.Equal(t, "b", b.SessionID())

	require.NoError(t, a.Add(ctx, domain.ItemInput{PriceID: "P1"}))
	items, err := b.Items(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestManager_ReleasedStoresAreDropped(t *testing.T) {
	m := NewManager(storage.NewMemory(), nil, testLogger())
	ctx := context.Background()

	for i := range 1000 {
		store, release := m.Open(ctx, fmt.Sprintf("session-%d", i))
		_, err := store.Items(ctx)
		require.NoError(t, err)
		release()
	}
	assert.Equal(t, 0, m.Sessions())
}

func TestManager_StoreKeptWhileHeld(t *testing.T) {
	m := NewManager(storage.NewMemory(), nil, testLogger())
	ctx := context.Background()

	held, releaseHeld := m.Open(ctx, "s1")
	notified := 0
	held.Subscribe(func() { notified++ })

	store, release := m.Open(ctx, "s1")
	require.NoError(t, store.Add(ctx, domain.ItemInput{PriceID: "P1"}))
	release()
	release() // idempotent
	assert.Equal(t, 1, m.Sessions())
	assert.Equal(t, 1, notified)

	releaseHeld()
	assert.Equal(t, 0, m.Sessions())

	// a later open reloads the persisted cart
	store, release = m.Open(ctx, "s1")
	defer release()
	assert.NotSame(t, held, store)
	items, err := store.Items(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestManager_ConcurrentHoldersShareStore(t *testing.T) {
	m := NewManager(storage.NewMemory(), nil, testLogger())
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store, release := m.Open(ctx, "s1")
			defer release()
			assert.NoError(t, store.Add(ctx, domain.ItemInput{PriceID: "P1"}))
		}()
	}
	wg.Wait()

	store, release := m.Open(ctx, "s1")
	defer release()
	items, err := store.Items(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 50, items[0].Quantity)
}

func TestManager_BackfillsOnFirstOpen(t *testing.T) {
	mem := storage.NewMemory()
	ctx := context.Background()
	require.NoError(t, mem.Set(ctx, KeyFor("s1"), []byte(`[{"priceId":"price_a","kind":"physical","qty":1}]`)))

	m := NewManager(mem, map[string]int64{"price_a": 2750}, testLogger())
	store, release := m.Open(ctx, "s1")
	defer release()
	items, err := store.Items(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int64(2750), items[0].UnitAmount)
}

func TestManager_ClearSession(t *testing.T) {
	m := NewManager(storage.NewMemory(), nil, testLogger())
	ctx := context.Background()
	store, release := m.Open(ctx, "s1")
	defer release()
	require.NoError(t, store.Add(ctx, domain.ItemInput{PriceID: "P1"}))

	notified := false
	store.Subscribe(func() { notified = true })

	require.NoError(t, m.ClearSession(ctx, "s1"))
	items, err := store.Items(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.True(t, notified)
	assert.Equal(t, 1, m.Sessions())
	assert.NoError(t, m.Ping(ctx))
}
