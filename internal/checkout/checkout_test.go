package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fjod/go_cart/merch-cart/internal/domain"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type fakeCart struct {
	items []domain.LineItem
	err   error
}

func (f fakeCart) SessionID() string { return "sess-1" }

func (f fakeCart) Items(context.Context) ([]domain.LineItem, error) {
	return f.items, f.err
}

type mockRecorder struct {
	mu       sync.Mutex
	attempts []Attempt
}

func (m *mockRecorder) Record(_ context.Context, a Attempt) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, a)
}

// checkoutServer fakes the hosted checkout endpoint.
type checkoutServer struct {
	*httptest.Server
	calls    atomic.Int32
	mu       sync.Mutex
	lastBody []byte
}

func newCheckoutServer(t *testing.T, status int, body string) *checkoutServer {
	cs := &checkoutServer{}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cs.calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		b, _ := io.ReadAll(r.Body)
		cs.mu.Lock()
		cs.lastBody = b
		cs.mu.Unlock()
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(cs.Close)
	return cs
}

func (cs *checkoutServer) body() []byte {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.lastBody
}

func newTestInitiator(url string, rec Recorder) *Initiator {
	return NewInitiator(NewClient(url, 5*time.Second, testLogger()), rec, testLogger())
}

func TestCheckout_PostsItemsAndShippingFlag(t *testing.T) {
	srv := newCheckoutServer(t, http.StatusOK, `{"url":"https://pay.example.com/c/cs_123"}`)
	rec := &mockRecorder{}
	initiator := newTestInitiator(srv.URL, rec)

	cart := fakeCart{items: []domain.LineItem{
		{PriceID: "P1", Name: "Download", Kind: domain.KindDigital, UnitAmount: 1000, Quantity: 1},
		{PriceID: "P2", Name: "CD", Kind: domain.KindPhysical, UnitAmount: 2750, Quantity: 2, Img: "cd.jpg"},
	}}

	session, err := initiator.Checkout(context.Background(), cart)
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example.com/c/cs_123", session.URL)
	assert.Equal(t, int32(1), srv.calls.Load())
	assert.JSONEq(t,
		`{"items":[{"priceId":"P1","quantity":1},{"priceId":"P2","quantity":2}],"needsShipping":true}`,
		string(srv.body()))

	require.Len(t, rec.attempts, 1)
	assert.Equal(t, "sess-1", rec.attempts[0].SessionID)
	assert.Equal(t, session.URL, rec.attempts[0].URL)
	assert.Empty(t, rec.attempts[0].Error)
}

func TestCheckout_DigitalOnlyNeedsNoShipping(t *testing.T) {
	srv := newCheckoutServer(t, http.StatusOK, `{"url":"https://pay.example.com/x"}`)
	initiator := newTestInitiator(srv.URL, nil)

	_, err := initiator.Checkout(context.Background(), fakeCart{items: []domain.LineItem{
		{PriceID: "P1", Kind: domain.KindDigital, Quantity: 3},
	}})
	require.NoError(t, err)

	var sent map[string]any
	require.NoError(t, json.Unmarshal(srv.body(), &sent))
	assert.Equal(t, false, sent["needsShipping"])
	assert.NotContains(t, string(srv.body()), "unitAmount")
}

func TestCheckout_EmptyCartMakesNoCall(t *testing.T) {
	srv := newCheckoutServer(t, http.StatusOK, `{"url":"https://pay.example.com/x"}`)
	rec := &mockRecorder{}
	initiator := newTestInitiator(srv.URL, rec)

	session, err := initiator.Checkout(context.Background(), fakeCart{items: []domain.LineItem{}})
	assert.ErrorIs(t, err, ErrEmptyCart)
	assert.Nil(t, session)
	assert.Equal(t, int32(0), srv.calls.Load())
	assert.Empty(t, rec.attempts)
}

func TestCheckout_CartReadError(t *testing.T) {
	srv := newCheckoutServer(t, http.StatusOK, `{"url":"https://pay.example.com/x"}`)
	boom := errors.New("storage down")

	_, err := newTestInitiator(srv.URL, nil).Checkout(context.Background(), fakeCart{err: boom})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(0), srv.calls.Load())
}

func TestCheckout_ServiceFailures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
	}{
		{"bad request", http.StatusBadRequest, `invalid price: P9`},
		{"server error", http.StatusInternalServerError, `worker crashed`},
		{"not json", http.StatusOK, `<html>oops</html>`},
		{"missing url", http.StatusOK, `{"id":"cs_123"}`},
		{"blank url", http.StatusOK, `{"url":"  "}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newCheckoutServer(t, tc.status, tc.body)
			rec := &mockRecorder{}

			_, err := newTestInitiator(srv.URL, rec).Checkout(context.Background(), fakeCart{items: []domain.LineItem{
				{PriceID: "P1", Kind: domain.KindDigital, Quantity: 1},
			}})

			var svcErr *ServiceError
			require.ErrorAs(t, err, &svcErr)
			assert.Equal(t, tc.status, svcErr.Status)
			assert.Equal(t, tc.body, svcErr.Body)
			assert.Contains(t, err.Error(), tc.body)

			require.Len(t, rec.attempts, 1)
			assert.NotEmpty(t, rec.attempts[0].Error)
			assert.Empty(t, rec.attempts[0].URL)
		})
	}
}

func TestCheckout_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newTestInitiator(url, nil).Checkout(context.Background(), fakeCart{items: []domain.LineItem{
		{PriceID: "P1", Quantity: 1},
	}})

	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, 0, svcErr.Status)
	assert.NotNil(t, svcErr.Unwrap())
}

func TestClient_BreakerOpensAfterRepeatedServerErrors(t *testing.T) {
	srv := newCheckoutServer(t, http.StatusBadGateway, `upstream down`)
	client := NewClient(srv.URL, 5*time.Second, testLogger())
	req := Request{Items: []Item{{PriceID: "P1", Quantity: 1}}}

	for range 5 {
		_, err := client.Create(context.Background(), req)
		require.Error(t, err)
	}
	assert.Equal(t, int32(5), srv.calls.Load())

	_, err := client.Create(context.Background(), req)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(5), srv.calls.Load())
}

func TestClient_ClientErrorsDoNotTripBreaker(t *testing.T) {
	srv := newCheckoutServer(t, http.StatusBadRequest, `bad`)
	client := NewClient(srv.URL, 5*time.Second, testLogger())

	for range 8 {
		_, err := client.Create(context.Background(), Request{})
		require.Error(t, err)
	}
	assert.Equal(t, int32(8), srv.calls.Load())
}

func TestClient_CallerCancellationDoesNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(200 * time.Millisecond):
		case <-r.Context().Done():
			return
		}
		io.WriteString(w, `{"url":"https://pay.example.com/c/cs_ok"}`)
	}))
	t.Cleanup(srv.Close)
	client := NewClient(srv.URL, 5*time.Second, testLogger())
	req := Request{Items: []Item{{PriceID: "P1", Quantity: 1}}}

	for range 5 {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		_, err := client.Create(ctx, req)
		cancel()
		var svcErr *ServiceError
		require.ErrorAs(t, err, &svcErr)
		assert.Equal(t, "checkout request cancelled", svcErr.Reason)
	}

	session, err := client.Create(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example.com/c/cs_ok", session.URL)
}

func TestBuildRequest(t *testing.T) {
	req := BuildRequest([]domain.LineItem{
		{PriceID: "P1", Kind: domain.KindDigital, Quantity: 1},
		{PriceID: "P2", Kind: domain.KindPhysical, Quantity: 2},
	})
	assert.Equal(t, Request{
		Items:         []Item{{PriceID: "P1", Quantity: 1}, {PriceID: "P2", Quantity: 2}},
		NeedsShipping: true,
	}, req)
}
