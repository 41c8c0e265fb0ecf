package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxResponseBody = 1 << 20

// Item is one line of the order intent. Display fields and amounts are never
// sent; the checkout service owns pricing.
type Item struct {
	PriceID  string `json:"priceId"`
	Quantity int    `json:"quantity"`
}

type Request struct {
	Items         []Item `json:"items"`
	NeedsShipping bool   `json:"needsShipping"`
}

// Session is the hosted payment page returned by the checkout service.
type Session struct {
	URL string `json:"url"`
}

type response struct {
	status int
	body   []byte
}

// Client posts order intents to the hosted checkout endpoint. Calls go
// through a circuit breaker so a dead endpoint fails fast.
type Client struct {
	url  string
	http *http.Client
	cb   *gobreaker.CircuitBreaker[*response]
}

func NewClient(endpoint string, timeout time.Duration, log logrus.FieldLogger) *Client {
	st := gobreaker.Settings{
		Name:        "CheckoutService",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warnf("CircuitBreaker[%s] state changed from %s to %s", name, from, to)
		},
		// requests the caller abandoned count neither way
		IsExcluded: func(err error) bool {
			var gone *callerGoneError
			return errors.As(err, &gone)
		},
	}

	return &Client{
		url: endpoint,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		cb: gobreaker.NewCircuitBreaker[*response](st),
	}
}

// Create sends req and returns the session URL. Any failure comes back as a
// *ServiceError.
func (c *Client) Create(ctx context.Context, req Request) (*Session, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, &ServiceError{Reason: "encode checkout request", Err: err}
	}

	var resp *response
	_, err = c.cb.Execute(func() (*response, error) {
		r, err := c.post(ctx, payload)
		resp = r
		if err != nil && ctx.Err() != nil {
			return r, &callerGoneError{err: err}
		}
		return r, err
	})
	if err != nil {
		var gone *callerGoneError
		if errors.As(err, &gone) {
			return nil, &ServiceError{Reason: "checkout request cancelled", Err: gone.err}
		}
		if resp != nil {
			return nil, &ServiceError{Status: resp.status, Reason: "checkout creation failed", Body: text(resp.body), Err: err}
		}
		return nil, &ServiceError{Reason: "checkout service unreachable", Err: err}
	}

	if resp.status < 200 || resp.status > 299 {
		return nil, &ServiceError{Status: resp.status, Reason: "checkout creation failed", Body: text(resp.body)}
	}

	var session Session
	if err := json.Unmarshal(resp.body, &session); err != nil {
		return nil, &ServiceError{Status: resp.status, Reason: "checkout response is not JSON", Body: text(resp.body), Err: err}
	}
	if strings.TrimSpace(session.URL) == "" {
		return nil, &ServiceError{Status: resp.status, Reason: "checkout response has no url", Body: text(resp.body)}
	}
	return &session, nil
}

func (c *Client) post(ctx context.Context, payload []byte) (*response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "build checkout request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "post checkout request")
	}
	defer res.Body.Close()

	// read the raw text first so non-JSON errors can still be reported
	body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBody))
	if err != nil {
		return nil, errors.Wrap(err, "read checkout response")
	}

	resp := &response{status: res.StatusCode, body: body}
	if res.StatusCode >= http.StatusInternalServerError {
		// server faults count against the breaker
		return resp, fmt.Errorf("checkout service returned %d", res.StatusCode)
	}
	return resp, nil
}

// callerGoneError is a post that failed because the caller's context ended.
type callerGoneError struct {
	err error
}

func (e *callerGoneError) Error() string { return e.err.Error() }

func (e *callerGoneError) Unwrap() error { return e.err }

func text(body []byte) string {
	return strings.TrimSpace(string(body))
}
