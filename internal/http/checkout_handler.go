package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/fjod/go_cart/merch-cart/internal/checkout"
)

type Checkouter interface {
	Checkout(ctx context.Context, cart checkout.Cart) (*checkout.Session, error)
}

type CheckoutHandler struct {
	carts    Carts
	checkout Checkouter
	timeout  time.Duration
}

func NewCheckoutHandler(carts Carts, checkout Checkouter, timeout time.Duration) *CheckoutHandler {
	return &CheckoutHandler{
		carts:    carts,
		checkout: checkout,
		timeout:  timeout,
	}
}

type CheckoutResponseDTO struct {
	URL string `json:"url"`
}

// POST /api/v1/checkout
//
// Browsers get a 303 to the hosted payment page; clients asking for JSON
// get the URL in the body.
func (h *CheckoutHandler) InitiateCheckout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	store, release := h.carts.Open(ctx, sessionIDFromContext(r.Context()))
	defer release()
	session, err := h.checkout.Checkout(ctx, store)
	if err != nil {
		handleCheckoutError(w, r, err)
		return
	}

	if wantsJSON(r) {
		respondJSON(w, r, http.StatusOK, CheckoutResponseDTO{URL: session.URL})
		return
	}
	http.Redirect(w, r, session.URL, http.StatusSeeOther)
}

func handleCheckoutError(w http.ResponseWriter, r *http.Request, err error) {
	var svcErr *checkout.ServiceError
	switch {
	case errors.Is(err, checkout.ErrEmptyCart):
		respondError(w, r, http.StatusBadRequest, "empty_cart", err.Error())
	case errors.As(err, &svcErr):
		details := svcErr.Body
		if details == "" && svcErr.Err != nil {
			details = svcErr.Err.Error()
		}
		respondErrorDetails(w, r, http.StatusBadGateway, "checkout_failed", svcErr.Reason, details)
	default:
		handleStoreError(w, r, err)
	}
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
