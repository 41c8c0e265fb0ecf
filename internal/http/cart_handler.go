package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fjod/go_cart/merch-cart/internal/cart"
	"github.com/fjod/go_cart/merch-cart/internal/domain"
	"github.com/go-chi/chi/v5"
)

// Carts opens the cart of a browser session. The returned func releases it.
type Carts interface {
	Open(ctx context.Context, sessionID string) (*cart.Store, func())
	Ping(ctx context.Context) error
}

type CartHandler struct {
	carts   Carts
	catalog map[string]int64
	timeout time.Duration
}

func NewCartHandler(carts Carts, catalog map[string]int64, timeout time.Duration) *CartHandler {
	return &CartHandler{
		carts:   carts,
		catalog: catalog,
		timeout: timeout,
	}
}

// AddItemRequestDTO mirrors the data attributes of an add-to-cart button.
// Numbers may arrive as JSON numbers or numeric strings.
type AddItemRequestDTO struct {
	PriceID    string          `json:"priceId"`
	Name       *string         `json:"name"`
	Kind       *string         `json:"kind"`
	Img        *string         `json:"img"`
	Slug       *string         `json:"slug"`
	UnitAmount json.RawMessage `json:"unitAmount"`
	Price      json.RawMessage `json:"price"`
	Quantity   json.RawMessage `json:"qty"`
}

type UpdateQuantityRequestDTO struct {
	Quantity      json.RawMessage `json:"qty"`
	QuantityAlias json.RawMessage `json:"quantity"`
}

type CartResponseDTO struct {
	Items []domain.LineItem `json:"items"`
	domain.Summary
	SubtotalLabel string `json:"subtotalLabel"`
	NeedsShipping bool   `json:"needsShipping"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	store, release := h.store(ctx, r)
	defer release()
	h.respondCart(ctx, w, r, store, http.StatusOK)
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	in, code, msg := h.itemInput(req)
	if code != "" {
		respondError(w, r, http.StatusBadRequest, code, msg)
		return
	}

	store, release := h.store(ctx, r)
	defer release()
	if err := store.Add(ctx, in); err != nil {
		handleStoreError(w, r, err)
		return
	}
	h.respondCart(ctx, w, r, store, http.StatusCreated)
}

func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	priceID := chi.URLParam(r, "price_id")
	if strings.TrimSpace(priceID) == "" {
		respondError(w, r, http.StatusBadRequest, "invalid_price_id", "price_id is required")
		return
	}

	var req UpdateQuantityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	raw := req.Quantity
	if isAbsent(raw) {
		raw = req.QuantityAlias
	}
	if isAbsent(raw) {
		respondError(w, r, http.StatusBadRequest, "invalid_quantity", "qty is required")
		return
	}

	store, release := h.store(ctx, r)
	defer release()
	if err := store.SetQuantity(ctx, priceID, quantityFrom(raw)); err != nil {
		handleStoreError(w, r, err)
		return
	}
	h.respondCart(ctx, w, r, store, http.StatusOK)
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	priceID := chi.URLParam(r, "price_id")
	if strings.TrimSpace(priceID) == "" {
		respondError(w, r, http.StatusBadRequest, "invalid_price_id", "price_id is required")
		return
	}

	store, release := h.store(ctx, r)
	defer release()
	if err := store.Remove(ctx, priceID); err != nil {
		handleStoreError(w, r, err)
		return
	}
	h.respondCart(ctx, w, r, store, http.StatusOK)
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	store, release := h.store(ctx, r)
	defer release()
	if err := store.Clear(ctx); err != nil {
		handleStoreError(w, r, err)
		return
	}
	h.respondCart(ctx, w, r, store, http.StatusOK)
}

func (h *CartHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.carts.Ping(ctx); err != nil {
		loggerFromContext(r.Context()).WithError(err).Warn("storage ping failed")
		respondJSON(w, r, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	respondJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *CartHandler) store(ctx context.Context, r *http.Request) (*cart.Store, func()) {
	return h.carts.Open(ctx, sessionIDFromContext(r.Context()))
}

func (h *CartHandler) respondCart(ctx context.Context, w http.ResponseWriter, r *http.Request, store *cart.Store, status int) {
	items, err := store.Items(ctx)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	summary := domain.Summarize(items)
	respondJSON(w, r, status, CartResponseDTO{
		Items:         items,
		Summary:       summary,
		SubtotalLabel: domain.FormatYen(summary.Subtotal),
		NeedsShipping: domain.NeedsShipping(items),
	})
}

// itemInput validates an add request. A non-empty code reports a 400.
func (h *CartHandler) itemInput(req AddItemRequestDTO) (domain.ItemInput, string, string) {
	priceID := strings.TrimSpace(req.PriceID)
	if priceID == "" {
		return domain.ItemInput{}, "invalid_price_id", "priceId is required"
	}

	in := domain.ItemInput{
		PriceID: priceID,
		Name:    req.Name,
		Img:     req.Img,
		Slug:    req.Slug,
	}
	if req.Kind != nil {
		kind, ok := domain.ParseKind(*req.Kind)
		if !ok {
			return domain.ItemInput{}, "invalid_kind", "kind must be digital or physical"
		}
		in.Kind = &kind
	}
	if !isAbsent(req.Quantity) {
		in.Quantity = quantityFrom(req.Quantity)
	}
	in.UnitAmount = h.unitAmount(priceID, req)
	return in, "", ""
}

// unitAmount picks the first positive candidate: the request's unitAmount,
// then its price, then the catalog. Nil keeps a stored amount as is.
func (h *CartHandler) unitAmount(priceID string, req AddItemRequestDTO) *int64 {
	for _, raw := range []json.RawMessage{req.UnitAmount, req.Price} {
		if v, ok := amountFrom(raw); ok && v > 0 {
			return &v
		}
	}
	if v, ok := h.catalog[priceID]; ok && v > 0 {
		return &v
	}
	return nil
}

func isAbsent(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// quantityFrom coerces a JSON number or string into a quantity in [1, 99].
func quantityFrom(raw json.RawMessage) int {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return domain.CoerceQuantity(s)
	}
	return domain.CoerceQuantity(string(raw))
}

func amountFrom(raw json.RawMessage) (int64, bool) {
	if isAbsent(raw) {
		return 0, false
	}
	text := string(raw)
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		text = s
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int64(math.Trunc(f)), true
}

func handleStoreError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, cart.ErrMissingPriceID) {
		respondError(w, r, http.StatusBadRequest, "invalid_price_id", err.Error())
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		respondError(w, r, http.StatusGatewayTimeout, "timeout", "storage did not answer in time")
		return
	}
	loggerFromContext(r.Context()).WithError(err).Error("cart storage failed")
	respondError(w, r, http.StatusServiceUnavailable, "storage_unavailable", "cart storage is unavailable")
}

func respondJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		loggerFromContext(r.Context()).WithError(err).Warn("failed to encode response")
	}
}

func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	respondErrorDetails(w, r, status, code, message, "")
}

func respondErrorDetails(w http.ResponseWriter, r *http.Request, status int, code, message, details string) {
	respondJSON(w, r, status, ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
}
