package http

import (
	"fmt"
	"net/http"
	"time"
)

const eventCartUpdated = "cart:updated"

// EventsHandler streams a payload-less cart:updated event to the browser
// every time the session's cart changes.
type EventsHandler struct {
	carts     Carts
	heartbeat time.Duration
}

func NewEventsHandler(carts Carts, heartbeat time.Duration) *EventsHandler {
	return &EventsHandler{carts: carts, heartbeat: heartbeat}
}

// GET /api/v1/cart/events
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, r, http.StatusInternalServerError, "streaming_unsupported", "streaming is not supported")
		return
	}

	ctx := r.Context()
	store, release := h.carts.Open(ctx, sessionIDFromContext(ctx))
	defer release()

	// Bursts of changes collapse into one pending signal.
	changed := make(chan struct{}, 1)
	unsubscribe := store.Subscribe(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	log := loggerFromContext(ctx)
	log.Debug("cart event stream opened")
	for {
		select {
		case <-ctx.Done():
			log.Debug("cart event stream closed")
			return
		case <-changed:
			if _, err := fmt.Fprintf(w, "event: %s\ndata: {}\n\n", eventCartUpdated); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
