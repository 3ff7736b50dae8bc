// Package api lets business services in other processes publish events over
// HTTP. Every route answers 202 once the event has been handed off.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ralmosara/NetSuiteClone-sub003/internal/events"
	"github.com/ralmosara/NetSuiteClone-sub003/internal/metrics"
	"github.com/ralmosara/NetSuiteClone-sub003/internal/outbox"
	"github.com/ralmosara/NetSuiteClone-sub003/internal/ws"
)

const maxBodyBytes = 64 << 10

// Stats reports live connection counts. *ws.Registry satisfies it.
type Stats interface {
	SessionCount() int
	RoomCount() int
}

type Options struct {
	AuthToken string
	// Outbox, when set, receives every event instead of the emitter. The
	// outbox relay publishes it afterwards.
	Outbox *outbox.Store
	Logger zerolog.Logger
}

type Handler struct {
	emitter *events.Emitter
	stats   Stats
	opts    Options
	log     zerolog.Logger
}

func NewHandler(emitter *events.Emitter, stats Stats, opts Options) *Handler {
	return &Handler{emitter: emitter, stats: stats, opts: opts, log: opts.Logger}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Use(h.requireToken)
		r.Post("/notifications", h.notify)
		r.Post("/orders/{orderId}/status", h.orderStatus)
		r.Post("/inventory", h.inventory)
		r.Post("/events", h.publish)
		r.Get("/stats", h.statsHandler)
	})
}

func (h *Handler) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !ws.Authorize(r, h.opts.AuthToken) {
			h.fail(w, r, http.StatusUnauthorized, errors.New("unauthorized"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type notifyRequest struct {
	UserID       string              `json:"userId"`
	Notification events.Notification `json:"notification"`
}

type eventRequest struct {
	Room    string          `json:"room,omitempty"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type acceptedResponse struct {
	Status string `json:"status"`
	ID     string `json:"id,omitempty"`
	Seq    uint64 `json:"seq,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) notify(w http.ResponseWriter, r *http.Request) {
	var req notifyRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, http.StatusBadRequest, err)
		return
	}
	if err := events.ValidateNotification(req.UserID, req.Notification); err != nil {
		h.fail(w, r, http.StatusBadRequest, err)
		return
	}
	if h.opts.Outbox != nil {
		// The id is fixed now so the caller gets it back before the relay runs.
		if req.Notification.ID == "" {
			req.Notification.ID = uuid.NewString()
		}
		entry, err := outbox.NewEntry(outbox.KindNotification, strings.TrimSpace(req.UserID), "", req.Notification)
		if err != nil {
			h.fail(w, r, http.StatusBadRequest, err)
			return
		}
		h.store(w, r, entry, req.Notification.ID)
		return
	}

	p, err := h.emitter.Notify(req.UserID, req.Notification)
	if err != nil {
		h.fail(w, r, http.StatusBadRequest, err)
		return
	}
	h.accepted(w, r, acceptedResponse{Status: "accepted", ID: p.ID})
}

func (h *Handler) orderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := strings.TrimSpace(chi.URLParam(r, "orderId"))
	var change events.OrderStatusChange
	if err := decode(w, r, &change); err != nil {
		h.fail(w, r, http.StatusBadRequest, err)
		return
	}
	if err := events.ValidateOrderID(orderID); err != nil {
		h.fail(w, r, http.StatusBadRequest, err)
		return
	}
	if h.opts.Outbox != nil {
		h.enqueue(w, r, outbox.KindOrderStatus, orderID, "", change)
		return
	}

	if _, err := h.emitter.OrderStatusChanged(orderID, change); err != nil {
		h.fail(w, r, http.StatusBadRequest, err)
		return
	}
	h.accepted(w, r, acceptedResponse{Status: "accepted"})
}

func (h *Handler) inventory(w http.ResponseWriter, r *http.Request) {
	var change events.InventoryChange
	if err := decode(w, r, &change); err != nil {
		h.fail(w, r, http.StatusBadRequest, err)
		return
	}
	if h.opts.Outbox != nil {
		h.enqueue(w, r, outbox.KindInventory, "", "", change)
		return
	}

	h.emitter.InventoryQuantityChanged(change)
	h.accepted(w, r, acceptedResponse{Status: "accepted"})
}

// publish forwards a caller-named event. Without a room it goes to every
// session.
func (h *Handler) publish(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, http.StatusBadRequest, err)
		return
	}
	if err := events.ValidateEvent(req.Event); err != nil {
		h.fail(w, r, http.StatusBadRequest, err)
		return
	}
	room := strings.TrimSpace(req.Room)
	if h.opts.Outbox != nil {
		entry := outbox.Entry{Kind: outbox.KindEvent, Target: room, Event: req.Event, Payload: req.Payload}
		h.store(w, r, entry, "")
		return
	}

	var payload any
	if len(req.Payload) > 0 {
		payload = req.Payload
	}
	var err error
	if room == "" {
		err = h.emitter.PublishAll(req.Event, payload)
	} else {
		err = h.emitter.Publish(room, req.Event, payload)
	}
	if err != nil {
		h.fail(w, r, http.StatusBadRequest, err)
		return
	}
	h.accepted(w, r, acceptedResponse{Status: "accepted"})
}

type statsResponse struct {
	Sessions int `json:"sessions"`
	Rooms    int `json:"rooms"`
	Pending  int `json:"outboxPending"`
}

func (h *Handler) statsHandler(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{Sessions: h.stats.SessionCount(), Rooms: h.stats.RoomCount()}
	if h.opts.Outbox != nil {
		if n, err := h.opts.Outbox.Len(); err == nil {
			resp.Pending = n
		}
	}
	h.record(r, http.StatusOK)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request, kind outbox.Kind, target, event string, payload any) {
	entry, err := outbox.NewEntry(kind, target, event, payload)
	if err != nil {
		h.fail(w, r, http.StatusBadRequest, err)
		return
	}
	h.store(w, r, entry, "")
}

func (h *Handler) store(w http.ResponseWriter, r *http.Request, entry outbox.Entry, id string) {
	seq, err := h.opts.Outbox.Enqueue(entry)
	if err != nil {
		h.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	h.accepted(w, r, acceptedResponse{Status: "queued", ID: id, Seq: seq})
}

func (h *Handler) accepted(w http.ResponseWriter, r *http.Request, resp acceptedResponse) {
	h.record(r, http.StatusAccepted)
	writeJSON(w, http.StatusAccepted, resp)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, status int, err error) {
	h.record(r, status)
	ev := h.log.Debug()
	if status >= http.StatusInternalServerError {
		ev = h.log.Error()
	}
	ev.Err(err).Str("path", r.URL.Path).Int("status", status).Msg("publish request failed")
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (h *Handler) record(r *http.Request, status int) {
	route := r.URL.Path
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			route = p
		}
	}
	metrics.PublishRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
