package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/feastly/feastly/internal/orders"
	"github.com/feastly/feastly/internal/redisx"
)

// OrderService is the core entry point; the HTTP layer only maps typed
// results onto status codes.
type OrderService interface {
	PlaceOrder(ctx context.Context, userID string, cart orders.Cart, idemKey string) (*orders.OrderCreated, error)
	TransitionStatus(ctx context.Context, orderID string, target orders.Status, actor string, location *string) error
	Cancel(ctx context.Context, orderID, actor, reason string) error
}

// Cache is the slice of Redis the handlers use; redisx.Cache in production,
// nil disables caching.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

type OrdersHandler struct {
	Orders OrderService
	Repo   *orders.Repo
	Cache  Cache
}

// idemEntry is what the idempotency fast path stores per key: the original
// response plus the cart fingerprint, so a key reused with a different cart
// still falls through to the coordinator.
type idemEntry struct {
	CartFingerprint string              `json:"cart_fingerprint"`
	Order           orders.OrderCreated `json:"order"`
}

type PlaceOrderReq struct {
	// UserID arrives pre-authenticated from the gateway; no authz here.
	UserID         string `json:"user_id"`
	IdempotencyKey string `json:"idempotency_key"`
	orders.Cart
}

type TransitionReq struct {
	Status   string  `json:"status"`
	Actor    string  `json:"actor"`
	Location *string `json:"location,omitempty"`
}

type CancelReq struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

type RestockReq struct {
	Quantity int `json:"quantity"`
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Post("/orders", h.placeOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/tracking", h.getTracking)
	r.Post("/orders/{id}/status", h.transitionStatus)
	r.Post("/orders/{id}/cancel", h.cancelOrder)
	r.Get("/restaurants/{id}/menu", h.listMenu)
	r.Post("/menu-items/{id}/restock", h.restock)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the core error taxonomy onto HTTP codes: business
// validation and stock shortage are 400, retryable conflicts and illegal
// transitions 409, unknown ids 404.
func writeError(w http.ResponseWriter, err error) {
	var ve *orders.ValidationError
	if errors.As(err, &ve) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": ve.Reason, "field": ve.Field})
		return
	}
	var ise *orders.InsufficientStockError
	if errors.As(err, &ise) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":        "insufficient stock",
			"menu_item_id": ise.MenuItemID,
			"available":    ise.Available,
			"requested":    ise.Requested,
		})
		return
	}
	var ite *orders.InvalidTransitionError
	if errors.As(err, &ite) {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": "invalid status transition",
			"from":  ite.From.String(),
			"to":    ite.To.String(),
		})
		return
	}
	switch {
	case errors.Is(err, orders.ErrConflict):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "conflict, please retry"})
	case errors.Is(err, orders.ErrOrderNotFound), errors.Is(err, orders.ErrMenuItemNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func (h *OrdersHandler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.RestaurantID == "" || req.AddressID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing fields"})
		return
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		req.IdempotencyKey = key
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	fingerprint := orders.CartFingerprint(req.UserID, req.Cart)
	var idemKey string
	if req.IdempotencyKey != "" {
		idemKey = fmt.Sprintf(redisx.KeyIdemOrderPlace, req.IdempotencyKey)
	}

	// Redis fast path for repeats; the DB stays the source of truth, so a
	// cache error or mismatch just falls through to the coordinator.
	if h.Cache != nil && idemKey != "" {
		if raw, err := h.Cache.Get(ctx, idemKey); err == nil && raw != "" {
			var entry idemEntry
			if json.Unmarshal([]byte(raw), &entry) == nil && entry.CartFingerprint == fingerprint {
				entry.Order.Idempotent = true
				writeJSON(w, http.StatusCreated, &entry.Order)
				return
			}
		}
	}

	created, err := h.Orders.PlaceOrder(ctx, req.UserID, req.Cart, req.IdempotencyKey)
	if err != nil {
		writeError(w, err)
		return
	}

	if h.Cache != nil {
		if idemKey != "" {
			if b, merr := json.Marshal(idemEntry{CartFingerprint: fingerprint, Order: *created}); merr == nil {
				_ = h.Cache.Set(ctx, idemKey, string(b), redisx.TTLIdempotency)
			}
		}
		statusKey := fmt.Sprintf(redisx.KeyOrderStatus, created.OrderID)
		_ = h.Cache.Set(ctx, statusKey, `{"status":"PENDING"}`, redisx.TTLStatusCache)
	}

	writeJSON(w, http.StatusCreated, created)
}

func (h *OrdersHandler) transitionStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	var req TransitionReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.Status == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing status"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Orders.TransitionStatus(ctx, orderID, orders.Status(req.Status), req.Actor, req.Location); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"order_id": orderID, "status": req.Status})
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	var req CancelReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Orders.Cancel(ctx, orderID, req.Actor, req.Reason); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"order_id": orderID, "status": orders.StatusCancelled.String()})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	order, err := h.Repo.OrderByID(ctx, orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *OrdersHandler) getTracking(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// current status from cache when warm
	var cached json.RawMessage
	if h.Cache != nil {
		key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
		if s, err := h.Cache.Get(ctx, key); err == nil && s != "" {
			cached = json.RawMessage(s)
		}
	}

	events, err := h.Repo.TrackingEvents(ctx, orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(events) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"order_id": orderID,
		"current":  cached,
		"events":   events,
	})
}

func (h *OrdersHandler) listMenu(w http.ResponseWriter, r *http.Request) {
	restaurantID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	items, err := h.Repo.MenuByRestaurant(ctx, restaurantID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *OrdersHandler) restock(w http.ResponseWriter, r *http.Request) {
	menuItemID := chi.URLParam(r, "id")
	var req RestockReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.Repo.Restock(ctx, menuItemID, req.Quantity); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"menu_item_id": menuItemID, "added": req.Quantity})
}
