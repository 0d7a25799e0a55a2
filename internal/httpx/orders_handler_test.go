package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feastly/feastly/internal/orders"
)

type mockOrderService struct {
	placeOrderFunc func(ctx context.Context, userID string, cart orders.Cart, idemKey string) (*orders.OrderCreated, error)
	transitionFunc func(ctx context.Context, orderID string, target orders.Status, actor string, location *string) error
	cancelFunc     func(ctx context.Context, orderID, actor, reason string) error
}

func (m *mockOrderService) PlaceOrder(ctx context.Context, userID string, cart orders.Cart, idemKey string) (*orders.OrderCreated, error) {
	return m.placeOrderFunc(ctx, userID, cart, idemKey)
}

func (m *mockOrderService) TransitionStatus(ctx context.Context, orderID string, target orders.Status, actor string, location *string) error {
	return m.transitionFunc(ctx, orderID, target, actor, location)
}

func (m *mockOrderService) Cancel(ctx context.Context, orderID, actor, reason string) error {
	return m.cancelFunc(ctx, orderID, actor, reason)
}

func newTestRouter(svc *mockOrderService) http.Handler {
	r := NewRouter()
	h := &OrdersHandler{Orders: svc}
	h.Register(r)
	return r
}

type mockCache struct {
	entries map[string]string
}

func (m *mockCache) Get(ctx context.Context, key string) (string, error) {
	return m.entries[key], nil
}

func (m *mockCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if m.entries == nil {
		m.entries = map[string]string{}
	}
	m.entries[key] = value
	return nil
}

const placeOrderBody = `{
	"user_id": "u-1",
	"idempotency_key": "idem-1",
	"restaurant_id": "r-1",
	"address_id": "a-1",
	"payment_method": "card",
	"items": [{"menu_item_id": "m-1", "quantity": 2}]
}`

func TestOrdersHandler_PlaceOrder(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		placeOrder     func(ctx context.Context, userID string, cart orders.Cart, idemKey string) (*orders.OrderCreated, error)
		expectedStatus int
		check          func(t *testing.T, body map[string]any)
	}{
		{
			name: "created",
			body: placeOrderBody,
			placeOrder: func(ctx context.Context, userID string, cart orders.Cart, idemKey string) (*orders.OrderCreated, error) {
				assert.Equal(t, "u-1", userID)
				assert.Equal(t, "idem-1", idemKey)
				assert.Equal(t, "r-1", cart.RestaurantID)
				require.Len(t, cart.Items, 1)
				assert.Equal(t, 2, cart.Items[0].Quantity)
				return &orders.OrderCreated{OrderID: "o-1", OrderNumber: "FD-0001", TotalCents: 2900}, nil
			},
			expectedStatus: http.StatusCreated,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "o-1", body["order_id"])
				assert.Equal(t, "FD-0001", body["order_number"])
			},
		},
		{
			name: "validation_error",
			body: placeOrderBody,
			placeOrder: func(ctx context.Context, userID string, cart orders.Cart, idemKey string) (*orders.OrderCreated, error) {
				return nil, &orders.ValidationError{Field: "items", Reason: "menu item m-1 is not available"}
			},
			expectedStatus: http.StatusBadRequest,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "items", body["field"])
			},
		},
		{
			name: "insufficient_stock",
			body: placeOrderBody,
			placeOrder: func(ctx context.Context, userID string, cart orders.Cart, idemKey string) (*orders.OrderCreated, error) {
				return nil, &orders.InsufficientStockError{MenuItemID: "m-1", Available: 0, Requested: 2}
			},
			expectedStatus: http.StatusBadRequest,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "m-1", body["menu_item_id"])
				assert.Equal(t, float64(0), body["available"])
				assert.Equal(t, float64(2), body["requested"])
			},
		},
		{
			name: "conflict",
			body: placeOrderBody,
			placeOrder: func(ctx context.Context, userID string, cart orders.Cart, idemKey string) (*orders.OrderCreated, error) {
				return nil, orders.ErrConflict
			},
			expectedStatus: http.StatusConflict,
		},
		{
			name:           "invalid_json",
			body:           `{"user_id":`,
			placeOrder:     nil,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "missing_fields",
			body:           `{"user_id": "u-1"}`,
			placeOrder:     nil,
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(&mockOrderService{placeOrderFunc: tt.placeOrder})

			req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			if tt.check != nil {
				var body map[string]any
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				tt.check(t, body)
			}
		})
	}
}

func TestOrdersHandler_PlaceOrder_HeaderKeyWins(t *testing.T) {
	var gotKey string
	router := newTestRouter(&mockOrderService{
		placeOrderFunc: func(ctx context.Context, userID string, cart orders.Cart, idemKey string) (*orders.OrderCreated, error) {
			gotKey = idemKey
			return &orders.OrderCreated{OrderID: "o-1", OrderNumber: "FD-0001"}, nil
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(placeOrderBody))
	req.Header.Set("Idempotency-Key", "header-key")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "header-key", gotKey)
}

func TestOrdersHandler_PlaceOrder_RepeatServedFromCache(t *testing.T) {
	calls := 0
	svc := &mockOrderService{
		placeOrderFunc: func(ctx context.Context, userID string, cart orders.Cart, idemKey string) (*orders.OrderCreated, error) {
			calls++
			return &orders.OrderCreated{OrderID: "o-1", OrderNumber: "FD-0001", TotalCents: 2900}, nil
		},
	}
	router := NewRouter()
	h := &OrdersHandler{Orders: svc, Cache: &mockCache{}}
	h.Register(router)

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	rec := post(placeOrderBody)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, 1, calls)

	// identical repeat answered from the cache, coordinator not called
	rec = post(placeOrderBody)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 1, calls)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "o-1", body["order_id"])
	assert.Equal(t, true, body["idempotent"])

	// same key with a different cart must reach the coordinator
	changed := strings.Replace(placeOrderBody, `"quantity": 2`, `"quantity": 5`, 1)
	rec = post(changed)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 2, calls)
}

func TestOrdersHandler_TransitionStatus(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		transition     func(ctx context.Context, orderID string, target orders.Status, actor string, location *string) error
		expectedStatus int
	}{
		{
			name: "ok",
			body: `{"status": "CONFIRMED", "actor": "restaurant"}`,
			transition: func(ctx context.Context, orderID string, target orders.Status, actor string, location *string) error {
				assert.Equal(t, "o-1", orderID)
				assert.Equal(t, orders.StatusConfirmed, target)
				assert.Equal(t, "restaurant", actor)
				return nil
			},
			expectedStatus: http.StatusOK,
		},
		{
			name: "invalid_transition",
			body: `{"status": "CANCELLED", "actor": "customer"}`,
			transition: func(ctx context.Context, orderID string, target orders.Status, actor string, location *string) error {
				return &orders.InvalidTransitionError{From: orders.StatusDelivered, To: target}
			},
			expectedStatus: http.StatusConflict,
		},
		{
			name: "not_found",
			body: `{"status": "CONFIRMED", "actor": "restaurant"}`,
			transition: func(ctx context.Context, orderID string, target orders.Status, actor string, location *string) error {
				return orders.ErrOrderNotFound
			},
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "missing_status",
			body:           `{"actor": "restaurant"}`,
			transition:     nil,
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(&mockOrderService{transitionFunc: tt.transition})

			req := httptest.NewRequest(http.MethodPost, "/orders/o-1/status", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tt.expectedStatus, rec.Code)
		})
	}
}

func TestOrdersHandler_CancelOrder(t *testing.T) {
	var gotReason string
	router := newTestRouter(&mockOrderService{
		cancelFunc: func(ctx context.Context, orderID, actor, reason string) error {
			gotReason = reason
			return nil
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/orders/o-1/cancel",
		strings.NewReader(`{"actor": "customer", "reason": "too slow"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "too slow", gotReason)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "CANCELLED", body["status"])
}
