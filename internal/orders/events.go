package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderPlaced   = "OrderPlaced"
	EventStatusChanged = "OrderStatusChanged"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id
	Payload       json.RawMessage `json:"payload"`
}

type LineQty struct {
	MenuItemID string `json:"menu_item_id"`
	Quantity   int    `json:"quantity"`
}

type OrderPlacedPayload struct {
	OrderID      string    `json:"order_id"`
	OrderNumber  string    `json:"order_number"`
	UserID       string    `json:"user_id"`
	RestaurantID string    `json:"restaurant_id"`
	Items        []LineQty `json:"items"`
	TotalCents   int       `json:"total_cents"`
}

type StatusChangedPayload struct {
	OrderID  string  `json:"order_id"`
	From     Status  `json:"from"`
	To       Status  `json:"to"`
	Actor    string  `json:"actor"`
	Note     string  `json:"note,omitempty"`
	Location *string `json:"location,omitempty"`
}
