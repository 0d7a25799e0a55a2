package orders

import "time"

type Restaurant struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	DeliveryFeeCents int       `json:"delivery_fee_cents"`
	IsOpen           bool      `json:"is_open"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type MenuItem struct {
	ID           string    `json:"id"`
	RestaurantID string    `json:"restaurant_id"`
	Name         string    `json:"name"`
	PriceCents   int       `json:"price_cents"`
	Stock        int       `json:"stock"`
	IsAvailable  bool      `json:"is_available"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Address struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Label  string `json:"label"`
	Street string `json:"street"`
	City   string `json:"city"`
}

type Order struct {
	ID               string    `json:"id"`
	OrderNumber      string    `json:"order_number"`
	UserID           string    `json:"user_id"`
	RestaurantID     string    `json:"restaurant_id"`
	AddressID        string    `json:"address_id"`
	DeliveryPersonID *string   `json:"delivery_person_id,omitempty"`
	Status           Status    `json:"status"`
	TotalCents       int       `json:"total_cents"`
	DeliveryFeeCents int       `json:"delivery_fee_cents"`
	TaxCents         int       `json:"tax_cents"`
	DiscountCents    int       `json:"discount_cents"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`

	Items   []OrderItem `json:"items,omitempty"`
	Payment *Payment    `json:"payment,omitempty"`
}

type OrderItem struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	MenuItemID       string `json:"menu_item_id"`
	Quantity         int    `json:"quantity"`
	PriceCentsAtTime int    `json:"price_cents_at_time"`
}

type PaymentStatus string

const (
	PaymentPending       PaymentStatus = "PENDING"
	PaymentCompleted     PaymentStatus = "COMPLETED"
	PaymentFailed        PaymentStatus = "FAILED"
	PaymentRefundPending PaymentStatus = "REFUND_PENDING"
)

type Payment struct {
	ID            string        `json:"id"`
	OrderID       string        `json:"order_id"`
	AmountCents   int           `json:"amount_cents"`
	Method        string        `json:"method"`
	TransactionID string        `json:"transaction_id"`
	Status        PaymentStatus `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
}

// TrackingEvent rows are append-only. The status column on orders and the
// latest event here are written in the same transaction and never disagree.
type TrackingEvent struct {
	ID        int64     `json:"id"`
	OrderID   string    `json:"order_id"`
	Status    Status    `json:"status"`
	Actor     string    `json:"actor"`
	Note      string    `json:"note,omitempty"`
	Location  *string   `json:"location,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type CartLine struct {
	MenuItemID string `json:"menu_item_id"`
	Quantity   int    `json:"quantity"`
}

type Cart struct {
	RestaurantID  string     `json:"restaurant_id"`
	AddressID     string     `json:"address_id"`
	Items         []CartLine `json:"items"`
	PaymentMethod string     `json:"payment_method"`
	DiscountCents int        `json:"discount_cents"`
}

// AggregateLine carries the price snapshot taken at build time; it is what
// gets persisted as OrderItem.PriceCentsAtTime.
type AggregateLine struct {
	MenuItemID       string
	Quantity         int
	PriceCentsAtTime int
}

type OrderAggregate struct {
	UserID           string
	RestaurantID     string
	AddressID        string
	PaymentMethod    string
	Lines            []AggregateLine
	SubtotalCents    int
	DeliveryFeeCents int
	TaxCents         int
	DiscountCents    int
	TotalCents       int
}
