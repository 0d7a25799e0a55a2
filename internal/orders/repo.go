package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OrderIdentity carries the generated identifiers for one placement attempt.
// The coordinator regenerates them on a conflict retry.
type OrderIdentity struct {
	OrderID         string
	OrderNumber     string
	TransactionID   string
	IdempotencyKey  string
	CartFingerprint string
}

// PlacedOrder is what an idempotent replay returns without re-running the
// placement transaction.
type PlacedOrder struct {
	OrderID         string
	OrderNumber     string
	TotalCents      int
	CartFingerprint string
}

type Repo struct {
	DB     *pgxpool.Pool
	Ledger Ledger
}

// CreateOrder runs the whole placement as one unit of work: every line is
// reserved through the ledger, then the order, its items, its payment and
// the initial tracking event are inserted. Any failure rolls everything
// back; partial reservation is never observable.
func (r *Repo) CreateOrder(ctx context.Context, agg *OrderAggregate, ident OrderIdentity) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("repo: begin order tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, line := range agg.Lines {
		if err := r.Ledger.Reserve(ctx, tx, line.MenuItemID, line.Quantity); err != nil {
			return err
		}
	}

	var idemKey *string
	if ident.IdempotencyKey != "" {
		idemKey = &ident.IdempotencyKey
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO orders (id, order_number, user_id, restaurant_id, address_id, status,
		                    total_cents, delivery_fee_cents, tax_cents, discount_cents,
		                    idempotency_key, cart_fingerprint)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		ident.OrderID, ident.OrderNumber, agg.UserID, agg.RestaurantID, agg.AddressID,
		string(StatusPending), agg.TotalCents, agg.DeliveryFeeCents, agg.TaxCents,
		agg.DiscountCents, idemKey, ident.CartFingerprint)
	if err != nil {
		return classifyPgError("insert order", err)
	}

	for _, line := range agg.Lines {
		_, err = tx.Exec(ctx, `
			INSERT INTO order_items (id, order_id, menu_item_id, quantity, price_cents_at_time)
			VALUES ($1, $2, $3, $4, $5)`,
			uuid.NewString(), ident.OrderID, line.MenuItemID, line.Quantity, line.PriceCentsAtTime)
		if err != nil {
			return classifyPgError("insert order item", err)
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO payments (id, order_id, amount_cents, method, transaction_id, status)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.NewString(), ident.OrderID, agg.TotalCents, agg.PaymentMethod,
		ident.TransactionID, string(PaymentPending))
	if err != nil {
		return classifyPgError("insert payment", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO order_tracking_events (order_id, status, actor, note)
		VALUES ($1, $2, $3, $4)`,
		ident.OrderID, string(StatusPending), "customer", "order placed")
	if err != nil {
		return classifyPgError("insert tracking event", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return classifyPgError("commit order", err)
	}
	return nil
}

func (r *Repo) OrderByIdempotencyKey(ctx context.Context, key string) (*PlacedOrder, error) {
	var p PlacedOrder
	err := r.DB.QueryRow(ctx, `
		SELECT id, order_number, total_cents, cart_fingerprint
		FROM orders WHERE idempotency_key = $1`, key).
		Scan(&p.OrderID, &p.OrderNumber, &p.TotalCents, &p.CartFingerprint)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("repo: select order by idempotency key: %w", err)
	}
	return &p, nil
}

// Transition locks the order row, enforces the lifecycle table, updates the
// status, appends the tracking event and, on cancellation, releases every
// reserved quantity and flags a completed payment for refund. All of it is
// one unit of work.
func (r *Repo) Transition(ctx context.Context, orderID string, target Status, actor, note string, location *string) (Status, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", fmt.Errorf("repo: begin transition tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var from Status
	err = tx.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1 FOR UPDATE`, orderID).Scan(&from)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrOrderNotFound
	}
	if err != nil {
		return "", classifyPgError("lock order", err)
	}

	if !CanTransition(from, target) {
		return from, &InvalidTransitionError{From: from, To: target}
	}

	_, err = tx.Exec(ctx, `UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`,
		orderID, string(target))
	if err != nil {
		return from, classifyPgError("update status", err)
	}

	if target == StatusCancelled {
		if err := r.releaseOrderStock(ctx, tx, orderID); err != nil {
			return from, err
		}
		// Durable signal for the external refund collaborator; the refund
		// protocol itself lives outside this system.
		_, err = tx.Exec(ctx, `
			UPDATE payments SET status = $2 WHERE order_id = $1 AND status = $3`,
			orderID, string(PaymentRefundPending), string(PaymentCompleted))
		if err != nil {
			return from, classifyPgError("flag refund", err)
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO order_tracking_events (order_id, status, actor, note, location)
		VALUES ($1, $2, $3, $4, $5)`,
		orderID, string(target), actor, note, location)
	if err != nil {
		return from, classifyPgError("insert tracking event", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return from, classifyPgError("commit transition", err)
	}
	return from, nil
}

func (r *Repo) releaseOrderStock(ctx context.Context, tx pgx.Tx, orderID string) error {
	rows, err := tx.Query(ctx, `
		SELECT menu_item_id, quantity FROM order_items WHERE order_id = $1`, orderID)
	if err != nil {
		return fmt.Errorf("repo: select order items for release: %w", err)
	}
	type line struct {
		menuItemID string
		qty        int
	}
	var lines []line
	for rows.Next() {
		var l line
		if err := rows.Scan(&l.menuItemID, &l.qty); err != nil {
			rows.Close()
			return fmt.Errorf("repo: scan order item for release: %w", err)
		}
		lines = append(lines, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("repo: iterate order items for release: %w", err)
	}

	for _, l := range lines {
		if err := r.Ledger.Release(ctx, tx, l.menuItemID, l.qty); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repo) OrderByID(ctx context.Context, orderID string) (*Order, error) {
	var o Order
	err := r.DB.QueryRow(ctx, `
		SELECT id, order_number, user_id, restaurant_id, address_id, delivery_person_id,
		       status, total_cents, delivery_fee_cents, tax_cents, discount_cents,
		       created_at, updated_at
		FROM orders WHERE id = $1`, orderID).
		Scan(&o.ID, &o.OrderNumber, &o.UserID, &o.RestaurantID, &o.AddressID,
			&o.DeliveryPersonID, &o.Status, &o.TotalCents, &o.DeliveryFeeCents,
			&o.TaxCents, &o.DiscountCents, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("repo: select order %s: %w", orderID, err)
	}

	rows, err := r.DB.Query(ctx, `
		SELECT id, order_id, menu_item_id, quantity, price_cents_at_time
		FROM order_items WHERE order_id = $1`, orderID)
	if err != nil {
		return nil, fmt.Errorf("repo: select order items %s: %w", orderID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.MenuItemID, &it.Quantity, &it.PriceCentsAtTime); err != nil {
			return nil, fmt.Errorf("repo: scan order item: %w", err)
		}
		o.Items = append(o.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo: iterate order items: %w", err)
	}

	var p Payment
	err = r.DB.QueryRow(ctx, `
		SELECT id, order_id, amount_cents, method, transaction_id, status, created_at
		FROM payments WHERE order_id = $1`, orderID).
		Scan(&p.ID, &p.OrderID, &p.AmountCents, &p.Method, &p.TransactionID, &p.Status, &p.CreatedAt)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("repo: select payment %s: %w", orderID, err)
	}
	if err == nil {
		o.Payment = &p
	}
	return &o, nil
}

func (r *Repo) TrackingEvents(ctx context.Context, orderID string) ([]TrackingEvent, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, order_id, status, actor, note, location, created_at
		FROM order_tracking_events WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("repo: select tracking events %s: %w", orderID, err)
	}
	defer rows.Close()

	events := make([]TrackingEvent, 0)
	for rows.Next() {
		var ev TrackingEvent
		if err := rows.Scan(&ev.ID, &ev.OrderID, &ev.Status, &ev.Actor, &ev.Note, &ev.Location, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("repo: scan tracking event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (r *Repo) MenuByRestaurant(ctx context.Context, restaurantID string) ([]MenuItem, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, restaurant_id, name, price_cents, stock, is_available, created_at, updated_at
		FROM menu_items WHERE restaurant_id = $1 ORDER BY name`, restaurantID)
	if err != nil {
		return nil, fmt.Errorf("repo: select menu %s: %w", restaurantID, err)
	}
	defer rows.Close()

	items := make([]MenuItem, 0)
	for rows.Next() {
		var m MenuItem
		if err := rows.Scan(&m.ID, &m.RestaurantID, &m.Name, &m.PriceCents, &m.Stock,
			&m.IsAvailable, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("repo: scan menu item: %w", err)
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

func (r *Repo) Restock(ctx context.Context, menuItemID string, qty int) error {
	return r.Ledger.Restock(ctx, r.DB, menuItemID, qty)
}

// ---- Catalog (read side for the builder) ----

func (r *Repo) RestaurantByID(ctx context.Context, id string) (*Restaurant, error) {
	var rest Restaurant
	err := r.DB.QueryRow(ctx, `
		SELECT id, name, delivery_fee_cents, is_open, created_at, updated_at
		FROM restaurants WHERE id = $1`, id).
		Scan(&rest.ID, &rest.Name, &rest.DeliveryFeeCents, &rest.IsOpen, &rest.CreatedAt, &rest.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repo: select restaurant %s: %w", id, err)
	}
	return &rest, nil
}

func (r *Repo) MenuItemsByIDs(ctx context.Context, ids []string) (map[string]MenuItem, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, restaurant_id, name, price_cents, stock, is_available, created_at, updated_at
		FROM menu_items WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("repo: select menu items: %w", err)
	}
	defer rows.Close()

	items := make(map[string]MenuItem, len(ids))
	for rows.Next() {
		var m MenuItem
		if err := rows.Scan(&m.ID, &m.RestaurantID, &m.Name, &m.PriceCents, &m.Stock,
			&m.IsAvailable, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("repo: scan menu item: %w", err)
		}
		items[m.ID] = m
	}
	return items, rows.Err()
}

func (r *Repo) AddressByID(ctx context.Context, id string) (*Address, error) {
	var a Address
	err := r.DB.QueryRow(ctx, `
		SELECT id, user_id, label, street, city FROM addresses WHERE id = $1`, id).
		Scan(&a.ID, &a.UserID, &a.Label, &a.Street, &a.City)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repo: select address %s: %w", id, err)
	}
	return &a, nil
}

// classifyPgError maps transient storage failures onto ErrConflict so the
// coordinator knows a retry with fresh identifiers is safe.
func classifyPgError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation, pgerrcode.SerializationFailure,
			pgerrcode.DeadlockDetected, pgerrcode.LockNotAvailable:
			return fmt.Errorf("%w: %s: %s", ErrConflict, op, pgErr.ConstraintName)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", ErrConflict, op, err)
	}
	return fmt.Errorf("repo: %s: %w", op, err)
}
