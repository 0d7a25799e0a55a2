package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// execQuerier is satisfied by both *pgxpool.Pool and pgx.Tx, so the ledger
// can run inside a caller's transaction or standalone.
type execQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Ledger owns menu_items.stock. Stock is only ever touched through these
// three statements; each is a single atomic conditional update evaluated by
// the storage engine, so there is no read-then-write window for concurrent
// reservations to race through.
type Ledger struct{}

// Reserve decrements stock by qty only if enough remains. Run inside the
// order's transaction: a later abort rolls the decrement back with the rest
// of the unit of work.
func (l Ledger) Reserve(ctx context.Context, q execQuerier, menuItemID string, qty int) error {
	ct, err := q.Exec(ctx, `
		UPDATE menu_items
		SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND stock >= $2`, menuItemID, qty)
	if err != nil {
		return fmt.Errorf("ledger: reserve %s: %w", menuItemID, err)
	}
	if ct.RowsAffected() == 1 {
		return nil
	}

	var available int
	err = q.QueryRow(ctx, `SELECT stock FROM menu_items WHERE id = $1`, menuItemID).Scan(&available)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrMenuItemNotFound, menuItemID)
	}
	if err != nil {
		return fmt.Errorf("ledger: read stock %s: %w", menuItemID, err)
	}
	return &InsufficientStockError{MenuItemID: menuItemID, Available: available, Requested: qty}
}

// Release is the compensating increment, bounded by what was reserved for
// the order being rolled back or cancelled.
func (l Ledger) Release(ctx context.Context, q execQuerier, menuItemID string, qty int) error {
	ct, err := q.Exec(ctx, `
		UPDATE menu_items
		SET stock = stock + $2, updated_at = now()
		WHERE id = $1`, menuItemID, qty)
	if err != nil {
		return fmt.Errorf("ledger: release %s: %w", menuItemID, err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrMenuItemNotFound, menuItemID)
	}
	return nil
}

// Restock is the independent top-up path used by restaurant staff; it does
// not belong to any order's unit of work.
func (l Ledger) Restock(ctx context.Context, q execQuerier, menuItemID string, qty int) error {
	if qty <= 0 {
		return &ValidationError{Field: "quantity", Reason: "restock quantity must be positive"}
	}
	return l.Release(ctx, q, menuItemID, qty)
}
