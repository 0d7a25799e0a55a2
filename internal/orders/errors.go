package orders

import (
	"errors"
	"fmt"
)

var (
	// ErrConflict marks transient commit failures (uniqueness collision,
	// lock timeout). Safe to retry with a fresh attempt.
	ErrConflict = errors.New("conflicting write, retry")

	ErrOrderNotFound    = errors.New("order not found")
	ErrMenuItemNotFound = errors.New("menu item not found")
)

// ValidationError means the cart fails a business rule. Retrying the same
// request will not help.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// InsufficientStockError is returned when a reservation cannot be satisfied.
// Available reflects the stock at the moment the reservation was refused.
type InsufficientStockError struct {
	MenuItemID string
	Available  int
	Requested  int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for menu item %s: requested %d, available %d",
		e.MenuItemID, e.Requested, e.Available)
}

type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition from %s to %s", e.From, e.To)
}
