package orders

import (
	"context"
	"fmt"
)

// Catalog is the read-only view the builder prices against. Implemented by
// Repo; mocked in tests.
type Catalog interface {
	RestaurantByID(ctx context.Context, id string) (*Restaurant, error)
	MenuItemsByIDs(ctx context.Context, ids []string) (map[string]MenuItem, error)
	AddressByID(ctx context.Context, id string) (*Address, error)
}

// Builder turns a raw cart into a priced, validated aggregate. It performs
// no writes; prices come from the catalog at build time and are frozen into
// the aggregate (never recomputed from later menu prices).
type Builder struct {
	Catalog   Catalog
	TaxRateBP int // tax rate in basis points applied to the item subtotal
}

func (b *Builder) Build(ctx context.Context, userID string, cart Cart) (*OrderAggregate, error) {
	if len(cart.Items) == 0 {
		return nil, &ValidationError{Field: "items", Reason: "cart must contain at least one item"}
	}
	if cart.DiscountCents < 0 {
		return nil, &ValidationError{Field: "discount_cents", Reason: "discount cannot be negative"}
	}

	ids := make([]string, 0, len(cart.Items))
	seen := make(map[string]bool, len(cart.Items))
	for _, line := range cart.Items {
		if line.Quantity <= 0 {
			return nil, &ValidationError{
				Field:  "items",
				Reason: fmt.Sprintf("quantity for menu item %s must be positive", line.MenuItemID),
			}
		}
		if seen[line.MenuItemID] {
			return nil, &ValidationError{
				Field:  "items",
				Reason: fmt.Sprintf("menu item %s appears more than once", line.MenuItemID),
			}
		}
		seen[line.MenuItemID] = true
		ids = append(ids, line.MenuItemID)
	}

	rest, err := b.Catalog.RestaurantByID(ctx, cart.RestaurantID)
	if err != nil {
		return nil, fmt.Errorf("builder: load restaurant %s: %w", cart.RestaurantID, err)
	}
	if rest == nil {
		return nil, &ValidationError{Field: "restaurant_id", Reason: "restaurant does not exist"}
	}
	if !rest.IsOpen {
		return nil, &ValidationError{Field: "restaurant_id", Reason: "restaurant is not accepting orders"}
	}

	addr, err := b.Catalog.AddressByID(ctx, cart.AddressID)
	if err != nil {
		return nil, fmt.Errorf("builder: load address %s: %w", cart.AddressID, err)
	}
	if addr == nil || addr.UserID != userID {
		return nil, &ValidationError{Field: "address_id", Reason: "address does not belong to user"}
	}

	menu, err := b.Catalog.MenuItemsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("builder: load menu items: %w", err)
	}

	agg := &OrderAggregate{
		UserID:           userID,
		RestaurantID:     cart.RestaurantID,
		AddressID:        cart.AddressID,
		PaymentMethod:    cart.PaymentMethod,
		DiscountCents:    cart.DiscountCents,
		DeliveryFeeCents: rest.DeliveryFeeCents,
		Lines:            make([]AggregateLine, 0, len(cart.Items)),
	}
	for _, line := range cart.Items {
		item, ok := menu[line.MenuItemID]
		if !ok {
			return nil, &ValidationError{
				Field:  "items",
				Reason: fmt.Sprintf("menu item %s does not exist", line.MenuItemID),
			}
		}
		if item.RestaurantID != cart.RestaurantID {
			return nil, &ValidationError{
				Field:  "items",
				Reason: fmt.Sprintf("menu item %s does not belong to restaurant %s", line.MenuItemID, cart.RestaurantID),
			}
		}
		if !item.IsAvailable {
			return nil, &ValidationError{
				Field:  "items",
				Reason: fmt.Sprintf("menu item %s is not available", line.MenuItemID),
			}
		}
		agg.Lines = append(agg.Lines, AggregateLine{
			MenuItemID:       item.ID,
			Quantity:         line.Quantity,
			PriceCentsAtTime: item.PriceCents,
		})
		agg.SubtotalCents += item.PriceCents * line.Quantity
	}

	if cart.DiscountCents > agg.SubtotalCents {
		return nil, &ValidationError{Field: "discount_cents", Reason: "discount exceeds item subtotal"}
	}

	agg.TaxCents = agg.SubtotalCents * b.TaxRateBP / 10000
	agg.TotalCents = agg.SubtotalCents + agg.DeliveryFeeCents + agg.TaxCents - agg.DiscountCents
	return agg, nil
}
