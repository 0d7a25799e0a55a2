package orders

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/feastly/feastly/internal/kafka"
)

// Store is the write side the coordinator drives. Implemented by Repo;
// mocked in tests.
type Store interface {
	CreateOrder(ctx context.Context, agg *OrderAggregate, ident OrderIdentity) error
	OrderByIdempotencyKey(ctx context.Context, key string) (*PlacedOrder, error)
	Transition(ctx context.Context, orderID string, target Status, actor, note string, location *string) (Status, error)
}

type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

type OrderCreated struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
	TotalCents  int    `json:"total_cents"`
	Idempotent  bool   `json:"idempotent"`
}

// Service is the transaction coordinator and status transition manager. It
// owns no SQL itself: atomicity lives in the Store's unit of work, retry and
// idempotency policy live here.
type Service struct {
	Store          Store
	Builder        *Builder
	ProducerPlaced Publisher // bound to TopicOrderPlaced
	ProducerStatus Publisher // bound to TopicStatusChanged
	ServiceName    string

	// MaxAttempts bounds placement retries after a transient conflict.
	MaxAttempts int
	// RetryBackoff is the base delay between attempts.
	RetryBackoff time.Duration
}

func (s *Service) attempts() int {
	if s.MaxAttempts > 0 {
		return s.MaxAttempts
	}
	return 3
}

func (s *Service) backoff() time.Duration {
	if s.RetryBackoff > 0 {
		return s.RetryBackoff
	}
	return 50 * time.Millisecond
}

// PlaceOrder converts a cart into a durable Order + OrderItems + Payment
// with stock reserved, all-or-nothing. A repeated call with the same
// idempotency key and cart returns the original result without touching
// stock again.
func (s *Service) PlaceOrder(ctx context.Context, userID string, cart Cart, idemKey string) (*OrderCreated, error) {
	fingerprint := CartFingerprint(userID, cart)

	// Replay is checked before the aggregate is rebuilt: the catalog may
	// have changed since the original placement (item disabled, restaurant
	// closed), and a repeat of an already-placed order must still return it.
	if idemKey != "" {
		if created, err := s.replayByKey(ctx, idemKey, fingerprint); err != nil || created != nil {
			return created, err
		}
	}

	agg, err := s.Builder.Build(ctx, userID, cart)
	if err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		ident := OrderIdentity{
			OrderID:         uuid.NewString(),
			OrderNumber:     newOrderNumber(),
			TransactionID:   uuid.NewString(),
			IdempotencyKey:  idemKey,
			CartFingerprint: fingerprint,
		}

		err := s.Store.CreateOrder(ctx, agg, ident)
		if err == nil {
			log.Info().
				Str("order_id", ident.OrderID).
				Str("order_number", ident.OrderNumber).
				Str("user_id", userID).
				Int("total_cents", agg.TotalCents).
				Msg("order placed")
			s.publishOrderPlaced(agg, ident)
			return &OrderCreated{
				OrderID:     ident.OrderID,
				OrderNumber: ident.OrderNumber,
				TotalCents:  agg.TotalCents,
			}, nil
		}

		if !errors.Is(err, ErrConflict) {
			// Validation and stock failures are final; the unit of work has
			// already rolled back, so nothing to undo here.
			return nil, err
		}

		// A concurrent request with the same key may have won the race.
		if idemKey != "" {
			if created, rerr := s.replayByKey(ctx, idemKey, fingerprint); rerr != nil || created != nil {
				return created, rerr
			}
		}

		if attempt >= s.attempts() {
			log.Warn().Err(err).Int("attempts", attempt).Msg("order placement gave up after conflicts")
			return nil, ErrConflict
		}
		select {
		case <-time.After(time.Duration(attempt) * s.backoff()):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrConflict, ctx.Err())
		}
	}
}

// replayByKey returns the previously created order for an idempotency key,
// or nil when the key is unused. The same key with a different cart is a
// conflict, never someone else's order.
func (s *Service) replayByKey(ctx context.Context, idemKey, fingerprint string) (*OrderCreated, error) {
	prev, err := s.Store.OrderByIdempotencyKey(ctx, idemKey)
	if errors.Is(err, ErrOrderNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if prev.CartFingerprint != fingerprint {
		return nil, fmt.Errorf("%w: idempotency key reused with a different cart", ErrConflict)
	}
	return &OrderCreated{
		OrderID:     prev.OrderID,
		OrderNumber: prev.OrderNumber,
		TotalCents:  prev.TotalCents,
		Idempotent:  true,
	}, nil
}

// TransitionStatus enforces the lifecycle table and records the tracking
// event; on CANCELLED the store also restores the reserved stock in the same
// unit of work.
func (s *Service) TransitionStatus(ctx context.Context, orderID string, target Status, actor string, location *string) error {
	if !IsValidStatus(target) {
		return &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", target)}
	}
	return s.transition(ctx, orderID, target, actor, "", location)
}

// Cancel is a convenience wrapper over the CANCELLED transition.
func (s *Service) Cancel(ctx context.Context, orderID, actor, reason string) error {
	return s.transition(ctx, orderID, StatusCancelled, actor, reason, nil)
}

func (s *Service) transition(ctx context.Context, orderID string, target Status, actor, note string, location *string) error {
	from, err := s.Store.Transition(ctx, orderID, target, actor, note, location)
	if err != nil {
		return err
	}

	log.Info().
		Str("order_id", orderID).
		Str("from", from.String()).
		Str("to", target.String()).
		Str("actor", actor).
		Msg("order status changed")

	s.publish(s.ProducerStatus, EventStatusChanged, orderID, StatusChangedPayload{
		OrderID:  orderID,
		From:     from,
		To:       target,
		Actor:    actor,
		Note:     note,
		Location: location,
	})
	return nil
}

func (s *Service) publishOrderPlaced(agg *OrderAggregate, ident OrderIdentity) {
	lines := make([]LineQty, 0, len(agg.Lines))
	for _, l := range agg.Lines {
		lines = append(lines, LineQty{MenuItemID: l.MenuItemID, Quantity: l.Quantity})
	}
	s.publish(s.ProducerPlaced, EventOrderPlaced, ident.OrderID, OrderPlacedPayload{
		OrderID:      ident.OrderID,
		OrderNumber:  ident.OrderNumber,
		UserID:       agg.UserID,
		RestaurantID: agg.RestaurantID,
		Items:        lines,
		TotalCents:   agg.TotalCents,
	})
}

func (s *Service) publish(p Publisher, eventType, orderID string, payload any) {
	if p == nil {
		return
	}
	ev := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.ServiceName,
		CorrelationID: orderID,
		Payload:       kafkax.MustMarshal(payload),
	}
	p.Publish(PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

// CartFingerprint is a stable content hash used to detect an idempotency
// key being replayed with different cart contents.
func CartFingerprint(userID string, cart Cart) string {
	lines := make([]string, 0, len(cart.Items))
	for _, it := range cart.Items {
		lines = append(lines, fmt.Sprintf("%s:%d", it.MenuItemID, it.Quantity))
	}
	sort.Strings(lines)
	canonical := strings.Join([]string{
		userID, cart.RestaurantID, cart.AddressID, cart.PaymentMethod,
		fmt.Sprintf("%d", cart.DiscountCents), strings.Join(lines, ","),
	}, "|")
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

func newOrderNumber() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "FD-" + strings.ToUpper(raw[:12])
}
