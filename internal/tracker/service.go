package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/feastly/feastly/internal/kafka"
	"github.com/feastly/feastly/internal/orders"
	"github.com/feastly/feastly/internal/redisx"
)

// Service keeps the per-order status cache warm from the status-changed
// stream so tracking reads stay off the database.
type Service struct {
	Redis       *redis.Client
	ServiceName string
}

type statusCache struct {
	Status    orders.Status `json:"status"`
	Actor     string        `json:"actor,omitempty"`
	Location  *string       `json:"location,omitempty"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// HandleStatusChanged is wired as the consumer handler.
func (s *Service) HandleStatusChanged(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}
	if env.EventType != orders.EventStatusChanged {
		return nil
	}

	// dedup by event_id; redelivery is expected with manual commits
	dkey := fmt.Sprintf(redisx.KeyDedup, s.ServiceName, env.EventID)
	if exists, _ := redisx.Exists(ctx, s.Redis, dkey); exists {
		return nil
	}
	_ = s.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err()

	p, err := kafkax.UnwrapPayload[orders.StatusChangedPayload](env.Payload)
	if err != nil {
		return err
	}

	body, err := json.Marshal(statusCache{
		Status:    p.To,
		Actor:     p.Actor,
		Location:  p.Location,
		UpdatedAt: env.OccurredAt,
	})
	if err != nil {
		return err
	}
	key := fmt.Sprintf(redisx.KeyOrderStatus, p.OrderID)
	if err := s.Redis.Set(ctx, key, body, redisx.TTLStatusCache).Err(); err != nil {
		return fmt.Errorf("tracker: cache status for %s: %w", p.OrderID, err)
	}

	log.Debug().
		Str("order_id", p.OrderID).
		Str("status", p.To.String()).
		Msg("tracking cache refreshed")
	return nil
}
