package redisx

import "time"

const (
	// Fast-path idempotency shortcut: idem:order:place:{key} -> order_id.
	// The DB row remains the source of truth.
	KeyIdemOrderPlace = "idem:order:place:%s"

	// Current status cache for tracking reads: order_status:{order_id}.
	KeyOrderStatus = "order_status:%s"

	// Consumer dedup: dedup:{service}:{event_id}.
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
