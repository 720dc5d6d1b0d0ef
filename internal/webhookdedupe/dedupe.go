package webhookdedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ashgrovepsych/practice-sync/pkg/logging"
)

// DefaultTTL is how long a delivery id is remembered. The PM system retries
// failed webhook deliveries for up to an hour, so anything seen inside that
// window is a duplicate.
const DefaultTTL = time.Hour

// Deduper suppresses duplicate webhook deliveries using Redis SETNX keys.
type Deduper struct {
	redis  *redis.Client
	logger *logging.Logger
	ttl    time.Duration
}

// New creates a deduper. A zero ttl uses DefaultTTL.
func New(redisClient *redis.Client, ttl time.Duration, logger *logging.Logger) *Deduper {
	if logger == nil {
		logger = logging.Default()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Deduper{
		redis:  redisClient,
		logger: logger,
		ttl:    ttl,
	}
}

// Seen marks a delivery id and reports whether it was already marked.
// Redis failures fail open: a delivery is never dropped because the dedupe
// store is down, since sync operations are idempotent anyway.
func (d *Deduper) Seen(ctx context.Context, deliveryID string) bool {
	if deliveryID == "" {
		return false
	}
	key := fmt.Sprintf("webhook:delivery:%s", deliveryID)
	set, err := d.redis.SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		d.logger.Error("webhook dedupe check failed", "error", err, "key", key)
		return false
	}
	return !set
}
