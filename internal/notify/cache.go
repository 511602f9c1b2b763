package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	listingKeyPrefix = "cache:listing"
	profileKeyPrefix = "cache:profile"
)

// CacheInvalidator drops cached listing and profile pages touched by an
// event and announces the invalidation for other instances.
type CacheInvalidator struct {
	redis   redis.Cmdable
	channel string
}

func NewCacheInvalidator(client redis.Cmdable, channel string) *CacheInvalidator {
	if channel == "" {
		channel = "cache-invalidation"
	}
	return &CacheInvalidator{redis: client, channel: channel}
}

func (c *CacheInvalidator) Name() string { return "cache" }

func (c *CacheInvalidator) Send(ctx context.Context, event Event) error {
	keys := InvalidationKeys(event)
	if len(keys) == 0 {
		return nil
	}
	pipe := c.redis.TxPipeline()
	pipe.Del(ctx, keys...)
	payload, err := json.Marshal(map[string]any{"kind": event.Kind, "keys": keys})
	if err != nil {
		return fmt.Errorf("marshal invalidation: %w", err)
	}
	pipe.Publish(ctx, c.channel, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("invalidate cache: %w", err)
	}
	return nil
}

// InvalidationKeys lists the cache entries an event makes stale.
func InvalidationKeys(event Event) []string {
	var keys []string
	if event.TicketID != nil {
		keys = append(keys, fmt.Sprintf("%s:%s", listingKeyPrefix, event.TicketID))
	}
	seen := map[string]struct{}{}
	for _, id := range event.UserIDs {
		key := fmt.Sprintf("%s:%s", profileKeyPrefix, id)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys
}
