package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"realm-wallet/internal/core/domain"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// NotificationFeed implements ports.Notifier as a capped Redis list per user, newest first.
type NotificationFeed struct {
	client *goredis.Client
	prefix string
	limit  int64
	ttl    time.Duration
}

// NewNotificationFeed keeps at most limit entries per user, expiring idle lists after ttl.
func NewNotificationFeed(client *goredis.Client, limit int64, ttl time.Duration) *NotificationFeed {
	if limit <= 0 {
		limit = 50
	}
	return &NotificationFeed{
		client: client,
		prefix: "notifications:",
		limit:  limit,
		ttl:    ttl,
	}
}

// Notify prepends n to the user's feed.
func (f *NotificationFeed) Notify(ctx context.Context, userID uuid.UUID, n domain.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	key := f.prefix + userID.String()
	pipe := f.client.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, f.limit-1)
	if f.ttl > 0 {
		pipe.Expire(ctx, key, f.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis notify: %w", err)
	}
	return nil
}

// Recent returns up to limit notifications, newest first.
func (f *NotificationFeed) Recent(ctx context.Context, userID uuid.UUID, limit int64) ([]domain.Notification, error) {
	if limit <= 0 || limit > f.limit {
		limit = f.limit
	}

	raw, err := f.client.LRange(ctx, f.prefix+userID.String(), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis recent notifications: %w", err)
	}

	out := make([]domain.Notification, 0, len(raw))
	for _, r := range raw {
		var n domain.Notification
		if err := json.Unmarshal([]byte(r), &n); err != nil {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}
