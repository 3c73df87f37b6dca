package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"realm-wallet/internal/core/domain"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ChangeFeed implements ports.ChangeFeed over a Redis pub/sub channel.
type ChangeFeed struct {
	client  *goredis.Client
	channel string
	log     zerolog.Logger
}

// NewChangeFeed creates a change feed publishing on channel.
func NewChangeFeed(client *goredis.Client, channel string, log zerolog.Logger) *ChangeFeed {
	return &ChangeFeed{client: client, channel: channel, log: log}
}

// Publish announces a committed record version.
func (f *ChangeFeed) Publish(ctx context.Context, event domain.ChangeEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal change event: %w", err)
	}
	if err := f.client.Publish(ctx, f.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish change event: %w", err)
	}
	return nil
}

// Listen subscribes and blocks until ctx is done. Malformed messages are logged and skipped.
func (f *ChangeFeed) Listen(ctx context.Context, handle func(context.Context, domain.ChangeEvent)) error {
	sub := f.client.Subscribe(ctx, f.channel)
	defer sub.Close()

	// wait for the subscription confirmation
	if _, err := sub.Receive(ctx); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil
		}
		return fmt.Errorf("redis subscribe %s: %w", f.channel, err)
	}

	f.log.Info().Str("channel", f.channel).Msg("Listening for wallet changes")

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			var event domain.ChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				f.log.Warn().Err(err).Str("payload", msg.Payload).Msg("Dropping malformed change event")
				continue
			}
			handle(ctx, event)
		}
	}
}
