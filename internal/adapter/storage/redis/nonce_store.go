package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// NonceStore implements ports.NonceStore using Redis SET NX.
type NonceStore struct {
	client *goredis.Client
	prefix string
}

// NewNonceStore creates a new Redis-backed nonce store.
func NewNonceStore(client *goredis.Client) *NonceStore {
	return &NonceStore{
		client: client,
		prefix: "nonce:",
	}
}

func (s *NonceStore) key(scope, nonce string) string {
	return s.prefix + scope + ":" + nonce
}

// CheckAndSet atomically claims nonce within scope.
// Returns true if the nonce is new, false if it was already claimed.
func (s *NonceStore) CheckAndSet(ctx context.Context, scope string, nonce string, ttl time.Duration) (bool, error) {
	result, err := s.client.SetArgs(ctx, s.key(scope, nonce), 1, goredis.SetArgs{
		Mode: "NX",
		TTL:  ttl,
	}).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("redis nonce check: %w", err)
	}
	return result == "OK", nil
}

// Release drops a claimed nonce so the same instrument can be retried.
func (s *NonceStore) Release(ctx context.Context, scope string, nonce string) error {
	if err := s.client.Del(ctx, s.key(scope, nonce)).Err(); err != nil {
		return fmt.Errorf("redis nonce release: %w", err)
	}
	return nil
}

// Exists reports whether nonce is claimed within scope.
func (s *NonceStore) Exists(ctx context.Context, scope string, nonce string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(scope, nonce)).Result()
	if err != nil {
		return false, fmt.Errorf("redis nonce exists: %w", err)
	}
	return n > 0, nil
}
