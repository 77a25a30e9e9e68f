package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// FallbackKeyPrefix namespaces parked notifications
	FallbackKeyPrefix = "notification:fallback:"
	// idempotencyKeyPrefix namespaces idempotency reservations
	idempotencyKeyPrefix = "idempotency:"
	// idempotencyTTL bounds how long a reservation is honored
	idempotencyTTL = 24 * time.Hour
)

// FallbackKey builds the fallback KV key for a notification id
func FallbackKey(id string) string {
	return FallbackKeyPrefix + id
}

// FallbackStore is the KV space for notifications the broker refused and for
// idempotency reservations
type FallbackStore struct {
	client *redis.Client
}

// NewFallbackStore creates a fallback store on the shared Redis client
func NewFallbackStore(client *redis.Client) *FallbackStore {
	return &FallbackStore{client: client}
}

// Get returns the value at key, or nil when the key does not exist
func (s *FallbackStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("fallback get %s: %w", key, err)
	}
	return val, nil
}

// Set writes the value at key with no expiry; a fallback entry is removed
// only by successful redelivery or the retry cap
func (s *FallbackStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("fallback set %s: %w", key, err)
	}
	return nil
}

// Delete removes the key
func (s *FallbackStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("fallback delete %s: %w", key, err)
	}
	return nil
}

// Keys returns every key matching the glob pattern using SCAN
func (s *FallbackStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("fallback scan %s: %w", pattern, err)
	}
	return keys, nil
}

// ReserveIdempotency reserves key for 24 hours, reporting whether this caller
// won the reservation
func (s *FallbackStore) ReserveIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := s.client.SetNX(ctx, idempotencyKeyPrefix+key, 1, idempotencyTTL).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency reserve %s: %w", key, err)
	}
	return ok, nil
}
