package redisstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// LedgerKey is the list holding serialized charge outcomes
const LedgerKey = "renewal_status_report"

// ResultLedger is the FIFO outcome list on Redis. Workers RPUSH to the tail
// and the consumer LPOPs from the head, so entries drain in append order.
// No TTL: an entry lives until popped.
type ResultLedger struct {
	client *redis.Client
	key    string
}

// NewResultLedger creates the ledger on its canonical key
func NewResultLedger(client *redis.Client) *ResultLedger {
	return &ResultLedger{client: client, key: LedgerKey}
}

// PushTail appends one serialized outcome to the tail of the ledger
func (l *ResultLedger) PushTail(ctx context.Context, entry []byte) error {
	if err := l.client.RPush(ctx, l.key, entry).Err(); err != nil {
		return fmt.Errorf("ledger push: %w", err)
	}
	return nil
}

// PopHead removes and returns the oldest entry, or nil when empty
func (l *ResultLedger) PopHead(ctx context.Context) ([]byte, error) {
	val, err := l.client.LPop(ctx, l.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("ledger pop: %w", err)
	}
	return val, nil
}

// Len returns the current number of entries in the ledger
func (l *ResultLedger) Len(ctx context.Context) (int64, error) {
	n, err := l.client.LLen(ctx, l.key).Result()
	if err != nil {
		return 0, fmt.Errorf("ledger len: %w", err)
	}
	return n, nil
}
