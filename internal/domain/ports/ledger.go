package ports

import "context"

// ResultLedger is the FIFO list of serialized charge outcomes that decouples
// workers from the result consumer. Entries live until popped; no TTL.
type ResultLedger interface {
	PushTail(ctx context.Context, entry []byte) error
	// PopHead returns the oldest entry, or nil when the ledger is empty.
	PopHead(ctx context.Context) ([]byte, error)
	Len(ctx context.Context) (int64, error)
}

// FallbackStore is the KV space parking notifications the broker refused
type FallbackStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// Keys returns every key matching the glob pattern.
	Keys(ctx context.Context, pattern string) ([]string, error)
}
