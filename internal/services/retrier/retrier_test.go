package retrier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Rifat79/renewal-service/internal/adapters/redisstore"
	"github.com/Rifat79/renewal-service/internal/domain/models"
)

// memFallback is an in-memory fallback KV
type memFallback struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemFallback() *memFallback { return &memFallback{data: map[string][]byte{}} }

func (f *memFallback) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data[key], nil
}

func (f *memFallback) Set(ctx context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	return nil
}

func (f *memFallback) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

func (f *memFallback) Keys(ctx context.Context, pattern string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var keys []string
	for k := range f.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// fakeBroker simulates connectivity and publish outcomes
type fakeBroker struct {
	connected  bool
	failAll    bool
	published  []*models.NotificationPayload
	retryCount []int
}

func (b *fakeBroker) IsConnected() bool { return b.connected }

func (b *fakeBroker) Publish(ctx context.Context, payload *models.NotificationPayload, retryCount int) error {
	if b.failAll {
		return errors.New("publish timeout")
	}
	b.published = append(b.published, payload)
	b.retryCount = append(b.retryCount, retryCount)
	return nil
}

func parkNotification(t *testing.T, fallback *memFallback, id string, retryCount int) string {
	t.Helper()
	msg := &models.FallbackMessage{
		NotificationPayload: models.NotificationPayload{
			ID:        id,
			Source:    models.NotificationSource,
			EventType: models.EventRenewSuccess,
			Timestamp: time.Now().UTC(),
		},
		FailedAt:   time.Now().UTC(),
		RetryCount: retryCount,
	}
	value, err := msg.Marshal()
	require.NoError(t, err)
	key := redisstore.FallbackKey(id)
	require.NoError(t, fallback.Set(context.Background(), key, value))
	return key
}

func TestRetrier_RedeliversAndDeletes(t *testing.T) {
	fallback := newMemFallback()
	key := parkNotification(t, fallback, "ntf-1", 2)
	broker := &fakeBroker{connected: true}

	r := NewRetrier(fallback, broker, zap.NewNop())
	require.NoError(t, r.Run(context.Background()))

	require.Len(t, broker.published, 1)
	assert.Equal(t, "ntf-1", broker.published[0].ID)
	assert.Equal(t, 3, broker.retryCount[0])

	_, exists := fallback.data[key]
	assert.False(t, exists)
}

func TestRetrier_DisconnectedBrokerEndsTick(t *testing.T) {
	fallback := newMemFallback()
	parkNotification(t, fallback, "ntf-1", 0)
	parkNotification(t, fallback, "ntf-2", 0)
	broker := &fakeBroker{connected: false}

	r := NewRetrier(fallback, broker, zap.NewNop())
	require.NoError(t, r.Run(context.Background()))

	assert.Empty(t, broker.published)
	assert.Len(t, fallback.data, 2)
}

func TestRetrier_CapReachedDeletesWithoutPublish(t *testing.T) {
	fallback := newMemFallback()
	key := parkNotification(t, fallback, "ntf-dead", MaxFallbackRetries)
	broker := &fakeBroker{connected: true}

	r := NewRetrier(fallback, broker, zap.NewNop())
	require.NoError(t, r.Run(context.Background()))

	assert.Empty(t, broker.published)
	_, exists := fallback.data[key]
	assert.False(t, exists)
}

func TestRetrier_FailureIncrementsAndWritesBack(t *testing.T) {
	fallback := newMemFallback()
	key := parkNotification(t, fallback, "ntf-1", 1)
	broker := &fakeBroker{connected: true, failAll: true}

	now := time.Date(2026, 8, 24, 2, 0, 0, 0, time.UTC)
	r := NewRetrier(fallback, broker, zap.NewNop())
	r.now = func() time.Time { return now }
	require.NoError(t, r.Run(context.Background()))

	value, err := fallback.Get(context.Background(), key)
	require.NoError(t, err)
	require.NotNil(t, value)

	msg, err := models.UnmarshalFallbackMessage(value)
	require.NoError(t, err)
	assert.Equal(t, 2, msg.RetryCount)
	assert.Equal(t, now, msg.FailedAt)
}

func TestRetrier_MalformedEntryDropped(t *testing.T) {
	fallback := newMemFallback()
	key := redisstore.FallbackKey("garbage")
	require.NoError(t, fallback.Set(context.Background(), key, []byte("{broken")))
	broker := &fakeBroker{connected: true}

	r := NewRetrier(fallback, broker, zap.NewNop())
	require.NoError(t, r.Run(context.Background()))

	_, exists := fallback.data[key]
	assert.False(t, exists)
	assert.Empty(t, broker.published)
}

func TestRetrier_EmptySweepIsNoop(t *testing.T) {
	broker := &fakeBroker{connected: true}
	r := NewRetrier(newMemFallback(), broker, zap.NewNop())
	require.NoError(t, r.Run(context.Background()))
	assert.Empty(t, broker.published)
}
