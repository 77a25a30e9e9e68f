package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Rifat79/renewal-service/internal/domain/models"
	"github.com/Rifat79/renewal-service/pkg/resilience"
)

func TestNewPublishing_Envelope(t *testing.T) {
	ts := time.Date(2026, 8, 24, 1, 0, 0, 0, time.UTC)
	payload := &models.NotificationPayload{
		ID:               "ntf-1",
		Source:           models.NotificationSource,
		SubscriptionID:   "sub-1",
		MSISDN:           "8801700000001",
		PaymentProvider:  "GP",
		EventType:        models.EventRenewSuccess,
		Amount:           decimal.NewFromInt(50),
		Currency:         "BDT",
		BillingCycleDays: 30,
		Timestamp:        ts,
	}

	msg, err := newPublishing(payload, 2)
	require.NoError(t, err)

	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, uint8(amqp.Persistent), msg.DeliveryMode)
	assert.Equal(t, "ntf-1", msg.MessageId)
	assert.Equal(t, int32(2), msg.Headers["x-retry-count"])
	assert.Equal(t, "2026-08-24T01:00:00Z", msg.Headers["x-original-timestamp"])
	assert.Equal(t, "renewal-service", msg.Headers["x-source"])

	var decoded models.NotificationPayload
	require.NoError(t, json.Unmarshal(msg.Body, &decoded))
	assert.Equal(t, payload.ID, decoded.ID)
	assert.Equal(t, models.EventRenewSuccess, decoded.EventType)
	assert.True(t, payload.Amount.Equal(decoded.Amount))
}

func TestBroker_PublishWhileDisconnected(t *testing.T) {
	b := &Broker{closeCh: make(chan struct{})}

	err := b.publishOnce(t.Context(), "renew.success", amqp.Publishing{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
}

func TestBroker_IsConnectedDefaultsFalse(t *testing.T) {
	b := &Broker{closeCh: make(chan struct{})}
	assert.False(t, b.IsConnected())
}

func TestBroker_ConcurrentPublishDoesNotBlockLiveness(t *testing.T) {
	b := &Broker{
		logger:         zap.NewNop(),
		publishBackoff: &resilience.FixedBackoff{Delay: time.Millisecond},
		closeCh:        make(chan struct{}),
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			payload := &models.NotificationPayload{
				ID:        fmt.Sprintf("ntf-%d", n),
				EventType: models.EventRenewSuccess,
				Timestamp: time.Now().UTC(),
			}
			assert.Error(t, b.Publish(context.Background(), payload, 0))
		}(i)
	}

	// Liveness checks keep answering while publishers are in flight.
	livenessStop := make(chan struct{})
	go func() {
		for {
			select {
			case <-livenessStop:
				return
			default:
				assert.False(t, b.IsConnected())
				time.Sleep(100 * time.Microsecond)
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publishers did not finish")
	}
	close(livenessStop)
}
