package retrier

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Rifat79/renewal-service/internal/adapters/redisstore"
	"github.com/Rifat79/renewal-service/internal/domain/models"
	"github.com/Rifat79/renewal-service/internal/domain/ports"
	"github.com/Rifat79/renewal-service/pkg/observability"
	"github.com/Rifat79/renewal-service/pkg/timeutil"
)

// MaxFallbackRetries caps redelivery attempts per parked notification.
// Beyond it the notification is dropped and logged as a permanent failure.
const MaxFallbackRetries = 5

// Retrier sweeps the fallback KV and redelivers parked notifications once
// the broker is reachable again
type Retrier struct {
	fallback ports.FallbackStore
	broker   ports.NotificationBroker
	logger   *zap.Logger

	now func() time.Time
}

// NewRetrier creates the fallback sweep
func NewRetrier(fallback ports.FallbackStore, broker ports.NotificationBroker, logger *zap.Logger) *Retrier {
	return &Retrier{
		fallback: fallback,
		broker:   broker,
		logger:   logger,
		now:      timeutil.Now,
	}
}

// Run performs one sweep. A disconnected broker ends the tick early; the
// parked notifications wait for the next one.
func (r *Retrier) Run(ctx context.Context) error {
	keys, err := r.fallback.Keys(ctx, redisstore.FallbackKeyPrefix+"*")
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	var delivered, dropped, deferred int
	for _, key := range keys {
		if !r.broker.IsConnected() {
			r.logger.Info("Broker disconnected, ending fallback sweep early",
				zap.Int("remaining", len(keys)-delivered-dropped-deferred),
			)
			break
		}

		switch r.retryOne(ctx, key) {
		case retryDelivered:
			delivered++
		case retryDropped:
			dropped++
		case retryDeferred:
			deferred++
		}
	}

	if delivered+dropped+deferred > 0 {
		r.logger.Info("Fallback sweep complete",
			zap.Int("delivered", delivered),
			zap.Int("dropped", dropped),
			zap.Int("deferred", deferred),
		)
	}
	return nil
}

type retryResult int

const (
	retryDelivered retryResult = iota
	retryDropped
	retryDeferred
)

func (r *Retrier) retryOne(ctx context.Context, key string) retryResult {
	value, err := r.fallback.Get(ctx, key)
	if err != nil {
		r.logger.Error("Fallback read failed", zap.String("key", key), zap.Error(err))
		return retryDeferred
	}
	if value == nil {
		// Deleted between Keys and Get.
		return retryDelivered
	}

	msg, err := models.UnmarshalFallbackMessage(value)
	if err != nil {
		r.logger.Error("Malformed fallback entry dropped", zap.String("key", key), zap.Error(err))
		_ = r.fallback.Delete(ctx, key)
		return retryDropped
	}

	if msg.RetryCount >= MaxFallbackRetries {
		r.logger.Error("Notification permanently failed, dropping",
			zap.String("notification_id", msg.ID),
			zap.Int("retry_count", msg.RetryCount),
		)
		observability.FallbackRetries.WithLabelValues("dropped").Inc()
		if err := r.fallback.Delete(ctx, key); err != nil {
			r.logger.Error("Failed to delete exhausted fallback entry",
				zap.String("key", key), zap.Error(err))
		}
		return retryDropped
	}

	if err := r.broker.Publish(ctx, &msg.NotificationPayload, msg.RetryCount+1); err != nil {
		observability.FallbackRetries.WithLabelValues("failure").Inc()
		msg.RetryCount++
		msg.FailedAt = r.now()
		updated, marshalErr := msg.Marshal()
		if marshalErr != nil {
			r.logger.Error("Failed to serialize fallback message",
				zap.String("key", key), zap.Error(marshalErr))
			return retryDeferred
		}
		if setErr := r.fallback.Set(ctx, key, updated); setErr != nil {
			r.logger.Error("Failed to write back fallback retry count",
				zap.String("key", key), zap.Error(setErr))
		}
		return retryDeferred
	}

	observability.FallbackRetries.WithLabelValues("success").Inc()
	if err := r.fallback.Delete(ctx, key); err != nil {
		r.logger.Error("Failed to delete redelivered fallback entry",
			zap.String("key", key), zap.Error(err))
	}
	return retryDelivered
}
