package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/Rifat79/renewal-service/internal/domain/models"
	"github.com/Rifat79/renewal-service/pkg/resilience"
)

// Topology names. Declarations are idempotent so restarting the service
// against an already-provisioned broker is safe.
const (
	MainExchange = "notification.events"
	MainQueue    = "renewal_notifications"
	DLQExchange  = "notification.events.dlx"
	DLQQueue     = "renewal_notifications.dlq"
	DLQKey       = "notification.dead"

	// The main queue binds a wildcard so every event type lands in it.
	mainBindingKey = "renew.*"
)

const (
	mainQueueMaxLength = 1_000_000
	dlqMaxLength       = 10_000
	dlqMessageTTL      = 24 * time.Hour

	reconnectBaseDelay   = 5 * time.Second
	reconnectMaxAttempts = 10

	publishRetryAttempts = 3
	publishRetryDelay    = 5 * time.Second

	confirmTimeout = 5 * time.Second
)

// Broker is a confirmed-publish AMQP producer. A single connection and
// confirm channel are shared by all publishers; each deferred confirmation
// carries its own delivery tag, so publishers never hold the mutex across
// the network write or the ack wait.
type Broker struct {
	url    string
	logger *zap.Logger

	mu        sync.Mutex
	conn      *amqp.Connection
	channel   *amqp.Channel
	connected bool

	// connecting guards against concurrent reconnect loops. Only the
	// goroutine that flips it runs the backoff sequence.
	connecting bool

	backoff        *resilience.LinearBackoff
	publishBackoff resilience.BackoffStrategy
	closeCh        chan struct{}
	closed         bool
}

// NewBroker connects, declares the topology and returns a ready producer.
// The initial connection failure is returned to the caller; later
// disconnects trigger background reconnection.
func NewBroker(url string, logger *zap.Logger) (*Broker, error) {
	b := &Broker{
		url:            url,
		logger:         logger,
		backoff:        &resilience.LinearBackoff{BaseDelay: reconnectBaseDelay, MaxDelay: reconnectBaseDelay * reconnectMaxAttempts},
		publishBackoff: &resilience.FixedBackoff{Delay: publishRetryDelay},
		closeCh:        make(chan struct{}),
	}

	if err := b.connect(); err != nil {
		return nil, err
	}

	return b, nil
}

// IsConnected reports broker liveness. Callers route notifications to the
// fallback store while this is false.
func (b *Broker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// connect dials, opens a confirm channel, declares the topology and
// installs the close watcher.
func (b *Broker) connect() error {
	conn, err := amqp.Dial(b.url)
	if err != nil {
		return fmt.Errorf("amqp dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("amqp channel: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("amqp confirm mode: %w", err)
	}

	if err := declareTopology(ch); err != nil {
		ch.Close()
		conn.Close()
		return err
	}

	b.mu.Lock()
	b.conn = conn
	b.channel = ch
	b.connected = true
	b.mu.Unlock()

	closeCh := make(chan *amqp.Error, 1)
	conn.NotifyClose(closeCh)
	go b.watchClose(closeCh)

	b.logger.Info("Connected to RabbitMQ", zap.String("exchange", MainExchange))
	return nil
}

func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(MainExchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", MainExchange, err)
	}
	if err := ch.ExchangeDeclare(DLQExchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", DLQExchange, err)
	}

	_, err := ch.QueueDeclare(MainQueue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    DLQExchange,
		"x-dead-letter-routing-key": DLQKey,
		"x-max-length":              int64(mainQueueMaxLength),
		"x-overflow":                "reject-publish",
	})
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", MainQueue, err)
	}

	_, err = ch.QueueDeclare(DLQQueue, true, false, false, false, amqp.Table{
		"x-message-ttl": int64(dlqMessageTTL / time.Millisecond),
		"x-max-length":  int64(dlqMaxLength),
	})
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", DLQQueue, err)
	}

	if err := ch.QueueBind(MainQueue, mainBindingKey, MainExchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", MainQueue, err)
	}
	if err := ch.QueueBind(DLQQueue, DLQKey, DLQExchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", DLQQueue, err)
	}

	return nil
}

// watchClose marks the broker disconnected when the connection drops and
// kicks off the reconnect loop.
func (b *Broker) watchClose(closeCh chan *amqp.Error) {
	amqpErr, ok := <-closeCh
	if !ok {
		// Clean shutdown via Close().
		return
	}

	b.logger.Warn("RabbitMQ connection lost", zap.Error(amqpErr))

	b.mu.Lock()
	b.connected = false
	if b.connecting || b.closed {
		b.mu.Unlock()
		return
	}
	b.connecting = true
	b.mu.Unlock()

	b.reconnect()
}

// reconnect retries with linearly increasing delay. After max attempts
// the broker stays disconnected; the fallback path absorbs notifications
// until an operator intervenes or a later publish finds it alive again.
func (b *Broker) reconnect() {
	defer func() {
		b.mu.Lock()
		b.connecting = false
		b.mu.Unlock()
	}()

	for attempt := 0; attempt < reconnectMaxAttempts; attempt++ {
		delay := b.backoff.NextDelay(attempt)

		select {
		case <-b.closeCh:
			return
		case <-time.After(delay):
		}

		if err := b.connect(); err != nil {
			b.logger.Warn("RabbitMQ reconnect failed",
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
			continue
		}

		b.logger.Info("RabbitMQ reconnected", zap.Int("attempt", attempt+1))
		return
	}

	b.logger.Error("RabbitMQ reconnect attempts exhausted",
		zap.Int("max_attempts", reconnectMaxAttempts),
	)
}

// Publish sends one notification and waits for the broker's ack. Transport
// errors are retried a fixed number of times with a fixed delay; a nack or
// exhausted retries surface as an error so the caller can park the payload
// in the fallback store.
func (b *Broker) Publish(ctx context.Context, payload *models.NotificationPayload, retryCount int) error {
	msg, err := newPublishing(payload, retryCount)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < publishRetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(b.publishBackoff.NextDelay(attempt - 1)):
			}
		}

		lastErr = b.publishOnce(ctx, string(payload.EventType), msg)
		if lastErr == nil {
			return nil
		}

		b.logger.Warn("Notification publish attempt failed",
			zap.String("notification_id", payload.ID),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr),
		)
	}

	return fmt.Errorf("publish notification %s: %w", payload.ID, lastErr)
}

// newPublishing builds the persistent JSON envelope for one notification.
func newPublishing(payload *models.NotificationPayload, retryCount int) (amqp.Publishing, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal notification %s: %w", payload.ID, err)
	}

	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    payload.ID,
		Timestamp:    time.Now().UTC(),
		Body:         body,
		Headers: amqp.Table{
			"x-retry-count":        int32(retryCount),
			"x-original-timestamp": payload.Timestamp.UTC().Format(time.RFC3339),
			"x-source":             "renewal-service",
		},
	}, nil
}

func (b *Broker) publishOnce(ctx context.Context, routingKey string, msg amqp.Publishing) error {
	// Snapshot the channel under the lock and publish outside it; the amqp
	// channel is safe for concurrent use and a reconnect only swaps the
	// pointer.
	b.mu.Lock()
	ch, connected := b.channel, b.connected
	b.mu.Unlock()
	if !connected || ch == nil {
		return fmt.Errorf("broker not connected")
	}

	confirmCtx, cancel := context.WithTimeout(ctx, confirmTimeout)
	defer cancel()

	confirmation, err := ch.PublishWithDeferredConfirmWithContext(
		confirmCtx, MainExchange, routingKey, false, false, msg,
	)
	if err != nil {
		return fmt.Errorf("basic publish: %w", err)
	}

	acked, err := confirmation.WaitContext(confirmCtx)
	if err != nil {
		return fmt.Errorf("await confirm: %w", err)
	}
	if !acked {
		return fmt.Errorf("broker nacked message")
	}

	return nil
}

// Close shuts the connection down. Safe to call more than once.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	b.connected = false
	close(b.closeCh)

	var firstErr error
	if b.channel != nil {
		if err := b.channel.Close(); err != nil {
			firstErr = err
		}
	}
	if b.conn != nil {
		if err := b.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
