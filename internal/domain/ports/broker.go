package ports

import (
	"context"

	"github.com/Rifat79/renewal-service/internal/domain/models"
)

// NotificationBroker is the confirmed-publish wire for notification payloads.
// Publish blocks until the broker acknowledges the message or the adapter's
// internal retries are exhausted.
type NotificationBroker interface {
	IsConnected() bool
	Publish(ctx context.Context, payload *models.NotificationPayload, retryCount int) error
}
