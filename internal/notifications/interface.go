package notifications

import (
	"context"

	"github.com/instapulse/instapulse/internal/models"
)

// Store is the alert persistence the delivery path depends on.
type Store interface {
	PendingAlerts(ctx context.Context) ([]models.PendingAlert, error)
	MarkAlertSent(ctx context.Context, alertID int64) error
}

// Sender delivers pending alerts to subscribers.
type Sender interface {
	SendPendingAlerts(ctx context.Context) error
}
