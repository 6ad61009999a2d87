package repository

import (
	"context"
	"time"
)

// NotificationLogRepository records reminders that were delivered, keyed by
// subscription, kind and the period end they refer to.
type NotificationLogRepository interface {
	Exists(ctx context.Context, tx Tx, subscriptionID, kind string, periodEnd time.Time) (bool, error)
	// Save is a no-op when the entry already exists.
	Save(ctx context.Context, tx Tx, subscriptionID, accountID, kind string, periodEnd time.Time) error
}
