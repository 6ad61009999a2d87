package repository

import (
	"context"
	"time"

	"mpesa-settlement/internal/domain/model"
)

// SubscriptionRepository is the port for subscriptions and their applied-payment guard.
type SubscriptionRepository interface {
	Save(ctx context.Context, tx Tx, sub *model.Subscription) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Subscription, error)
	FindByAccountAndPlan(ctx context.Context, tx Tx, accountID, planID string) (*model.Subscription, error)
	ListPeriodEndingBetween(ctx context.Context, tx Tx, from, to time.Time) ([]*model.Subscription, error)

	// RecordAppliedPayment returns false when providerRequestID was already applied.
	RecordAppliedPayment(ctx context.Context, tx Tx, subscriptionID, providerRequestID string, amount int64, at time.Time) (bool, error)
}
