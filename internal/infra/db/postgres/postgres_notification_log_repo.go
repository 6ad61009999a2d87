package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"

	"mpesa-settlement/internal/domain"
	"mpesa-settlement/internal/domain/ports/repository"
)

var _ repository.NotificationLogRepository = (*notificationLogRepo)(nil)

type notificationLogRepo struct {
	pool *pgxpool.Pool
}

func NewNotificationLogRepo(pool *pgxpool.Pool) repository.NotificationLogRepository {
	return &notificationLogRepo{pool: pool}
}

func (r *notificationLogRepo) Save(ctx context.Context, tx repository.Tx, subscriptionID, accountID, kind string, periodEnd time.Time) error {
	const q = `
INSERT INTO subscription_notifications (id, subscription_id, account_id, kind, period_end)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (subscription_id, kind, period_end) DO NOTHING;`
	_, err := execSQL(ctx, r.pool, tx, q, uuid.NewString(), subscriptionID, accountID, kind, periodEnd.UTC())
	return mapExecErr(err)
}

func (r *notificationLogRepo) Exists(ctx context.Context, tx repository.Tx, subscriptionID, kind string, periodEnd time.Time) (bool, error) {
	const q = `
SELECT EXISTS(
    SELECT 1 FROM subscription_notifications
     WHERE subscription_id = $1 AND kind = $2 AND period_end = $3
);`
	row, err := pickRow(ctx, r.pool, tx, q, subscriptionID, kind, periodEnd.UTC())
	if err != nil {
		return false, err
	}
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, domain.ErrReadDatabaseRow
	}
	return exists, nil
}
