package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"mpesa-settlement/internal/domain/model"
	"mpesa-settlement/internal/domain/ports/repository"
)

// Ensure subscriptionRepo implements repository.SubscriptionRepository
var _ repository.SubscriptionRepository = (*subscriptionRepo)(nil)

type subscriptionRepo struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepo(pool *pgxpool.Pool) *subscriptionRepo {
	return &subscriptionRepo{pool: pool}
}

const subscriptionColumns = `id, account_id, plan_id, destination, trial_start, trial_seconds, period_end, grace_seconds, last_renewed_at, created_at, updated_at`

// Save upserts by id. A second subscription for the same account and plan yields ErrAlreadyExists.
func (r *subscriptionRepo) Save(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	const q = `
INSERT INTO subscriptions (` + subscriptionColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (id) DO UPDATE SET
  destination=$4, trial_start=$5, trial_seconds=$6, period_end=$7, grace_seconds=$8, last_renewed_at=$9, updated_at=$11;`
	_, err := execSQL(ctx, r.pool, tx, q,
		s.ID, s.AccountID, s.PlanID, s.Destination, s.TrialStart, seconds(s.TrialDuration),
		s.PeriodEnd, seconds(s.GracePeriod), s.LastRenewedAt, s.CreatedAt, s.UpdatedAt,
	)
	return mapExecErr(err)
}

func (r *subscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error) {
	q := forUpdate(`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id=$1`, tx) + ";"
	return r.queryOne(ctx, tx, q, id)
}

func (r *subscriptionRepo) FindByAccountAndPlan(ctx context.Context, tx repository.Tx, accountID, planID string) (*model.Subscription, error) {
	q := forUpdate(`SELECT `+subscriptionColumns+` FROM subscriptions WHERE account_id=$1 AND plan_id=$2`, tx) + ";"
	return r.queryOne(ctx, tx, q, accountID, planID)
}

func (r *subscriptionRepo) ListPeriodEndingBetween(ctx context.Context, tx repository.Tx, from, to time.Time) ([]*model.Subscription, error) {
	const q = `SELECT ` + subscriptionColumns + ` FROM subscriptions
 WHERE period_end >= $1 AND period_end < $2
   AND (trial_start IS NOT NULL OR last_renewed_at IS NOT NULL)
 ORDER BY period_end ASC;`
	rows, err := queryRows(ctx, r.pool, tx, q, from, to)
	if err != nil {
		return nil, mapExecErr(err)
	}
	defer rows.Close()

	var out []*model.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *subscriptionRepo) RecordAppliedPayment(ctx context.Context, tx repository.Tx, subscriptionID, providerRequestID string, amount int64, at time.Time) (bool, error) {
	const q = `
INSERT INTO subscription_payments (provider_request_id, subscription_id, amount, applied_at)
VALUES ($1,$2,$3,$4)
ON CONFLICT (provider_request_id) DO NOTHING;`
	cmd, err := execSQL(ctx, r.pool, tx, q, providerRequestID, subscriptionID, amount, at)
	if err != nil {
		return false, mapExecErr(err)
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *subscriptionRepo) queryOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.Subscription, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	return scanSubscription(row.Scan)
}

func scanSubscription(scan func(dest ...interface{}) error) (*model.Subscription, error) {
	var s model.Subscription
	var trial, grace int64
	if err := scan(&s.ID, &s.AccountID, &s.PlanID, &s.Destination, &s.TrialStart, &trial, &s.PeriodEnd, &grace, &s.LastRenewedAt, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, mapScanErr(err)
	}
	s.TrialDuration = time.Duration(trial) * time.Second
	s.GracePeriod = time.Duration(grace) * time.Second
	return &s, nil
}
