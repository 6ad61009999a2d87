package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"

	"mpesa-settlement/internal/domain"
	"mpesa-settlement/internal/domain/model"
	"mpesa-settlement/internal/domain/ports/repository"
)

// Ensure interface compliance
var _ repository.SubscriptionPlanRepository = (*PostgresPlanRepo)(nil)

type PostgresPlanRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresPlanRepo(pool *pgxpool.Pool) *PostgresPlanRepo {
	return &PostgresPlanRepo{pool: pool}
}

// Save upserts the plan and replaces its taxes. Pass a tx to make both writes atomic.
func (r *PostgresPlanRepo) Save(ctx context.Context, tx repository.Tx, plan *model.SubscriptionPlan) error {
	if plan.IsZero() {
		return domain.ErrInvalidArgument
	}
	const q = `
INSERT INTO subscription_plans (id, name, period_name, price, currency, trial_seconds, period_seconds, grace_seconds, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO UPDATE
  SET name = EXCLUDED.name,
      period_name = EXCLUDED.period_name,
      price = EXCLUDED.price,
      currency = EXCLUDED.currency,
      trial_seconds = EXCLUDED.trial_seconds,
      period_seconds = EXCLUDED.period_seconds,
      grace_seconds = EXCLUDED.grace_seconds;`
	if _, err := execSQL(ctx, r.pool, tx, q,
		plan.ID, plan.Name, plan.PeriodName, plan.Price, plan.Currency,
		seconds(plan.TrialDuration), seconds(plan.Period), seconds(plan.GracePeriod), plan.CreatedAt,
	); err != nil {
		return mapExecErr(err)
	}

	if _, err := execSQL(ctx, r.pool, tx, `DELETE FROM plan_taxes WHERE plan_id=$1;`, plan.ID); err != nil {
		return mapExecErr(err)
	}
	for _, t := range plan.Taxes {
		if _, err := execSQL(ctx, r.pool, tx, `INSERT INTO plan_taxes (plan_id, name, rate) VALUES ($1,$2,$3::numeric);`, plan.ID, t.Name, t.Rate.String()); err != nil {
			return mapExecErr(err)
		}
	}
	return nil
}

func (r *PostgresPlanRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.SubscriptionPlan, error) {
	const q = `
SELECT id, name, period_name, price, currency, trial_seconds, period_seconds, grace_seconds, created_at
  FROM subscription_plans
 WHERE id = $1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	p, err := scanPlan(row.Scan)
	if err != nil {
		return nil, err
	}
	taxes, err := r.taxesFor(ctx, tx, []string{p.ID})
	if err != nil {
		return nil, err
	}
	p.Taxes = taxes[p.ID]
	return p, nil
}

func (r *PostgresPlanRepo) ListAll(ctx context.Context, tx repository.Tx) ([]*model.SubscriptionPlan, error) {
	const q = `
SELECT id, name, period_name, price, currency, trial_seconds, period_seconds, grace_seconds, created_at
  FROM subscription_plans
 ORDER BY created_at;`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, mapExecErr(err)
	}
	var out []*model.SubscriptionPlan
	var ids []string
	for rows.Next() {
		p, err := scanPlan(rows.Scan)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, p)
		ids = append(ids, p.ID)
	}
	rows.Close()
	if len(ids) == 0 {
		return out, nil
	}

	taxes, err := r.taxesFor(ctx, tx, ids)
	if err != nil {
		return nil, err
	}
	for _, p := range out {
		p.Taxes = taxes[p.ID]
	}
	return out, nil
}

func (r *PostgresPlanRepo) taxesFor(ctx context.Context, tx repository.Tx, planIDs []string) (map[string][]model.Tax, error) {
	const q = `SELECT plan_id, name, rate::text FROM plan_taxes WHERE plan_id = ANY($1) ORDER BY plan_id, name;`
	rows, err := queryRows(ctx, r.pool, tx, q, planIDs)
	if err != nil {
		return nil, mapExecErr(err)
	}
	defer rows.Close()

	out := make(map[string][]model.Tax)
	for rows.Next() {
		var planID, name, rate string
		if err := rows.Scan(&planID, &name, &rate); err != nil {
			return nil, mapScanErr(err)
		}
		d, err := decimal.NewFromString(rate)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out[planID] = append(out[planID], model.Tax{Name: name, Rate: d})
	}
	return out, rows.Err()
}

func scanPlan(scan func(dest ...interface{}) error) (*model.SubscriptionPlan, error) {
	var p model.SubscriptionPlan
	var trial, period, grace int64
	if err := scan(&p.ID, &p.Name, &p.PeriodName, &p.Price, &p.Currency, &trial, &period, &grace, &p.CreatedAt); err != nil {
		return nil, mapScanErr(err)
	}
	p.TrialDuration = time.Duration(trial) * time.Second
	p.Period = time.Duration(period) * time.Second
	p.GracePeriod = time.Duration(grace) * time.Second
	return &p, nil
}

func seconds(d time.Duration) int64 { return int64(d / time.Second) }
