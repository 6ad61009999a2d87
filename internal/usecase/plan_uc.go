package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"mpesa-settlement/internal/domain"
	"mpesa-settlement/internal/domain/model"
	"mpesa-settlement/internal/domain/ports/repository"
)

// Compile-time check
var _ PlanUseCase = (*planUC)(nil)

// PlanUseCase manages subscription plans and their taxes.
type PlanUseCase interface {
	// Upsert creates the plan or replaces it, keeping its creation time. Zero day counts
	// keep the current value, or the default for a new plan.
	Upsert(ctx context.Context, in PlanInput) (plan *model.SubscriptionPlan, created bool, err error)
	Get(ctx context.Context, id string) (*model.SubscriptionPlan, error)
	List(ctx context.Context) ([]*model.SubscriptionPlan, error)
}

type PlanInput struct {
	ID         string
	Name       string
	PeriodName string
	Price      int64
	TrialDays  int
	PeriodDays int
	GraceDays  int
	Taxes      []TaxInput
}

// TaxInput carries the rate as a decimal string such as "0.16".
type TaxInput struct {
	Name string
	Rate string
}

type planUC struct {
	plans repository.SubscriptionPlanRepository
	tm    repository.TransactionManager
	log   *zerolog.Logger
}

func NewPlanUseCase(plans repository.SubscriptionPlanRepository, tm repository.TransactionManager, logger *zerolog.Logger) *planUC {
	return &planUC{plans: plans, tm: tm, log: logger}
}

func (u *planUC) Upsert(ctx context.Context, in PlanInput) (*model.SubscriptionPlan, bool, error) {
	if in.TrialDays < 0 || in.PeriodDays < 0 || in.GraceDays < 0 {
		return nil, false, domain.ErrInvalidArgument
	}
	taxes := make([]model.Tax, 0, len(in.Taxes))
	for _, t := range in.Taxes {
		rate, err := decimal.NewFromString(t.Rate)
		if err != nil || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return nil, false, domain.ErrInvalidArgument
		}
		taxes = append(taxes, model.Tax{Name: t.Name, Rate: rate})
	}
	plan, err := model.NewSubscriptionPlan(in.ID, in.Name, in.PeriodName, in.Price, taxes...)
	if err != nil {
		return nil, false, err
	}

	created := false
	err = u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		cur, err := u.plans.FindByID(ctx, tx, in.ID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			created = true
		case err != nil:
			return err
		default:
			plan.CreatedAt = cur.CreatedAt
			plan.TrialDuration, plan.Period, plan.GracePeriod = cur.TrialDuration, cur.Period, cur.GracePeriod
		}
		if in.TrialDays > 0 {
			plan.TrialDuration = time.Duration(in.TrialDays) * day
		}
		if in.PeriodDays > 0 {
			plan.Period = time.Duration(in.PeriodDays) * day
		}
		if in.GraceDays > 0 {
			plan.GracePeriod = time.Duration(in.GraceDays) * day
		}
		return u.plans.Save(ctx, tx, plan)
	})
	if err != nil {
		return nil, false, err
	}
	u.log.Info().
		Str("plan_id", plan.ID).
		Bool("created", created).
		Int64("price", plan.Price).
		Int64("total", plan.TotalAmount()).
		Msg("plan saved")
	return plan, created, nil
}

func (u *planUC) Get(ctx context.Context, id string) (*model.SubscriptionPlan, error) {
	return u.plans.FindByID(ctx, repository.NoTX, id)
}

func (u *planUC) List(ctx context.Context) ([]*model.SubscriptionPlan, error) {
	return u.plans.ListAll(ctx, repository.NoTX)
}
