package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"mpesa-settlement/internal/domain"
	"mpesa-settlement/internal/domain/model"
	"mpesa-settlement/internal/domain/ports/adapter"
	"mpesa-settlement/internal/domain/ports/repository"
)

// Compile-time check
var (
	_ SubscriptionUseCase       = (*subscriptionUC)(nil)
	_ adapter.SettlementSubject = (*subscriptionUC)(nil)
)

type SubscriptionUseCase interface {
	// StartTrial opens the plan's trial for accountID. An account that already has a
	// subscription gets it back unchanged.
	StartTrial(ctx context.Context, accountID, planID, destination string) (*model.Subscription, error)
	// EnsureSubscription returns the account's subscription, creating an inactive one if needed.
	// Its ID is the correlation id of subscription payments.
	EnsureSubscription(ctx context.Context, accountID, planID, destination string) (*model.Subscription, error)
	View(ctx context.Context, accountID, planID string) (*SubscriptionView, error)
	// Quote returns the plan and its total including taxes.
	Quote(ctx context.Context, planID string) (*model.SubscriptionPlan, int64, error)
	ApplySuccessfulPayment(ctx context.Context, req adapter.SettlementRequest) (adapter.ApplyResult, error)
}

type SubscriptionView struct {
	SubscriptionID     string                  `json:"subscription_id"`
	AccountID          string                  `json:"account_id"`
	PlanID             string                  `json:"plan_id"`
	State              model.SubscriptionState `json:"state"`
	IsTrial            bool                    `json:"is_trial"`
	IsActive           bool                    `json:"is_active"`
	RemainingTrialDays int                     `json:"remaining_trial_days"`
	RemainingDays      int                     `json:"remaining_days"`
	PeriodEnd          time.Time               `json:"period_end"`
}

type subscriptionUC struct {
	subs  repository.SubscriptionRepository
	plans repository.SubscriptionPlanRepository
	tm    repository.TransactionManager
	log   *zerolog.Logger
}

func NewSubscriptionUseCase(subs repository.SubscriptionRepository, plans repository.SubscriptionPlanRepository, tm repository.TransactionManager, logger *zerolog.Logger) *subscriptionUC {
	return &subscriptionUC{subs: subs, plans: plans, tm: tm, log: logger}
}

func (u *subscriptionUC) StartTrial(ctx context.Context, accountID, planID, destination string) (*model.Subscription, error) {
	out, err := u.withSubscription(ctx, accountID, planID, destination, func(ctx context.Context, tx repository.Tx, sub *model.Subscription) error {
		if err := sub.StartTrial(time.Now()); err != nil {
			if errors.Is(err, domain.ErrAlreadyExists) {
				return nil
			}
			return err
		}
		return u.subs.Save(ctx, tx, sub)
	})
	if err != nil {
		return nil, err
	}
	u.log.Info().Str("account_id", accountID).Str("subscription_id", out.ID).Str("state", string(out.State(time.Now()))).Msg("trial requested")
	return out, nil
}

func (u *subscriptionUC) EnsureSubscription(ctx context.Context, accountID, planID, destination string) (*model.Subscription, error) {
	return u.withSubscription(ctx, accountID, planID, destination, func(ctx context.Context, tx repository.Tx, sub *model.Subscription) error {
		if destination == "" || sub.Destination == destination {
			return nil
		}
		sub.Destination = destination
		sub.UpdatedAt = time.Now()
		return u.subs.Save(ctx, tx, sub)
	})
}

// errSubscriptionRaced marks a lost race on the (account, plan) unique key.
var errSubscriptionRaced = fmt.Errorf("subscription created concurrently: %w", domain.ErrAlreadyExists)

// withSubscription loads or creates the account's subscription and runs fn on it in one
// transaction. A first insert that loses to a concurrent one fails the transaction, so it
// is retried once in a fresh transaction, which then finds the winner's row.
func (u *subscriptionUC) withSubscription(ctx context.Context, accountID, planID, destination string, fn func(ctx context.Context, tx repository.Tx, sub *model.Subscription) error) (*model.Subscription, error) {
	var out *model.Subscription
	run := func(ctx context.Context, tx repository.Tx) error {
		sub, created, err := u.findOrCreate(ctx, tx, accountID, planID, destination)
		if err != nil {
			return err
		}
		if created {
			if err := u.subs.Save(ctx, tx, sub); err != nil {
				if errors.Is(err, domain.ErrAlreadyExists) {
					return errSubscriptionRaced
				}
				return err
			}
		}
		out = sub
		return fn(ctx, tx, sub)
	}

	err := u.tm.WithTx(ctx, pgx.TxOptions{}, run)
	if errors.Is(err, errSubscriptionRaced) {
		u.log.Debug().Str("account_id", accountID).Str("plan_id", planID).Msg("subscription created concurrently, reloading")
		out = nil
		err = u.tm.WithTx(ctx, pgx.TxOptions{}, run)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// findOrCreate does not persist a newly built subscription.
func (u *subscriptionUC) findOrCreate(ctx context.Context, tx repository.Tx, accountID, planID, destination string) (*model.Subscription, bool, error) {
	if accountID == "" || planID == "" {
		return nil, false, domain.ErrInvalidArgument
	}
	sub, err := u.subs.FindByAccountAndPlan(ctx, tx, accountID, planID)
	if err == nil {
		return sub, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}
	plan, err := u.plans.FindByID(ctx, tx, planID)
	if err != nil {
		return nil, false, err
	}
	sub, err = model.NewSubscription(uuid.NewString(), accountID, plan, time.Now())
	if err != nil {
		return nil, false, err
	}
	sub.Destination = destination
	return sub, true, nil
}

func (u *subscriptionUC) View(ctx context.Context, accountID, planID string) (*SubscriptionView, error) {
	sub, err := u.subs.FindByAccountAndPlan(ctx, repository.NoTX, accountID, planID)
	if err != nil {
		return nil, err
	}
	return buildView(sub, time.Now()), nil
}

func buildView(sub *model.Subscription, now time.Time) *SubscriptionView {
	v := &SubscriptionView{
		SubscriptionID: sub.ID,
		AccountID:      sub.AccountID,
		PlanID:         sub.PlanID,
		State:          sub.State(now),
		IsTrial:        sub.IsTrial(now),
		IsActive:       sub.IsActive(now),
		RemainingDays:  sub.RemainingDays(now),
		PeriodEnd:      sub.PeriodEnd,
	}
	if v.IsTrial {
		v.RemainingTrialDays = int(sub.TrialStart.Add(sub.TrialDuration).Sub(now) / day)
	}
	return v
}

func (u *subscriptionUC) Quote(ctx context.Context, planID string) (*model.SubscriptionPlan, int64, error) {
	plan, err := u.plans.FindByID(ctx, repository.NoTX, planID)
	if err != nil {
		return nil, 0, err
	}
	return plan, plan.TotalAmount(), nil
}

// ApplySuccessfulPayment renews the subscription named by req.CorrelationID once per
// provider request id. The guard row and the renewal commit together.
func (u *subscriptionUC) ApplySuccessfulPayment(ctx context.Context, req adapter.SettlementRequest) (adapter.ApplyResult, error) {
	if req.ProviderRequestID == "" || req.CorrelationID == "" {
		return "", domain.ErrInvalidArgument
	}
	at := req.SettledAt
	if at.IsZero() {
		at = time.Now()
	}

	result := adapter.ApplyApplied
	var periodEnd time.Time
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		sub, err := u.subs.FindByID(ctx, tx, req.CorrelationID)
		if err != nil {
			return fmt.Errorf("load subscription %s: %w", req.CorrelationID, err)
		}
		first, err := u.subs.RecordAppliedPayment(ctx, tx, sub.ID, req.ProviderRequestID, req.Amount, at)
		if err != nil {
			return err
		}
		if !first {
			result = adapter.ApplyAlreadyApplied
			return nil
		}
		planID := req.PlanID
		if planID == "" {
			planID = sub.PlanID
		}
		plan, err := u.plans.FindByID(ctx, tx, planID)
		if err != nil {
			return fmt.Errorf("load plan %s: %w", planID, err)
		}
		if err := sub.Renew(at, plan.Period); err != nil {
			return err
		}
		periodEnd = sub.PeriodEnd
		return u.subs.Save(ctx, tx, sub)
	})
	if err != nil {
		return "", err
	}
	if result == adapter.ApplyApplied {
		u.log.Info().
			Str("subscription_id", req.CorrelationID).
			Str("provider_request_id", req.ProviderRequestID).
			Time("period_end", periodEnd).
			Msg("subscription renewed")
	}
	return result, nil
}
