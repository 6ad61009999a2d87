//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"mpesa-settlement/internal/domain"
	"mpesa-settlement/internal/domain/model"
	"mpesa-settlement/internal/domain/ports/adapter"
	"mpesa-settlement/internal/domain/ports/repository"
	"mpesa-settlement/internal/usecase"
)

func newStandardPlan(t *testing.T) *model.SubscriptionPlan {
	t.Helper()
	p, err := model.NewSubscriptionPlan("plan-std", "Standard Plan", "Annual", 2000, model.Tax{Name: "VAT", Rate: decimal.RequireFromString("0.16")})
	if err != nil {
		t.Fatalf("NewSubscriptionPlan: %v", err)
	}
	return p
}

func newSubscriptionFixture(t *testing.T) (usecase.SubscriptionUseCase, *MockSubscriptionRepo) {
	t.Helper()
	plans := NewMockPlanRepo()
	_ = plans.Save(context.Background(), nil, newStandardPlan(t))
	subs := NewMockSubscriptionRepo()
	return usecase.NewSubscriptionUseCase(subs, plans, &MockTxManager{}, newTestLogger()), subs
}

func TestSubscriptionUseCase_StartTrial(t *testing.T) {
	ctx := context.Background()

	t.Run("should open a trial once", func(t *testing.T) {
		uc, _ := newSubscriptionFixture(t)

		sub, err := uc.StartTrial(ctx, "acc-1", "plan-std", "254712345678")
		if err != nil {
			t.Fatalf("StartTrial: %v", err)
		}
		if sub.State(time.Now()) != model.SubscriptionStateTrial {
			t.Errorf("expected trial, got %s", sub.State(time.Now()))
		}
		if d := sub.PeriodEnd.Sub(*sub.TrialStart); d != model.DefaultTrialDuration {
			t.Errorf("expected a 14 day trial, got %s", d)
		}

		again, err := uc.StartTrial(ctx, "acc-1", "plan-std", "254712345678")
		if err != nil {
			t.Fatalf("second StartTrial: %v", err)
		}
		if again.ID != sub.ID || !again.PeriodEnd.Equal(sub.PeriodEnd) {
			t.Errorf("expected the existing subscription back unchanged")
		}
	})

	t.Run("should refuse an unknown plan", func(t *testing.T) {
		uc, _ := newSubscriptionFixture(t)
		if _, err := uc.StartTrial(ctx, "acc-1", "missing", ""); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("should open a trial on a subscription created for payment", func(t *testing.T) {
		uc, _ := newSubscriptionFixture(t)
		ensured, _ := uc.EnsureSubscription(ctx, "acc-1", "plan-std", "")
		sub, err := uc.StartTrial(ctx, "acc-1", "plan-std", "")
		if err != nil || sub.ID != ensured.ID || sub.TrialStart == nil {
			t.Errorf("expected trial on the same row, got %+v %v", sub, err)
		}
	})
}

func TestSubscriptionUseCase_EnsureAndView(t *testing.T) {
	ctx := context.Background()
	uc, _ := newSubscriptionFixture(t)

	sub, err := uc.EnsureSubscription(ctx, "acc-1", "plan-std", "254712345678")
	if err != nil {
		t.Fatalf("EnsureSubscription: %v", err)
	}
	same, _ := uc.EnsureSubscription(ctx, "acc-1", "plan-std", "254700000001")
	if same.ID != sub.ID || same.Destination != "254700000001" {
		t.Errorf("expected the same row with the new destination, got %+v", same)
	}

	v, err := uc.View(ctx, "acc-1", "plan-std")
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	if v.State != model.SubscriptionStateNone || v.IsTrial {
		t.Errorf("unexpected view %+v", v)
	}

	_, _ = uc.StartTrial(ctx, "acc-1", "plan-std", "")
	v, _ = uc.View(ctx, "acc-1", "plan-std")
	if !v.IsTrial || !v.IsActive || v.RemainingTrialDays < 13 || v.RemainingTrialDays > 14 {
		t.Errorf("expected an active trial with about 14 days left, got %+v", v)
	}

	plan, total, err := uc.Quote(ctx, "plan-std")
	if err != nil || total != 2320 || plan.Name != "Standard Plan" {
		t.Errorf("expected total 2320, got %d %v", total, err)
	}
}

func TestSubscriptionUseCase_ConcurrentFirstCreate(t *testing.T) {
	ctx := context.Background()
	plan := newStandardPlan(t)

	for _, tc := range []struct {
		name string
		call func(uc usecase.SubscriptionUseCase) (*model.Subscription, error)
	}{
		{"ensure", func(uc usecase.SubscriptionUseCase) (*model.Subscription, error) {
			return uc.EnsureSubscription(ctx, "acc-1", "plan-std", "254712345678")
		}},
		{"trial", func(uc usecase.SubscriptionUseCase) (*model.Subscription, error) {
			return uc.StartTrial(ctx, "acc-1", "plan-std", "254712345678")
		}},
	} {
		t.Run("should reuse the row of a concurrent "+tc.name+" insert", func(t *testing.T) {
			uc, subs := newSubscriptionFixture(t)
			winner, _ := model.NewSubscription("sub-winner", "acc-1", plan, time.Now())
			subs.OnMiss = func() { _ = subs.Save(ctx, nil, winner) }

			got, err := tc.call(uc)
			if err != nil {
				t.Fatalf("expected the lost insert to be retried, got %v", err)
			}
			if got.ID != "sub-winner" {
				t.Errorf("expected the existing subscription sub-winner, got %s", got.ID)
			}
			stored, _ := subs.FindByAccountAndPlan(ctx, repository.NoTX, "acc-1", "plan-std")
			if stored.ID != "sub-winner" {
				t.Errorf("expected a single stored subscription, got %s", stored.ID)
			}
		})
	}
}

func TestSubscriptionUseCase_ApplySuccessfulPayment(t *testing.T) {
	ctx := context.Background()

	t.Run("should renew a trial carrying remaining days forward", func(t *testing.T) {
		uc, subs := newSubscriptionFixture(t)
		sub, _ := uc.StartTrial(ctx, "acc-1", "plan-std", "")
		at := time.Now()
		remaining := sub.RemainingDays(at)

		res, err := uc.ApplySuccessfulPayment(ctx, adapter.SettlementRequest{
			ProviderRequestID: "PR-1", CorrelationID: sub.ID, PlanID: "plan-std",
			Purpose: model.PurposeSubscription, Amount: 2320, SettledAt: at,
		})
		if err != nil || res != adapter.ApplyApplied {
			t.Fatalf("expected applied, got %s %v", res, err)
		}

		got, _ := subs.FindByID(ctx, repository.NoTX, sub.ID)
		want := at.Add(time.Duration(remaining)*24*time.Hour + model.DefaultPeriod)
		if !got.PeriodEnd.Equal(want) {
			t.Errorf("expected period end %v, got %v", want, got.PeriodEnd)
		}
		if got.State(at.Add(time.Hour)) != model.SubscriptionStateActive {
			t.Errorf("expected active after payment, got %s", got.State(at.Add(time.Hour)))
		}
	})

	t.Run("should apply each provider request once", func(t *testing.T) {
		uc, subs := newSubscriptionFixture(t)
		sub, _ := uc.EnsureSubscription(ctx, "acc-1", "plan-std", "")
		req := adapter.SettlementRequest{ProviderRequestID: "PR-1", CorrelationID: sub.ID, Purpose: model.PurposeSubscription, Amount: 2320}

		_, _ = uc.ApplySuccessfulPayment(ctx, req)
		after, _ := subs.FindByID(ctx, repository.NoTX, sub.ID)
		res, err := uc.ApplySuccessfulPayment(ctx, req)

		if err != nil || res != adapter.ApplyAlreadyApplied {
			t.Fatalf("expected already_applied, got %s %v", res, err)
		}
		again, _ := subs.FindByID(ctx, repository.NoTX, sub.ID)
		if !again.PeriodEnd.Equal(after.PeriodEnd) {
			t.Error("expected the second application not to extend the period")
		}
	})

	t.Run("should fail for an unknown subscription", func(t *testing.T) {
		uc, _ := newSubscriptionFixture(t)
		_, err := uc.ApplySuccessfulPayment(ctx, adapter.SettlementRequest{ProviderRequestID: "PR-1", CorrelationID: "nope"})
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestSubjectRouter(t *testing.T) {
	wallet := NewMockSubject()
	router := usecase.SubjectRouter{model.PurposeWalletTopUp: wallet}

	res, err := router.ApplySuccessfulPayment(context.Background(), adapter.SettlementRequest{ProviderRequestID: "PR-1", Purpose: model.PurposeWalletTopUp, Amount: 500})
	if err != nil || res != adapter.ApplyApplied || wallet.Total() != 500 {
		t.Errorf("expected wallet credit, got %s %v", res, err)
	}
	if _, err := router.ApplySuccessfulPayment(context.Background(), adapter.SettlementRequest{Purpose: model.PurposeSubscription}); !errors.Is(err, domain.ErrSubjectMutationFailed) {
		t.Errorf("expected ErrSubjectMutationFailed, got %v", err)
	}
}
