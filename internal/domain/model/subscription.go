package model

import (
	"time"

	"mpesa-settlement/internal/domain"
)

type SubscriptionState string

const (
	SubscriptionStateNone    SubscriptionState = "none"
	SubscriptionStateTrial   SubscriptionState = "trial"
	SubscriptionStateLapsed  SubscriptionState = "lapsed"
	SubscriptionStateActive  SubscriptionState = "active"
	SubscriptionStateGrace   SubscriptionState = "grace"
	SubscriptionStateExpired SubscriptionState = "expired"
)

const day = 24 * time.Hour

// Subscription is one account's subscription to a plan. Rows are never deleted;
// expiry is computed from PeriodEnd and GracePeriod.
type Subscription struct {
	ID            string
	AccountID     string
	PlanID        string
	Destination   string // MSISDN used for reminders
	TrialStart    *time.Time
	TrialDuration time.Duration
	PeriodEnd     time.Time
	GracePeriod   time.Duration
	LastRenewedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewSubscription creates a subscription that is not yet active: no trial and no paid period.
func NewSubscription(id, accountID string, plan *SubscriptionPlan, now time.Time) (*Subscription, error) {
	if id == "" || accountID == "" || plan.IsZero() {
		return nil, domain.ErrInvalidArgument
	}
	return &Subscription{
		ID:            id,
		AccountID:     accountID,
		PlanID:        plan.ID,
		TrialDuration: plan.TrialDuration,
		PeriodEnd:     now.Add(-plan.GracePeriod),
		GracePeriod:   plan.GracePeriod,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// StartTrial opens the trial window. A subscription gets at most one trial and none once paid.
func (s *Subscription) StartTrial(now time.Time) error {
	if s.TrialStart != nil || s.LastRenewedAt != nil {
		return domain.ErrAlreadyExists
	}
	start := now
	s.TrialStart = &start
	s.PeriodEnd = now.Add(s.TrialDuration)
	s.UpdatedAt = now
	return nil
}

// IsActive holds until the grace window after PeriodEnd has elapsed. A subscription
// that was never trialled or paid is never active.
func (s *Subscription) IsActive(now time.Time) bool {
	if !s.started() {
		return false
	}
	return now.Before(s.PeriodEnd.Add(s.GracePeriod))
}

func (s *Subscription) started() bool {
	return s.TrialStart != nil || s.LastRenewedAt != nil
}

// IsTrial holds inside the trial window while the remaining period still fits in it,
// so a paid renewal during the trial ends the trial.
func (s *Subscription) IsTrial(now time.Time) bool {
	if s.TrialStart == nil {
		return false
	}
	if !now.Before(s.TrialStart.Add(s.TrialDuration)) {
		return false
	}
	return s.PeriodEnd.Sub(now) <= s.TrialDuration
}

func (s *Subscription) State(now time.Time) SubscriptionState {
	switch {
	case !s.started():
		return SubscriptionStateNone
	case s.IsTrial(now):
		return SubscriptionStateTrial
	case s.LastRenewedAt == nil:
		return SubscriptionStateLapsed
	case now.Before(s.PeriodEnd):
		return SubscriptionStateActive
	case s.IsActive(now):
		return SubscriptionStateGrace
	default:
		return SubscriptionStateExpired
	}
}

// RemainingDays counts whole days left before PeriodEnd, zero once the subscription is inactive.
func (s *Subscription) RemainingDays(now time.Time) int {
	if !s.IsActive(now) || !now.Before(s.PeriodEnd) {
		return 0
	}
	return int(s.PeriodEnd.Sub(now) / day)
}

// Renew applies one successful payment: PeriodEnd becomes now + unused whole days + period.
func (s *Subscription) Renew(now time.Time, period time.Duration) error {
	if period <= 0 {
		return domain.ErrInvalidArgument
	}
	remaining := time.Duration(s.RemainingDays(now)) * day
	s.PeriodEnd = now.Add(remaining + period)
	renewed := now
	s.LastRenewedAt = &renewed
	s.UpdatedAt = now
	return nil
}
