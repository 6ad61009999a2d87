package usecase

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"mpesa-settlement/internal/domain/model"
	"mpesa-settlement/internal/domain/ports/adapter"
	"mpesa-settlement/internal/domain/ports/repository"
)

// Compile-time check
var _ NotificationUseCase = (*notificationUC)(nil)

type NotificationUseCase interface {
	// CheckAndNotify reminds owners whose period ends within withinDays. Each period end is
	// reminded once. Returns the number sent and the first error.
	CheckAndNotify(ctx context.Context, withinDays int) (int, error)
}

type notificationUC struct {
	subs     repository.SubscriptionRepository
	notifier adapter.Notifier
	dedupe   adapter.Deduper
	logs     repository.NotificationLogRepository
	tr       Translator
	log      *zerolog.Logger
}

// reminderClaimTTL bounds how long one runner holds a reminder before the log records it.
const reminderClaimTTL = 10 * time.Minute

// NewNotificationUseCase dedupes on logs when given, using dedupe only as a short claim
// between concurrent runners. Without logs, dedupe alone decides for the whole window.
func NewNotificationUseCase(subs repository.SubscriptionRepository, logs repository.NotificationLogRepository, notifier adapter.Notifier, dedupe adapter.Deduper, tr Translator, logger *zerolog.Logger) *notificationUC {
	return &notificationUC{subs: subs, logs: logs, notifier: notifier, dedupe: dedupe, tr: tr, log: logger}
}

func (n *notificationUC) CheckAndNotify(ctx context.Context, withinDays int) (int, error) {
	now := time.Now()
	window := time.Duration(withinDays) * day
	items, err := n.subs.ListPeriodEndingBetween(ctx, repository.NoTX, now, now.Add(window))
	if err != nil {
		return 0, err
	}

	sent := 0
	var firstErr error
	for _, s := range items {
		if st := s.State(now); st != model.SubscriptionStateActive && st != model.SubscriptionStateTrial {
			continue
		}
		if !n.claim(ctx, s, window) {
			continue
		}
		err := n.notifier.Notify(ctx, adapter.Notification{
			OwnerID:     s.AccountID,
			Destination: s.Destination,
			Kind:        adapter.NotifyRenewalReminder,
			Text:        n.tr.T("renewal_reminder", s.PeriodEnd.Format("2006-01-02")),
		})
		if err != nil {
			n.log.Error().Err(err).Str("subscription_id", s.ID).Msg("renewal reminder failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		sent++
		if n.logs != nil {
			if err := n.logs.Save(ctx, repository.NoTX, s.ID, s.AccountID, string(adapter.NotifyRenewalReminder), s.PeriodEnd); err != nil {
				n.log.Error().Err(err).Str("subscription_id", s.ID).Msg("failed to log renewal reminder")
			}
		}
	}
	return sent, firstErr
}

// claim reports whether this runner should send the reminder for s.
func (n *notificationUC) claim(ctx context.Context, s *model.Subscription, window time.Duration) bool {
	if n.logs != nil {
		done, err := n.logs.Exists(ctx, repository.NoTX, s.ID, string(adapter.NotifyRenewalReminder), s.PeriodEnd)
		if err != nil {
			n.log.Warn().Err(err).Str("subscription_id", s.ID).Msg("reminder log unavailable; skipping")
			return false
		}
		if done {
			return false
		}
	}
	if n.dedupe == nil {
		return true
	}
	ttl := window + day
	if n.logs != nil {
		ttl = reminderClaimTTL
	}
	key := s.ID + ":" + s.PeriodEnd.UTC().Format("20060102")
	first, err := n.dedupe.FirstSeen(ctx, key, ttl)
	if err != nil {
		if n.logs != nil {
			n.log.Debug().Err(err).Str("subscription_id", s.ID).Msg("reminder claim unavailable; relying on log")
			return true
		}
		n.log.Warn().Err(err).Str("subscription_id", s.ID).Msg("reminder dedupe unavailable; skipping")
		return false
	}
	return first
}
