package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"mpesa-settlement/internal/infra/metrics"
)

// Notifier is the minimal interface the scheduler needs from the reminder use case.
type Notifier interface {
	// CheckAndNotify finds subscriptions whose period ends within withinDays and reminds them.
	// Returns the number of reminders sent and the first error, if any.
	CheckAndNotify(ctx context.Context, withinDays int) (int, error)
}

// Scheduler periodically runs a Notifier's CheckAndNotify method.
type Scheduler struct {
	interval   time.Duration
	withinDays int
	notifier   Notifier
	log        zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler runs notifier.CheckAndNotify every interval.
// If interval <= 0 it defaults to 1 hour; withinDays <= 0 defaults to 2.
func NewScheduler(interval time.Duration, withinDays int, notifier Notifier, logger *zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	if withinDays <= 0 {
		withinDays = 2
	}
	return &Scheduler{
		interval:   interval,
		withinDays: withinDays,
		notifier:   notifier,
		log:        logger.With().Str("component", "scheduler").Logger(),
		done:       make(chan struct{}),
	}
}

// Start begins the loop in a background goroutine. Calling Start twice has no effect.
func (s *Scheduler) Start(parentCtx context.Context) {
	if s.ctx != nil {
		return
	}
	ctx, cancel := context.WithCancel(parentCtx)
	s.ctx = ctx
	s.cancel = cancel

	go s.loop()
}

func (s *Scheduler) loop() {
	ticker := time.NewTicker(s.interval)
	defer func() {
		ticker.Stop()
		close(s.done)
	}()

	s.log.Info().Dur("interval", s.interval).Int("within_days", s.withinDays).Msg("scheduler started")
	for {
		select {
		case <-s.ctx.Done():
			s.log.Info().Msg("context cancelled; stopping")
			return
		case <-ticker.C:
			s.RunOnce(s.ctx)
		}
	}
}

// RunOnce performs a single bounded pass.
func (s *Scheduler) RunOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	sent, err := s.notifier.CheckAndNotify(runCtx, s.withinDays)
	if sent > 0 {
		metrics.AddRemindersSent(sent)
	}
	if err != nil {
		s.log.Error().Err(err).Int("sent", sent).Msg("CheckAndNotify failed")
		return
	}
	if sent > 0 {
		s.log.Info().Int("sent", sent).Msg("renewal reminders sent")
	}
}

// Stop cancels the loop and waits for it to finish. It is idempotent.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.ctx = nil
	s.cancel = nil
	s.done = make(chan struct{})
	s.log.Info().Msg("scheduler stopped")
}
