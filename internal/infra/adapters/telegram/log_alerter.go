package telegram

import (
	"context"

	"github.com/rs/zerolog"

	"mpesa-settlement/internal/domain/ports/adapter"
)

var _ adapter.Alerter = (*LogAlerter)(nil)

// LogAlerter writes alerts to the log. Used when no Telegram token is configured.
type LogAlerter struct {
	log zerolog.Logger
}

func NewLogAlerter(logger *zerolog.Logger) *LogAlerter {
	return &LogAlerter{log: logger.With().Str("component", "alerts").Logger()}
}

func (l *LogAlerter) Alert(ctx context.Context, a adapter.Alert) error {
	ev := l.log.Warn()
	if a.Severity == adapter.AlertCritical {
		ev = l.log.Error()
	}
	for k, v := range a.Fields {
		ev = ev.Str(k, v)
	}
	ev.Str("severity", string(a.Severity)).Msg(a.Title)
	return nil
}
