package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"mpesa-settlement/internal/domain/ports/adapter"
)

var _ adapter.Alerter = (*AlertBot)(nil)

// sender is the part of *tgbotapi.BotAPI the alert bot needs.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// AlertBot posts operator alerts to a fixed set of Telegram chats.
type AlertBot struct {
	bot     sender
	chatIDs []int64
	log     zerolog.Logger
}

// NewAlertBot bounds every Telegram API call by timeout.
func NewAlertBot(token string, chatIDs []int64, timeout time.Duration, logger *zerolog.Logger) (*AlertBot, error) {
	if token == "" {
		return nil, errors.New("telegram token is empty")
	}
	if len(chatIDs) == 0 {
		return nil, errors.New("no alert chat ids configured")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, &http.Client{Timeout: timeout})
	if err != nil {
		return nil, err
	}
	return newAlertBot(bot, chatIDs, logger), nil
}

func newAlertBot(bot sender, chatIDs []int64, logger *zerolog.Logger) *AlertBot {
	return &AlertBot{bot: bot, chatIDs: chatIDs, log: logger.With().Str("component", "alert_bot").Logger()}
}

// Alert sends to every chat and returns the first failure after trying all of them.
func (b *AlertBot) Alert(ctx context.Context, a adapter.Alert) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	text := formatAlert(a)
	var first error
	for _, id := range b.chatIDs {
		msg := tgbotapi.NewMessage(id, text)
		msg.DisableWebPagePreview = true
		if _, err := b.bot.Send(msg); err != nil {
			b.log.Error().Err(err).Int64("chat_id", id).Str("title", a.Title).Msg("alert delivery failed")
			if first == nil {
				first = fmt.Errorf("telegram chat %d: %w", id, err)
			}
		}
	}
	return first
}

// formatAlert renders fields sorted by key so repeated alerts read the same.
func formatAlert(a adapter.Alert) string {
	var sb strings.Builder
	icon := "⚠️"
	if a.Severity == adapter.AlertCritical {
		icon = "🚨"
	}
	fmt.Fprintf(&sb, "%s [%s] %s", icon, strings.ToUpper(string(a.Severity)), a.Title)

	keys := make([]string, 0, len(a.Fields))
	for k := range a.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, "\n%s: %s", k, a.Fields[k])
	}
	return sb.String()
}
