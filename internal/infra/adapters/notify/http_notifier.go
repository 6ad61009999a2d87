package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"mpesa-settlement/internal/domain/ports/adapter"
)

var (
	_ adapter.Notifier = (*HTTPNotifier)(nil)
	_ adapter.Notifier = (*LogNotifier)(nil)
)

// HTTPNotifier hands messages to the external notification service (SMS/push).
type HTTPNotifier struct {
	endpoint string
	client   *http.Client
}

func NewHTTPNotifier(baseURL string, timeout time.Duration) *HTTPNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPNotifier{
		endpoint: strings.TrimRight(baseURL, "/") + "/internal/notifications",
		client:   &http.Client{Timeout: timeout},
	}
}

type notificationBody struct {
	OwnerID     string `json:"owner_id"`
	Destination string `json:"destination,omitempty"`
	Kind        string `json:"kind"`
	Text        string `json:"text"`
}

func (h *HTTPNotifier) Notify(ctx context.Context, n adapter.Notification) error {
	b, err := json.Marshal(notificationBody{OwnerID: n.OwnerID, Destination: n.Destination, Kind: string(n.Kind), Text: n.Text})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify %s: %w", n.OwnerID, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("notify %s: status %d", n.OwnerID, resp.StatusCode)
	}
	return nil
}

// LogNotifier logs messages instead of sending them. Used when no notification service is configured.
type LogNotifier struct {
	log zerolog.Logger
}

func NewLogNotifier(logger *zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: logger.With().Str("component", "notifier").Logger()}
}

func (l *LogNotifier) Notify(ctx context.Context, n adapter.Notification) error {
	l.log.Info().Str("owner_id", n.OwnerID).Str("kind", string(n.Kind)).Str("text", n.Text).Msg("notification")
	return nil
}
