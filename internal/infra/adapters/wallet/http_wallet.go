package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"mpesa-settlement/internal/domain"
	"mpesa-settlement/internal/domain/ports/adapter"
)

var _ adapter.SettlementSubject = (*HTTPWallet)(nil)

// HTTPWallet credits the external wallet service once per provider request id.
// The wallet service deduplicates on the Idempotency-Key header.
type HTTPWallet struct {
	baseURL string
	token   string
	client  *http.Client
	log     zerolog.Logger
}

func NewHTTPWallet(baseURL, serviceToken string, timeout time.Duration, logger *zerolog.Logger) *HTTPWallet {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPWallet{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   serviceToken,
		client:  &http.Client{Timeout: timeout},
		log:     logger.With().Str("component", "wallet_client").Logger(),
	}
}

type creditRequest struct {
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency"`
	Reference     string    `json:"reference"`
	CorrelationID string    `json:"correlation_id"`
	SettledAt     time.Time `json:"settled_at"`
}

func (w *HTTPWallet) ApplySuccessfulPayment(ctx context.Context, req adapter.SettlementRequest) (adapter.ApplyResult, error) {
	if req.OwnerID == "" || req.ProviderRequestID == "" || req.Amount <= 0 {
		return "", domain.ErrInvalidArgument
	}
	body, err := json.Marshal(creditRequest{
		Amount:        req.Amount,
		Currency:      "KES",
		Reference:     req.ReceiptNumber,
		CorrelationID: req.CorrelationID,
		SettledAt:     req.SettledAt.UTC(),
	})
	if err != nil {
		return "", err
	}
	endpoint := fmt.Sprintf("%s/internal/wallets/%s/credits", w.baseURL, url.PathEscape(req.OwnerID))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.ProviderRequestID)
	if w.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+w.token)
	}

	resp, err := w.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("wallet credit %s: %w", req.ProviderRequestID, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		w.log.Info().Str("owner_id", req.OwnerID).Str("provider_request_id", req.ProviderRequestID).Int64("amount", req.Amount).Msg("wallet credited")
		return adapter.ApplyApplied, nil
	case http.StatusConflict:
		return adapter.ApplyAlreadyApplied, nil
	default:
		return "", fmt.Errorf("wallet credit %s: unexpected status %d", req.ProviderRequestID, resp.StatusCode)
	}
}
