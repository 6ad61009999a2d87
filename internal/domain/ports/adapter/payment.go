package adapter

import (
	"context"
	"fmt"

	"mpesa-settlement/internal/domain"
	"mpesa-settlement/internal/domain/model"
)

// PushRequest asks the provider to prompt the payer's handset.
type PushRequest struct {
	Amount           int64
	Destination      string // payer MSISDN
	AccountReference string
	Description      string
	CallbackURL      string
}

// PushResponse is the provider's synchronous acceptance.
type PushResponse struct {
	ProviderRequestID string
	MerchantRequestID string
	CustomerMessage   string
}

// PushPaymentGateway is the hex port for push-payment providers.
type PushPaymentGateway interface {
	Name() string

	// RequestPush returns a *RejectionError when the provider refuses the request and an error
	// wrapping domain.ErrProviderUnavailable on transport failure or timeout.
	RequestPush(ctx context.Context, req PushRequest) (*PushResponse, error)
	// ParseCallback extracts the canonical outcome; failures wrap domain.ErrUnparseablePayload.
	ParseCallback(raw []byte) (*model.CallbackOutcome, error)
}

// RejectionError is a provider-level refusal. Code is the provider's response code.
type RejectionError struct {
	Code        string
	Description string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("provider rejected request: code=%s desc=%s", e.Code, e.Description)
}

func (e *RejectionError) Unwrap() error { return domain.ErrProviderRejected }
