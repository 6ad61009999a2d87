//go:build !integration

package usecase_test

import (
	"context"
	"testing"
	"time"

	"mpesa-settlement/internal/domain/model"
	"mpesa-settlement/internal/domain/ports/adapter"
	"mpesa-settlement/internal/infra/security"
	"mpesa-settlement/internal/usecase"
)

// settlementHarness wires the initiator and the reconciler over shared in-memory fakes.
type settlementHarness struct {
	payments *MockPaymentRepo
	audits   *MockAuditRepo
	gateway  *MockGateway
	subject  *MockSubject
	notifier *MockNotifier
	alerter  *MockAlerter
	limiter  *MockRateLimiter
	locker   *MockLocker
	codec    *security.TokenCodec
	clock    *testClock

	initiator  usecase.PaymentUseCase
	reconciler usecase.CallbackUseCase
}

func newHarness() *settlementHarness {
	h := &settlementHarness{
		payments: NewMockPaymentRepo(),
		audits:   &MockAuditRepo{},
		gateway:  &MockGateway{},
		subject:  NewMockSubject(),
		notifier: &MockNotifier{},
		alerter:  &MockAlerter{},
		limiter:  &MockRateLimiter{},
		locker:   NewMockLocker(),
	}
	h.codec, h.clock = newTestCodec()
	tr := newTestTranslator()
	h.initiator = usecase.NewPaymentUseCase(h.payments, h.gateway, h.codec, h.limiter, h.alerter, tr, usecase.PaymentOptions{
		CallbackBaseURL:  "https://pay.example.com",
		TokenTTL:         15 * time.Minute,
		ProviderTimeout:  time.Second,
		AccountReference: "Subscription",
		RateLimit:        3,
		RateWindow:       time.Minute,
	}, newTestLogger())
	h.reconciler = usecase.NewCallbackUseCase(
		h.payments, h.audits, &MockTxManager{}, h.gateway, h.codec, h.subject,
		h.locker, newTestSealer(), h.alerter, h.notifier, tr, newTestLogger(),
	)
	return h
}

// initiate starts a wallet top-up for correlation and makes the provider answer with providerID.
func (h *settlementHarness) initiate(t *testing.T, correlation string, amount int64, providerID string) string {
	t.Helper()
	h.gateway.RequestPushFunc = func(ctx context.Context, req adapter.PushRequest) (*adapter.PushResponse, error) {
		return &adapter.PushResponse{ProviderRequestID: providerID, MerchantRequestID: "m-" + providerID}, nil
	}
	res, err := h.initiator.Initiate(context.Background(), usecase.InitiateRequest{
		OwnerID:       correlation,
		CorrelationID: correlation,
		Purpose:       model.PurposeWalletTopUp,
		Amount:        amount,
		Destination:   "0712345678",
	})
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected initiation to succeed, got %q", res.Message)
	}
	return res.Token
}
