package payment

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/oklog/ulid/v2"

	"mpesa-settlement/internal/domain/model"
	"mpesa-settlement/internal/domain/ports/adapter"
)

var _ adapter.PushPaymentGateway = (*FakeGateway)(nil)

// FakeGateway accepts every push request and parses real STK callback bodies.
// It is used with mpesa.environment=fake for local development.
type FakeGateway struct {
	seq uint64
}

func NewFakeGateway() *FakeGateway { return &FakeGateway{} }

func (g *FakeGateway) Name() string { return "fake" }

func (g *FakeGateway) RequestPush(ctx context.Context, req adapter.PushRequest) (*adapter.PushResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := atomic.AddUint64(&g.seq, 1)
	return &adapter.PushResponse{
		ProviderRequestID: "ws_CO_" + ulid.Make().String(),
		MerchantRequestID: fmt.Sprintf("fake-%d", n),
		CustomerMessage:   "Success. Request accepted for processing",
	}, nil
}

func (g *FakeGateway) ParseCallback(raw []byte) (*model.CallbackOutcome, error) {
	return ParseSTKCallback(raw)
}
