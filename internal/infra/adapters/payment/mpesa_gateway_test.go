//go:build !integration

package payment

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mpesa-settlement/internal/domain"
	"mpesa-settlement/internal/domain/ports/adapter"
)

type darajaStub struct {
	oauthCalls int32
	pushCalls  int32
	lastPush   stkPushRequest
	respond    func(w http.ResponseWriter)
}

func (s *darajaStub) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&s.oauthCalls, 1)
		user, pass, ok := r.BasicAuth()
		if !ok || user != "ck" || pass != "cs" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"tok-1","expires_in":"3599"}`))
	})
	mux.HandleFunc("/mpesa/stkpush/v1/processrequest", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&s.pushCalls, 1)
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			t.Errorf("unexpected authorization header %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&s.lastPush); err != nil {
			t.Errorf("decode push body: %v", err)
		}
		s.respond(w)
	})
	return mux
}

func newTestGateway(t *testing.T, srv *httptest.Server) *MpesaGateway {
	t.Helper()
	logger := zerolog.Nop()
	g, err := NewMpesaGateway(MpesaOptions{
		BaseURL:         srv.URL,
		ConsumerKey:     "ck",
		ConsumerSecret:  "cs",
		ShortCode:       "174379",
		Passkey:         "pk",
		Timeout:         2 * time.Second,
		BreakerFailures: 2,
		BreakerCooldown: time.Minute,
	}, &logger)
	if err != nil {
		t.Fatalf("NewMpesaGateway: %v", err)
	}
	g.now = func() time.Time { return time.Date(2026, 5, 1, 7, 0, 0, 0, time.UTC) }
	return g
}

func samplePush() adapter.PushRequest {
	return adapter.PushRequest{
		Amount:           500,
		Destination:      "254712345678",
		AccountReference: "SETTLEMENT-ACCOUNT",
		Description:      "Wallet top up",
		CallbackURL:      "https://example.test/api/v1/callbacks/mpesa/abc",
	}
}

func TestMpesaGateway_RequestPushAccepted(t *testing.T) {
	stub := &darajaStub{respond: func(w http.ResponseWriter) {
		_, _ = w.Write([]byte(`{"MerchantRequestID":"m-1","CheckoutRequestID":"ws_CO_1","ResponseCode":"0","ResponseDescription":"Success","CustomerMessage":"Success. Request accepted for processing"}`))
	}}
	srv := httptest.NewServer(stub.handler(t))
	defer srv.Close()
	g := newTestGateway(t, srv)

	for i := 0; i < 2; i++ {
		resp, err := g.RequestPush(context.Background(), samplePush())
		if err != nil {
			t.Fatalf("RequestPush: %v", err)
		}
		if resp.ProviderRequestID != "ws_CO_1" || resp.MerchantRequestID != "m-1" {
			t.Errorf("unexpected response %+v", resp)
		}
	}
	if stub.oauthCalls != 1 {
		t.Errorf("expected the access token to be cached, got %d oauth calls", stub.oauthCalls)
	}

	// 07:00 UTC is 10:00 EAT.
	if stub.lastPush.Timestamp != "20260501100000" {
		t.Errorf("unexpected timestamp %s", stub.lastPush.Timestamp)
	}
	wantPwd := base64.StdEncoding.EncodeToString([]byte("174379pk20260501100000"))
	if stub.lastPush.Password != wantPwd {
		t.Errorf("unexpected password %s", stub.lastPush.Password)
	}
	if stub.lastPush.Amount != 500 || stub.lastPush.PartyA != "254712345678" || stub.lastPush.PartyB != "174379" {
		t.Errorf("unexpected push body %+v", stub.lastPush)
	}
	if stub.lastPush.AccountReference != "SETTLEMENT-A" || stub.lastPush.TransactionDesc != "Wallet top up" {
		t.Errorf("expected provider field limits to be applied, got %q %q", stub.lastPush.AccountReference, stub.lastPush.TransactionDesc)
	}
	if stub.lastPush.TransactionType != "CustomerPayBillOnline" {
		t.Errorf("unexpected transaction type %s", stub.lastPush.TransactionType)
	}
}

func TestMpesaGateway_Rejections(t *testing.T) {
	cases := []struct {
		name     string
		status   int
		body     string
		wantCode string
	}{
		{"non-zero response code", http.StatusOK, `{"ResponseCode":"1","ResponseDescription":"Insufficient balance"}`, "1"},
		{"error body", http.StatusBadRequest, `{"requestId":"r-1","errorCode":"400.002.02","errorMessage":"Bad Request - Invalid PhoneNumber"}`, "400.002.02"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stub := &darajaStub{respond: func(w http.ResponseWriter) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}}
			srv := httptest.NewServer(stub.handler(t))
			defer srv.Close()
			g := newTestGateway(t, srv)

			// Rejections never open the breaker.
			for i := 0; i < 4; i++ {
				_, err := g.RequestPush(context.Background(), samplePush())
				var rej *adapter.RejectionError
				if !errors.As(err, &rej) {
					t.Fatalf("expected RejectionError, got %v", err)
				}
				if rej.Code != tc.wantCode {
					t.Errorf("expected code %s, got %s", tc.wantCode, rej.Code)
				}
				if !errors.Is(err, domain.ErrProviderRejected) {
					t.Error("expected rejection to unwrap to ErrProviderRejected")
				}
			}
			if stub.pushCalls != 4 {
				t.Errorf("expected every request to reach the provider, got %d", stub.pushCalls)
			}
		})
	}
}

func TestMpesaGateway_UnavailableOpensBreaker(t *testing.T) {
	stub := &darajaStub{respond: func(w http.ResponseWriter) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`<html>maintenance</html>`))
	}}
	srv := httptest.NewServer(stub.handler(t))
	defer srv.Close()
	g := newTestGateway(t, srv)

	for i := 0; i < 3; i++ {
		_, err := g.RequestPush(context.Background(), samplePush())
		if !errors.Is(err, domain.ErrProviderUnavailable) {
			t.Fatalf("attempt %d: expected ErrProviderUnavailable, got %v", i, err)
		}
	}
	if stub.pushCalls != 2 {
		t.Errorf("expected the breaker to short-circuit after 2 failures, got %d calls", stub.pushCalls)
	}
}

func TestMpesaGateway_Timeout(t *testing.T) {
	block := make(chan struct{})
	stub := &darajaStub{respond: func(w http.ResponseWriter) { <-block }}
	srv := httptest.NewServer(stub.handler(t))
	defer srv.Close()
	defer close(block)
	g := newTestGateway(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := g.RequestPush(ctx, samplePush()); !errors.Is(err, domain.ErrProviderUnavailable) {
		t.Errorf("expected ErrProviderUnavailable on timeout, got %v", err)
	}
}

func TestNewMpesaGateway_RequiresCredentials(t *testing.T) {
	logger := zerolog.Nop()
	if _, err := NewMpesaGateway(MpesaOptions{ShortCode: "174379"}, &logger); err == nil {
		t.Error("expected missing credentials to be refused")
	}
}
