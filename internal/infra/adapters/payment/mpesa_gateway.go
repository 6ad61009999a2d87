package payment

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"mpesa-settlement/internal/domain"
	"mpesa-settlement/internal/domain/model"
	"mpesa-settlement/internal/domain/ports/adapter"
	"mpesa-settlement/internal/infra/metrics"
)

var _ adapter.PushPaymentGateway = (*MpesaGateway)(nil)

const (
	sandboxBaseURL    = "https://sandbox.safaricom.co.ke"
	productionBaseURL = "https://api.safaricom.co.ke"

	stkTimestampLayout = "20060102150405"
)

// Daraja timestamps are East Africa Time.
var eat = time.FixedZone("EAT", 3*60*60)

type MpesaOptions struct {
	Environment     string // sandbox | production
	BaseURL         string // overrides Environment when set
	ConsumerKey     string
	ConsumerSecret  string
	ShortCode       string
	Passkey         string
	TransactionType string
	Timeout         time.Duration
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// MpesaGateway implements adapter.PushPaymentGateway against the Daraja STK push API.
// Every outbound call goes through a circuit breaker; provider refusals do not count as failures.
type MpesaGateway struct {
	opts    MpesaOptions
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
	now     func() time.Time

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewMpesaGateway(opts MpesaOptions, logger *zerolog.Logger) (*MpesaGateway, error) {
	if opts.ShortCode == "" || opts.Passkey == "" || opts.ConsumerKey == "" || opts.ConsumerSecret == "" {
		return nil, errors.New("mpesa: short code, passkey and consumer credentials are required")
	}
	base := opts.BaseURL
	if base == "" {
		base = sandboxBaseURL
		if opts.Environment == "production" {
			base = productionBaseURL
		}
	}
	if opts.TransactionType == "" {
		opts.TransactionType = "CustomerPayBillOnline"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 5
	}
	g := &MpesaGateway{
		opts:    opts,
		baseURL: strings.TrimRight(base, "/"),
		client:  &http.Client{Timeout: opts.Timeout},
		log:     logger.With().Str("component", "mpesa").Logger(),
		now:     time.Now,
	}
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "mpesa",
		MaxRequests: 1,
		Timeout:     opts.BreakerCooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= opts.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			var rej *adapter.RejectionError
			return err == nil || errors.As(err, &rej)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
	return g, nil
}

func (g *MpesaGateway) Name() string { return "mpesa" }

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`

	// error shape
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// password is computed per request: the timestamp is part of the provider's replay protection.
func (g *MpesaGateway) password(ts string) string {
	return base64.StdEncoding.EncodeToString([]byte(g.opts.ShortCode + g.opts.Passkey + ts))
}

func (g *MpesaGateway) RequestPush(ctx context.Context, req adapter.PushRequest) (*adapter.PushResponse, error) {
	start := time.Now()
	out, err := g.breaker.Execute(func() (interface{}, error) {
		return g.requestPush(ctx, req)
	})
	result := "accepted"
	var rej *adapter.RejectionError
	switch {
	case err == nil:
	case errors.As(err, &rej):
		result = "rejected"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		result = "breaker_open"
		err = fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	default:
		result = "unavailable"
	}
	metrics.ObserveProviderRequest(g.Name(), result, time.Since(start))
	if err != nil {
		return nil, err
	}
	return out.(*adapter.PushResponse), nil
}

func (g *MpesaGateway) requestPush(ctx context.Context, req adapter.PushRequest) (*adapter.PushResponse, error) {
	token, err := g.token(ctx)
	if err != nil {
		return nil, err
	}
	ts := g.now().In(eat).Format(stkTimestampLayout)
	body := stkPushRequest{
		BusinessShortCode: g.opts.ShortCode,
		Password:          g.password(ts),
		Timestamp:         ts,
		TransactionType:   g.opts.TransactionType,
		Amount:            req.Amount,
		PartyA:            req.Destination,
		PartyB:            g.opts.ShortCode,
		PhoneNumber:       req.Destination,
		CallBackURL:       req.CallbackURL,
		AccountReference:  truncate(req.AccountReference, 12),
		TransactionDesc:   truncate(req.Description, 13),
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/mpesa/stkpush/v1/processrequest", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	var out stkPushResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("%w: http %d", domain.ErrProviderUnavailable, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: undecodable response (http %d)", domain.ErrProviderUnavailable, resp.StatusCode)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		g.invalidateToken()
	}
	switch {
	case out.ErrorCode != "":
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("%w: %s %s", domain.ErrProviderUnavailable, out.ErrorCode, out.ErrorMessage)
		}
		return nil, &adapter.RejectionError{Code: out.ErrorCode, Description: out.ErrorMessage}
	case out.ResponseCode != "0":
		return nil, &adapter.RejectionError{Code: out.ResponseCode, Description: out.ResponseDescription}
	case out.CheckoutRequestID == "":
		return nil, fmt.Errorf("%w: accepted without CheckoutRequestID", domain.ErrProviderUnavailable)
	}
	return &adapter.PushResponse{
		ProviderRequestID: out.CheckoutRequestID,
		MerchantRequestID: out.MerchantRequestID,
		CustomerMessage:   out.CustomerMessage,
	}, nil
}

// token returns a cached OAuth access token, refreshing it a minute before expiry.
func (g *MpesaGateway) token(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.accessToken != "" && g.now().Before(g.tokenExpiry) {
		return g.accessToken, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(g.opts.ConsumerKey, g.opts.ConsumerSecret)
	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: oauth: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: oauth http %d", domain.ErrProviderUnavailable, resp.StatusCode)
	}
	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.AccessToken == "" {
		return "", fmt.Errorf("%w: oauth response unreadable", domain.ErrProviderUnavailable)
	}
	ttl := time.Hour
	if secs, err := strconv.Atoi(out.ExpiresIn); err == nil && secs > 0 {
		ttl = time.Duration(secs) * time.Second
	}
	g.accessToken = out.AccessToken
	g.tokenExpiry = g.now().Add(ttl - time.Minute)
	return g.accessToken, nil
}

func (g *MpesaGateway) invalidateToken() {
	g.mu.Lock()
	g.accessToken = ""
	g.mu.Unlock()
}

func (g *MpesaGateway) ParseCallback(raw []byte) (*model.CallbackOutcome, error) {
	return ParseSTKCallback(raw)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
