package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"

	"mpesa-settlement/internal/domain"
	"mpesa-settlement/internal/domain/model"
)

// TokenCodec mints and verifies continuation tokens: HS256 JWTs carried in the
// provider callback URL. It holds no state beyond the signing key.
type TokenCodec struct {
	key []byte
	now func() time.Time
}

type TokenOption func(*TokenCodec)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) TokenOption {
	return func(c *TokenCodec) { c.now = now }
}

func NewTokenCodec(key []byte, opts ...TokenOption) (*TokenCodec, error) {
	if len(key) < 32 {
		return nil, fmt.Errorf("token signing key must be at least 32 bytes; got %d", len(key))
	}
	k := make([]byte, len(key))
	copy(k, key)
	c := &TokenCodec{key: k, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

type continuationClaims struct {
	OwnerID     string `json:"own"`
	Amount      int64  `json:"amt"`
	Destination string `json:"dst"`
	PlanID      string `json:"pln,omitempty"`
	Purpose     string `json:"pur"`
	jwt.RegisteredClaims
}

// Mint signs claims with an expiry of now+ttl. A fresh attempt id is assigned when empty.
// The returned claims carry the issued-at and expiry actually encoded.
func (c *TokenCodec) Mint(claims model.ContinuationClaims, ttl time.Duration) (string, *model.ContinuationClaims, error) {
	if ttl <= 0 {
		return "", nil, domain.ErrInvalidArgument
	}
	if err := claims.Validate(); err != nil {
		return "", nil, err
	}
	if claims.AttemptID == "" {
		claims.AttemptID = ulid.Make().String()
	}
	now := c.now()
	iat := jwt.NewNumericDate(now)
	exp := jwt.NewNumericDate(now.Add(ttl))

	cc := continuationClaims{
		OwnerID:     claims.OwnerID,
		Amount:      claims.Amount,
		Destination: claims.Destination,
		PlanID:      claims.PlanID,
		Purpose:     string(claims.Purpose),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.CorrelationID,
			ID:        claims.AttemptID,
			IssuedAt:  iat,
			ExpiresAt: exp,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, cc).SignedString(c.key)
	if err != nil {
		return "", nil, fmt.Errorf("sign continuation token: %w", err)
	}
	claims.IssuedAt = iat.Time
	claims.ExpiresAt = exp.Time
	return signed, &claims, nil
}

// Verify checks the signature first, then expiry. Errors are ErrTokenInvalidSignature,
// ErrTokenExpired or ErrTokenMalformed.
func (c *TokenCodec) Verify(token string) (*model.ContinuationClaims, error) {
	cc := &continuationClaims{}
	_, err := jwt.ParseWithClaims(token, cc, func(t *jwt.Token) (any, error) {
		return c.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
	)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return nil, fmt.Errorf("%w: %v", domain.ErrTokenInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, domain.ErrTokenExpired
	default:
		return nil, fmt.Errorf("%w: %v", domain.ErrTokenMalformed, err)
	}

	out := &model.ContinuationClaims{
		CorrelationID: cc.Subject,
		AttemptID:     cc.ID,
		OwnerID:       cc.OwnerID,
		Amount:        cc.Amount,
		Destination:   cc.Destination,
		PlanID:        cc.PlanID,
		Purpose:       model.Purpose(cc.Purpose),
	}
	if cc.IssuedAt != nil {
		out.IssuedAt = cc.IssuedAt.Time
	}
	if cc.ExpiresAt != nil {
		out.ExpiresAt = cc.ExpiresAt.Time
	}
	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTokenMalformed, err)
	}
	return out, nil
}
