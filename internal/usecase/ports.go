package usecase

import (
	"time"

	"mpesa-settlement/internal/domain/model"
)

// TokenCodec mints and verifies continuation tokens.
type TokenCodec interface {
	Mint(claims model.ContinuationClaims, ttl time.Duration) (string, *model.ContinuationClaims, error)
	Verify(token string) (*model.ContinuationClaims, error)
}

// Translator resolves user-facing message keys.
type Translator interface {
	T(key string, args ...interface{}) string
}

// PayloadSealer encrypts callback bodies kept for review.
type PayloadSealer interface {
	Seal(plaintext []byte) (string, error)
	Open(sealed string) ([]byte, error)
}

func callbackLockKey(providerRequestID string) string {
	return "lock:callback:" + providerRequestID
}

func initiateRateKey(ownerID string) string {
	return "rate_limit:" + ownerID + ":initiate"
}

const day = 24 * time.Hour
