package model

import (
	"regexp"
	"strings"
	"time"

	"mpesa-settlement/internal/domain"
)

// ContinuationClaims is the correlation context carried through the provider callback URL.
// It holds no secrets.
type ContinuationClaims struct {
	CorrelationID string
	AttemptID     string
	OwnerID       string
	Amount        int64
	Destination   string
	PlanID        string
	Purpose       Purpose
	IssuedAt      time.Time
	ExpiresAt     time.Time
}

func (c *ContinuationClaims) Validate() error {
	if c.CorrelationID == "" || c.OwnerID == "" || c.Amount <= 0 || !c.Purpose.Valid() {
		return domain.ErrInvalidArgument
	}
	if c.Purpose == PurposeSubscription && c.PlanID == "" {
		return domain.ErrInvalidArgument
	}
	if _, err := NormalizeMSISDN(c.Destination); err != nil {
		return err
	}
	return nil
}

var msisdnRe = regexp.MustCompile(`^254[17]\d{8}$`)

// NormalizeMSISDN accepts the usual Kenyan spellings (07.., 7.., +2547.., 2547..)
// and returns the 2547XXXXXXXX form the provider expects.
func NormalizeMSISDN(s string) (string, error) {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer(" ", "", "-", "").Replace(s)
	s = strings.TrimPrefix(s, "+")
	switch {
	case strings.HasPrefix(s, "0") && len(s) == 10:
		s = "254" + s[1:]
	case len(s) == 9 && (s[0] == '7' || s[0] == '1'):
		s = "254" + s
	}
	if !msisdnRe.MatchString(s) {
		return "", domain.ErrInvalidArgument
	}
	return s, nil
}
