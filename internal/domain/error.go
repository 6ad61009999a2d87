package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrOperationFailed    = errors.New("operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrRateLimited        = errors.New("too many requests")
	ErrLockBusy           = errors.New("resource is locked")

	// Continuation token
	ErrTokenExpired          = errors.New("continuation token expired")
	ErrTokenInvalidSignature = errors.New("continuation token signature invalid")
	ErrTokenMalformed        = errors.New("continuation token malformed")

	// Provider
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	ErrProviderRejected    = errors.New("payment provider rejected the request")
	ErrUnparseablePayload  = errors.New("unparseable provider payload")

	// Settlement
	ErrSubjectMutationFailed = errors.New("settlement subject mutation failed")
	ErrCorrelationMismatch   = errors.New("callback does not belong to the token's correlation")
)

// IsTokenError reports whether err is one of the continuation token failures.
func IsTokenError(err error) bool {
	return errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrTokenInvalidSignature) ||
		errors.Is(err, ErrTokenMalformed)
}
