package usecase

import (
	"context"
	"fmt"

	"mpesa-settlement/internal/domain"
	"mpesa-settlement/internal/domain/model"
	"mpesa-settlement/internal/domain/ports/adapter"
)

var _ adapter.SettlementSubject = (SubjectRouter)(nil)

// SubjectRouter dispatches a settlement to the subject that owns its purpose.
type SubjectRouter map[model.Purpose]adapter.SettlementSubject

func (r SubjectRouter) ApplySuccessfulPayment(ctx context.Context, req adapter.SettlementRequest) (adapter.ApplyResult, error) {
	s, ok := r[req.Purpose]
	if !ok || s == nil {
		return "", fmt.Errorf("%w: no subject for purpose %q", domain.ErrSubjectMutationFailed, req.Purpose)
	}
	return s.ApplySuccessfulPayment(ctx, req)
}
