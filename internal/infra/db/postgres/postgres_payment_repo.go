package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"mpesa-settlement/internal/domain"
	"mpesa-settlement/internal/domain/model"
	"mpesa-settlement/internal/domain/ports/repository"
)

var _ repository.PaymentRepository = (*paymentRepo)(nil)

type paymentRepo struct{ pool *pgxpool.Pool }

func NewPaymentRepo(pool *pgxpool.Pool) *paymentRepo {
	return &paymentRepo{pool: pool}
}

const paymentColumns = `id, provider_request_id, merchant_request_id, correlation_id, attempt_id, owner_id, purpose, plan_id,
  amount, paid_amount, destination, status, result_code, result_desc, receipt_number, provider_timestamp,
  possible_duplicate, delivery_count, subject_applied, subject_applied_at, created_at, updated_at`

const insertPayment = `
INSERT INTO payment_records (` + paymentColumns + `) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22
)`

func paymentArgs(p *model.PaymentRecord) []interface{} {
	return []interface{}{
		p.ID, p.ProviderRequestID, p.MerchantRequestID, p.CorrelationID, p.AttemptID, p.OwnerID, string(p.Purpose), p.PlanID,
		p.Amount, p.PaidAmount, p.Destination, string(p.Status), p.ResultCode, p.ResultDesc, p.ReceiptNumber, p.ProviderTimestamp,
		p.PossibleDuplicate, p.DeliveryCount, p.SubjectApplied, p.SubjectAppliedAt, p.CreatedAt, p.UpdatedAt,
	}
}

func scanPayment(row pgx.Row) (*model.PaymentRecord, error) {
	p := &model.PaymentRecord{}
	var purpose, status string
	if err := row.Scan(
		&p.ID, &p.ProviderRequestID, &p.MerchantRequestID, &p.CorrelationID, &p.AttemptID, &p.OwnerID, &purpose, &p.PlanID,
		&p.Amount, &p.PaidAmount, &p.Destination, &status, &p.ResultCode, &p.ResultDesc, &p.ReceiptNumber, &p.ProviderTimestamp,
		&p.PossibleDuplicate, &p.DeliveryCount, &p.SubjectApplied, &p.SubjectAppliedAt, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, mapScanErr(err)
	}
	p.Purpose = model.Purpose(purpose)
	p.Status = model.PaymentStatus(status)
	return p, nil
}

// Upsert never touches a row that has already left pending.
func (r *paymentRepo) Upsert(ctx context.Context, tx repository.Tx, p *model.PaymentRecord) error {
	const q = insertPayment + `
ON CONFLICT (provider_request_id) DO UPDATE SET
  merchant_request_id = EXCLUDED.merchant_request_id,
  attempt_id = EXCLUDED.attempt_id,
  updated_at = NOW()
WHERE payment_records.status = 'pending';`
	_, err := execSQL(ctx, r.pool, tx, q, paymentArgs(p)...)
	return mapExecErr(err)
}

func (r *paymentRepo) InsertIfAbsent(ctx context.Context, tx repository.Tx, p *model.PaymentRecord) (bool, error) {
	const q = insertPayment + ` ON CONFLICT (provider_request_id) DO NOTHING;`
	cmd, err := execSQL(ctx, r.pool, tx, q, paymentArgs(p)...)
	if err != nil {
		return false, mapExecErr(err)
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *paymentRepo) FindByProviderRequestID(ctx context.Context, tx repository.Tx, providerRequestID string) (*model.PaymentRecord, error) {
	q := forUpdate(`SELECT `+paymentColumns+` FROM payment_records WHERE provider_request_id=$1`, tx) + ";"
	row, err := pickRow(ctx, r.pool, tx, q, providerRequestID)
	if err != nil {
		return nil, err
	}
	return scanPayment(row)
}

func (r *paymentRepo) FindLatestByCorrelationID(ctx context.Context, tx repository.Tx, correlationID, attemptID string, since time.Time) (*model.PaymentRecord, error) {
	const q = `SELECT ` + paymentColumns + ` FROM payment_records
 WHERE correlation_id=$1 AND created_at >= $3
 ORDER BY (attempt_id = $2) DESC, created_at DESC
 LIMIT 1;`
	row, err := pickRow(ctx, r.pool, tx, q, correlationID, attemptID, since)
	if err != nil {
		return nil, err
	}
	return scanPayment(row)
}

// UpdateOutcomeIfPending atomically settles the row only while status is still 'pending'.
func (r *paymentRepo) UpdateOutcomeIfPending(ctx context.Context, tx repository.Tx, providerRequestID string, o *model.CallbackOutcome) (bool, error) {
	if o == nil {
		return false, domain.ErrInvalidArgument
	}
	var providerTS *time.Time
	if !o.ProviderTimestamp.IsZero() {
		ts := o.ProviderTimestamp
		providerTS = &ts
	}
	const q = `
UPDATE payment_records
   SET status = $2,
       result_code = $3,
       result_desc = $4,
       receipt_number = $5,
       paid_amount = $6,
       provider_timestamp = $7,
       merchant_request_id = COALESCE(NULLIF($8, ''), merchant_request_id),
       delivery_count = delivery_count + 1,
       updated_at = NOW()
 WHERE provider_request_id = $1
   AND status = 'pending';`
	cmd, err := execSQL(ctx, r.pool, tx, q, providerRequestID, string(o.Status()), o.ResultCode, o.ResultDesc, o.ReceiptNumber, o.Amount, providerTS, o.MerchantRequestID)
	if err != nil {
		return false, mapExecErr(err)
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *paymentRepo) MarkPossibleDuplicate(ctx context.Context, tx repository.Tx, providerRequestID string) error {
	const q = `UPDATE payment_records SET possible_duplicate=TRUE, delivery_count=delivery_count+1, updated_at=NOW() WHERE provider_request_id=$1;`
	cmd, err := execSQL(ctx, r.pool, tx, q, providerRequestID)
	if err != nil {
		return mapExecErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *paymentRepo) MarkSubjectApplied(ctx context.Context, tx repository.Tx, providerRequestID string, at time.Time) error {
	const q = `UPDATE payment_records SET subject_applied=TRUE, subject_applied_at=$2, updated_at=NOW() WHERE provider_request_id=$1 AND status='success';`
	cmd, err := execSQL(ctx, r.pool, tx, q, providerRequestID, at)
	if err != nil {
		return mapExecErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *paymentRepo) ListUnappliedSuccess(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.PaymentRecord, error) {
	const q = `SELECT ` + paymentColumns + ` FROM payment_records
 WHERE status='success' AND subject_applied=FALSE AND updated_at < $1
 ORDER BY updated_at ASC LIMIT $2;`
	return r.list(ctx, tx, q, olderThan, normLimit(limit))
}

func (r *paymentRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.PaymentRecord, error) {
	const q = `SELECT ` + paymentColumns + ` FROM payment_records
 WHERE status='pending' AND created_at < $1
 ORDER BY created_at ASC LIMIT $2;`
	return r.list(ctx, tx, q, olderThan, normLimit(limit))
}

func (r *paymentRepo) Summarize(ctx context.Context, tx repository.Tx, since time.Time) (*model.LedgerStats, error) {
	const q = `
SELECT status, purpose,
       COUNT(*),
       COUNT(*) FILTER (WHERE possible_duplicate),
       COUNT(*) FILTER (WHERE status = 'success' AND NOT subject_applied),
       COALESCE(SUM(CASE WHEN paid_amount > 0 THEN paid_amount ELSE amount END) FILTER (WHERE status = 'success'), 0)
  FROM payment_records
 WHERE created_at >= $1
 GROUP BY status, purpose;`
	rows, err := queryRows(ctx, r.pool, tx, q, since)
	if err != nil {
		return nil, mapExecErr(err)
	}
	defer rows.Close()

	stats := model.NewLedgerStats(since)
	for rows.Next() {
		var status, purpose string
		var count, dups, unapplied int
		var settled int64
		if err := rows.Scan(&status, &purpose, &count, &dups, &unapplied, &settled); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		stats.ByStatus[model.PaymentStatus(status)] += count
		stats.PossibleDuplicates += dups
		stats.UnappliedSuccess += unapplied
		if settled > 0 {
			stats.SettledByPurpose[model.Purpose(purpose)] += settled
		}
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return stats, nil
}

func (r *paymentRepo) SumSettledSince(ctx context.Context, tx repository.Tx, since time.Time) (int64, error) {
	const q = `
SELECT COALESCE(SUM(CASE WHEN paid_amount > 0 THEN paid_amount ELSE amount END), 0)
  FROM payment_records
 WHERE status = 'success' AND updated_at >= $1;`
	row, err := pickRow(ctx, r.pool, tx, q, since)
	if err != nil {
		return 0, err
	}
	var total int64
	if err := row.Scan(&total); err != nil {
		return 0, domain.ErrReadDatabaseRow
	}
	return total, nil
}

func (r *paymentRepo) list(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.PaymentRecord, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, mapExecErr(err)
	}
	defer rows.Close()

	var out []*model.PaymentRecord
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func normLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}
