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

var _ repository.CallbackAuditRepository = (*callbackAuditRepo)(nil)

type callbackAuditRepo struct{ pool *pgxpool.Pool }

func NewCallbackAuditRepo(pool *pgxpool.Pool) *callbackAuditRepo {
	return &callbackAuditRepo{pool: pool}
}

const auditColumns = `id, reason, detail, provider_request_id, correlation_id, payload, claims, received_at, replayed_at`

func scanAudit(row pgx.Row) (*model.CallbackAudit, error) {
	a := &model.CallbackAudit{}
	var reason string
	if err := row.Scan(&a.ID, &reason, &a.Detail, &a.ProviderRequestID, &a.CorrelationID, &a.Payload, &a.Claims, &a.ReceivedAt, &a.ReplayedAt); err != nil {
		return nil, mapScanErr(err)
	}
	a.Reason = model.ReconcileOutcome(reason)
	return a, nil
}

func (r *callbackAuditRepo) Save(ctx context.Context, tx repository.Tx, a *model.CallbackAudit) error {
	const q = `
INSERT INTO callback_audits (` + auditColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9);`
	_, err := execSQL(ctx, r.pool, tx, q, a.ID, string(a.Reason), a.Detail, a.ProviderRequestID, a.CorrelationID, a.Payload, a.Claims, a.ReceivedAt, a.ReplayedAt)
	return mapExecErr(err)
}

func (r *callbackAuditRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.CallbackAudit, error) {
	q := forUpdate(`SELECT `+auditColumns+` FROM callback_audits WHERE id=$1`, tx) + ";"
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanAudit(row)
}

func (r *callbackAuditRepo) ListRecent(ctx context.Context, tx repository.Tx, limit int) ([]*model.CallbackAudit, error) {
	const q = `SELECT ` + auditColumns + ` FROM callback_audits
 ORDER BY received_at DESC
 LIMIT $1;`
	return r.list(ctx, tx, q, normLimit(limit))
}

func (r *callbackAuditRepo) ListReplayable(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.CallbackAudit, error) {
	const q = `SELECT ` + auditColumns + ` FROM callback_audits
 WHERE reason = 'internal_error' AND replayed_at IS NULL AND received_at < $1
 ORDER BY received_at ASC
 LIMIT $2;`
	return r.list(ctx, tx, q, olderThan, normLimit(limit))
}

func (r *callbackAuditRepo) MarkReplayed(ctx context.Context, tx repository.Tx, id string, at time.Time) error {
	const q = `UPDATE callback_audits SET replayed_at=$2 WHERE id=$1 AND replayed_at IS NULL;`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, at)
	if err != nil {
		return mapExecErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *callbackAuditRepo) list(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.CallbackAudit, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, mapExecErr(err)
	}
	defer rows.Close()

	var out []*model.CallbackAudit
	for rows.Next() {
		a, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}
