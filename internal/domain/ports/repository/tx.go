package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

type Tx interface{}

var NoTX interface{}

// TransactionManager runs fn inside a database transaction and hands it the tx handle.
//
// The concrete type of tx is infra-defined (pgx.Tx for Postgres). Repositories accept
// nil for the non-transactional path and use SELECT ... FOR UPDATE when given a tx.
// fn returning an error rolls back.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
