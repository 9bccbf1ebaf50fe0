package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is an infra-defined transaction handle (pgx.Tx for Postgres).
// Repositories accept NoTX (nil) for the non-transactional path and add
// row locks when they are handed a real transaction.
type Tx interface{}

var NoTX Tx

// TransactionManager runs fn inside one storage transaction. fn returning an
// error rolls back; otherwise the transaction commits.
//
//	tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
//		item, err := items.LockExpired(ctx, tx, id, now)
//		...
//		return items.ClearExpiry(ctx, tx, id)
//	})
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
