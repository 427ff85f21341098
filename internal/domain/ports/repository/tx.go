package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is an opaque transaction handle. Repositories accept it so use cases can
// compose multi-statement work; nil means "run against the pool".
type Tx interface{}

// NoTX marks a call that should run against the pool directly.
var NoTX Tx

// TransactionManager runs a function inside a database transaction.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error

	// WithTenantLock additionally takes an advisory lock derived from the
	// tenant id for the duration of the transaction, serializing all
	// subscription mutations for that tenant across processes.
	WithTenantLock(ctx context.Context, tenantID int64, fn func(ctx context.Context, tx Tx) error) error
}
