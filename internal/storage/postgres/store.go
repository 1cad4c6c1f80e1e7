// Package postgres provides a pgx-backed implementation of storage.Store.
//
// Units of work run in READ COMMITTED transactions. Balance and stock writes
// are relative (col = col + $1) so concurrent units commute. The schema lives
// in db/migrations.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tinoosan/shopledger/internal/errs"
	"github.com/tinoosan/shopledger/internal/storage"
)

// Postgres error codes mapped onto errs sentinels.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeQueryCanceled       = "57014"
	codeLockNotAvailable    = "55P03"
)

// Store holds a pgx connection pool. All methods are safe for concurrent use.
type Store struct {
	pool     *pgxpool.Pool
	currency string
}

// Open establishes a pgx pool using the provided connection string. Amounts
// read back from minor units are expressed in currency.
func Open(ctx context.Context, dsn, currency string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool, currency: currency}, nil
}

// Close releases the underlying pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ready pings the pool to verify connectivity.
func (s *Store) Ready(ctx context.Context) error { return s.pool.Ping(ctx) }

// InTx runs fn inside one database transaction.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	pgtx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return mapErr(err)
	}
	defer func() { _ = pgtx.Rollback(context.WithoutCancel(ctx)) }()
	if err := fn(ctx, &Tx{tx: pgtx, currency: s.currency}); err != nil {
		return mapErr(err)
	}
	if err := pgtx.Commit(ctx); err != nil {
		return mapErr(err)
	}
	return nil
}

// mapErr translates driver and context failures into errs sentinels, keeping
// the original error in the chain.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, errs.ErrTxTimeout) || errors.Is(err, errs.ErrConflict) || errors.Is(err, errs.ErrInUse) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", errs.ErrTxTimeout, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%w: %s", errs.ErrConflict, pgErr.ConstraintName)
		case codeForeignKeyViolation:
			return fmt.Errorf("%w: %s", errs.ErrInUse, pgErr.ConstraintName)
		case codeQueryCanceled, codeLockNotAvailable:
			return fmt.Errorf("%w: %s", errs.ErrTxTimeout, pgErr.Message)
		}
	}
	return err
}

var _ storage.Store = (*Store)(nil)
