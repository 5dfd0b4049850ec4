package services

import (
	"context"

	"table-order/db"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// queueNumberConstraint guards against two orders sharing a queue number.
const queueNumberConstraint = "orders_queue_number_key"

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// pgQueries implements Queries on top of a pool or an open transaction.
type pgQueries struct {
	q querier
}

// PgStore is the PostgreSQL Store.
type PgStore struct {
	pgQueries
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pgQueries: pgQueries{q: pool}, pool: pool}
}

func (s *PgStore) InTx(ctx context.Context, fn func(q Queries) error) error {
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(pgQueries{q: tx})
	})
	if db.IsSerializationFailure(err) || db.IsUniqueViolation(err, queueNumberConstraint) {
		return &ConcurrencyConflictError{Err: err}
	}
	return err
}

func (s *PgStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
