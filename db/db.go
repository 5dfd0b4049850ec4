package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"table-order/config"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var Pool *pgxpool.Pool

const (
	pingAttempts = 5
	pingBackoff  = 2 * time.Second
)

func Init(ctx context.Context, cfg config.DBConfig) error {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return fmt.Errorf("parse db config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("create pool: %w", err)
	}

	for i := 1; ; i++ {
		err = p.Ping(ctx)
		if err == nil {
			break
		}
		if i == pingAttempts {
			p.Close()
			return fmt.Errorf("ping db after %d attempts: %w", i, err)
		}
		select {
		case <-ctx.Done():
			p.Close()
			return ctx.Err()
		case <-time.After(pingBackoff):
		}
	}
	Pool = p
	return nil
}

func Close() {
	if Pool != nil {
		Pool.Close()
	}
}

// InTx runs fn inside a serializable transaction. A non-nil error from fn
// (or a cancelled ctx) rolls the transaction back.
func InTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	return pgx.BeginTxFunc(ctx, pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, fn)
}

// IsSerializationFailure reports whether err is a serialization failure or
// deadlock that is safe to retry from the start of the transaction.
func IsSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01":
		return true
	}
	return false
}

// IsUniqueViolation reports whether err is a unique violation. An empty
// constraint matches any unique index.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
