// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Nexora Agenda Contributors

// Package postgres implements the auth repositories on PostgreSQL.
package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"
)

// poolIface is the subset of *pgxpool.Pool the repositories use, so tests
// can substitute pgxmock.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// withTx runs fn in a transaction, committing when fn returns nil and
// rolling back on error or panic.
func withTx(ctx context.Context, pool poolIface, fn func(tx pgx.Tx) error) (err error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return oops.With("operation", "begin transaction").Wrap(err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx) //nolint:errcheck // re-panicking
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx) //nolint:errcheck // fn error takes precedence
			return
		}
		if cerr := tx.Commit(ctx); cerr != nil {
			err = oops.With("operation", "commit transaction").Wrap(cerr)
		}
	}()
	return fn(tx)
}
