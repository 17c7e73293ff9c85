package core

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

type (
	DBExecutor interface {
		Exec(query string, args ...interface{}) (sql.Result, error)
		ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
		Query(query string, args ...interface{}) (*sql.Rows, error)
		QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
		QueryRow(query string, args ...interface{}) *sql.Row
		QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	}

	DB interface {
		DBExecutor

		Begin() (*sql.Tx, error)
		BeginTx(context.Context, *sql.TxOptions) (*sql.Tx, error)
	}

	DBTransactor interface {
		DBExecutor

		Commit() error
		Rollback() error
	}

	// Transactor runs fn inside a single unit of work. The executor handed to fn must be used
	// for every statement that belongs to the unit; any error returned by fn aborts it.
	// lockKey scopes the unit for stores that serialize work in-process.
	Transactor interface {
		WithinTx(ctx context.Context, lockKey string, fn func(exec DBExecutor) error) error
	}
)

// SQLTransactor is a Transactor backed by a database/sql connection pool.
type SQLTransactor struct {
	DB DB
}

var _ Transactor = (*SQLTransactor)(nil)

func (t SQLTransactor) WithinTx(ctx context.Context, _ string, fn func(exec DBExecutor) error) (err error) {
	tx, err := t.DB.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = errors.Wrap(tx.Commit(), "committing transaction")
	}()
	return fn(tx)
}
