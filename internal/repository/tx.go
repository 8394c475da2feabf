package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// ErrStatusMismatch is returned by compare-and-set updates when the row exists
// but no longer carries the expected status.
var ErrStatusMismatch = errors.New("repository: status changed concurrently")

type txBeginner interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

// TxRunner executes a unit of work inside a single database transaction.
type TxRunner struct {
	db txBeginner
}

// NewTxRunner constructs a transaction runner.
func NewTxRunner(db *sqlx.DB) *TxRunner {
	return &TxRunner{db: db}
}

// WithinTx begins a transaction, hands it to fn and commits when fn succeeds.
// Any error from fn, or a panic, rolls the transaction back.
func (r *TxRunner) WithinTx(ctx context.Context, fn func(exec sqlx.ExtContext) error) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func affectedOrMismatch(result sql.Result, label string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", label, err)
	}
	if affected == 0 {
		return ErrStatusMismatch
	}
	return nil
}
