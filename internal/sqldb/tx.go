package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// TxFunc is the body of a transaction.
type TxFunc func(tx *sql.Tx) error

// WithTransaction runs fn inside a transaction at the given isolation level.
// The transaction commits when fn returns nil and rolls back otherwise
// (including on panic, which is re-raised after rollback).
func WithTransaction(ctx context.Context, db *sql.DB, isolation sql.IsolationLevel, fn TxFunc) (err error) {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: isolation})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = fmt.Errorf("%w (rollback: %v)", err, rbErr)
			}
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
