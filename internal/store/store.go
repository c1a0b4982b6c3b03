package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// ErrUnavailable wraps connection and transaction infrastructure failures.
// Nothing partial was committed, so the whole operation is safe to retry.
var ErrUnavailable = errors.New("store unavailable")

// TxFunc runs inside one transaction. Returning an error rolls the
// transaction back; returning nil commits it.
type TxFunc func(tx *sqlx.Tx) error

// Store is the capability the ledger, inventory, topup, and order components
// are written against. Two backends conform: Postgres for multi-process
// deployments and SQLite for standalone/testing use.
type Store interface {
	// WithTx acquires a connection, begins a transaction, runs fn, commits on
	// nil return, rolls back on error, and always releases the connection.
	WithTx(ctx context.Context, fn TxFunc) error

	// DB exposes the pool for single-statement reads that need no locking.
	DB() *sqlx.DB

	// ForUpdate returns the row-lock clause for read-then-write sequences
	// ("FOR UPDATE" on Postgres, empty on SQLite where WithTx serializes).
	ForUpdate() string

	// Rebind converts ?-placeholders to the backend's bindvar style.
	Rebind(query string) string

	// Shared reports whether the backend may be shared by multiple processes.
	// The embedded backend must never back two processes at once.
	Shared() bool

	Close() error
}

// base carries the pieces common to both backends.
type base struct {
	db        *sqlx.DB
	forUpdate string
	shared    bool
}

func (b *base) DB() *sqlx.DB           { return b.db }
func (b *base) ForUpdate() string      { return b.forUpdate }
func (b *base) Rebind(q string) string { return b.db.Rebind(q) }
func (b *base) Shared() bool           { return b.shared }
func (b *base) Close() error           { return b.db.Close() }

// runTx is the shared commit/rollback-on-exit discipline.
func runTx(ctx context.Context, db *sqlx.DB, fn TxFunc) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrUnavailable, err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrUnavailable, err)
	}
	return nil
}

// IsNotFound reports whether err is a no-rows result.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
