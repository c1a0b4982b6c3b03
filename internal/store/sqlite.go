package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// SQLite is the embedded backend for standalone deployments and tests. It has
// no native multi-writer concurrency control, so WithTx serializes callers
// with a mutex; the critical section gives the same exclusivity a Postgres
// row lock provides. Must not be shared by two processes.
type SQLite struct {
	base
	mu sync.Mutex
}

// NewSQLite opens (or creates) the database file and runs the schema
// migration. Use ":memory:" only for throwaway single-connection work.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %v", ErrUnavailable, err)
	}

	// One connection: SQLite write transactions lock the whole file anyway,
	// and a single conn keeps in-memory databases coherent.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("%w: pragma: %v", ErrUnavailable, err)
	}

	s := &SQLite{base: base{db: db, forUpdate: "", shared: false}}
	if err := migrate(db, schemaSQLite); err != nil {
		return nil, err
	}
	return s, nil
}

// WithTx serializes all transactions through one mutex-guarded critical
// section, then applies the shared commit/rollback-on-exit discipline.
func (s *SQLite) WithTx(ctx context.Context, fn TxFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return runTx(ctx, s.db, fn)
}
