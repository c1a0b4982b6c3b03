package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Postgres is the networked backend. Row locking is done with
// SELECT ... FOR UPDATE; two independently-deployed processes may point at
// the same database.
type Postgres struct {
	base
}

// NewPostgres connects to the database and runs the schema migration.
func NewPostgres(databaseURL string) (*Postgres, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %v", ErrUnavailable, err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("%w: ping: %v", ErrUnavailable, err)
	}

	s := &Postgres{base: base{db: db, forUpdate: " FOR UPDATE", shared: true}}
	if err := migrate(db, schemaPostgres); err != nil {
		return nil, err
	}
	return s, nil
}

// WithTx runs fn in one transaction with commit/rollback-on-exit semantics.
// Row locks taken inside fn are held until commit.
func (s *Postgres) WithTx(ctx context.Context, fn TxFunc) error {
	return runTx(ctx, s.db, fn)
}

func migrate(db *sqlx.DB, statements []string) error {
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("%w: migrate: %v", ErrUnavailable, err)
		}
	}
	return nil
}
