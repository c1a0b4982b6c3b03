package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLite {
	t.Helper()

	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func insertAccount(t *testing.T, tx *sqlx.Tx, s Store, userID, balance int64) {
	t.Helper()

	now := time.Now().UTC()
	_, err := tx.Exec(s.Rebind(
		`INSERT INTO accounts (user_id, balance, total_topup, total_spent, total_orders, created_at, last_activity_at)
		 VALUES (?, ?, 0, 0, 0, ?, ?)`), userID, balance, now, now)
	require.NoError(t, err)
}

func TestWithTxCommits(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx *sqlx.Tx) error {
		insertAccount(t, tx, s, 1, 5000)
		return nil
	})
	require.NoError(t, err)

	var balance int64
	err = s.DB().Get(&balance, s.Rebind("SELECT balance FROM accounts WHERE user_id = ?"), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), balance)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx *sqlx.Tx) error {
		insertAccount(t, tx, s, 2, 5000)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, s.DB().Get(&count, "SELECT COUNT(*) FROM accounts"))
	assert.Zero(t, count)
}

func TestWithTxRollsBackOnPanic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = s.WithTx(ctx, func(tx *sqlx.Tx) error {
			insertAccount(t, tx, s, 3, 5000)
			panic("mid-transaction")
		})
	})

	var count int
	require.NoError(t, s.DB().Get(&count, "SELECT COUNT(*) FROM accounts"))
	assert.Zero(t, count)
}

func TestWithTxSerializesWriters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WithTx(ctx, func(tx *sqlx.Tx) error {
		insertAccount(t, tx, s, 4, 0)
		return nil
	}))

	// Concurrent read-modify-write cycles must not lose increments.
	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.WithTx(ctx, func(tx *sqlx.Tx) error {
				var balance int64
				if err := tx.Get(&balance, s.Rebind(
					"SELECT balance FROM accounts WHERE user_id = ?")+s.ForUpdate(), 4); err != nil {
					return err
				}
				_, err := tx.Exec(s.Rebind(
					"UPDATE accounts SET balance = ? WHERE user_id = ?"), balance+1, 4)
				return err
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	var balance int64
	require.NoError(t, s.DB().Get(&balance, s.Rebind(
		"SELECT balance FROM accounts WHERE user_id = ?"), 4))
	assert.Equal(t, int64(writers), balance)
}

func TestSQLiteIsNotShared(t *testing.T) {
	s := newTestStore(t)
	assert.False(t, s.Shared())
	assert.Empty(t, s.ForUpdate())
}

func TestMigrateIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := NewSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Reopening runs the schema statements again on existing tables.
	s, err = NewSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	var count int
	require.NoError(t, s.DB().Get(&count, "SELECT COUNT(*) FROM accounts"))
	assert.Zero(t, count)
}
