package ledger

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"fulfillment-core/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) (*Ledger, store.Store) {
	t.Helper()

	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s), s
}

func TestCreditCreatesAccount(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	balance, err := l.Credit(ctx, 42, 50000, ReasonTopup)
	require.NoError(t, err)
	assert.Equal(t, int64(50000), balance)

	account, err := l.GetAccount(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(50000), account.Balance)
	assert.Equal(t, int64(50000), account.TotalTopup)
	assert.Zero(t, account.TotalSpent)
}

func TestCreditRejectsNonPositiveAmount(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Credit(ctx, 1, 0, ReasonTopup)
	assert.Error(t, err)
	_, err = l.Credit(ctx, 1, -500, ReasonTopup)
	assert.Error(t, err)
}

func TestGetBalanceOfUnknownUserIsZero(t *testing.T) {
	l, _ := newTestLedger(t)

	balance, err := l.GetBalance(context.Background(), 999)
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestDebitInsufficientFunds(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Credit(ctx, 7, 100000, ReasonTopup)
	require.NoError(t, err)

	// 10-code package costs more than the balance covers.
	_, err = l.Debit(ctx, 7, 130000, ReasonDebit)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	balance, err := l.GetBalance(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(100000), balance, "rejected debit must not move money")
}

func TestDebitUnknownUserIsInsufficient(t *testing.T) {
	l, _ := newTestLedger(t)

	_, err := l.Debit(context.Background(), 12345, 1000, ReasonDebit)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestDebitToExactZero(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Credit(ctx, 8, 70000, ReasonTopup)
	require.NoError(t, err)

	balance, err := l.Debit(ctx, 8, 70000, ReasonDebit)
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Credit(ctx, 9, 100000, ReasonTopup)
	require.NoError(t, err)

	// 10 concurrent 15000 debits against 100000: exactly 6 can win.
	var successes int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Debit(ctx, 9, 15000, ReasonDebit); err == nil {
				atomic.AddInt64(&successes, 1)
			} else {
				assert.ErrorIs(t, err, ErrInsufficientFunds)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(6), successes)
	balance, err := l.GetBalance(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), balance)
}

func TestAuditTrailChains(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Credit(ctx, 10, 70000, ReasonTopup)
	require.NoError(t, err)
	_, err = l.Debit(ctx, 10, 15000, ReasonDebit)
	require.NoError(t, err)
	_, err = l.Credit(ctx, 10, 15000, ReasonRefund)
	require.NoError(t, err)

	entries, err := l.Audit(ctx, 10, 50)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	// Newest first; each entry's old balance is the next entry's new balance.
	assert.Equal(t, ReasonRefund, entries[0].Reason)
	assert.Equal(t, ReasonDebit, entries[1].Reason)
	assert.Equal(t, ReasonTopup, entries[2].Reason)
	for i := 0; i < len(entries)-1; i++ {
		assert.Equal(t, entries[i+1].NewBalance, entries[i].OldBalance)
	}
	assert.Equal(t, int64(70000), entries[0].NewBalance)
}

func TestAccountCounters(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Credit(ctx, 11, 140000, ReasonTopup)
	require.NoError(t, err)
	_, err = l.Debit(ctx, 11, 70000, ReasonDebit)
	require.NoError(t, err)
	_, err = l.Debit(ctx, 11, 15000, ReasonDebit)
	require.NoError(t, err)

	account, err := l.GetAccount(ctx, 11)
	require.NoError(t, err)
	assert.Equal(t, int64(140000), account.TotalTopup)
	assert.Equal(t, int64(85000), account.TotalSpent)
	assert.Equal(t, int64(2), account.TotalOrders)
	assert.Equal(t, int64(55000), account.Balance)
}
