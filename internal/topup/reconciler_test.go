package topup

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"fulfillment-core/internal/ledger"
	"fulfillment-core/internal/models"
	"fulfillment-core/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReconciler(t *testing.T) (*Reconciler, *ledger.Ledger) {
	t.Helper()

	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	l := ledger.New(s)
	return New(s, l, nil, "order-bot"), l
}

func TestCreateTopup(t *testing.T) {
	r, _ := newTestReconciler(t)
	ctx := context.Background()

	topup, err := r.Create(ctx, 42, 50000, "TX-1", "qris")
	require.NoError(t, err)
	assert.Equal(t, models.TopupStatusPending, topup.Status)
	assert.Equal(t, int64(50000), topup.Amount)
	assert.Equal(t, "qris", topup.PaymentType)
	assert.Equal(t, "order-bot", topup.BotSource)
}

func TestCreateRejectsDuplicateReference(t *testing.T) {
	r, _ := newTestReconciler(t)
	ctx := context.Background()

	_, err := r.Create(ctx, 42, 50000, "TX-1", "qris")
	require.NoError(t, err)

	_, err = r.Create(ctx, 99, 10000, "TX-1", "qris")
	assert.ErrorIs(t, err, ErrDuplicateReference)
}

func TestCreateRejectsNonPositiveAmount(t *testing.T) {
	r, _ := newTestReconciler(t)

	_, err := r.Create(context.Background(), 42, 0, "TX-1", "qris")
	assert.Error(t, err)
}

func TestConfirmCreditsOnce(t *testing.T) {
	r, l := newTestReconciler(t)
	ctx := context.Background()

	_, err := r.Create(ctx, 42, 50000, "TX-1", "qris")
	require.NoError(t, err)

	topup, err := r.Confirm(ctx, "TX-1", "mid-123")
	require.NoError(t, err)
	assert.Equal(t, models.TopupStatusSuccess, topup.Status)

	balance, err := l.GetBalance(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(50000), balance)

	// The provider replays the same notification.
	topup, err = r.Confirm(ctx, "TX-1", "mid-123")
	require.NoError(t, err)
	assert.Equal(t, models.TopupStatusSuccess, topup.Status)

	balance, err = l.GetBalance(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(50000), balance, "replayed confirmation must not credit again")
}

func TestConcurrentConfirmationsCreditOnce(t *testing.T) {
	r, l := newTestReconciler(t)
	ctx := context.Background()

	_, err := r.Create(ctx, 42, 50000, "TX-1", "qris")
	require.NoError(t, err)

	var confirms int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Confirm(ctx, "TX-1", "mid-123"); err == nil {
				atomic.AddInt64(&confirms, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(8), confirms, "replays succeed as no-ops")
	balance, err := l.GetBalance(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(50000), balance)
}

func TestConfirmUnknownReference(t *testing.T) {
	r, _ := newTestReconciler(t)

	_, err := r.Confirm(context.Background(), "TX-MISSING", "")
	assert.ErrorIs(t, err, ErrUnknownTopup)
}

func TestConfirmAfterFailureDoesNotCredit(t *testing.T) {
	r, l := newTestReconciler(t)
	ctx := context.Background()

	_, err := r.Create(ctx, 42, 50000, "TX-1", "qris")
	require.NoError(t, err)
	require.NoError(t, r.Fail(ctx, "TX-1"))

	_, err = r.Confirm(ctx, "TX-1", "mid-123")
	assert.ErrorIs(t, err, ErrTopupFinalized)

	balance, err := l.GetBalance(ctx, 42)
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestFailAndExpireAreIdempotent(t *testing.T) {
	r, _ := newTestReconciler(t)
	ctx := context.Background()

	_, err := r.Create(ctx, 42, 50000, "TX-1", "qris")
	require.NoError(t, err)

	require.NoError(t, r.Expire(ctx, "TX-1"))
	topup, err := r.Get(ctx, "TX-1")
	require.NoError(t, err)
	assert.Equal(t, models.TopupStatusExpired, topup.Status)

	// Terminal records stay put.
	require.NoError(t, r.Fail(ctx, "TX-1"))
	topup, err = r.Get(ctx, "TX-1")
	require.NoError(t, err)
	assert.Equal(t, models.TopupStatusExpired, topup.Status)
}

func TestFailAfterSuccessKeepsCredit(t *testing.T) {
	r, l := newTestReconciler(t)
	ctx := context.Background()

	_, err := r.Create(ctx, 42, 50000, "TX-1", "qris")
	require.NoError(t, err)
	_, err = r.Confirm(ctx, "TX-1", "mid-123")
	require.NoError(t, err)

	require.NoError(t, r.Fail(ctx, "TX-1"))

	topup, err := r.Get(ctx, "TX-1")
	require.NoError(t, err)
	assert.Equal(t, models.TopupStatusSuccess, topup.Status)

	balance, err := l.GetBalance(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(50000), balance)
}

func TestNewReferenceFormat(t *testing.T) {
	ref := NewReference(42)
	assert.True(t, strings.HasPrefix(ref, "TOPUP-42-"))
	assert.NotEqual(t, ref, NewReference(42))
}
