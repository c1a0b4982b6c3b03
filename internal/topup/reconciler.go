package topup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fulfillment-core/internal/broker"
	"fulfillment-core/internal/ledger"
	"fulfillment-core/internal/models"
	"fulfillment-core/internal/store"
	"fulfillment-core/internal/util"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

var (
	// ErrDuplicateReference means the order reference already exists; the
	// caller must generate a fresh reference per payment attempt.
	ErrDuplicateReference = errors.New("duplicate order reference")

	// ErrUnknownTopup means no record exists for the reference.
	ErrUnknownTopup = errors.New("unknown topup")

	// ErrTopupFinalized means a confirmation arrived for a record already
	// failed or expired; no credit is applied.
	ErrTopupFinalized = errors.New("topup already finalized")
)

// Reconciler converts idempotency-keyed payment notifications into
// at-most-once ledger credits. The order reference is the idempotency key:
// the provider may replay a confirmation any number of times and the account
// is credited exactly once.
type Reconciler struct {
	store     store.Store
	ledger    *ledger.Ledger
	publisher *broker.EventPublisher // optional
	botSource string
	logger    *zap.Logger
}

// New creates a reconciler. publisher may be nil.
func New(s store.Store, l *ledger.Ledger, publisher *broker.EventPublisher, botSource string) *Reconciler {
	return &Reconciler{
		store:     s,
		ledger:    l,
		publisher: publisher,
		botSource: botSource,
		logger:    util.GetLogger(),
	}
}

// NewReference generates a provider-facing order reference for a topup
// attempt, unique per call.
func NewReference(userID int64) string {
	return fmt.Sprintf("TOPUP-%d-%s-%s",
		userID, time.Now().UTC().Format("20060102150405"), uuid.New().String()[:8])
}

// Create inserts a pending topup record. Fails with ErrDuplicateReference
// when the reference is already taken.
func (r *Reconciler) Create(ctx context.Context, userID, amount int64, reference, paymentType string) (*models.Topup, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.Create")
	defer span.End()

	if amount <= 0 {
		return nil, fmt.Errorf("topup amount must be positive, got %d", amount)
	}

	var topup models.Topup
	err := r.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := r.ledger.EnsureAccountTx(tx, userID); err != nil {
			return err
		}

		var exists bool
		err := tx.Get(&exists, r.store.Rebind(
			"SELECT EXISTS(SELECT 1 FROM topups WHERE order_reference = ?)"), reference)
		if err != nil {
			return fmt.Errorf("check reference %s: %w", reference, err)
		}
		if exists {
			return ErrDuplicateReference
		}

		now := time.Now().UTC()
		_, err = tx.Exec(r.store.Rebind(
			`INSERT INTO topups (user_id, amount, order_reference, status, payment_type, bot_source, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			userID, amount, reference, models.TopupStatusPending, paymentType, r.botSource, now, now)
		if err != nil {
			// The unique constraint is the backstop for a concurrent create
			// racing past the existence check on the shared backend.
			if isUniqueViolation(err) {
				return ErrDuplicateReference
			}
			return fmt.Errorf("create topup %s: %w", reference, err)
		}

		return tx.Get(&topup, r.store.Rebind(
			"SELECT * FROM topups WHERE order_reference = ?"), reference)
	})
	if err != nil {
		return nil, err
	}

	util.TopupsCreatedTotal.Inc()
	r.logger.Info("Topup created",
		zap.Int64("user_id", userID),
		zap.Int64("amount", amount),
		zap.String("order_reference", reference))
	return &topup, nil
}

// Confirm transitions a pending topup to success and credits the ledger in
// the same transaction, so a crash between the two steps cannot leave a
// credited-but-unmarked or marked-but-uncredited record. Confirming an
// already-successful topup is a no-op returning the existing record.
func (r *Reconciler) Confirm(ctx context.Context, reference, transactionID string) (*models.Topup, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.Confirm")
	defer span.End()

	var (
		topup      models.Topup
		newBalance int64
		credited   bool
	)
	err := r.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := r.lockTopup(tx, reference, &topup); err != nil {
			return err
		}

		switch topup.Status {
		case models.TopupStatusSuccess:
			// Replayed provider notification; the credit already happened.
			return nil
		case models.TopupStatusFailed, models.TopupStatusExpired:
			return ErrTopupFinalized
		}

		var err error
		newBalance, err = r.ledger.CreditTx(tx, topup.UserID, topup.Amount, ledger.ReasonTopup)
		if err != nil {
			return err
		}

		if err := r.setStatus(tx, reference, models.TopupStatusSuccess, transactionID); err != nil {
			return err
		}
		topup.Status = models.TopupStatusSuccess
		credited = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !credited {
		util.TopupsReplayedTotal.Inc()
		r.logger.Info("Topup confirmation replayed",
			zap.String("order_reference", reference))
		return &topup, nil
	}

	util.TopupsConfirmedTotal.Inc()
	r.logger.Info("Topup confirmed",
		zap.Int64("user_id", topup.UserID),
		zap.Int64("amount", topup.Amount),
		zap.String("order_reference", reference),
		zap.Int64("new_balance", newBalance))

	if r.publisher != nil {
		event := &models.TopupConfirmedEvent{
			BaseEvent:      broker.NewBaseEvent(models.EventTypeTopupConfirmed),
			UserID:         topup.UserID,
			Amount:         topup.Amount,
			OrderReference: reference,
			NewBalance:     newBalance,
		}
		if err := r.publisher.PublishTopupConfirmed(ctx, event); err != nil {
			r.logger.Error("Failed to publish TopupConfirmed event", zap.Error(err))
		}
	}
	return &topup, nil
}

// Fail transitions a pending topup to failed with no ledger effect.
// No-op when the record is already terminal.
func (r *Reconciler) Fail(ctx context.Context, reference string) error {
	return r.finalize(ctx, reference, models.TopupStatusFailed)
}

// Expire transitions a pending topup to expired with no ledger effect.
// No-op when the record is already terminal.
func (r *Reconciler) Expire(ctx context.Context, reference string) error {
	return r.finalize(ctx, reference, models.TopupStatusExpired)
}

// Get looks up a topup by its order reference.
func (r *Reconciler) Get(ctx context.Context, reference string) (*models.Topup, error) {
	var topup models.Topup
	err := r.store.DB().GetContext(ctx, &topup, r.store.Rebind(
		"SELECT * FROM topups WHERE order_reference = ?"), reference)
	if store.IsNotFound(err) {
		return nil, fmt.Errorf("%s: %w", reference, ErrUnknownTopup)
	}
	if err != nil {
		return nil, err
	}
	return &topup, nil
}

func (r *Reconciler) finalize(ctx context.Context, reference, status string) error {
	err := r.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		var topup models.Topup
		if err := r.lockTopup(tx, reference, &topup); err != nil {
			return err
		}
		if models.TopupTerminal(topup.Status) {
			return nil
		}
		return r.setStatus(tx, reference, status, "")
	})
	if err != nil {
		return err
	}

	util.TopupsClosedTotal.WithLabelValues(status).Inc()
	r.logger.Info("Topup closed",
		zap.String("order_reference", reference),
		zap.String("status", status))
	return nil
}

func (r *Reconciler) lockTopup(tx *sqlx.Tx, reference string, dst *models.Topup) error {
	err := tx.Get(dst, r.store.Rebind(
		"SELECT * FROM topups WHERE order_reference = ?")+r.store.ForUpdate(), reference)
	if store.IsNotFound(err) {
		return fmt.Errorf("%s: %w", reference, ErrUnknownTopup)
	}
	if err != nil {
		return fmt.Errorf("lock topup %s: %w", reference, err)
	}
	return nil
}

func (r *Reconciler) setStatus(tx *sqlx.Tx, reference, status, transactionID string) error {
	var err error
	if transactionID != "" {
		_, err = tx.Exec(r.store.Rebind(
			"UPDATE topups SET status = ?, transaction_id = ?, updated_at = ? WHERE order_reference = ?"),
			status, transactionID, time.Now().UTC(), reference)
	} else {
		_, err = tx.Exec(r.store.Rebind(
			"UPDATE topups SET status = ?, updated_at = ? WHERE order_reference = ?"),
			status, time.Now().UTC(), reference)
	}
	if err != nil {
		return fmt.Errorf("update topup %s: %w", reference, err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
