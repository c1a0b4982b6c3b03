package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fulfillment-core/internal/models"
	"fulfillment-core/internal/store"
	"fulfillment-core/internal/util"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// ErrInsufficientFunds means a debit was rejected without mutating state.
var ErrInsufficientFunds = errors.New("insufficient funds")

// Audit reasons
const (
	ReasonTopup  = "topup"
	ReasonDebit  = "order_debit"
	ReasonRefund = "order_refund"
)

// Ledger owns the account balance invariant: balance never goes negative,
// and every mutation runs as a locked read-check-write inside one
// transaction so concurrent debits cannot both pass the sufficiency check
// against a stale balance.
type Ledger struct {
	store  store.Store
	logger *zap.Logger
}

// New creates a ledger on top of a store.
func New(s store.Store) *Ledger {
	return &Ledger{
		store:  s,
		logger: util.GetLogger(),
	}
}

// EnsureAccount inserts the account with balance 0 if it does not exist.
// Idempotent; no error on an existing account.
func (l *Ledger) EnsureAccount(ctx context.Context, userID int64) error {
	return l.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		return l.EnsureAccountTx(tx, userID)
	})
}

// EnsureAccountTx is EnsureAccount inside a caller-owned transaction.
func (l *Ledger) EnsureAccountTx(tx *sqlx.Tx, userID int64) error {
	now := time.Now().UTC()
	_, err := tx.Exec(l.store.Rebind(
		`INSERT INTO accounts (user_id, balance, created_at, last_activity_at)
		 VALUES (?, 0, ?, ?)
		 ON CONFLICT (user_id) DO NOTHING`),
		userID, now, now)
	if err != nil {
		return fmt.Errorf("ensure account %d: %w", userID, err)
	}
	return nil
}

// GetBalance returns the current balance, creating the account if absent.
// Never fails on a missing account.
func (l *Ledger) GetBalance(ctx context.Context, userID int64) (int64, error) {
	ctx, span := util.StartSpan(ctx, "Ledger.GetBalance")
	defer span.End()

	var balance int64
	err := l.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := l.EnsureAccountTx(tx, userID); err != nil {
			return err
		}
		return tx.Get(&balance, l.store.Rebind(
			"SELECT balance FROM accounts WHERE user_id = ?"), userID)
	})
	return balance, err
}

// GetAccount returns the full account row, creating it if absent.
func (l *Ledger) GetAccount(ctx context.Context, userID int64) (*models.Account, error) {
	var account models.Account
	err := l.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := l.EnsureAccountTx(tx, userID); err != nil {
			return err
		}
		return tx.Get(&account, l.store.Rebind(
			"SELECT * FROM accounts WHERE user_id = ?"), userID)
	})
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// Credit adds amount to the balance inside one locked transaction and
// returns the new balance. Unconditionally additive: at-most-once semantics
// per payment are enforced by the topup reconciler, not here.
func (l *Ledger) Credit(ctx context.Context, userID, amount int64, reason string) (int64, error) {
	ctx, span := util.StartSpan(ctx, "Ledger.Credit")
	defer span.End()

	var newBalance int64
	err := l.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		newBalance, err = l.CreditTx(tx, userID, amount, reason)
		return err
	})
	return newBalance, err
}

// CreditTx credits inside a caller-owned transaction. The caller decides
// what else commits or rolls back atomically with the credit.
func (l *Ledger) CreditTx(tx *sqlx.Tx, userID, amount int64, reason string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("credit amount must be positive, got %d", amount)
	}

	if err := l.EnsureAccountTx(tx, userID); err != nil {
		return 0, err
	}

	old, err := l.lockBalance(tx, userID)
	if err != nil {
		return 0, err
	}

	newBalance := old + amount
	now := time.Now().UTC()
	_, err = tx.Exec(l.store.Rebind(
		`UPDATE accounts
		 SET balance = ?, total_topup = total_topup + ?, last_activity_at = ?
		 WHERE user_id = ?`),
		newBalance, amount, now, userID)
	if err != nil {
		return 0, fmt.Errorf("credit account %d: %w", userID, err)
	}

	if err := l.audit(tx, userID, amount, old, newBalance, reason); err != nil {
		return 0, err
	}

	util.CreditsTotal.Inc()
	l.logger.Info("Balance credited",
		zap.Int64("user_id", userID),
		zap.Int64("amount", amount),
		zap.Int64("new_balance", newBalance),
		zap.String("reason", reason))
	return newBalance, nil
}

// Debit subtracts amount inside one locked transaction, rejecting with
// ErrInsufficientFunds (and no mutation) when the balance cannot cover it.
func (l *Ledger) Debit(ctx context.Context, userID, amount int64, reason string) (int64, error) {
	ctx, span := util.StartSpan(ctx, "Ledger.Debit")
	defer span.End()

	var newBalance int64
	err := l.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		newBalance, err = l.DebitTx(tx, userID, amount, reason)
		return err
	})
	return newBalance, err
}

// DebitTx debits inside a caller-owned transaction. The balance row stays
// locked until that transaction commits, which is what linearizes
// concurrent debits on one account. Never split this sequence across two
// transactions.
func (l *Ledger) DebitTx(tx *sqlx.Tx, userID, amount int64, reason string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("debit amount must be positive, got %d", amount)
	}

	old, err := l.lockBalance(tx, userID)
	if err != nil {
		if store.IsNotFound(err) {
			util.DebitsRejectedTotal.Inc()
			return 0, fmt.Errorf("account %d: %w", userID, ErrInsufficientFunds)
		}
		return 0, err
	}

	if old < amount {
		util.DebitsRejectedTotal.Inc()
		return 0, fmt.Errorf("need %d, have %d: %w", amount, old, ErrInsufficientFunds)
	}

	newBalance := old - amount
	now := time.Now().UTC()
	_, err = tx.Exec(l.store.Rebind(
		`UPDATE accounts
		 SET balance = ?, total_spent = total_spent + ?, total_orders = total_orders + 1,
		     last_activity_at = ?
		 WHERE user_id = ?`),
		newBalance, amount, now, userID)
	if err != nil {
		return 0, fmt.Errorf("debit account %d: %w", userID, err)
	}

	if err := l.audit(tx, userID, -amount, old, newBalance, reason); err != nil {
		return 0, err
	}

	util.DebitsTotal.Inc()
	l.logger.Info("Balance debited",
		zap.Int64("user_id", userID),
		zap.Int64("amount", amount),
		zap.Int64("new_balance", newBalance),
		zap.String("reason", reason))
	return newBalance, nil
}

// Audit returns the balance audit trail for an account, newest first.
func (l *Ledger) Audit(ctx context.Context, userID int64, limit int) ([]models.BalanceAudit, error) {
	var entries []models.BalanceAudit
	err := l.store.DB().SelectContext(ctx, &entries, l.store.Rebind(
		`SELECT * FROM balance_audit WHERE user_id = ? ORDER BY id DESC LIMIT ?`),
		userID, limit)
	return entries, err
}

// lockBalance reads the balance with a row lock held until commit.
func (l *Ledger) lockBalance(tx *sqlx.Tx, userID int64) (int64, error) {
	var balance int64
	err := tx.Get(&balance, l.store.Rebind(
		"SELECT balance FROM accounts WHERE user_id = ?")+l.store.ForUpdate(), userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, err
		}
		return 0, fmt.Errorf("lock balance %d: %w", userID, err)
	}
	return balance, nil
}

func (l *Ledger) audit(tx *sqlx.Tx, userID, delta, oldBal, newBal int64, reason string) error {
	_, err := tx.Exec(l.store.Rebind(
		`INSERT INTO balance_audit (user_id, delta, old_balance, new_balance, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`),
		userID, delta, oldBal, newBal, reason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("audit account %d: %w", userID, err)
	}
	return nil
}
