package inventory

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"fulfillment-core/internal/broker"
	"fulfillment-core/internal/models"
	"fulfillment-core/internal/store"
	"fulfillment-core/internal/util"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

var (
	// ErrInsufficientStock means fewer units are available than requested.
	// Reservations are all-or-nothing; nothing is held back on failure.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrInvalidCode means a submitted code fails validation.
	ErrInvalidCode = errors.New("invalid stock code")
)

const (
	minCodeLength = 5
	maxCodeLength = 500
)

// Pool manages the stock of deliverable codes. Units move strictly
// available -> reserved -> used, with reserved -> available on release.
type Pool struct {
	store             store.Store
	cipher            *Cipher
	publisher         *broker.EventPublisher // optional
	lowStockThreshold int
	logger            *zap.Logger
}

// New creates a pool. publisher may be nil.
func New(s store.Store, cipher *Cipher, publisher *broker.EventPublisher, lowStockThreshold int) *Pool {
	return &Pool{
		store:             s,
		cipher:            cipher,
		publisher:         publisher,
		lowStockThreshold: lowStockThreshold,
		logger:            util.GetLogger(),
	}
}

// AvailableCount returns the number of available units of a code type, or
// of all types when codeType is empty.
func (p *Pool) AvailableCount(ctx context.Context, codeType string) (int, error) {
	var (
		count int
		err   error
	)
	if codeType == "" {
		err = p.store.DB().GetContext(ctx, &count, p.store.Rebind(
			"SELECT COUNT(*) FROM stock WHERE state = ?"), models.StockStateAvailable)
	} else {
		err = p.store.DB().GetContext(ctx, &count, p.store.Rebind(
			"SELECT COUNT(*) FROM stock WHERE code_type = ? AND state = ?"),
			codeType, models.StockStateAvailable)
	}
	if err != nil {
		return 0, fmt.Errorf("count available %s: %w", codeType, err)
	}
	return count, nil
}

// ReserveTx locks and reserves exactly quantity units of the given type in
// FIFO order, stamping each with the owning order. All-or-nothing: when
// fewer units are available it returns ErrInsufficientStock and reserves
// none. Must run inside the caller's transaction so the reservation commits
// or rolls back with the rest of the order step.
func (p *Pool) ReserveTx(tx *sqlx.Tx, orderID int64, codeType string, quantity int) ([]models.StockUnit, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("reserve quantity must be positive, got %d", quantity)
	}
	start := time.Now()

	var units []models.StockUnit
	err := tx.Select(&units, p.store.Rebind(
		"SELECT * FROM stock WHERE code_type = ? AND state = ? ORDER BY id LIMIT ?")+p.store.ForUpdate(),
		codeType, models.StockStateAvailable, quantity)
	if err != nil {
		return nil, fmt.Errorf("lock stock %s: %w", codeType, err)
	}
	if len(units) < quantity {
		util.StockReservationsFailed.WithLabelValues("insufficient").Inc()
		return nil, fmt.Errorf("%s: need %d, have %d: %w",
			codeType, quantity, len(units), ErrInsufficientStock)
	}

	ids := make([]int64, len(units))
	for i, u := range units {
		ids[i] = u.ID
	}
	now := time.Now().UTC()
	query, args, err := sqlx.In(
		"UPDATE stock SET state = ?, reserved_for_order = ?, reserved_at = ? WHERE id IN (?)",
		models.StockStateReserved, orderID, now, ids)
	if err != nil {
		return nil, fmt.Errorf("build reserve update: %w", err)
	}
	if _, err := tx.Exec(p.store.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("reserve stock for order %d: %w", orderID, err)
	}

	for i := range units {
		units[i].State = models.StockStateReserved
		units[i].ReservedForOrder = sql.NullInt64{Int64: orderID, Valid: true}
		units[i].ReservedAt = sql.NullTime{Time: now, Valid: true}
	}

	util.StockReservedTotal.Add(float64(quantity))
	util.StockReserveLatency.Observe(time.Since(start).Seconds())
	return units, nil
}

// ReleaseTx returns all units reserved for an order to the available pool.
// Used units are untouched. Returns the number of units released.
func (p *Pool) ReleaseTx(tx *sqlx.Tx, orderID int64) (int, error) {
	res, err := tx.Exec(p.store.Rebind(
		`UPDATE stock SET state = ?, reserved_for_order = NULL, reserved_at = NULL
		 WHERE reserved_for_order = ? AND state = ?`),
		models.StockStateAvailable, orderID, models.StockStateReserved)
	if err != nil {
		return 0, fmt.Errorf("release stock for order %d: %w", orderID, err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		util.StockReleasedTotal.Add(float64(n))
	}
	return int(n), nil
}

// ConsumeTx marks the units reserved for an order as used and returns them
// with plaintext codes. Only reserved units are consumable.
func (p *Pool) ConsumeTx(tx *sqlx.Tx, orderID int64) ([]models.StockUnit, error) {
	var units []models.StockUnit
	err := tx.Select(&units, p.store.Rebind(
		"SELECT * FROM stock WHERE reserved_for_order = ? AND state = ? ORDER BY id")+p.store.ForUpdate(),
		orderID, models.StockStateReserved)
	if err != nil {
		return nil, fmt.Errorf("lock reserved stock for order %d: %w", orderID, err)
	}
	if len(units) == 0 {
		return nil, fmt.Errorf("order %d holds no reserved units", orderID)
	}

	now := time.Now().UTC()
	_, err = tx.Exec(p.store.Rebind(
		"UPDATE stock SET state = ?, used_at = ? WHERE reserved_for_order = ? AND state = ?"),
		models.StockStateUsed, now, orderID, models.StockStateReserved)
	if err != nil {
		return nil, fmt.Errorf("consume stock for order %d: %w", orderID, err)
	}

	for i := range units {
		units[i].State = models.StockStateUsed
	}
	return units, nil
}

// Codes returns the plaintext codes for a set of units.
func (p *Pool) Codes(units []models.StockUnit) ([]string, error) {
	codes := make([]string, 0, len(units))
	for _, u := range units {
		code := u.Code
		if u.IsEncrypted {
			plain, err := p.cipher.Decrypt(u.Code)
			if err != nil {
				return nil, fmt.Errorf("unit %d: %w", u.ID, err)
			}
			code = plain
		}
		codes = append(codes, code)
	}
	return codes, nil
}

// AddUnit inserts one unit. Adding a code that already exists is a silent
// no-op; the return value reports whether a row was actually inserted.
func (p *Pool) AddUnit(ctx context.Context, codeType, code string, addedBy int64) (bool, error) {
	code = strings.TrimSpace(code)
	if len(code) < minCodeLength || len(code) > maxCodeLength {
		return false, fmt.Errorf("code length %d outside [%d, %d]: %w",
			len(code), minCodeLength, maxCodeLength, ErrInvalidCode)
	}

	stored := p.cipher.Encrypt(code)
	var inserted bool
	err := p.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.Exec(p.store.Rebind(
			`INSERT INTO stock (code_type, code, is_encrypted, state, added_by, added_at)
			 VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT (code) DO NOTHING`),
			codeType, stored, p.cipher.Enabled(), models.StockStateAvailable, addedBy, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("add stock unit: %w", err)
		}
		n, _ := res.RowsAffected()
		inserted = n > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

// AddFromText bulk-loads codes from newline-separated text, one code per
// line. Blank lines and lines starting with # are ignored; invalid or
// duplicate codes are counted as skipped, never aborting the batch.
func (p *Pool) AddFromText(ctx context.Context, codeType, text string, addedBy int64) (added, skipped int, err error) {
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		inserted, err := p.AddUnit(ctx, codeType, line, addedBy)
		if err != nil {
			if errors.Is(err, ErrInvalidCode) {
				skipped++
				continue
			}
			return added, skipped, err
		}
		if inserted {
			added++
		} else {
			skipped++
		}
	}
	if err := scanner.Err(); err != nil {
		return added, skipped, fmt.Errorf("scan stock upload: %w", err)
	}

	p.logger.Info("Stock upload processed",
		zap.String("code_type", codeType),
		zap.Int("added", added),
		zap.Int("skipped", skipped))
	return added, skipped, nil
}

// Summary reports per-type stock counts across all states.
func (p *Pool) Summary(ctx context.Context) ([]models.StockSummary, error) {
	query := p.store.Rebind(`
		SELECT code_type,
		       COUNT(*) AS total,
		       SUM(CASE WHEN state = ? THEN 1 ELSE 0 END) AS available,
		       SUM(CASE WHEN state = ? THEN 1 ELSE 0 END) AS reserved,
		       SUM(CASE WHEN state = ? THEN 1 ELSE 0 END) AS used
		FROM stock GROUP BY code_type ORDER BY code_type`)

	var summaries []models.StockSummary
	err := p.store.DB().SelectContext(ctx, &summaries, query,
		models.StockStateAvailable, models.StockStateReserved, models.StockStateUsed)
	if err != nil {
		return nil, fmt.Errorf("stock summary: %w", err)
	}
	return summaries, nil
}

// CheckLowStock emits an alert when available stock of a type has dropped
// below the configured threshold.
func (p *Pool) CheckLowStock(ctx context.Context, codeType string) {
	available, err := p.AvailableCount(ctx, codeType)
	if err != nil {
		p.logger.Error("Low stock check failed",
			zap.String("code_type", codeType), zap.Error(err))
		return
	}
	if available >= p.lowStockThreshold {
		return
	}

	p.logger.Warn("Stock below threshold",
		zap.String("code_type", codeType),
		zap.Int("available", available),
		zap.Int("threshold", p.lowStockThreshold))

	if p.publisher != nil {
		event := &models.StockLowEvent{
			BaseEvent: broker.NewBaseEvent(models.EventTypeStockLow),
			CodeType:  codeType,
			Available: available,
			Threshold: p.lowStockThreshold,
		}
		if err := p.publisher.PublishStockLow(ctx, event); err != nil {
			p.logger.Error("Failed to publish StockLow event", zap.Error(err))
		}
	}
}
