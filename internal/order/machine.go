package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fulfillment-core/config"
	"fulfillment-core/internal/broker"
	"fulfillment-core/internal/inventory"
	"fulfillment-core/internal/ledger"
	"fulfillment-core/internal/models"
	"fulfillment-core/internal/store"
	"fulfillment-core/internal/util"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

var (
	// ErrUnknownOrder means no order exists with the given number.
	ErrUnknownOrder = errors.New("unknown order")

	// ErrInvalidQuantity means the requested quantity has no package price.
	ErrInvalidQuantity = errors.New("no package for quantity")

	// ErrOrderTerminal means the order already reached a terminal status and
	// cannot be advanced or compensated again.
	ErrOrderTerminal = errors.New("order already terminal")
)

// Deliverer hands reserved codes to the buyer. Returning nil means the
// hand-off was accepted; the codes are only consumed once delivery is
// confirmed.
type Deliverer interface {
	Deliver(ctx context.Context, order *models.Order, codes []string) error
}

// Machine drives the order lifecycle:
//
//	pending -> paid -> stock_reserved -> delivered -> completed
//
// with failed/cancelled as compensated exits. The debit, the reservation and
// every compensation each run in a single transaction, so a crash between
// steps leaves the order in a state the sweep worker can settle, never with
// money and stock half-moved.
type Machine struct {
	store     store.Store
	ledger    *ledger.Ledger
	pool      *inventory.Pool
	deliverer Deliverer
	publisher *broker.EventPublisher // optional
	cfg       *config.BusinessConfig
	logger    *zap.Logger
}

// New creates an order machine. publisher may be nil.
func New(s store.Store, l *ledger.Ledger, pool *inventory.Pool, d Deliverer, publisher *broker.EventPublisher, cfg *config.BusinessConfig) *Machine {
	return &Machine{
		store:     s,
		ledger:    l,
		pool:      pool,
		deliverer: d,
		publisher: publisher,
		cfg:       cfg,
		logger:    util.GetLogger(),
	}
}

// NewOrderNumber generates a customer-facing order number, unique per call.
func NewOrderNumber(userID int64) string {
	return fmt.Sprintf("ORD-%d-%s-%s",
		userID, time.Now().UTC().Format("20060102150405"), uuid.New().String()[:8])
}

// Place runs the full purchase saga for one order: price the package, debit
// the buyer, reserve stock FIFO, then hand the codes to the deliverer. Each
// failure past the debit is compensated before returning, so the caller
// never sees a paid order with nothing reserved.
func (m *Machine) Place(ctx context.Context, userID int64, unitType string, quantity int) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "Machine.Place")
	defer span.End()

	if unitType == "" {
		unitType = m.cfg.DefaultUnitType
	}
	if m.cfg.MaxUnitsPerOrder > 0 && quantity > m.cfg.MaxUnitsPerOrder {
		return nil, fmt.Errorf("quantity %d exceeds per-order limit %d: %w",
			quantity, m.cfg.MaxUnitsPerOrder, ErrInvalidQuantity)
	}
	price, ok := m.cfg.PriceFor(quantity)
	if !ok {
		return nil, fmt.Errorf("quantity %d: %w", quantity, ErrInvalidQuantity)
	}

	order, err := m.create(ctx, userID, unitType, quantity, price)
	if err != nil {
		return nil, err
	}
	logger := m.logger.With(
		zap.String("order_number", order.OrderNumber),
		zap.Int64("user_id", userID))

	// Step 1: debit. Insufficient funds fails the order with nothing to
	// compensate because no stock is held yet.
	err = m.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := m.ledger.DebitTx(tx, userID, price, ledger.ReasonDebit); err != nil {
			return err
		}
		return m.setStatus(tx, order.ID, models.OrderStatusPaid)
	})
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			m.close(ctx, order, models.OrderStatusFailed, "insufficient_funds")
		}
		return nil, err
	}
	order.Status = models.OrderStatusPaid

	// Step 2: reserve. Insufficient stock triggers the compensating refund.
	var units []models.StockUnit
	err = m.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		units, err = m.pool.ReserveTx(tx, order.ID, unitType, quantity)
		if err != nil {
			return err
		}
		return m.setStatus(tx, order.ID, models.OrderStatusStockReserved)
	})
	if err != nil {
		if errors.Is(err, inventory.ErrInsufficientStock) {
			if cerr := m.compensate(ctx, order.OrderNumber, models.OrderStatusFailed, "insufficient_stock"); cerr != nil {
				logger.Error("Compensation failed after stock shortage", zap.Error(cerr))
			}
		}
		return nil, err
	}
	order.Status = models.OrderStatusStockReserved

	util.OrdersPlacedTotal.Inc()
	logger.Info("Order placed",
		zap.String("unit_type", unitType),
		zap.Int("quantity", quantity),
		zap.Int64("total_price", price))
	m.publishPlaced(ctx, order)
	m.pool.CheckLowStock(ctx, unitType)

	// Step 3: hand off. Runs outside any transaction; a crash here leaves a
	// paid, reserved order for the sweep worker to settle.
	if err := m.deliver(ctx, order, units); err != nil {
		if errors.Is(err, ErrOrderTerminal) {
			// A cancel or sweep won the race; its compensation already
			// refunded the debit and released the units.
			logger.Warn("Order terminated during delivery hand-off", zap.Error(err))
			return nil, err
		}
		if ferr := m.FailDelivery(ctx, order.OrderNumber, "delivery_failed"); ferr != nil {
			logger.Error("Compensation failed after delivery failure", zap.Error(ferr))
		}
		return nil, err
	}
	order.Status = models.OrderStatusDelivered
	order.DeliveryStatus = models.DeliveryStatusHandedOff
	return order, nil
}

// Confirm settles a delivered order: reserved units become used and the
// order completes, in one transaction. Orders still in stock_reserved are
// accepted too: a crash between the delivery hand-off and the delivered
// write leaves the order there even though the codes went out, and the
// delivery result that drives Confirm is the proof that they did.
// Confirming a completed order is a no-op.
func (m *Machine) Confirm(ctx context.Context, orderNumber string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "Machine.Confirm")
	defer span.End()

	var (
		order    models.Order
		advanced bool
	)
	err := m.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := m.lockOrder(tx, orderNumber, &order); err != nil {
			return err
		}
		switch order.Status {
		case models.OrderStatusCompleted:
			return nil
		case models.OrderStatusStockReserved, models.OrderStatusDelivered:
		default:
			return fmt.Errorf("order %s is %s: %w", orderNumber, order.Status, ErrOrderTerminal)
		}

		if _, err := m.pool.ConsumeTx(tx, order.ID); err != nil {
			return err
		}
		if err := m.setStatus(tx, order.ID, models.OrderStatusCompleted); err != nil {
			return err
		}
		advanced = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !advanced {
		return &order, nil
	}
	order.Status = models.OrderStatusCompleted

	util.OrdersCompletedTotal.Inc()
	m.logger.Info("Order completed",
		zap.String("order_number", orderNumber),
		zap.Int64("user_id", order.UserID))

	if m.publisher != nil {
		event := &models.OrderCompletedEvent{
			BaseEvent:   broker.NewBaseEvent(models.EventTypeOrderCompleted),
			OrderNumber: order.OrderNumber,
			UserID:      order.UserID,
			Quantity:    order.Quantity,
		}
		if err := m.publisher.PublishOrderCompleted(ctx, event); err != nil {
			m.logger.Error("Failed to publish OrderCompleted event", zap.Error(err))
		}
	}
	return &order, nil
}

// Cancel compensates a live order: reserved units return to the pool, the
// debit is refunded if one happened, and the order lands in cancelled.
// Cancelling an order that is already terminal returns ErrOrderTerminal.
func (m *Machine) Cancel(ctx context.Context, orderNumber, reason string) error {
	return m.compensate(ctx, orderNumber, models.OrderStatusCancelled, reason)
}

// FailDelivery compensates an order whose hand-off permanently failed.
func (m *Machine) FailDelivery(ctx context.Context, orderNumber, reason string) error {
	return m.compensate(ctx, orderNumber, models.OrderStatusFailed, reason)
}

// Get looks up an order by its number.
func (m *Machine) Get(ctx context.Context, orderNumber string) (*models.Order, error) {
	var order models.Order
	err := m.store.DB().GetContext(ctx, &order, m.store.Rebind(
		"SELECT * FROM orders WHERE order_number = ?"), orderNumber)
	if store.IsNotFound(err) {
		return nil, fmt.Errorf("%s: %w", orderNumber, ErrUnknownOrder)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ListForUser returns a user's most recent orders.
func (m *Machine) ListForUser(ctx context.Context, userID int64, limit int) ([]models.Order, error) {
	if limit <= 0 {
		limit = 20
	}
	var orders []models.Order
	err := m.store.DB().SelectContext(ctx, &orders, m.store.Rebind(
		"SELECT * FROM orders WHERE user_id = ? ORDER BY id DESC LIMIT ?"), userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list orders for user %d: %w", userID, err)
	}
	return orders, nil
}

// ReclaimStale cancels orders stuck in a non-terminal pre-completion status
// longer than ttl, returning their stock and money. Delivered orders are
// left alone; only the buyer's confirmation settles those.
func (m *Machine) ReclaimStale(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-ttl)
	var numbers []string
	err := m.store.DB().SelectContext(ctx, &numbers, m.store.Rebind(
		"SELECT order_number FROM orders WHERE status IN (?, ?, ?) AND updated_at < ?"),
		models.OrderStatusPending, models.OrderStatusPaid, models.OrderStatusStockReserved, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list stale orders: %w", err)
	}

	reclaimed := 0
	for _, number := range numbers {
		if err := m.compensate(ctx, number, models.OrderStatusCancelled, "reservation_expired"); err != nil {
			if errors.Is(err, ErrOrderTerminal) {
				continue
			}
			m.logger.Error("Failed to reclaim stale order",
				zap.String("order_number", number), zap.Error(err))
			continue
		}
		reclaimed++
		util.ReservationsReclaimedTotal.Inc()
	}
	return reclaimed, nil
}

// compensate releases any reserved stock, refunds the debit when one
// happened, and moves the order to the given terminal status, all in one
// transaction. Pending orders never paid, so they get no refund.
func (m *Machine) compensate(ctx context.Context, orderNumber, terminal, reason string) error {
	var (
		order    models.Order
		refunded int64
	)
	err := m.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := m.lockOrder(tx, orderNumber, &order); err != nil {
			return err
		}
		if models.OrderTerminal(order.Status) {
			return fmt.Errorf("order %s is %s: %w", orderNumber, order.Status, ErrOrderTerminal)
		}

		if _, err := m.pool.ReleaseTx(tx, order.ID); err != nil {
			return err
		}

		switch order.Status {
		case models.OrderStatusPaid, models.OrderStatusStockReserved, models.OrderStatusDelivered:
			if _, err := m.ledger.CreditTx(tx, order.UserID, order.TotalPrice, ledger.ReasonRefund); err != nil {
				return err
			}
			refunded = order.TotalPrice
		}

		return m.setStatus(tx, order.ID, terminal)
	})
	if err != nil {
		return err
	}

	m.logger.Info("Order compensated",
		zap.String("order_number", orderNumber),
		zap.String("status", terminal),
		zap.String("reason", reason),
		zap.Int64("refunded", refunded))

	if terminal == models.OrderStatusCancelled {
		util.OrdersCancelledTotal.Inc()
	} else {
		util.OrdersFailedTotal.WithLabelValues(reason).Inc()
	}

	if m.publisher != nil {
		base := broker.NewBaseEvent(models.EventTypeOrderCancelled)
		if terminal == models.OrderStatusCancelled {
			event := &models.OrderCancelledEvent{
				BaseEvent:   base,
				OrderNumber: orderNumber,
				UserID:      order.UserID,
				Refunded:    refunded,
				Reason:      reason,
			}
			if err := m.publisher.PublishOrderCancelled(ctx, event); err != nil {
				m.logger.Error("Failed to publish OrderCancelled event", zap.Error(err))
			}
		} else {
			base.EventType = models.EventTypeOrderFailed
			event := &models.OrderFailedEvent{
				BaseEvent:   base,
				OrderNumber: orderNumber,
				UserID:      order.UserID,
				Refunded:    refunded,
				Reason:      reason,
			}
			if err := m.publisher.PublishOrderFailed(ctx, event); err != nil {
				m.logger.Error("Failed to publish OrderFailed event", zap.Error(err))
			}
		}
	}
	return nil
}

// close moves an order to a terminal status with no stock or money to move.
func (m *Machine) close(ctx context.Context, order *models.Order, terminal, reason string) {
	err := m.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		return m.setStatus(tx, order.ID, terminal)
	})
	if err != nil {
		m.logger.Error("Failed to close order",
			zap.String("order_number", order.OrderNumber), zap.Error(err))
		return
	}
	order.Status = terminal
	if terminal == models.OrderStatusFailed {
		util.OrdersFailedTotal.WithLabelValues(reason).Inc()
	}
}

// deliver hands the plaintext codes off with bounded retries, recording each
// attempt. It returns nil once the deliverer accepts the hand-off.
func (m *Machine) deliver(ctx context.Context, order *models.Order, units []models.StockUnit) error {
	codes, err := m.pool.Codes(units)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= m.cfg.DeliveryRetries; attempt++ {
		util.DeliveryAttemptsTotal.Inc()
		lastErr = m.deliverer.Deliver(ctx, order, codes)
		if lastErr == nil {
			m.recordDelivery(ctx, order, attempt, models.DeliveryStatusHandedOff)
			return m.store.WithTx(ctx, func(tx *sqlx.Tx) error {
				return m.setDelivered(tx, order.ID)
			})
		}

		m.logger.Warn("Delivery attempt failed",
			zap.String("order_number", order.OrderNumber),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))
		m.recordDelivery(ctx, order, attempt, models.DeliveryStatusFailed)
	}

	util.DeliveryFailedTotal.Inc()
	return fmt.Errorf("deliver order %s after %d attempts: %w",
		order.OrderNumber, m.cfg.DeliveryRetries, lastErr)
}

func (m *Machine) recordDelivery(ctx context.Context, order *models.Order, attempt int, status string) {
	_, err := m.store.DB().ExecContext(ctx, m.store.Rebind(
		`INSERT INTO deliveries (order_number, user_id, method, status, attempt, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`),
		order.OrderNumber, order.UserID, m.cfg.DeliveryMethod, status, attempt, time.Now().UTC())
	if err != nil {
		m.logger.Error("Failed to record delivery attempt",
			zap.String("order_number", order.OrderNumber), zap.Error(err))
	}
}

func (m *Machine) create(ctx context.Context, userID int64, unitType string, quantity int, price int64) (*models.Order, error) {
	number := NewOrderNumber(userID)
	var order models.Order
	err := m.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := m.ledger.EnsureAccountTx(tx, userID); err != nil {
			return err
		}
		now := time.Now().UTC()
		_, err := tx.Exec(m.store.Rebind(
			`INSERT INTO orders (order_number, user_id, unit_type, quantity, total_price, status, delivery_status, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			number, userID, unitType, quantity, price,
			models.OrderStatusPending, models.DeliveryStatusPending, now, now)
		if err != nil {
			return fmt.Errorf("create order %s: %w", number, err)
		}
		return tx.Get(&order, m.store.Rebind(
			"SELECT * FROM orders WHERE order_number = ?"), number)
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (m *Machine) lockOrder(tx *sqlx.Tx, orderNumber string, dst *models.Order) error {
	err := tx.Get(dst, m.store.Rebind(
		"SELECT * FROM orders WHERE order_number = ?")+m.store.ForUpdate(), orderNumber)
	if store.IsNotFound(err) {
		return fmt.Errorf("%s: %w", orderNumber, ErrUnknownOrder)
	}
	if err != nil {
		return fmt.Errorf("lock order %s: %w", orderNumber, err)
	}
	return nil
}

func (m *Machine) setStatus(tx *sqlx.Tx, orderID int64, status string) error {
	_, err := tx.Exec(m.store.Rebind(
		"UPDATE orders SET status = ?, updated_at = ? WHERE id = ?"),
		status, time.Now().UTC(), orderID)
	if err != nil {
		return fmt.Errorf("update order %d: %w", orderID, err)
	}
	return nil
}

// setDelivered advances stock_reserved to delivered. The guard on the current
// status keeps a cancel or sweep that committed during the hand-off window
// from being overwritten; zero rows means the order was terminated underneath
// us and the compensation already ran.
func (m *Machine) setDelivered(tx *sqlx.Tx, orderID int64) error {
	res, err := tx.Exec(m.store.Rebind(
		"UPDATE orders SET status = ?, delivery_status = ?, updated_at = ? WHERE id = ? AND status = ?"),
		models.OrderStatusDelivered, models.DeliveryStatusHandedOff, time.Now().UTC(),
		orderID, models.OrderStatusStockReserved)
	if err != nil {
		return fmt.Errorf("update order %d: %w", orderID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update order %d: %w", orderID, err)
	}
	if n == 0 {
		return fmt.Errorf("order %d terminated during hand-off: %w", orderID, ErrOrderTerminal)
	}
	return nil
}

func (m *Machine) publishPlaced(ctx context.Context, order *models.Order) {
	if m.publisher == nil {
		return
	}
	event := &models.OrderPlacedEvent{
		BaseEvent:   broker.NewBaseEvent(models.EventTypeOrderPlaced),
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		UnitType:    order.UnitType,
		Quantity:    order.Quantity,
		TotalPrice:  order.TotalPrice,
	}
	if err := m.publisher.PublishOrderPlaced(ctx, event); err != nil {
		m.logger.Error("Failed to publish OrderPlaced event", zap.Error(err))
	}
}
