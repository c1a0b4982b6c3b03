package worker

import (
	"context"
	"log"
	"time"

	"fulfillment-core/internal/broker"
	"fulfillment-core/internal/models"
	"fulfillment-core/internal/order"
	"fulfillment-core/internal/redisclient"
	"fulfillment-core/internal/util"

	"go.uber.org/zap"
)

const sweepLockKey = "reservation-sweep"

// DeliveryWorker consumes DeliveryResult events from the delivery
// collaborator and settles the affected orders: success confirms the order,
// a permanent failure compensates it, a transient failure is left for the
// sweep worker.
type DeliveryWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	machine      *order.Machine
	logger       *zap.Logger
}

// NewDeliveryWorker creates a new delivery worker
func NewDeliveryWorker(consumer *broker.Consumer, machine *order.Machine) *DeliveryWorker {
	w := &DeliveryWorker{
		consumer: consumer,
		machine:  machine,
		logger:   util.GetLogger(),
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnDeliveryResult(w.handleResult)
	w.eventHandler = eventHandler
	return w
}

// Start starts the worker
func (w *DeliveryWorker) Start(ctx context.Context) error {
	log.Println("Starting delivery worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *DeliveryWorker) Stop() error {
	log.Println("Stopping delivery worker...")
	return w.consumer.Close()
}

func (w *DeliveryWorker) handleResult(ctx context.Context, event *models.DeliveryResultEvent) error {
	logger := w.logger.With(zap.String("order_number", event.OrderNumber))

	if event.Success {
		if _, err := w.machine.Confirm(ctx, event.OrderNumber); err != nil {
			logger.Error("Failed to confirm delivered order", zap.Error(err))
			return err
		}
		return nil
	}

	if !event.Permanent {
		logger.Warn("Transient delivery failure reported",
			zap.String("reason", event.Reason))
		return nil
	}

	if err := w.machine.FailDelivery(ctx, event.OrderNumber, event.Reason); err != nil {
		logger.Error("Failed to compensate failed delivery", zap.Error(err))
		return err
	}
	return nil
}

// SweepWorker periodically reclaims orders stuck before completion longer
// than the reservation TTL, returning their stock and money. A Redis lock
// keeps multiple instances from sweeping concurrently; without Redis the
// worker sweeps unguarded, which is safe because compensation is guarded by
// the order status anyway.
type SweepWorker struct {
	machine  *order.Machine
	redis    *redisclient.Client // optional
	interval time.Duration
	ttl      time.Duration
	logger   *zap.Logger
}

// NewSweepWorker creates a new sweep worker. redis may be nil.
func NewSweepWorker(machine *order.Machine, redis *redisclient.Client, interval, ttl time.Duration) *SweepWorker {
	return &SweepWorker{
		machine:  machine,
		redis:    redis,
		interval: interval,
		ttl:      ttl,
		logger:   util.GetLogger(),
	}
}

// Start runs the sweep loop until the context is cancelled.
func (w *SweepWorker) Start(ctx context.Context) error {
	log.Printf("Starting sweep worker: interval=%s ttl=%s", w.interval, w.ttl)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Sweep worker context cancelled, stopping...")
			return ctx.Err()
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *SweepWorker) sweep(ctx context.Context) {
	if w.redis != nil {
		acquired, err := w.redis.AcquireLock(ctx, sweepLockKey, w.interval)
		if err != nil {
			w.logger.Error("Sweep lock acquisition failed", zap.Error(err))
			return
		}
		if !acquired {
			return
		}
		defer func() {
			if err := w.redis.ReleaseLock(ctx, sweepLockKey); err != nil {
				w.logger.Error("Sweep lock release failed", zap.Error(err))
			}
		}()
	}

	reclaimed, err := w.machine.ReclaimStale(ctx, w.ttl)
	if err != nil {
		w.logger.Error("Reservation sweep failed", zap.Error(err))
		return
	}
	if reclaimed > 0 {
		w.logger.Info("Reclaimed stale orders", zap.Int("count", reclaimed))
	}
}
