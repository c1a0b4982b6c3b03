package delivery

import (
	"context"
	"fmt"

	"fulfillment-core/internal/broker"
	"fulfillment-core/internal/models"
)

// KafkaDeliverer hands codes off by publishing a DeliveryRequested event on
// the delivery topic. A successful publish is a successful hand-off; the
// collaborator reports the outcome back as a DeliveryResult event.
type KafkaDeliverer struct {
	producer *broker.Producer
	method   string
}

// NewKafka creates a deliverer writing to the given producer.
func NewKafka(producer *broker.Producer, method string) *KafkaDeliverer {
	return &KafkaDeliverer{producer: producer, method: method}
}

// Deliver publishes the codes for one order.
func (d *KafkaDeliverer) Deliver(ctx context.Context, order *models.Order, codes []string) error {
	event := &models.DeliveryRequestedEvent{
		BaseEvent:   broker.NewBaseEvent(models.EventTypeDeliveryRequested),
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Method:      d.method,
		Codes:       codes,
	}
	if err := d.producer.PublishEvent(ctx, order.OrderNumber, event); err != nil {
		return fmt.Errorf("publish delivery request for %s: %w", order.OrderNumber, err)
	}
	return nil
}
