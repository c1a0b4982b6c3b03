package models

import "time"

// Event types
const (
	EventTypeTopupConfirmed    = "TOPUP_CONFIRMED"
	EventTypeOrderPlaced       = "ORDER_PLACED"
	EventTypeOrderCompleted    = "ORDER_COMPLETED"
	EventTypeOrderCancelled    = "ORDER_CANCELLED"
	EventTypeOrderFailed       = "ORDER_FAILED"
	EventTypeStockLow          = "STOCK_LOW"
	EventTypeDeliveryRequested = "DELIVERY_REQUESTED"
	EventTypeDeliveryResult    = "DELIVERY_RESULT"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// TopupConfirmedEvent published when a payment notification credits an account
type TopupConfirmedEvent struct {
	BaseEvent
	UserID         int64  `json:"user_id"`
	Amount         int64  `json:"amount"`
	OrderReference string `json:"order_reference"`
	NewBalance     int64  `json:"new_balance"`
}

// OrderPlacedEvent published when an order has funds debited and stock reserved
type OrderPlacedEvent struct {
	BaseEvent
	OrderNumber string `json:"order_number"`
	UserID      int64  `json:"user_id"`
	UnitType    string `json:"unit_type"`
	Quantity    int    `json:"quantity"`
	TotalPrice  int64  `json:"total_price"`
}

// OrderCompletedEvent published when reserved units are consumed
type OrderCompletedEvent struct {
	BaseEvent
	OrderNumber string `json:"order_number"`
	UserID      int64  `json:"user_id"`
	Quantity    int    `json:"quantity"`
}

// OrderCancelledEvent published after a compensating cancellation
type OrderCancelledEvent struct {
	BaseEvent
	OrderNumber string `json:"order_number"`
	UserID      int64  `json:"user_id"`
	Refunded    int64  `json:"refunded"`
	Reason      string `json:"reason"`
}

// OrderFailedEvent published when an order fails with compensation applied
type OrderFailedEvent struct {
	BaseEvent
	OrderNumber string `json:"order_number"`
	UserID      int64  `json:"user_id"`
	Refunded    int64  `json:"refunded"`
	Reason      string `json:"reason"`
}

// StockLowEvent published when available stock drops below the alert threshold
type StockLowEvent struct {
	BaseEvent
	CodeType  string `json:"code_type"`
	Available int    `json:"available"`
	Threshold int    `json:"threshold"`
}

// DeliveryRequestedEvent is the hand-off payload for the delivery collaborator
type DeliveryRequestedEvent struct {
	BaseEvent
	OrderNumber string   `json:"order_number"`
	UserID      int64    `json:"user_id"`
	Method      string   `json:"method"`
	Codes       []string `json:"codes"`
}

// DeliveryResultEvent is reported back by the delivery collaborator
type DeliveryResultEvent struct {
	BaseEvent
	OrderNumber string `json:"order_number"`
	Success     bool   `json:"success"`
	Permanent   bool   `json:"permanent"`
	Reason      string `json:"reason"`
}
