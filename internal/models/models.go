package models

import (
	"database/sql"
	"time"
)

// Account holds the balance for one external user identity.
// Balance is stored in the smallest currency unit and never goes negative.
type Account struct {
	UserID         int64     `db:"user_id" json:"user_id"`
	Balance        int64     `db:"balance" json:"balance"`
	TotalTopup     int64     `db:"total_topup" json:"total_topup"`
	TotalSpent     int64     `db:"total_spent" json:"total_spent"`
	TotalOrders    int64     `db:"total_orders" json:"total_orders"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	LastActivityAt time.Time `db:"last_activity_at" json:"last_activity_at"`
}

// Topup represents one payment-provider transaction attempt.
// OrderReference is the globally unique idempotency key.
type Topup struct {
	ID             int64          `db:"id" json:"id"`
	UserID         int64          `db:"user_id" json:"user_id"`
	Amount         int64          `db:"amount" json:"amount"`
	OrderReference string         `db:"order_reference" json:"order_reference"`
	Status         string         `db:"status" json:"status"`
	PaymentType    string         `db:"payment_type" json:"payment_type,omitempty"`
	TransactionID  sql.NullString `db:"transaction_id" json:"transaction_id,omitempty"`
	BotSource      string         `db:"bot_source" json:"bot_source"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

// StockUnit is one deliverable item: an opaque code plus a type tag.
type StockUnit struct {
	ID               int64         `db:"id" json:"id"`
	CodeType         string        `db:"code_type" json:"code_type"`
	Code             string        `db:"code" json:"code"`
	IsEncrypted      bool          `db:"is_encrypted" json:"is_encrypted"`
	State            string        `db:"state" json:"state"`
	ReservedForOrder sql.NullInt64 `db:"reserved_for_order" json:"reserved_for_order,omitempty"`
	ReservedAt       sql.NullTime  `db:"reserved_at" json:"reserved_at,omitempty"`
	UsedAt           sql.NullTime  `db:"used_at" json:"used_at,omitempty"`
	AddedBy          int64         `db:"added_by" json:"added_by"`
	AddedAt          time.Time     `db:"added_at" json:"added_at"`
}

// Order is one purchase lifecycle tying a debit to a reservation to a delivery.
type Order struct {
	ID             int64     `db:"id" json:"id"`
	OrderNumber    string    `db:"order_number" json:"order_number"`
	UserID         int64     `db:"user_id" json:"user_id"`
	UnitType       string    `db:"unit_type" json:"unit_type"`
	Quantity       int       `db:"quantity" json:"quantity"`
	TotalPrice     int64     `db:"total_price" json:"total_price"`
	Status         string    `db:"status" json:"status"`
	DeliveryStatus string    `db:"delivery_status" json:"delivery_status,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// Delivery records one hand-off attempt for an order.
type Delivery struct {
	ID          int64     `db:"id" json:"id"`
	OrderNumber string    `db:"order_number" json:"order_number"`
	UserID      int64     `db:"user_id" json:"user_id"`
	Method      string    `db:"method" json:"method"`
	Status      string    `db:"status" json:"status"`
	Attempt     int       `db:"attempt" json:"attempt"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// BalanceAudit is the observability trail for every balance mutation.
type BalanceAudit struct {
	ID         int64     `db:"id" json:"id"`
	UserID     int64     `db:"user_id" json:"user_id"`
	Delta      int64     `db:"delta" json:"delta"`
	OldBalance int64     `db:"old_balance" json:"old_balance"`
	NewBalance int64     `db:"new_balance" json:"new_balance"`
	Reason     string    `db:"reason" json:"reason"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Topup statuses
const (
	TopupStatusPending = "pending"
	TopupStatusSuccess = "success"
	TopupStatusFailed  = "failed"
	TopupStatusExpired = "expired"
)

// Stock unit states
const (
	StockStateAvailable = "available"
	StockStateReserved  = "reserved"
	StockStateUsed      = "used"
)

// Order statuses
const (
	OrderStatusPending       = "pending"
	OrderStatusPaid          = "paid"
	OrderStatusStockReserved = "stock_reserved"
	OrderStatusDelivered     = "delivered"
	OrderStatusCompleted     = "completed"
	OrderStatusCancelled     = "cancelled"
	OrderStatusFailed        = "failed"
)

// Delivery statuses
const (
	DeliveryStatusPending   = "pending"
	DeliveryStatusHandedOff = "handed_off"
	DeliveryStatusFailed    = "failed"
)

// OrderTerminal reports whether a status is terminal. Terminal orders are
// never advanced or compensated again.
func OrderTerminal(status string) bool {
	switch status {
	case OrderStatusCompleted, OrderStatusCancelled, OrderStatusFailed:
		return true
	}
	return false
}

// TopupTerminal reports whether a topup status is terminal.
func TopupTerminal(status string) bool {
	switch status {
	case TopupStatusSuccess, TopupStatusFailed, TopupStatusExpired:
		return true
	}
	return false
}

// StockSummary aggregates stock counts for one code type.
type StockSummary struct {
	CodeType  string `db:"code_type" json:"code_type"`
	Total     int    `db:"total" json:"total"`
	Available int    `db:"available" json:"available"`
	Reserved  int    `db:"reserved" json:"reserved"`
	Used      int    `db:"used" json:"used"`
}
