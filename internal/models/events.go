package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderCreated       = "ORDER_CREATED"
	EventTypeOrderPaid          = "ORDER_PAID"
	EventTypeOrderCancelled     = "ORDER_CANCELLED"
	EventTypeOrderRefunded      = "ORDER_REFUNDED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
	EventTypePaymentFailed      = "PAYMENT_FAILED"
	EventTypeRefundRequired     = "PAYMENT_REFUND_REQUIRED"
	EventTypeStockInconsistency = "STOCK_INCONSISTENCY"
	EventTypePaymentCallback    = "PAYMENT_CALLBACK"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published after checkout commits
type OrderCreatedEvent struct {
	BaseEvent
	OrderID   int64           `json:"order_id"`
	UserID    int64           `json:"user_id"`
	Total     decimal.Decimal `json:"total"`
	Items     []OrderItemData `json:"items"`
	ExpiresAt time.Time       `json:"reservation_expires_at"`
}

// OrderPaidEvent published after settlement commits
type OrderPaidEvent struct {
	BaseEvent
	OrderID   int64           `json:"order_id"`
	UserID    int64           `json:"user_id"`
	PaymentID int64           `json:"payment_id"`
	Amount    decimal.Decimal `json:"amount"`
	Gateway   string          `json:"gateway"`
	TxID      string          `json:"tx_id"`
}

// PaymentFailedEvent published when the verifier rejects a payment
type PaymentFailedEvent struct {
	BaseEvent
	OrderID   int64  `json:"order_id"`
	PaymentID int64  `json:"payment_id"`
	Reason    string `json:"reason"`
}

// OrderCancelledEvent published when an order is cancelled or refunded
type OrderCancelledEvent struct {
	BaseEvent
	OrderID       int64       `json:"order_id"`
	UserID        int64       `json:"user_id"`
	Status        OrderStatus `json:"status"`
	Reason        string      `json:"reason"`
	StockRestored bool        `json:"stock_restored"`
}

// OrderStatusChangedEvent published on forward fulfilment transitions
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID int64       `json:"order_id"`
	From    OrderStatus `json:"from"`
	To      OrderStatus `json:"to"`
}

// StockInconsistencyEvent flags a settlement that needs manual reconciliation
type StockInconsistencyEvent struct {
	BaseEvent
	OrderID   int64  `json:"order_id"`
	PaymentID int64  `json:"payment_id"`
	SKU       string `json:"sku"`
	Required  int    `json:"required"`
	Available int    `json:"available"`
}

// RefundRequiredEvent flags money captured by a gateway for a payment that
// could not be settled
type RefundRequiredEvent struct {
	BaseEvent
	OrderID   int64           `json:"order_id"`
	PaymentID int64           `json:"payment_id"`
	Amount    decimal.Decimal `json:"amount"`
	Gateway   string          `json:"gateway"`
	TxID      string          `json:"tx_id"`
	Reason    string          `json:"reason"`
}

// PaymentCallbackEvent is consumed from the gateway callback topic
type PaymentCallbackEvent struct {
	BaseEvent
	PaymentID      int64             `json:"payment_id"`
	GatewayContext map[string]string `json:"gateway_context"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	VariantID int64           `json:"variant_id"`
	SKU       string          `json:"sku"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// NewBaseEvent stamps an event header
func NewBaseEvent(eventID, eventType string) BaseEvent {
	return BaseEvent{EventID: eventID, EventType: eventType, Timestamp: time.Now().UTC()}
}
