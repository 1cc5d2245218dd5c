package models

// OrderStatus is the lifecycle state of an order
type OrderStatus string

// Order statuses
const (
	OrderStatusPending   OrderStatus = "Pending"
	OrderStatusPaid      OrderStatus = "Paid"
	OrderStatusPreparing OrderStatus = "Preparing"
	OrderStatusShipped   OrderStatus = "Shipped"
	OrderStatusDelivered OrderStatus = "Delivered"
	OrderStatusCancelled OrderStatus = "Cancelled"
	OrderStatusRefunded  OrderStatus = "Refunded"
)

// PaymentStatus is the state of a payment attempt. Completed and Failed are terminal.
type PaymentStatus string

// Payment statuses
const (
	PaymentStatusPending   PaymentStatus = "Pending"
	PaymentStatusCompleted PaymentStatus = "Completed"
	PaymentStatusFailed    PaymentStatus = "Failed"
)

// MovementType classifies a stock movement
type MovementType string

// Movement types
const (
	MovementInbound    MovementType = "Inbound"
	MovementOutbound   MovementType = "Outbound"
	MovementAdjustment MovementType = "Adjustment"
)

var validNext = map[OrderStatus]map[OrderStatus]bool{
	OrderStatusPending:   {OrderStatusPaid: true, OrderStatusCancelled: true},
	OrderStatusPaid:      {OrderStatusPreparing: true, OrderStatusCancelled: true, OrderStatusRefunded: true},
	OrderStatusPreparing: {OrderStatusShipped: true, OrderStatusCancelled: true, OrderStatusRefunded: true},
	OrderStatusShipped:   {OrderStatusDelivered: true, OrderStatusCancelled: true, OrderStatusRefunded: true},
	OrderStatusDelivered: {},
	OrderStatusCancelled: {},
	OrderStatusRefunded:  {},
}

// CanTransition reports whether an order may move from one status to another
func CanTransition(from, to OrderStatus) bool {
	return validNext[from][to]
}

// Valid reports whether s is a known order status
func (s OrderStatus) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// HoldsDeductedStock reports whether stock for this order has already left
// the ledger, so cancelling it must put the stock back.
func (s OrderStatus) HoldsDeductedStock() bool {
	switch s {
	case OrderStatusPaid, OrderStatusPreparing, OrderStatusShipped:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible
func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusFailed
}
