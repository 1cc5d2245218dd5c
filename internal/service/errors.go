package service

import (
	"errors"
	"fmt"

	"storefront/internal/store"
)

var (
	ErrEmptyCart                = errors.New("cart is empty")
	ErrInvalidQuantity          = errors.New("invalid quantity")
	ErrVariantUnavailable       = errors.New("variant is not available")
	ErrAlreadyProcessed         = errors.New("payment already processed")
	ErrOrderNotPending          = errors.New("order is not pending")
	ErrInvalidTransition        = errors.New("invalid status transition")
	ErrForbidden                = errors.New("forbidden")
	ErrPaymentDeclined          = errors.New("payment declined")
	ErrUnsupportedPaymentMethod = errors.New("unsupported payment method")
	ErrPaymentInProgress        = errors.New("payment confirmation already in progress")
	ErrCheckoutInProgress       = errors.New("checkout with this idempotency key already in progress")
	ErrInvalidAdjustment        = errors.New("invalid stock adjustment")
	ErrInvalidStatus            = errors.New("invalid order status")
	ErrInvalidPage              = errors.New("invalid page")
)

// InsufficientStockError is returned by checkout when a cart line asks for
// more than is available
type InsufficientStockError struct {
	SKU       string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.SKU, e.Requested, e.Available)
}

// StockInconsistencyError means stock vanished between reservation and
// settlement. It needs manual reconciliation.
type StockInconsistencyError struct {
	OrderID   int64
	SKU       string
	Required  int
	Available int
}

func (e *StockInconsistencyError) Error() string {
	return fmt.Sprintf("stock inconsistency on order %d: %s requires %d, only %d in stock",
		e.OrderID, e.SKU, e.Required, e.Available)
}

// Kind classifies errors for transport mapping
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindStateConflict
	KindNotFound
	KindForbidden
	KindStockInconsistency
	KindGateway
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_error"
	case KindStateConflict:
		return "state_conflict"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindStockInconsistency:
		return "stock_inconsistency"
	case KindGateway:
		return "payment_failed"
	}
	return "internal_error"
}

// KindOf classifies err
func KindOf(err error) Kind {
	var insufficient *InsufficientStockError
	var inconsistent *StockInconsistencyError

	switch {
	case err == nil:
		return KindInternal
	case errors.As(err, &inconsistent):
		return KindStockInconsistency
	case errors.As(err, &insufficient),
		errors.Is(err, ErrEmptyCart),
		errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrVariantUnavailable),
		errors.Is(err, ErrUnsupportedPaymentMethod),
		errors.Is(err, ErrInvalidAdjustment),
		errors.Is(err, ErrInvalidStatus),
		errors.Is(err, ErrInvalidPage),
		errors.Is(err, store.ErrNegativeStock):
		return KindValidation
	case errors.Is(err, ErrAlreadyProcessed),
		errors.Is(err, ErrOrderNotPending),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrPaymentInProgress),
		errors.Is(err, ErrCheckoutInProgress):
		return KindStateConflict
	case errors.Is(err, store.ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrPaymentDeclined):
		return KindGateway
	}
	return KindInternal
}
