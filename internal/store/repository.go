package store

import (
	"context"
	"errors"
	"time"

	"storefront/internal/models"
)

var (
	// ErrNotFound is returned when a row does not exist
	ErrNotFound = errors.New("not found")
	// ErrNegativeStock is returned when a stock change would drive a variant below zero
	ErrNegativeStock = errors.New("stock cannot go below zero")
)

// Repository runs units of work against the persistent state
type Repository interface {
	// WithTx runs fn inside one transaction. Any error returned by fn rolls
	// back every write made through tx.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}

// Tx is the set of reads and writes available inside a transaction.
// Lock* methods take row locks held until the transaction ends.
type Tx interface {
	GetVariant(ctx context.Context, id int64) (*models.Variant, error)
	// LockVariants locks the given variant rows in ascending id order.
	// Unknown ids are absent from the result.
	LockVariants(ctx context.Context, ids []int64) (map[int64]*models.Variant, error)
	// AdjustVariantStock applies delta and returns the new stock level.
	AdjustVariantStock(ctx context.Context, variantID int64, delta int) (int, error)

	GetCartByUser(ctx context.Context, userID int64) (*models.Cart, error)
	CreateCart(ctx context.Context, userID int64) (*models.Cart, error)
	ListCartItems(ctx context.Context, cartID int64) ([]models.CartItem, error)
	GetCartItem(ctx context.Context, itemID int64) (*models.CartItem, error)
	FindCartItem(ctx context.Context, cartID, variantID int64) (*models.CartItem, error)
	InsertCartItem(ctx context.Context, item *models.CartItem) error
	UpdateCartItemQuantity(ctx context.Context, itemID int64, quantity int) error
	DeleteCartItem(ctx context.Context, itemID int64) error
	ClearCart(ctx context.Context, cartID int64) error

	CreateOrder(ctx context.Context, order *models.Order) error
	CreateOrderItem(ctx context.Context, item *models.OrderItem) error
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	LockOrder(ctx context.Context, id int64) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, id int64, status models.OrderStatus, paidAt *time.Time) error
	ListOrderItems(ctx context.Context, orderIDs ...int64) ([]models.OrderItem, error)
	ListOrdersByUser(ctx context.Context, userID int64, status models.OrderStatus, limit, offset int) ([]models.Order, int, error)

	CreatePayment(ctx context.Context, payment *models.Payment) error
	GetPayment(ctx context.Context, id int64) (*models.Payment, error)
	LockPayment(ctx context.Context, id int64) (*models.Payment, error)
	ListPaymentsByOrder(ctx context.Context, orderID int64) ([]models.Payment, error)
	UpdatePayment(ctx context.Context, payment *models.Payment) error

	InsertStockMovement(ctx context.Context, movement *models.StockMovement) error
	ListStockMovements(ctx context.Context, variantID int64) ([]models.StockMovement, error)
	SumStockMovements(ctx context.Context, variantID int64) (int, error)

	CreateReservation(ctx context.Context, reservation *models.StockReservation) error
	ReservedQuantities(ctx context.Context, variantIDs []int64) (map[int64]int, error)
	ListReservations(ctx context.Context, orderID int64) ([]models.StockReservation, error)
	DeleteReservations(ctx context.Context, orderID int64) (int, error)
	ListExpiredReservationOrders(ctx context.Context, now time.Time, limit int) ([]int64, error)

	InsertAuditLog(ctx context.Context, entry *models.AuditLog) error
}
