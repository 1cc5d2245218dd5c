package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Variant is a purchasable SKU under a product. Stock changes only through
// the inventory ledger.
type Variant struct {
	ID              int64           `db:"id" json:"id"`
	ProductID       int64           `db:"product_id" json:"product_id"`
	SKU             string          `db:"sku" json:"sku"`
	Price           decimal.Decimal `db:"price" json:"price"`
	Stock           int             `db:"stock" json:"stock"`
	InitialStock    int             `db:"initial_stock" json:"initial_stock"`
	Active          bool            `db:"active" json:"active"`
	ProductName     string          `db:"product_name" json:"product_name"`
	DiscountPercent decimal.Decimal `db:"discount_percent" json:"discount_percent"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// Cart holds a user's pending selections
type Cart struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// CartItem is a variant and quantity inside a cart
type CartItem struct {
	ID        int64 `db:"id" json:"id"`
	CartID    int64 `db:"cart_id" json:"cart_id"`
	VariantID int64 `db:"variant_id" json:"variant_id"`
	Quantity  int   `db:"quantity" json:"quantity"`
}

// Order is created atomically with its items. Total is a snapshot and is
// never recomputed from current prices.
type Order struct {
	ID        int64           `db:"id" json:"id"`
	UserID    int64           `db:"user_id" json:"user_id"`
	Total     decimal.Decimal `db:"total" json:"total"`
	Status    OrderStatus     `db:"status" json:"estado"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
	PaidAt    *time.Time      `db:"paid_at" json:"paid_at,omitempty"`
}

// OrderItem keeps the price snapshot taken at checkout
type OrderItem struct {
	ID              int64           `db:"id" json:"id"`
	OrderID         int64           `db:"order_id" json:"order_id"`
	VariantID       int64           `db:"variant_id" json:"variant_id"`
	SKU             string          `db:"sku" json:"sku"`
	ProductName     string          `db:"product_name" json:"producto"`
	ListPrice       decimal.Decimal `db:"list_price" json:"list_price"`
	DiscountPercent decimal.Decimal `db:"discount_percent" json:"discount_percent"`
	UnitPrice       decimal.Decimal `db:"unit_price" json:"precio"`
	Quantity        int             `db:"quantity" json:"cantidad"`
}

// Payment is one settlement attempt for an order
type Payment struct {
	ID              int64           `db:"id" json:"id"`
	OrderID         int64           `db:"order_id" json:"order_id"`
	Status          PaymentStatus   `db:"status" json:"status"`
	Method          string          `db:"method" json:"method"`
	Amount          decimal.Decimal `db:"amount" json:"amount"`
	GatewayName     string          `db:"gateway_name" json:"gateway_name,omitempty"`
	GatewayTxID     string          `db:"gateway_tx_id" json:"gateway_tx_id,omitempty"`
	GatewayResponse string          `db:"gateway_response" json:"gateway_response,omitempty"`
	PaidAt          *time.Time      `db:"paid_at" json:"paid_at,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// StockMovement is an append-only ledger entry. Quantity is signed.
type StockMovement struct {
	ID        int64        `db:"id" json:"id"`
	VariantID int64        `db:"variant_id" json:"variant_id"`
	Type      MovementType `db:"type" json:"type"`
	Quantity  int          `db:"quantity" json:"quantity"`
	Reason    string       `db:"reason" json:"reason"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
}

// StockReservation holds stock between checkout and payment resolution
type StockReservation struct {
	ID        int64     `db:"id" json:"id"`
	OrderID   int64     `db:"order_id" json:"order_id"`
	VariantID int64     `db:"variant_id" json:"variant_id"`
	Quantity  int       `db:"quantity" json:"quantity"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// AuditLog records who did what to which row
type AuditLog struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	Action    string    `db:"action" json:"action"`
	TableName string    `db:"table_name" json:"table_name"`
	RecordID  int64     `db:"record_id" json:"record_id"`
	IP        string    `db:"ip" json:"ip,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Audit actions
const (
	AuditActionCheckout        = "checkout"
	AuditActionPurchase        = "purchase"
	AuditActionCancel          = "cancel"
	AuditActionRefund          = "refund"
	AuditActionStatusChange    = "status_change"
	AuditActionStockAdjustment = "stock_adjustment"
)

// CartLine is one priced row of a cart
type CartLine struct {
	ItemID          int64           `json:"id"`
	VariantID       int64           `json:"variant_id"`
	SKU             string          `json:"sku"`
	ProductName     string          `json:"producto"`
	Quantity        int             `json:"cantidad"`
	Stock           int             `json:"stock"`
	ListPrice       decimal.Decimal `json:"list_price"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	UnitPrice       decimal.Decimal `json:"precio"`
}

// CartTotals is the result of pricing a cart
type CartTotals struct {
	Subtotal   decimal.Decimal           `json:"subtotal"`
	UnitPrices map[int64]decimal.Decimal `json:"unit_prices"`
}

// CartView is a cart with its priced lines
type CartView struct {
	CartID   int64           `json:"cart_id"`
	UserID   int64           `json:"user_id"`
	Items    []CartLine      `json:"items"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

// OrderView is an order with its nested items
type OrderView struct {
	Order
	ItemsCount int         `json:"items_count"`
	Items      []OrderItem `json:"items"`
}

// OrderPage is one page of a user's orders
type OrderPage struct {
	Data        []OrderView `json:"data"`
	CurrentPage int         `json:"current_page"`
	PerPage     int         `json:"per_page"`
	Total       int         `json:"total"`
	LastPage    int         `json:"last_page"`
}

// LedgerReconciliation compares a variant's stock with its movement log
type LedgerReconciliation struct {
	VariantID    int64  `json:"variant_id"`
	SKU          string `json:"sku"`
	Stock        int    `json:"stock"`
	InitialStock int    `json:"initial_stock"`
	MovementSum  int    `json:"movement_sum"`
	Consistent   bool   `json:"consistent"`
}
