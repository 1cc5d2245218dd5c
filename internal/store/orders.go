package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storefront/internal/models"

	"github.com/lib/pq"
)

const orderColumns = `id, user_id, total, status, created_at, updated_at, paid_at`

const orderItemColumns = `id, order_id, variant_id, sku, product_name, list_price, discount_percent, unit_price, quantity`

// CreateOrder creates a new order
func (t *pgTx) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (user_id, total, status)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at`

	return t.tx.QueryRowxContext(ctx, query, order.UserID, order.Total, order.Status).
		Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
}

// CreateOrderItem stores one line with its price snapshot
func (t *pgTx) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	query := `
		INSERT INTO order_items (order_id, variant_id, sku, product_name, list_price, discount_percent, unit_price, quantity)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	return t.tx.GetContext(ctx, &item.ID, query,
		item.OrderID, item.VariantID, item.SKU, item.ProductName,
		item.ListPrice, item.DiscountPercent, item.UnitPrice, item.Quantity)
}

// GetOrder retrieves an order by ID
func (t *pgTx) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	return t.getOrder(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
}

// LockOrder retrieves an order by ID and locks its row
func (t *pgTx) LockOrder(ctx context.Context, id int64) (*models.Order, error) {
	return t.getOrder(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1 FOR UPDATE", id)
}

func (t *pgTx) getOrder(ctx context.Context, query string, id int64) (*models.Order, error) {
	var order models.Order
	err := t.tx.GetContext(ctx, &order, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateOrderStatus updates order status. A nil paidAt leaves paid_at untouched.
func (t *pgTx) UpdateOrderStatus(ctx context.Context, id int64, status models.OrderStatus, paidAt *time.Time) error {
	res, err := t.tx.ExecContext(ctx,
		"UPDATE orders SET status = $1, paid_at = COALESCE($2, paid_at), updated_at = NOW() WHERE id = $3",
		status, paidAt, id)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	return nil
}

// ListOrderItems retrieves the items of one or more orders
func (t *pgTx) ListOrderItems(ctx context.Context, orderIDs ...int64) ([]models.OrderItem, error) {
	items := []models.OrderItem{}
	if len(orderIDs) == 0 {
		return items, nil
	}
	err := t.tx.SelectContext(ctx, &items,
		"SELECT "+orderItemColumns+" FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, id",
		pq.Array(orderIDs))
	return items, err
}

// ListOrdersByUser returns one page of a user's orders, newest first, and the total count
func (t *pgTx) ListOrdersByUser(ctx context.Context, userID int64, status models.OrderStatus, limit, offset int) ([]models.Order, int, error) {
	where := "WHERE user_id = $1"
	args := []interface{}{userID}
	if status != "" {
		where += " AND status = $2"
		args = append(args, status)
	}

	var total int
	if err := t.tx.GetContext(ctx, &total, "SELECT COUNT(*) FROM orders "+where, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count orders: %w", err)
	}

	query := fmt.Sprintf("SELECT %s FROM orders %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d",
		orderColumns, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	orders := []models.Order{}
	if err := t.tx.SelectContext(ctx, &orders, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, total, nil
}
