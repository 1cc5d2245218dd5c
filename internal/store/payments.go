package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront/internal/models"
)

const paymentColumns = `id, order_id, status, method, amount, gateway_name, gateway_tx_id, gateway_response,
	paid_at, created_at, updated_at`

// CreatePayment creates a new payment record
func (t *pgTx) CreatePayment(ctx context.Context, payment *models.Payment) error {
	query := `
		INSERT INTO payments (order_id, status, method, amount, gateway_name, gateway_tx_id, gateway_response)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`

	return t.tx.QueryRowxContext(ctx, query,
		payment.OrderID, payment.Status, payment.Method, payment.Amount,
		payment.GatewayName, payment.GatewayTxID, payment.GatewayResponse).
		Scan(&payment.ID, &payment.CreatedAt, &payment.UpdatedAt)
}

// GetPayment retrieves a payment by ID
func (t *pgTx) GetPayment(ctx context.Context, id int64) (*models.Payment, error) {
	return t.getPayment(ctx, "SELECT "+paymentColumns+" FROM payments WHERE id = $1", id)
}

// LockPayment retrieves a payment by ID and locks its row
func (t *pgTx) LockPayment(ctx context.Context, id int64) (*models.Payment, error) {
	return t.getPayment(ctx, "SELECT "+paymentColumns+" FROM payments WHERE id = $1 FOR UPDATE", id)
}

func (t *pgTx) getPayment(ctx context.Context, query string, id int64) (*models.Payment, error) {
	var payment models.Payment
	err := t.tx.GetContext(ctx, &payment, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("payment %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// ListPaymentsByOrder returns every attempt for an order, oldest first
func (t *pgTx) ListPaymentsByOrder(ctx context.Context, orderID int64) ([]models.Payment, error) {
	payments := []models.Payment{}
	err := t.tx.SelectContext(ctx, &payments,
		"SELECT "+paymentColumns+" FROM payments WHERE order_id = $1 ORDER BY id", orderID)
	return payments, err
}

// UpdatePayment writes the mutable settlement fields of a payment
func (t *pgTx) UpdatePayment(ctx context.Context, payment *models.Payment) error {
	query := `
		UPDATE payments
		SET status = $1, gateway_name = $2, gateway_tx_id = $3, gateway_response = $4, paid_at = $5, updated_at = NOW()
		WHERE id = $6
		RETURNING updated_at`

	err := t.tx.GetContext(ctx, &payment.UpdatedAt, query,
		payment.Status, payment.GatewayName, payment.GatewayTxID, payment.GatewayResponse, payment.PaidAt, payment.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("payment %d: %w", payment.ID, ErrNotFound)
	}
	return err
}
