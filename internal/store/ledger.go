package store

import (
	"context"
	"fmt"
	"time"

	"storefront/internal/models"

	"github.com/lib/pq"
)

// InsertStockMovement appends a ledger entry
func (t *pgTx) InsertStockMovement(ctx context.Context, movement *models.StockMovement) error {
	query := `
		INSERT INTO stock_movements (variant_id, type, quantity, reason)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	return t.tx.QueryRowxContext(ctx, query,
		movement.VariantID, movement.Type, movement.Quantity, movement.Reason).
		Scan(&movement.ID, &movement.CreatedAt)
}

// ListStockMovements returns the ledger of a variant, newest first
func (t *pgTx) ListStockMovements(ctx context.Context, variantID int64) ([]models.StockMovement, error) {
	movements := []models.StockMovement{}
	err := t.tx.SelectContext(ctx, &movements,
		`SELECT id, variant_id, type, quantity, reason, created_at
		FROM stock_movements WHERE variant_id = $1 ORDER BY id DESC`, variantID)
	return movements, err
}

// SumStockMovements returns the signed sum of a variant's ledger
func (t *pgTx) SumStockMovements(ctx context.Context, variantID int64) (int, error) {
	var sum int
	err := t.tx.GetContext(ctx, &sum,
		"SELECT COALESCE(SUM(quantity), 0) FROM stock_movements WHERE variant_id = $1", variantID)
	return sum, err
}

// CreateReservation holds stock for a pending order
func (t *pgTx) CreateReservation(ctx context.Context, reservation *models.StockReservation) error {
	query := `
		INSERT INTO stock_reservations (order_id, variant_id, quantity, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	return t.tx.QueryRowxContext(ctx, query,
		reservation.OrderID, reservation.VariantID, reservation.Quantity, reservation.ExpiresAt).
		Scan(&reservation.ID, &reservation.CreatedAt)
}

// ReservedQuantities sums live holds per variant. Expired holds still count
// until the sweeper releases them.
func (t *pgTx) ReservedQuantities(ctx context.Context, variantIDs []int64) (map[int64]int, error) {
	out := make(map[int64]int, len(variantIDs))
	if len(variantIDs) == 0 {
		return out, nil
	}

	var rows []struct {
		VariantID int64 `db:"variant_id"`
		Quantity  int   `db:"quantity"`
	}
	err := t.tx.SelectContext(ctx, &rows,
		`SELECT variant_id, SUM(quantity) AS quantity
		FROM stock_reservations WHERE variant_id = ANY($1)
		GROUP BY variant_id`, pq.Array(variantIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to sum reservations: %w", err)
	}

	for _, r := range rows {
		out[r.VariantID] = r.Quantity
	}
	return out, nil
}

// ListReservations returns the holds of an order
func (t *pgTx) ListReservations(ctx context.Context, orderID int64) ([]models.StockReservation, error) {
	reservations := []models.StockReservation{}
	err := t.tx.SelectContext(ctx, &reservations,
		`SELECT id, order_id, variant_id, quantity, expires_at, created_at
		FROM stock_reservations WHERE order_id = $1 ORDER BY variant_id`, orderID)
	return reservations, err
}

// DeleteReservations releases every hold of an order
func (t *pgTx) DeleteReservations(ctx context.Context, orderID int64) (int, error) {
	res, err := t.tx.ExecContext(ctx, "DELETE FROM stock_reservations WHERE order_id = $1", orderID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete reservations: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ListExpiredReservationOrders returns orders holding at least one expired reservation
func (t *pgTx) ListExpiredReservationOrders(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	ids := []int64{}
	err := t.tx.SelectContext(ctx, &ids,
		`SELECT DISTINCT order_id FROM stock_reservations
		WHERE expires_at <= $1 ORDER BY order_id LIMIT $2`, now, limit)
	return ids, err
}
