package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"storefront/internal/models"
	"storefront/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithTxRollsBackOnError(t *testing.T) {
	s := New()
	v := s.SeedVariant("Mug", "MUG-1", decimal.NewFromInt(10), decimal.Zero, 5)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx store.Tx) error {
		_, err := tx.AdjustVariantStock(ctx, v.ID, -3)
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_ = s.WithTx(ctx, func(tx store.Tx) error {
		got, err := tx.GetVariant(ctx, v.ID)
		require.NoError(t, err)
		assert.Equal(t, 5, got.Stock)
		return nil
	})
}

func TestAdjustVariantStockRefusesNegative(t *testing.T) {
	s := New()
	v := s.SeedVariant("Mug", "MUG-1", decimal.NewFromInt(10), decimal.Zero, 2)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx store.Tx) error {
		_, err := tx.AdjustVariantStock(ctx, v.ID, -3)
		return err
	})
	assert.ErrorIs(t, err, store.ErrNegativeStock)

	err = s.WithTx(ctx, func(tx store.Tx) error {
		_, err := tx.AdjustVariantStock(ctx, 999, 1)
		return err
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestVariantJoinsProductDiscount(t *testing.T) {
	s := New()
	v := s.SeedVariant("Mug", "MUG-1", decimal.NewFromInt(10), decimal.NewFromInt(15), 2)
	s.SetProductDiscount(v.ProductID, decimal.NewFromInt(40))
	ctx := context.Background()

	_ = s.WithTx(ctx, func(tx store.Tx) error {
		locked, err := tx.LockVariants(ctx, []int64{v.ID, 42})
		require.NoError(t, err)
		require.Len(t, locked, 1)
		assert.True(t, locked[v.ID].DiscountPercent.Equal(decimal.NewFromInt(40)))
		assert.Equal(t, "Mug", locked[v.ID].ProductName)
		return nil
	})
}

func TestOnlyOneCompletedPaymentPerOrder(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx store.Tx) error {
		order := &models.Order{UserID: 1, Total: decimal.NewFromInt(10), Status: models.OrderStatusPending}
		require.NoError(t, tx.CreateOrder(ctx, order))

		first := &models.Payment{OrderID: order.ID, Status: models.PaymentStatusPending, Method: "manual"}
		second := &models.Payment{OrderID: order.ID, Status: models.PaymentStatusPending, Method: "manual"}
		require.NoError(t, tx.CreatePayment(ctx, first))
		require.NoError(t, tx.CreatePayment(ctx, second))

		first.Status = models.PaymentStatusCompleted
		require.NoError(t, tx.UpdatePayment(ctx, first))

		second.Status = models.PaymentStatusCompleted
		return tx.UpdatePayment(ctx, second)
	})
	assert.Error(t, err)
}

func TestReservationsAndExpiry(t *testing.T) {
	s := New()
	v := s.SeedVariant("Mug", "MUG-1", decimal.NewFromInt(10), decimal.Zero, 10)
	ctx := context.Background()
	now := time.Now()

	var expiredOrder int64
	err := s.WithTx(ctx, func(tx store.Tx) error {
		for i, exp := range []time.Time{now.Add(-time.Minute), now.Add(time.Hour)} {
			order := &models.Order{UserID: 1, Status: models.OrderStatusPending}
			require.NoError(t, tx.CreateOrder(ctx, order))
			require.NoError(t, tx.CreateReservation(ctx, &models.StockReservation{
				OrderID: order.ID, VariantID: v.ID, Quantity: 2, ExpiresAt: exp,
			}))
			if i == 0 {
				expiredOrder = order.ID
			}
		}
		return nil
	})
	require.NoError(t, err)

	_ = s.WithTx(ctx, func(tx store.Tx) error {
		reserved, err := tx.ReservedQuantities(ctx, []int64{v.ID})
		require.NoError(t, err)
		assert.Equal(t, 4, reserved[v.ID])

		ids, err := tx.ListExpiredReservationOrders(ctx, now, 10)
		require.NoError(t, err)
		assert.Equal(t, []int64{expiredOrder}, ids)

		n, err := tx.DeleteReservations(ctx, expiredOrder)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		return nil
	})
}

func TestListOrdersByUserPaginates(t *testing.T) {
	s := New()
	ctx := context.Background()

	_ = s.WithTx(ctx, func(tx store.Tx) error {
		for i := 0; i < 3; i++ {
			require.NoError(t, tx.CreateOrder(ctx, &models.Order{UserID: 7, Status: models.OrderStatusPending}))
		}
		require.NoError(t, tx.CreateOrder(ctx, &models.Order{UserID: 8, Status: models.OrderStatusPending}))
		return nil
	})

	_ = s.WithTx(ctx, func(tx store.Tx) error {
		page, total, err := tx.ListOrdersByUser(ctx, 7, "", 2, 0)
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		require.Len(t, page, 2)
		assert.Greater(t, page[0].ID, page[1].ID)

		page, _, err = tx.ListOrdersByUser(ctx, 7, "", 2, 2)
		require.NoError(t, err)
		assert.Len(t, page, 1)

		page, total, err = tx.ListOrdersByUser(ctx, 7, models.OrderStatusPaid, 2, 0)
		require.NoError(t, err)
		assert.Zero(t, total)
		assert.Empty(t, page)
		return nil
	})
}
