package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"storefront/internal/models"
	"storefront/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckoutCreatesOrderAndReservations(t *testing.T) {
	f := newFixture(t)
	shirt := f.seed("TSHIRT-M", "19.99", 10, 5)
	mug := f.seed("MUG", "8.00", 0, 3)
	ctx := context.Background()

	_, err := f.carts.AddItem(ctx, customer, shirt.ID, 2)
	require.NoError(t, err)
	_, err = f.carts.AddItem(ctx, customer, mug.ID, 1)
	require.NoError(t, err)

	view, err := f.checkout.Checkout(ctx, customer, "")
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusPending, view.Status)
	assert.Equal(t, 2, view.ItemsCount)
	// 17.991 * 2 + 8 = 43.982
	assert.Equal(t, "43.98", view.Total.StringFixed(2))
	assert.True(t, d("17.991").Equal(view.Items[0].UnitPrice))
	assert.True(t, d("19.99").Equal(view.Items[0].ListPrice))

	holds := f.reservations(t, view.ID)
	require.Len(t, holds, 2)
	assert.Equal(t, 2, holds[0].Quantity)

	// raw stock is untouched until payment
	assert.Equal(t, 5, f.variant(t, shirt.ID).Stock)
	assert.Empty(t, f.movements(t, shirt.ID))

	cart, err := f.carts.GetCart(ctx, customer)
	require.NoError(t, err)
	assert.Empty(t, cart.Items)

	assert.Contains(t, f.pub.types(), models.EventTypeOrderCreated)

	logs := f.repo.AuditLogs()
	require.NotEmpty(t, logs)
	assert.Equal(t, models.AuditActionCheckout, logs[len(logs)-1].Action)
}

func TestCheckoutEmptyCart(t *testing.T) {
	f := newFixture(t)

	_, err := f.checkout.Checkout(context.Background(), customer, "")
	assert.ErrorIs(t, err, ErrEmptyCart)
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestCheckoutInsufficientStockIsAtomic(t *testing.T) {
	f := newFixture(t)
	ok := f.seed("OK", "1.00", 0, 10)
	scarce := f.seed("SCARCE", "1.00", 0, 3)
	ctx := context.Background()

	_, err := f.carts.AddItem(ctx, customer, ok.ID, 2)
	require.NoError(t, err)
	_, err = f.carts.AddItem(ctx, customer, scarce.ID, 3)
	require.NoError(t, err)

	// stock drops after the item was added to the cart
	_, err = f.inventory.Adjust(ctx, operator, scarce.ID, models.MovementAdjustment, -2, "damaged")
	require.NoError(t, err)

	_, err = f.checkout.Checkout(ctx, customer, "")
	var insufficient *InsufficientStockError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, "SCARCE", insufficient.SKU)
	assert.Equal(t, 1, insufficient.Available)

	page, err := f.orders.List(ctx, customer, "", 1)
	require.NoError(t, err)
	assert.Zero(t, page.Total)

	cart, err := f.carts.GetCart(ctx, customer)
	require.NoError(t, err)
	assert.Len(t, cart.Items, 2)
	assert.Equal(t, 10, f.variant(t, ok.ID).Stock)
}

func TestCheckoutCountsExistingReservations(t *testing.T) {
	f := newFixture(t)
	v := f.seed("LIMITED", "10.00", 0, 5)
	ctx := context.Background()

	f.placeOrder(t, customer, v.ID, 3)

	_, err := f.carts.AddItem(ctx, otherCustomer, v.ID, 3)
	require.NoError(t, err)
	_, err = f.checkout.Checkout(ctx, otherCustomer, "")

	var insufficient *InsufficientStockError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, 2, insufficient.Available)
}

func TestConcurrentCheckoutsDoNotOversell(t *testing.T) {
	f := newFixture(t)
	v := f.seed("LIMITED", "10.00", 0, 5)
	ctx := context.Background()

	buyers := []models.Actor{customer, otherCustomer}
	for _, b := range buyers {
		_, err := f.carts.AddItem(ctx, b, v.ID, 3)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	results := make([]*models.OrderView, len(buyers))
	errs := make([]error, len(buyers))
	for i, b := range buyers {
		wg.Add(1)
		go func(i int, b models.Actor) {
			defer wg.Done()
			results[i], errs[i] = f.checkout.Checkout(ctx, b, "")
		}(i, b)
	}
	wg.Wait()

	var winner *models.OrderView
	failures := 0
	for i := range buyers {
		if errs[i] == nil {
			winner = results[i]
			continue
		}
		var insufficient *InsufficientStockError
		assert.True(t, errors.As(errs[i], &insufficient))
		failures++
	}
	require.NotNil(t, winner)
	assert.Equal(t, 1, failures)

	payment, err := f.settlement.CreatePayment(ctx, operator, winner.ID, "card")
	require.NoError(t, err)
	_, err = f.settlement.Confirm(ctx, operator, payment.ID, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, f.variant(t, v.ID).Stock)
}

func TestCheckoutIdempotencyKeyReplaysOrder(t *testing.T) {
	f := newFixture(t)
	v := f.seed("MUG", "8.00", 0, 5)
	ctx := context.Background()

	_, err := f.carts.AddItem(ctx, customer, v.ID, 1)
	require.NoError(t, err)

	first, err := f.checkout.Checkout(ctx, customer, "key-1")
	require.NoError(t, err)
	second, err := f.checkout.Checkout(ctx, customer, "key-1")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	page, err := f.orders.List(ctx, customer, "", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
}

func TestCheckoutFailureReleasesIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	v := f.seed("MUG", "8.00", 0, 5)
	ctx := context.Background()

	_, err := f.checkout.Checkout(ctx, customer, "key-2")
	require.ErrorIs(t, err, ErrEmptyCart)

	_, err = f.carts.AddItem(ctx, customer, v.ID, 1)
	require.NoError(t, err)
	view, err := f.checkout.Checkout(ctx, customer, "key-2")
	require.NoError(t, err)
	assert.NotZero(t, view.ID)
}

func TestCheckoutClaimExpiresSoonerThanReplay(t *testing.T) {
	f := newFixture(t)
	v := f.seed("MUG", "8.00", 0, 5)
	ctx := context.Background()

	idem := newFakeIdempotency()
	checkout := NewCheckoutService(f.repo, idem, f.pub, 30*time.Minute, 24*time.Hour)

	_, err := f.carts.AddItem(ctx, customer, v.ID, 1)
	require.NoError(t, err)
	view, err := checkout.Checkout(ctx, customer, "key-3")
	require.NoError(t, err)

	key := "checkout:" + itoa(customer.UserID) + ":key-3"
	assert.Equal(t, []time.Duration{checkoutClaimTTL, 24 * time.Hour}, idem.ttls[key])
	assert.Equal(t, view.ID, idem.orders[key])

	short := NewCheckoutService(f.repo, newFakeIdempotency(), f.pub, 30*time.Minute, time.Minute)
	assert.Equal(t, time.Minute, short.claimTTL)
}

func TestDiscountChangeDoesNotAlterExistingOrder(t *testing.T) {
	f := newFixture(t)
	v := f.seed("TSHIRT-M", "19.99", 10, 5)
	ctx := context.Background()

	placed := f.placeOrder(t, customer, v.ID, 2)

	f.repo.SetProductDiscount(v.ProductID, decimal.NewFromInt(50))

	got, err := f.orders.Get(ctx, customer, placed.ID)
	require.NoError(t, err)
	assert.True(t, placed.Total.Equal(got.Total))
	assert.True(t, d("17.991").Equal(got.Items[0].UnitPrice))

	var sum decimal.Decimal
	for _, it := range got.Items {
		sum = sum.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	assert.True(t, sum.Round(2).Equal(got.Total))

	f.read(t, func(tx store.Tx) {
		items, err := tx.ListOrderItems(ctx, placed.ID)
		require.NoError(t, err)
		assert.True(t, d("10").Equal(items[0].DiscountPercent))
	})
}
