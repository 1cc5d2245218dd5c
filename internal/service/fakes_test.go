package service

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"storefront/internal/gateway"
	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/store/memstore"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var (
	customer      = models.Actor{UserID: 1, Roles: []string{models.RoleCustomer}, IP: "10.0.0.1"}
	otherCustomer = models.Actor{UserID: 2, Roles: []string{models.RoleCustomer}, IP: "10.0.0.2"}
	operator      = models.Actor{UserID: 99, Roles: []string{models.RoleAdmin}, IP: "10.0.0.9"}
)

type recordingPublisher struct {
	mu      sync.Mutex
	events  []string
	refunds []models.RefundRequiredEvent
}

func (p *recordingPublisher) record(eventType string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

func (p *recordingPublisher) PublishOrderCreated(_ context.Context, e *models.OrderCreatedEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) PublishOrderPaid(_ context.Context, e *models.OrderPaidEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) PublishPaymentFailed(_ context.Context, e *models.PaymentFailedEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) PublishOrderCancelled(_ context.Context, e *models.OrderCancelledEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) PublishOrderStatusChanged(_ context.Context, e *models.OrderStatusChangedEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) PublishStockInconsistency(_ context.Context, e *models.StockInconsistencyEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) PublishRefundRequired(_ context.Context, e *models.RefundRequiredEvent) error {
	p.mu.Lock()
	p.refunds = append(p.refunds, *e)
	p.mu.Unlock()
	return p.record(e.EventType)
}

func (p *recordingPublisher) refundRequests() []models.RefundRequiredEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.RefundRequiredEvent(nil), p.refunds...)
}

type fakeLocker struct {
	mu    sync.Mutex
	locks map[string]string
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{locks: map[string]string{}}
}

func (l *fakeLocker) AcquireLock(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, held := l.locks[key]; held {
		return "", false, nil
	}
	token := uuid.New().String()
	l.locks[key] = token
	return token, true, nil
}

func (l *fakeLocker) ReleaseLock(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locks[key] == token {
		delete(l.locks, key)
	}
	return nil
}

type fakeIdempotency struct {
	mu      sync.Mutex
	claimed map[string]bool
	orders  map[string]int64
	ttls    map[string][]time.Duration
}

func newFakeIdempotency() *fakeIdempotency {
	return &fakeIdempotency{claimed: map[string]bool{}, orders: map[string]int64{}, ttls: map[string][]time.Duration{}}
}

func (f *fakeIdempotency) ClaimIdempotencyKey(_ context.Context, key string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimed[key] {
		return false, nil
	}
	f.claimed[key] = true
	f.ttls[key] = append(f.ttls[key], ttl)
	return true, nil
}

func (f *fakeIdempotency) IdempotentOrder(_ context.Context, key string) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.orders[key]
	return id, ok, nil
}

func (f *fakeIdempotency) CompleteIdempotencyKey(_ context.Context, key string, orderID int64, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[key] = orderID
	f.ttls[key] = append(f.ttls[key], ttl)
	return nil
}

func (f *fakeIdempotency) ReleaseIdempotencyKey(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.claimed, key)
	return nil
}

type stubVerifier struct {
	mu      sync.Mutex
	outcome gateway.Outcome
	err     error
	delay   time.Duration
	calls   int

	// when set, Verify signals entered and waits for release
	entered chan struct{}
	release chan struct{}
}

func (v *stubVerifier) Name() string { return "card" }

func (v *stubVerifier) Verify(ctx context.Context, _ models.Payment, _ map[string]string) (gateway.Outcome, error) {
	v.mu.Lock()
	v.calls++
	out, err, delay := v.outcome, v.err, v.delay
	entered, release := v.entered, v.release
	v.mu.Unlock()

	if release != nil {
		entered <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
			return gateway.Outcome{}, ctx.Err()
		}
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return gateway.Outcome{}, ctx.Err()
		}
	}
	return out, err
}

func (v *stubVerifier) set(out gateway.Outcome, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.outcome, v.err = out, err
}

// hold makes the next calls block until the returned func is called
func (v *stubVerifier) hold() (entered <-chan struct{}, release func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.entered = make(chan struct{}, 1)
	v.release = make(chan struct{})
	return v.entered, func() { close(v.release) }
}

func (v *stubVerifier) callCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}

type fixture struct {
	repo       *memstore.Store
	pub        *recordingPublisher
	locker     *fakeLocker
	verifier   *stubVerifier
	carts      *CartService
	checkout   *CheckoutService
	settlement *SettlementService
	orders     *OrderService
	inventory  *InventoryService
	sweeper    *ReservationSweeper
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := memstore.New()
	pub := &recordingPublisher{}
	locker := newFakeLocker()
	verifier := &stubVerifier{outcome: gateway.Outcome{Success: true, Gateway: "card", TransactionID: "tx_1", RawResponse: `{"status":"approved"}`}}

	registry := gateway.NewRegistry()
	registry.Register("cash", gateway.ManualVerifier{})
	registry.Register("card", verifier)

	return &fixture{
		repo:       repo,
		pub:        pub,
		locker:     locker,
		verifier:   verifier,
		carts:      NewCartService(repo),
		checkout:   NewCheckoutService(repo, newFakeIdempotency(), pub, 30*time.Minute, 24*time.Hour),
		settlement: NewSettlementService(repo, registry, locker, pub, 200*time.Millisecond),
		orders:     NewOrderService(repo, pub, 10),
		inventory:  NewInventoryService(repo),
		sweeper:    NewReservationSweeper(repo, pub, 100),
	}
}

func (f *fixture) seed(sku string, price string, discount int64, stock int) models.Variant {
	return f.repo.SeedVariant("Product "+sku, sku, decimal.RequireFromString(price), decimal.NewFromInt(discount), stock)
}

// placeOrder fills the actor's cart and checks out
func (f *fixture) placeOrder(t *testing.T, actor models.Actor, variantID int64, qty int) *models.OrderView {
	t.Helper()
	ctx := context.Background()

	_, err := f.carts.AddItem(ctx, actor, variantID, qty)
	require.NoError(t, err)
	view, err := f.checkout.Checkout(ctx, actor, "")
	require.NoError(t, err)
	return view
}

func (f *fixture) read(t *testing.T, fn func(tx store.Tx)) {
	t.Helper()
	require.NoError(t, f.repo.WithTx(context.Background(), func(tx store.Tx) error {
		fn(tx)
		return nil
	}))
}

func (f *fixture) variant(t *testing.T, id int64) *models.Variant {
	t.Helper()
	var v *models.Variant
	f.read(t, func(tx store.Tx) {
		var err error
		v, err = tx.GetVariant(context.Background(), id)
		require.NoError(t, err)
	})
	return v
}

func (f *fixture) order(t *testing.T, id int64) *models.Order {
	t.Helper()
	var o *models.Order
	f.read(t, func(tx store.Tx) {
		var err error
		o, err = tx.GetOrder(context.Background(), id)
		require.NoError(t, err)
	})
	return o
}

func (f *fixture) payment(t *testing.T, id int64) *models.Payment {
	t.Helper()
	var p *models.Payment
	f.read(t, func(tx store.Tx) {
		var err error
		p, err = tx.GetPayment(context.Background(), id)
		require.NoError(t, err)
	})
	return p
}

func (f *fixture) reservations(t *testing.T, orderID int64) []models.StockReservation {
	t.Helper()
	var out []models.StockReservation
	f.read(t, func(tx store.Tx) {
		var err error
		out, err = tx.ListReservations(context.Background(), orderID)
		require.NoError(t, err)
	})
	return out
}

func (f *fixture) movements(t *testing.T, variantID int64) []models.StockMovement {
	t.Helper()
	var out []models.StockMovement
	f.read(t, func(tx store.Tx) {
		var err error
		out, err = tx.ListStockMovements(context.Background(), variantID)
		require.NoError(t, err)
	})
	return out
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
