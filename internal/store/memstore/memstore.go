// Package memstore is an in-process store.Repository. Transactions are
// serialised by a single mutex and run against a copy of the state, which
// replaces the live state only when the unit of work succeeds.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"storefront/internal/models"
	"storefront/internal/store"

	"github.com/shopspring/decimal"
)

type product struct {
	id              int64
	name            string
	discountPercent decimal.Decimal
}

type state struct {
	seq          map[string]int64
	products     map[int64]product
	variants     map[int64]models.Variant
	carts        map[int64]models.Cart
	cartItems    map[int64]models.CartItem
	orders       map[int64]models.Order
	orderItems   map[int64]models.OrderItem
	payments     map[int64]models.Payment
	movements    []models.StockMovement
	reservations map[int64]models.StockReservation
	audit        []models.AuditLog
}

func newState() *state {
	return &state{
		seq:          map[string]int64{},
		products:     map[int64]product{},
		variants:     map[int64]models.Variant{},
		carts:        map[int64]models.Cart{},
		cartItems:    map[int64]models.CartItem{},
		orders:       map[int64]models.Order{},
		orderItems:   map[int64]models.OrderItem{},
		payments:     map[int64]models.Payment{},
		reservations: map[int64]models.StockReservation{},
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *state) clone() *state {
	return &state{
		seq:          cloneMap(s.seq),
		products:     cloneMap(s.products),
		variants:     cloneMap(s.variants),
		carts:        cloneMap(s.carts),
		cartItems:    cloneMap(s.cartItems),
		orders:       cloneMap(s.orders),
		orderItems:   cloneMap(s.orderItems),
		payments:     cloneMap(s.payments),
		movements:    append([]models.StockMovement(nil), s.movements...),
		reservations: cloneMap(s.reservations),
		audit:        append([]models.AuditLog(nil), s.audit...),
	}
}

func (s *state) next(table string) int64 {
	s.seq[table]++
	return s.seq[table]
}

// Store is a store.Repository held in memory
type Store struct {
	mu    sync.Mutex
	state *state
}

var _ store.Repository = (*Store)(nil)

// New returns an empty store
func New() *Store {
	return &Store{state: newState()}
}

// WithTx runs fn against a private copy of the state and publishes the copy
// only if fn succeeds.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&memTx{st: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

// Ping always succeeds
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close is a no-op
func (s *Store) Close() error {
	return nil
}

// SeedVariant creates a product with a single variant. The given stock is
// recorded as the variant's initial stock.
func (s *Store) SeedVariant(productName, sku string, price, discountPercent decimal.Decimal, stock int) models.Variant {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := product{id: s.state.next("products"), name: productName, discountPercent: discountPercent}
	s.state.products[p.id] = p

	v := models.Variant{
		ID:           s.state.next("product_variants"),
		ProductID:    p.id,
		SKU:          sku,
		Price:        price,
		Stock:        stock,
		InitialStock: stock,
		Active:       true,
		UpdatedAt:    time.Now(),
	}
	s.state.variants[v.ID] = v
	return s.state.join(v)
}

// SetProductDiscount changes the discount of a product
func (s *Store) SetProductDiscount(productID int64, pct decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.state.products[productID]
	p.discountPercent = pct
	s.state.products[productID] = p
}

// SetVariantActive toggles whether a variant can be bought
func (s *Store) SetVariantActive(variantID int64, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := s.state.variants[variantID]
	v.Active = active
	s.state.variants[variantID] = v
}

// AuditLogs returns a copy of the audit trail
func (s *Store) AuditLogs() []models.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.AuditLog(nil), s.state.audit...)
}

func (s *state) join(v models.Variant) models.Variant {
	p := s.products[v.ProductID]
	v.ProductName = p.name
	v.DiscountPercent = p.discountPercent
	return v
}

type memTx struct {
	st *state
}

func notFound(what string, id int64) error {
	return fmt.Errorf("%s %d: %w", what, id, store.ErrNotFound)
}

func (t *memTx) GetVariant(_ context.Context, id int64) (*models.Variant, error) {
	v, ok := t.st.variants[id]
	if !ok {
		return nil, notFound("variant", id)
	}
	v = t.st.join(v)
	return &v, nil
}

func (t *memTx) LockVariants(_ context.Context, ids []int64) (map[int64]*models.Variant, error) {
	out := make(map[int64]*models.Variant, len(ids))
	for _, id := range ids {
		if v, ok := t.st.variants[id]; ok {
			v = t.st.join(v)
			out[id] = &v
		}
	}
	return out, nil
}

func (t *memTx) AdjustVariantStock(_ context.Context, variantID int64, delta int) (int, error) {
	v, ok := t.st.variants[variantID]
	if !ok {
		return 0, notFound("variant", variantID)
	}
	if v.Stock+delta < 0 {
		return 0, fmt.Errorf("variant %d delta %d: %w", variantID, delta, store.ErrNegativeStock)
	}
	v.Stock += delta
	v.UpdatedAt = time.Now()
	t.st.variants[variantID] = v
	return v.Stock, nil
}

func (t *memTx) GetCartByUser(_ context.Context, userID int64) (*models.Cart, error) {
	for _, c := range t.st.carts {
		if c.UserID == userID {
			c := c
			return &c, nil
		}
	}
	return nil, fmt.Errorf("cart for user %d: %w", userID, store.ErrNotFound)
}

func (t *memTx) CreateCart(ctx context.Context, userID int64) (*models.Cart, error) {
	if c, err := t.GetCartByUser(ctx, userID); err == nil {
		return c, nil
	}
	c := models.Cart{ID: t.st.next("carts"), UserID: userID, CreatedAt: time.Now()}
	t.st.carts[c.ID] = c
	return &c, nil
}

func (t *memTx) ListCartItems(_ context.Context, cartID int64) ([]models.CartItem, error) {
	items := []models.CartItem{}
	for _, it := range t.st.cartItems {
		if it.CartID == cartID {
			items = append(items, it)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (t *memTx) GetCartItem(_ context.Context, itemID int64) (*models.CartItem, error) {
	it, ok := t.st.cartItems[itemID]
	if !ok {
		return nil, notFound("cart item", itemID)
	}
	return &it, nil
}

func (t *memTx) FindCartItem(_ context.Context, cartID, variantID int64) (*models.CartItem, error) {
	for _, it := range t.st.cartItems {
		if it.CartID == cartID && it.VariantID == variantID {
			it := it
			return &it, nil
		}
	}
	return nil, fmt.Errorf("variant %d in cart %d: %w", variantID, cartID, store.ErrNotFound)
}

func (t *memTx) InsertCartItem(_ context.Context, item *models.CartItem) error {
	for _, it := range t.st.cartItems {
		if it.CartID == item.CartID && it.VariantID == item.VariantID {
			return fmt.Errorf("variant %d already in cart %d", item.VariantID, item.CartID)
		}
	}
	item.ID = t.st.next("cart_items")
	t.st.cartItems[item.ID] = *item
	return nil
}

func (t *memTx) UpdateCartItemQuantity(_ context.Context, itemID int64, quantity int) error {
	it, ok := t.st.cartItems[itemID]
	if !ok {
		return notFound("cart item", itemID)
	}
	it.Quantity = quantity
	t.st.cartItems[itemID] = it
	return nil
}

func (t *memTx) DeleteCartItem(_ context.Context, itemID int64) error {
	if _, ok := t.st.cartItems[itemID]; !ok {
		return notFound("cart item", itemID)
	}
	delete(t.st.cartItems, itemID)
	return nil
}

func (t *memTx) ClearCart(_ context.Context, cartID int64) error {
	for id, it := range t.st.cartItems {
		if it.CartID == cartID {
			delete(t.st.cartItems, id)
		}
	}
	return nil
}

func (t *memTx) CreateOrder(_ context.Context, order *models.Order) error {
	now := time.Now()
	order.ID = t.st.next("orders")
	order.CreatedAt = now
	order.UpdatedAt = now
	t.st.orders[order.ID] = *order
	return nil
}

func (t *memTx) CreateOrderItem(_ context.Context, item *models.OrderItem) error {
	if _, ok := t.st.orders[item.OrderID]; !ok {
		return notFound("order", item.OrderID)
	}
	item.ID = t.st.next("order_items")
	t.st.orderItems[item.ID] = *item
	return nil
}

func (t *memTx) GetOrder(_ context.Context, id int64) (*models.Order, error) {
	o, ok := t.st.orders[id]
	if !ok {
		return nil, notFound("order", id)
	}
	return &o, nil
}

func (t *memTx) LockOrder(ctx context.Context, id int64) (*models.Order, error) {
	return t.GetOrder(ctx, id)
}

func (t *memTx) UpdateOrderStatus(_ context.Context, id int64, status models.OrderStatus, paidAt *time.Time) error {
	o, ok := t.st.orders[id]
	if !ok {
		return notFound("order", id)
	}
	o.Status = status
	if paidAt != nil {
		at := *paidAt
		o.PaidAt = &at
	}
	o.UpdatedAt = time.Now()
	t.st.orders[id] = o
	return nil
}

func (t *memTx) ListOrderItems(_ context.Context, orderIDs ...int64) ([]models.OrderItem, error) {
	want := make(map[int64]bool, len(orderIDs))
	for _, id := range orderIDs {
		want[id] = true
	}
	items := []models.OrderItem{}
	for _, it := range t.st.orderItems {
		if want[it.OrderID] {
			items = append(items, it)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].OrderID != items[j].OrderID {
			return items[i].OrderID < items[j].OrderID
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (t *memTx) ListOrdersByUser(_ context.Context, userID int64, status models.OrderStatus, limit, offset int) ([]models.Order, int, error) {
	var matched []models.Order
	for _, o := range t.st.orders {
		if o.UserID == userID && (status == "" || o.Status == status) {
			matched = append(matched, o)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	total := len(matched)
	page := []models.Order{}
	if offset < total {
		end := offset + limit
		if end > total {
			end = total
		}
		page = append(page, matched[offset:end]...)
	}
	return page, total, nil
}

func (t *memTx) CreatePayment(_ context.Context, payment *models.Payment) error {
	if _, ok := t.st.orders[payment.OrderID]; !ok {
		return notFound("order", payment.OrderID)
	}
	now := time.Now()
	payment.ID = t.st.next("payments")
	payment.CreatedAt = now
	payment.UpdatedAt = now
	t.st.payments[payment.ID] = *payment
	return nil
}

func (t *memTx) GetPayment(_ context.Context, id int64) (*models.Payment, error) {
	p, ok := t.st.payments[id]
	if !ok {
		return nil, notFound("payment", id)
	}
	return &p, nil
}

func (t *memTx) LockPayment(ctx context.Context, id int64) (*models.Payment, error) {
	return t.GetPayment(ctx, id)
}

func (t *memTx) ListPaymentsByOrder(_ context.Context, orderID int64) ([]models.Payment, error) {
	payments := []models.Payment{}
	for _, p := range t.st.payments {
		if p.OrderID == orderID {
			payments = append(payments, p)
		}
	}
	sort.Slice(payments, func(i, j int) bool { return payments[i].ID < payments[j].ID })
	return payments, nil
}

func (t *memTx) UpdatePayment(_ context.Context, payment *models.Payment) error {
	current, ok := t.st.payments[payment.ID]
	if !ok {
		return notFound("payment", payment.ID)
	}
	if payment.Status == models.PaymentStatusCompleted {
		for _, p := range t.st.payments {
			if p.ID != payment.ID && p.OrderID == current.OrderID && p.Status == models.PaymentStatusCompleted {
				return fmt.Errorf("order %d already has a completed payment", current.OrderID)
			}
		}
	}
	current.Status = payment.Status
	current.GatewayName = payment.GatewayName
	current.GatewayTxID = payment.GatewayTxID
	current.GatewayResponse = payment.GatewayResponse
	current.PaidAt = payment.PaidAt
	current.UpdatedAt = time.Now()
	payment.UpdatedAt = current.UpdatedAt
	t.st.payments[payment.ID] = current
	return nil
}

func (t *memTx) InsertStockMovement(_ context.Context, movement *models.StockMovement) error {
	if _, ok := t.st.variants[movement.VariantID]; !ok {
		return notFound("variant", movement.VariantID)
	}
	movement.ID = t.st.next("stock_movements")
	movement.CreatedAt = time.Now()
	t.st.movements = append(t.st.movements, *movement)
	return nil
}

func (t *memTx) ListStockMovements(_ context.Context, variantID int64) ([]models.StockMovement, error) {
	movements := []models.StockMovement{}
	for i := len(t.st.movements) - 1; i >= 0; i-- {
		if t.st.movements[i].VariantID == variantID {
			movements = append(movements, t.st.movements[i])
		}
	}
	return movements, nil
}

func (t *memTx) SumStockMovements(_ context.Context, variantID int64) (int, error) {
	sum := 0
	for _, m := range t.st.movements {
		if m.VariantID == variantID {
			sum += m.Quantity
		}
	}
	return sum, nil
}

func (t *memTx) CreateReservation(_ context.Context, reservation *models.StockReservation) error {
	if _, ok := t.st.orders[reservation.OrderID]; !ok {
		return notFound("order", reservation.OrderID)
	}
	reservation.ID = t.st.next("stock_reservations")
	reservation.CreatedAt = time.Now()
	t.st.reservations[reservation.ID] = *reservation
	return nil
}

func (t *memTx) ReservedQuantities(_ context.Context, variantIDs []int64) (map[int64]int, error) {
	want := make(map[int64]bool, len(variantIDs))
	for _, id := range variantIDs {
		want[id] = true
	}
	out := make(map[int64]int, len(variantIDs))
	for _, r := range t.st.reservations {
		if want[r.VariantID] {
			out[r.VariantID] += r.Quantity
		}
	}
	return out, nil
}

func (t *memTx) ListReservations(_ context.Context, orderID int64) ([]models.StockReservation, error) {
	out := []models.StockReservation{}
	for _, r := range t.st.reservations {
		if r.OrderID == orderID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VariantID < out[j].VariantID })
	return out, nil
}

func (t *memTx) DeleteReservations(_ context.Context, orderID int64) (int, error) {
	n := 0
	for id, r := range t.st.reservations {
		if r.OrderID == orderID {
			delete(t.st.reservations, id)
			n++
		}
	}
	return n, nil
}

func (t *memTx) ListExpiredReservationOrders(_ context.Context, now time.Time, limit int) ([]int64, error) {
	seen := map[int64]bool{}
	ids := []int64{}
	for _, r := range t.st.reservations {
		if !r.ExpiresAt.After(now) && !seen[r.OrderID] {
			seen[r.OrderID] = true
			ids = append(ids, r.OrderID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (t *memTx) InsertAuditLog(_ context.Context, entry *models.AuditLog) error {
	entry.ID = t.st.next("audit_logs")
	entry.CreatedAt = time.Now()
	t.st.audit = append(t.st.audit, *entry)
	return nil
}
