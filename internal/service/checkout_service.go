package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// unit price snapshots keep the precision of order_items.unit_price
const snapshotPlaces = 6

// checkoutClaimTTL bounds the in-flight idempotency marker. A claim orphaned
// by a crash stops answering ErrCheckoutInProgress after this.
const checkoutClaimTTL = 2 * time.Minute

// CheckoutService turns a cart into a Pending order and holds its stock
type CheckoutService struct {
	repo           store.Repository
	idempotency    IdempotencyStore
	publisher      EventPublisher
	reservationTTL time.Duration
	idempotencyTTL time.Duration
	claimTTL       time.Duration
	now            func() time.Time
	logger         *zap.Logger
}

// NewCheckoutService creates a new checkout service. idempotency may be nil.
func NewCheckoutService(
	repo store.Repository,
	idempotency IdempotencyStore,
	publisher EventPublisher,
	reservationTTL time.Duration,
	idempotencyTTL time.Duration,
) *CheckoutService {
	return &CheckoutService{
		repo:           repo,
		idempotency:    idempotency,
		publisher:      publisher,
		reservationTTL: reservationTTL,
		idempotencyTTL: idempotencyTTL,
		claimTTL:       min(checkoutClaimTTL, idempotencyTTL),
		now:            time.Now,
		logger:         util.GetLogger(),
	}
}

// Checkout consumes the actor's cart. In one transaction it re-validates every
// line against available stock, snapshots prices, creates the order with its
// items, reserves stock and empties the cart. Nothing is written if any line
// fails.
func (s *CheckoutService) Checkout(ctx context.Context, actor models.Actor, idempotencyKey string) (*models.OrderView, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.Checkout")
	defer span.End()

	start := time.Now()
	defer func() {
		util.CheckoutLatency.Observe(time.Since(start).Seconds())
	}()

	key := ""
	if idempotencyKey != "" && s.idempotency != nil {
		key = fmt.Sprintf("checkout:%d:%s", actor.UserID, idempotencyKey)

		view, err := s.replay(ctx, actor, key)
		if err != nil || view != nil {
			return view, err
		}

		claimed, err := s.idempotency.ClaimIdempotencyKey(ctx, key, s.claimTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to claim idempotency key: %w", err)
		}
		if !claimed {
			return nil, ErrCheckoutInProgress
		}
	}

	view, expiresAt, err := s.placeOrder(ctx, actor)
	if err != nil {
		util.RecordError(span, err)
		util.CheckoutsFailedTotal.WithLabelValues(checkoutFailureReason(err)).Inc()
		if key != "" {
			if relErr := s.idempotency.ReleaseIdempotencyKey(ctx, key); relErr != nil {
				s.logger.Warn("Failed to release idempotency key", zap.String("key", key), zap.Error(relErr))
			}
		}
		return nil, err
	}

	util.CheckoutsTotal.Inc()
	util.ReservationsCreatedTotal.Add(float64(len(view.Items)))
	s.logger.Info("Order created",
		zap.Int64("order_id", view.ID),
		zap.Int64("user_id", actor.UserID),
		zap.String("total", view.Total.StringFixed(2)))

	if key != "" {
		if err := s.idempotency.CompleteIdempotencyKey(ctx, key, view.ID, s.idempotencyTTL); err != nil {
			s.logger.Warn("Failed to store idempotency key", zap.String("key", key), zap.Error(err))
		}
	}

	s.publishCreated(ctx, view, expiresAt)
	return view, nil
}

func (s *CheckoutService) replay(ctx context.Context, actor models.Actor, key string) (*models.OrderView, error) {
	orderID, found, err := s.idempotency.IdempotentOrder(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	}
	if !found {
		return nil, nil
	}

	s.logger.Info("Duplicate checkout request detected",
		zap.String("idempotency_key", key),
		zap.Int64("order_id", orderID))

	var view *models.OrderView
	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		order, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.UserID != actor.UserID {
			return ErrForbidden
		}
		view, err = loadOrderView(ctx, tx, order)
		return err
	})
	return view, err
}

func (s *CheckoutService) placeOrder(ctx context.Context, actor models.Actor) (*models.OrderView, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.reservationTTL)

	var view *models.OrderView
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		cart, err := tx.GetCartByUser(ctx, actor.UserID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrEmptyCart
		}
		if err != nil {
			return err
		}

		lines, err := tx.ListCartItems(ctx, cart.ID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return ErrEmptyCart
		}

		ids := make([]int64, 0, len(lines))
		for _, l := range lines {
			ids = append(ids, l.VariantID)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		variants, err := tx.LockVariants(ctx, ids)
		if err != nil {
			return err
		}
		reserved, err := tx.ReservedQuantities(ctx, ids)
		if err != nil {
			return err
		}

		items := make([]models.OrderItem, 0, len(lines))
		for _, l := range lines {
			v, ok := variants[l.VariantID]
			if !ok {
				return fmt.Errorf("variant %d: %w", l.VariantID, store.ErrNotFound)
			}
			if !v.Active {
				return fmt.Errorf("%w: %s", ErrVariantUnavailable, v.SKU)
			}
			available := v.Stock - reserved[v.ID]
			if l.Quantity > available {
				if available < 0 {
					available = 0
				}
				return &InsufficientStockError{SKU: v.SKU, Requested: l.Quantity, Available: available}
			}

			items = append(items, models.OrderItem{
				VariantID:       v.ID,
				SKU:             v.SKU,
				ProductName:     v.ProductName,
				ListPrice:       v.Price,
				DiscountPercent: v.DiscountPercent,
				UnitPrice:       DiscountedUnitPrice(v.Price, v.DiscountPercent).Round(snapshotPlaces),
				Quantity:        l.Quantity,
			})
		}

		order := &models.Order{
			UserID: actor.UserID,
			Total:  orderTotal(items),
			Status: models.OrderStatusPending,
		}
		if err := tx.CreateOrder(ctx, order); err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}

		for i := range items {
			items[i].OrderID = order.ID
			if err := tx.CreateOrderItem(ctx, &items[i]); err != nil {
				return fmt.Errorf("failed to create order item: %w", err)
			}
			if err := tx.CreateReservation(ctx, &models.StockReservation{
				OrderID:   order.ID,
				VariantID: items[i].VariantID,
				Quantity:  items[i].Quantity,
				ExpiresAt: expiresAt,
			}); err != nil {
				return fmt.Errorf("failed to reserve stock: %w", err)
			}
		}

		if err := tx.ClearCart(ctx, cart.ID); err != nil {
			return fmt.Errorf("failed to clear cart: %w", err)
		}

		if err := tx.InsertAuditLog(ctx, &models.AuditLog{
			UserID:    actor.UserID,
			Action:    models.AuditActionCheckout,
			TableName: "orders",
			RecordID:  order.ID,
			IP:        actor.IP,
		}); err != nil {
			return err
		}

		view = &models.OrderView{Order: *order, ItemsCount: len(items), Items: items}
		return nil
	})
	if err != nil {
		return nil, time.Time{}, err
	}
	return view, expiresAt, nil
}

func (s *CheckoutService) publishCreated(ctx context.Context, view *models.OrderView, expiresAt time.Time) {
	items := make([]models.OrderItemData, 0, len(view.Items))
	for _, it := range view.Items {
		items = append(items, models.OrderItemData{
			VariantID: it.VariantID,
			SKU:       it.SKU,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}

	event := &models.OrderCreatedEvent{
		BaseEvent: models.NewBaseEvent(uuid.New().String(), models.EventTypeOrderCreated),
		OrderID:   view.ID,
		UserID:    view.UserID,
		Total:     view.Total,
		Items:     items,
		ExpiresAt: expiresAt,
	}
	if err := s.publisher.PublishOrderCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCreated event", zap.Int64("order_id", view.ID), zap.Error(err))
	}
}

func checkoutFailureReason(err error) string {
	var insufficient *InsufficientStockError
	switch {
	case errors.Is(err, ErrEmptyCart):
		return "empty_cart"
	case errors.As(err, &insufficient):
		return "insufficient_stock"
	case errors.Is(err, ErrVariantUnavailable), errors.Is(err, store.ErrNotFound):
		return "unavailable"
	}
	return "db_error"
}
