package service

import (
	"context"
	"fmt"

	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Cancellation reasons carried on ORDER_CANCELLED events
const (
	ReasonCustomerRequest    = "customer_request"
	ReasonOperatorRequest    = "operator_request"
	ReasonReservationExpired = "reservation_expired"
)

// maxOrderPage keeps the list offset far from integer overflow
const maxOrderPage = 100000

// OrderService handles order reads and post-checkout transitions
type OrderService struct {
	repo      store.Repository
	publisher EventPublisher
	pageSize  int
	logger    *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(repo store.Repository, publisher EventPublisher, pageSize int) *OrderService {
	if pageSize < 1 {
		pageSize = 10
	}
	return &OrderService{
		repo:      repo,
		publisher: publisher,
		pageSize:  pageSize,
		logger:    util.GetLogger(),
	}
}

// List returns one page of the actor's orders, newest first, with items
func (s *OrderService) List(ctx context.Context, actor models.Actor, status models.OrderStatus, page int) (*models.OrderPage, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.List")
	defer span.End()

	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	if page < 1 {
		page = 1
	}
	if page > maxOrderPage {
		return nil, fmt.Errorf("%w: %d is past the last allowed page %d", ErrInvalidPage, page, maxOrderPage)
	}

	result := &models.OrderPage{CurrentPage: page, PerPage: s.pageSize, Data: []models.OrderView{}}
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		orders, total, err := tx.ListOrdersByUser(ctx, actor.UserID, status, s.pageSize, (page-1)*s.pageSize)
		if err != nil {
			return err
		}
		result.Total = total

		ids := make([]int64, 0, len(orders))
		for _, o := range orders {
			ids = append(ids, o.ID)
		}
		items, err := tx.ListOrderItems(ctx, ids...)
		if err != nil {
			return err
		}

		byOrder := make(map[int64][]models.OrderItem, len(orders))
		for _, it := range items {
			byOrder[it.OrderID] = append(byOrder[it.OrderID], it)
		}
		for _, o := range orders {
			its := byOrder[o.ID]
			if its == nil {
				its = []models.OrderItem{}
			}
			result.Data = append(result.Data, models.OrderView{Order: o, ItemsCount: len(its), Items: its})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.LastPage = (result.Total + s.pageSize - 1) / s.pageSize
	if result.LastPage < 1 {
		result.LastPage = 1
	}
	return result, nil
}

// Get returns one order with its items. Only the owner or an operator may read it.
func (s *OrderService) Get(ctx context.Context, actor models.Actor, orderID int64) (*models.OrderView, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Get")
	defer span.End()

	var view *models.OrderView
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		order, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.UserID != actor.UserID && !actor.IsOperator() {
			return ErrForbidden
		}
		view, err = loadOrderView(ctx, tx, order)
		return err
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// Cancel cancels an order. Owners may cancel only Pending orders; operators
// may also cancel Paid, Preparing and Shipped orders, which puts their stock
// back through Inbound movements.
func (s *OrderService) Cancel(ctx context.Context, actor models.Actor, orderID int64, reason string) (*models.OrderView, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Cancel")
	defer span.End()

	if reason == "" {
		reason = ReasonCustomerRequest
		if actor.IsOperator() {
			reason = ReasonOperatorRequest
		}
	}

	var view *models.OrderView
	var closed closure
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.UserID != actor.UserID && !actor.IsOperator() {
			return ErrForbidden
		}
		if !actor.IsOperator() && order.Status != models.OrderStatusPending {
			return fmt.Errorf("%w: order %d is %s", ErrOrderNotPending, order.ID, order.Status)
		}
		if !models.CanTransition(order.Status, models.OrderStatusCancelled) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, models.OrderStatusCancelled)
		}

		closed, err = closeOrder(ctx, tx, actor, order, models.OrderStatusCancelled)
		if err != nil {
			return err
		}
		view, err = loadOrderView(ctx, tx, order)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.afterClose(ctx, view, reason, closed)
	return view, nil
}

// UpdateStatus moves an order along its fulfilment path. Operator only.
// Payment is not settable here; it happens through payment confirmation.
func (s *OrderService) UpdateStatus(ctx context.Context, actor models.Actor, orderID int64, to models.OrderStatus) (*models.OrderView, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateStatus")
	defer span.End()

	if !actor.IsOperator() {
		return nil, ErrForbidden
	}
	if !to.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, to)
	}
	if to == models.OrderStatusPaid {
		return nil, fmt.Errorf("%w: orders are paid through payment confirmation", ErrInvalidTransition)
	}

	var view *models.OrderView
	var from models.OrderStatus
	var closed closure
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		from = order.Status
		if !models.CanTransition(from, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
		}

		if to == models.OrderStatusCancelled || to == models.OrderStatusRefunded {
			closed, err = closeOrder(ctx, tx, actor, order, to)
			if err != nil {
				return err
			}
		} else {
			if err := tx.UpdateOrderStatus(ctx, order.ID, to, nil); err != nil {
				return err
			}
			order.Status = to
			if err := tx.InsertAuditLog(ctx, &models.AuditLog{
				UserID:    actor.UserID,
				Action:    models.AuditActionStatusChange,
				TableName: "orders",
				RecordID:  order.ID,
				IP:        actor.IP,
			}); err != nil {
				return err
			}
		}

		view, err = loadOrderView(ctx, tx, order)
		return err
	})
	if err != nil {
		return nil, err
	}

	if to == models.OrderStatusCancelled || to == models.OrderStatusRefunded {
		s.afterClose(ctx, view, ReasonOperatorRequest, closed)
		return view, nil
	}

	s.logger.Info("Order status changed",
		zap.Int64("order_id", orderID),
		zap.String("from", string(from)),
		zap.String("to", string(to)))

	event := &models.OrderStatusChangedEvent{
		BaseEvent: models.NewBaseEvent(uuid.New().String(), models.EventTypeOrderStatusChanged),
		OrderID:   orderID,
		From:      from,
		To:        to,
	}
	if err := s.publisher.PublishOrderStatusChanged(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderStatusChanged event", zap.Int64("order_id", orderID), zap.Error(err))
	}
	return view, nil
}

func (s *OrderService) afterClose(ctx context.Context, view *models.OrderView, reason string, closed closure) {
	util.OrdersCancelledTotal.WithLabelValues(string(view.Status)).Inc()
	s.logger.Info("Order closed",
		zap.Int64("order_id", view.ID),
		zap.String("status", string(view.Status)),
		zap.String("reason", reason),
		zap.Bool("stock_restored", closed.restored))
	publishClosed(ctx, s.publisher, s.logger, view.Order, reason, closed)
}

func publishClosed(ctx context.Context, publisher EventPublisher, logger *zap.Logger, order models.Order, reason string, closed closure) {
	eventType := models.EventTypeOrderCancelled
	if order.Status == models.OrderStatusRefunded {
		eventType = models.EventTypeOrderRefunded
	}
	event := &models.OrderCancelledEvent{
		BaseEvent:     models.NewBaseEvent(uuid.New().String(), eventType),
		OrderID:       order.ID,
		UserID:        order.UserID,
		Status:        order.Status,
		Reason:        reason,
		StockRestored: closed.restored,
	}
	if err := publisher.PublishOrderCancelled(ctx, event); err != nil {
		logger.Error("Failed to publish OrderCancelled event", zap.Int64("order_id", order.ID), zap.Error(err))
	}
	requestRefunds(ctx, publisher, logger, closed.captured, "order "+string(order.Status))
}

// closure is what closing an order left behind
type closure struct {
	// restored is set when stock came back through Inbound movements
	restored bool
	// captured holds failed payments whose gateway had already taken the money
	captured []models.Payment
}

// closeOrder moves a locked order to Cancelled or Refunded. A Pending order
// only drops its holds and open payments. An order whose stock already left
// the ledger gets it back through Inbound movements.
func closeOrder(ctx context.Context, tx store.Tx, actor models.Actor, order *models.Order, to models.OrderStatus) (closure, error) {
	var closed closure

	switch {
	case order.Status == models.OrderStatusPending:
		if _, err := tx.DeleteReservations(ctx, order.ID); err != nil {
			return closure{}, err
		}
		captured, err := failPendingPayments(ctx, tx, order.ID, 0, `{"status":"cancelled"}`)
		if err != nil {
			return closure{}, err
		}
		closed.captured = captured

	case order.Status.HoldsDeductedStock():
		items, err := tx.ListOrderItems(ctx, order.ID)
		if err != nil {
			return closure{}, err
		}
		returned := quantitiesByVariant(items)
		ids := sortedKeys(returned)
		if _, err := tx.LockVariants(ctx, ids); err != nil {
			return closure{}, err
		}

		reason := fmt.Sprintf("Order #%d %s", order.ID, string(to))
		for _, id := range ids {
			if _, err := applyMovement(ctx, tx, id, models.MovementInbound, returned[id], reason); err != nil {
				return closure{}, err
			}
		}
		closed.restored = true
	}

	if err := tx.UpdateOrderStatus(ctx, order.ID, to, nil); err != nil {
		return closure{}, err
	}
	order.Status = to

	action := models.AuditActionCancel
	if to == models.OrderStatusRefunded {
		action = models.AuditActionRefund
	}
	if err := tx.InsertAuditLog(ctx, &models.AuditLog{
		UserID:    actor.UserID,
		Action:    action,
		TableName: "orders",
		RecordID:  order.ID,
		IP:        actor.IP,
	}); err != nil {
		return closure{}, err
	}
	return closed, nil
}

func loadOrderView(ctx context.Context, tx store.Tx, order *models.Order) (*models.OrderView, error) {
	items, err := tx.ListOrderItems(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	return &models.OrderView{Order: *order, ItemsCount: len(items), Items: items}, nil
}
