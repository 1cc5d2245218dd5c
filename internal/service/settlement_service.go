package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"storefront/internal/gateway"
	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SettlementService verifies payments and, on success, commits the sale:
// payment Completed, order Paid, stock decremented through the ledger and
// the order's reservations released, all in one transaction.
type SettlementService struct {
	repo          store.Repository
	gateways      *gateway.Registry
	locker        Locker
	publisher     EventPublisher
	verifyTimeout time.Duration
	now           func() time.Time
	logger        *zap.Logger
}

// NewSettlementService creates a new settlement service. locker may be nil.
func NewSettlementService(
	repo store.Repository,
	gateways *gateway.Registry,
	locker Locker,
	publisher EventPublisher,
	verifyTimeout time.Duration,
) *SettlementService {
	return &SettlementService{
		repo:          repo,
		gateways:      gateways,
		locker:        locker,
		publisher:     publisher,
		verifyTimeout: verifyTimeout,
		now:           time.Now,
		logger:        util.GetLogger(),
	}
}

// CreatePayment opens a Pending payment attempt for a Pending order
func (s *SettlementService) CreatePayment(ctx context.Context, actor models.Actor, orderID int64, method string) (*models.Payment, error) {
	ctx, span := util.StartSpan(ctx, "SettlementService.CreatePayment")
	defer span.End()

	if _, ok := s.gateways.Get(method); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedPaymentMethod, method)
	}

	var payment *models.Payment
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.UserID != actor.UserID && !actor.IsOperator() {
			return ErrForbidden
		}
		if order.Status != models.OrderStatusPending {
			return fmt.Errorf("%w: order %d is %s", ErrOrderNotPending, order.ID, order.Status)
		}

		payment = &models.Payment{
			OrderID: order.ID,
			Status:  models.PaymentStatusPending,
			Method:  method,
			Amount:  order.Total,
		}
		return tx.CreatePayment(ctx, payment)
	})
	if err != nil {
		return nil, err
	}

	util.PaymentAttemptsTotal.Inc()
	s.logger.Info("Payment created",
		zap.Int64("payment_id", payment.ID),
		zap.Int64("order_id", orderID),
		zap.String("method", method))
	return payment, nil
}

// Confirm verifies a Pending payment with its gateway and settles it.
// A declined, failed or timed out verification marks the payment Failed
// and leaves the order Pending for another attempt. An approval that cannot
// be settled is recorded on the payment; see recordUnsettledCapture.
func (s *SettlementService) Confirm(ctx context.Context, actor models.Actor, paymentID int64, gatewayContext map[string]string) (*models.OrderView, error) {
	ctx, span := util.StartSpan(ctx, "SettlementService.Confirm")
	defer span.End()

	start := time.Now()
	defer func() {
		util.PaymentProcessingLatency.Observe(time.Since(start).Seconds())
	}()

	payment, verifier, err := s.precheck(ctx, actor, paymentID)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	if s.locker != nil {
		lockKey := fmt.Sprintf("payment:%d", paymentID)
		token, ok, err := s.locker.AcquireLock(ctx, lockKey, s.verifyTimeout+30*time.Second)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire payment lock: %w", err)
		}
		if !ok {
			return nil, ErrPaymentInProgress
		}
		defer func() {
			if err := s.locker.ReleaseLock(context.Background(), lockKey, token); err != nil {
				s.logger.Warn("Failed to release payment lock", zap.Int64("payment_id", paymentID), zap.Error(err))
			}
		}()

		// A confirm holding the lock before us may have finished in between
		payment, verifier, err = s.precheck(ctx, actor, paymentID)
		if err != nil {
			util.RecordError(span, err)
			return nil, err
		}
	}

	var outcome gateway.Outcome
	if payment.GatewayTxID != "" {
		// Approved earlier but never settled
		outcome = gateway.Outcome{
			Success:       true,
			Gateway:       payment.GatewayName,
			TransactionID: payment.GatewayTxID,
			RawResponse:   payment.GatewayResponse,
		}
		s.logger.Info("Settling a previously approved payment",
			zap.Int64("payment_id", paymentID),
			zap.String("tx_id", payment.GatewayTxID))
	} else {
		outcome = s.verify(ctx, verifier, *payment, gatewayContext)
	}
	if !outcome.Success {
		err := s.recordFailure(ctx, paymentID, outcome)
		util.RecordError(span, err)
		return nil, err
	}

	view, superseded, err := s.settle(ctx, actor, paymentID, outcome)
	if err != nil {
		util.RecordError(span, err)
		var inconsistent *StockInconsistencyError
		if errors.As(err, &inconsistent) {
			s.reportInconsistency(ctx, paymentID, inconsistent, outcome)
		}
		s.recordUnsettledCapture(ctx, paymentID, outcome, err)
		return nil, err
	}

	util.PaymentSuccessTotal.Inc()
	util.ReservationsReleasedTotal.WithLabelValues("paid").Add(float64(len(view.Items)))
	s.logger.Info("Order paid",
		zap.Int64("order_id", view.ID),
		zap.Int64("payment_id", paymentID),
		zap.String("gateway", outcome.Gateway),
		zap.String("tx_id", outcome.TransactionID))

	event := &models.OrderPaidEvent{
		BaseEvent: models.NewBaseEvent(uuid.New().String(), models.EventTypeOrderPaid),
		OrderID:   view.ID,
		UserID:    view.UserID,
		PaymentID: paymentID,
		Amount:    view.Total,
		Gateway:   outcome.Gateway,
		TxID:      outcome.TransactionID,
	}
	if err := s.publisher.PublishOrderPaid(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderPaid event", zap.Int64("order_id", view.ID), zap.Error(err))
	}
	requestRefunds(ctx, s.publisher, s.logger, superseded, fmt.Sprintf("superseded by payment %d", paymentID))

	return view, nil
}

func (s *SettlementService) precheck(ctx context.Context, actor models.Actor, paymentID int64) (*models.Payment, gateway.Verifier, error) {
	var payment *models.Payment
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		p, err := tx.GetPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		order, err := tx.GetOrder(ctx, p.OrderID)
		if err != nil {
			return err
		}
		if order.UserID != actor.UserID && !actor.IsOperator() {
			return ErrForbidden
		}
		payment = p
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	if payment.Status.Terminal() {
		return nil, nil, fmt.Errorf("%w: payment %d is %s", ErrAlreadyProcessed, payment.ID, payment.Status)
	}

	verifier, ok := s.gateways.Get(payment.Method)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnsupportedPaymentMethod, payment.Method)
	}
	if verifier.Name() == (gateway.ManualVerifier{}).Name() && !actor.IsOperator() {
		return nil, nil, fmt.Errorf("%w: manual payments are approved by an operator", ErrForbidden)
	}
	return payment, verifier, nil
}

func (s *SettlementService) verify(ctx context.Context, verifier gateway.Verifier, payment models.Payment, gatewayContext map[string]string) gateway.Outcome {
	vctx, cancel := context.WithTimeout(ctx, s.verifyTimeout)
	defer cancel()

	outcome, err := verifier.Verify(vctx, payment, gatewayContext)
	if err != nil {
		s.logger.Warn("Gateway verification failed",
			zap.Int64("payment_id", payment.ID),
			zap.String("gateway", verifier.Name()),
			zap.Error(err))
		return gateway.Outcome{
			Gateway:     verifier.Name(),
			RawResponse: fmt.Sprintf(`{"status":"error","error":%q}`, err.Error()),
			Reason:      err.Error(),
		}
	}
	if outcome.Gateway == "" {
		outcome.Gateway = verifier.Name()
	}
	return outcome
}

func (s *SettlementService) recordFailure(ctx context.Context, paymentID int64, outcome gateway.Outcome) error {
	var orderID int64
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		p, err := tx.GetPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		if _, err := tx.LockOrder(ctx, p.OrderID); err != nil {
			return err
		}
		payment, err := tx.LockPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		if payment.Status != models.PaymentStatusPending {
			return fmt.Errorf("%w: payment %d is %s", ErrAlreadyProcessed, payment.ID, payment.Status)
		}

		payment.Status = models.PaymentStatusFailed
		payment.GatewayName = outcome.Gateway
		payment.GatewayTxID = outcome.TransactionID
		payment.GatewayResponse = outcome.RawResponse
		orderID = payment.OrderID
		return tx.UpdatePayment(ctx, payment)
	})
	if err != nil {
		return err
	}

	util.PaymentFailedTotal.WithLabelValues(outcome.Gateway).Inc()
	s.logger.Info("Payment failed",
		zap.Int64("payment_id", paymentID),
		zap.Int64("order_id", orderID),
		zap.String("reason", outcome.Reason))

	event := &models.PaymentFailedEvent{
		BaseEvent: models.NewBaseEvent(uuid.New().String(), models.EventTypePaymentFailed),
		OrderID:   orderID,
		PaymentID: paymentID,
		Reason:    outcome.Reason,
	}
	if err := s.publisher.PublishPaymentFailed(ctx, event); err != nil {
		s.logger.Error("Failed to publish PaymentFailed event", zap.Int64("payment_id", paymentID), zap.Error(err))
	}

	return fmt.Errorf("%w: %s", ErrPaymentDeclined, outcome.Reason)
}

// settle commits the sale. It also returns the other attempts it failed
// that had already been captured.
func (s *SettlementService) settle(ctx context.Context, actor models.Actor, paymentID int64, outcome gateway.Outcome) (*models.OrderView, []models.Payment, error) {
	now := s.now()

	var view *models.OrderView
	var superseded []models.Payment
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		p, err := tx.GetPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		order, err := tx.LockOrder(ctx, p.OrderID)
		if err != nil {
			return err
		}
		payment, err := tx.LockPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		if payment.Status.Terminal() {
			return fmt.Errorf("%w: payment %d is %s", ErrAlreadyProcessed, payment.ID, payment.Status)
		}
		if order.Status != models.OrderStatusPending {
			return fmt.Errorf("%w: order %d is %s", ErrOrderNotPending, order.ID, order.Status)
		}

		items, err := tx.ListOrderItems(ctx, order.ID)
		if err != nil {
			return err
		}
		demand := quantitiesByVariant(items)
		ids := sortedKeys(demand)

		variants, err := tx.LockVariants(ctx, ids)
		if err != nil {
			return err
		}
		for _, id := range ids {
			v, ok := variants[id]
			if !ok {
				return fmt.Errorf("variant %d: %w", id, store.ErrNotFound)
			}
			if v.Stock < demand[id] {
				return &StockInconsistencyError{OrderID: order.ID, SKU: v.SKU, Required: demand[id], Available: v.Stock}
			}
		}

		payment.Status = models.PaymentStatusCompleted
		payment.GatewayName = outcome.Gateway
		payment.GatewayTxID = outcome.TransactionID
		payment.GatewayResponse = outcome.RawResponse
		payment.PaidAt = &now
		if err := tx.UpdatePayment(ctx, payment); err != nil {
			return fmt.Errorf("failed to complete payment: %w", err)
		}

		if err := tx.UpdateOrderStatus(ctx, order.ID, models.OrderStatusPaid, &now); err != nil {
			return err
		}
		order.Status = models.OrderStatusPaid
		order.PaidAt = &now

		reason := fmt.Sprintf("Order #%d", order.ID)
		for _, id := range ids {
			if _, err := applyMovement(ctx, tx, id, models.MovementOutbound, -demand[id], reason); err != nil {
				return err
			}
		}

		if _, err := tx.DeleteReservations(ctx, order.ID); err != nil {
			return err
		}

		superseded, err = supersedePendingPayments(ctx, tx, order.ID, payment.ID)
		if err != nil {
			return err
		}

		if err := tx.InsertAuditLog(ctx, &models.AuditLog{
			UserID:    actor.UserID,
			Action:    models.AuditActionPurchase,
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
		return nil, nil, err
	}
	return view, superseded, nil
}

func (s *SettlementService) reportInconsistency(ctx context.Context, paymentID int64, e *StockInconsistencyError, outcome gateway.Outcome) {
	util.StockInconsistenciesTotal.Inc()
	s.logger.Error("Stock inconsistency during settlement, manual reconciliation required",
		zap.Int64("order_id", e.OrderID),
		zap.Int64("payment_id", paymentID),
		zap.String("sku", e.SKU),
		zap.Int("required", e.Required),
		zap.Int("available", e.Available),
		zap.String("tx_id", outcome.TransactionID))

	event := &models.StockInconsistencyEvent{
		BaseEvent: models.NewBaseEvent(uuid.New().String(), models.EventTypeStockInconsistency),
		OrderID:   e.OrderID,
		PaymentID: paymentID,
		SKU:       e.SKU,
		Required:  e.Required,
		Available: e.Available,
	}
	if err := s.publisher.PublishStockInconsistency(ctx, event); err != nil {
		s.logger.Error("Failed to publish StockInconsistency event", zap.Int64("order_id", e.OrderID), zap.Error(err))
	}
}

// recordUnsettledCapture keeps the gateway transaction of an approval that
// settle rejected, so the money can be settled later or refunded. The
// payment keeps its status and only its gateway fields are written. A
// Completed payment is left alone.
func (s *SettlementService) recordUnsettledCapture(ctx context.Context, paymentID int64, outcome gateway.Outcome, cause error) {
	ctx = context.WithoutCancel(ctx)

	var (
		orderID int64
		amount  decimal.Decimal
		status  models.PaymentStatus
	)
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		p, err := tx.GetPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		orderID, amount = p.OrderID, p.Amount
		if _, err := tx.LockOrder(ctx, p.OrderID); err != nil {
			return err
		}
		payment, err := tx.LockPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		status = payment.Status
		if payment.Status == models.PaymentStatusCompleted {
			return nil
		}
		payment.GatewayName = outcome.Gateway
		payment.GatewayTxID = outcome.TransactionID
		payment.GatewayResponse = outcome.RawResponse
		return tx.UpdatePayment(ctx, payment)
	})

	util.UnsettledCapturesTotal.WithLabelValues(outcome.Gateway).Inc()
	s.logger.Error("Gateway approved a payment that could not be settled",
		zap.Int64("payment_id", paymentID),
		zap.Int64("order_id", orderID),
		zap.String("payment_status", string(status)),
		zap.String("gateway", outcome.Gateway),
		zap.String("tx_id", outcome.TransactionID),
		zap.String("gateway_response", outcome.RawResponse),
		zap.NamedError("cause", cause))
	if err != nil {
		s.logger.Error("Failed to record unsettled capture",
			zap.Int64("payment_id", paymentID),
			zap.String("tx_id", outcome.TransactionID),
			zap.Error(err))
	}

	// A Pending payment keeps its approval and settles on the next confirm.
	// Anything else has nowhere left to go.
	if err == nil && status == models.PaymentStatusPending {
		return
	}

	publishRefundRequired(ctx, s.publisher, s.logger, models.Payment{
		ID:          paymentID,
		OrderID:     orderID,
		Amount:      amount,
		GatewayName: outcome.Gateway,
		GatewayTxID: outcome.TransactionID,
	}, cause.Error())
}

// requestRefunds flags failed payments whose gateway kept the money
func requestRefunds(ctx context.Context, publisher EventPublisher, logger *zap.Logger, payments []models.Payment, reason string) {
	for _, p := range payments {
		util.UnsettledCapturesTotal.WithLabelValues(p.GatewayName).Inc()
		logger.Error("Captured payment closed without settlement, refund required",
			zap.Int64("payment_id", p.ID),
			zap.Int64("order_id", p.OrderID),
			zap.String("gateway", p.GatewayName),
			zap.String("tx_id", p.GatewayTxID),
			zap.String("reason", reason))
		publishRefundRequired(ctx, publisher, logger, p, reason)
	}
}

func publishRefundRequired(ctx context.Context, publisher EventPublisher, logger *zap.Logger, p models.Payment, reason string) {
	event := &models.RefundRequiredEvent{
		BaseEvent: models.NewBaseEvent(uuid.New().String(), models.EventTypeRefundRequired),
		OrderID:   p.OrderID,
		PaymentID: p.ID,
		Amount:    p.Amount,
		Gateway:   p.GatewayName,
		TxID:      p.GatewayTxID,
		Reason:    reason,
	}
	if err := publisher.PublishRefundRequired(ctx, event); err != nil {
		logger.Error("Failed to publish RefundRequired event",
			zap.Int64("payment_id", p.ID),
			zap.String("tx_id", p.GatewayTxID),
			zap.Error(err))
	}
}

// supersedePendingPayments fails the other open attempts of a settled order
func supersedePendingPayments(ctx context.Context, tx store.Tx, orderID, keepID int64) ([]models.Payment, error) {
	return failPendingPayments(ctx, tx, orderID, keepID, `{"status":"superseded"}`)
}

// failPendingPayments fails every Pending attempt but keepID. Attempts that
// already carry a gateway transaction keep their gateway response and are
// returned so the caller can request a refund once the transaction commits.
func failPendingPayments(ctx context.Context, tx store.Tx, orderID, keepID int64, raw string) ([]models.Payment, error) {
	payments, err := tx.ListPaymentsByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	var captured []models.Payment
	for i := range payments {
		p := &payments[i]
		if p.ID == keepID || p.Status != models.PaymentStatusPending {
			continue
		}
		if _, err := tx.LockPayment(ctx, p.ID); err != nil {
			return nil, err
		}
		p.Status = models.PaymentStatusFailed
		if p.GatewayTxID != "" {
			captured = append(captured, *p)
		} else {
			p.GatewayResponse = raw
		}
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return nil, err
		}
	}
	return captured, nil
}

func quantitiesByVariant(items []models.OrderItem) map[int64]int {
	out := make(map[int64]int, len(items))
	for _, it := range items {
		out[it.VariantID] += it.Quantity
	}
	return out
}

func sortedKeys(m map[int64]int) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
