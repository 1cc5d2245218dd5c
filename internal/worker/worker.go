package worker

import (
	"context"
	"errors"
	"time"

	"storefront/internal/broker"
	"storefront/internal/models"
	"storefront/internal/service"
	"storefront/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// PaymentConfirmer settles a payment against its gateway
type PaymentConfirmer interface {
	Confirm(ctx context.Context, actor models.Actor, paymentID int64, gatewayContext map[string]string) (*models.OrderView, error)
}

// PaymentCallbackWorker confirms payments announced on the gateway callback topic
type PaymentCallbackWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	confirmer    PaymentConfirmer
	logger       *zap.Logger
}

// NewPaymentCallbackWorker creates a new payment callback worker
func NewPaymentCallbackWorker(consumer *broker.Consumer, confirmer PaymentConfirmer) *PaymentCallbackWorker {
	w := &PaymentCallbackWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		confirmer:    confirmer,
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnPaymentCallback(w.handleCallback)
	return w
}

// Start starts the worker
func (w *PaymentCallbackWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting payment callback worker")
	return w.consumer.StartConsuming(ctx, w.HandleMessage)
}

// Stop stops the worker
func (w *PaymentCallbackWorker) Stop() error {
	w.logger.Info("Stopping payment callback worker")
	return w.consumer.Close()
}

// HandleMessage handles one message from the callback topic
func (w *PaymentCallbackWorker) HandleMessage(ctx context.Context, msg kafka.Message) error {
	return w.eventHandler.HandleMessage(ctx, msg)
}

// handleCallback returns an error only for failures worth retrying.
// Outcomes that are final for the payment are acknowledged.
func (w *PaymentCallbackWorker) handleCallback(ctx context.Context, event *models.PaymentCallbackEvent) error {
	view, err := w.confirmer.Confirm(ctx, models.SystemActor(), event.PaymentID, event.GatewayContext)
	if err == nil {
		w.logger.Info("Payment confirmed from callback",
			zap.Int64("payment_id", event.PaymentID),
			zap.Int64("order_id", view.ID))
		return nil
	}

	if errors.Is(err, service.ErrPaymentInProgress) {
		return err
	}

	switch service.KindOf(err) {
	case service.KindInternal:
		return err
	case service.KindStockInconsistency:
		w.logger.Error("Payment callback needs manual reconciliation",
			zap.Int64("payment_id", event.PaymentID), zap.Error(err))
	default:
		w.logger.Warn("Payment callback not applied",
			zap.Int64("payment_id", event.PaymentID),
			zap.String("kind", service.KindOf(err).String()),
			zap.Error(err))
	}
	return nil
}

// ExpiredReleaser cancels orders whose reservations have expired
type ExpiredReleaser interface {
	ReleaseExpired(ctx context.Context, now time.Time) (int, error)
}

const sweepLockKey = "reservation-sweep"

// SweepWorker periodically releases expired reservations. Replicas share a
// distributed lock so only one sweeps per tick.
type SweepWorker struct {
	releaser ExpiredReleaser
	locker   service.Locker
	interval time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// NewSweepWorker creates a new sweep worker
func NewSweepWorker(releaser ExpiredReleaser, locker service.Locker, interval time.Duration) *SweepWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &SweepWorker{
		releaser: releaser,
		locker:   locker,
		interval: interval,
		now:      time.Now,
		logger:   util.GetLogger(),
	}
}

// Start runs sweeps until ctx is cancelled
func (w *SweepWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting reservation sweep worker", zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Stopping reservation sweep worker")
			return ctx.Err()
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep if this replica wins the lock
func (w *SweepWorker) RunOnce(ctx context.Context) {
	token, ok, err := w.locker.AcquireLock(ctx, sweepLockKey, w.interval)
	if err != nil {
		util.SweepRunsTotal.WithLabelValues("error").Inc()
		w.logger.Warn("Failed to acquire sweep lock", zap.Error(err))
		return
	}
	if !ok {
		util.SweepRunsTotal.WithLabelValues("skipped").Inc()
		return
	}
	defer func() {
		if err := w.locker.ReleaseLock(context.Background(), sweepLockKey, token); err != nil {
			w.logger.Warn("Failed to release sweep lock", zap.Error(err))
		}
	}()

	cancelled, err := w.releaser.ReleaseExpired(ctx, w.now())
	if err != nil {
		util.SweepRunsTotal.WithLabelValues("error").Inc()
		w.logger.Error("Reservation sweep failed", zap.Int("cancelled", cancelled), zap.Error(err))
		return
	}

	util.SweepRunsTotal.WithLabelValues("ok").Inc()
	if cancelled > 0 {
		w.logger.Info("Reservation sweep finished", zap.Int("cancelled", cancelled))
	}
}
