package service

import (
	"context"
	"fmt"
	"time"

	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// ReservationSweeper cancels Pending orders whose stock holds have expired,
// returning the held quantity to availability
type ReservationSweeper struct {
	repo      store.Repository
	publisher EventPublisher
	batchSize int
	logger    *zap.Logger
}

// NewReservationSweeper creates a new sweeper that handles at most batchSize orders per run
func NewReservationSweeper(repo store.Repository, publisher EventPublisher, batchSize int) *ReservationSweeper {
	if batchSize < 1 {
		batchSize = 100
	}
	return &ReservationSweeper{
		repo:      repo,
		publisher: publisher,
		batchSize: batchSize,
		logger:    util.GetLogger(),
	}
}

// ReleaseExpired cancels every order holding a reservation that expired at
// or before now. Each order is handled in its own transaction under the
// order row lock, so a concurrent confirmation either wins or sees the
// order Cancelled. It returns the number of orders cancelled.
func (s *ReservationSweeper) ReleaseExpired(ctx context.Context, now time.Time) (int, error) {
	ctx, span := util.StartSpan(ctx, "ReservationSweeper.ReleaseExpired")
	defer span.End()

	var orderIDs []int64
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		var err error
		orderIDs, err = tx.ListExpiredReservationOrders(ctx, now, s.batchSize)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list expired reservations: %w", err)
	}

	cancelled := 0
	for _, id := range orderIDs {
		if ctx.Err() != nil {
			return cancelled, ctx.Err()
		}

		order, closed, released, err := s.releaseOrder(ctx, id)
		if err != nil {
			s.logger.Error("Failed to release expired reservation", zap.Int64("order_id", id), zap.Error(err))
			continue
		}
		util.ReservationsReleasedTotal.WithLabelValues("expired").Add(float64(released))
		if order == nil {
			continue
		}

		cancelled++
		util.OrdersCancelledTotal.WithLabelValues(string(order.Status)).Inc()
		s.logger.Info("Expired order cancelled", zap.Int64("order_id", order.ID), zap.Int("reservations", released))
		publishClosed(ctx, s.publisher, s.logger, *order, ReasonReservationExpired, closed)
	}
	return cancelled, nil
}

// releaseOrder returns the cancelled order, or nil if it had already left
// Pending and only stale holds were dropped
func (s *ReservationSweeper) releaseOrder(ctx context.Context, orderID int64) (*models.Order, closure, int, error) {
	var result *models.Order
	var closed closure
	released := 0
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}

		holds, err := tx.ListReservations(ctx, orderID)
		if err != nil {
			return err
		}
		released = len(holds)

		if order.Status != models.OrderStatusPending {
			_, err := tx.DeleteReservations(ctx, orderID)
			return err
		}

		closed, err = closeOrder(ctx, tx, models.SystemActor(), order, models.OrderStatusCancelled)
		if err != nil {
			return err
		}
		result = order
		return nil
	})
	if err != nil {
		return nil, closure{}, 0, err
	}
	return result, closed, released, nil
}
