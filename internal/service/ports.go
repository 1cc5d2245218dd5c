package service

import (
	"context"
	"time"

	"storefront/internal/models"
)

// EventPublisher emits domain events after a unit of work commits
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error
	PublishPaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error
	PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
	PublishStockInconsistency(ctx context.Context, event *models.StockInconsistencyEvent) error
	PublishRefundRequired(ctx context.Context, event *models.RefundRequiredEvent) error
}

// Locker hands out short-lived distributed locks
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	ReleaseLock(ctx context.Context, key, token string) error
}

// IdempotencyStore remembers which order a checkout request produced
type IdempotencyStore interface {
	// ClaimIdempotencyKey marks key as in flight. It returns false if the key
	// is already claimed or completed.
	ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// IdempotentOrder returns the order stored for a completed key
	IdempotentOrder(ctx context.Context, key string) (orderID int64, found bool, err error)
	CompleteIdempotencyKey(ctx context.Context, key string, orderID int64, ttl time.Duration) error
	ReleaseIdempotencyKey(ctx context.Context, key string) error
}
