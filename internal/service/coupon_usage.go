package service

import (
	"context"
	"fmt"
	"time"

	"storefront/internal/models"
	"storefront/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CouponUsageStore records coupon usage once per event
type CouponUsageStore interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	RecordCouponUsage(ctx context.Context, eventID string, couponID int64) error
}

// CouponUsagePublisher announces consumed coupons
type CouponUsagePublisher interface {
	PublishCouponUsed(ctx context.Context, event *models.CouponUsedEvent) error
}

// CouponUsage marks coupons as used. Marking publishes an event; the
// usage counter is incremented by the consumer of that event.
type CouponUsage struct {
	store     CouponUsageStore
	publisher CouponUsagePublisher
	logger    *zap.Logger
}

// NewCouponUsage creates a new coupon usage service
func NewCouponUsage(store CouponUsageStore, publisher CouponUsagePublisher) *CouponUsage {
	return &CouponUsage{
		store:     store,
		publisher: publisher,
		logger:    util.GetLogger(),
	}
}

// MarkCouponUsed implements CouponUsageRecorder
func (c *CouponUsage) MarkCouponUsed(ctx context.Context, couponID, orderID int64) error {
	event := &models.CouponUsedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeCouponUsed,
			Timestamp: time.Now(),
		},
		CouponID: couponID,
		OrderID:  orderID,
	}
	if err := c.publisher.PublishCouponUsed(ctx, event); err != nil {
		return fmt.Errorf("failed to publish CouponUsed event: %w", err)
	}
	return nil
}

// HandleCouponUsed increments the usage count of the coupon in event.
// Redelivered events are ignored.
func (c *CouponUsage) HandleCouponUsed(ctx context.Context, event *models.CouponUsedEvent) error {
	ctx, span := util.StartSpan(ctx, "CouponUsage.HandleCouponUsed")
	defer span.End()

	processed, err := c.store.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		c.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	if err := c.store.RecordCouponUsage(ctx, event.EventID, event.CouponID); err != nil {
		return fmt.Errorf("failed to record coupon usage: %w", err)
	}

	util.CouponUsageRecordedTotal.Inc()
	c.logger.Info("Coupon usage recorded",
		zap.Int64("coupon_id", event.CouponID),
		zap.Int64("order_id", event.OrderID))
	return nil
}
