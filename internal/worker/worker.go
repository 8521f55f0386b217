package worker

import (
	"context"

	"storefront/internal/broker"
	"storefront/internal/service"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// CouponUsageWorker consumes CouponUsed events and records the usage
type CouponUsageWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewCouponUsageWorker creates a new coupon usage worker
func NewCouponUsageWorker(consumer *broker.Consumer, usage *service.CouponUsage) *CouponUsageWorker {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnCouponUsed(usage.HandleCouponUsed)

	return &CouponUsageWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.GetLogger(),
	}
}

// Start starts the worker. It blocks until ctx is cancelled.
func (w *CouponUsageWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting coupon usage worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *CouponUsageWorker) Stop() error {
	w.logger.Info("Stopping coupon usage worker")
	return w.consumer.Close()
}
