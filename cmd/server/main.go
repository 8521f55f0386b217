package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront/config"
	"storefront/internal/api"
	"storefront/internal/broker"
	"storefront/internal/cart"
	"storefront/internal/payment"
	"storefront/internal/redisclient"
	"storefront/internal/service"
	"storefront/internal/store"
	"storefront/internal/util"
	"storefront/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

func main() {
	cmd := &cli.Command{
		Name:   "storefront",
		Usage:  "Cart, checkout and payment service",
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP server and the coupon usage worker",
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "Create the database tables",
				Action: migrate,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func migrate(ctx context.Context, _ *cli.Command) error {
	cfg := config.Load()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return err
	}
	log.Println("Migration complete")
	return nil
}

func serve(ctx context.Context, _ *cli.Command) error {
	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting storefront service")

	tp, err := util.InitTracer(util.ServiceName, cfg.Observ.JaegerEndpoint)
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	eventPublisher := broker.NewEventPublisher(producer)

	provider, err := newPaymentProvider(cfg.Payment)
	if err != nil {
		return err
	}
	logger.Info("Payment provider selected", zap.String("provider", provider.Name()))

	carts := cart.NewStore(redisClient, cfg.Checkout.CartTTL)
	coupons := service.NewCouponService(carts, db)
	fees := service.NewFeeOrchestrator(carts, db, coupons)
	cartService := service.NewCartService(carts, fees, coupons, cfg.Features)
	flow := service.NewCheckoutFlow(redisClient, carts, db, cfg.Checkout.FlowTTL)
	orderService := service.NewOrderService(db, eventPublisher)
	couponUsage := service.NewCouponUsage(db, eventPublisher)
	bridge := service.NewPaymentBridge(
		provider,
		carts,
		flow,
		service.NewPendingOrders(redisClient, cfg.Checkout.PendingOrderTTL),
		redisClient,
		orderService,
		couponUsage,
		service.PaymentConfig{
			Currency:         cfg.Payment.Currency,
			MinCharge:        cfg.Payment.MinCharge,
			ReturnURL:        cfg.Payment.ReturnURL,
			CallbackGuardTTL: cfg.Checkout.CallbackGuardTTL,
			PendingGuardTTL:  cfg.Checkout.PendingGuardTTL,
			Features:         cfg.Features,
		},
	)

	workerCtx, workerCancel := context.WithCancel(ctx)
	defer workerCancel()

	usageConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
	usageWorker := worker.NewCouponUsageWorker(usageConsumer, couponUsage)
	go func() {
		if err := usageWorker.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Coupon usage worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(cartService, flow, bridge, orderService, api.Options{
		Currency:     cfg.Payment.Currency,
		Features:     cfg.Features,
		SecureCookie: cfg.Server.Env == "production",
	})
	handler.AddReadinessCheck("postgres", db)
	handler.AddReadinessCheck("redis", redisClient)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := usageWorker.Stop(); err != nil {
		logger.Warn("Error stopping coupon usage worker", zap.Error(err))
	}

	logger.Info("Server exited")
	return nil
}

func newPaymentProvider(cfg config.PaymentConfig) (payment.Provider, error) {
	switch cfg.Provider {
	case "stripe":
		return payment.NewStripeProvider(cfg.StripeSecretKey)
	case "midtrans":
		return payment.NewMidtransProvider(cfg.MidtransServerKey, cfg.MidtransProduction)
	case "fake":
		return payment.NewFakeProvider(), nil
	default:
		return nil, fmt.Errorf("unknown payment provider %q", cfg.Provider)
	}
}
