package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shopora/checkout/internal/clients"
	"github.com/shopora/checkout/internal/handlers"
	"github.com/shopora/checkout/internal/payments"
	"github.com/shopora/checkout/internal/platform/config"
	"github.com/shopora/checkout/internal/platform/idempotency"
	"github.com/shopora/checkout/internal/platform/observability"
	"github.com/shopora/checkout/internal/repositories"
	"github.com/shopora/checkout/internal/repositories/file"
	"github.com/shopora/checkout/internal/repositories/redisstore"
	"github.com/shopora/checkout/internal/services"
)

// Populated at build time via -ldflags.
var (
	version   = "dev"
	commitSHA = "unknown"
)

const (
	shutdownGracePeriod = 15 * time.Second

	idempotencyCleanupInterval = time.Hour
	idempotencyCleanupBatch    = 256
)

func main() {
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	events := observability.EventLogger(logger)

	cfg, err := config.Load()
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Fatal("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close error", zap.Error(err))
			}
		}()
	}

	cartRepo, err := file.NewCartRepository(cfg.Cart.StorePath)
	if err != nil {
		logger.Fatal("failed to open cart store", zap.Error(err))
	}

	var snapshotRepo repositories.SnapshotRepository
	if redisClient != nil {
		snapshotRepo, err = redisstore.NewSnapshotRepository(redisClient, cfg.Cart.SnapshotTTL)
	} else {
		snapshotRepo, err = file.NewSnapshotRepository(cfg.Cart.SnapshotPath)
	}
	if err != nil {
		logger.Fatal("failed to open snapshot store", zap.Error(err))
	}

	var idemStore idempotency.Store
	if redisClient != nil {
		idemStore = idempotency.NewRedisStore(redisClient, cfg.Idempotency.TTL)
	} else {
		idemStore = idempotency.NewMemoryStore()
	}

	catalogClient, err := clients.NewCatalogClient(cfg.Catalog, cfg.Breaker, nil)
	if err != nil {
		logger.Fatal("failed to build catalog client", zap.Error(err))
	}
	ordersClient, err := clients.NewOrdersClient(cfg.Orders, cfg.Breaker, nil)
	if err != nil {
		logger.Fatal("failed to build orders client", zap.Error(err))
	}
	paymentsClient, err := clients.NewPaymentsClient(config.ServiceConfig{
		BaseURL: cfg.Payments.BaseURL,
		Timeout: cfg.Payments.Timeout,
	}, cfg.Breaker, nil)
	if err != nil {
		logger.Fatal("failed to build payments client", zap.Error(err))
	}
	profileClient, err := clients.NewProfileClient(cfg.Profile, cfg.Breaker, nil)
	if err != nil {
		logger.Fatal("failed to build profile client", zap.Error(err))
	}

	snapshots, err := services.NewSnapshotService(services.SnapshotServiceDeps{
		Repository: snapshotRepo,
		Catalog:    catalogClient,
		Clock:      time.Now,
		TTL:        cfg.Cart.SnapshotTTL,
		Logger:     events,
	})
	if err != nil {
		logger.Fatal("failed to build snapshot service", zap.Error(err))
	}

	carts, err := services.NewCartService(services.CartServiceDeps{
		Repository: cartRepo,
		Snapshots:  snapshots,
		Clock:      time.Now,
		Logger:     events,
	})
	if err != nil {
		logger.Fatal("failed to build cart service", zap.Error(err))
	}

	reconciler, err := services.NewReconciler(services.ReconcilerDeps{
		Snapshots: snapshots,
		Logger:    events,
	})
	if err != nil {
		logger.Fatal("failed to build reconciler", zap.Error(err))
	}

	gateway, err := buildGateway(cfg.Payments, paymentsClient, events)
	if err != nil {
		logger.Fatal("failed to build payment gateway", zap.Error(err))
	}

	checkout, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Cart:        carts,
		Reconciler:  reconciler,
		Orders:      &orderClient{orders: ordersClient},
		Gateway:     gateway,
		Addresses:   profileClient,
		Idempotency: idemStore,
		IdemTTL:     cfg.Idempotency.TTL,
		Pricer:      services.NewDeliveryPricer(cfg.Delivery.FreeThreshold, cfg.Delivery.Charge),
		Currency:    cfg.Payments.Currency,
		Clock:       time.Now,
		Logger:      events,
	})
	if err != nil {
		logger.Fatal("failed to build checkout service", zap.Error(err))
	}

	healthOpts := []handlers.HealthOption{
		handlers.WithHealthBuildInfo(handlers.BuildInfo{
			Version:     version,
			CommitSHA:   commitSHA,
			Environment: environmentName(),
			StartedAt:   startedAt,
		}),
		handlers.WithHealthProbe("cart_store", func(ctx context.Context) error {
			_, err := cartRepo.Lines(ctx)
			return err
		}),
	}
	if redisClient != nil {
		healthOpts = append(healthOpts, handlers.WithHealthProbe("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}))
	}

	cartHandlers := handlers.NewCartHandlers(carts, reconciler, events)
	checkoutHandlers := handlers.NewCheckoutHandlers(checkout, ordersClient, events)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger),
			handlers.IdentityMiddleware,
			observability.RequestLoggerMiddleware(),
			observability.RecoveryMiddleware(logger),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(healthOpts...)),
		handlers.WithMetricsHandler(observability.MetricsHandler()),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		ticker := time.NewTicker(idempotencyCleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if n, err := idemStore.CleanupExpired(ctx, now, idempotencyCleanupBatch); err != nil {
					logger.Warn("idempotency cleanup failed", zap.Error(err))
				} else if n > 0 {
					logger.Debug("idempotency records expired", zap.Int("count", n))
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			zap.String("addr", server.Addr),
			zap.String("version", version),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	logger.Info("server stopped")
}

// buildGateway registers the configured payment providers behind the manager.
// The REST provider is always available; Stripe joins only when an API key is
// configured.
func buildGateway(cfg config.PaymentsConfig, restClient *clients.PaymentsClient, events payments.StripeLogger) (payments.Provider, error) {
	restProvider, err := payments.NewRESTProvider(restClient, time.Now)
	if err != nil {
		return nil, err
	}

	providers := map[string]payments.Provider{
		"rest": restProvider,
	}
	if cfg.StripeAPIKey != "" {
		stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey: cfg.StripeAPIKey,
			Logger: events,
			Clock:  time.Now,
		})
		if err != nil {
			return nil, err
		}
		providers["stripe"] = stripeProvider
	}

	return payments.NewManager(providers, payments.WithDefaultProvider(cfg.DefaultGateway))
}

// orderClient adapts the orders REST client to the checkout orchestrator's
// order contract.
type orderClient struct {
	orders *clients.OrdersClient
}

func (c *orderClient) CreateOrder(ctx context.Context, placement services.OrderPlacement) (services.Order, error) {
	lines := make([]clients.OrderLine, 0, len(placement.Lines))
	for _, line := range placement.Lines {
		lines = append(lines, clients.OrderLine{
			ProductID: line.ProductID,
			Name:      line.Name,
			UnitPrice: line.UnitPrice,
			Quantity:  line.Quantity,
		})
	}
	return c.orders.CreateOrder(ctx, clients.CreateOrderRequest{
		AttemptID:       placement.AttemptID,
		UserID:          placement.UserID,
		ShopID:          placement.ShopID,
		Lines:           lines,
		Subtotal:        placement.Subtotal,
		DeliveryCharge:  placement.DeliveryCharge,
		Total:           placement.Total,
		ShippingAddress: placement.ShippingAddress,
		PaymentMethod:   string(placement.PaymentMethod),
		Notes:           placement.Notes,
	})
}

func (c *orderClient) FindByAttempt(ctx context.Context, attemptID string) (services.Order, bool, error) {
	return c.orders.FindByAttempt(ctx, attemptID)
}

func environmentName() string {
	if env := os.Getenv("CHECKOUT_ENV"); env != "" {
		return env
	}
	return "development"
}
