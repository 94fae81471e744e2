package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/storefront/checkout-api/internal/api"
	"github.com/storefront/checkout-api/internal/cache"
	"github.com/storefront/checkout-api/internal/db"
	"github.com/storefront/checkout-api/internal/logger"
	"github.com/storefront/checkout-api/internal/metrics"
	"github.com/storefront/checkout-api/internal/repository"
	"github.com/storefront/checkout-api/internal/repository/memstore"
	mysqlrepo "github.com/storefront/checkout-api/internal/repository/mysql"
	"github.com/storefront/checkout-api/internal/services"
	"github.com/storefront/checkout-api/internal/tracing"
	"github.com/storefront/checkout-api/pkg/config"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zl, err := logger.New(cfg.LogLevel, cfg.IsProduction())
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zl.Sync()

	if err := run(cfg, zl); err != nil {
		zl.Fatal("Server exited with error", zap.Error(err))
	}
	zl.Info("Server exited")
}

func run(cfg *config.Config, zl *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize OpenTelemetry metrics
	appMetrics := metrics.NewNoop()
	if cfg.OTELMetricsEnabled {
		m, meterProvider, err := metrics.InitMetrics(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize metrics: %w", err)
		}
		appMetrics = m
		defer shutdown(zl, "meter provider", meterProvider.Shutdown)
	}

	if cfg.OTELTracesEnabled {
		tracerProvider, err := tracing.InitTracer(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		defer shutdown(zl, "tracer provider", tracerProvider.Shutdown)
	}

	// Initialize storage
	var (
		store  *repository.Store
		health api.Pinger
	)
	switch cfg.StoreDriver {
	case "memory":
		zl.Warn("Using in-memory store; data is lost on restart")
		store = memstore.New()
	default:
		if cfg.DBMigrate {
			if err := db.Migrate(cfg.GetDSN(), zl); err != nil {
				return err
			}
		}

		database, err := db.NewDB(ctx, cfg.GetDSN(), db.Options{
			MaxOpenConns: cfg.DBMaxOpenConns,
			MaxIdleConns: cfg.DBMaxIdleConns,
			ServiceName:  cfg.OTELServiceName,
		}, zl)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer database.Close()

		store = mysqlrepo.NewStore(database, appMetrics)
		health = database
	}

	// Product cache
	var productCache cache.ProductCache
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer client.Close()
		productCache = cache.NewRedisCache(client, cfg.ProductCacheTTL, zl)
	} else {
		productCache = cache.NewMemoryCache(cfg.ProductCacheTTL)
	}

	// Initialize services
	cartService := services.NewCartService(store, appMetrics, zl)
	svc := api.Services{
		Products: services.NewProductService(store, productCache, appMetrics, zl),
		Carts:    cartService,
		Checkout: services.NewCheckoutService(store, productCache, appMetrics, zl, services.CheckoutOptions{
			Timeout:      cfg.CheckoutTimeout,
			ReserveStock: cfg.CheckoutReserveStock,
		}),
		Orders: services.NewOrderService(store, zl),
		Users:  services.NewUserService(store, zl, services.UserOptions{
			JWTSecret: cfg.JWTSecret,
			TokenTTL:  cfg.JWTTTL,
		}),
	}

	go cartService.MonitorActiveCarts(ctx, cfg.ActiveCartsInterval)

	app := api.NewApp(cfg, svc, appMetrics, zl, health)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      app.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zl.Info("Server starting",
			zap.String("port", cfg.AppPort),
			zap.String("store", cfg.StoreDriver),
			zap.String("otlp_endpoint", cfg.OTELExporterOTLPEndpoint),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for interrupt signal
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed to start: %w", err)
		}
	case <-ctx.Done():
	}

	zl.Info("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

func shutdown(zl *zap.Logger, name string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		zl.Error("Error shutting down "+name, zap.Error(err))
	}
}
