package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/storefront/checkout-api/internal/apperr"
	"github.com/storefront/checkout-api/internal/cache"
	"github.com/storefront/checkout-api/internal/logger"
	"github.com/storefront/checkout-api/internal/metrics"
	"github.com/storefront/checkout-api/internal/models"
	"github.com/storefront/checkout-api/internal/repository"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// CheckoutOptions tunes the checkout transaction
type CheckoutOptions struct {
	// Timeout bounds the transaction, lock waits included.
	Timeout time.Duration
	// ReserveStock decrements product stock inside the transaction.
	ReserveStock bool
}

// CheckoutService turns a user's cart into an order
type CheckoutService struct {
	store   *repository.Store
	cache   cache.ProductCache
	metrics *metrics.AppMetrics
	logger  *zap.Logger
	opts    CheckoutOptions
}

// NewCheckoutService creates a new checkout service
func NewCheckoutService(store *repository.Store, c cache.ProductCache, m *metrics.AppMetrics, log *zap.Logger, opts CheckoutOptions) *CheckoutService {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &CheckoutService{
		store:   store,
		cache:   c,
		metrics: m,
		logger:  log,
		opts:    opts,
	}
}

// Checkout converts the user's cart into a Pending order and empties the cart, all or nothing.
func (s *CheckoutService) Checkout(ctx context.Context, userID int64) (*models.Order, error) {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "CheckoutService.Checkout")
	defer span.End()
	span.SetAttributes(attribute.Int64("user.id", userID))

	order, items, err := s.checkout(ctx, userID)

	duration := float64(time.Since(start).Milliseconds())
	if err != nil {
		kind := apperr.KindOf(err)
		attrs := s.metrics.WithServiceName([]attribute.KeyValue{
			attribute.String("error.kind", string(kind)),
		})
		s.metrics.CheckoutFailures.Add(ctx, 1, metric.WithAttributes(attrs...))
		s.metrics.CheckoutDuration.Record(ctx, duration, metric.WithAttributes(s.metrics.WithServiceName([]attribute.KeyValue{
			attribute.String("status", "error"),
		})...))
		recordSpanError(span, err)

		fields := []zap.Field{zap.Int64("user_id", userID), zap.String("kind", string(kind)), zap.Error(err)}
		switch kind {
		case apperr.KindValidation, apperr.KindNotFound:
			logger.Info(ctx, s.logger, "Checkout rejected", fields...)
		default:
			logger.Error(ctx, s.logger, "Checkout failed", fields...)
		}
		return nil, err
	}

	attrs := s.metrics.WithServiceName([]attribute.KeyValue{
		attribute.String("order.status", string(order.Status)),
	})
	s.metrics.OrdersCreated.Add(ctx, 1, metric.WithAttributes(attrs...))
	s.metrics.RevenueTotal.Add(ctx, order.TotalPrice.InexactFloat64(), metric.WithAttributes(s.metrics.WithServiceName(nil)...))
	s.metrics.CheckoutDuration.Record(ctx, duration, metric.WithAttributes(s.metrics.WithServiceName([]attribute.KeyValue{
		attribute.String("status", "success"),
	})...))

	if s.opts.ReserveStock {
		for _, item := range items {
			s.cache.Delete(ctx, item.ProductID)
		}
	}

	span.SetAttributes(attribute.Int64("order.id", order.ID), attribute.Int("order.items", len(items)))
	logger.Info(ctx, s.logger, "Order created",
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", userID),
		zap.String("total_price", order.TotalPrice.StringFixed(2)),
		zap.Int("items", len(items)),
	)

	return order, nil
}

func (s *CheckoutService) checkout(ctx context.Context, userID int64) (*models.Order, []models.OrderItem, error) {
	if userID <= 0 {
		return nil, nil, apperr.Validation("User ID is required")
	}

	if _, err := s.store.Users.GetByID(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, apperr.NotFound("User not found")
		}
		return nil, nil, fmt.Errorf("failed to load user: %w", err)
	}

	cart, err := s.store.Carts.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, apperr.NotFound("Cart not found")
		}
		return nil, nil, fmt.Errorf("failed to load cart: %w", err)
	}

	// A client disconnect must not abort a half-written checkout; only the deadline does.
	txCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.Timeout)
	defer cancel()

	var (
		order *models.Order
		items []models.OrderItem
	)
	err = s.store.Tx.WithinTx(txCtx, func(ctx context.Context) error {
		if err := s.store.Carts.Lock(ctx, cart.ID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperr.NotFound("Cart not found")
			}
			return err
		}

		lines, err := s.store.Carts.ListLines(ctx, cart.ID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return apperr.Validation("Cart is empty")
		}

		total, snapshot, err := priceLines(lines)
		if err != nil {
			return err
		}

		if s.opts.ReserveStock {
			if err := s.reserveStock(ctx, lines); err != nil {
				return err
			}
		}

		order = &models.Order{UserID: userID, TotalPrice: total, Status: models.OrderStatusPending}
		if err := s.store.Orders.Create(ctx, order); err != nil {
			return err
		}

		for i := range snapshot {
			snapshot[i].OrderID = order.ID
		}
		if err := s.store.Orders.CreateItems(ctx, snapshot); err != nil {
			return err
		}
		items = snapshot

		if _, err := s.store.Carts.ClearItems(ctx, cart.ID); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			return nil, nil, err
		}
		return nil, nil, apperr.Transaction(err, "Checkout could not be completed")
	}

	return order, items, nil
}

// priceLines validates every line and snapshots its current product price.
func priceLines(lines []models.CartLine) (decimal.Decimal, []models.OrderItem, error) {
	total := decimal.Zero
	items := make([]models.OrderItem, 0, len(lines))

	for _, line := range lines {
		if line.Product == nil || line.Product.Price.IsNegative() {
			return decimal.Zero, nil, apperr.Integrity("Product details missing or invalid").
				WithDetail("cart_item_id", line.ID).
				WithDetail("product_id", line.ProductID)
		}
		if line.Quantity < 1 {
			return decimal.Zero, nil, apperr.Integrity("Invalid quantity for cart item %d", line.ID).
				WithDetail("cart_item_id", line.ID).
				WithDetail("quantity", line.Quantity)
		}

		total = total.Add(line.LineTotal())
		items = append(items, models.OrderItem{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			Price:     line.Product.Price,
		})
	}

	return total.Round(2), items, nil
}

// reserveStock decrements stock in product id order so concurrent checkouts lock rows consistently.
func (s *CheckoutService) reserveStock(ctx context.Context, lines []models.CartLine) error {
	ordered := make([]models.CartLine, len(lines))
	copy(ordered, lines)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ProductID < ordered[j].ProductID })

	for _, line := range ordered {
		err := s.store.Products.DecreaseStock(ctx, line.ProductID, line.Quantity)
		switch {
		case err == nil:
		case errors.Is(err, repository.ErrInsufficientStock):
			// The line's stock was read before the guarded decrement; report the current level.
			available := line.Product.StockQuantity
			if current, err := s.store.Products.GetByID(ctx, line.ProductID); err == nil {
				available = current.StockQuantity
			}
			return apperr.Validation("Insufficient stock for product %d", line.ProductID).
				WithDetail("product_id", line.ProductID).
				WithDetail("max_allowed", available)
		case errors.Is(err, repository.ErrNotFound):
			return apperr.Integrity("Product details missing or invalid").
				WithDetail("product_id", line.ProductID)
		default:
			return err
		}
	}
	return nil
}
