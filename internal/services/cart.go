package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/storefront/checkout-api/internal/apperr"
	"github.com/storefront/checkout-api/internal/logger"
	"github.com/storefront/checkout-api/internal/metrics"
	"github.com/storefront/checkout-api/internal/models"
	"github.com/storefront/checkout-api/internal/repository"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// CartService handles cart-related operations
type CartService struct {
	store   *repository.Store
	metrics *metrics.AppMetrics
	logger  *zap.Logger
}

// NewCartService creates a new cart service
func NewCartService(store *repository.Store, m *metrics.AppMetrics, log *zap.Logger) *CartService {
	return &CartService{
		store:   store,
		metrics: m,
		logger:  log,
	}
}

// MonitorActiveCarts periodically records the number of carts holding items until ctx is done.
func (s *CartService) MonitorActiveCarts(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.recordActiveCarts(ctx)
		}
	}
}

func (s *CartService) recordActiveCarts(ctx context.Context) {
	count, err := s.store.Carts.CountActive(ctx)
	if err != nil {
		logger.Warn(ctx, s.logger, "Failed to count active carts", zap.Error(err))
		return
	}
	s.metrics.ActiveCartsCount.Record(ctx, int64(count), metric.WithAttributes(s.metrics.WithServiceName(nil)...))
}

// GetOrCreateCart returns the user's cart with its lines, creating an empty cart on first access.
func (s *CartService) GetOrCreateCart(ctx context.Context, userID int64) (*models.CartResponse, error) {
	ctx, span := tracer.Start(ctx, "CartService.GetOrCreateCart")
	defer span.End()
	span.SetAttributes(attribute.Int64("user.id", userID))

	if err := s.requireUser(ctx, userID); err != nil {
		return nil, err
	}

	cart, err := s.store.Carts.GetByUserID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		cart = &models.Cart{UserID: userID}
		err = s.store.Carts.Create(ctx, cart)
		if errors.Is(err, repository.ErrDuplicate) {
			// Lost a race with a concurrent first access.
			cart, err = s.store.Carts.GetByUserID(ctx, userID)
		} else if err == nil {
			logger.Info(ctx, s.logger, "Cart created", zap.Int64("user_id", userID), zap.Int64("cart_id", cart.ID))
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	lines, err := s.store.Carts.ListLines(ctx, cart.ID)
	if err != nil {
		return nil, err
	}

	return &models.CartResponse{Cart: cart, Items: lines}, nil
}

// GetCartSummary computes item count and subtotal from current product prices.
func (s *CartService) GetCartSummary(ctx context.Context, userID int64) (*models.CartSummary, error) {
	ctx, span := tracer.Start(ctx, "CartService.GetCartSummary")
	defer span.End()
	span.SetAttributes(attribute.Int64("user.id", userID))

	if userID <= 0 {
		return nil, apperr.Validation("User ID is required")
	}

	cart, err := s.store.Carts.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("Cart not found for user %d", userID)
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	lines, err := s.store.Carts.ListLines(ctx, cart.ID)
	if err != nil {
		return nil, err
	}

	summary := &models.CartSummary{
		CartID:   cart.ID,
		UserID:   cart.UserID,
		Subtotal: decimal.Zero,
		Items:    lines,
	}
	for _, line := range lines {
		summary.ItemCount += line.Quantity
		summary.Subtotal = summary.Subtotal.Add(line.LineTotal())
	}

	s.recordCartItemsCount(ctx, cart, len(lines))

	return summary, nil
}

// AddItem merges quantity into the existing line for the product, or creates one.
// created reports whether a new line was inserted.
func (s *CartService) AddItem(ctx context.Context, cartID, productID int64, quantity int) (item *models.CartItem, created bool, err error) {
	ctx, span := tracer.Start(ctx, "CartService.AddItem")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("cart.id", cartID),
		attribute.Int64("product.id", productID),
		attribute.Int("quantity", quantity),
	)

	if quantity < 1 {
		return nil, false, apperr.Validation("Quantity must be at least 1")
	}

	err = s.store.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.lockCart(ctx, cartID); err != nil {
			return err
		}

		product, err := s.store.Products.GetByID(ctx, productID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperr.Validation("Product %d does not exist", productID)
			}
			return err
		}

		existing, err := s.store.Carts.GetItemByProduct(ctx, cartID, productID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		current := 0
		if existing != nil {
			current = existing.Quantity
		}
		if current+quantity > product.StockQuantity {
			return apperr.Validation("Requested quantity exceeds available stock").
				WithDetail("product_id", productID).
				WithDetail("max_allowed", max(product.StockQuantity-current, 0))
		}

		if existing != nil {
			existing.Quantity = current + quantity
			if err := s.store.Carts.UpdateItemQuantity(ctx, existing.ID, existing.Quantity); err != nil {
				return err
			}
			item = existing
			return nil
		}

		item = &models.CartItem{CartID: cartID, ProductID: productID, Quantity: quantity}
		if err := s.store.Carts.CreateItem(ctx, item); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	s.updateCartItemsCount(ctx, cartID)
	return item, created, nil
}

// UpdateItemQuantity sets the quantity of a line. The new quantity is checked against current stock.
func (s *CartService) UpdateItemQuantity(ctx context.Context, itemID int64, quantity int) (*models.CartItem, error) {
	ctx, span := tracer.Start(ctx, "CartService.UpdateItemQuantity")
	defer span.End()
	span.SetAttributes(attribute.Int64("cart_item.id", itemID), attribute.Int("quantity", quantity))

	if quantity < 1 {
		return nil, apperr.Validation("Quantity must be at least 1")
	}

	item, err := s.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}

	err = s.store.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.lockCart(ctx, item.CartID); err != nil {
			return err
		}

		// Re-read under the lock; a checkout may have cleared the line meanwhile.
		locked, err := s.store.Carts.GetItem(ctx, itemID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperr.NotFound("Cart item %d not found", itemID)
			}
			return err
		}

		product, err := s.store.Products.GetByID(ctx, locked.ProductID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperr.Validation("Product %d is no longer available", locked.ProductID)
			}
			return err
		}
		if quantity > product.StockQuantity {
			return apperr.Validation("Requested quantity exceeds available stock").
				WithDetail("product_id", product.ID).
				WithDetail("max_allowed", product.StockQuantity)
		}

		if err := s.store.Carts.UpdateItemQuantity(ctx, itemID, quantity); err != nil {
			return err
		}
		locked.Quantity = quantity
		item = locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	return item, nil
}

// RemoveItem deletes a cart line
func (s *CartService) RemoveItem(ctx context.Context, itemID int64) error {
	ctx, span := tracer.Start(ctx, "CartService.RemoveItem")
	defer span.End()
	span.SetAttributes(attribute.Int64("cart_item.id", itemID))

	item, err := s.GetItem(ctx, itemID)
	if err != nil {
		return err
	}

	err = s.store.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.lockCart(ctx, item.CartID); err != nil {
			return err
		}
		if err := s.store.Carts.DeleteItem(ctx, itemID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperr.NotFound("Cart item %d not found", itemID)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.updateCartItemsCount(ctx, item.CartID)
	return nil
}

// GetItem returns a single cart line
func (s *CartService) GetItem(ctx context.Context, itemID int64) (*models.CartItem, error) {
	item, err := s.store.Carts.GetItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("Cart item %d not found", itemID)
		}
		return nil, fmt.Errorf("failed to get cart item: %w", err)
	}
	return item, nil
}

// ListItems returns the lines of a cart with their products
func (s *CartService) ListItems(ctx context.Context, cartID int64) ([]models.CartLine, error) {
	if _, err := s.GetCart(ctx, cartID); err != nil {
		return nil, err
	}
	return s.store.Carts.ListLines(ctx, cartID)
}

// GetCart returns a cart by id
func (s *CartService) GetCart(ctx context.Context, cartID int64) (*models.Cart, error) {
	cart, err := s.store.Carts.GetByID(ctx, cartID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("Cart %d not found", cartID)
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}
	return cart, nil
}

func (s *CartService) requireUser(ctx context.Context, userID int64) error {
	if userID <= 0 {
		return apperr.Validation("User ID is required")
	}
	if _, err := s.store.Users.GetByID(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("User %d not found", userID)
		}
		return fmt.Errorf("failed to get user: %w", err)
	}
	return nil
}

func (s *CartService) lockCart(ctx context.Context, cartID int64) error {
	if err := s.store.Carts.Lock(ctx, cartID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("Cart %d not found", cartID)
		}
		return err
	}
	return nil
}

// updateCartItemsCount updates the cart items count gauge metric
func (s *CartService) updateCartItemsCount(ctx context.Context, cartID int64) {
	cart, err := s.store.Carts.GetByID(ctx, cartID)
	if err != nil {
		return
	}
	count, err := s.store.Carts.CountItems(ctx, cartID)
	if err != nil {
		return
	}
	s.recordCartItemsCount(ctx, cart, count)
}

func (s *CartService) recordCartItemsCount(ctx context.Context, cart *models.Cart, count int) {
	attrs := s.metrics.WithServiceName([]attribute.KeyValue{
		attribute.Int64("user_id", cart.UserID),
	})
	logger.Debug(ctx, s.logger, "Recording cart items count",
		zap.Int64("user_id", cart.UserID),
		zap.Int64("cart_id", cart.ID),
		zap.Int("count", count),
	)
	s.metrics.CartItemsCount.Record(ctx, int64(count), metric.WithAttributes(attrs...))
}
