package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/storefront/checkout-api/internal/apperr"
	"github.com/storefront/checkout-api/internal/logger"
	"github.com/storefront/checkout-api/internal/models"
	"github.com/storefront/checkout-api/internal/repository"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// OrderService handles the read side and status lifecycle of orders
type OrderService struct {
	store  *repository.Store
	logger *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(store *repository.Store, log *zap.Logger) *OrderService {
	return &OrderService{
		store:  store,
		logger: log,
	}
}

// GetOrder returns an order with its items
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.OrderDetail, error) {
	ctx, span := tracer.Start(ctx, "OrderService.GetOrder")
	defer span.End()
	span.SetAttributes(attribute.Int64("order.id", orderID))

	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	items, err := s.store.Orders.ListItems(ctx, orderID)
	if err != nil {
		return nil, err
	}

	return &models.OrderDetail{Order: *order, Items: items}, nil
}

// ListUserOrders returns a user's orders, newest first
func (s *OrderService) ListUserOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	ctx, span := tracer.Start(ctx, "OrderService.ListUserOrders")
	defer span.End()
	span.SetAttributes(attribute.Int64("user.id", userID))

	if userID <= 0 {
		return nil, apperr.Validation("User ID is required")
	}

	if _, err := s.store.Users.GetByID(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("User %d not found", userID)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return s.store.Orders.ListByUser(ctx, userID)
}

// UpdateOrderStatus moves an order along its lifecycle
func (s *OrderService) UpdateOrderStatus(ctx context.Context, orderID int64, status models.OrderStatus) (*models.Order, error) {
	ctx, span := tracer.Start(ctx, "OrderService.UpdateOrderStatus")
	defer span.End()
	span.SetAttributes(attribute.Int64("order.id", orderID), attribute.String("order.status", string(status)))

	if !status.Valid() {
		return nil, apperr.Validation("Unknown order status %q", status)
	}

	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if !order.Status.CanTransitionTo(status) {
		return nil, apperr.Validation("Cannot move order from %s to %s", order.Status, status).
			WithDetail("current_status", order.Status)
	}

	if err := s.store.Orders.UpdateStatus(ctx, orderID, order.Status, status); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.Conflict("Order %d changed concurrently", orderID)
		}
		return nil, err
	}

	logger.Info(ctx, s.logger, "Order status updated",
		zap.Int64("order_id", orderID),
		zap.String("from", string(order.Status)),
		zap.String("to", string(status)),
	)

	return s.getOrder(ctx, orderID)
}

func (s *OrderService) getOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	order, err := s.store.Orders.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("Order %d not found", orderID)
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}
