package services

import (
	"context"
	"errors"
	"fmt"

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

const (
	DefaultProductLimit = 20
	MaxProductLimit     = 100
)

// ProductService handles product-related operations
type ProductService struct {
	store   *repository.Store
	cache   cache.ProductCache
	metrics *metrics.AppMetrics
	logger  *zap.Logger
}

// NewProductService creates a new product service
func NewProductService(store *repository.Store, c cache.ProductCache, m *metrics.AppMetrics, log *zap.Logger) *ProductService {
	return &ProductService{
		store:   store,
		cache:   c,
		metrics: m,
		logger:  log,
	}
}

// ListProducts returns a page of live products
func (s *ProductService) ListProducts(ctx context.Context, limit, offset int) ([]models.Product, error) {
	if limit <= 0 {
		limit = DefaultProductLimit
	}
	if limit > MaxProductLimit {
		limit = MaxProductLimit
	}
	if offset < 0 {
		return nil, apperr.Validation("Offset must not be negative")
	}

	return s.store.Products.List(ctx, limit, offset)
}

// GetProduct returns a product by ID, read through the cache
func (s *ProductService) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	ctx, span := tracer.Start(ctx, "ProductService.GetProduct")
	defer span.End()
	span.SetAttributes(attribute.Int64("product.id", id))

	cacheAttrs := metric.WithAttributes(s.metrics.WithServiceName([]attribute.KeyValue{
		attribute.String("cache.name", "product"),
	})...)

	product, ok := s.cache.Get(ctx, id)
	if ok {
		s.metrics.CacheHits.Add(ctx, 1, cacheAttrs)
	} else {
		s.metrics.CacheMisses.Add(ctx, 1, cacheAttrs)

		var err error
		product, err = s.store.Products.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, apperr.NotFound("Product %d not found", id)
			}
			return nil, fmt.Errorf("failed to get product: %w", err)
		}
		s.cache.Set(ctx, product)
	}

	productAttrs := metric.WithAttributes(s.metrics.WithServiceName([]attribute.KeyValue{
		attribute.Int64("product_id", product.ID),
	})...)
	s.metrics.ProductsViewed.Add(ctx, 1, productAttrs)
	s.metrics.InventoryLevel.Record(ctx, int64(product.StockQuantity), productAttrs)

	return product, nil
}

// CreateProduct adds a product to the catalog
func (s *ProductService) CreateProduct(ctx context.Context, input models.ProductInput) (*models.Product, error) {
	if err := validateProductInput(input); err != nil {
		return nil, err
	}

	product := productFromInput(input)
	if err := s.store.Products.Create(ctx, product); err != nil {
		return nil, err
	}

	logger.Info(ctx, s.logger, "Product created", zap.Int64("product_id", product.ID))
	return product, nil
}

// UpdateProduct replaces the mutable fields of a product and drops it from the cache
func (s *ProductService) UpdateProduct(ctx context.Context, id int64, input models.ProductInput) (*models.Product, error) {
	if err := validateProductInput(input); err != nil {
		return nil, err
	}

	var product *models.Product
	err := s.store.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.store.Products.GetByID(ctx, id); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperr.NotFound("Product %d not found", id)
			}
			return err
		}

		product = productFromInput(input)
		product.ID = id
		if err := s.store.Products.Update(ctx, product); err != nil {
			return err
		}

		updated, err := s.store.Products.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperr.NotFound("Product %d not found", id)
			}
			return err
		}
		product = updated
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.Delete(ctx, id)
	return product, nil
}

// DeleteProduct soft-deletes a product. Carts still holding it can no longer check out.
func (s *ProductService) DeleteProduct(ctx context.Context, id int64) error {
	if err := s.store.Products.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("Product %d not found", id)
		}
		return err
	}

	s.cache.Delete(ctx, id)
	logger.Info(ctx, s.logger, "Product deleted", zap.Int64("product_id", id))
	return nil
}

func validateProductInput(input models.ProductInput) error {
	if input.Price.IsNegative() {
		return apperr.Validation("Price must not be negative")
	}
	if !input.Price.Equal(input.Price.Round(2)) {
		return apperr.Validation("Price must have at most 2 decimal places")
	}
	return nil
}

func productFromInput(input models.ProductInput) *models.Product {
	return &models.Product{
		Name:          input.Name,
		Description:   input.Description,
		Price:         input.Price,
		StockQuantity: input.StockQuantity,
		ImageURL:      input.ImageURL,
	}
}
