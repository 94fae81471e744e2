package services

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/storefront/checkout-api/internal/apperr"
	"github.com/storefront/checkout-api/internal/models"
	"github.com/storefront/checkout-api/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProductLifecycle(t *testing.T) {
	f := newFixture(t)

	created, err := f.products.CreateProduct(f.ctx, models.ProductInput{
		Name:          "Lamp",
		Price:         decimal.RequireFromString("19.99"),
		StockQuantity: 3,
	})
	require.NoError(t, err)

	got, err := f.products.GetProduct(f.ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Lamp", got.Name)

	_, cached := f.cache.Get(f.ctx, created.ID)
	assert.True(t, cached)

	updated, err := f.products.UpdateProduct(f.ctx, created.ID, models.ProductInput{
		Name:          "Desk Lamp",
		Price:         decimal.RequireFromString("24.99"),
		StockQuantity: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, "Desk Lamp", updated.Name)

	_, cached = f.cache.Get(f.ctx, created.ID)
	assert.False(t, cached)

	require.NoError(t, f.products.DeleteProduct(f.ctx, created.ID))
	_, err = f.products.GetProduct(f.ctx, created.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.ErrorIs(t, f.products.DeleteProduct(f.ctx, created.ID), apperr.ErrNotFound)

	list, err := f.products.ListProducts(f.ctx, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestProductInputValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.products.CreateProduct(f.ctx, models.ProductInput{Name: "Bad", Price: decimal.RequireFromString("-1")})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.products.CreateProduct(f.ctx, models.ProductInput{Name: "Bad", Price: decimal.RequireFromString("1.005")})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.products.UpdateProduct(f.ctx, 999, models.ProductInput{Name: "Missing", Price: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

// deletingProducts soft-deletes a product right after it is updated.
type deletingProducts struct {
	repository.ProductRepository
}

func (r deletingProducts) Update(ctx context.Context, p *models.Product) error {
	if err := r.ProductRepository.Update(ctx, p); err != nil {
		return err
	}
	return r.ProductRepository.Delete(ctx, p.ID)
}

func TestUpdateProductDeletedMidway(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "5.00", 1)

	racing := *f.store
	racing.Products = deletingProducts{ProductRepository: f.store.Products}
	svc := NewProductService(&racing, f.cache, f.checkout.metrics, f.checkout.logger)

	_, err := svc.UpdateProduct(f.ctx, p.ID, models.ProductInput{Name: "Gone", Price: decimal.NewFromInt(5)})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
