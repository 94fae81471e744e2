package services

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/storefront/checkout-api/internal/cache"
	"github.com/storefront/checkout-api/internal/metrics"
	"github.com/storefront/checkout-api/internal/models"
	"github.com/storefront/checkout-api/internal/repository"
	"github.com/storefront/checkout-api/internal/repository/memstore"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	ctx      context.Context
	store    *repository.Store
	cache    *cache.MemoryCache
	carts    *CartService
	checkout *CheckoutService
	orders   *OrderService
	products *ProductService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memstore.New()
	c := cache.NewMemoryCache(time.Minute)
	m := metrics.NewNoop()
	log := zap.NewNop()

	return &fixture{
		ctx:      context.Background(),
		store:    store,
		cache:    c,
		carts:    NewCartService(store, m, log),
		checkout: NewCheckoutService(store, c, m, log, CheckoutOptions{Timeout: time.Second, ReserveStock: true}),
		orders:   NewOrderService(store, log),
		products: NewProductService(store, c, m, log),
	}
}

func (f *fixture) user(t *testing.T, email string) *models.User {
	t.Helper()
	u := &models.User{Name: "Shopper", Email: email, PasswordHash: "x"}
	require.NoError(t, f.store.Users.Create(f.ctx, u))
	return u
}

func (f *fixture) product(t *testing.T, price string, stock int) *models.Product {
	t.Helper()
	p := &models.Product{Name: "Item " + price, Price: decimal.RequireFromString(price), StockQuantity: stock}
	require.NoError(t, f.store.Products.Create(f.ctx, p))
	return p
}

func (f *fixture) cart(t *testing.T, userID int64) *models.Cart {
	t.Helper()
	resp, err := f.carts.GetOrCreateCart(f.ctx, userID)
	require.NoError(t, err)
	return resp.Cart
}

func (f *fixture) add(t *testing.T, cartID, productID int64, quantity int) *models.CartItem {
	t.Helper()
	item, _, err := f.carts.AddItem(f.ctx, cartID, productID, quantity)
	require.NoError(t, err)
	return item
}
