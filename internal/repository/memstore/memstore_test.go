package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/storefront/checkout-api/internal/models"
	"github.com/storefront/checkout-api/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithinTxRestoresStateOnError(t *testing.T) {
	ctx := context.Background()
	store := New()

	user := &models.User{Name: "A", Email: "a@example.com"}
	require.NoError(t, store.Users.Create(ctx, user))

	boom := errors.New("boom")
	err := store.Tx.WithinTx(ctx, func(ctx context.Context) error {
		require.NoError(t, store.Orders.Create(ctx, &models.Order{UserID: user.ID, Status: models.OrderStatusPending}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	orders, err := store.Orders.ListByUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestRollbackKeepsWritesMadeOutsideTx(t *testing.T) {
	ctx := context.Background()
	store := New()

	var outside *models.User
	boom := errors.New("boom")
	err := store.Tx.WithinTx(ctx, func(txCtx context.Context) error {
		done := make(chan error)
		go func() {
			outside = &models.User{Name: "B", Email: "b@example.com"}
			done <- store.Users.Create(context.Background(), outside)
		}()
		require.NoError(t, <-done)

		require.NoError(t, store.Products.Create(txCtx, &models.Product{Name: "Lamp", Price: decimal.NewFromInt(1)}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := store.Users.GetByID(ctx, outside.ID)
	require.NoError(t, err)
	assert.Equal(t, "b@example.com", got.Email)

	products, err := store.Products.List(ctx, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, products)
}

func TestUncommittedWritesAreInvisible(t *testing.T) {
	ctx := context.Background()
	store := New()

	err := store.Tx.WithinTx(ctx, func(txCtx context.Context) error {
		require.NoError(t, store.Orders.Create(txCtx, &models.Order{UserID: 1, Status: models.OrderStatusPending}))

		inTx, err := store.Orders.ListByUser(txCtx, 1)
		require.NoError(t, err)
		assert.Len(t, inTx, 1)

		seen := make(chan int)
		go func() {
			orders, err := store.Orders.ListByUser(context.Background(), 1)
			assert.NoError(t, err)
			seen <- len(orders)
		}()
		assert.Zero(t, <-seen)
		return nil
	})
	require.NoError(t, err)

	orders, err := store.Orders.ListByUser(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestIDsAreNotReusedAfterRollback(t *testing.T) {
	ctx := context.Background()
	store := New()

	var rolledBack models.Order
	_ = store.Tx.WithinTx(ctx, func(txCtx context.Context) error {
		rolledBack = models.Order{UserID: 1, Status: models.OrderStatusPending}
		require.NoError(t, store.Orders.Create(txCtx, &rolledBack))
		return errors.New("abort")
	})

	next := &models.Order{UserID: 1, Status: models.OrderStatusPending}
	require.NoError(t, store.Orders.Create(ctx, next))
	assert.Greater(t, next.ID, rolledBack.ID)
}

func TestCommitRejectsDuplicateCreatedOutsideTx(t *testing.T) {
	ctx := context.Background()
	store := New()

	err := store.Tx.WithinTx(ctx, func(txCtx context.Context) error {
		require.NoError(t, store.Carts.Create(txCtx, &models.Cart{UserID: 7}))
		return store.Carts.Create(context.Background(), &models.Cart{UserID: 7})
	})
	assert.ErrorIs(t, err, repository.ErrDuplicate)

	cart, err := store.Carts.GetByUserID(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(2), cart.ID, "only the cart created outside the tx is kept")
}

func TestListLinesWithDeletedProduct(t *testing.T) {
	ctx := context.Background()
	store := New()

	p := &models.Product{Name: "Widget", Price: decimal.RequireFromString("2.50"), StockQuantity: 1}
	require.NoError(t, store.Products.Create(ctx, p))
	cart := &models.Cart{UserID: 1}
	require.NoError(t, store.Carts.Create(ctx, cart))
	require.NoError(t, store.Carts.CreateItem(ctx, &models.CartItem{CartID: cart.ID, ProductID: p.ID, Quantity: 1}))

	require.NoError(t, store.Products.Delete(ctx, p.ID))
	assert.ErrorIs(t, store.Products.Delete(ctx, p.ID), repository.ErrNotFound)

	lines, err := store.Carts.ListLines(ctx, cart.ID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Nil(t, lines[0].Product)
}

func TestUniqueConstraints(t *testing.T) {
	ctx := context.Background()
	store := New()

	require.NoError(t, store.Users.Create(ctx, &models.User{Email: "dup@example.com"}))
	assert.ErrorIs(t, store.Users.Create(ctx, &models.User{Email: "dup@example.com"}), repository.ErrDuplicate)

	require.NoError(t, store.Carts.Create(ctx, &models.Cart{UserID: 7}))
	assert.ErrorIs(t, store.Carts.Create(ctx, &models.Cart{UserID: 7}), repository.ErrDuplicate)
}

func TestDecreaseStock(t *testing.T) {
	ctx := context.Background()
	store := New()

	p := &models.Product{Name: "Widget", Price: decimal.NewFromInt(1), StockQuantity: 2}
	require.NoError(t, store.Products.Create(ctx, p))

	require.NoError(t, store.Products.DecreaseStock(ctx, p.ID, 2))
	assert.ErrorIs(t, store.Products.DecreaseStock(ctx, p.ID, 1), repository.ErrInsufficientStock)
	assert.ErrorIs(t, store.Products.DecreaseStock(ctx, 99, 1), repository.ErrNotFound)
}
