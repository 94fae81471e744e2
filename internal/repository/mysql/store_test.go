package mysql

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/storefront/checkout-api/internal/apperr"
	"github.com/storefront/checkout-api/internal/cache"
	"github.com/storefront/checkout-api/internal/db"
	"github.com/storefront/checkout-api/internal/metrics"
	"github.com/storefront/checkout-api/internal/models"
	"github.com/storefront/checkout-api/internal/repository"
	"github.com/storefront/checkout-api/internal/services"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"
	"go.uber.org/zap"
)

type StoreSuite struct {
	suite.Suite

	ctx       context.Context
	container *tcmysql.MySQLContainer
	db        *db.DB
	store     *repository.Store
}

func TestStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping MySQL integration tests in short mode")
	}
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupSuite() {
	s.ctx = context.Background()

	container, err := tcmysql.Run(s.ctx, "mysql:8.0.36",
		tcmysql.WithDatabase("shop"),
		tcmysql.WithUsername("shop"),
		tcmysql.WithPassword("secret"),
	)
	s.Require().NoError(err)
	s.container = container

	dsn, err := container.ConnectionString(s.ctx, "parseTime=true", "charset=utf8mb4")
	s.Require().NoError(err)

	log := zap.NewNop()
	s.Require().NoError(db.Migrate(dsn, log))

	s.db, err = db.NewDB(s.ctx, dsn, db.Options{MaxOpenConns: 10, MaxIdleConns: 2, ServiceName: "test"}, log)
	s.Require().NoError(err)
	s.store = NewStore(s.db, metrics.NewNoop())
}

func (s *StoreSuite) TearDownSuite() {
	if s.db != nil {
		s.db.Close()
	}
	if s.container != nil {
		s.NoError(testcontainers.TerminateContainer(s.container))
	}
}

func (s *StoreSuite) SetupTest() {
	for _, table := range []string{"order_items", "orders", "cart_items", "carts", "products", "users"} {
		_, err := s.db.ExecContext(s.ctx, "DELETE FROM "+table)
		s.Require().NoError(err)
	}
}

func (s *StoreSuite) seedUser(email string) *models.User {
	user := &models.User{Name: "Test", Email: email, PasswordHash: "x"}
	s.Require().NoError(s.store.Users.Create(s.ctx, user))
	return user
}

func (s *StoreSuite) seedProduct(price string, stock int) *models.Product {
	p := &models.Product{Name: "Widget", Price: decimal.RequireFromString(price), StockQuantity: stock}
	s.Require().NoError(s.store.Products.Create(s.ctx, p))
	return p
}

func (s *StoreSuite) seedCart(user *models.User, lines map[*models.Product]int) *models.Cart {
	cart := &models.Cart{UserID: user.ID}
	s.Require().NoError(s.store.Carts.Create(s.ctx, cart))
	for p, qty := range lines {
		s.Require().NoError(s.store.Carts.CreateItem(s.ctx, &models.CartItem{CartID: cart.ID, ProductID: p.ID, Quantity: qty}))
	}
	return cart
}

func (s *StoreSuite) checkoutService() *services.CheckoutService {
	return services.NewCheckoutService(s.store, cache.NewMemoryCache(time.Minute), metrics.NewNoop(), zap.NewNop(),
		services.CheckoutOptions{Timeout: 10 * time.Second, ReserveStock: true})
}

func (s *StoreSuite) stockOf(id int64) int {
	var stock int
	s.Require().NoError(s.db.QueryRowContext(s.ctx, "SELECT stock_quantity FROM products WHERE id = ?", id).Scan(&stock))
	return stock
}

func (s *StoreSuite) TestUserDuplicateEmail() {
	s.seedUser("a@example.com")

	err := s.store.Users.Create(s.ctx, &models.User{Name: "Other", Email: "a@example.com", PasswordHash: "x"})
	s.ErrorIs(err, repository.ErrDuplicate)
}

func (s *StoreSuite) TestCartUniquePerUser() {
	user := s.seedUser("cart@example.com")

	s.Require().NoError(s.store.Carts.Create(s.ctx, &models.Cart{UserID: user.ID}))
	err := s.store.Carts.Create(s.ctx, &models.Cart{UserID: user.ID})
	s.ErrorIs(err, repository.ErrDuplicate)
}

func (s *StoreSuite) TestListLinesHidesDeletedProducts() {
	user := s.seedUser("lines@example.com")
	live := s.seedProduct("10.00", 5)
	gone := s.seedProduct("5.50", 5)

	cart := &models.Cart{UserID: user.ID}
	s.Require().NoError(s.store.Carts.Create(s.ctx, cart))
	s.Require().NoError(s.store.Carts.CreateItem(s.ctx, &models.CartItem{CartID: cart.ID, ProductID: live.ID, Quantity: 2}))
	s.Require().NoError(s.store.Carts.CreateItem(s.ctx, &models.CartItem{CartID: cart.ID, ProductID: gone.ID, Quantity: 1}))
	s.Require().NoError(s.store.Products.Delete(s.ctx, gone.ID))

	lines, err := s.store.Carts.ListLines(s.ctx, cart.ID)
	s.Require().NoError(err)
	s.Require().Len(lines, 2)
	s.Require().NotNil(lines[0].Product)
	s.True(lines[0].Product.Price.Equal(decimal.RequireFromString("10.00")))
	s.Nil(lines[1].Product)
}

func (s *StoreSuite) TestDecreaseStock() {
	p := s.seedProduct("1.00", 3)

	s.Require().NoError(s.store.Products.DecreaseStock(s.ctx, p.ID, 2))
	s.ErrorIs(s.store.Products.DecreaseStock(s.ctx, p.ID, 2), repository.ErrInsufficientStock)
	s.ErrorIs(s.store.Products.DecreaseStock(s.ctx, p.ID+1000, 1), repository.ErrNotFound)

	got, err := s.store.Products.GetByID(s.ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(1, got.StockQuantity)
}

func (s *StoreSuite) TestOrderItemsBulkInsert() {
	user := s.seedUser("order@example.com")
	p1 := s.seedProduct("10.00", 5)
	p2 := s.seedProduct("5.50", 5)

	order := &models.Order{UserID: user.ID, TotalPrice: decimal.RequireFromString("25.50"), Status: models.OrderStatusPending}
	s.Require().NoError(s.store.Orders.Create(s.ctx, order))

	items := []models.OrderItem{
		{OrderID: order.ID, ProductID: p1.ID, Quantity: 2, Price: p1.Price},
		{OrderID: order.ID, ProductID: p2.ID, Quantity: 1, Price: p2.Price},
	}
	s.Require().NoError(s.store.Orders.CreateItems(s.ctx, items))

	stored, err := s.store.Orders.ListItems(s.ctx, order.ID)
	s.Require().NoError(err)
	s.Require().Len(stored, 2)
	s.Equal(items[0].ID, stored[0].ID)
	s.Equal(items[1].ID, stored[1].ID)
	s.True(stored[1].Price.Equal(decimal.RequireFromString("5.50")))

	got, err := s.store.Orders.GetByID(s.ctx, order.ID)
	s.Require().NoError(err)
	s.Equal(models.OrderStatusPending, got.Status)
	s.True(got.TotalPrice.Equal(decimal.RequireFromString("25.50")))
}

func (s *StoreSuite) TestOrderItemIDsFollowProducts() {
	user := s.seedUser("ids@example.com")
	p1 := s.seedProduct("1.00", 5)
	p2 := s.seedProduct("2.00", 5)
	p3 := s.seedProduct("3.00", 5)

	first := &models.Order{UserID: user.ID, TotalPrice: decimal.NewFromInt(1), Status: models.OrderStatusPending}
	s.Require().NoError(s.store.Orders.Create(s.ctx, first))
	s.Require().NoError(s.store.Orders.CreateItems(s.ctx, []models.OrderItem{
		{OrderID: first.ID, ProductID: p1.ID, Quantity: 1, Price: p1.Price},
	}))

	second := &models.Order{UserID: user.ID, TotalPrice: decimal.NewFromInt(8), Status: models.OrderStatusPending}
	s.Require().NoError(s.store.Orders.Create(s.ctx, second))
	items := []models.OrderItem{
		{OrderID: second.ID, ProductID: p3.ID, Quantity: 2, Price: p3.Price},
		{OrderID: second.ID, ProductID: p2.ID, Quantity: 1, Price: p2.Price},
	}
	s.Require().NoError(s.store.Orders.CreateItems(s.ctx, items))

	stored, err := s.store.Orders.ListItems(s.ctx, second.ID)
	s.Require().NoError(err)
	s.Require().Len(stored, 2)

	byID := make(map[int64]models.OrderItem)
	for _, it := range stored {
		byID[it.ID] = it
	}
	for _, it := range items {
		s.Require().Contains(byID, it.ID)
		s.Equal(it.ProductID, byID[it.ID].ProductID)
		s.Equal(it.Quantity, byID[it.ID].Quantity)
	}
}

func (s *StoreSuite) TestConcurrentCheckoutsPlaceOneOrder() {
	user := s.seedUser("race@example.com")
	p1 := s.seedProduct("10.00", 50)
	p2 := s.seedProduct("5.50", 50)
	s.seedCart(user, map[*models.Product]int{p1: 2, p2: 1})

	checkout := s.checkoutService()

	const n = 8
	var (
		wg   sync.WaitGroup
		errs = make([]error, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = checkout.Checkout(s.ctx, user.ID)
		}(i)
	}
	wg.Wait()

	placed := 0
	for _, err := range errs {
		if err == nil {
			placed++
			continue
		}
		s.ErrorIs(err, apperr.ErrValidation)
	}
	s.Equal(1, placed)

	orders, err := s.store.Orders.ListByUser(s.ctx, user.ID)
	s.Require().NoError(err)
	s.Require().Len(orders, 1)
	s.True(orders[0].TotalPrice.Equal(decimal.RequireFromString("25.50")))

	items, err := s.store.Orders.ListItems(s.ctx, orders[0].ID)
	s.Require().NoError(err)
	s.Len(items, 2)

	s.Equal(48, s.stockOf(p1.ID))
	s.Equal(49, s.stockOf(p2.ID))
}

func (s *StoreSuite) TestCheckoutWithDeletedProductChangesNothing() {
	user := s.seedUser("deleted@example.com")
	live := s.seedProduct("10.00", 5)
	gone := s.seedProduct("5.50", 5)
	cart := s.seedCart(user, map[*models.Product]int{live: 2, gone: 1})
	s.Require().NoError(s.store.Products.Delete(s.ctx, gone.ID))

	_, err := s.checkoutService().Checkout(s.ctx, user.ID)
	s.ErrorIs(err, apperr.ErrIntegrity)

	count, err := s.store.Carts.CountItems(s.ctx, cart.ID)
	s.Require().NoError(err)
	s.Equal(2, count)

	orders, err := s.store.Orders.ListByUser(s.ctx, user.ID)
	s.Require().NoError(err)
	s.Empty(orders)

	s.Equal(5, s.stockOf(live.ID))
	s.Equal(5, s.stockOf(gone.ID))
}

func (s *StoreSuite) TestWithinTxRollsBack() {
	user := s.seedUser("tx@example.com")
	boom := errors.New("boom")

	err := s.store.Tx.WithinTx(s.ctx, func(ctx context.Context) error {
		order := &models.Order{UserID: user.ID, TotalPrice: decimal.NewFromInt(1), Status: models.OrderStatusPending}
		if err := s.store.Orders.Create(ctx, order); err != nil {
			return err
		}
		return boom
	})
	s.ErrorIs(err, boom)

	orders, err := s.store.Orders.ListByUser(s.ctx, user.ID)
	s.Require().NoError(err)
	s.Empty(orders)
}
