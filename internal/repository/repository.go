// Package repository declares one repository per entity. Implementations return plain
// model values; joins are explicit methods rather than eager-load configuration.
package repository

import (
	"context"
	"errors"

	"github.com/storefront/checkout-api/internal/models"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrDuplicate         = errors.New("duplicate record")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// Transactor runs fn atomically. Repository calls made with the ctx handed to fn
// take part in the transaction.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

type ProductRepository interface {
	List(ctx context.Context, limit, offset int) ([]models.Product, error)
	GetByID(ctx context.Context, id int64) (*models.Product, error)
	Create(ctx context.Context, product *models.Product) error
	Update(ctx context.Context, product *models.Product) error
	// Delete soft-deletes the product; cart lines referencing it then see a missing product.
	Delete(ctx context.Context, id int64) error
	// DecreaseStock fails with ErrInsufficientStock when fewer than quantity units remain.
	DecreaseStock(ctx context.Context, id int64, quantity int) error
}

type CartRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Cart, error)
	GetByUserID(ctx context.Context, userID int64) (*models.Cart, error)
	// Create fails with ErrDuplicate when the user already has a cart.
	Create(ctx context.Context, cart *models.Cart) error
	// Lock takes an exclusive row lock on the cart for the rest of the transaction.
	Lock(ctx context.Context, cartID int64) error
	// ListLines returns the cart's items joined with their live products, oldest first.
	// A line whose product is gone or soft-deleted has a nil Product.
	ListLines(ctx context.Context, cartID int64) ([]models.CartLine, error)
	GetItem(ctx context.Context, itemID int64) (*models.CartItem, error)
	GetItemByProduct(ctx context.Context, cartID, productID int64) (*models.CartItem, error)
	// CreateItem fails with ErrDuplicate when (cart_id, product_id) already exists.
	CreateItem(ctx context.Context, item *models.CartItem) error
	UpdateItemQuantity(ctx context.Context, itemID int64, quantity int) error
	DeleteItem(ctx context.Context, itemID int64) error
	ClearItems(ctx context.Context, cartID int64) (int64, error)
	CountItems(ctx context.Context, cartID int64) (int, error)
	CountActive(ctx context.Context) (int, error)
}

type OrderRepository interface {
	Create(ctx context.Context, order *models.Order) error
	// CreateItems inserts all items in one statement and fills their ids.
	CreateItems(ctx context.Context, items []models.OrderItem) error
	GetByID(ctx context.Context, id int64) (*models.Order, error)
	ListByUser(ctx context.Context, userID int64) ([]models.Order, error)
	ListItems(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	// UpdateStatus moves the order from one status to another and fails with ErrNotFound
	// when no order with that id is currently in status from.
	UpdateStatus(ctx context.Context, id int64, from, to models.OrderStatus) error
}

// Store bundles the repositories of one backend with its transactor
type Store struct {
	Users    UserRepository
	Products ProductRepository
	Carts    CartRepository
	Orders   OrderRepository
	Tx       Transactor
}
