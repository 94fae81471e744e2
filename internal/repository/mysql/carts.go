package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/storefront/checkout-api/internal/models"
	"github.com/storefront/checkout-api/internal/repository"
)

type CartRepository struct {
	conn
}

func (r *CartRepository) GetByID(ctx context.Context, id int64) (*models.Cart, error) {
	return r.getOne(ctx, "SELECT id, user_id, created_at, updated_at FROM carts WHERE id = ?", id)
}

func (r *CartRepository) GetByUserID(ctx context.Context, userID int64) (*models.Cart, error) {
	return r.getOne(ctx, "SELECT id, user_id, created_at, updated_at FROM carts WHERE user_id = ? LIMIT 1", userID)
}

func (r *CartRepository) getOne(ctx context.Context, query string, arg any) (*models.Cart, error) {
	start := time.Now()

	var cart models.Cart
	err := r.q(ctx).QueryRowContext(ctx, query, arg).Scan(&cart.ID, &cart.UserID, &cart.CreatedAt, &cart.UpdatedAt)
	r.record(ctx, "SELECT", "carts", query, start, err)
	if err != nil {
		return nil, notFound(err)
	}

	return &cart, nil
}

func (r *CartRepository) Create(ctx context.Context, cart *models.Cart) error {
	start := time.Now()
	ts := now()

	query := "INSERT INTO carts (user_id, created_at, updated_at) VALUES (?, ?, ?)"
	result, err := r.q(ctx).ExecContext(ctx, query, cart.UserID, ts, ts)
	r.record(ctx, "INSERT", "carts", query, start, err)
	if err != nil {
		if isDuplicate(err) {
			return repository.ErrDuplicate
		}
		return fmt.Errorf("failed to create cart: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get cart ID: %w", err)
	}

	cart.ID = id
	cart.CreatedAt = ts
	cart.UpdatedAt = ts
	return nil
}

func (r *CartRepository) Lock(ctx context.Context, cartID int64) error {
	start := time.Now()

	query := "SELECT id FROM carts WHERE id = ? FOR UPDATE"
	var id int64
	err := r.q(ctx).QueryRowContext(ctx, query, cartID).Scan(&id)
	r.record(ctx, "SELECT", "carts", query, start, err)
	if err != nil {
		return notFound(err)
	}
	return nil
}

func (r *CartRepository) ListLines(ctx context.Context, cartID int64) ([]models.CartLine, error) {
	start := time.Now()

	query := `
		SELECT ci.id, ci.cart_id, ci.product_id, ci.quantity, ci.created_at, ci.updated_at,
		       p.id, p.name, p.description, p.price, p.stock_quantity, p.image_url, p.created_at, p.updated_at
		FROM cart_items ci
		LEFT JOIN products p ON p.id = ci.product_id AND p.deleted_at IS NULL
		WHERE ci.cart_id = ?
		ORDER BY ci.id
	`
	rows, err := r.q(ctx).QueryContext(ctx, query, cartID)
	r.record(ctx, "SELECT", "cart_items", query, start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to get cart items: %w", err)
	}
	defer rows.Close()

	lines := []models.CartLine{}
	for rows.Next() {
		var (
			line         models.CartLine
			pID          sql.NullInt64
			pName, pDesc sql.NullString
			pPrice       decimal.NullDecimal
			pStock       sql.NullInt64
			pImage       sql.NullString
			pCreated     sql.NullTime
			pUpdated     sql.NullTime
		)
		if err := rows.Scan(
			&line.ID, &line.CartID, &line.ProductID, &line.Quantity, &line.CreatedAt, &line.UpdatedAt,
			&pID, &pName, &pDesc, &pPrice, &pStock, &pImage, &pCreated, &pUpdated,
		); err != nil {
			return nil, fmt.Errorf("failed to scan cart item: %w", err)
		}

		if pID.Valid && pPrice.Valid {
			line.Product = &models.Product{
				ID:            pID.Int64,
				Name:          pName.String,
				Description:   pDesc.String,
				Price:         pPrice.Decimal,
				StockQuantity: int(pStock.Int64),
				ImageURL:      pImage.String,
				CreatedAt:     pCreated.Time,
				UpdatedAt:     pUpdated.Time,
			}
		}
		lines = append(lines, line)
	}

	return lines, rows.Err()
}

const cartItemColumns = "id, cart_id, product_id, quantity, created_at, updated_at"

func (r *CartRepository) GetItem(ctx context.Context, itemID int64) (*models.CartItem, error) {
	return r.getItem(ctx, "SELECT "+cartItemColumns+" FROM cart_items WHERE id = ?", itemID)
}

func (r *CartRepository) GetItemByProduct(ctx context.Context, cartID, productID int64) (*models.CartItem, error) {
	return r.getItem(ctx, "SELECT "+cartItemColumns+" FROM cart_items WHERE cart_id = ? AND product_id = ?", cartID, productID)
}

func (r *CartRepository) getItem(ctx context.Context, query string, args ...any) (*models.CartItem, error) {
	start := time.Now()

	var item models.CartItem
	err := r.q(ctx).QueryRowContext(ctx, query, args...).Scan(
		&item.ID, &item.CartID, &item.ProductID, &item.Quantity, &item.CreatedAt, &item.UpdatedAt,
	)
	r.record(ctx, "SELECT", "cart_items", query, start, err)
	if err != nil {
		return nil, notFound(err)
	}

	return &item, nil
}

func (r *CartRepository) CreateItem(ctx context.Context, item *models.CartItem) error {
	start := time.Now()
	ts := now()

	query := "INSERT INTO cart_items (cart_id, product_id, quantity, created_at, updated_at) VALUES (?, ?, ?, ?, ?)"
	result, err := r.q(ctx).ExecContext(ctx, query, item.CartID, item.ProductID, item.Quantity, ts, ts)
	r.record(ctx, "INSERT", "cart_items", query, start, err)
	if err != nil {
		if isDuplicate(err) {
			return repository.ErrDuplicate
		}
		return fmt.Errorf("failed to add item to cart: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get cart item ID: %w", err)
	}

	item.ID = id
	item.CreatedAt = ts
	item.UpdatedAt = ts
	return nil
}

func (r *CartRepository) UpdateItemQuantity(ctx context.Context, itemID int64, quantity int) error {
	start := time.Now()

	query := "UPDATE cart_items SET quantity = ?, updated_at = ? WHERE id = ?"
	_, err := r.q(ctx).ExecContext(ctx, query, quantity, now(), itemID)
	r.record(ctx, "UPDATE", "cart_items", query, start, err)
	if err != nil {
		return fmt.Errorf("failed to update cart item: %w", err)
	}
	return nil
}

func (r *CartRepository) DeleteItem(ctx context.Context, itemID int64) error {
	start := time.Now()

	query := "DELETE FROM cart_items WHERE id = ?"
	result, err := r.q(ctx).ExecContext(ctx, query, itemID)
	r.record(ctx, "DELETE", "cart_items", query, start, err)
	if err != nil {
		return fmt.Errorf("failed to remove cart item: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *CartRepository) ClearItems(ctx context.Context, cartID int64) (int64, error) {
	start := time.Now()

	query := "DELETE FROM cart_items WHERE cart_id = ?"
	result, err := r.q(ctx).ExecContext(ctx, query, cartID)
	r.record(ctx, "DELETE", "cart_items", query, start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to clear cart: %w", err)
	}

	return result.RowsAffected()
}

func (r *CartRepository) CountItems(ctx context.Context, cartID int64) (int, error) {
	start := time.Now()

	query := "SELECT COUNT(*) FROM cart_items WHERE cart_id = ?"
	var count int
	err := r.q(ctx).QueryRowContext(ctx, query, cartID).Scan(&count)
	r.record(ctx, "SELECT", "cart_items", query, start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to count cart items: %w", err)
	}
	return count, nil
}

func (r *CartRepository) CountActive(ctx context.Context) (int, error) {
	start := time.Now()

	query := "SELECT COUNT(DISTINCT c.id) FROM carts c INNER JOIN cart_items ci ON c.id = ci.cart_id"
	var count int
	err := r.q(ctx).QueryRowContext(ctx, query).Scan(&count)
	r.record(ctx, "SELECT", "carts", query, start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to count active carts: %w", err)
	}
	return count, nil
}
