package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/storefront/checkout-api/internal/models"
	"github.com/storefront/checkout-api/internal/repository"
)

const productColumns = "id, name, description, price, stock_quantity, image_url, created_at, updated_at"

type ProductRepository struct {
	conn
}

func (r *ProductRepository) List(ctx context.Context, limit, offset int) ([]models.Product, error) {
	start := time.Now()

	query := "SELECT " + productColumns + " FROM products WHERE deleted_at IS NULL ORDER BY id LIMIT ? OFFSET ?"
	rows, err := r.q(ctx).QueryContext(ctx, query, limit, offset)
	r.record(ctx, "SELECT", "products", query, start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	products := make([]models.Product, 0, limit)
	for rows.Next() {
		var p models.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.StockQuantity, &p.ImageURL, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}

	return products, rows.Err()
}

func (r *ProductRepository) GetByID(ctx context.Context, id int64) (*models.Product, error) {
	start := time.Now()

	query := "SELECT " + productColumns + " FROM products WHERE id = ? AND deleted_at IS NULL"
	var p models.Product
	err := r.q(ctx).QueryRowContext(ctx, query, id).Scan(
		&p.ID, &p.Name, &p.Description, &p.Price, &p.StockQuantity, &p.ImageURL, &p.CreatedAt, &p.UpdatedAt,
	)
	r.record(ctx, "SELECT", "products", query, start, err)
	if err != nil {
		return nil, notFound(err)
	}

	return &p, nil
}

func (r *ProductRepository) Create(ctx context.Context, p *models.Product) error {
	start := time.Now()
	ts := now()

	query := `INSERT INTO products (name, description, price, stock_quantity, image_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	result, err := r.q(ctx).ExecContext(ctx, query, p.Name, p.Description, p.Price, p.StockQuantity, p.ImageURL, ts, ts)
	r.record(ctx, "INSERT", "products", query, start, err)
	if err != nil {
		return fmt.Errorf("failed to create product: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get product ID: %w", err)
	}

	p.ID = id
	p.CreatedAt = ts
	p.UpdatedAt = ts
	return nil
}

// Update overwrites the mutable fields of a live product.
func (r *ProductRepository) Update(ctx context.Context, p *models.Product) error {
	start := time.Now()
	ts := now()

	query := `UPDATE products
		SET name = ?, description = ?, price = ?, stock_quantity = ?, image_url = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL`
	_, err := r.q(ctx).ExecContext(ctx, query, p.Name, p.Description, p.Price, p.StockQuantity, p.ImageURL, ts, p.ID)
	r.record(ctx, "UPDATE", "products", query, start, err)
	if err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}

	p.UpdatedAt = ts
	return nil
}

func (r *ProductRepository) Delete(ctx context.Context, id int64) error {
	start := time.Now()

	query := "UPDATE products SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL"
	result, err := r.q(ctx).ExecContext(ctx, query, now(), id)
	r.record(ctx, "UPDATE", "products", query, start, err)
	if err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
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

func (r *ProductRepository) DecreaseStock(ctx context.Context, id int64, quantity int) error {
	start := time.Now()

	query := `UPDATE products SET stock_quantity = stock_quantity - ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL AND stock_quantity >= ?`
	result, err := r.q(ctx).ExecContext(ctx, query, quantity, now(), id, quantity)
	r.record(ctx, "UPDATE", "products", query, start, err)
	if err != nil {
		return fmt.Errorf("failed to decrease stock: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected > 0 {
		return nil
	}

	// Nothing matched: tell a missing product apart from a short one.
	if _, err := r.GetByID(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return repository.ErrNotFound
		}
		return fmt.Errorf("failed to recheck product: %w", err)
	}
	return repository.ErrInsufficientStock
}
