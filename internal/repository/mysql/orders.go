package mysql

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/storefront/checkout-api/internal/models"
	"github.com/storefront/checkout-api/internal/repository"
)

type OrderRepository struct {
	conn
}

func (r *OrderRepository) Create(ctx context.Context, order *models.Order) error {
	start := time.Now()
	ts := now()

	query := "INSERT INTO orders (user_id, total_price, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)"
	result, err := r.q(ctx).ExecContext(ctx, query, order.UserID, order.TotalPrice, order.Status, ts, ts)
	r.record(ctx, "INSERT", "orders", query, start, err)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get order ID: %w", err)
	}

	order.ID = id
	order.CreatedAt = ts
	order.UpdatedAt = ts
	return nil
}

// CreateItems inserts all items of one order in a single statement, then reads
// the generated ids back. Items of an order have distinct products.
func (r *OrderRepository) CreateItems(ctx context.Context, items []models.OrderItem) error {
	if len(items) == 0 {
		return nil
	}

	start := time.Now()
	ts := now()

	placeholders := make([]string, len(items))
	args := make([]any, 0, len(items)*5)
	for i, item := range items {
		placeholders[i] = "(?, ?, ?, ?, ?)"
		args = append(args, item.OrderID, item.ProductID, item.Quantity, item.Price, ts)
	}

	query := "INSERT INTO order_items (order_id, product_id, quantity, price, created_at) VALUES " +
		strings.Join(placeholders, ", ")
	_, err := r.q(ctx).ExecContext(ctx, query, args...)
	r.record(ctx, "INSERT", "order_items", query, start, err)
	if err != nil {
		return fmt.Errorf("failed to create order items: %w", err)
	}

	ids, err := r.itemIDs(ctx, items[0].OrderID)
	if err != nil {
		return err
	}

	for i := range items {
		id, ok := ids[items[i].ProductID]
		if !ok {
			return fmt.Errorf("order item for product %d missing after insert", items[i].ProductID)
		}
		items[i].ID = id
		items[i].CreatedAt = ts
	}
	return nil
}

// itemIDs maps product id to order item id for one order.
func (r *OrderRepository) itemIDs(ctx context.Context, orderID int64) (map[int64]int64, error) {
	start := time.Now()

	query := "SELECT id, product_id FROM order_items WHERE order_id = ?"
	rows, err := r.q(ctx).QueryContext(ctx, query, orderID)
	r.record(ctx, "SELECT", "order_items", query, start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to read order item IDs: %w", err)
	}
	defer rows.Close()

	ids := make(map[int64]int64)
	for rows.Next() {
		var id, productID int64
		if err := rows.Scan(&id, &productID); err != nil {
			return nil, fmt.Errorf("failed to scan order item ID: %w", err)
		}
		ids[productID] = id
	}
	return ids, rows.Err()
}

func (r *OrderRepository) GetByID(ctx context.Context, id int64) (*models.Order, error) {
	start := time.Now()

	query := "SELECT id, user_id, total_price, status, created_at, updated_at FROM orders WHERE id = ?"
	var order models.Order
	err := r.q(ctx).QueryRowContext(ctx, query, id).Scan(
		&order.ID, &order.UserID, &order.TotalPrice, &order.Status, &order.CreatedAt, &order.UpdatedAt,
	)
	r.record(ctx, "SELECT", "orders", query, start, err)
	if err != nil {
		return nil, notFound(err)
	}

	return &order, nil
}

func (r *OrderRepository) ListByUser(ctx context.Context, userID int64) ([]models.Order, error) {
	start := time.Now()

	query := `SELECT id, user_id, total_price, status, created_at, updated_at
		FROM orders WHERE user_id = ? ORDER BY created_at DESC, id DESC`
	rows, err := r.q(ctx).QueryContext(ctx, query, userID)
	r.record(ctx, "SELECT", "orders", query, start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		var o models.Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.TotalPrice, &o.Status, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}

	return orders, rows.Err()
}

func (r *OrderRepository) ListItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	start := time.Now()

	query := "SELECT id, order_id, product_id, quantity, price, created_at FROM order_items WHERE order_id = ? ORDER BY id"
	rows, err := r.q(ctx).QueryContext(ctx, query, orderID)
	r.record(ctx, "SELECT", "order_items", query, start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	items := []models.OrderItem{}
	for rows.Next() {
		var item models.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &item.Price, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		items = append(items, item)
	}

	return items, rows.Err()
}

func (r *OrderRepository) UpdateStatus(ctx context.Context, id int64, from, to models.OrderStatus) error {
	start := time.Now()

	query := "UPDATE orders SET status = ?, updated_at = ? WHERE id = ? AND status = ?"
	result, err := r.q(ctx).ExecContext(ctx, query, to, now(), id, from)
	r.record(ctx, "UPDATE", "orders", query, start, err)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
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
