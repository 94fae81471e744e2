package mysql

import (
	"context"
	"fmt"
	"time"

	"github.com/storefront/checkout-api/internal/models"
	"github.com/storefront/checkout-api/internal/repository"
)

type UserRepository struct {
	conn
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	start := time.Now()
	ts := now()

	query := "INSERT INTO users (name, email, password_hash, created_at, updated_at) VALUES (?, ?, ?, ?, ?)"
	result, err := r.q(ctx).ExecContext(ctx, query, user.Name, user.Email, user.PasswordHash, ts, ts)
	r.record(ctx, "INSERT", "users", query, start, err)
	if err != nil {
		if isDuplicate(err) {
			return repository.ErrDuplicate
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get user ID: %w", err)
	}

	user.ID = id
	user.CreatedAt = ts
	user.UpdatedAt = ts
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	return r.getOne(ctx, "SELECT id, name, email, password_hash, created_at, updated_at FROM users WHERE id = ?", id)
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getOne(ctx, "SELECT id, name, email, password_hash, created_at, updated_at FROM users WHERE email = ?", email)
}

func (r *UserRepository) getOne(ctx context.Context, query string, arg any) (*models.User, error) {
	start := time.Now()

	var user models.User
	err := r.q(ctx).QueryRowContext(ctx, query, arg).Scan(
		&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt,
	)
	r.record(ctx, "SELECT", "users", query, start, err)
	if err != nil {
		return nil, notFound(err)
	}

	return &user, nil
}
