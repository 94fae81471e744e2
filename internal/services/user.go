package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/storefront/checkout-api/internal/apperr"
	"github.com/storefront/checkout-api/internal/logger"
	"github.com/storefront/checkout-api/internal/middleware"
	"github.com/storefront/checkout-api/internal/models"
	"github.com/storefront/checkout-api/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// UserOptions configure token issuing
type UserOptions struct {
	// JWTSecret signs login tokens. Login is refused when it is empty.
	JWTSecret string
	TokenTTL  time.Duration
}

// UserService handles user-related operations
type UserService struct {
	store      *repository.Store
	logger     *zap.Logger
	opts       UserOptions
	bcryptCost int
}

// NewUserService creates a new user service
func NewUserService(store *repository.Store, log *zap.Logger, opts UserOptions) *UserService {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 24 * time.Hour
	}
	return &UserService{
		store:      store,
		logger:     log,
		opts:       opts,
		bcryptCost: bcrypt.DefaultCost,
	}
}

// CreateUser registers a user with a bcrypt password hash
func (s *UserService) CreateUser(ctx context.Context, req models.CreateUserRequest) (*models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Name:         req.Name,
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		PasswordHash: string(hash),
	}
	if err := s.store.Users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperr.Conflict("Email %s is already registered", user.Email)
		}
		return nil, err
	}

	logger.Info(ctx, s.logger, "User created", zap.Int64("user_id", user.ID))
	return user, nil
}

// GetUser returns a user by ID
func (s *UserService) GetUser(ctx context.Context, id int64) (*models.User, error) {
	user, err := s.store.Users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("User %d not found", id)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetUserByEmail returns a user by email
func (s *UserService) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	user, err := s.store.Users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("User not found")
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// Login checks the password and issues a bearer token for the user
func (s *UserService) Login(ctx context.Context, email, password string) (*models.LoginResponse, error) {
	if s.opts.JWTSecret == "" {
		return nil, errors.New("token signing is not configured")
	}

	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.store.Users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			logger.Warn(ctx, s.logger, "Login for unknown email")
			return nil, apperr.Unauthorized("Invalid credentials")
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		logger.Warn(ctx, s.logger, "Login with wrong password", zap.Int64("user_id", user.ID))
		return nil, apperr.Unauthorized("Invalid credentials")
	}

	token, expiresAt, err := middleware.IssueToken([]byte(s.opts.JWTSecret), user.ID, s.opts.TokenTTL)
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, s.logger, "User logged in", zap.Int64("user_id", user.ID))
	return &models.LoginResponse{Token: token, ExpiresAt: expiresAt, User: user}, nil
}
