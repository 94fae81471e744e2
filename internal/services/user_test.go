package services

import (
	"testing"
	"time"

	"github.com/storefront/checkout-api/internal/apperr"
	"github.com/storefront/checkout-api/internal/middleware"
	"github.com/storefront/checkout-api/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

func TestCreateUser(t *testing.T) {
	f := newFixture(t)
	users := NewUserService(f.store, zap.NewNop(), UserOptions{})
	users.bcryptCost = bcrypt.MinCost

	user, err := users.CreateUser(f.ctx, models.CreateUserRequest{Name: "Ada", Email: " Ada@Example.com ", Password: "correct horse"})
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", user.Email)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("correct horse")))

	_, err = users.CreateUser(f.ctx, models.CreateUserRequest{Name: "Ada", Email: "ada@example.com", Password: "another one"})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	byEmail, err := users.GetUserByEmail(f.ctx, "ADA@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byEmail.ID)

	_, err = users.GetUser(f.ctx, 999)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	users := NewUserService(f.store, zap.NewNop(), UserOptions{JWTSecret: "secret", TokenTTL: time.Hour})
	users.bcryptCost = bcrypt.MinCost

	user, err := users.CreateUser(f.ctx, models.CreateUserRequest{Name: "Ada", Email: "ada@example.com", Password: "correct horse"})
	require.NoError(t, err)

	resp, err := users.Login(f.ctx, " ADA@example.com", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, user.ID, resp.User.ID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), resp.ExpiresAt, time.Minute)

	claims, err := middleware.ParseToken(resp.Token, []byte("secret"))
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)

	_, err = users.Login(f.ctx, "ada@example.com", "wrong horse")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = users.Login(f.ctx, "nobody@example.com", "correct horse")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestLoginWithoutSecret(t *testing.T) {
	f := newFixture(t)
	users := NewUserService(f.store, zap.NewNop(), UserOptions{})
	users.bcryptCost = bcrypt.MinCost

	_, err := users.CreateUser(f.ctx, models.CreateUserRequest{Name: "Ada", Email: "ada@example.com", Password: "correct horse"})
	require.NoError(t, err)

	_, err = users.Login(f.ctx, "ada@example.com", "correct horse")
	require.Error(t, err)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
}
