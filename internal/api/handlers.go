package api

import (
	"context"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/storefront/checkout-api/internal/apperr"
	"github.com/storefront/checkout-api/internal/metrics"
	"github.com/storefront/checkout-api/internal/middleware"
	"github.com/storefront/checkout-api/internal/models"
	"github.com/storefront/checkout-api/internal/services"
	"github.com/storefront/checkout-api/pkg/config"
	"go.uber.org/zap"
)

// Pinger reports whether the backing store is reachable
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Services groups the domain services the handlers call
type Services struct {
	Products *services.ProductService
	Carts    *services.CartService
	Checkout *services.CheckoutService
	Orders   *services.OrderService
	Users    *services.UserService
}

// App holds application dependencies
type App struct {
	config   *config.Config
	metrics  *metrics.AppMetrics
	logger   *zap.Logger
	svc      Services
	health   Pinger
	validate *validator.Validate
}

// NewApp creates a new application instance. health may be nil when the store has nothing to ping.
func NewApp(cfg *config.Config, svc Services, m *metrics.AppMetrics, log *zap.Logger, health Pinger) *App {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	return &App{
		config:   cfg,
		metrics:  m,
		logger:   log,
		svc:      svc,
		health:   health,
		validate: v,
	}
}

// Handler builds the router with all middleware applied
func (a *App) Handler() http.Handler {
	r := mux.NewRouter()
	a.SetupRoutes(r)
	return middleware.CORSMiddleware(r)
}

// SetupRoutes configures the HTTP routes
func (a *App) SetupRoutes(r *mux.Router) {
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.TracingMiddleware)
	r.Use(middleware.MetricsMiddleware(a.metrics, a.logger))
	r.Use(middleware.RecoveryMiddleware(a.logger))
	if a.config.JWTSecret != "" {
		r.Use(middleware.Authenticate(a.config.JWTSecret, a.logger))
		r.HandleFunc("/auth/login", a.LoginHandler).Methods(http.MethodPost)
	}

	// Checkout
	r.HandleFunc("/checkout", a.CheckoutHandler).Methods(http.MethodPost)

	// Carts
	r.HandleFunc("/carts/summary/{userId:[0-9]+}", a.GetCartSummaryHandler).Methods(http.MethodGet)
	r.HandleFunc("/carts/user/{userId:[0-9]+}", a.GetUserCartHandler).Methods(http.MethodGet)

	// Cart items
	r.HandleFunc("/cart-items", a.AddCartItemHandler).Methods(http.MethodPost)
	r.HandleFunc("/cart-items/cart/{cartId:[0-9]+}", a.ListCartItemsHandler).Methods(http.MethodGet)
	r.HandleFunc("/cart-items/{id:[0-9]+}", a.GetCartItemHandler).Methods(http.MethodGet)
	r.HandleFunc("/cart-items/{id:[0-9]+}", a.UpdateCartItemHandler).Methods(http.MethodPut)
	r.HandleFunc("/cart-items/{id:[0-9]+}", a.RemoveCartItemHandler).Methods(http.MethodDelete)

	// Orders
	r.HandleFunc("/orders", a.ListOrdersHandler).Methods(http.MethodGet)
	r.HandleFunc("/orders/{id:[0-9]+}", a.GetOrderHandler).Methods(http.MethodGet)
	r.HandleFunc("/orders/{id:[0-9]+}/status", a.UpdateOrderStatusHandler).Methods(http.MethodPut)

	// Products
	r.HandleFunc("/products", a.ListProductsHandler).Methods(http.MethodGet)
	r.HandleFunc("/products", a.CreateProductHandler).Methods(http.MethodPost)
	r.HandleFunc("/products/{id:[0-9]+}", a.GetProductHandler).Methods(http.MethodGet)
	r.HandleFunc("/products/{id:[0-9]+}", a.UpdateProductHandler).Methods(http.MethodPut)
	r.HandleFunc("/products/{id:[0-9]+}", a.DeleteProductHandler).Methods(http.MethodDelete)

	// Users
	r.HandleFunc("/users", a.CreateUserHandler).Methods(http.MethodPost)
	r.HandleFunc("/users", a.FindUserHandler).Methods(http.MethodGet).Queries("email", "{email}")
	r.HandleFunc("/users/{id:[0-9]+}", a.GetUserHandler).Methods(http.MethodGet)

	// Health
	r.HandleFunc("/health", a.HealthHandler).Methods(http.MethodGet)
}

// authorizeUser rejects an authenticated caller acting on another user's data.
func authorizeUser(ctx context.Context, userID int64) error {
	p, ok := middleware.PrincipalFrom(ctx)
	if ok && p.UserID != userID {
		return apperr.Forbidden("Not allowed to access data of user %d", userID)
	}
	return nil
}

func (a *App) authorizeCart(ctx context.Context, cartID int64) error {
	if _, ok := middleware.PrincipalFrom(ctx); !ok {
		return nil
	}
	cart, err := a.svc.Carts.GetCart(ctx, cartID)
	if err != nil {
		return err
	}
	return authorizeUser(ctx, cart.UserID)
}

// HealthHandler handles health check requests
func (a *App) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if a.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.health.PingContext(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// CheckoutHandler handles POST /checkout
func (a *App) CheckoutHandler(w http.ResponseWriter, r *http.Request) {
	var req models.CheckoutRequest
	if err := a.decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	if p, ok := middleware.PrincipalFrom(r.Context()); ok && req.UserID == 0 {
		req.UserID = p.UserID
	}
	if err := authorizeUser(r.Context(), req.UserID); err != nil {
		a.writeError(w, r, err)
		return
	}

	order, err := a.svc.Checkout.Checkout(r.Context(), req.UserID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, order)
}

// GetCartSummaryHandler handles GET /carts/summary/{userId}
func (a *App) GetCartSummaryHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userId")
	if err == nil {
		err = authorizeUser(r.Context(), userID)
	}
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	summary, err := a.svc.Carts.GetCartSummary(r.Context(), userID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// GetUserCartHandler handles GET /carts/user/{userId}
func (a *App) GetUserCartHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userId")
	if err == nil {
		err = authorizeUser(r.Context(), userID)
	}
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	cart, err := a.svc.Carts.GetOrCreateCart(r.Context(), userID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, cart)
}

// AddCartItemHandler handles POST /cart-items
func (a *App) AddCartItemHandler(w http.ResponseWriter, r *http.Request) {
	var req models.AddCartItemRequest
	err := a.decode(r, &req)
	if err == nil {
		err = a.authorizeCart(r.Context(), req.CartID)
	}
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	item, created, err := a.svc.Carts.AddItem(r.Context(), req.CartID, req.ProductID, req.Quantity)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, item)
}

// ListCartItemsHandler handles GET /cart-items/cart/{cartId}
func (a *App) ListCartItemsHandler(w http.ResponseWriter, r *http.Request) {
	cartID, err := pathID(r, "cartId")
	if err == nil {
		err = a.authorizeCart(r.Context(), cartID)
	}
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	items, err := a.svc.Carts.ListItems(r.Context(), cartID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, items)
}

// cartItemFromPath loads the item named in the path and checks the caller owns its cart.
func (a *App) cartItemFromPath(r *http.Request) (*models.CartItem, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return nil, err
	}
	item, err := a.svc.Carts.GetItem(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if err := a.authorizeCart(r.Context(), item.CartID); err != nil {
		return nil, err
	}
	return item, nil
}

// GetCartItemHandler handles GET /cart-items/{id}
func (a *App) GetCartItemHandler(w http.ResponseWriter, r *http.Request) {
	item, err := a.cartItemFromPath(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, item)
}

// UpdateCartItemHandler handles PUT /cart-items/{id}
func (a *App) UpdateCartItemHandler(w http.ResponseWriter, r *http.Request) {
	item, err := a.cartItemFromPath(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	var req models.UpdateCartItemRequest
	if err := a.decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	updated, err := a.svc.Carts.UpdateItemQuantity(r.Context(), item.ID, req.Quantity)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

// RemoveCartItemHandler handles DELETE /cart-items/{id}
func (a *App) RemoveCartItemHandler(w http.ResponseWriter, r *http.Request) {
	item, err := a.cartItemFromPath(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	if err := a.svc.Carts.RemoveItem(r.Context(), item.ID); err != nil {
		a.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"message": "Cart item removed", "id": item.ID})
}

// ListOrdersHandler handles GET /orders?userId=
func (a *App) ListOrdersHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := queryInt(r, "userId", 0)
	if err == nil {
		err = authorizeUser(r.Context(), int64(userID))
	}
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	orders, err := a.svc.Orders.ListUserOrders(r.Context(), int64(userID))
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, orders)
}

// GetOrderHandler handles GET /orders/{id}
func (a *App) GetOrderHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	order, err := a.svc.Orders.GetOrder(r.Context(), id)
	if err == nil {
		err = authorizeUser(r.Context(), order.UserID)
	}
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, order)
}

// UpdateOrderStatusHandler handles PUT /orders/{id}/status
func (a *App) UpdateOrderStatusHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	var req models.UpdateOrderStatusRequest
	if err := a.decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	order, err := a.svc.Orders.UpdateOrderStatus(r.Context(), id, req.Status)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, order)
}

// ListProductsHandler handles GET /products
func (a *App) ListProductsHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", services.DefaultProductLimit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	products, err := a.svc.Products.ListProducts(r.Context(), limit, offset)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, products)
}

// GetProductHandler handles GET /products/{id}
func (a *App) GetProductHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	product, err := a.svc.Products.GetProduct(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, product)
}

// CreateProductHandler handles POST /products
func (a *App) CreateProductHandler(w http.ResponseWriter, r *http.Request) {
	var req models.ProductInput
	if err := a.decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	product, err := a.svc.Products.CreateProduct(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, product)
}

// UpdateProductHandler handles PUT /products/{id}
func (a *App) UpdateProductHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	var req models.ProductInput
	if err := a.decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	product, err := a.svc.Products.UpdateProduct(r.Context(), id, req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, product)
}

// DeleteProductHandler handles DELETE /products/{id}
func (a *App) DeleteProductHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	if err := a.svc.Products.DeleteProduct(r.Context(), id); err != nil {
		a.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"message": "Product deleted", "id": id})
}

// CreateUserHandler handles POST /users
func (a *App) CreateUserHandler(w http.ResponseWriter, r *http.Request) {
	var req models.CreateUserRequest
	if err := a.decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	user, err := a.svc.Users.CreateUser(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

// LoginHandler handles POST /auth/login
func (a *App) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := a.decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	resp, err := a.svc.Users.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetUserHandler handles GET /users/{id}
func (a *App) GetUserHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	user, err := a.svc.Users.GetUser(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// FindUserHandler handles GET /users?email=
func (a *App) FindUserHandler(w http.ResponseWriter, r *http.Request) {
	user, err := a.svc.Users.GetUserByEmail(r.Context(), r.URL.Query().Get("email"))
	if err == nil {
		err = authorizeUser(r.Context(), user.ID)
	}
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}
