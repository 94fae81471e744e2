// Package memstore is an in-process implementation of the repositories, used for
// local development without MySQL and by service tests.
//
// A transaction works on a private copy of the committed tables. On success only the
// rows it changed are merged back; on error the copy is dropped. Transactions are
// serialized with each other, while calls outside a transaction read and write the
// committed tables directly. Ids come from per-table counters that are never rolled
// back, like AUTO_INCREMENT.
package memstore

import (
	"context"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/storefront/checkout-api/internal/models"
	"github.com/storefront/checkout-api/internal/repository"
)

type txKey struct{}

type state struct {
	users      map[int64]models.User
	products   map[int64]models.Product
	deleted    map[int64]bool
	carts      map[int64]models.Cart
	cartItems  map[int64]models.CartItem
	orders     map[int64]models.Order
	orderItems map[int64]models.OrderItem
}

func newState() *state {
	return &state{
		users:      make(map[int64]models.User),
		products:   make(map[int64]models.Product),
		deleted:    make(map[int64]bool),
		carts:      make(map[int64]models.Cart),
		cartItems:  make(map[int64]models.CartItem),
		orders:     make(map[int64]models.Order),
		orderItems: make(map[int64]models.OrderItem),
	}
}

func copyTable[V any](dst, src map[int64]V) {
	for k, v := range src {
		dst[k] = v
	}
}

func (s *state) clone() *state {
	c := newState()
	copyTable(c.users, s.users)
	copyTable(c.products, s.products)
	copyTable(c.deleted, s.deleted)
	copyTable(c.carts, s.carts)
	copyTable(c.cartItems, s.cartItems)
	copyTable(c.orders, s.orders)
	copyTable(c.orderItems, s.orderItems)
	return c
}

// mergeTable applies to dst the rows that differ between base and work.
func mergeTable[V any](dst, base, work map[int64]V) {
	for id, v := range work {
		if old, ok := base[id]; !ok || !reflect.DeepEqual(old, v) {
			dst[id] = v
		}
	}
	for id := range base {
		if _, ok := work[id]; !ok {
			delete(dst, id)
		}
	}
}

// merge returns a copy of s with the changes a transaction made from base to work.
func (s *state) merge(base, work *state) *state {
	m := s.clone()
	mergeTable(m.users, base.users, work.users)
	mergeTable(m.products, base.products, work.products)
	mergeTable(m.deleted, base.deleted, work.deleted)
	mergeTable(m.carts, base.carts, work.carts)
	mergeTable(m.cartItems, base.cartItems, work.cartItems)
	mergeTable(m.orders, base.orders, work.orders)
	mergeTable(m.orderItems, base.orderItems, work.orderItems)
	return m
}

// unique reports whether the unique keys of the schema still hold.
func (s *state) unique() bool {
	emails := make(map[string]bool, len(s.users))
	for _, u := range s.users {
		if emails[u.Email] {
			return false
		}
		emails[u.Email] = true
	}
	cartUsers := make(map[int64]bool, len(s.carts))
	for _, c := range s.carts {
		if cartUsers[c.UserID] {
			return false
		}
		cartUsers[c.UserID] = true
	}
	type lineKey struct{ cart, product int64 }
	lines := make(map[lineKey]bool, len(s.cartItems))
	for _, item := range s.cartItems {
		k := lineKey{item.CartID, item.ProductID}
		if lines[k] {
			return false
		}
		lines[k] = true
	}
	return true
}

type tx struct {
	base *state
	work *state
}

// DB holds all tables in memory
type DB struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	data *state

	idMu sync.Mutex
	ids  map[string]int64
}

// New returns a store backed by an empty in-memory database
func New() *repository.Store {
	return NewFromDB(NewDB())
}

// NewDB returns an empty in-memory database
func NewDB() *DB {
	return &DB{data: newState(), ids: make(map[string]int64)}
}

// NewFromDB wires repositories around an existing in-memory database
func NewFromDB(d *DB) *repository.Store {
	return &repository.Store{
		Users:    &UserRepository{db: d},
		Products: &ProductRepository{db: d},
		Carts:    &CartRepository{db: d},
		Orders:   &OrderRepository{db: d},
		Tx:       d,
	}
}

// WithinTx runs fn against a private copy of the tables and publishes its changes
// only if fn succeeds. A nested call joins the outer transaction.
func (d *DB) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*tx); ok {
		return fn(ctx)
	}

	d.txMu.Lock()
	defer d.txMu.Unlock()

	d.mu.RLock()
	t := &tx{base: d.data.clone()}
	d.mu.RUnlock()
	t.work = t.base.clone()

	if err := fn(context.WithValue(ctx, txKey{}, t)); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	merged := d.data.merge(t.base, t.work)
	if !merged.unique() {
		return repository.ErrDuplicate
	}
	d.data = merged
	return nil
}

// view runs fn on the tables visible to ctx: the transaction's copy or the committed tables.
func (d *DB) view(ctx context.Context, fn func(s *state) error) error {
	if t, ok := ctx.Value(txKey{}).(*tx); ok {
		return fn(t.work)
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return fn(d.data)
}

// update is view for writers. Outside a transaction the write lands on the committed tables.
func (d *DB) update(ctx context.Context, fn func(s *state) error) error {
	if t, ok := ctx.Value(txKey{}).(*tx); ok {
		return fn(t.work)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return fn(d.data)
}

func (d *DB) nextID(table string) int64 {
	d.idMu.Lock()
	defer d.idMu.Unlock()
	d.ids[table]++
	return d.ids[table]
}

func now() time.Time {
	return time.Now().UTC()
}

func live(s *state, id int64) (models.Product, bool) {
	p, ok := s.products[id]
	if !ok || s.deleted[id] {
		return models.Product{}, false
	}
	return p, true
}

type UserRepository struct {
	db *DB
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	return r.db.update(ctx, func(s *state) error {
		for _, u := range s.users {
			if u.Email == user.Email {
				return repository.ErrDuplicate
			}
		}

		ts := now()
		user.ID = r.db.nextID("users")
		user.CreatedAt = ts
		user.UpdatedAt = ts
		s.users[user.ID] = *user
		return nil
	})
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	err := r.db.view(ctx, func(s *state) error {
		u, ok := s.users[id]
		if !ok {
			return repository.ErrNotFound
		}
		user = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := r.db.view(ctx, func(s *state) error {
		for _, u := range s.users {
			if u.Email == email {
				user = u
				return nil
			}
		}
		return repository.ErrNotFound
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

type ProductRepository struct {
	db *DB
}

func (r *ProductRepository) List(ctx context.Context, limit, offset int) ([]models.Product, error) {
	var products []models.Product
	err := r.db.view(ctx, func(s *state) error {
		products = make([]models.Product, 0, len(s.products))
		for id, p := range s.products {
			if !s.deleted[id] {
				products = append(products, p)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(products, func(i, j int) bool { return products[i].ID < products[j].ID })

	if offset >= len(products) {
		return []models.Product{}, nil
	}
	products = products[offset:]
	if limit < len(products) {
		products = products[:limit]
	}
	return products, nil
}

func (r *ProductRepository) GetByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := r.db.view(ctx, func(s *state) error {
		p, ok := live(s, id)
		if !ok {
			return repository.ErrNotFound
		}
		product = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *ProductRepository) Create(ctx context.Context, p *models.Product) error {
	return r.db.update(ctx, func(s *state) error {
		ts := now()
		p.ID = r.db.nextID("products")
		p.CreatedAt = ts
		p.UpdatedAt = ts
		s.products[p.ID] = *p
		return nil
	})
}

func (r *ProductRepository) Update(ctx context.Context, p *models.Product) error {
	return r.db.update(ctx, func(s *state) error {
		existing, ok := live(s, p.ID)
		if !ok {
			return nil
		}

		p.CreatedAt = existing.CreatedAt
		p.UpdatedAt = now()
		s.products[p.ID] = *p
		return nil
	})
}

func (r *ProductRepository) Delete(ctx context.Context, id int64) error {
	return r.db.update(ctx, func(s *state) error {
		if _, ok := live(s, id); !ok {
			return repository.ErrNotFound
		}
		s.deleted[id] = true
		return nil
	})
}

func (r *ProductRepository) DecreaseStock(ctx context.Context, id int64, quantity int) error {
	return r.db.update(ctx, func(s *state) error {
		p, ok := live(s, id)
		if !ok {
			return repository.ErrNotFound
		}
		if p.StockQuantity < quantity {
			return repository.ErrInsufficientStock
		}

		p.StockQuantity -= quantity
		p.UpdatedAt = now()
		s.products[id] = p
		return nil
	})
}

type CartRepository struct {
	db *DB
}

func (r *CartRepository) GetByID(ctx context.Context, id int64) (*models.Cart, error) {
	var cart models.Cart
	err := r.db.view(ctx, func(s *state) error {
		c, ok := s.carts[id]
		if !ok {
			return repository.ErrNotFound
		}
		cart = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

func (r *CartRepository) GetByUserID(ctx context.Context, userID int64) (*models.Cart, error) {
	var cart models.Cart
	err := r.db.view(ctx, func(s *state) error {
		for _, c := range s.carts {
			if c.UserID == userID {
				cart = c
				return nil
			}
		}
		return repository.ErrNotFound
	})
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

func (r *CartRepository) Create(ctx context.Context, cart *models.Cart) error {
	return r.db.update(ctx, func(s *state) error {
		for _, c := range s.carts {
			if c.UserID == cart.UserID {
				return repository.ErrDuplicate
			}
		}

		ts := now()
		cart.ID = r.db.nextID("carts")
		cart.CreatedAt = ts
		cart.UpdatedAt = ts
		s.carts[cart.ID] = *cart
		return nil
	})
}

// Lock only checks existence; transactions are already serialized.
func (r *CartRepository) Lock(ctx context.Context, cartID int64) error {
	return r.db.view(ctx, func(s *state) error {
		if _, ok := s.carts[cartID]; !ok {
			return repository.ErrNotFound
		}
		return nil
	})
}

func (r *CartRepository) ListLines(ctx context.Context, cartID int64) ([]models.CartLine, error) {
	lines := []models.CartLine{}
	err := r.db.view(ctx, func(s *state) error {
		for _, item := range s.cartItems {
			if item.CartID != cartID {
				continue
			}
			line := models.CartLine{CartItem: item}
			if p, ok := live(s, item.ProductID); ok {
				line.Product = &p
			}
			lines = append(lines, line)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ID < lines[j].ID })
	return lines, nil
}

func (r *CartRepository) GetItem(ctx context.Context, itemID int64) (*models.CartItem, error) {
	var item models.CartItem
	err := r.db.view(ctx, func(s *state) error {
		i, ok := s.cartItems[itemID]
		if !ok {
			return repository.ErrNotFound
		}
		item = i
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *CartRepository) GetItemByProduct(ctx context.Context, cartID, productID int64) (*models.CartItem, error) {
	var item models.CartItem
	err := r.db.view(ctx, func(s *state) error {
		for _, i := range s.cartItems {
			if i.CartID == cartID && i.ProductID == productID {
				item = i
				return nil
			}
		}
		return repository.ErrNotFound
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *CartRepository) CreateItem(ctx context.Context, item *models.CartItem) error {
	return r.db.update(ctx, func(s *state) error {
		for _, existing := range s.cartItems {
			if existing.CartID == item.CartID && existing.ProductID == item.ProductID {
				return repository.ErrDuplicate
			}
		}

		ts := now()
		item.ID = r.db.nextID("cart_items")
		item.CreatedAt = ts
		item.UpdatedAt = ts
		s.cartItems[item.ID] = *item
		return nil
	})
}

func (r *CartRepository) UpdateItemQuantity(ctx context.Context, itemID int64, quantity int) error {
	return r.db.update(ctx, func(s *state) error {
		item, ok := s.cartItems[itemID]
		if !ok {
			return nil
		}
		item.Quantity = quantity
		item.UpdatedAt = now()
		s.cartItems[itemID] = item
		return nil
	})
}

func (r *CartRepository) DeleteItem(ctx context.Context, itemID int64) error {
	return r.db.update(ctx, func(s *state) error {
		if _, ok := s.cartItems[itemID]; !ok {
			return repository.ErrNotFound
		}
		delete(s.cartItems, itemID)
		return nil
	})
}

func (r *CartRepository) ClearItems(ctx context.Context, cartID int64) (int64, error) {
	var removed int64
	err := r.db.update(ctx, func(s *state) error {
		for id, item := range s.cartItems {
			if item.CartID == cartID {
				delete(s.cartItems, id)
				removed++
			}
		}
		return nil
	})
	return removed, err
}

func (r *CartRepository) CountItems(ctx context.Context, cartID int64) (int, error) {
	count := 0
	err := r.db.view(ctx, func(s *state) error {
		for _, item := range s.cartItems {
			if item.CartID == cartID {
				count++
			}
		}
		return nil
	})
	return count, err
}

func (r *CartRepository) CountActive(ctx context.Context) (int, error) {
	active := make(map[int64]struct{})
	err := r.db.view(ctx, func(s *state) error {
		for _, item := range s.cartItems {
			active[item.CartID] = struct{}{}
		}
		return nil
	})
	return len(active), err
}

type OrderRepository struct {
	db *DB
}

func (r *OrderRepository) Create(ctx context.Context, order *models.Order) error {
	return r.db.update(ctx, func(s *state) error {
		ts := now()
		order.ID = r.db.nextID("orders")
		order.CreatedAt = ts
		order.UpdatedAt = ts
		s.orders[order.ID] = *order
		return nil
	})
}

func (r *OrderRepository) CreateItems(ctx context.Context, items []models.OrderItem) error {
	return r.db.update(ctx, func(s *state) error {
		ts := now()
		for i := range items {
			items[i].ID = r.db.nextID("order_items")
			items[i].CreatedAt = ts
			s.orderItems[items[i].ID] = items[i]
		}
		return nil
	})
}

func (r *OrderRepository) GetByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := r.db.view(ctx, func(s *state) error {
		o, ok := s.orders[id]
		if !ok {
			return repository.ErrNotFound
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *OrderRepository) ListByUser(ctx context.Context, userID int64) ([]models.Order, error) {
	orders := []models.Order{}
	err := r.db.view(ctx, func(s *state) error {
		for _, o := range s.orders {
			if o.UserID == userID {
				orders = append(orders, o)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID > orders[j].ID })
	return orders, nil
}

func (r *OrderRepository) ListItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	items := []models.OrderItem{}
	err := r.db.view(ctx, func(s *state) error {
		for _, item := range s.orderItems {
			if item.OrderID == orderID {
				items = append(items, item)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (r *OrderRepository) UpdateStatus(ctx context.Context, id int64, from, to models.OrderStatus) error {
	return r.db.update(ctx, func(s *state) error {
		o, ok := s.orders[id]
		if !ok || o.Status != from {
			return repository.ErrNotFound
		}
		o.Status = to
		o.UpdatedAt = now()
		s.orders[id] = o
		return nil
	})
}
