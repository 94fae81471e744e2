// Package mysql implements the repositories on MySQL with hand-written SQL.
// Every statement runs on the transaction carried by the context, if any.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/storefront/checkout-api/internal/db"
	"github.com/storefront/checkout-api/internal/metrics"
	"github.com/storefront/checkout-api/internal/repository"
)

const errDuplicateEntry = 1062

// NewStore wires all MySQL repositories around one connection pool
func NewStore(database *db.DB, m *metrics.AppMetrics) *repository.Store {
	c := conn{db: database, metrics: m}
	return &repository.Store{
		Users:    &UserRepository{conn: c},
		Products: &ProductRepository{conn: c},
		Carts:    &CartRepository{conn: c},
		Orders:   &OrderRepository{conn: c},
		Tx:       database,
	}
}

type conn struct {
	db      *db.DB
	metrics *metrics.AppMetrics
}

func (c conn) q(ctx context.Context) db.Querier {
	return c.db.Querier(ctx)
}

// record reports one statement; a missing row is not a failed query.
func (c conn) record(ctx context.Context, op, table, query string, start time.Time, err error) {
	c.metrics.RecordDBQuery(ctx, op, table, query, start, err == nil || errors.Is(err, sql.ErrNoRows))
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func isDuplicate(err error) bool {
	var myErr *gomysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == errDuplicateEntry
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return repository.ErrNotFound
	}
	return err
}
