package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lonestarfoods/discount-engine/internal/domain/discount"
)

const countOrdersByEmailSQL = `SELECT count(*) FROM orders WHERE email = $1`

var _ discount.OrderCounter = (*OrderRepository)(nil)

// OrderRepository reads the storefront-owned orders table. The engine never
// writes to it; it only needs order counts for first-order-only checks.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// CountByEmail returns the number of completed orders for the email.
func (r *OrderRepository) CountByEmail(ctx context.Context, email string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, countOrdersByEmailSQL, email).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting orders for %q: %w", email, err)
	}
	return count, nil
}
