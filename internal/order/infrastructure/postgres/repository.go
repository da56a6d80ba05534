package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/dmehra2102/order-service/internal/order/domain"
)

const orderColumns = `id, order_reference, buyer_id, status, created_at, updated_at`

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

func (r *Repository) FindActiveByID(ctx context.Context, id string, excluded domain.Status) (domain.Order, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1 AND status<>$2`, id, string(excluded))
	return scanOrder(row)
}

func (r *Repository) FindByReference(ctx context.Context, reference string) (domain.Order, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_reference=$1`, reference)
	return scanOrder(row)
}

func (r *Repository) FindByBuyer(ctx context.Context, buyerID string) ([]domain.Order, error) {
	return r.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders WHERE buyer_id=$1 ORDER BY created_at, id`, buyerID)
}

func (r *Repository) FindByStatus(ctx context.Context, status domain.Status) ([]domain.Order, error) {
	return r.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders WHERE status=$1 ORDER BY created_at, id`, string(status))
}

func (r *Repository) InsertOrder(ctx context.Context, o domain.Order) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO orders (id, order_reference, buyer_id, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		o.ID, o.Reference, o.BuyerID, string(o.Status), o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order %s: %w", o.Reference, err)
	}
	return nil
}

func (r *Repository) UpdateStatus(ctx context.Context, id string, from, to domain.Status) error {
	ct, err := r.pool.Exec(ctx, `UPDATE orders SET status=$3, updated_at=now() WHERE id=$1 AND status=$2`,
		id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("update order %s status: %w", id, err)
	}
	if ct.RowsAffected() == 1 {
		return nil
	}

	var current string
	err = r.pool.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrOrderNotFound
	}
	if err != nil {
		return fmt.Errorf("read order %s status: %w", id, err)
	}
	r.log.Debug("order status conflict", "order_id", id, "expected", from, "current", current)
	return domain.ErrStatusConflict
}

func (r *Repository) InsertItem(ctx context.Context, item domain.OrderItem) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO order_items (id, order_reference, product_id, quantity, order_item_price)
		VALUES ($1,$2,$3,$4,$5::text::numeric)`,
		item.ID, item.OrderReference, item.ProductID, item.Quantity, item.UnitPrice.StringFixed(2))
	if err != nil {
		return fmt.Errorf("insert item %s for %s: %w", item.ProductID, item.OrderReference, err)
	}
	return nil
}

func (r *Repository) ItemsByReference(ctx context.Context, reference string) ([]domain.OrderItem, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, order_reference, product_id, quantity, order_item_price::text
		FROM order_items WHERE order_reference=$1 ORDER BY product_id, id`, reference)
	if err != nil {
		return nil, fmt.Errorf("query items for %s: %w", reference, err)
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var item domain.OrderItem
		var price string
		if err := rows.Scan(&item.ID, &item.OrderReference, &item.ProductID, &item.Quantity, &price); err != nil {
			return nil, err
		}
		if item.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("item %s price %q: %w", item.ID, price, err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *Repository) DeleteItemsByReference(ctx context.Context, reference string) (int64, error) {
	ct, err := r.pool.Exec(ctx, `DELETE FROM order_items WHERE order_reference=$1`, reference)
	if err != nil {
		return 0, fmt.Errorf("delete items for %s: %w", reference, err)
	}
	return ct.RowsAffected(), nil
}

func (r *Repository) queryOrders(ctx context.Context, sql string, args ...any) ([]domain.Order, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	var status string
	err := row.Scan(&o.ID, &o.Reference, &o.BuyerID, &status, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, err
	}
	if o.Status, err = domain.ParseStatus(status); err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

// Sequence mints order reference numbers from a database sequence, so every
// instance of the service draws from the same counter.
type Sequence struct {
	pool *pgxpool.Pool
}

func NewSequence(pool *pgxpool.Pool) *Sequence {
	return &Sequence{pool: pool}
}

func (s *Sequence) Next(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT nextval('order_reference_seq')`).Scan(&n); err != nil {
		return 0, fmt.Errorf("next order reference: %w", err)
	}
	return n, nil
}
