package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/imrishuroy/go-checkout-payments/internal/cart"
	"github.com/imrishuroy/go-checkout-payments/internal/orders"
	"github.com/imrishuroy/go-checkout-payments/internal/payments"
)

// OrderRepository adapts the store to orders.Repository.
type OrderRepository struct{ s *Store }

func (s *Store) Orders() OrderRepository { return OrderRepository{s: s} }

func (r OrderRepository) WithTx(ctx context.Context, fn func(orders.Tx) error) error {
	return r.s.withTx(ctx, func(t *tx) error { return fn(t) })
}

func (r OrderRepository) Get(ctx context.Context, id string) (*orders.Order, error) {
	o, err := scanOrder(r.s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	list := []orders.Order{*o}
	if err := r.attachItems(ctx, list); err != nil {
		return nil, err
	}
	return &list[0], nil
}

func (r OrderRepository) ListByUser(ctx context.Context, userID int64) ([]orders.Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`, userID)
}

func (r OrderRepository) ListAll(ctx context.Context) ([]orders.Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC`)
}

func (r OrderRepository) list(ctx context.Context, sql string, args ...any) ([]orders.Order, error) {
	rows, err := r.s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	out := []orders.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.attachItems(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r OrderRepository) attachItems(ctx context.Context, list []orders.Order) error {
	if len(list) == 0 {
		return nil
	}
	ids := make([]string, len(list))
	idx := make(map[string]int, len(list))
	for i, o := range list {
		ids[i] = o.ID
		idx[o.ID] = i
		list[i].Items = []orders.Item{}
	}
	rows, err := r.s.db.Query(ctx, `SELECT order_id, product_id, quantity, price
		FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, product_id`, ids)
	if err != nil {
		return fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			orderID string
			it      orders.Item
		)
		if err := rows.Scan(&orderID, &it.ProductID, &it.Quantity, &it.Price); err != nil {
			return fmt.Errorf("scan order item: %w", err)
		}
		if i, ok := idx[orderID]; ok {
			list[i].Items = append(list[i].Items, it)
		}
	}
	return rows.Err()
}

// PaymentRepository adapts the store to payments.Repository.
type PaymentRepository struct{ s *Store }

func (s *Store) Payments() PaymentRepository { return PaymentRepository{s: s} }

func (r PaymentRepository) WithTx(ctx context.Context, fn func(payments.Tx) error) error {
	return r.s.withTx(ctx, func(t *tx) error { return fn(t) })
}

// CartRepository adapts the store to cart.Repository.
type CartRepository struct{ s *Store }

func (s *Store) Cart() CartRepository { return CartRepository{s: s} }

func (r CartRepository) Product(ctx context.Context, id int64) (*cart.Product, error) {
	var p cart.Product
	err := r.s.db.QueryRow(ctx, `SELECT id, name, price, stock, available FROM products WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &p.Available)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	return &p, nil
}

func (r CartRepository) Lines(ctx context.Context, userID int64) ([]cart.Line, error) {
	rows, err := r.s.db.Query(ctx, `SELECT c.product_id, p.name, c.quantity, p.price, p.available
		FROM cart_items c JOIN products p ON p.id = c.product_id
		WHERE c.user_id = $1
		ORDER BY c.product_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list cart lines: %w", err)
	}
	return scanLines(rows)
}

// AddQuantity upserts the line; the WHERE clause rejects a sum above max
// without touching the row, in which case no row is returned.
func (r CartRepository) AddQuantity(ctx context.Context, userID, productID int64, qty, max int) (int, bool, error) {
	var newQty int
	err := r.s.db.QueryRow(ctx, `INSERT INTO cart_items (user_id, product_id, quantity) VALUES ($1, $2, $3)
		ON CONFLICT (user_id, product_id)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity
		WHERE cart_items.quantity + EXCLUDED.quantity <= $4
		RETURNING quantity`, userID, productID, qty, max).Scan(&newQty)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("add cart quantity: %w", err)
	}
	return newQty, true, nil
}

func (r CartRepository) SetQuantity(ctx context.Context, userID, productID int64, qty int) error {
	_, err := r.s.db.Exec(ctx, `INSERT INTO cart_items (user_id, product_id, quantity) VALUES ($1, $2, $3)
		ON CONFLICT (user_id, product_id) DO UPDATE SET quantity = EXCLUDED.quantity`, userID, productID, qty)
	if err != nil {
		return fmt.Errorf("set cart quantity: %w", err)
	}
	return nil
}

func (r CartRepository) RemoveLine(ctx context.Context, userID, productID int64) error {
	if _, err := r.s.db.Exec(ctx, `DELETE FROM cart_items WHERE user_id = $1 AND product_id = $2`, userID, productID); err != nil {
		return fmt.Errorf("remove cart line: %w", err)
	}
	return nil
}

func (r CartRepository) Clear(ctx context.Context, userID int64) error {
	if _, err := r.s.db.Exec(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}
