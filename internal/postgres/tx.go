package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/imrishuroy/go-checkout-payments/internal/apperr"
	"github.com/imrishuroy/go-checkout-payments/internal/cart"
	"github.com/imrishuroy/go-checkout-payments/internal/orders"
	"github.com/imrishuroy/go-checkout-payments/internal/payments"
)

// tx implements both orders.Tx and payments.Tx on one pgx transaction.
type tx struct {
	pgx.Tx
}

var (
	_ orders.Tx   = (*tx)(nil)
	_ payments.Tx = (*tx)(nil)
)

func (t *tx) CartLines(ctx context.Context, userID int64) ([]cart.Line, error) {
	rows, err := t.Query(ctx, `SELECT c.product_id, p.name, c.quantity, p.price, p.available
		FROM cart_items c JOIN products p ON p.id = c.product_id
		WHERE c.user_id = $1
		ORDER BY c.product_id
		FOR UPDATE OF c`, userID)
	if err != nil {
		return nil, fmt.Errorf("lock cart lines: %w", err)
	}
	return scanLines(rows)
}

func (t *tx) RemoveCartLines(ctx context.Context, userID int64, productIDs []int64) error {
	if _, err := t.Exec(ctx, `DELETE FROM cart_items WHERE user_id = $1 AND product_id = ANY($2)`, userID, productIDs); err != nil {
		return fmt.Errorf("remove cart lines: %w", err)
	}
	return nil
}

func (t *tx) InsertOrder(ctx context.Context, o *orders.Order) error {
	_, err := t.Exec(ctx, `INSERT INTO orders
		(id, user_id, user_email, status, shipping_address, billing_address, total_price, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		o.ID, o.UserID, o.UserEmail, string(o.Status), o.ShippingAddress, o.BillingAddress, o.TotalPrice, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return apperr.Conflict("order already exists")
		}
		return fmt.Errorf("insert order: %w", err)
	}
	for _, it := range o.Items {
		_, err := t.Exec(ctx, `INSERT INTO order_items (order_id, product_id, quantity, price) VALUES ($1, $2, $3, $4)`,
			o.ID, it.ProductID, it.Quantity, it.Price)
		if err != nil {
			return fmt.Errorf("insert order item %d: %w", it.ProductID, err)
		}
	}
	return nil
}

func (t *tx) LockOrder(ctx context.Context, id string) (*orders.Order, error) {
	o, err := scanOrder(t.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock order: %w", err)
	}
	return o, nil
}

func (t *tx) UpdateAddresses(ctx context.Context, id, shipping, billing string, at time.Time) error {
	_, err := t.Exec(ctx, `UPDATE orders SET shipping_address = $2, billing_address = $3, updated_at = $4 WHERE id = $1`,
		id, shipping, billing, at)
	if err != nil {
		return fmt.Errorf("update addresses: %w", err)
	}
	return nil
}

func (t *tx) SetOrderStatus(ctx context.Context, id string, status orders.Status, at time.Time) error {
	_, err := t.Exec(ctx, `UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1`, id, string(status), at)
	if err != nil {
		return fmt.Errorf("set order status: %w", err)
	}
	return nil
}

func (t *tx) HasPendingPayment(ctx context.Context, orderID string) (bool, error) {
	var exists bool
	err := t.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payments WHERE order_id = $1 AND status = 'pending')`, orderID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check pending payment: %w", err)
	}
	return exists, nil
}

func (t *tx) DeleteOrder(ctx context.Context, id string) error {
	if _, err := t.Exec(ctx, `DELETE FROM orders WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	return nil
}

func (t *tx) InsertPayment(ctx context.Context, p *payments.Payment) error {
	_, err := t.Exec(ctx, `INSERT INTO payments
		(id, user_id, order_id, amount, method, status, transaction_id, checkout_id, failure_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.ID, p.UserID, p.OrderID, p.Amount, string(p.Method), string(p.Status),
		nullable(p.TransactionID), nullable(p.CheckoutID), p.FailureReason, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if pgErr, ok := uniqueViolation(err); ok {
			if pgErr.ConstraintName == pendingPaymentIndex {
				return apperr.Conflict("a payment for this order is already pending")
			}
			return apperr.Conflict("payment reference already recorded")
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// lookupColumn whitelists the columns a callback may be matched on.
func lookupColumn(f payments.LookupField) (string, error) {
	switch f {
	case payments.ByTransactionID:
		return "transaction_id", nil
	case payments.ByCheckoutID:
		return "checkout_id", nil
	}
	return "", fmt.Errorf("unknown lookup field %q", f)
}

func (t *tx) LockPendingPayment(ctx context.Context, key payments.LookupKey) (*payments.Payment, error) {
	col, err := lookupColumn(key.Field)
	if err != nil {
		return nil, err
	}
	p, err := scanPayment(t.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments
		WHERE `+col+` = $1 AND status = 'pending' FOR UPDATE`, key.Value))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock pending payment: %w", err)
	}
	return p, nil
}

func (t *tx) FindPayment(ctx context.Context, key payments.LookupKey) (*payments.Payment, error) {
	col, err := lookupColumn(key.Field)
	if err != nil {
		return nil, err
	}
	p, err := scanPayment(t.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE `+col+` = $1`, key.Value))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find payment: %w", err)
	}
	return p, nil
}

func (t *tx) UpdatePayment(ctx context.Context, p *payments.Payment) error {
	_, err := t.Exec(ctx, `UPDATE payments
		SET status = $2, transaction_id = $3, failure_reason = $4, updated_at = $5
		WHERE id = $1`,
		p.ID, string(p.Status), nullable(p.TransactionID), p.FailureReason, p.UpdatedAt)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return apperr.Conflict("payment reference already recorded")
		}
		return fmt.Errorf("update payment: %w", err)
	}
	return nil
}
