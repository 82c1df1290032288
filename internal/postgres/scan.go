package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/imrishuroy/go-checkout-payments/internal/cart"
	"github.com/imrishuroy/go-checkout-payments/internal/orders"
	"github.com/imrishuroy/go-checkout-payments/internal/payments"
)

const orderColumns = `id, user_id, user_email, status, shipping_address, billing_address, total_price, created_at, updated_at`

const paymentColumns = `id, user_id, order_id, amount, method, status, transaction_id, checkout_id, failure_reason, created_at, updated_at`

func scanOrder(row pgx.Row) (*orders.Order, error) {
	var (
		o      orders.Order
		status string
	)
	err := row.Scan(&o.ID, &o.UserID, &o.UserEmail, &status, &o.ShippingAddress, &o.BillingAddress,
		&o.TotalPrice, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.Status = orders.Status(status)
	return &o, nil
}

func scanPayment(row pgx.Row) (*payments.Payment, error) {
	var (
		p                                  payments.Payment
		method, status                     string
		orderID, transactionID, checkoutID *string
	)
	err := row.Scan(&p.ID, &p.UserID, &orderID, &p.Amount, &method, &status,
		&transactionID, &checkoutID, &p.FailureReason, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.OrderID = deref(orderID)
	p.Method = payments.Method(method)
	p.Status = payments.Status(status)
	p.TransactionID = deref(transactionID)
	p.CheckoutID = deref(checkoutID)
	return &p, nil
}

func scanLines(rows pgx.Rows) ([]cart.Line, error) {
	defer rows.Close()
	var out []cart.Line
	for rows.Next() {
		var l cart.Line
		if err := rows.Scan(&l.ProductID, &l.Name, &l.Quantity, &l.UnitPrice, &l.Available); err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
