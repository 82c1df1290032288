package postgres

import (
	"context"
	"fmt"
)

// pendingPaymentIndex backs the one-pending-payment-per-order rule.
const pendingPaymentIndex = "payments_one_pending_per_order"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id         BIGSERIAL PRIMARY KEY,
		name       TEXT NOT NULL,
		price      NUMERIC(12,2) NOT NULL CHECK (price >= 0),
		stock      INTEGER NOT NULL DEFAULT 0,
		available  BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS cart_items (
		user_id    BIGINT NOT NULL,
		product_id BIGINT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
		quantity   INTEGER NOT NULL CHECK (quantity BETWEEN 1 AND 100),
		added_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (user_id, product_id)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id               TEXT PRIMARY KEY,
		user_id          BIGINT NOT NULL,
		user_email       TEXT NOT NULL DEFAULT '',
		status           TEXT NOT NULL CHECK (status IN ('PENDING','PROCESSING','SHIPPED','DELIVERED','CANCELLED')),
		shipping_address TEXT NOT NULL,
		billing_address  TEXT NOT NULL,
		total_price      NUMERIC(12,2) NOT NULL CHECK (total_price >= 0),
		created_at       TIMESTAMPTZ NOT NULL,
		updated_at       TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS orders_user_id_idx ON orders (user_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		order_id   TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		product_id BIGINT NOT NULL,
		quantity   INTEGER NOT NULL CHECK (quantity > 0),
		price      NUMERIC(12,2) NOT NULL,
		PRIMARY KEY (order_id, product_id)
	)`,
	`CREATE TABLE IF NOT EXISTS payments (
		id             TEXT PRIMARY KEY,
		user_id        BIGINT NOT NULL,
		order_id       TEXT REFERENCES orders(id) ON DELETE SET NULL,
		amount         NUMERIC(12,2) NOT NULL,
		method         TEXT NOT NULL CHECK (method IN ('card','mobile_money')),
		status         TEXT NOT NULL CHECK (status IN ('pending','completed','failed')),
		transaction_id TEXT UNIQUE,
		checkout_id    TEXT UNIQUE,
		failure_reason TEXT NOT NULL DEFAULT '',
		created_at     TIMESTAMPTZ NOT NULL,
		updated_at     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ` + pendingPaymentIndex + ` ON payments (order_id) WHERE status = 'pending'`,
}

// Migrate creates the schema. Every statement is idempotent.
func Migrate(ctx context.Context, db DB) error {
	for i, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
