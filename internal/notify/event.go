package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Type names a notification event.
type Type string

const (
	OrderConfirmed      Type = "order.confirmed"
	OrderAddressUpdated Type = "order.address_updated"
	OrderStatusUpdated  Type = "order.status_updated"
	OrderShipped        Type = "order.shipped"
	OrderCancelled      Type = "order.cancelled"
	PaymentCompleted    Type = "payment.completed"
	PaymentFailed       Type = "payment.failed"
)

// Event is the message handed to the dispatcher after a transaction commits.
// It carries a snapshot, the worker never reads the database.
type Event struct {
	ID              string          `json:"id"`
	Type            Type            `json:"type"`
	OrderID         string          `json:"order_id"`
	UserID          int64           `json:"user_id"`
	Email           string          `json:"email"`
	Status          string          `json:"status,omitempty"`
	PreviousStatus  string          `json:"previous_status,omitempty"`
	Total           decimal.Decimal `json:"total"`
	ShippingAddress string          `json:"shipping_address,omitempty"`
	TrackingNumber  string          `json:"tracking_number,omitempty"`
	PaymentMethod   string          `json:"payment_method,omitempty"`
	TransactionID   string          `json:"transaction_id,omitempty"`
	Reason          string          `json:"reason,omitempty"`
	OccurredAt      time.Time       `json:"occurred_at"`
}

// NewEvent stamps a fresh id and time.
func NewEvent(t Type, orderID string, userID int64, email string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		OrderID:    orderID,
		UserID:     userID,
		Email:      email,
		OccurredAt: time.Now().UTC(),
	}
}

// Dispatcher hands events to the delivery pipeline. Callers log failures and
// never roll back a committed transaction because of them.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev Event) error
}
