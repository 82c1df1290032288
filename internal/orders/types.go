package orders

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-checkout-payments/internal/apperr"
)

// Status of an order.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusShipped    Status = "SHIPPED"
	StatusDelivered  Status = "DELIVERED"
	StatusCancelled  Status = "CANCELLED"
)

// next lists the legal successor of each status.
var next = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped},
	StatusShipped:    {StatusDelivered},
	StatusDelivered:  nil,
	StatusCancelled:  nil,
}

// ParseStatus returns apperr.ErrInvalidStatus for values outside the enum.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if _, ok := next[st]; !ok {
		return "", apperr.ErrInvalidStatus
	}
	return st, nil
}

func (s Status) Terminal() bool { return len(next[s]) == 0 }

// CanTransitionTo reports whether s -> to is an edge of the state machine.
func (s Status) CanTransitionTo(to Status) bool {
	for _, n := range next[s] {
		if n == to {
			return true
		}
	}
	return false
}

// Order is an order with its frozen items. TotalPrice never changes after creation.
type Order struct {
	ID              string          `json:"id"`
	UserID          int64           `json:"user_id"`
	UserEmail       string          `json:"-"`
	Status          Status          `json:"status"`
	ShippingAddress string          `json:"shipping_address"`
	BillingAddress  string          `json:"billing_address"`
	TotalPrice      decimal.Decimal `json:"total_price"`
	Items           []Item          `json:"items"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Item is a product line with the unit price captured at checkout.
type Item struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

// CreateInput is the checkout request. OrderID may be preset by callers that
// reserve an id up front (idempotent checkout).
type CreateInput struct {
	OrderID         string
	ShippingAddress string
	BillingAddress  string
}

// AddressInput carries the addresses to overwrite; nil leaves a field as is.
type AddressInput struct {
	ShippingAddress *string
	BillingAddress  *string
}

// StatusInput is an administrative status change.
type StatusInput struct {
	Status         string
	TrackingNumber string
}

// DeleteResult reports the outcome of a cancellation.
type DeleteResult struct {
	OrderID          string `json:"order_id"`
	NotificationSent bool   `json:"notification_sent"`
}
