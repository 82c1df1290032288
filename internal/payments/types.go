package payments

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-checkout-payments/internal/apperr"
)

// Method is the payment method variant.
type Method string

const (
	MethodCard        Method = "card"
	MethodMobileMoney Method = "mobile_money"
)

func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case MethodCard, MethodMobileMoney:
		return Method(s), nil
	}
	return "", apperr.Validation("unsupported_method", "unsupported payment method")
}

// Status of a payment attempt. Leaving pending is terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Payment is one attempt to pay an order. Empty TransactionID and CheckoutID
// are stored as NULL.
type Payment struct {
	ID            string          `json:"id"`
	UserID        int64           `json:"user_id"`
	OrderID       string          `json:"order_id"`
	Amount        decimal.Decimal `json:"amount"`
	Method        Method          `json:"method"`
	Status        Status          `json:"status"`
	TransactionID string          `json:"transaction_id,omitempty"`
	CheckoutID    string          `json:"checkout_id,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// LookupField selects the provider identifier a callback refers to.
type LookupField string

const (
	ByTransactionID LookupField = "transaction_id"
	ByCheckoutID    LookupField = "checkout_id"
)

// LookupKey locates the payment a callback is about.
type LookupKey struct {
	Field LookupField
	Value string
}

// InitiateInput starts a payment for an order.
type InitiateInput struct {
	Method  Method
	OrderID string
	Phone   string
}

// InitiateResult is returned to the client. ClientSecret is never persisted.
type InitiateResult struct {
	Payment         *Payment `json:"payment"`
	ClientSecret    string   `json:"client_secret,omitempty"`
	CheckoutID      string   `json:"checkout_id,omitempty"`
	CustomerMessage string   `json:"customer_message,omitempty"`
}

// Outcome of a reconciled callback.
type Outcome string

const (
	OutcomeCompleted        Outcome = "completed"
	OutcomeFailed           Outcome = "failed"
	OutcomeAlreadyProcessed Outcome = "already_processed"
	OutcomeNotFound         Outcome = "not_found"
	OutcomeIgnored          Outcome = "ignored"
)

// ReconcileResult reports what a callback did.
type ReconcileResult struct {
	Outcome   Outcome `json:"result"`
	PaymentID string  `json:"payment_id,omitempty"`
	OrderID   string  `json:"order_id,omitempty"`
}
