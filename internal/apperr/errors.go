package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for transport mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindForbidden
	KindInvalidState
	KindConflict
	KindValidation
	KindProvider
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindInvalidState:
		return "invalid_state"
	case KindConflict:
		return "conflict"
	case KindValidation:
		return "validation_failed"
	case KindProvider:
		return "provider_error"
	default:
		return "internal_error"
	}
}

// Error is the domain error returned by the order engine, the payment
// coordinator and the cart service.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same kind and code, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

func newErr(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

func NotFound(msg string) *Error     { return newErr(KindNotFound, "not_found", msg) }
func Forbidden(msg string) *Error    { return newErr(KindForbidden, "forbidden", msg) }
func InvalidState(msg string) *Error { return newErr(KindInvalidState, "invalid_state", msg) }
func Conflict(msg string) *Error     { return newErr(KindConflict, "conflict", msg) }

// Validation builds a validation error with a caller-chosen code.
func Validation(code, msg string) *Error { return newErr(KindValidation, code, msg) }

// Provider wraps a failure from an external payment provider.
func Provider(provider string, err error) *Error {
	return &Error{Kind: KindProvider, Code: "provider_error", Message: provider + " request failed", Err: err}
}

// Internal wraps an unexpected failure (storage, encoding).
func Internal(op string, err error) *Error {
	return &Error{Kind: KindInternal, Code: "internal_error", Message: op, Err: err}
}

var (
	ErrAmountNotWhole     = Validation("amount_not_whole", "mobile money needs an order total in whole currency units")
	ErrEmptyCart          = Validation("empty_cart", "cart is empty")
	ErrInvalidStatus      = Validation("invalid_status", "unknown order status")
	ErrInvalidSignature   = Validation("invalid_signature", "webhook signature verification failed")
	ErrPhoneRequired      = Validation("phone_required", "phone number is required for mobile money")
	ErrProductUnavailable = Validation("product_unavailable", "product is not available")
)

// KindOf returns the kind of err, KindInternal for anything that is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error to the status code the API answers with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindInvalidState, KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Body renders the JSON body for err. Provider and internal failures never
// leak their cause.
func Body(err error) map[string]string {
	var e *Error
	if !errors.As(err, &e) {
		return map[string]string{"error": "internal_error", "message": "internal server error"}
	}
	switch e.Kind {
	case KindInternal:
		return map[string]string{"error": e.Code, "message": "internal server error"}
	case KindProvider:
		return map[string]string{"error": e.Code, "message": "payment provider unavailable, try again"}
	}
	return map[string]string{"error": e.Code, "message": e.Message}
}
