package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/imrishuroy/go-checkout-payments/internal/apperr"
	"github.com/imrishuroy/go-checkout-payments/internal/orders"
	"github.com/imrishuroy/go-checkout-payments/internal/providers/mpesa"
	"github.com/imrishuroy/go-checkout-payments/internal/providers/stripe"
)

// CardGateway is the card processor as used by the coordinator.
type CardGateway interface {
	CreateIntent(ctx context.Context, req stripe.IntentRequest) (stripe.Intent, error)
	CancelIntent(ctx context.Context, id string) (stripe.Intent, error)
}

// WebhookVerifier authenticates and decodes card webhooks.
type WebhookVerifier interface {
	ParseEvent(payload []byte, header string) (stripe.Event, error)
}

// MobileMoneyGateway is the STK push provider as used by the coordinator.
type MobileMoneyGateway interface {
	AccessToken(ctx context.Context) (string, error)
	Push(ctx context.Context, token string, req mpesa.PushRequest) (mpesa.PushResponse, error)
}

// attempt is what a provider returned for a new payment.
type attempt struct {
	checkoutID      string
	transactionID   string
	clientSecret    string
	customerMessage string
}

// callback is a provider notification reduced to what reconciliation needs.
type callback struct {
	key           LookupKey
	ignored       bool
	success       bool
	transactionID string
	reason        string
	// release is set when the provider attempt can still be paid and must be
	// released before the payment is marked failed.
	release bool
}

// errAttemptSettled means the provider refused to release an attempt because
// it already reached a final state.
var errAttemptSettled = errors.New("attempt already settled")

// releaser is implemented by strategies whose failed attempts stay payable
// until released.
type releaser interface {
	release(ctx context.Context, transactionID string) error
}

type strategy interface {
	// initiate asks the provider to start a payment. paymentID is the id the
	// row will get and doubles as the provider idempotency key where supported.
	initiate(ctx context.Context, o *orders.Order, in InitiateInput, paymentID string) (attempt, error)
	parseCallback(payload []byte, signature string) (callback, error)
}

type cardStrategy struct {
	gateway  CardGateway
	verifier WebhookVerifier
	currency string
}

func (s cardStrategy) initiate(ctx context.Context, o *orders.Order, _ InitiateInput, paymentID string) (attempt, error) {
	intent, err := s.gateway.CreateIntent(ctx, stripe.IntentRequest{
		Amount:         o.TotalPrice,
		Currency:       s.currency,
		IdempotencyKey: paymentID,
		Metadata: map[string]string{
			"order_id":   o.ID,
			"user_id":    fmt.Sprintf("%d", o.UserID),
			"payment_id": paymentID,
		},
	})
	if err != nil {
		return attempt{}, err
	}
	return attempt{checkoutID: intent.ID, transactionID: intent.ID, clientSecret: intent.ClientSecret}, nil
}

func (s cardStrategy) parseCallback(payload []byte, signature string) (callback, error) {
	ev, err := s.verifier.ParseEvent(payload, signature)
	if err != nil {
		if errors.Is(err, stripe.ErrBadSignature) || errors.Is(err, stripe.ErrStale) {
			return callback{}, apperr.ErrInvalidSignature
		}
		return callback{}, apperr.Validation("invalid_payload", "webhook payload could not be decoded")
	}
	obj := ev.Data.Object
	key := LookupKey{Field: ByTransactionID, Value: obj.ID}
	switch ev.Type {
	case stripe.EventIntentSucceeded:
		return callback{key: key, success: true, transactionID: obj.ID}, nil
	case stripe.EventIntentFailed:
		// a declined intent can still be confirmed with the same client secret
		return callback{key: key, reason: obj.FailureReason(), release: true}, nil
	case stripe.EventIntentCanceled:
		return callback{key: key, reason: obj.FailureReason()}, nil
	default:
		return callback{ignored: true}, nil
	}
}

func (s cardStrategy) release(ctx context.Context, transactionID string) error {
	if _, err := s.gateway.CancelIntent(ctx, transactionID); err != nil {
		if stripe.IsUnexpectedState(err) {
			return errAttemptSettled
		}
		return err
	}
	return nil
}

type mobileMoneyStrategy struct {
	gateway MobileMoneyGateway
}

func (s mobileMoneyStrategy) initiate(ctx context.Context, o *orders.Order, in InitiateInput, _ string) (attempt, error) {
	// the push API only takes whole units and the payment row records the order total
	if !o.TotalPrice.IsInteger() {
		return attempt{}, apperr.ErrAmountNotWhole
	}
	token, err := s.gateway.AccessToken(ctx)
	if err != nil {
		return attempt{}, err
	}
	resp, err := s.gateway.Push(ctx, token, mpesa.PushRequest{
		Amount:    o.TotalPrice,
		Phone:     in.Phone,
		Reference: o.ID,
	})
	if err != nil {
		return attempt{}, err
	}
	return attempt{checkoutID: resp.CheckoutRequestID, customerMessage: resp.CustomerMessage}, nil
}

func (s mobileMoneyStrategy) parseCallback(payload []byte, _ string) (callback, error) {
	cb, err := mpesa.ParseCallback(payload)
	if err != nil {
		return callback{}, apperr.Validation("invalid_payload", "callback payload could not be decoded")
	}
	key := LookupKey{Field: ByCheckoutID, Value: cb.CheckoutRequestID}
	if cb.Success() {
		return callback{key: key, success: true, transactionID: cb.Receipt}, nil
	}
	reason := cb.ResultDesc
	if reason == "" {
		reason = fmt.Sprintf("result code %d", cb.ResultCode)
	}
	return callback{key: key, reason: reason}, nil
}
