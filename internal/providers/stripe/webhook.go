package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	EventIntentSucceeded = "payment_intent.succeeded"
	EventIntentFailed    = "payment_intent.payment_failed"
	EventIntentCanceled  = "payment_intent.canceled"
)

var (
	ErrBadSignature = errors.New("stripe: webhook signature mismatch")
	ErrStale        = errors.New("stripe: webhook timestamp outside tolerance")
)

// Event is a webhook delivery carrying a PaymentIntent.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object IntentObject `json:"object"`
	} `json:"data"`
}

// IntentObject is the PaymentIntent embedded in an event.
type IntentObject struct {
	ID               string            `json:"id"`
	Status           string            `json:"status"`
	Metadata         map[string]string `json:"metadata"`
	LastPaymentError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_payment_error"`
	CancellationReason string `json:"cancellation_reason"`
}

// FailureReason summarises why a failed or canceled intent did not pay.
func (o IntentObject) FailureReason() string {
	if o.LastPaymentError != nil && o.LastPaymentError.Message != "" {
		return o.LastPaymentError.Message
	}
	if o.CancellationReason != "" {
		return "canceled: " + o.CancellationReason
	}
	return "payment failed"
}

// Verifier checks the Stripe-Signature header: t=<unix>,v1=<hex hmac-sha256 of "t.payload">.
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	return &Verifier{secret: []byte(secret), tolerance: tolerance, now: time.Now}
}

// ParseEvent verifies the signature and decodes the payload. No field of the
// payload is trusted before the signature matches.
func (v *Verifier) ParseEvent(payload []byte, header string) (Event, error) {
	if err := v.Verify(payload, header); err != nil {
		return Event{}, err
	}
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}

func (v *Verifier) Verify(payload []byte, header string) error {
	if len(v.secret) == 0 {
		return fmt.Errorf("%w: no webhook secret configured", ErrBadSignature)
	}
	var (
		ts   int64
		sigs [][]byte
	)
	for _, part := range strings.Split(header, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return fmt.Errorf("%w: bad timestamp", ErrBadSignature)
			}
			ts = n
		case "v1":
			sig, err := hex.DecodeString(val)
			if err == nil {
				sigs = append(sigs, sig)
			}
		}
	}
	if ts == 0 || len(sigs) == 0 {
		return fmt.Errorf("%w: malformed header", ErrBadSignature)
	}

	expected := v.sign(ts, payload)
	matched := false
	for _, sig := range sigs {
		if hmac.Equal(sig, expected) {
			matched = true
			break
		}
	}
	if !matched {
		return ErrBadSignature
	}
	if v.tolerance > 0 {
		age := v.now().Sub(time.Unix(ts, 0))
		if age > v.tolerance || age < -v.tolerance {
			return ErrStale
		}
	}
	return nil
}

// SignatureHeader builds a valid header for payload at t. Used by tests and local tooling.
func (v *Verifier) SignatureHeader(payload []byte, t time.Time) string {
	return fmt.Sprintf("t=%d,v1=%s", t.Unix(), hex.EncodeToString(v.sign(t.Unix(), payload)))
}

func (v *Verifier) sign(ts int64, payload []byte) []byte {
	mac := hmac.New(sha256.New, v.secret)
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(payload)
	return mac.Sum(nil)
}
