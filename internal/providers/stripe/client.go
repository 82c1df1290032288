package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// IntentRequest describes a PaymentIntent to create.
type IntentRequest struct {
	Amount   decimal.Decimal
	Currency string
	Metadata map[string]string
	// IdempotencyKey is forwarded as the Idempotency-Key header.
	IdempotencyKey string
}

// Intent is the subset of the PaymentIntent object the checkout needs.
type Intent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
}

// APIError is a non-2xx answer from the processor.
type APIError struct {
	StatusCode int
	Type       string `json:"type"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("stripe: %d %s %s: %s", e.StatusCode, e.Type, e.Code, e.Message)
}

// Client talks to the card processor REST API with a secret key.
type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
}

func NewClient(baseURL, secretKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		secretKey:  secretKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// MinorUnits converts an amount to the integer smallest-currency-unit value
// the API expects (cents for usd).
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// CreateIntent creates a card PaymentIntent.
func (c *Client) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	form := url.Values{}
	form.Set("amount", fmt.Sprintf("%d", MinorUnits(req.Amount)))
	form.Set("currency", strings.ToLower(req.Currency))
	form.Set("payment_method_types[]", "card")
	for k, v := range req.Metadata {
		form.Set("metadata["+k+"]", v)
	}

	intent, err := c.post(ctx, "/v1/payment_intents", form, req.IdempotencyKey)
	if err != nil {
		return Intent{}, fmt.Errorf("create intent: %w", err)
	}
	if intent.ID == "" || intent.ClientSecret == "" {
		return Intent{}, fmt.Errorf("intent response missing id or client_secret")
	}
	return intent, nil
}

// CancelIntent cancels an intent so it can no longer be confirmed. An intent
// that already succeeded or was canceled answers with an error for which
// IsUnexpectedState is true.
func (c *Client) CancelIntent(ctx context.Context, id string) (Intent, error) {
	form := url.Values{}
	form.Set("cancellation_reason", "abandoned")
	intent, err := c.post(ctx, "/v1/payment_intents/"+url.PathEscape(id)+"/cancel", form, "cancel-"+id)
	if err != nil {
		return Intent{}, fmt.Errorf("cancel intent %s: %w", id, err)
	}
	return intent, nil
}

// IsUnexpectedState reports whether err is the API refusing an operation
// because of the intent's current status.
func IsUnexpectedState(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == "payment_intent_unexpected_state"
}

func (c *Client) post(ctx context.Context, path string, form url.Values, idempotencyKey string) (Intent, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return Intent{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.secretKey)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if idempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Intent{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Intent{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		var wrapped struct {
			Error APIError `json:"error"`
		}
		_ = json.Unmarshal(body, &wrapped)
		wrapped.Error.StatusCode = resp.StatusCode
		return Intent{}, &wrapped.Error
	}

	var intent Intent
	if err := json.Unmarshal(body, &intent); err != nil {
		return Intent{}, fmt.Errorf("decode intent: %w", err)
	}
	return intent, nil
}
