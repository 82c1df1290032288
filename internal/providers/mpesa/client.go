package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const timestampLayout = "20060102150405"

// Config carries the daraja credentials and the callback URL.
type Config struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	PassKey        string
	CallbackURL    string
	Timeout        time.Duration
}

// TokenCache stores OAuth tokens between requests. Optional.
type TokenCache interface {
	Get(ctx context.Context) (string, bool, error)
	Set(ctx context.Context, token string, ttl time.Duration) error
}

// Client performs STK push (Lipa na M-Pesa Online) requests.
type Client struct {
	cfg        Config
	httpClient *http.Client
	cache      TokenCache
	now        func() time.Time
}

func NewClient(cfg Config, cache TokenCache) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      cache,
		now:        time.Now,
	}
}

// PushRequest is one STK push.
type PushRequest struct {
	Amount      decimal.Decimal
	Phone       string
	Reference   string
	Description string
}

// PushResponse is the synchronous acknowledgement of a push.
type PushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// APIError is a rejected token or push request.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mpesa: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// AccessToken returns a client-credentials token, from the cache when one is configured.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	if c.cache != nil {
		if tok, ok, err := c.cache.Get(ctx); err == nil && ok {
			return tok, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	if err := c.do(req, &out); err != nil {
		return "", fmt.Errorf("access token: %w", err)
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("access token: empty token in response")
	}

	if c.cache != nil {
		secs, _ := strconv.Atoi(out.ExpiresIn)
		if ttl := time.Duration(secs)*time.Second - time.Minute; ttl > 0 {
			_ = c.cache.Set(ctx, out.AccessToken, ttl)
		}
	}
	return out.AccessToken, nil
}

// Password is base64(shortcode + passkey + timestamp).
func Password(shortCode, passKey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passKey + timestamp))
}

// WholeAmount rounds up to the whole currency units the push API accepts.
func WholeAmount(amount decimal.Decimal) int64 {
	return amount.Ceil().IntPart()
}

// NormalizePhone strips formatting so "+254 712-345678" becomes "254712345678".
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Push sends an STK push prompt to the customer's phone.
func (c *Client) Push(ctx context.Context, token string, in PushRequest) (PushResponse, error) {
	ts := c.now().Format(timestampLayout)
	phone := NormalizePhone(in.Phone)
	desc := in.Description
	if desc == "" {
		desc = "Payment for order " + in.Reference
	}
	payload := map[string]interface{}{
		"BusinessShortCode": c.cfg.ShortCode,
		"Password":          Password(c.cfg.ShortCode, c.cfg.PassKey, ts),
		"Timestamp":         ts,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            WholeAmount(in.Amount),
		"PartyA":            phone,
		"PartyB":            c.cfg.ShortCode,
		"PhoneNumber":       phone,
		"CallBackURL":       c.cfg.CallbackURL,
		"AccountReference":  in.Reference,
		"TransactionDesc":   desc,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return PushResponse{}, fmt.Errorf("encode push: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/mpesa/stkpush/v1/processrequest", bytes.NewReader(raw))
	if err != nil {
		return PushResponse{}, fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	var out PushResponse
	if err := c.do(req, &out); err != nil {
		return PushResponse{}, fmt.Errorf("stk push: %w", err)
	}
	if out.ResponseCode != "0" || out.CheckoutRequestID == "" {
		return PushResponse{}, &APIError{StatusCode: http.StatusOK, Code: out.ResponseCode, Message: out.ResponseDescription}
	}
	return out, nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		var e struct {
			ErrorCode    string `json:"errorCode"`
			ErrorMessage string `json:"errorMessage"`
		}
		_ = json.Unmarshal(body, &e)
		return &APIError{StatusCode: resp.StatusCode, Code: e.ErrorCode, Message: e.ErrorMessage}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
