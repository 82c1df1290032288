package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-checkout-payments/internal/apperr"
	"github.com/imrishuroy/go-checkout-payments/internal/auth"
	"github.com/imrishuroy/go-checkout-payments/internal/cart"
	"github.com/imrishuroy/go-checkout-payments/internal/config"
	"github.com/imrishuroy/go-checkout-payments/internal/idempotency"
	"github.com/imrishuroy/go-checkout-payments/internal/orders"
	"github.com/imrishuroy/go-checkout-payments/internal/payments"
)

type fakeOrders struct {
	mu        sync.Mutex
	created   []orders.CreateInput
	createErr error
}

func (f *fakeOrders) CreateFromCart(_ context.Context, who auth.Identity, in orders.CreateInput) (*orders.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, in)
	id := in.OrderID
	if id == "" {
		id = "generated"
	}
	return &orders.Order{ID: id, UserID: who.UserID, Status: orders.StatusPending, TotalPrice: decimal.RequireFromString("25.00")}, nil
}

func (f *fakeOrders) Get(_ context.Context, who auth.Identity, id string) (*orders.Order, error) {
	if id != "order-1" {
		return nil, apperr.NotFound("order not found")
	}
	return &orders.Order{ID: id, UserID: who.UserID, Status: orders.StatusPending}, nil
}

func (f *fakeOrders) List(context.Context, auth.Identity) ([]orders.Order, error) {
	return []orders.Order{}, nil
}

func (f *fakeOrders) UpdateAddress(_ context.Context, _ auth.Identity, id string, in orders.AddressInput) (*orders.Order, error) {
	return &orders.Order{ID: id, ShippingAddress: *in.ShippingAddress}, nil
}

func (f *fakeOrders) UpdateStatus(_ context.Context, who auth.Identity, id string, in orders.StatusInput) (*orders.Order, error) {
	if !who.IsAdmin() {
		return nil, apperr.Forbidden("admin only")
	}
	status, err := orders.ParseStatus(in.Status)
	if err != nil {
		return nil, err
	}
	return &orders.Order{ID: id, Status: status}, nil
}

func (f *fakeOrders) Delete(_ context.Context, _ auth.Identity, id string) (orders.DeleteResult, error) {
	return orders.DeleteResult{OrderID: id, NotificationSent: true}, nil
}

type fakeCart struct{}

func (fakeCart) Get(context.Context, auth.Identity) (cart.View, error) {
	return cart.View{Lines: []cart.Line{}, Total: decimal.Zero}, nil
}

func (fakeCart) Add(_ context.Context, _ auth.Identity, productID int64, qty int) (cart.View, error) {
	return cart.View{Lines: []cart.Line{{ProductID: productID, Quantity: qty}}}, nil
}

func (fakeCart) SetQuantity(_ context.Context, _ auth.Identity, productID int64, qty int) (cart.View, error) {
	return cart.View{Lines: []cart.Line{{ProductID: productID, Quantity: qty}}}, nil
}

func (fakeCart) Clear(context.Context, auth.Identity) error { return nil }

type fakePayments struct {
	mu         sync.Mutex
	initiated  []payments.InitiateInput
	reconciled []string
	result     payments.ReconcileResult
	err        error
}

func (f *fakePayments) Initiate(_ context.Context, who auth.Identity, in payments.InitiateInput) (*payments.InitiateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.initiated = append(f.initiated, in)
	return &payments.InitiateResult{
		Payment:      &payments.Payment{ID: "pay-1", OrderID: in.OrderID, Method: in.Method, Status: payments.StatusPending},
		ClientSecret: "secret",
	}, nil
}

func (f *fakePayments) Reconcile(_ context.Context, m payments.Method, payload []byte, sig string) (payments.ReconcileResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconciled = append(f.reconciled, string(m)+"|"+sig)
	if f.err != nil {
		return payments.ReconcileResult{}, f.err
	}
	return f.result, nil
}

type memIdempotency struct {
	mu   sync.Mutex
	recs map[string]*idempotency.Record
}

func (m *memIdempotency) Acquire(_ context.Context, key, resourceID string) (*idempotency.Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.recs[key]; ok && rec.Status != idempotency.StatusFailed {
		cp := *rec
		return &cp, false, nil
	} else if ok {
		rec.Status = idempotency.StatusInProgress
		cp := *rec
		return &cp, true, nil
	}
	rec := &idempotency.Record{IdempotencyKey: key, Status: idempotency.StatusInProgress, ResourceID: resourceID}
	m.recs[key] = rec
	cp := *rec
	return &cp, true, nil
}

func (m *memIdempotency) MarkDone(_ context.Context, key, body string, status int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.recs[key]
	rec.Status, rec.ResponseBody, rec.ResponseStatus = idempotency.StatusDone, body, status
	return nil
}

func (m *memIdempotency) MarkFailed(_ context.Context, key, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.recs[key]
	rec.Status, rec.Note = idempotency.StatusFailed, note
	return nil
}

type testAPI struct {
	router   *gin.Engine
	orders   *fakeOrders
	payments *fakePayments
	idem     *memIdempotency
	tokens   *auth.Verifier
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ta := &testAPI{
		orders:   &fakeOrders{},
		payments: &fakePayments{result: payments.ReconcileResult{Outcome: payments.OutcomeCompleted, PaymentID: "pay-1"}},
		idem:     &memIdempotency{recs: map[string]*idempotency.Record{}},
		tokens:   auth.NewVerifier("test-secret"),
	}
	ta.router = NewRouter(Deps{
		Orders:      ta.orders,
		Cart:        fakeCart{},
		Payments:    ta.payments,
		Idempotency: ta.idem,
		Tokens:      ta.tokens,
		RateLimit:   config.RateLimit{RPS: 1, Burst: 2},
		Log:         zerolog.Nop(),
	})
	return ta
}

func (ta *testAPI) token(t *testing.T, who auth.Identity) string {
	t.Helper()
	tok, err := ta.tokens.Issue(who, time.Hour)
	require.NoError(t, err)
	return tok
}

func (ta *testAPI) do(t *testing.T, method, path, body, token string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	ta.router.ServeHTTP(w, req)
	return w
}

var (
	customer = auth.Identity{UserID: 1, Email: "alice@example.com", Role: auth.RoleCustomer}
	admin    = auth.Identity{UserID: 99, Email: "ops@example.com", Role: auth.RoleAdmin}
)

func TestHealthAndAuth(t *testing.T) {
	ta := newTestAPI(t)

	assert.Equal(t, http.StatusOK, ta.do(t, http.MethodGet, "/health", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, ta.do(t, http.MethodGet, "/orders", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, ta.do(t, http.MethodGet, "/orders", "", "not-a-jwt").Code)
	assert.Equal(t, http.StatusOK, ta.do(t, http.MethodGet, "/orders", "", ta.token(t, customer)).Code)
}

func TestCheckout_WithoutIdempotencyKey(t *testing.T) {
	ta := newTestAPI(t)
	w := ta.do(t, http.MethodPost, "/orders", `{"shipping_address":"1 Main St","billing_address":"1 Main St"}`, ta.token(t, customer))

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "/orders/generated", w.Header().Get("Location"))
	require.Len(t, ta.orders.created, 1)
	assert.Empty(t, ta.orders.created[0].OrderID)
}

func TestCheckout_IdempotentReplay(t *testing.T) {
	ta := newTestAPI(t)
	tok := ta.token(t, customer)
	body := `{"shipping_address":"1 Main St","billing_address":"1 Main St"}`

	first := ta.do(t, http.MethodPost, "/orders", body, tok, "Idempotency-Key", "abc")
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())

	second := ta.do(t, http.MethodPost, "/orders", body, tok, "Idempotency-Key", "abc")
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Len(t, ta.orders.created, 1, "replay must not create a second order")

	// another user may reuse the same key
	other := ta.do(t, http.MethodPost, "/orders", body, ta.token(t, auth.Identity{UserID: 2, Role: auth.RoleCustomer}), "Idempotency-Key", "abc")
	assert.Equal(t, http.StatusCreated, other.Code)
	assert.Len(t, ta.orders.created, 2)
}

func TestCheckout_InProgressAndFailedRetry(t *testing.T) {
	ta := newTestAPI(t)
	tok := ta.token(t, customer)
	body := `{"shipping_address":"1 Main St","billing_address":"1 Main St"}`

	ta.idem.recs[idempotency.CheckoutKey(customer.UserID, "busy")] = &idempotency.Record{Status: idempotency.StatusInProgress, ResourceID: "order-x"}
	w := ta.do(t, http.MethodPost, "/orders", body, tok, "Idempotency-Key", "busy")
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), "order-x")

	ta.orders.createErr = apperr.ErrEmptyCart
	w = ta.do(t, http.MethodPost, "/orders", body, tok, "Idempotency-Key", "retry")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "empty_cart")

	ta.orders.createErr = nil
	w = ta.do(t, http.MethodPost, "/orders", body, tok, "Idempotency-Key", "retry")
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestCheckout_ValidationError(t *testing.T) {
	ta := newTestAPI(t)
	w := ta.do(t, http.MethodPost, "/orders", `{"shipping_address":""}`, ta.token(t, customer))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "validation_failed")
}

func TestOrderRoutes(t *testing.T) {
	ta := newTestAPI(t)
	tok := ta.token(t, customer)

	assert.Equal(t, http.StatusOK, ta.do(t, http.MethodGet, "/orders/order-1", "", tok).Code)
	w := ta.do(t, http.MethodGet, "/orders/missing", "", tok)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"not_found","message":"order not found"}`, w.Body.String())

	w = ta.do(t, http.MethodPut, "/orders/order-1/address", `{"shipping_address":"2 Side St"}`, tok)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "2 Side St")

	assert.Equal(t, http.StatusForbidden, ta.do(t, http.MethodPut, "/orders/order-1/status", `{"status":"SHIPPED"}`, tok).Code)
	assert.Equal(t, http.StatusOK, ta.do(t, http.MethodPut, "/orders/order-1/status", `{"status":"SHIPPED","tracking_number":"T1"}`, ta.token(t, admin)).Code)
	w = ta.do(t, http.MethodPut, "/orders/order-1/status", `{"status":"LOST"}`, ta.token(t, admin))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"invalid_status","message":"unknown order status"}`, w.Body.String())
	// role is checked before the value
	assert.Equal(t, http.StatusForbidden, ta.do(t, http.MethodPut, "/orders/order-1/status", `{"status":"LOST"}`, tok).Code)

	w = ta.do(t, http.MethodDelete, "/orders/order-1", "", tok)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"order_id":"order-1","notification_sent":true}`, w.Body.String())
}

func TestCartRoutes(t *testing.T) {
	ta := newTestAPI(t)
	tok := ta.token(t, customer)

	assert.Equal(t, http.StatusOK, ta.do(t, http.MethodGet, "/cart", "", tok).Code)
	assert.Equal(t, http.StatusCreated, ta.do(t, http.MethodPost, "/cart/items", `{"product_id":3,"quantity":2}`, tok).Code)
	assert.Equal(t, http.StatusBadRequest, ta.do(t, http.MethodPost, "/cart/items", `{"product_id":3,"quantity":101}`, tok).Code)
	assert.Equal(t, http.StatusOK, ta.do(t, http.MethodPut, "/cart/items/3", `{"quantity":0}`, tok).Code)
	assert.Equal(t, http.StatusBadRequest, ta.do(t, http.MethodPut, "/cart/items/abc", `{"quantity":1}`, tok).Code)
	assert.Equal(t, http.StatusNoContent, ta.do(t, http.MethodDelete, "/cart", "", tok).Code)
}

func TestInitiatePayments(t *testing.T) {
	ta := newTestAPI(t)
	tok := ta.token(t, customer)

	w := ta.do(t, http.MethodPost, "/payments/card", `{"order_id":"order-1"}`, tok)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var res payments.InitiateResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "secret", res.ClientSecret)

	w = ta.do(t, http.MethodPost, "/payments/mobile-money", `{"order_id":"order-1","phone_number":"abc"}`, ta.token(t, auth.Identity{UserID: 5, Role: auth.RoleCustomer}))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	ta.payments.err = apperr.Provider("card", assert.AnError)
	w = ta.do(t, http.MethodPost, "/payments/card", `{"order_id":"order-1"}`, ta.token(t, auth.Identity{UserID: 6, Role: auth.RoleCustomer}))
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.NotContains(t, w.Body.String(), assert.AnError.Error())
}

func TestInitiatePayments_RateLimited(t *testing.T) {
	ta := newTestAPI(t)
	tok := ta.token(t, customer)

	codes := []int{}
	for i := 0; i < 4; i++ {
		codes = append(codes, ta.do(t, http.MethodPost, "/payments/card", `{"order_id":"order-1"}`, tok).Code)
	}
	assert.Equal(t, []int{201, 201, 429, 429}, codes)

	// limits are per user
	w := ta.do(t, http.MethodPost, "/payments/card", `{"order_id":"order-1"}`, ta.token(t, auth.Identity{UserID: 2, Role: auth.RoleCustomer}))
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestCardWebhook(t *testing.T) {
	ta := newTestAPI(t)

	w := ta.do(t, http.MethodPost, "/payments/card/webhook", `{"id":"evt"}`, "", "Stripe-Signature", "t=1,v1=ab")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"card|t=1,v1=ab"}, ta.payments.reconciled)

	ta.payments.err = apperr.ErrInvalidSignature
	w = ta.do(t, http.MethodPost, "/payments/card/webhook", `{"id":"evt"}`, "", "Stripe-Signature", "bad")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_signature")

	ta.payments.err = apperr.Internal("reconcile payment", assert.AnError)
	w = ta.do(t, http.MethodPost, "/payments/card/webhook", `{"id":"evt"}`, "", "Stripe-Signature", "t=1,v1=ab")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestCardWebhook_ReplayIsSuccess(t *testing.T) {
	ta := newTestAPI(t)
	for _, outcome := range []payments.Outcome{payments.OutcomeAlreadyProcessed, payments.OutcomeNotFound, payments.OutcomeIgnored} {
		ta.payments.result = payments.ReconcileResult{Outcome: outcome}
		w := ta.do(t, http.MethodPost, "/payments/card/webhook", `{}`, "", "Stripe-Signature", "t=1,v1=ab")
		assert.Equal(t, http.StatusOK, w.Code, string(outcome))
		assert.Contains(t, w.Body.String(), string(outcome))
	}
}

func TestMobileMoneyCallback(t *testing.T) {
	ta := newTestAPI(t)

	w := ta.do(t, http.MethodPost, "/payments/mobile-money/callback", `{"Body":{}}`, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ResultCode":0,"ResultDesc":"Accepted"}`, w.Body.String())

	big := `{"pad":"` + strings.Repeat("x", maxCallbackBytes) + `"}`
	w = ta.do(t, http.MethodPost, "/payments/mobile-money/callback", big, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUserLimiter_ForgetsIdleUsers(t *testing.T) {
	l := newUserLimiter(1, 1)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	assert.True(t, l.allow(1))
	assert.False(t, l.allow(1))
	now = now.Add(10 * time.Minute)
	assert.True(t, l.allow(2))
	_, ok := l.entries[1]
	assert.False(t, ok)
}
