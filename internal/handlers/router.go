package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/imrishuroy/go-checkout-payments/internal/apperr"
	"github.com/imrishuroy/go-checkout-payments/internal/auth"
	"github.com/imrishuroy/go-checkout-payments/internal/cart"
	"github.com/imrishuroy/go-checkout-payments/internal/config"
	"github.com/imrishuroy/go-checkout-payments/internal/idempotency"
	"github.com/imrishuroy/go-checkout-payments/internal/metrics"
	"github.com/imrishuroy/go-checkout-payments/internal/orders"
	"github.com/imrishuroy/go-checkout-payments/internal/payments"
	"github.com/imrishuroy/go-checkout-payments/internal/validation"
)

// OrderService is the order engine as used by the handlers.
type OrderService interface {
	CreateFromCart(ctx context.Context, who auth.Identity, in orders.CreateInput) (*orders.Order, error)
	Get(ctx context.Context, who auth.Identity, id string) (*orders.Order, error)
	List(ctx context.Context, who auth.Identity) ([]orders.Order, error)
	UpdateAddress(ctx context.Context, who auth.Identity, id string, in orders.AddressInput) (*orders.Order, error)
	UpdateStatus(ctx context.Context, who auth.Identity, id string, in orders.StatusInput) (*orders.Order, error)
	Delete(ctx context.Context, who auth.Identity, id string) (orders.DeleteResult, error)
}

// CartService is the cart as used by the handlers.
type CartService interface {
	Get(ctx context.Context, who auth.Identity) (cart.View, error)
	Add(ctx context.Context, who auth.Identity, productID int64, qty int) (cart.View, error)
	SetQuantity(ctx context.Context, who auth.Identity, productID int64, qty int) (cart.View, error)
	Clear(ctx context.Context, who auth.Identity) error
}

// PaymentService is the payment coordinator as used by the handlers.
type PaymentService interface {
	Initiate(ctx context.Context, who auth.Identity, in payments.InitiateInput) (*payments.InitiateResult, error)
	Reconcile(ctx context.Context, method payments.Method, payload []byte, signature string) (payments.ReconcileResult, error)
}

// IdempotencyStore remembers checkout responses per Idempotency-Key.
type IdempotencyStore interface {
	Acquire(ctx context.Context, key, resourceID string) (*idempotency.Record, bool, error)
	MarkDone(ctx context.Context, key, responseBody string, responseStatus int) error
	MarkFailed(ctx context.Context, key, note string) error
}

// Deps groups dependencies for the router. Idempotency and MetricsHandler are optional.
type Deps struct {
	Orders         OrderService
	Cart           CartService
	Payments       PaymentService
	Idempotency    IdempotencyStore
	Tokens         TokenParser
	Metrics        metrics.Recorder
	MetricsHandler http.Handler
	Health         func(ctx context.Context) error
	RateLimit      config.RateLimit
	Log            zerolog.Logger
}

type api struct {
	Deps
	v *validatorv10.Validate
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(d Deps) *gin.Engine {
	if d.Metrics == nil {
		d.Metrics = metrics.Nop{}
	}
	a := &api{Deps: d, v: validation.New()}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(d.Log), observe(d.Metrics))

	r.GET("/health", a.health)
	if d.MetricsHandler != nil {
		r.GET("/metrics", gin.WrapH(d.MetricsHandler))
	}

	// provider callbacks authenticate by signature, not bearer token
	r.POST("/payments/card/webhook", a.cardWebhook)
	r.POST("/payments/mobile-money/callback", a.mobileMoneyCallback)

	user := r.Group("/", authRequired(d.Tokens))
	registerCartRoutes(user, a)
	registerOrderRoutes(user, a)

	limited := user.Group("/payments", rateLimited(newUserLimiter(d.RateLimit.RPS, d.RateLimit.Burst)))
	limited.POST("/card", a.initiateCard)
	limited.POST("/mobile-money", a.initiateMobileMoney)

	return r
}

func (a *api) health(c *gin.Context) {
	if a.Health != nil {
		if err := a.Health(c.Request.Context()); err != nil {
			a.Log.Error().Err(err).Msg("health check failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_error"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// writeError maps a domain error onto the response.
func writeError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(apperr.HTTPStatus(err), apperr.Body(err))
}

// mustIdentity is only called behind authRequired.
func mustIdentity(c *gin.Context) auth.Identity {
	who, _ := identityFrom(c)
	return who
}
