package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-checkout-payments/internal/apperr"
	"github.com/imrishuroy/go-checkout-payments/internal/payments"
	"github.com/imrishuroy/go-checkout-payments/internal/providers/mpesa"
	"github.com/imrishuroy/go-checkout-payments/internal/validation"
)

// maxCallbackBytes bounds provider callback bodies.
const maxCallbackBytes = 64 << 10

func (a *api) initiateCard(c *gin.Context) {
	var req validation.CardPaymentRequest
	if err := validation.BindAndValidate(c, &req, a.v); err != nil {
		return
	}
	a.initiate(c, payments.InitiateInput{Method: payments.MethodCard, OrderID: req.OrderID})
}

func (a *api) initiateMobileMoney(c *gin.Context) {
	var req validation.MobileMoneyRequest
	if err := validation.BindAndValidate(c, &req, a.v); err != nil {
		return
	}
	a.initiate(c, payments.InitiateInput{Method: payments.MethodMobileMoney, OrderID: req.OrderID, Phone: req.Phone})
}

func (a *api) initiate(c *gin.Context, in payments.InitiateInput) {
	res, err := a.Payments.Initiate(c.Request.Context(), mustIdentity(c), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func readCallback(c *gin.Context) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBytes+1))
	if err != nil {
		return nil, apperr.Validation("invalid_payload", "could not read body")
	}
	if len(body) > maxCallbackBytes {
		return nil, apperr.Validation("payload_too_large", "callback body too large")
	}
	return body, nil
}

// cardWebhook answers 2xx for every handled outcome, including replays and
// unknown intents, so the provider stops redelivering. Internal failures get
// 500 and are retried by the provider.
func (a *api) cardWebhook(c *gin.Context) {
	body, err := readCallback(c)
	if err != nil {
		writeError(c, err)
		return
	}
	res, err := a.Payments.Reconcile(c.Request.Context(), payments.MethodCard, body, c.GetHeader("Stripe-Signature"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// mobileMoneyCallback acknowledges in the format the STK push API expects.
func (a *api) mobileMoneyCallback(c *gin.Context) {
	body, err := readCallback(c)
	if err != nil {
		writeError(c, err)
		return
	}
	res, err := a.Payments.Reconcile(c.Request.Context(), payments.MethodMobileMoney, body, "")
	if err != nil {
		a.Log.Warn().Err(err).Msg("mobile money callback not applied")
		writeError(c, err)
		return
	}
	a.Log.Debug().Str("result", string(res.Outcome)).Str("payment_id", res.PaymentID).Msg("mobile money callback handled")
	c.JSON(http.StatusOK, mpesa.Ack)
}
