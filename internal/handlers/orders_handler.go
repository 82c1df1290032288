package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/imrishuroy/go-checkout-payments/internal/apperr"
	"github.com/imrishuroy/go-checkout-payments/internal/idempotency"
	"github.com/imrishuroy/go-checkout-payments/internal/orders"
	"github.com/imrishuroy/go-checkout-payments/internal/validation"
)

// registerOrderRoutes registers routes for the order API.
func registerOrderRoutes(rg *gin.RouterGroup, a *api) {
	rg.POST("/orders", a.checkout)

	rg.GET("/orders", func(c *gin.Context) {
		list, err := a.Orders.List(c.Request.Context(), mustIdentity(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"orders": list})
	})

	rg.GET("/orders/:id", func(c *gin.Context) {
		o, err := a.Orders.Get(c.Request.Context(), mustIdentity(c), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, o)
	})

	rg.PUT("/orders/:id/address", func(c *gin.Context) {
		var req validation.AddressRequest
		if err := validation.BindAndValidate(c, &req, a.v); err != nil {
			return
		}
		o, err := a.Orders.UpdateAddress(c.Request.Context(), mustIdentity(c), c.Param("id"), orders.AddressInput{
			ShippingAddress: req.ShippingAddress,
			BillingAddress:  req.BillingAddress,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, o)
	})

	rg.PUT("/orders/:id/status", func(c *gin.Context) {
		var req validation.StatusRequest
		if err := validation.BindAndValidate(c, &req, a.v); err != nil {
			return
		}
		o, err := a.Orders.UpdateStatus(c.Request.Context(), mustIdentity(c), c.Param("id"), orders.StatusInput{
			Status:         req.Status,
			TrackingNumber: req.TrackingNumber,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, o)
	})

	rg.DELETE("/orders/:id", func(c *gin.Context) {
		res, err := a.Orders.Delete(c.Request.Context(), mustIdentity(c), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	})
}

// checkout creates an order from the cart. With an Idempotency-Key header the
// first response is stored and replayed; a concurrent duplicate gets 202.
func (a *api) checkout(c *gin.Context) {
	ctx := c.Request.Context()
	who := mustIdentity(c)

	var req validation.CheckoutRequest
	if err := validation.BindAndValidate(c, &req, a.v); err != nil {
		// BindAndValidate already wrote a 400
		return
	}
	in := orders.CreateInput{ShippingAddress: req.ShippingAddress, BillingAddress: req.BillingAddress}

	idempKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if idempKey == "" || a.Idempotency == nil {
		o, err := a.Orders.CreateFromCart(ctx, who, in)
		if err != nil {
			writeError(c, err)
			return
		}
		c.Header("Location", fmt.Sprintf("/orders/%s", o.ID))
		c.JSON(http.StatusCreated, o)
		return
	}

	key := idempotency.CheckoutKey(who.UserID, idempKey)
	rec, acquired, err := a.Idempotency.Acquire(ctx, key, uuid.NewString())
	if err != nil {
		writeError(c, apperr.Internal("idempotency check", err))
		return
	}
	if !acquired {
		switch rec.Status {
		case idempotency.StatusDone:
			c.Header("Idempotent-Replayed", "true")
			c.Header("Location", fmt.Sprintf("/orders/%s", rec.ResourceID))
			c.Data(rec.ResponseStatus, "application/json; charset=utf-8", []byte(rec.ResponseBody))
		default:
			c.JSON(http.StatusAccepted, gin.H{"message": "request already in progress", "order_id": rec.ResourceID})
		}
		return
	}

	// the reserved id makes a retried attempt land on the same order
	in.OrderID = rec.ResourceID
	o, err := a.Orders.CreateFromCart(ctx, who, in)
	if err != nil {
		if ferr := a.Idempotency.MarkFailed(ctx, key, err.Error()); ferr != nil {
			a.Log.Warn().Err(ferr).Str("idempotency_key", key).Msg("mark idempotency failed")
		}
		writeError(c, err)
		return
	}

	body, err := json.Marshal(o)
	if err != nil {
		writeError(c, apperr.Internal("encode order", err))
		return
	}
	if err := a.Idempotency.MarkDone(ctx, key, string(body), http.StatusCreated); err != nil {
		a.Log.Warn().Err(err).Str("idempotency_key", key).Str("order_id", o.ID).Msg("store idempotent response")
	}
	c.Header("Location", fmt.Sprintf("/orders/%s", o.ID))
	c.Data(http.StatusCreated, "application/json; charset=utf-8", body)
}
