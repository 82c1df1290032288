package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-checkout-payments/internal/apperr"
	"github.com/imrishuroy/go-checkout-payments/internal/validation"
)

func registerCartRoutes(rg *gin.RouterGroup, a *api) {
	rg.GET("/cart", func(c *gin.Context) {
		view, err := a.Cart.Get(c.Request.Context(), mustIdentity(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	})

	rg.POST("/cart/items", func(c *gin.Context) {
		var req validation.AddCartItemRequest
		if err := validation.BindAndValidate(c, &req, a.v); err != nil {
			return
		}
		view, err := a.Cart.Add(c.Request.Context(), mustIdentity(c), req.ProductID, req.Quantity)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, view)
	})

	rg.PUT("/cart/items/:product_id", func(c *gin.Context) {
		productID, err := strconv.ParseInt(c.Param("product_id"), 10, 64)
		if err != nil || productID <= 0 {
			writeError(c, apperr.Validation("invalid_product_id", "product id must be a positive integer"))
			return
		}
		var req validation.SetQuantityRequest
		if err := validation.BindAndValidate(c, &req, a.v); err != nil {
			return
		}
		view, err := a.Cart.SetQuantity(c.Request.Context(), mustIdentity(c), productID, *req.Quantity)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	})

	rg.DELETE("/cart", func(c *gin.Context) {
		if err := a.Cart.Clear(c.Request.Context(), mustIdentity(c)); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})
}
