package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-shop-orderflow/internal/validation"
)

// RegisterCartRoutes registers routes for the cart API.
func RegisterCartRoutes(r *gin.RouterGroup, cfg HandlerConfig) {
	v := validation.New()
	svc := cfg.Carts
	logger := cfg.Logger

	g := r.Group("/cart/:userId")

	g.GET("", func(c *gin.Context) {
		view, err := svc.GetCart(c.Request.Context(), c.Param("userId"))
		if err != nil {
			writeError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, view)
	})

	g.POST("/add-item", func(c *gin.Context) {
		var req validation.AddItemRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			// BindAndValidate already wrote a 400
			return
		}
		view, err := svc.AddItem(c.Request.Context(), c.Param("userId"), req.ProductID, req.Quantity)
		if err != nil {
			writeError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, view)
	})

	g.PUT("/update-item/:cartItemId", func(c *gin.Context) {
		qty, err := queryInt(c, "quantity")
		if err != nil {
			writeError(c, logger, err)
			return
		}
		view, err := svc.UpdateItemQuantity(c.Request.Context(), c.Param("userId"), c.Param("cartItemId"), qty)
		if err != nil {
			writeError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, view)
	})

	g.DELETE("/remove-item/:cartItemId", func(c *gin.Context) {
		view, err := svc.RemoveItem(c.Request.Context(), c.Param("userId"), c.Param("cartItemId"))
		if err != nil {
			writeError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, view)
	})

	g.DELETE("/clear", func(c *gin.Context) {
		if err := svc.Clear(c.Request.Context(), c.Param("userId")); err != nil {
			writeError(c, logger, err)
			return
		}
		c.Status(http.StatusNoContent)
	})
}
