package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterProductRoutes registers the stock endpoints.
func RegisterProductRoutes(r *gin.RouterGroup, cfg HandlerConfig) {
	inv := cfg.Inventory
	logger := cfg.Logger

	r.GET("/products/in-stock", func(c *gin.Context) {
		list, err := inv.InStock(c.Request.Context())
		if err != nil {
			writeError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, list)
	})

	r.GET("/products/:productId", func(c *gin.Context) {
		p, err := inv.Get(c.Request.Context(), c.Param("productId"))
		if err != nil {
			writeError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, p)
	})

	r.PUT("/products/:productId/stock", func(c *gin.Context) {
		qty, err := queryInt(c, "quantity")
		if err != nil {
			writeError(c, logger, err)
			return
		}
		p, err := inv.SetStock(c.Request.Context(), c.Param("productId"), qty)
		if err != nil {
			writeError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, p)
	})
}
