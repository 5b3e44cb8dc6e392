package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-shop-orderflow/internal/carts"
	"github.com/imrishuroy/go-shop-orderflow/internal/idempotency"
	"github.com/imrishuroy/go-shop-orderflow/internal/inventory"
	"github.com/imrishuroy/go-shop-orderflow/internal/orders"
)

// HandlerConfig groups dependencies for the API handlers.
type HandlerConfig struct {
	Orders      *orders.Service
	Carts       *carts.Service
	Inventory   *inventory.Authority
	Idempotency idempotency.Store
	Logger      *zap.Logger
}

// NewRouter builds the gin engine with every API route registered.
func NewRouter(cfg HandlerConfig) *gin.Engine {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery(), Metrics(), RequestLogger(cfg.Logger))

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	RegisterCartRoutes(api, cfg)
	RegisterOrdersRoutes(api, cfg)
	RegisterProductRoutes(api, cfg)

	return r
}
