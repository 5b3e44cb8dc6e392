package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-shop-orderflow/internal/idempotency"
	"github.com/imrishuroy/go-shop-orderflow/internal/inventory"
	"github.com/imrishuroy/go-shop-orderflow/internal/orders"
	"github.com/imrishuroy/go-shop-orderflow/internal/validation"
)

// IdempotencyHeader is the optional header that makes POST /api/orders safe
// to retry.
const IdempotencyHeader = "Idempotency-Key"

// RegisterOrdersRoutes registers routes for the order API.
func RegisterOrdersRoutes(r *gin.RouterGroup, cfg HandlerConfig) {
	v := validation.New()
	svc := cfg.Orders
	logger := cfg.Logger

	g := r.Group("/orders")

	g.POST("", func(c *gin.Context) {
		// Bind + validate request
		var req validation.CreateOrderRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			// BindAndValidate already wrote a 400
			return
		}

		in := orders.CreateOrderInput{
			UserID:          req.UserID,
			Items:           make([]inventory.Line, 0, len(req.OrderItems)),
			ShippingAddress: req.ShippingAddress,
			BillingAddress:  req.BillingAddress,
		}
		for _, it := range req.OrderItems {
			in.Items = append(in.Items, inventory.Line{ProductID: it.ProductID, Quantity: it.Quantity})
		}

		key := c.GetHeader(IdempotencyHeader)
		if key == "" || cfg.Idempotency == nil {
			o, err := svc.CreateOrder(c.Request.Context(), in)
			if err != nil {
				writeError(c, logger, err)
				return
			}
			created(c, o)
			return
		}
		createIdempotent(c, cfg, key, req, in)
	})

	g.POST("/from-cart/:userId", func(c *gin.Context) {
		var req validation.FromCartRequest
		if err := validation.BindQueryAndValidate(c, &req, v); err != nil {
			return
		}
		o, err := svc.CreateOrderFromCart(c.Request.Context(), c.Param("userId"), req.ShippingAddress, req.BillingAddress)
		if err != nil {
			writeError(c, logger, err)
			return
		}
		created(c, o)
	})

	g.GET("", func(c *gin.Context) {
		list, err := svc.AllOrders(c.Request.Context())
		if err != nil {
			writeError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, orderList(list))
	})

	g.GET("/:orderId", func(c *gin.Context) {
		o, err := svc.GetOrder(c.Request.Context(), c.Param("orderId"))
		if err != nil {
			writeError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, o)
	})

	g.GET("/user/:userId", func(c *gin.Context) {
		list, err := svc.UserOrders(c.Request.Context(), c.Param("userId"))
		if err != nil {
			writeError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, orderList(list))
	})

	g.GET("/status/:status", func(c *gin.Context) {
		status, err := orders.ParseStatus(c.Param("status"))
		if err != nil {
			writeError(c, logger, err)
			return
		}
		list, err := svc.OrdersByStatus(c.Request.Context(), status)
		if err != nil {
			writeError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, orderList(list))
	})

	g.PUT("/:orderId/status", func(c *gin.Context) {
		status, err := orders.ParseStatus(c.Query("status"))
		if err != nil {
			writeError(c, logger, err)
			return
		}
		o, err := svc.UpdateStatus(c.Request.Context(), c.Param("orderId"), status)
		if err != nil {
			writeError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, o)
	})

	g.DELETE("/:orderId/cancel", func(c *gin.Context) {
		if _, err := svc.CancelOrder(c.Request.Context(), c.Param("orderId")); err != nil {
			writeError(c, logger, err)
			return
		}
		c.Status(http.StatusNoContent)
	})
}

// createIdempotent places the order at most once per key. The first request
// claims the key; later requests with the same payload get the stored
// response, or 409 while the first is still running.
func createIdempotent(c *gin.Context, cfg HandlerConfig, key string, req validation.CreateOrderRequest, in orders.CreateOrderInput) {
	ctx := c.Request.Context()
	logger := cfg.Logger.With(zap.String("idempotency_key", key))

	fingerprint, err := idempotency.Fingerprint(req)
	if err != nil {
		writeError(c, logger, err)
		return
	}

	claimed, err := cfg.Idempotency.CreateIfNotExists(ctx, key, fingerprint)
	if err != nil {
		writeError(c, logger, fmt.Errorf("claim idempotency key: %w", err))
		return
	}
	if !claimed {
		replay(c, cfg.Idempotency, logger, key, fingerprint)
		return
	}

	o, err := cfg.Orders.CreateOrder(ctx, in)
	// the outcome is recorded even if the client has gone away
	record := context.WithoutCancel(ctx)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError || status == http.StatusConflict {
			// retryable: free the key
			if derr := cfg.Idempotency.Delete(record, key); derr != nil {
				logger.Error("release idempotency key", zap.Error(derr))
			}
			writeError(c, logger, err)
			return
		}
		body, _ := json.Marshal(gin.H{"error": err.Error()})
		if merr := cfg.Idempotency.MarkDone(record, key, "", string(body), status); merr != nil {
			logger.Error("store idempotent response", zap.Error(merr))
		}
		c.Data(status, "application/json; charset=utf-8", body)
		return
	}

	body, err := json.Marshal(o)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	if err := cfg.Idempotency.MarkDone(record, key, o.ID, string(body), http.StatusCreated); err != nil {
		// the order exists; a retry will see IN_PROGRESS until the record expires
		logger.Error("store idempotent response", zap.String("order_id", o.ID), zap.Error(err))
	}
	c.Header("Location", fmt.Sprintf("/api/orders/%s", o.ID))
	c.Data(http.StatusCreated, "application/json; charset=utf-8", body)
}

func replay(c *gin.Context, store idempotency.Store, logger *zap.Logger, key, fingerprint string) {
	rec, err := store.Get(c.Request.Context(), key)
	if err != nil {
		writeError(c, logger, fmt.Errorf("read idempotency key: %w", err))
		return
	}
	switch {
	case rec == nil:
		// expired or released between the claim and the read
		c.JSON(http.StatusConflict, gin.H{"error": "idempotency key is being released, retry the request"})
	case rec.Fingerprint != fingerprint:
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "idempotency key was used with a different request"})
	case rec.Status == idempotency.StatusInProgress:
		c.JSON(http.StatusConflict, gin.H{"error": "a request with this idempotency key is in progress"})
	case rec.Status == idempotency.StatusDone:
		c.Header("Idempotent-Replayed", "true")
		if rec.OrderID != "" {
			c.Header("Location", fmt.Sprintf("/api/orders/%s", rec.OrderID))
		}
		c.Data(rec.ResponseStatus, "application/json; charset=utf-8", []byte(rec.ResponseBody))
	default:
		writeError(c, logger, fmt.Errorf("unknown idempotency status %q", rec.Status))
	}
}

func created(c *gin.Context, o *orders.Order) {
	c.Header("Location", fmt.Sprintf("/api/orders/%s", o.ID))
	c.JSON(http.StatusCreated, o)
}

func orderList(list []orders.Order) []orders.Order {
	if list == nil {
		return []orders.Order{}
	}
	return list
}
