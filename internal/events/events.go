package events

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Type names an order lifecycle event.
type Type string

const (
	TypeOrderPlaced        Type = "OrderPlaced"
	TypeOrderCancelled     Type = "OrderCancelled"
	TypeOrderStatusChanged Type = "OrderStatusChanged"
)

// Line is one order line as carried on the wire.
type Line struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

// OrderEvent is published after an order change has been persisted.
type OrderEvent struct {
	Type           Type      `json:"type"`
	OrderID        string    `json:"order_id"`
	UserID         string    `json:"user_id"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previous_status,omitempty"`
	Lines          []Line    `json:"lines,omitempty"`
	TotalPrice     string    `json:"total_price"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Publisher delivers order events to a broker.
type Publisher interface {
	Publish(ctx context.Context, event OrderEvent) error
}

// LogPublisher writes events to the logger. Used when no broker is configured.
type LogPublisher struct {
	Logger *zap.Logger
}

func (p LogPublisher) Publish(_ context.Context, event OrderEvent) error {
	p.Logger.Info("order event",
		zap.String("type", string(event.Type)),
		zap.String("order_id", event.OrderID),
		zap.String("status", event.Status),
		zap.String("total_price", event.TotalPrice),
	)
	return nil
}
