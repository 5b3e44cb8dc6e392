package main

import (
	"github.com/shopspring/decimal"

	orderevents "github.com/imrishuroy/go-shop-orderflow/internal/events"
)

// Metric names written by the worker.
const (
	MetricOrdersPlaced       = "OrdersPlaced"
	MetricOrdersCancelled    = "OrdersCancelled"
	MetricOrderStatusChanged = "OrderStatusChanged"
	MetricUnitsReserved      = "UnitsReserved"
	MetricUnitsReleased      = "UnitsReleased"
	MetricRevenue            = "Revenue"
)

// batchTotals aggregates the events of one SQS batch.
type batchTotals struct {
	placed        int
	cancelled     int
	unitsReserved int
	unitsReleased int
	revenue       decimal.Decimal
	transitions   map[string]int // by new status
	seen          map[string]bool
}

func newBatchTotals() *batchTotals {
	return &batchTotals{
		revenue:     decimal.Zero,
		transitions: map[string]int{},
		seen:        map[string]bool{},
	}
}

// add folds one event in. Redelivered copies inside the batch count once.
func (b *batchTotals) add(ev orderevents.OrderEvent) error {
	key := string(ev.Type) + "/" + ev.OrderID + "/" + ev.Status
	if b.seen[key] {
		return nil
	}

	units := 0
	for _, l := range ev.Lines {
		units += l.Quantity
	}

	switch ev.Type {
	case orderevents.TypeOrderPlaced:
		total, err := decimal.NewFromString(ev.TotalPrice)
		if err != nil {
			return err
		}
		b.placed++
		b.unitsReserved += units
		b.revenue = b.revenue.Add(total)
	case orderevents.TypeOrderCancelled:
		b.cancelled++
		b.unitsReleased += units
	case orderevents.TypeOrderStatusChanged:
		b.transitions[ev.Status]++
	default:
		return errUnknownEvent
	}
	b.seen[key] = true
	return nil
}
