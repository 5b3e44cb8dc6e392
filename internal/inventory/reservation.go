package inventory

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/imrishuroy/go-shop-orderflow/internal/metrics"
)

// Line is a quantity of one product.
type Line struct {
	ProductID string
	Quantity  int
}

// Reservation groups several reserves into one all-or-nothing unit. Each
// successful Reserve is recorded; Rollback releases them in reverse order.
// A Reservation is not safe for concurrent use.
type Reservation struct {
	authority *Authority
	held      []Line
	sealed    bool
}

// Begin starts an empty reservation.
func (a *Authority) Begin() *Reservation {
	return &Reservation{authority: a}
}

// Reserve takes qty units and records them for rollback.
func (r *Reservation) Reserve(ctx context.Context, productID string, qty int) (*Product, error) {
	if r.sealed {
		return nil, errors.New("reservation already committed or rolled back")
	}
	p, err := r.authority.Reserve(ctx, productID, qty)
	if err != nil {
		return nil, err
	}
	r.held = append(r.held, Line{ProductID: productID, Quantity: qty})
	return p, nil
}

// Commit makes the reserved stock permanent.
func (r *Reservation) Commit() {
	r.sealed = true
	r.held = nil
}

// Rollback releases everything reserved so far, most recent first. It keeps
// going past failures and returns them joined. Calling it after Commit is a
// no-op.
func (r *Reservation) Rollback(ctx context.Context) error {
	if r.sealed {
		return nil
	}
	r.sealed = true

	// compensation must outlive a cancelled request
	ctx = context.WithoutCancel(ctx)

	var errs []error
	for i := len(r.held) - 1; i >= 0; i-- {
		l := r.held[i]
		if _, err := r.authority.Release(ctx, l.ProductID, l.Quantity); err != nil {
			metrics.CompensationFailures.WithLabelValues(metrics.StepRollback).Inc()
			r.authority.logger.Error("reservation rollback failed",
				zap.String("product_id", l.ProductID),
				zap.Int("quantity", l.Quantity),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("release %s x%d: %w", l.ProductID, l.Quantity, err))
		}
	}
	r.held = nil
	return errors.Join(errs...)
}

// ReleaseAll returns every line to stock. If a release fails midway, the
// lines already released are reserved again in reverse order so the caller
// sees either all or none of the releases.
func (a *Authority) ReleaseAll(ctx context.Context, lines []Line) error {
	for i, l := range lines {
		if _, err := a.Release(ctx, l.ProductID, l.Quantity); err != nil {
			undo := context.WithoutCancel(ctx)
			for j := i - 1; j >= 0; j-- {
				back := lines[j]
				if _, rerr := a.Reserve(undo, back.ProductID, back.Quantity); rerr != nil {
					metrics.CompensationFailures.WithLabelValues(metrics.StepUnrelease).Inc()
					a.logger.Error("re-reserve after failed release",
						zap.String("product_id", back.ProductID),
						zap.Int("quantity", back.Quantity),
						zap.Error(rerr),
					)
				}
			}
			return fmt.Errorf("release %s: %w", l.ProductID, err)
		}
	}
	return nil
}
