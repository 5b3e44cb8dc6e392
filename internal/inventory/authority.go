package inventory

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-shop-orderflow/internal/domain"
	"github.com/imrishuroy/go-shop-orderflow/internal/metrics"
)

// DefaultMaxAttempts bounds the compare-and-swap retries of a single stock write.
const DefaultMaxAttempts = 5

var tracer = otel.Tracer("github.com/imrishuroy/go-shop-orderflow/internal/inventory")

// Authority is the single writer of product stock. Every write is a
// compare-and-swap on the product version, so writes to one product are
// serialized while different products proceed independently.
type Authority struct {
	store       Store
	logger      *zap.Logger
	maxAttempts int
}

// NewAuthority returns an Authority over store. maxAttempts <= 0 selects
// DefaultMaxAttempts.
func NewAuthority(store Store, logger *zap.Logger, maxAttempts int) *Authority {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Authority{
		store:       store,
		logger:      logger,
		maxAttempts: maxAttempts,
	}
}

// Get returns the product or ErrProductNotFound.
func (a *Authority) Get(ctx context.Context, productID string) (*Product, error) {
	p, err := a.store.Get(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("get product %s: %w", productID, err)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrProductNotFound, productID)
	}
	return p, nil
}

// InStock lists active products with stock left.
func (a *Authority) InStock(ctx context.Context) ([]Product, error) {
	all, err := a.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	out := make([]Product, 0, len(all))
	for _, p := range all {
		if p.InStock() {
			out = append(out, p)
		}
	}
	return out, nil
}

// CheckAvailable is an advisory check: it reports whether the product exists,
// is active and holds at least qty units. A missing product yields false.
func (a *Authority) CheckAvailable(ctx context.Context, productID string, qty int) (bool, error) {
	p, err := a.store.Get(ctx, productID)
	if err != nil {
		return false, fmt.Errorf("get product %s: %w", productID, err)
	}
	if p == nil {
		return false, nil
	}
	return p.Active && p.Quantity >= qty, nil
}

// Reserve takes qty units of the product. The returned snapshot reflects the
// state right after the decrement and carries the price to charge.
func (a *Authority) Reserve(ctx context.Context, productID string, qty int) (*Product, error) {
	ctx, span := tracer.Start(ctx, "inventory.Reserve")
	defer span.End()
	span.SetAttributes(attribute.String("product.id", productID), attribute.Int("quantity", qty))

	if qty <= 0 {
		return nil, fmt.Errorf("%w: %d", domain.ErrInvalidQuantity, qty)
	}

	p, err := a.adjust(ctx, productID, func(p *Product) (int, error) {
		if !p.Active || p.Quantity < qty {
			return 0, fmt.Errorf("%w: product %s has %d, requested %d", domain.ErrInsufficientStock, productID, p.Quantity, qty)
		}
		return p.Quantity - qty, nil
	})
	metrics.StockReservations.WithLabelValues(reserveResult(err)).Inc()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reserve failed")
		return nil, err
	}
	return p, nil
}

// Release returns qty units of the product. There is no upper bound.
func (a *Authority) Release(ctx context.Context, productID string, qty int) (*Product, error) {
	ctx, span := tracer.Start(ctx, "inventory.Release")
	defer span.End()
	span.SetAttributes(attribute.String("product.id", productID), attribute.Int("quantity", qty))

	if qty <= 0 {
		return nil, fmt.Errorf("%w: %d", domain.ErrInvalidQuantity, qty)
	}

	p, err := a.adjust(ctx, productID, func(p *Product) (int, error) {
		return p.Quantity + qty, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "release failed")
		return nil, err
	}
	metrics.StockReleases.Inc()
	return p, nil
}

// SetStock overwrites the stock level of the product.
func (a *Authority) SetStock(ctx context.Context, productID string, qty int) (*Product, error) {
	if qty < 0 {
		return nil, fmt.Errorf("%w: stock cannot be negative", domain.ErrInvalidQuantity)
	}
	p, err := a.adjust(ctx, productID, func(*Product) (int, error) {
		return qty, nil
	})
	if err != nil {
		return nil, err
	}
	a.logger.Info("stock updated", zap.String("product_id", productID), zap.Int("quantity", qty))
	return p, nil
}

// adjust runs one read-modify-CAS cycle per attempt. next computes the new
// quantity from the current state or rejects the write.
func (a *Authority) adjust(ctx context.Context, productID string, next func(p *Product) (int, error)) (*Product, error) {
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p, err := a.store.Get(ctx, productID)
		if err != nil {
			return nil, fmt.Errorf("get product %s: %w", productID, err)
		}
		if p == nil {
			return nil, fmt.Errorf("%w: %s", domain.ErrProductNotFound, productID)
		}
		qty, err := next(p)
		if err != nil {
			return nil, err
		}
		updated, err := a.store.CompareAndSwap(ctx, productID, p.Version, qty)
		if errors.Is(err, ErrVersionConflict) {
			metrics.StockCASRetries.Inc()
			a.logger.Debug("stock write lost version check",
				zap.String("product_id", productID),
				zap.Int64("version", p.Version),
				zap.Int("attempt", attempt),
			)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("write stock %s: %w", productID, err)
		}
		return updated, nil
	}
	return nil, fmt.Errorf("%w: product %s after %d attempts", domain.ErrConflict, productID, a.maxAttempts)
}

func reserveResult(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.Is(err, domain.ErrInsufficientStock):
		return metrics.ResultInsufficient
	case errors.Is(err, domain.ErrNotFound):
		return metrics.ResultNotFound
	case errors.Is(err, domain.ErrConflict):
		return metrics.ResultConflict
	default:
		return metrics.ResultError
	}
}
