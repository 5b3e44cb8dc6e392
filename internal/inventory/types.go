package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Product is the stock-holding view of a catalog product.
type Product struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"stockQuantity"`
	Active    bool            `json:"active"`
	Version   int64           `json:"-"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// InStock reports whether the product can be sold at all.
func (p Product) InStock() bool {
	return p.Active && p.Quantity > 0
}

// ErrVersionConflict is returned by CompareAndSwap when the stored version no
// longer matches the expected one.
var ErrVersionConflict = errors.New("product version conflict")

// Store persists products. Get returns (nil, nil) when the product does not exist.
type Store interface {
	Get(ctx context.Context, productID string) (*Product, error)
	List(ctx context.Context) ([]Product, error)
	// Put creates p or updates its catalog attributes. Stock of an existing
	// product is left untouched; it only changes through CompareAndSwap.
	Put(ctx context.Context, p Product) error
	// CompareAndSwap sets the quantity if the stored version equals version,
	// bumping the version. It returns the updated product.
	CompareAndSwap(ctx context.Context, productID string, version int64, quantity int) (*Product, error)
}
