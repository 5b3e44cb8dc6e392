package carts

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Cart is the single shopping cart of a user.
type Cart struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	Items     []Item
}

// Item is one product line of a cart. Its price is not stored; it follows
// the catalog until an order captures it.
type Item struct {
	ID        string
	CartID    string
	UserID    string
	ProductID string
	Quantity  int
	AddedAt   time.Time
}

// Store persists carts. Lookups return (nil, nil) when nothing is stored.
type Store interface {
	// GetOrCreate returns the user's cart, creating it on first use. At most
	// one cart exists per user.
	GetOrCreate(ctx context.Context, userID string) (*Cart, error)
	Find(ctx context.Context, userID string) (*Cart, error)
	// AddQuantity adds qty to the user's line for productID, creating the
	// cart and the line when missing.
	AddQuantity(ctx context.Context, userID, productID string, qty int) (*Item, error)
	Item(ctx context.Context, itemID string) (*Item, error)
	SetQuantity(ctx context.Context, itemID string, qty int) error
	// Subtract takes qty units off the user's line for productID and drops
	// the line when nothing is left. A missing line is not an error.
	Subtract(ctx context.Context, userID, productID string, qty int) error
	Remove(ctx context.Context, itemID string) error
	Clear(ctx context.Context, userID string) error
}

// View is the cart as returned to clients, priced at read time.
type View struct {
	ID         string          `json:"id"`
	UserID     string          `json:"userId"`
	Items      []ItemView      `json:"cartItems"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
	TotalItems int             `json:"totalItems"`
}

type ItemView struct {
	ID           string          `json:"id"`
	ProductID    string          `json:"productId"`
	ProductName  string          `json:"productName"`
	ProductPrice decimal.Decimal `json:"productPrice"`
	Quantity     int             `json:"quantity"`
	Subtotal     decimal.Decimal `json:"subtotal"`
}
