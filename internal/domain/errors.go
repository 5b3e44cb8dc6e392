package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the inventory, cart and order packages.
// Callers add context with fmt.Errorf("...: %w", err) and the HTTP layer
// maps them to status codes with errors.Is.
var (
	ErrNotFound         = errors.New("not found")
	ErrUserNotFound     = fmt.Errorf("user %w", ErrNotFound)
	ErrProductNotFound  = fmt.Errorf("product %w", ErrNotFound)
	ErrOrderNotFound    = fmt.Errorf("order %w", ErrNotFound)
	ErrCartItemNotFound = fmt.Errorf("cart item %w", ErrNotFound)

	ErrInsufficientStock = errors.New("insufficient stock")
	ErrOutOfStock        = errors.New("product is out of stock")
	ErrInvalidQuantity   = errors.New("quantity must be positive")

	ErrInvalidInput = errors.New("invalid input")
	ErrEmptyCart    = fmt.Errorf("%w: cart is empty", ErrInvalidInput)

	ErrUnauthorized = errors.New("resource belongs to another user")

	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyCancelled  = errors.New("order is already cancelled")

	// ErrConflict is returned when a concurrent write won the race. The
	// operation can be retried by the caller.
	ErrConflict = errors.New("concurrent update conflict")
)
