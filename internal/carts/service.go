package carts

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/imrishuroy/go-shop-orderflow/internal/domain"
	"github.com/imrishuroy/go-shop-orderflow/internal/inventory"
	"github.com/imrishuroy/go-shop-orderflow/internal/users"
)

// priceLookupLimit bounds concurrent product lookups while pricing a cart.
const priceLookupLimit = 8

// Catalog is the part of the inventory authority the cart needs.
type Catalog interface {
	Get(ctx context.Context, productID string) (*inventory.Product, error)
	CheckAvailable(ctx context.Context, productID string, qty int) (bool, error)
}

// Service implements the cart operations. Cart-time stock checks are
// advisory; nothing is reserved until an order is placed.
type Service struct {
	store   Store
	catalog Catalog
	users   users.Directory
	logger  *zap.Logger
}

func NewService(store Store, catalog Catalog, dir users.Directory, logger *zap.Logger) *Service {
	return &Service{
		store:   store,
		catalog: catalog,
		users:   dir,
		logger:  logger,
	}
}

// GetCart returns the user's cart, creating an empty one on first access.
func (s *Service) GetCart(ctx context.Context, userID string) (*View, error) {
	if err := users.Require(ctx, s.users, userID); err != nil {
		return nil, err
	}
	c, err := s.store.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get cart: %w", err)
	}
	return s.view(ctx, c)
}

// AddItem adds qty units of a product. Quantities accumulate on the existing
// line for that product.
func (s *Service) AddItem(ctx context.Context, userID, productID string, qty int) (*View, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("%w: %d", domain.ErrInvalidQuantity, qty)
	}
	if err := users.Require(ctx, s.users, userID); err != nil {
		return nil, err
	}
	if err := s.checkStock(ctx, productID, qty); err != nil {
		return nil, err
	}

	it, err := s.store.AddQuantity(ctx, userID, productID, qty)
	if err != nil {
		return nil, fmt.Errorf("add item: %w", err)
	}
	s.logger.Info("cart item added",
		zap.String("user_id", userID),
		zap.String("product_id", productID),
		zap.Int("quantity", it.Quantity),
	)
	return s.GetCart(ctx, userID)
}

// UpdateItemQuantity replaces the quantity of one of the user's lines.
func (s *Service) UpdateItemQuantity(ctx context.Context, userID, itemID string, qty int) (*View, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("%w: %d", domain.ErrInvalidQuantity, qty)
	}
	if err := users.Require(ctx, s.users, userID); err != nil {
		return nil, err
	}
	it, err := s.ownedItem(ctx, userID, itemID)
	if err != nil {
		return nil, err
	}
	if err := s.checkStock(ctx, it.ProductID, qty); err != nil {
		return nil, err
	}
	if err := s.store.SetQuantity(ctx, itemID, qty); err != nil {
		return nil, fmt.Errorf("update item: %w", err)
	}
	return s.GetCart(ctx, userID)
}

// RemoveItem deletes one of the user's lines.
func (s *Service) RemoveItem(ctx context.Context, userID, itemID string) (*View, error) {
	if err := users.Require(ctx, s.users, userID); err != nil {
		return nil, err
	}
	if _, err := s.ownedItem(ctx, userID, itemID); err != nil {
		return nil, err
	}
	if err := s.store.Remove(ctx, itemID); err != nil {
		return nil, fmt.Errorf("remove item: %w", err)
	}
	return s.GetCart(ctx, userID)
}

// Clear empties the cart. Clearing an empty or missing cart succeeds.
func (s *Service) Clear(ctx context.Context, userID string) error {
	if err := users.Require(ctx, s.users, userID); err != nil {
		return err
	}
	if err := s.store.Clear(ctx, userID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

// RemoveLines takes ordered quantities off the cart. Lines added or raised
// after the order was taken keep whatever was not ordered.
func (s *Service) RemoveLines(ctx context.Context, userID string, lines []inventory.Line) error {
	var errs []error
	for _, l := range lines {
		if err := s.store.Subtract(ctx, userID, l.ProductID, l.Quantity); err != nil {
			errs = append(errs, fmt.Errorf("product %s: %w", l.ProductID, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("remove ordered lines: %w", err)
	}
	return nil
}

// Lines returns the product quantities currently in the cart.
func (s *Service) Lines(ctx context.Context, userID string) ([]inventory.Line, error) {
	if err := users.Require(ctx, s.users, userID); err != nil {
		return nil, err
	}
	c, err := s.store.Find(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get cart: %w", err)
	}
	if c == nil {
		return nil, nil
	}
	lines := make([]inventory.Line, 0, len(c.Items))
	for _, it := range c.Items {
		lines = append(lines, inventory.Line{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return lines, nil
}

func (s *Service) ownedItem(ctx context.Context, userID, itemID string) (*Item, error) {
	it, err := s.store.Item(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if it == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrCartItemNotFound, itemID)
	}
	if it.UserID != userID {
		return nil, fmt.Errorf("%w: cart item %s", domain.ErrUnauthorized, itemID)
	}
	return it, nil
}

func (s *Service) checkStock(ctx context.Context, productID string, qty int) error {
	p, err := s.catalog.Get(ctx, productID)
	if err != nil {
		return err
	}
	if !p.InStock() {
		return fmt.Errorf("%w: %s", domain.ErrOutOfStock, productID)
	}
	ok, err := s.catalog.CheckAvailable(ctx, productID, qty)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: product %s, requested %d", domain.ErrInsufficientStock, productID, qty)
	}
	return nil
}

// view prices the cart with current catalog prices. Lines whose product is
// gone or deactivated are dropped from the cart.
func (s *Service) view(ctx context.Context, c *Cart) (*View, error) {
	products := make([]*inventory.Product, len(c.Items))
	var mu sync.Mutex
	var stale []Item

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(priceLookupLimit)
	for i, it := range c.Items {
		i, it := i, it
		g.Go(func() error {
			p, err := s.catalog.Get(gctx, it.ProductID)
			if errors.Is(err, domain.ErrNotFound) || (err == nil && !p.Active) {
				mu.Lock()
				stale = append(stale, it)
				mu.Unlock()
				return nil
			}
			if err != nil {
				return err
			}
			products[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("price cart: %w", err)
	}

	for _, it := range stale {
		s.logger.Warn("dropping cart line for unavailable product",
			zap.String("user_id", c.UserID),
			zap.String("product_id", it.ProductID),
		)
		if err := s.store.Remove(ctx, it.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("drop stale item: %w", err)
		}
	}

	v := &View{ID: c.ID, UserID: c.UserID, Items: []ItemView{}, TotalPrice: decimal.Zero}
	for i, it := range c.Items {
		p := products[i]
		if p == nil {
			continue
		}
		subtotal := p.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
		v.Items = append(v.Items, ItemView{
			ID:           it.ID,
			ProductID:    it.ProductID,
			ProductName:  p.Name,
			ProductPrice: p.Price,
			Quantity:     it.Quantity,
			Subtotal:     subtotal,
		})
		v.TotalPrice = v.TotalPrice.Add(subtotal)
		v.TotalItems += it.Quantity
	}
	return v, nil
}
