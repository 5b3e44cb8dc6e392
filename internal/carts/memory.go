package carts

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/imrishuroy/go-shop-orderflow/internal/domain"
)

// MemoryStore keeps carts in process.
type MemoryStore struct {
	mu      sync.Mutex
	carts   map[string]*Cart // by user id
	items   map[string]*Item // by item id
	nowFunc func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		carts:   map[string]*Cart{},
		items:   map[string]*Item{},
		nowFunc: time.Now,
	}
}

func (s *MemoryStore) GetOrCreate(_ context.Context, userID string) (*Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(s.cartLocked(userID)), nil
}

func (s *MemoryStore) Find(_ context.Context, userID string) (*Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[userID]
	if !ok {
		return nil, nil
	}
	return s.snapshot(c), nil
}

func (s *MemoryStore) AddQuantity(_ context.Context, userID, productID string, qty int) (*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.cartLocked(userID)
	for _, it := range s.items {
		if it.CartID == c.ID && it.ProductID == productID {
			it.Quantity += qty
			cp := *it
			return &cp, nil
		}
	}
	it := &Item{
		ID:        uuid.NewString(),
		CartID:    c.ID,
		UserID:    userID,
		ProductID: productID,
		Quantity:  qty,
		AddedAt:   s.nowFunc(),
	}
	s.items[it.ID] = it
	cp := *it
	return &cp, nil
}

func (s *MemoryStore) Item(_ context.Context, itemID string) (*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[itemID]
	if !ok {
		return nil, nil
	}
	cp := *it
	return &cp, nil
}

func (s *MemoryStore) SetQuantity(_ context.Context, itemID string, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[itemID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrCartItemNotFound, itemID)
	}
	it.Quantity = qty
	return nil
}

func (s *MemoryStore) Subtract(_ context.Context, userID, productID string, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[userID]
	if !ok {
		return nil
	}
	for id, it := range s.items {
		if it.CartID != c.ID || it.ProductID != productID {
			continue
		}
		if it.Quantity <= qty {
			delete(s.items, id)
		} else {
			it.Quantity -= qty
		}
		return nil
	}
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[itemID]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrCartItemNotFound, itemID)
	}
	delete(s.items, itemID)
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[userID]
	if !ok {
		return nil
	}
	for id, it := range s.items {
		if it.CartID == c.ID {
			delete(s.items, id)
		}
	}
	return nil
}

func (s *MemoryStore) cartLocked(userID string) *Cart {
	c, ok := s.carts[userID]
	if !ok {
		c = &Cart{ID: uuid.NewString(), UserID: userID, CreatedAt: s.nowFunc()}
		s.carts[userID] = c
	}
	return c
}

func (s *MemoryStore) snapshot(c *Cart) *Cart {
	out := &Cart{ID: c.ID, UserID: c.UserID, CreatedAt: c.CreatedAt}
	for _, it := range s.items {
		if it.CartID == c.ID {
			out.Items = append(out.Items, *it)
		}
	}
	sortItems(out.Items)
	return out
}

func sortItems(items []Item) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].AddedAt.Equal(items[j].AddedAt) {
			return items[i].AddedAt.Before(items[j].AddedAt)
		}
		return items[i].ID < items[j].ID
	})
}
