package inventory

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps products in process.
type MemoryStore struct {
	mu       sync.RWMutex
	products map[string]Product
	nowFunc  func() time.Time
}

// NewMemoryStore returns a store seeded with products.
func NewMemoryStore(products ...Product) *MemoryStore {
	s := &MemoryStore{
		products: make(map[string]Product, len(products)),
		nowFunc:  time.Now,
	}
	for _, p := range products {
		s.products[p.ID] = p
	}
	return s
}

func (s *MemoryStore) Get(_ context.Context, productID string) (*Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[productID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *MemoryStore) List(_ context.Context) ([]Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Put upserts the catalog attributes of p. The quantity is taken from p only
// for a new product; an existing product keeps its stock. The stored version
// is bumped so that in-flight CAS writes against the previous state fail.
func (s *MemoryStore) Put(_ context.Context, p Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.products[p.ID]; ok {
		p.Quantity = prev.Quantity
		if p.Version <= prev.Version {
			p.Version = prev.Version + 1
		}
	}
	p.UpdatedAt = s.nowFunc()
	s.products[p.ID] = p
	return nil
}

func (s *MemoryStore) CompareAndSwap(_ context.Context, productID string, version int64, quantity int) (*Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok || p.Version != version {
		return nil, ErrVersionConflict
	}
	p.Quantity = quantity
	p.Version++
	p.UpdatedAt = s.nowFunc()
	s.products[productID] = p
	return &p, nil
}
