package orders

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore keeps orders in process.
type MemoryStore struct {
	mu      sync.RWMutex
	orders  map[string]Order
	nowFunc func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:  map[string]Order{},
		nowFunc: time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; ok {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = s.nowFunc()
	}
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = o.CreatedAt
	}
	s.orders[o.ID] = cloneOrder(*o)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, orderID string) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, nil
	}
	cp := cloneOrder(o)
	return &cp, nil
}

func (s *MemoryStore) ListByUser(_ context.Context, userID string) ([]Order, error) {
	return s.filter(func(o Order) bool { return o.UserID == userID }), nil
}

func (s *MemoryStore) ListByStatus(_ context.Context, status Status) ([]Order, error) {
	return s.filter(func(o Order) bool { return o.Status == status }), nil
}

func (s *MemoryStore) List(_ context.Context) ([]Order, error) {
	return s.filter(func(Order) bool { return true }), nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, orderID string, expected, next Status) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok || o.Status != expected {
		return nil, ErrStatusMismatch
	}
	o.Status = next
	o.UpdatedAt = s.nowFunc()
	s.orders[orderID] = o
	cp := cloneOrder(o)
	return &cp, nil
}

func (s *MemoryStore) filter(keep func(Order) bool) []Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Order
	for _, o := range s.orders {
		if keep(o) {
			out = append(out, cloneOrder(o))
		}
	}
	return out
}

func cloneOrder(o Order) Order {
	o.Items = append([]OrderItem(nil), o.Items...)
	return o
}
