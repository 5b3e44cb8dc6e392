package idempotency

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu        sync.Mutex
	records   map[string]Record
	ttlWindow time.Duration
	nowFunc   func() time.Time
}

// NewMemoryStore returns an empty store; zero ttlWindow means DefaultTTL.
func NewMemoryStore(ttlWindow time.Duration) *MemoryStore {
	if ttlWindow <= 0 {
		ttlWindow = DefaultTTL
	}
	return &MemoryStore{
		records:   map[string]Record{},
		ttlWindow: ttlWindow,
		nowFunc:   time.Now,
	}
}

func (s *MemoryStore) CreateIfNotExists(_ context.Context, key, fingerprint string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowFunc()
	if rec, ok := s.records[key]; ok && !rec.Expired(now) {
		return false, nil
	}
	s.records[key] = Record{
		IdempotencyKey: key,
		Status:         StatusInProgress,
		Fingerprint:    fingerprint,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(s.ttlWindow).Unix(),
	}
	return true, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok || rec.Expired(s.nowFunc()) {
		return nil, nil
	}
	return &rec, nil
}

func (s *MemoryStore) MarkDone(_ context.Context, key, orderID, responseBody string, responseStatus int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok || rec.Status != StatusInProgress {
		return errors.New("mark done: record is not in progress")
	}
	rec.Status = StatusDone
	rec.OrderID = orderID
	rec.ResponseBody = responseBody
	rec.ResponseStatus = responseStatus
	rec.UpdatedAt = s.nowFunc()
	s.records[key] = rec
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}
