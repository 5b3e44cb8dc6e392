package idempotency

import (
	"context"
	"time"
)

// Status values for idempotency entries
const (
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
)

// Record is the shape persisted for one Idempotency-Key.
type Record struct {
	IdempotencyKey string    `dynamodbav:"idempotency_key"` // PK
	Status         string    `dynamodbav:"status"`
	Fingerprint    string    `dynamodbav:"fingerprint"` // hash of the request body
	OrderID        string    `dynamodbav:"order_id,omitempty"`
	ResponseBody   string    `dynamodbav:"response_body,omitempty"`
	ResponseStatus int       `dynamodbav:"response_status,omitempty"` // e.g., 201
	CreatedAt      time.Time `dynamodbav:"created_at"`
	UpdatedAt      time.Time `dynamodbav:"updated_at"`
	ExpiresAt      int64     `dynamodbav:"expires_at"` // TTL epoch seconds
}

// Expired reports whether the record outlived its TTL at now. DynamoDB deletes
// expired items lazily, so readers check this themselves.
func (r *Record) Expired(now time.Time) bool {
	return r.ExpiresAt > 0 && now.Unix() >= r.ExpiresAt
}

// Store tracks the lifecycle of an idempotent request:
// CreateIfNotExists claims the key, MarkDone stores the response for replay
// and Delete frees the key when the request failed for reasons worth retrying.
type Store interface {
	CreateIfNotExists(ctx context.Context, key, fingerprint string) (bool, error)
	Get(ctx context.Context, key string) (*Record, error)
	MarkDone(ctx context.Context, key, orderID, responseBody string, responseStatus int) error
	Delete(ctx context.Context, key string) error
}
