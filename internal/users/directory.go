package users

import (
	"context"
	"fmt"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-shop-orderflow/internal/aws"
	"github.com/imrishuroy/go-shop-orderflow/internal/domain"
)

// Directory answers whether a user account exists. Accounts are owned by
// the user service; this module only reads them.
type Directory interface {
	Exists(ctx context.Context, userID string) (bool, error)
}

// Require returns ErrUserNotFound unless the user exists.
func Require(ctx context.Context, d Directory, userID string) error {
	ok, err := d.Exists(ctx, userID)
	if err != nil {
		return fmt.Errorf("lookup user %s: %w", userID, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUserNotFound, userID)
	}
	return nil
}

// MemoryDirectory is a fixed set of user ids.
type MemoryDirectory struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

func NewMemoryDirectory(ids ...string) *MemoryDirectory {
	d := &MemoryDirectory{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		d.ids[id] = struct{}{}
	}
	return d
}

// Add registers a user id.
func (d *MemoryDirectory) Add(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids[id] = struct{}{}
}

func (d *MemoryDirectory) Exists(_ context.Context, userID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.ids[userID]
	return ok, nil
}

// DynamoDirectory looks users up in the users table keyed by user_id.
type DynamoDirectory struct {
	client    aws.DynamoDBAPI
	tableName string
}

func NewDynamoDirectory(client aws.DynamoDBAPI, tableName string) *DynamoDirectory {
	return &DynamoDirectory{client: client, tableName: tableName}
}

func (d *DynamoDirectory) Exists(ctx context.Context, userID string) (bool, error) {
	out, err := d.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &d.tableName,
		Key: map[string]types.AttributeValue{
			"user_id": &types.AttributeValueMemberS{Value: userID},
		},
		ProjectionExpression: aws.AWSString("user_id"),
	})
	if err != nil {
		return false, fmt.Errorf("get item: %w", err)
	}
	return len(out.Item) > 0, nil
}
