package idempotency

import (
	"context"
	"errors"
	"strconv"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-shop-orderflow/internal/aws"
)

// simpleMock is a very small in-memory mock for the calls DynamoStore makes.
// It understands only the condition expressions DynamoStore uses.
type simpleMock struct {
	aws.DynamoDBAPI
	mu          sync.Mutex
	table       map[string]map[string]types.AttributeValue
	putCalls    int
	updateCalls int
	deleteCalls int
}

func newSimpleMock() *simpleMock {
	return &simpleMock{
		table: map[string]map[string]types.AttributeValue{},
	}
}

func keyOf(item map[string]types.AttributeValue) (string, error) {
	attr, ok := item["idempotency_key"].(*types.AttributeValueMemberS)
	if !ok {
		return "", errors.New("missing key")
	}
	return attr.Value, nil
}

func numberOf(v types.AttributeValue) int64 {
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0
	}
	i, _ := strconv.ParseInt(n.Value, 10, 64)
	return i
}

func (m *simpleMock) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putCalls++
	k, err := keyOf(params.Item)
	if err != nil {
		return nil, err
	}
	if params.ConditionExpression != nil && *params.ConditionExpression == "attribute_not_exists(idempotency_key) OR expires_at <= :now" {
		if existing, ok := m.table[k]; ok {
			now := numberOf(params.ExpressionAttributeValues[":now"])
			if numberOf(existing["expires_at"]) > now {
				return nil, &types.ConditionalCheckFailedException{}
			}
		}
	}
	m.table[k] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *simpleMock) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, err := keyOf(params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := m.table[k]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

// UpdateItem supports the MarkDone expression only.
func (m *simpleMock) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	k, err := keyOf(params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := m.table[k]
	if !ok {
		return nil, &types.ConditionalCheckFailedException{}
	}
	if params.ConditionExpression != nil && *params.ConditionExpression == "#s = :in_progress" {
		st, _ := item["status"].(*types.AttributeValueMemberS)
		if st == nil || st.Value != StatusInProgress {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	updated := make(map[string]types.AttributeValue, len(item))
	for name, v := range item {
		updated[name] = v
	}
	for placeholder, attr := range map[string]string{
		":done": "status",
		":oid":  "order_id",
		":rb":   "response_body",
		":rs":   "response_status",
		":ua":   "updated_at",
	} {
		if v, ok := params.ExpressionAttributeValues[placeholder]; ok {
			updated[attr] = v
		}
	}
	m.table[k] = updated
	return &dyn.UpdateItemOutput{}, nil
}

func (m *simpleMock) DeleteItem(ctx context.Context, params *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCalls++
	k, err := keyOf(params.Key)
	if err != nil {
		return nil, err
	}
	delete(m.table, k)
	return &dyn.DeleteItemOutput{}, nil
}
