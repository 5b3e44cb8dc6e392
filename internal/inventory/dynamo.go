package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-shop-orderflow/internal/aws"
)

// productRecord is the item stored in the products table.
type productRecord struct {
	ProductID string    `dynamodbav:"product_id"` // PK
	Name      string    `dynamodbav:"name"`
	Price     string    `dynamodbav:"price"` // decimal string
	Quantity  int       `dynamodbav:"quantity"`
	Active    bool      `dynamodbav:"active"`
	Version   int64     `dynamodbav:"version"`
	UpdatedAt time.Time `dynamodbav:"updated_at"`
}

func (r productRecord) toProduct() (*Product, error) {
	price, err := decimal.NewFromString(r.Price)
	if err != nil {
		return nil, fmt.Errorf("parse price of %s: %w", r.ProductID, err)
	}
	return &Product{
		ID:        r.ProductID,
		Name:      r.Name,
		Price:     price,
		Quantity:  r.Quantity,
		Active:    r.Active,
		Version:   r.Version,
		UpdatedAt: r.UpdatedAt,
	}, nil
}

// DynamoStore keeps products in a DynamoDB table keyed by product_id.
type DynamoStore struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewDynamoStore creates a products store.
func NewDynamoStore(client aws.DynamoDBAPI, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// Get fetches a product by id. Returns (nil, nil) if not found.
func (s *DynamoStore) Get(ctx context.Context, productID string) (*Product, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            productKey(productID),
		ConsistentRead: aws.AWSBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec productRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal product: %w", err)
	}
	return rec.toProduct()
}

// List scans the whole table. The catalog held here is small: only products
// that carry stock.
func (s *DynamoStore) List(ctx context.Context) ([]Product, error) {
	var (
		out      []Product
		startKey map[string]types.AttributeValue
	)
	for {
		page, err := s.client.Scan(ctx, &dyn.ScanInput{
			TableName:         &s.tableName,
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("scan products: %w", err)
		}
		var recs []productRecord
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &recs); err != nil {
			return nil, fmt.Errorf("unmarshal products: %w", err)
		}
		for _, rec := range recs {
			p, err := rec.toProduct()
			if err != nil {
				return nil, err
			}
			out = append(out, *p)
		}
		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		startKey = page.LastEvaluatedKey
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Put upserts the catalog attributes of p and bumps the version. quantity is
// only written when the item does not exist yet.
func (s *DynamoStore) Put(ctx context.Context, p Product) error {
	now := s.nowFunc()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      productKey(p.ID),
		UpdateExpression:         aws.AWSString("SET #n = :name, price = :price, quantity = if_not_exists(quantity, :q), active = :active, updated_at = :ua ADD version :one"),
		ExpressionAttributeNames: map[string]string{"#n": "name"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":name":   &types.AttributeValueMemberS{Value: p.Name},
			":price":  &types.AttributeValueMemberS{Value: p.Price.String()},
			":q":      &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", p.Quantity)},
			":active": &types.AttributeValueMemberBOOL{Value: p.Active},
			":ua":     &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
			":one":    &types.AttributeValueMemberN{Value: "1"},
		},
	})
	if err != nil {
		return fmt.Errorf("put product: %w", err)
	}
	return nil
}

// CompareAndSwap sets quantity when the stored version equals version.
// Returns ErrVersionConflict if the condition failed.
func (s *DynamoStore) CompareAndSwap(ctx context.Context, productID string, version int64, quantity int) (*Product, error) {
	now := s.nowFunc()
	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              productKey(productID),
		UpdateExpression: aws.AWSString("SET quantity = :q, updated_at = :ua ADD version :one"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":q":   &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", quantity)},
			":ua":  &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
			":one": &types.AttributeValueMemberN{Value: "1"},
			":v":   &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", version)},
		},
		ConditionExpression: aws.AWSString("version = :v"),
		ReturnValues:        types.ReturnValueAllNew,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, ErrVersionConflict
		}
		return nil, fmt.Errorf("update quantity: %w", err)
	}
	var rec productRecord
	if err := attributevalue.UnmarshalMap(out.Attributes, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal product: %w", err)
	}
	return rec.toProduct()
}

func productKey(productID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"product_id": &types.AttributeValueMemberS{Value: productID},
	}
}
