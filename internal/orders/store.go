package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-shop-orderflow/internal/aws"
)

// Secondary indexes of the orders table. Both use created_at as sort key.
const (
	UserIndex   = "user_id-index"
	StatusIndex = "status-index"
)

// ErrStatusMismatch is returned by UpdateStatus when the stored status is not
// the expected one.
var ErrStatusMismatch = errors.New("status mismatch/conditional failed")

// Store persists orders. Get returns (nil, nil) when the order does not exist.
type Store interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, orderID string) (*Order, error)
	ListByUser(ctx context.Context, userID string) ([]Order, error)
	ListByStatus(ctx context.Context, status Status) ([]Order, error)
	List(ctx context.Context) ([]Order, error)
	// UpdateStatus moves the order from expected to next and returns the
	// updated order.
	UpdateStatus(ctx context.Context, orderID string, expected, next Status) (*Order, error)
}

type orderItemRecord struct {
	ItemID      string `dynamodbav:"item_id"`
	ProductID   string `dynamodbav:"product_id"`
	ProductName string `dynamodbav:"product_name"`
	Quantity    int    `dynamodbav:"quantity"`
	UnitPrice   string `dynamodbav:"unit_price"` // decimal string
}

// orderRecord is the item stored in the orders table.
type orderRecord struct {
	OrderID         string            `dynamodbav:"order_id"` // PK
	UserID          string            `dynamodbav:"user_id"`
	Status          string            `dynamodbav:"status"`
	Items           []orderItemRecord `dynamodbav:"items"`
	ShippingAddress string            `dynamodbav:"shipping_address"`
	BillingAddress  string            `dynamodbav:"billing_address"`
	TotalPrice      string            `dynamodbav:"total_price"` // informational; recomputed from items on read
	CreatedAt       time.Time         `dynamodbav:"created_at"`
	UpdatedAt       time.Time         `dynamodbav:"updated_at"`
}

func toRecord(o *Order) orderRecord {
	rec := orderRecord{
		OrderID:         o.ID,
		UserID:          o.UserID,
		Status:          string(o.Status),
		Items:           make([]orderItemRecord, 0, len(o.Items)),
		ShippingAddress: o.ShippingAddress,
		BillingAddress:  o.BillingAddress,
		TotalPrice:      o.TotalPrice().String(),
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
	for _, it := range o.Items {
		rec.Items = append(rec.Items, orderItemRecord{
			ItemID:      it.ID,
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   it.Price.String(),
		})
	}
	return rec
}

func (r orderRecord) toOrder() (*Order, error) {
	o := &Order{
		ID:              r.OrderID,
		UserID:          r.UserID,
		Status:          Status(r.Status),
		Items:           make([]OrderItem, 0, len(r.Items)),
		ShippingAddress: r.ShippingAddress,
		BillingAddress:  r.BillingAddress,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	for _, it := range r.Items {
		price, err := decimal.NewFromString(it.UnitPrice)
		if err != nil {
			return nil, fmt.Errorf("parse unit price of order %s: %w", r.OrderID, err)
		}
		o.Items = append(o.Items, OrderItem{
			ID:          it.ItemID,
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			Price:       price,
		})
	}
	return o, nil
}

// DynamoStore encapsulates operations on the orders table.
type DynamoStore struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewDynamoStore creates a new orders store.
func NewDynamoStore(client aws.DynamoDBAPI, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// Create writes a new order. Writing an existing order id fails.
func (s *DynamoStore) Create(ctx context.Context, o *Order) error {
	now := s.nowFunc()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = o.CreatedAt
	}

	item, err := attributevalue.MarshalMap(toRecord(o))
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: aws.AWSString("attribute_not_exists(order_id)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("order %s already exists: %w", o.ID, err)
		}
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

// Get fetches an order by order_id. Returns (nil, nil) if not found.
func (s *DynamoStore) Get(ctx context.Context, orderID string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            orderKey(orderID),
		ConsistentRead: aws.AWSBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	return decodeOrder(out.Item)
}

// ListByUser queries the user index.
func (s *DynamoStore) ListByUser(ctx context.Context, userID string) ([]Order, error) {
	return s.query(ctx, &dyn.QueryInput{
		TableName:              &s.tableName,
		IndexName:              aws.AWSString(UserIndex),
		KeyConditionExpression: aws.AWSString("user_id = :u"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":u": &types.AttributeValueMemberS{Value: userID},
		},
	})
}

// ListByStatus queries the status index.
func (s *DynamoStore) ListByStatus(ctx context.Context, status Status) ([]Order, error) {
	return s.query(ctx, &dyn.QueryInput{
		TableName:                &s.tableName,
		IndexName:                aws.AWSString(StatusIndex),
		KeyConditionExpression:   aws.AWSString("#s = :s"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":s": &types.AttributeValueMemberS{Value: string(status)},
		},
	})
}

// List scans the table.
func (s *DynamoStore) List(ctx context.Context) ([]Order, error) {
	var (
		out      []Order
		startKey map[string]types.AttributeValue
	)
	for {
		page, err := s.client.Scan(ctx, &dyn.ScanInput{
			TableName:         &s.tableName,
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("scan orders: %w", err)
		}
		for _, item := range page.Items {
			o, err := decodeOrder(item)
			if err != nil {
				return nil, err
			}
			out = append(out, *o)
		}
		if len(page.LastEvaluatedKey) == 0 {
			return out, nil
		}
		startKey = page.LastEvaluatedKey
	}
}

// UpdateStatus conditionally updates the order status from expected -> next.
// Returns ErrStatusMismatch if the condition failed.
func (s *DynamoStore) UpdateStatus(ctx context.Context, orderID string, expected, next Status) (*Order, error) {
	now := s.nowFunc()
	input := &dyn.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      orderKey(orderID),
		UpdateExpression:         aws.AWSString("SET #s = :new, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":new":      &types.AttributeValueMemberS{Value: string(next)},
			":ua":       &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
			":expected": &types.AttributeValueMemberS{Value: string(expected)},
		},
		ConditionExpression: aws.AWSString("#s = :expected"),
		ReturnValues:        types.ReturnValueAllNew,
	}

	out, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, ErrStatusMismatch
		}
		return nil, fmt.Errorf("update item: %w", err)
	}
	return decodeOrder(out.Attributes)
}

func (s *DynamoStore) query(ctx context.Context, input *dyn.QueryInput) ([]Order, error) {
	var out []Order
	for {
		page, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", *input.IndexName, err)
		}
		for _, item := range page.Items {
			o, err := decodeOrder(item)
			if err != nil {
				return nil, err
			}
			out = append(out, *o)
		}
		if len(page.LastEvaluatedKey) == 0 {
			return out, nil
		}
		input.ExclusiveStartKey = page.LastEvaluatedKey
	}
}

func decodeOrder(item map[string]types.AttributeValue) (*Order, error) {
	var rec orderRecord
	if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return rec.toOrder()
}

func orderKey(orderID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"order_id": &types.AttributeValueMemberS{Value: orderID},
	}
}
