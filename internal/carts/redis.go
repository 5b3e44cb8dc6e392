package carts

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/imrishuroy/go-shop-orderflow/internal/domain"
)

// Key layout:
//
//	<prefix>cart:<user>          hash  id, user_id, created_at
//	<prefix>cart:<user>:lines    hash  product_id -> item_id
//	<prefix>cart-item:<item>     hash  id, cart_id, user_id, product_id, quantity, added_at
//
// Multi-key updates run as Lua scripts, so the store expects a single Redis
// node (or keys that hash to one slot).

var getOrCreateScript = redis.NewScript(`
if redis.call('HSETNX', KEYS[1], 'id', ARGV[1]) == 1 then
  redis.call('HSET', KEYS[1], 'user_id', ARGV[2], 'created_at', ARGV[3])
end
return redis.call('HGET', KEYS[1], 'id')
`)

var addQuantityScript = redis.NewScript(`
if redis.call('HSETNX', KEYS[1], 'id', ARGV[1]) == 1 then
  redis.call('HSET', KEYS[1], 'user_id', ARGV[2], 'created_at', ARGV[3])
end
local cartID = redis.call('HGET', KEYS[1], 'id')
local itemID = redis.call('HGET', KEYS[2], ARGV[4])
if itemID then
  redis.call('HINCRBY', ARGV[7] .. itemID, 'quantity', ARGV[5])
  return itemID
end
redis.call('HSET', KEYS[2], ARGV[4], ARGV[6])
redis.call('HSET', ARGV[7] .. ARGV[6], 'id', ARGV[6], 'cart_id', cartID, 'user_id', ARGV[2],
  'product_id', ARGV[4], 'quantity', ARGV[5], 'added_at', ARGV[3])
return ARGV[6]
`)

var setQuantityScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], 'quantity', ARGV[1])
return 1
`)

var subtractScript = redis.NewScript(`
local itemID = redis.call('HGET', KEYS[1], ARGV[1])
if not itemID then
  return 0
end
local left = redis.call('HINCRBY', ARGV[3] .. itemID, 'quantity', -tonumber(ARGV[2]))
if left <= 0 then
  redis.call('HDEL', KEYS[1], ARGV[1])
  redis.call('DEL', ARGV[3] .. itemID)
end
return 1
`)

var removeScript = redis.NewScript(`
local uid = redis.call('HGET', KEYS[1], 'user_id')
if not uid then
  return 0
end
local pid = redis.call('HGET', KEYS[1], 'product_id')
redis.call('HDEL', ARGV[1] .. uid .. ':lines', pid)
redis.call('DEL', KEYS[1])
return 1
`)

var clearScript = redis.NewScript(`
local ids = redis.call('HVALS', KEYS[1])
for _, id in ipairs(ids) do
  redis.call('DEL', ARGV[1] .. id)
end
redis.call('DEL', KEYS[1])
return #ids
`)

// RedisStore keeps carts in Redis hashes.
type RedisStore struct {
	client  redis.UniversalClient
	prefix  string
	nowFunc func() time.Time
}

// NewRedisStore returns a store that namespaces its keys with prefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{
		client:  client,
		prefix:  prefix,
		nowFunc: time.Now,
	}
}

func (s *RedisStore) cartKey(userID string) string  { return s.prefix + "cart:" + userID }
func (s *RedisStore) linesKey(userID string) string { return s.cartKey(userID) + ":lines" }
func (s *RedisStore) itemPrefix() string            { return s.prefix + "cart-item:" }
func (s *RedisStore) itemKey(itemID string) string  { return s.itemPrefix() + itemID }

func (s *RedisStore) GetOrCreate(ctx context.Context, userID string) (*Cart, error) {
	now := s.nowFunc().UTC().Format(time.RFC3339Nano)
	err := getOrCreateScript.Run(ctx, s.client, []string{s.cartKey(userID)}, uuid.NewString(), userID, now).Err()
	if err != nil {
		return nil, fmt.Errorf("create cart: %w", err)
	}
	c, err := s.Find(ctx, userID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("cart for %s vanished after create", userID)
	}
	return c, nil
}

func (s *RedisStore) Find(ctx context.Context, userID string) (*Cart, error) {
	fields, err := s.client.HGetAll(ctx, s.cartKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get cart: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	c := &Cart{ID: fields["id"], UserID: fields["user_id"]}
	if c.CreatedAt, err = time.Parse(time.RFC3339Nano, fields["created_at"]); err != nil {
		return nil, fmt.Errorf("parse cart created_at: %w", err)
	}

	itemIDs, err := s.client.HVals(ctx, s.linesKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get cart lines: %w", err)
	}
	if len(itemIDs) == 0 {
		return c, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(itemIDs))
	for i, id := range itemIDs {
		cmds[i] = pipe.HGetAll(ctx, s.itemKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("get cart items: %w", err)
	}
	for _, cmd := range cmds {
		it, err := parseItem(cmd.Val())
		if err != nil {
			return nil, err
		}
		if it != nil {
			c.Items = append(c.Items, *it)
		}
	}
	sortItems(c.Items)
	return c, nil
}

func (s *RedisStore) AddQuantity(ctx context.Context, userID, productID string, qty int) (*Item, error) {
	now := s.nowFunc().UTC().Format(time.RFC3339Nano)
	itemID, err := addQuantityScript.Run(ctx, s.client,
		[]string{s.cartKey(userID), s.linesKey(userID)},
		uuid.NewString(), userID, now, productID, qty, uuid.NewString(), s.itemPrefix(),
	).Text()
	if err != nil {
		return nil, fmt.Errorf("add cart item: %w", err)
	}
	it, err := s.Item(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if it == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrCartItemNotFound, itemID)
	}
	return it, nil
}

func (s *RedisStore) Item(ctx context.Context, itemID string) (*Item, error) {
	fields, err := s.client.HGetAll(ctx, s.itemKey(itemID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get cart item: %w", err)
	}
	return parseItem(fields)
}

func (s *RedisStore) SetQuantity(ctx context.Context, itemID string, qty int) error {
	n, err := setQuantityScript.Run(ctx, s.client, []string{s.itemKey(itemID)}, qty).Int()
	if err != nil {
		return fmt.Errorf("set cart item quantity: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrCartItemNotFound, itemID)
	}
	return nil
}

func (s *RedisStore) Subtract(ctx context.Context, userID, productID string, qty int) error {
	err := subtractScript.Run(ctx, s.client, []string{s.linesKey(userID)}, productID, qty, s.itemPrefix()).Err()
	if err != nil {
		return fmt.Errorf("subtract cart item: %w", err)
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, itemID string) error {
	n, err := removeScript.Run(ctx, s.client, []string{s.itemKey(itemID)}, s.prefix+"cart:").Int()
	if err != nil {
		return fmt.Errorf("remove cart item: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrCartItemNotFound, itemID)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, userID string) error {
	err := clearScript.Run(ctx, s.client, []string{s.linesKey(userID)}, s.itemPrefix()).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

func parseItem(fields map[string]string) (*Item, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	qty, err := strconv.Atoi(fields["quantity"])
	if err != nil {
		return nil, fmt.Errorf("parse quantity of item %s: %w", fields["id"], err)
	}
	addedAt, err := time.Parse(time.RFC3339Nano, fields["added_at"])
	if err != nil {
		return nil, fmt.Errorf("parse added_at of item %s: %w", fields["id"], err)
	}
	return &Item{
		ID:        fields["id"],
		CartID:    fields["cart_id"],
		UserID:    fields["user_id"],
		ProductID: fields["product_id"],
		Quantity:  qty,
		AddedAt:   addedAt,
	}, nil
}
