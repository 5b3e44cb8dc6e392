package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-shop-orderflow/internal/aws"
	"github.com/imrishuroy/go-shop-orderflow/internal/carts"
	"github.com/imrishuroy/go-shop-orderflow/internal/config"
	"github.com/imrishuroy/go-shop-orderflow/internal/events"
	"github.com/imrishuroy/go-shop-orderflow/internal/handlers"
	"github.com/imrishuroy/go-shop-orderflow/internal/idempotency"
	"github.com/imrishuroy/go-shop-orderflow/internal/inventory"
	"github.com/imrishuroy/go-shop-orderflow/internal/kafka"
	"github.com/imrishuroy/go-shop-orderflow/internal/orders"
	"github.com/imrishuroy/go-shop-orderflow/internal/seed"
	"github.com/imrishuroy/go-shop-orderflow/internal/users"
)

// stores holds one implementation per persistence concern.
type stores struct {
	products    inventory.Store
	users       users.Directory
	carts       carts.Store
	orders      orders.Store
	idempotency idempotency.Store
}

// buildApp wires the services for the configured backends. The returned
// cleanup closes broker and cache connections.
func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (handlers.HandlerConfig, func(), error) {
	var clients *aws.AWSClients
	var closers []func() error
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn("close", zap.Error(err))
			}
		}
	}

	if cfg.NeedsAWS() {
		c, err := aws.NewAWSClients(ctx)
		if err != nil {
			return handlers.HandlerConfig{}, cleanup, fmt.Errorf("failed to init aws clients: %w", err)
		}
		clients = c
	}

	var (
		st  stores
		err error
	)
	switch cfg.Backend {
	case config.BackendAWS:
		st, err = awsStores(ctx, cfg, clients, logger, &closers)
	default:
		st, err = memoryStores(ctx, cfg, logger)
	}
	if err != nil {
		return handlers.HandlerConfig{}, cleanup, err
	}

	publisher, err := newPublisher(cfg, clients, logger, &closers)
	if err != nil {
		return handlers.HandlerConfig{}, cleanup, err
	}

	inv := inventory.NewAuthority(st.products, logger, cfg.StockMaxAttempts)
	cartSvc := carts.NewService(st.carts, inv, st.users, logger)
	orderSvc := orders.NewService(st.orders, inv, cartSvc, st.users, publisher, logger)

	return handlers.HandlerConfig{
		Orders:      orderSvc,
		Carts:       cartSvc,
		Inventory:   inv,
		Idempotency: st.idempotency,
		Logger:      logger,
	}, cleanup, nil
}

func memoryStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (stores, error) {
	data, err := loadSeed(cfg)
	if err != nil {
		return stores{}, err
	}

	products := inventory.NewMemoryStore()
	dir := users.NewMemoryDirectory()
	if err := data.Apply(ctx, products, dir); err != nil {
		return stores{}, err
	}
	logger.Info("memory backend seeded",
		zap.Int("products", len(data.Products)),
		zap.Int("users", len(data.Users)),
	)

	return stores{
		products:    products,
		users:       dir,
		carts:       carts.NewMemoryStore(),
		orders:      orders.NewMemoryStore(),
		idempotency: idempotency.NewMemoryStore(cfg.IdempotencyTTL),
	}, nil
}

func awsStores(ctx context.Context, cfg *config.Config, clients *aws.AWSClients, logger *zap.Logger, closers *[]func() error) (stores, error) {
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	*closers = append(*closers, rdb.Close)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return stores{}, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
	}

	products := inventory.NewDynamoStore(clients.DynamoDB, cfg.ProductsTable)
	if cfg.SeedFile != "" {
		data, err := seed.LoadFile(cfg.SeedFile)
		if err != nil {
			return stores{}, err
		}
		// users live in their own table; only the catalog is seeded here
		if err := data.Apply(ctx, products, nil); err != nil {
			return stores{}, err
		}
		logger.Info("products table seeded", zap.Int("products", len(data.Products)))
	}

	return stores{
		products:    products,
		users:       users.NewDynamoDirectory(clients.DynamoDB, cfg.UsersTable),
		carts:       carts.NewRedisStore(rdb, cfg.RedisKeyPrefix),
		orders:      orders.NewDynamoStore(clients.DynamoDB, cfg.OrdersTable),
		idempotency: idempotency.NewDynamoStore(clients.DynamoDB, cfg.IdempotencyTable, cfg.IdempotencyTTL),
	}, nil
}

func loadSeed(cfg *config.Config) (*seed.File, error) {
	if cfg.SeedFile != "" {
		return seed.LoadFile(cfg.SeedFile)
	}
	return seed.Default()
}

func newPublisher(cfg *config.Config, clients *aws.AWSClients, logger *zap.Logger, closers *[]func() error) (events.Publisher, error) {
	switch cfg.EventsBackend {
	case config.EventsSQS:
		if clients == nil {
			return nil, errors.New("sqs events need aws clients")
		}
		return aws.NewPublisher(clients.SQS, cfg.QueueURL), nil
	case config.EventsKafka:
		p := kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		*closers = append(*closers, p.Close)
		return p, nil
	default:
		return events.LogPublisher{Logger: logger}, nil
	}
}
