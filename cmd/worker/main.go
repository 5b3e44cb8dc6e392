package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-shop-orderflow/internal/aws"
	"github.com/imrishuroy/go-shop-orderflow/internal/config"
	"github.com/imrishuroy/go-shop-orderflow/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.ServiceName+"-worker")
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	// If RUN_LOCAL=true, process a single simulated SQS event and log the metrics.
	if cfg.RunLocal {
		testBody := os.Getenv("LOCAL_SQS_BODY")
		if testBody == "" {
			testBody = `{"type":"OrderPlaced","order_id":"local-order-1","user_id":"user-1","status":"PROCESSING","lines":[{"product_id":"prod-mug","quantity":2,"unit_price":"8.50"}],"total_price":"17.00"}`
		}
		p := NewProcessor(logEmitter{logger: logger}, logger)
		resp, err := p.Handle(context.Background(), events.SQSEvent{
			Records: []events.SQSMessage{{MessageId: "local-1", Body: testBody}},
		})
		if err != nil {
			logger.Fatal("local handler error", zap.Error(err))
		}
		logger.Info("local run finished", zap.Int("failed", len(resp.BatchItemFailures)))
		return
	}

	clients, err := aws.NewAWSClients(context.Background())
	if err != nil {
		logger.Fatal("failed to init aws clients", zap.Error(err))
	}
	p := NewProcessor(aws.NewMetricsEmitter(clients.CloudWatch, cfg.MetricsNamespace), logger)
	lambda.Start(p.Handle)
}
