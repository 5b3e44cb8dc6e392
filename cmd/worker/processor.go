package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/events"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-shop-orderflow/internal/aws"
	orderevents "github.com/imrishuroy/go-shop-orderflow/internal/events"
)

var errUnknownEvent = errors.New("unknown event type")

// metricsEmitter is satisfied by *aws.MetricsEmitter.
type metricsEmitter interface {
	Emit(ctx context.Context, metrics []aws.Metric) error
}

// Processor turns order events delivered by SQS into CloudWatch metrics.
type Processor struct {
	emitter metricsEmitter
	logger  *zap.Logger
	nowFunc func() time.Time
}

// NewProcessor creates a new worker processor.
func NewProcessor(emitter metricsEmitter, logger *zap.Logger) *Processor {
	return &Processor{
		emitter: emitter,
		logger:  logger,
		nowFunc: time.Now,
	}
}

// Handle receives an SQS batch. Messages that cannot be decoded are reported
// as batch item failures so SQS redrives only them; an emit failure fails the
// whole batch.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	totals := newBatchTotals()

	for _, rec := range ev.Records {
		if err := p.processMessage(rec, totals); err != nil {
			p.logger.Warn("skipping message",
				zap.String("message_id", rec.MessageId),
				zap.Error(err),
			)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}

	metrics := p.metrics(totals)
	if len(metrics) == 0 {
		return resp, nil
	}
	if err := p.emitter.Emit(ctx, metrics); err != nil {
		// Return error: Lambda will retry the batch.
		return events.SQSEventResponse{}, fmt.Errorf("emit metrics: %w", err)
	}
	p.logger.Info("batch processed",
		zap.Int("messages", len(ev.Records)),
		zap.Int("failed", len(resp.BatchItemFailures)),
		zap.Int("placed", totals.placed),
		zap.Int("cancelled", totals.cancelled),
	)
	return resp, nil
}

func (p *Processor) processMessage(rec events.SQSMessage, totals *batchTotals) error {
	var ev orderevents.OrderEvent
	if err := json.Unmarshal([]byte(rec.Body), &ev); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}
	if ev.OrderID == "" {
		return errors.New("event without order id")
	}
	if err := totals.add(ev); err != nil {
		return fmt.Errorf("order %s: %w", ev.OrderID, err)
	}
	return nil
}

func (p *Processor) metrics(t *batchTotals) []aws.Metric {
	now := p.nowFunc().UTC()
	var out []aws.Metric
	count := func(name string, v int, dims map[string]string) {
		out = append(out, aws.Metric{Name: name, Value: float64(v), Unit: cwtypes.StandardUnitCount, Dimensions: dims, Timestamp: now})
	}

	if t.placed > 0 {
		count(MetricOrdersPlaced, t.placed, nil)
		count(MetricUnitsReserved, t.unitsReserved, nil)
		revenue, _ := t.revenue.Float64()
		out = append(out, aws.Metric{Name: MetricRevenue, Value: revenue, Unit: cwtypes.StandardUnitNone, Timestamp: now})
	}
	if t.cancelled > 0 {
		count(MetricOrdersCancelled, t.cancelled, nil)
		count(MetricUnitsReleased, t.unitsReleased, nil)
	}
	for status, n := range t.transitions {
		count(MetricOrderStatusChanged, n, map[string]string{"Status": status})
	}
	return out
}

// logEmitter writes metrics to the log. Used when running locally.
type logEmitter struct {
	logger *zap.Logger
}

func (e logEmitter) Emit(_ context.Context, metrics []aws.Metric) error {
	for _, m := range metrics {
		e.logger.Info("metric",
			zap.String("name", m.Name),
			zap.Float64("value", m.Value),
			zap.Any("dimensions", m.Dimensions),
		)
	}
	return nil
}
