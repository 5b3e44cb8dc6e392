package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// maxDatumsPerCall is the PutMetricData limit on datums per request.
const maxDatumsPerCall = 1000

// Metric is a single CloudWatch sample.
type Metric struct {
	Name       string
	Value      float64
	Unit       cwtypes.StandardUnit
	Dimensions map[string]string
	Timestamp  time.Time
}

// MetricsEmitter writes metrics to one CloudWatch namespace.
type MetricsEmitter struct {
	CloudWatch CloudWatchAPI
	Namespace  string
}

// NewMetricsEmitter returns an emitter for namespace.
func NewMetricsEmitter(cw CloudWatchAPI, namespace string) *MetricsEmitter {
	return &MetricsEmitter{CloudWatch: cw, Namespace: namespace}
}

// Emit sends metrics in batches of at most maxDatumsPerCall.
func (e *MetricsEmitter) Emit(ctx context.Context, metrics []Metric) error {
	for start := 0; start < len(metrics); start += maxDatumsPerCall {
		end := start + maxDatumsPerCall
		if end > len(metrics) {
			end = len(metrics)
		}

		data := make([]cwtypes.MetricDatum, 0, end-start)
		for _, m := range metrics[start:end] {
			m := m
			datum := cwtypes.MetricDatum{
				MetricName: AWSString(m.Name),
				Value:      &m.Value,
				Unit:       m.Unit,
			}
			if !m.Timestamp.IsZero() {
				ts := m.Timestamp
				datum.Timestamp = &ts
			}
			for k, v := range m.Dimensions {
				datum.Dimensions = append(datum.Dimensions, cwtypes.Dimension{Name: AWSString(k), Value: AWSString(v)})
			}
			data = append(data, datum)
		}

		_, err := e.CloudWatch.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  &e.Namespace,
			MetricData: data,
		})
		if err != nil {
			return fmt.Errorf("put metric data: %w", err)
		}
	}
	return nil
}
