package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/imrishuroy/go-shop-orderflow/internal/events"
)

// Publisher wraps an SQS client and a queue URL. For FIFO queues (URL ending
// in ".fifo") events of one order share a message group.
type Publisher struct {
	SQS      SQSAPI
	QueueURL string
}

// NewPublisher returns a Publisher bound to a queue URL.
func NewPublisher(sqsClient SQSAPI, queueURL string) *Publisher {
	return &Publisher{
		SQS:      sqsClient,
		QueueURL: queueURL,
	}
}

// Publish sends an order event as a JSON message. The event type and order id
// are copied into message attributes so consumers can filter without decoding.
func (p *Publisher) Publish(ctx context.Context, event events.OrderEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	input := p.messageInput(string(body), map[string]string{
		"event_type": string(event.Type),
		"order_id":   event.OrderID,
	})
	if p.fifo() {
		input.MessageGroupId = AWSString(event.OrderID)
		// An order reaches each status at most once.
		input.MessageDeduplicationId = AWSString(event.OrderID + ":" + string(event.Type) + ":" + event.Status)
	}
	return p.send(ctx, input)
}

func (p *Publisher) fifo() bool { return strings.HasSuffix(p.QueueURL, ".fifo") }

// messageInput builds the request; attributes are sent as String
// MessageAttributes, empty values are skipped.
func (p *Publisher) messageInput(messageBody string, attributes map[string]string) *sqs.SendMessageInput {
	input := &sqs.SendMessageInput{
		QueueUrl:    &p.QueueURL,
		MessageBody: &messageBody,
	}
	if len(attributes) > 0 {
		msgAttrs := map[string]sqstypes.MessageAttributeValue{}
		for k, v := range attributes {
			if v == "" {
				continue
			}
			msgAttrs[k] = sqstypes.MessageAttributeValue{
				DataType:    AWSString("String"),
				StringValue: AWSString(v),
			}
		}
		input.MessageAttributes = msgAttrs
	}
	return input
}

func (p *Publisher) send(ctx context.Context, input *sqs.SendMessageInput) error {
	_, err := p.SQS.SendMessage(ctx, input)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}
