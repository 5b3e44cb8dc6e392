package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/imrishuroy/go-shop-orderflow/internal/events"
)

type fakeWriter struct {
	msgs   []kafkago.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := &Publisher{writer: w, topic: "orders"}
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	err := p.Publish(context.Background(), events.OrderEvent{
		Type:       events.TypeOrderPlaced,
		OrderID:    "o1",
		UserID:     "u1",
		Status:     "PROCESSING",
		Lines:      []events.Line{{ProductID: "p1", Quantity: 2, UnitPrice: "9.99"}},
		TotalPrice: "19.98",
		OccurredAt: at,
	})
	if err != nil {
		t.Fatalf("Publish error: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "o1" {
		t.Fatalf("expected key o1, got %q", msg.Key)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != "OrderPlaced" {
		t.Fatalf("unexpected headers: %+v", msg.Headers)
	}
	var got events.OrderEvent
	if err := json.Unmarshal(msg.Value, &got); err != nil {
		t.Fatalf("decode value: %v", err)
	}
	if got.TotalPrice != "19.98" || len(got.Lines) != 1 || got.Lines[0].Quantity != 2 {
		t.Fatalf("unexpected payload: %+v", got)
	}
	if !msg.Time.Equal(at) {
		t.Fatalf("expected message time %s, got %s", at, msg.Time)
	}

	if err := p.Close(); err != nil || !w.closed {
		t.Fatalf("expected writer closed, err=%v", err)
	}
}

func TestPublisher_WriteError(t *testing.T) {
	boom := errors.New("broker down")
	p := &Publisher{writer: &fakeWriter{err: boom}, topic: "orders"}

	err := p.Publish(context.Background(), events.OrderEvent{Type: events.TypeOrderCancelled, OrderID: "o1"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped broker error, got %v", err)
	}
}
