package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/shopspring/decimal"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/wagnerwagner/merx/internal/domain"
	"github.com/wagnerwagner/merx/internal/services"
)

func newTestTopic(t *testing.T, srv *pstest.Server) *pubsub.Topic {
	t.Helper()
	ctx := context.Background()
	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
	})

	topic, err := client.CreateTopic(ctx, "merx-orders")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	t.Cleanup(topic.Stop)
	return topic
}

func TestPubSubOrderPublisherPublishesEvent(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	publisher, err := NewPubSubOrderPublisher(newTestTopic(t, srv))
	if err != nil {
		t.Fatalf("NewPubSubOrderPublisher: %v", err)
	}

	paidAt := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	event := services.OrderEvent{
		Type:          services.OrderEventPaid,
		OrderID:       "01HORDER",
		Number:        "M-00042",
		PaymentMethod: "stripe",
		Totals:        domain.OrderTotals{Price: decimal.RequireFromString("99.99"), Currency: "EUR"},
		PaidAt:        &paidAt,
		OccurredAt:    paidAt,
	}

	if _, err := publisher.PublishOrderEvent(ctx, event); err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload services.OrderEvent
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.OrderID != event.OrderID || payload.Number != event.Number || !payload.Totals.Price.Equal(event.Totals.Price) {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if payload.PaidAt == nil || !payload.PaidAt.Equal(paidAt) {
		t.Fatalf("expected paidAt %v, got %v", paidAt, payload.PaidAt)
	}
	if attr := messages[0].Attributes["type"]; attr != services.OrderEventPaid {
		t.Fatalf("expected type attribute, got %q", attr)
	}
	if attr := messages[0].Attributes["orderId"]; attr != "01HORDER" {
		t.Fatalf("expected order id attribute, got %q", attr)
	}
}

func TestPubSubOrderPublisherOmitsEmptyAttributes(t *testing.T) {
	srv := pstest.NewServer()
	defer srv.Close()

	publisher, err := NewPubSubOrderPublisher(newTestTopic(t, srv))
	if err != nil {
		t.Fatalf("NewPubSubOrderPublisher: %v", err)
	}
	if _, err := publisher.PublishOrderEvent(context.Background(), services.OrderEvent{Type: services.OrderEventCreated, OrderID: "o1"}); err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}
	attrs := srv.Messages()[0].Attributes
	if _, ok := attrs["number"]; ok {
		t.Fatalf("empty number must not become an attribute")
	}
}

func TestNewPubSubOrderPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubOrderPublisher(nil); err == nil {
		t.Fatal("expected error for nil topic")
	}
	var publisher *PubSubOrderPublisher
	if _, err := publisher.PublishOrderEvent(context.Background(), services.OrderEvent{}); err == nil {
		t.Fatal("expected error for nil publisher")
	}
}
