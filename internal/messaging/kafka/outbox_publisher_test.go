package kafka

import (
	"context"
	"fmt"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	"github.com/vladislavdragonenkov/stockoms/internal/domain"
)

func TestOutboxPublisher_Publish(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		env, err := DecodeEnvelope(val)
		if err != nil {
			return err
		}
		if env.ID != "outbox-1" || env.AggregateID != "42" || env.EventType != domain.EventOrderCreated {
			return fmt.Errorf("unexpected envelope %+v", env)
		}
		if env.PublishedAt.IsZero() {
			return fmt.Errorf("published_at is not set")
		}
		return nil
	})

	publisher := NewOutboxPublisher(NewProducerWithClient(mockProducer, testLogger()), "")
	if publisher.topic != TopicOrderEvents {
		t.Fatalf("expected default topic %s, got %s", TopicOrderEvents, publisher.topic)
	}

	err := publisher.Publish(context.Background(), domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: domain.AggregateTypeOrder,
		AggregateID:   "42",
		EventType:     domain.EventOrderCreated,
		Payload:       []byte(`{"order_id":42,"status":"Pending"}`),
	})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxPublisher_PublishProducerError(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	publisher := NewOutboxPublisher(NewProducerWithClient(mockProducer, testLogger()), TopicDeadLetterQueue)
	err := publisher.Publish(context.Background(), domain.OutboxMessage{
		ID:            "outbox-2",
		AggregateType: domain.AggregateTypeOrder,
		AggregateID:   "43",
		EventType:     domain.EventOrderDeleted,
		Payload:       []byte(`{"order_id":43}`),
	})
	if err == nil {
		t.Fatal("expected publish error, got nil")
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxPublisher_PublishCanceledContext(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	publisher := NewOutboxPublisher(NewProducerWithClient(mockProducer, testLogger()), TopicOrderEvents)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := publisher.Publish(ctx, domain.OutboxMessage{ID: "outbox-4"}); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxPublisher_PublishNilProducer(t *testing.T) {
	t.Parallel()

	publisher := NewOutboxPublisher(nil, TopicOrderEvents)
	if err := publisher.Publish(context.Background(), domain.OutboxMessage{ID: "outbox-3"}); err == nil {
		t.Fatal("expected error for nil producer")
	}
}
