package app

import (
	"context"
	"io"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockoms/internal/domain"
	"github.com/vladislavdragonenkov/stockoms/internal/messaging/kafka"
)

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger.WithField("test", "kafka")
}

func TestInitKafkaProducer_EmptyBrokers(t *testing.T) {
	producer, err := initKafkaProducer(nil, "stockoms", quietLogger())
	if err != nil {
		t.Errorf("expected no error for empty brokers, got %v", err)
	}
	if producer != nil {
		t.Error("expected nil producer for empty brokers")
	}
}

func TestInitKafkaProducer_UnreachableBrokers(t *testing.T) {
	producer, err := initKafkaProducer([]string{"127.0.0.1:1"}, "stockoms", quietLogger())
	if err == nil {
		t.Error("expected error for unreachable brokers")
	}
	if producer != nil {
		t.Error("expected nil producer on error")
	}
}

func TestCloseKafka_NilProducer(_ *testing.T) {
	closeKafka(nil, quietLogger())
}

func TestOutboxPublishers_WithoutKafkaUseLog(t *testing.T) {
	publisher, dlq := outboxPublishers(DefaultConfig(), nil, quietLogger())

	if _, ok := publisher.(logPublisher); !ok {
		t.Fatalf("expected log publisher, got %T", publisher)
	}
	if _, ok := dlq.(logPublisher); !ok {
		t.Fatalf("expected log dlq publisher, got %T", dlq)
	}

	event := domain.OutboxMessage{ID: "evt-1", EventType: domain.EventOrderCreated, AggregateID: "1"}
	if err := publisher.Publish(context.Background(), event); err != nil {
		t.Fatalf("log publisher must accept events: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := publisher.Publish(ctx, event); err == nil {
		t.Fatal("expected error for canceled context")
	}
}

func TestOutboxPublishers_RouteToConfiguredTopics(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KafkaTopic = "orders.events"
	cfg.KafkaDLQTopic = "orders.events.dead"

	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(topicChecker(t, "orders.events"))
	mock.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(topicChecker(t, "orders.events.dead"))

	producer := kafka.NewProducerWithClient(mock, quietLogger())
	publisher, dlq := outboxPublishers(cfg, producer, quietLogger())

	event := domain.OutboxMessage{
		ID:            "evt-2",
		AggregateType: domain.AggregateTypeOrder,
		AggregateID:   "7",
		EventType:     domain.EventOrderDeleted,
		Payload:       []byte(`{"order_id":7}`),
	}
	if err := publisher.Publish(context.Background(), event); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := dlq.Publish(context.Background(), event); err != nil {
		t.Fatalf("publish dlq: %v", err)
	}

	closeKafka(producer, quietLogger())
}

func topicChecker(t *testing.T, want string) mocks.MessageChecker {
	t.Helper()
	return func(msg *sarama.ProducerMessage) error {
		if msg.Topic != want {
			t.Errorf("expected topic %s, got %s", want, msg.Topic)
		}
		return nil
	}
}
