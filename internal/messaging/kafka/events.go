package kafka

import (
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/vladislavdragonenkov/stockoms/internal/domain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Топики Kafka.
const (
	TopicOrderEvents     = "oms.order.events"
	TopicDeadLetterQueue = "oms.order.events.dlq"
)

// Заголовки сообщений, по которым потребители фильтруют события без разбора тела.
const (
	HeaderEventType     = "x-event-type"
	HeaderAggregateType = "x-aggregate-type"
	HeaderOutboxID      = "x-outbox-id"
)

// Envelope — формат сообщения в топике событий заказов.
type Envelope struct {
	ID            string              `json:"id"`
	AggregateType string              `json:"aggregate_type"`
	AggregateID   string              `json:"aggregate_id"`
	EventType     string              `json:"event_type"`
	Payload       jsoniter.RawMessage `json:"payload"`
	OccurredAt    time.Time           `json:"occurred_at"`
	PublishedAt   time.Time           `json:"published_at"`
}

// NewEnvelope оборачивает сообщение outbox.
func NewEnvelope(msg domain.OutboxMessage, publishedAt time.Time) Envelope {
	payload := jsoniter.RawMessage(msg.Payload)
	if len(payload) == 0 {
		payload = jsoniter.RawMessage("null")
	}
	return Envelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       payload,
		OccurredAt:    msg.CreatedAt.UTC(),
		PublishedAt:   publishedAt.UTC(),
	}
}

// DecodeEnvelope разбирает значение сообщения из топика событий.
func DecodeEnvelope(value []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return Envelope{}, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	if env.EventType == "" {
		return Envelope{}, fmt.Errorf("envelope %q has no event type", env.ID)
	}
	return env, nil
}

// DecodePayload разбирает тело события в v.
func (e Envelope) DecodePayload(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s payload: %w", e.EventType, err)
	}
	return nil
}
