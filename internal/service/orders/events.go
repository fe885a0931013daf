package orders

import (
	"strconv"

	jsoniter "github.com/json-iterator/go"

	"github.com/vladislavdragonenkov/stockoms/internal/domain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// newOrderEvent сериализует payload события заказа в сообщение outbox.
func newOrderEvent(eventType string, orderID int64, payload any) (domain.OutboxMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.OutboxMessage{}, err
	}
	return domain.OutboxMessage{
		AggregateType: domain.AggregateTypeOrder,
		AggregateID:   strconv.FormatInt(orderID, 10),
		EventType:     eventType,
		Payload:       body,
	}, nil
}
