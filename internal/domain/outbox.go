package domain

import "time"

// AggregateTypeOrder — тип агрегата для событий заказа.
const AggregateTypeOrder = "order"

// Типы событий, которые движок пишет в outbox.
const (
	EventOrderCreated       = "order.created"
	EventOrderDeleted       = "order.deleted"
	EventOrderStatusChanged = "order.status_changed"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Attempts      int
	CreatedAt     time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// OrderCreatedPayload — тело события order.created.
type OrderCreatedPayload struct {
	OrderID     int64            `json:"order_id"`
	TotalAmount string           `json:"total_amount"`
	Status      string           `json:"status"`
	OrderDate   time.Time        `json:"order_date"`
	Items       []OrderEventItem `json:"items"`
}

// OrderEventItem — позиция в событиях заказа.
type OrderEventItem struct {
	ProductID int64  `json:"product_id"`
	Quantity  int32  `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

// OrderDeletedPayload — тело события order.deleted.
type OrderDeletedPayload struct {
	OrderID   int64            `json:"order_id"`
	Restocked bool             `json:"restocked"`
	Items     []OrderEventItem `json:"items"`
	DeletedAt time.Time        `json:"deleted_at"`
}

// OrderStatusChangedPayload — тело события order.status_changed.
type OrderStatusChangedPayload struct {
	OrderID   int64     `json:"order_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	ChangedAt time.Time `json:"changed_at"`
}

// EventItems переводит позиции заказа в формат событий.
func EventItems(items []OrderItem) []OrderEventItem {
	out := make([]OrderEventItem, 0, len(items))
	for _, item := range items {
		out = append(out, OrderEventItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.StringFixed(MoneyScale),
		})
	}
	return out
}
