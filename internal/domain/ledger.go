package domain

import "time"

// MovementReason объясняет, почему изменился остаток товара.
type MovementReason string

const (
	// MovementOrderPlaced — списание при оформлении заказа (отрицательная дельта).
	MovementOrderPlaced MovementReason = "order_placed"
	// MovementOrderDeleted — возврат на склад при удалении заказа (положительная дельта).
	MovementOrderDeleted MovementReason = "order_deleted"
)

// StockMovement — запись журнала движения остатков.
type StockMovement struct {
	ID         int64
	ProductID  int64
	OrderID    int64
	Delta      int32
	Reason     MovementReason
	OccurredAt time.Time
}

// PlacementMovements строит списания по позициям заказа, по одной записи на позицию.
func PlacementMovements(order Order, at time.Time) []StockMovement {
	movements := make([]StockMovement, 0, len(order.Items))
	for _, item := range order.Items {
		movements = append(movements, StockMovement{
			ProductID:  item.ProductID,
			OrderID:    order.ID,
			Delta:      -item.Quantity,
			Reason:     MovementOrderPlaced,
			OccurredAt: at,
		})
	}
	return movements
}

// RestockMovements строит возвраты на склад для удаляемого заказа.
func RestockMovements(order Order, at time.Time) []StockMovement {
	movements := make([]StockMovement, 0, len(order.Items))
	for _, item := range order.Items {
		movements = append(movements, StockMovement{
			ProductID:  item.ProductID,
			OrderID:    order.ID,
			Delta:      item.Quantity,
			Reason:     MovementOrderDeleted,
			OccurredAt: at,
		})
	}
	return movements
}
