package memory

import (
	"context"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/stockoms/internal/domain"
)

// memTx — представление рабочей копии состояния внутри транзакции.
type memTx struct {
	state    *state
	readOnly bool
	outbox   []domain.OutboxMessage
}

func (t *memTx) Products() domain.CatalogStore { return catalogView{t} }
func (t *memTx) Orders() domain.OrderStore     { return orderView{t} }
func (t *memTx) Ledger() domain.StockLedger    { return ledgerView{t} }
func (t *memTx) Outbox() domain.OutboxWriter   { return outboxView{t} }

func (t *memTx) checkWritable(op string) error {
	if t.readOnly {
		return domain.NewStoreError(op, errReadOnlyTx)
	}
	return nil
}

type catalogView struct{ tx *memTx }

func (v catalogView) FetchProductsByIDs(_ context.Context, ids []int64) ([]domain.Product, error) {
	products := make([]domain.Product, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if p, ok := v.tx.state.products[id]; ok {
			products = append(products, p)
		}
	}
	sort.Slice(products, func(i, j int) bool { return products[i].ID < products[j].ID })
	return products, nil
}

func (v catalogView) UpdateStock(_ context.Context, id int64, quantity int32, updatedAt time.Time) error {
	if err := v.tx.checkWritable("update stock"); err != nil {
		return err
	}
	p, ok := v.tx.state.products[id]
	if !ok {
		return &domain.ProductNotFoundError{ProductIDs: []int64{id}}
	}
	// Аналог CHECK (stock_quantity >= 0) в PostgreSQL.
	if quantity < 0 {
		return domain.NewStoreError("update stock", domain.ErrProductStockNegative)
	}
	p.StockQuantity = quantity
	p.UpdatedAt = updatedAt
	v.tx.state.products[id] = p
	return nil
}

func (v catalogView) ListProducts(context.Context) ([]domain.Product, error) {
	products := make([]domain.Product, 0, len(v.tx.state.products))
	for _, p := range v.tx.state.products {
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool { return products[i].ID < products[j].ID })
	return products, nil
}

type orderView struct{ tx *memTx }

func (v orderView) InsertOrderWithItems(_ context.Context, order *domain.Order) error {
	if err := v.tx.checkWritable("insert order"); err != nil {
		return err
	}
	st := v.tx.state
	for _, item := range order.Items {
		if _, ok := st.products[item.ProductID]; !ok {
			return &domain.ProductNotFoundError{ProductIDs: []int64{item.ProductID}}
		}
	}

	st.nextOrderID++
	order.ID = st.nextOrderID
	items := make([]domain.OrderItem, len(order.Items))
	for i, item := range order.Items {
		st.nextItemID++
		item.ID = st.nextItemID
		item.OrderID = order.ID
		items[i] = item
	}
	order.Items = items

	st.orders[order.ID] = cloneOrder(*order)
	return nil
}

func (v orderView) FetchOrderWithItems(_ context.Context, id int64) (domain.Order, error) {
	order, ok := v.tx.state.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

func (v orderView) ListOrdersWithItems(context.Context) ([]domain.Order, error) {
	result := make([]domain.Order, 0, len(v.tx.state.orders))
	for _, order := range v.tx.state.orders {
		result = append(result, cloneOrder(order))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].OrderDate.Equal(result[j].OrderDate) {
			return result[i].OrderDate.After(result[j].OrderDate)
		}
		return result[i].ID > result[j].ID
	})

	return result, nil
}

func (v orderView) DeleteOrderWithItems(_ context.Context, id int64) error {
	if err := v.tx.checkWritable("delete order"); err != nil {
		return err
	}
	if _, ok := v.tx.state.orders[id]; !ok {
		return domain.ErrOrderNotFound
	}
	delete(v.tx.state.orders, id)
	return nil
}

func (v orderView) UpdateStatus(_ context.Context, id int64, status domain.OrderStatus, at time.Time) error {
	if err := v.tx.checkWritable("update order status"); err != nil {
		return err
	}
	order, ok := v.tx.state.orders[id]
	if !ok {
		return domain.ErrOrderNotFound
	}
	order.Status = status
	switch status {
	case domain.OrderStatusShipped:
		shipped := at
		order.ShippedDate = &shipped
	case domain.OrderStatusDelivered:
		delivered := at
		order.DeliveredDate = &delivered
	}
	v.tx.state.orders[id] = order
	return nil
}

type ledgerView struct{ tx *memTx }

func (v ledgerView) Append(_ context.Context, movements ...domain.StockMovement) error {
	if err := v.tx.checkWritable("append stock movements"); err != nil {
		return err
	}
	st := v.tx.state
	for _, m := range movements {
		st.nextMovementID++
		m.ID = st.nextMovementID
		if m.OccurredAt.IsZero() {
			m.OccurredAt = time.Now().UTC()
		}
		st.movements = append(st.movements, m)
	}
	return nil
}

// ListByProduct возвращает движения товара в хронологическом порядке.
func (v ledgerView) ListByProduct(_ context.Context, productID int64) ([]domain.StockMovement, error) {
	result := make([]domain.StockMovement, 0)
	for _, m := range v.tx.state.movements {
		if m.ProductID == productID {
			result = append(result, m)
		}
	}
	return result, nil
}

func (v ledgerView) ListAll(context.Context) ([]domain.StockMovement, error) {
	return append([]domain.StockMovement(nil), v.tx.state.movements...), nil
}

type outboxView struct{ tx *memTx }

// Enqueue откладывает событие до commit; при rollback оно пропадает вместе с транзакцией.
func (v outboxView) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if err := v.tx.checkWritable("enqueue outbox message"); err != nil {
		return domain.OutboxMessage{}, err
	}
	msg = prepareOutboxMessage(msg)
	v.tx.outbox = append(v.tx.outbox, msg)
	return msg, nil
}

func cloneOrder(src domain.Order) domain.Order {
	dst := src
	dst.Items = append([]domain.OrderItem(nil), src.Items...)
	if src.ShippedDate != nil {
		shipped := *src.ShippedDate
		dst.ShippedDate = &shipped
	}
	if src.DeliveredDate != nil {
		delivered := *src.DeliveredDate
		dst.DeliveredDate = &delivered
	}
	return dst
}

var _ domain.Tx = (*memTx)(nil)
