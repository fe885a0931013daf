package orders

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/stockoms/internal/domain"
)

// OrderView — заказ в том виде, в каком его видит клиент.
type OrderView struct {
	ID              int64           `json:"id"`
	CustomerName    string          `json:"customerName"`
	CustomerEmail   string          `json:"customerEmail"`
	ShippingAddress string          `json:"shippingAddress"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	Status          string          `json:"status"`
	OrderDate       time.Time       `json:"orderDate"`
	ShippedDate     *time.Time      `json:"shippedDate"`
	DeliveredDate   *time.Time      `json:"deliveredDate"`
	Items           []OrderItemView `json:"orderItems"`
}

// OrderItemView — позиция заказа с текущим названием товара и ценой на момент покупки.
type OrderItemView struct {
	ID          int64           `json:"id"`
	ProductID   int64           `json:"productId"`
	ProductName string          `json:"productName"`
	Quantity    int32           `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	TotalPrice  decimal.Decimal `json:"totalPrice"`
}

// ProjectOrder собирает представление заказа.
// Название берётся из текущего каталога, цены — из снимка в позиции.
func ProjectOrder(order domain.Order, products map[int64]domain.Product) OrderView {
	view := OrderView{
		ID:              order.ID,
		CustomerName:    order.CustomerName,
		CustomerEmail:   order.CustomerEmail,
		ShippingAddress: order.ShippingAddress,
		TotalAmount:     order.TotalAmount,
		Status:          order.Status.String(),
		OrderDate:       order.OrderDate,
		ShippedDate:     order.ShippedDate,
		DeliveredDate:   order.DeliveredDate,
		Items:           make([]OrderItemView, 0, len(order.Items)),
	}
	for _, item := range order.Items {
		view.Items = append(view.Items, OrderItemView{
			ID:          item.ID,
			ProductID:   item.ProductID,
			ProductName: products[item.ProductID].Name,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			TotalPrice:  item.TotalPrice,
		})
	}
	return view
}

// Query читает заказы на согласованном снимке.
type Query struct {
	tx domain.TxManager
}

// NewQuery создаёт сервис чтения заказов.
func NewQuery(tx domain.TxManager) *Query {
	return &Query{tx: tx}
}

// GetOrder возвращает заказ по id; found=false, если его нет.
func (q *Query) GetOrder(ctx context.Context, id int64) (OrderView, bool, error) {
	var (
		view  OrderView
		found bool
	)
	err := q.tx.InReadTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		order, err := tx.Orders().FetchOrderWithItems(ctx, id)
		if errors.Is(err, domain.ErrOrderNotFound) {
			return nil
		}
		if err != nil {
			return domain.NewStoreError("fetch order", err)
		}

		products, err := tx.Products().FetchProductsByIDs(ctx, order.ProductIDs())
		if err != nil {
			return domain.NewStoreError("fetch products", err)
		}
		view = ProjectOrder(order, domain.ProductIndex(products))
		found = true
		return nil
	})
	if err != nil {
		return OrderView{}, false, domain.NewStoreError("get order", err)
	}
	return view, found, nil
}

// ListOrders возвращает все заказы: сначала новые, при равной дате — больший id.
// Пустой результат — пустой срез, не nil.
func (q *Query) ListOrders(ctx context.Context) ([]OrderView, error) {
	views := make([]OrderView, 0)
	err := q.tx.InReadTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		list, err := tx.Orders().ListOrdersWithItems(ctx)
		if err != nil {
			return domain.NewStoreError("list orders", err)
		}

		var ids []int64
		for i := range list {
			ids = append(ids, list[i].ProductIDs()...)
		}
		products, err := tx.Products().FetchProductsByIDs(ctx, domain.DistinctProductIDs(ids, func(id int64) int64 { return id }))
		if err != nil {
			return domain.NewStoreError("fetch products", err)
		}

		index := domain.ProductIndex(products)
		for _, order := range list {
			views = append(views, ProjectOrder(order, index))
		}
		return nil
	})
	if err != nil {
		return nil, domain.NewStoreError("list orders", err)
	}
	return views, nil
}
