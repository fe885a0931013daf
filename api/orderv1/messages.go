// Package orderv1 описывает API orders.v1.OrderService.
//
// Сообщения — обычные Go-структуры, которые передаются кодеком json
// (см. codec.go); клиент и сервер выбирают его через content-subtype.
package orderv1

// OrderItem — позиция заказа в ответах API. Денежные суммы — строки с двумя знаками.
type OrderItem struct {
	ID          int64  `json:"id"`
	ProductID   int64  `json:"productId"`
	ProductName string `json:"productName"`
	Quantity    int32  `json:"quantity"`
	UnitPrice   string `json:"unitPrice"`
	TotalPrice  string `json:"totalPrice"`
}

// Order — заказ в ответах API. Даты в RFC 3339, пустая строка — даты нет.
type Order struct {
	ID              int64        `json:"id"`
	CustomerName    string       `json:"customerName"`
	CustomerEmail   string       `json:"customerEmail"`
	ShippingAddress string       `json:"shippingAddress"`
	TotalAmount     string       `json:"totalAmount"`
	Status          string       `json:"status"`
	OrderDate       string       `json:"orderDate"`
	ShippedDate     string       `json:"shippedDate,omitempty"`
	DeliveredDate   string       `json:"deliveredDate,omitempty"`
	Items           []*OrderItem `json:"orderItems"`
}

// CreateOrderItem — запрошенная позиция.
type CreateOrderItem struct {
	ProductID int64 `json:"productId"`
	Quantity  int32 `json:"quantity"`
}

type CreateOrderRequest struct {
	CustomerName    string             `json:"customerName"`
	CustomerEmail   string             `json:"customerEmail"`
	ShippingAddress string             `json:"shippingAddress"`
	Items           []*CreateOrderItem `json:"orderItems"`
}

type CreateOrderResponse struct {
	Order *Order `json:"order"`
}

type GetOrderRequest struct {
	OrderID int64 `json:"orderId"`
}

type GetOrderResponse struct {
	Order *Order `json:"order"`
}

type ListOrdersRequest struct{}

type ListOrdersResponse struct {
	Orders []*Order `json:"orders"`
}

type DeleteOrderRequest struct {
	OrderID int64 `json:"orderId"`
}

type DeleteOrderResponse struct {
	OrderID int64 `json:"orderId"`
	Deleted bool  `json:"deleted"`
}

type UpdateOrderStatusRequest struct {
	OrderID int64  `json:"orderId"`
	Status  string `json:"status"`
}

type UpdateOrderStatusResponse struct {
	Order *Order `json:"order"`
}

func (x *GetOrderRequest) GetOrderID() int64 {
	if x != nil {
		return x.OrderID
	}
	return 0
}

func (x *DeleteOrderRequest) GetOrderID() int64 {
	if x != nil {
		return x.OrderID
	}
	return 0
}

func (x *UpdateOrderStatusRequest) GetOrderID() int64 {
	if x != nil {
		return x.OrderID
	}
	return 0
}

func (x *UpdateOrderStatusRequest) GetStatus() string {
	if x != nil {
		return x.Status
	}
	return ""
}

func (x *CreateOrderResponse) GetOrder() *Order {
	if x != nil {
		return x.Order
	}
	return nil
}

func (x *GetOrderResponse) GetOrder() *Order {
	if x != nil {
		return x.Order
	}
	return nil
}

func (x *UpdateOrderStatusResponse) GetOrder() *Order {
	if x != nil {
		return x.Order
	}
	return nil
}

func (x *Order) GetID() int64 {
	if x != nil {
		return x.ID
	}
	return 0
}

func (x *Order) GetItems() []*OrderItem {
	if x != nil {
		return x.Items
	}
	return nil
}
