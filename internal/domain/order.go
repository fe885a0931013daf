package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа. Нулевое значение не является статусом.
type OrderStatus uint8

const (
	// OrderStatusPending — заказ создан, товар списан со склада.
	OrderStatusPending OrderStatus = iota + 1
	// OrderStatusShipped — заказ передан в доставку.
	OrderStatusShipped
	// OrderStatusDelivered — заказ доставлен покупателю.
	OrderStatusDelivered
	// OrderStatusCancelled — заказ отменён до отгрузки.
	OrderStatusCancelled
)

var orderStatusNames = map[OrderStatus]string{
	OrderStatusPending:   "Pending",
	OrderStatusShipped:   "Shipped",
	OrderStatusDelivered: "Delivered",
	OrderStatusCancelled: "Cancelled",
}

// String возвращает каноничное имя статуса.
func (s OrderStatus) String() string {
	if name, ok := orderStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("OrderStatus(%d)", uint8(s))
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	_, ok := orderStatusNames[s]
	return ok
}

// CanTransitionTo описывает допустимые переходы статусов.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	switch s {
	case OrderStatusPending:
		return next == OrderStatusShipped || next == OrderStatusCancelled
	case OrderStatusShipped:
		return next == OrderStatusDelivered
	default:
		return false
	}
}

// ParseOrderStatus разбирает имя статуса без учёта регистра.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	value := strings.TrimSpace(raw)
	for status, name := range orderStatusNames {
		if strings.EqualFold(name, value) {
			return status, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrOrderStatusUnknown, raw)
}

const (
	// MaxCustomerNameLen ограничивает длину имени покупателя.
	MaxCustomerNameLen = 200
	// MaxCustomerEmailLen ограничивает длину email.
	MaxCustomerEmailLen = 200
	// MaxShippingAddressLen ограничивает длину адреса доставки.
	MaxShippingAddressLen = 500
)

// OrderItem — позиция заказа со снимком цены на момент оформления.
type OrderItem struct {
	ID        int64
	OrderID   int64
	ProductID int64
	Quantity  int32
	// UnitPrice фиксируется при создании и не меняется вслед за ценой товара.
	UnitPrice  decimal.Decimal
	TotalPrice decimal.Decimal
}

// Order агрегирует заказ и его позиции.
type Order struct {
	ID              int64
	CustomerName    string
	CustomerEmail   string
	ShippingAddress string
	TotalAmount     decimal.Decimal
	Status          OrderStatus
	OrderDate       time.Time
	ShippedDate     *time.Time
	DeliveredDate   *time.Time
	Items           []OrderItem
}

// ProductIDs возвращает идентификаторы товаров заказа без повторов, в порядке появления.
func (o *Order) ProductIDs() []int64 {
	return DistinctProductIDs(o.Items, func(item OrderItem) int64 { return item.ProductID })
}

// DistinctProductIDs собирает уникальные идентификаторы в порядке первого появления.
func DistinctProductIDs[T any](items []T, id func(T) int64) []int64 {
	seen := make(map[int64]struct{}, len(items))
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		pid := id(item)
		if _, ok := seen[pid]; ok {
			continue
		}
		seen[pid] = struct{}{}
		ids = append(ids, pid)
	}
	return ids
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.Status != 0 && !o.Status.Valid() {
		errs = append(errs, ErrOrderStatusUnknown)
	}

	// Сумма заказа обязана совпадать с суммой позиций, а каждая позиция — с price * qty.
	calc := decimal.Zero
	for _, item := range o.Items {
		if item.Quantity <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.UnitPrice.IsNegative() {
			errs = append(errs, ErrItemPriceInvalid)
		}
		if !item.TotalPrice.Equal(LineTotal(item.UnitPrice, item.Quantity)) {
			errs = append(errs, ErrItemTotalMismatch)
		}
		calc = calc.Add(item.TotalPrice)
	}
	if !calc.Equal(o.TotalAmount) {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}
