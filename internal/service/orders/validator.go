package orders

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/vladislavdragonenkov/stockoms/internal/domain"
)

// CreateOrderRequest — входные данные для оформления заказа.
type CreateOrderRequest struct {
	CustomerName    string
	CustomerEmail   string
	ShippingAddress string
	Items           []OrderItemRequest
}

// OrderItemRequest — запрошенная позиция. Один товар может встречаться несколько раз.
type OrderItemRequest struct {
	ProductID int64
	Quantity  int32
}

// Поля запроса в ValidationError.Field.
const (
	FieldCustomerName    = "customer_name"
	FieldCustomerEmail   = "customer_email"
	FieldShippingAddress = "shipping_address"
	FieldItems           = "items"
	FieldQuantity        = "quantity"
	FieldStatus          = "status"
)

type textRule struct {
	field  string
	label  string
	value  *string
	maxLen int
}

// Validate проверяет запрос и возвращает его копию с обрезанными пробелами.
// Проверки идут в фиксированном порядке, возвращается первое нарушение.
func Validate(req CreateOrderRequest) (CreateOrderRequest, error) {
	out := req
	out.Items = append([]OrderItemRequest(nil), req.Items...)

	rules := []textRule{
		{field: FieldCustomerName, label: "customer name", value: &out.CustomerName, maxLen: domain.MaxCustomerNameLen},
		{field: FieldCustomerEmail, label: "customer email", value: &out.CustomerEmail, maxLen: domain.MaxCustomerEmailLen},
		{field: FieldShippingAddress, label: "shipping address", value: &out.ShippingAddress, maxLen: domain.MaxShippingAddressLen},
	}
	for _, rule := range rules {
		*rule.value = strings.TrimSpace(*rule.value)
		if *rule.value == "" {
			return CreateOrderRequest{}, &domain.ValidationError{
				Field:  rule.field,
				Reason: rule.label + " must not be empty",
			}
		}
		if utf8.RuneCountInString(*rule.value) > rule.maxLen {
			return CreateOrderRequest{}, &domain.ValidationError{
				Field:  rule.field,
				Reason: fmt.Sprintf("%s must be at most %d characters", rule.label, rule.maxLen),
			}
		}
	}

	if len(out.Items) == 0 {
		return CreateOrderRequest{}, &domain.ValidationError{
			Field:  FieldItems,
			Reason: "order must contain at least one item",
		}
	}

	for _, item := range out.Items {
		if item.Quantity <= 0 {
			return CreateOrderRequest{}, &domain.ValidationError{
				Field:     FieldQuantity,
				ProductID: item.ProductID,
				Reason:    "quantity must be greater than zero",
			}
		}
	}

	return out, nil
}
