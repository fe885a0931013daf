package domain

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrValidation — запрос на создание заказа не прошёл проверку.
	ErrValidation = errors.New("validation failed")
	// ErrProductNotFound — в запросе есть товар, которого нет в каталоге.
	ErrProductNotFound = errors.New("product not found")
	// ErrInsufficientStock — на складе меньше единиц, чем запрошено.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrStore — ошибка хранилища (соединение, ограничения, commit).
	ErrStore = errors.New("store error")
	// ErrTxConflict — конфликт сериализации или deadlock, запрос можно повторить.
	ErrTxConflict = errors.New("transaction conflict")

	// ErrOrderNotFound возвращается, если заказ не найден в хранилище.
	ErrOrderNotFound = errors.New("order not found")
	// ErrProductInUse — товар нельзя удалить, пока на него ссылаются позиции заказов.
	ErrProductInUse = errors.New("product is referenced by orders")
	// ErrInvalidStatusTransition — запрошенный переход статуса не разрешён.
	ErrInvalidStatusTransition = errors.New("invalid order status transition")
	// ErrOrderStatusUnknown — неизвестное имя или значение статуса.
	ErrOrderStatusUnknown = errors.New("unknown order status")

	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item quantity must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка несоответствия стоимости позиции и price * qty.
	ErrItemTotalMismatch = errors.New("item total does not match unit price times quantity")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrAmountMismatch = errors.New("order total does not match items sum")

	// Ошибки валидации товара каталога.
	ErrProductNameRequired       = errors.New("product name is required")
	ErrProductNameTooLong        = errors.New("product name is too long")
	ErrProductDescriptionTooLong = errors.New("product description is too long")
	ErrProductPriceInvalid       = errors.New("product price must be a non-negative amount with at most two decimals")
	ErrProductStockNegative      = errors.New("product stock must be non-negative")

	// ErrIdempotencyKeyAlreadyExists — ключ уже занят другим запросом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — ключ повторно использован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency request hash mismatch")
	// ErrIdempotencyKeyNotFound — запись по ключу отсутствует.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
	// ErrIdempotencyKeyRequired — пустой ключ.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired — пустой хеш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// ValidationError описывает первое нарушение правил запроса.
type ValidationError struct {
	// Field — поле запроса: customer_name, customer_email, shipping_address, items, quantity.
	Field string
	// ProductID заполнен для ошибок конкретной позиции.
	ProductID int64
	Reason    string
}

func (e *ValidationError) Error() string {
	if e.ProductID != 0 {
		return fmt.Sprintf("%s (product %d)", e.Reason, e.ProductID)
	}
	return e.Reason
}

// Unwrap позволяет проверять ошибку через errors.Is(err, ErrValidation).
func (e *ValidationError) Unwrap() error { return ErrValidation }

// ProductNotFoundError перечисляет отсутствующие в каталоге товары.
type ProductNotFoundError struct {
	ProductIDs []int64
}

func (e *ProductNotFoundError) Error() string {
	ids := make([]string, 0, len(e.ProductIDs))
	for _, id := range e.ProductIDs {
		ids = append(ids, strconv.FormatInt(id, 10))
	}
	return fmt.Sprintf("one or more products were not found: %s", strings.Join(ids, ", "))
}

func (e *ProductNotFoundError) Unwrap() error { return ErrProductNotFound }

// InsufficientStockError описывает первую позицию, которой не хватило остатка.
type InsufficientStockError struct {
	ProductID   int64
	ProductName string
	Available   int32
	Requested   int32
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: available %d, requested %d",
		e.ProductName, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// StoreError оборачивает сбой хранилища с указанием операции.
// Committed отмечает сбой после commit: изменения уже применены.
type StoreError struct {
	Op        string
	Err       error
	Committed bool
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

// Unwrap отдаёт и исходную ошибку, и ErrStore.
func (e *StoreError) Unwrap() []error { return []error{ErrStore, e.Err} }

// NewStoreError оборачивает err, если это ещё не ошибка домена.
func NewStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsDomainError(err) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// IsDomainError сообщает, что ошибка уже классифицирована и не требует обёртки.
func IsDomainError(err error) bool {
	for _, target := range []error{
		ErrValidation, ErrProductNotFound, ErrInsufficientStock, ErrStore, ErrTxConflict,
		ErrOrderNotFound, ErrProductInUse, ErrInvalidStatusTransition,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsRetryable сообщает, что повтор того же запроса может завершиться успехом.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrTxConflict) ||
		errors.Is(err, ErrStore)
}

// IsTransient сообщает, что запрос не оставил следов и его можно выполнить заново с тем же ключом.
func IsTransient(err error) bool {
	var storeErr *StoreError
	if errors.As(err, &storeErr) && storeErr.Committed {
		return false
	}
	return errors.Is(err, ErrTxConflict) ||
		errors.Is(err, ErrStore) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// IsIdempotencyConflict проверяет конфликт по ключу идемпотентности.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
