package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockoms/internal/domain"
)

// RestockPolicy определяет, возвращается ли товар на склад при удалении заказа.
type RestockPolicy uint8

const (
	// RestockAlways возвращает товар для заказа в любом статусе.
	RestockAlways RestockPolicy = iota
	// RestockUnshipped возвращает товар только для Pending и Cancelled заказов.
	RestockUnshipped
)

// String возвращает имя политики в формате конфигурации.
func (p RestockPolicy) String() string {
	switch p {
	case RestockAlways:
		return "always"
	case RestockUnshipped:
		return "unshipped"
	default:
		return fmt.Sprintf("RestockPolicy(%d)", uint8(p))
	}
}

// ParseRestockPolicy разбирает значение из конфигурации.
func ParseRestockPolicy(raw string) (RestockPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "always":
		return RestockAlways, nil
	case "unshipped":
		return RestockUnshipped, nil
	default:
		return RestockAlways, fmt.Errorf("unknown restock policy %q", raw)
	}
}

func (p RestockPolicy) restocks(status domain.OrderStatus) bool {
	if p == RestockUnshipped {
		return status == domain.OrderStatusPending || status == domain.OrderStatusCancelled
	}
	return true
}

// Engine выполняет изменения заказов и остатков в одной транзакции.
// Повторов при конфликтах не делает: решение о повторе остаётся за вызывающим.
type Engine struct {
	tx      domain.TxManager
	restock RestockPolicy
	now     func() time.Time
	logger  *log.Entry
}

// EngineOption настраивает Engine.
type EngineOption func(*Engine)

// WithRestockPolicy задаёт политику возврата товара при удалении.
func WithRestockPolicy(policy RestockPolicy) EngineOption {
	return func(e *Engine) {
		e.restock = policy
	}
}

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithEngineLogger задаёт логгер движка.
func WithEngineLogger(logger *log.Entry) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine создаёт движок поверх менеджера транзакций.
func NewEngine(tx domain.TxManager, opts ...EngineOption) *Engine {
	e := &Engine{
		tx:      tx,
		restock: RestockAlways,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  log.New().WithField("component", "order-engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RestockPolicy возвращает активную политику возврата товара.
func (e *Engine) RestockPolicy() RestockPolicy {
	return e.restock
}

// Create оформляет провалидированный заказ: проверяет наличие, списывает остатки,
// сохраняет заказ с позициями и возвращает его идентификатор.
func (e *Engine) Create(ctx context.Context, req CreateOrderRequest) (int64, error) {
	var orderID int64

	err := e.tx.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		ids := domain.DistinctProductIDs(req.Items, func(item OrderItemRequest) int64 { return item.ProductID })

		products, err := tx.Products().FetchProductsByIDs(ctx, ids)
		if err != nil {
			return domain.NewStoreError("fetch products", err)
		}
		working := domain.ProductIndex(products)

		var missing []int64
		for _, id := range ids {
			if _, ok := working[id]; !ok {
				missing = append(missing, id)
			}
		}
		if len(missing) > 0 {
			return &domain.ProductNotFoundError{ProductIDs: missing}
		}

		now := e.now()
		order := domain.Order{
			CustomerName:    req.CustomerName,
			CustomerEmail:   req.CustomerEmail,
			ShippingAddress: req.ShippingAddress,
			Status:          domain.OrderStatusPending,
			OrderDate:       now,
			Items:           make([]domain.OrderItem, 0, len(req.Items)),
		}

		// Позиции одного товара делят остаток рабочей копии, поэтому повтор не может уйти в минус.
		total := decimal.Zero
		for _, line := range req.Items {
			product := working[line.ProductID]
			if product.StockQuantity < line.Quantity {
				return &domain.InsufficientStockError{
					ProductID:   product.ID,
					ProductName: product.Name,
					Available:   product.StockQuantity,
					Requested:   line.Quantity,
				}
			}

			lineTotal := domain.LineTotal(product.Price, line.Quantity)
			total = total.Add(lineTotal)
			product.StockQuantity -= line.Quantity
			working[product.ID] = product

			order.Items = append(order.Items, domain.OrderItem{
				ProductID:  product.ID,
				Quantity:   line.Quantity,
				UnitPrice:  product.Price,
				TotalPrice: lineTotal,
			})
		}
		order.TotalAmount = total

		if err := writeStock(ctx, tx, working, ids, now); err != nil {
			return err
		}
		if err := tx.Orders().InsertOrderWithItems(ctx, &order); err != nil {
			return domain.NewStoreError("insert order", err)
		}
		if err := tx.Ledger().Append(ctx, domain.PlacementMovements(order, now)...); err != nil {
			return domain.NewStoreError("append stock movements", err)
		}

		event, err := newOrderEvent(domain.EventOrderCreated, order.ID, domain.OrderCreatedPayload{
			OrderID:     order.ID,
			TotalAmount: order.TotalAmount.StringFixed(domain.MoneyScale),
			Status:      order.Status.String(),
			OrderDate:   order.OrderDate,
			Items:       domain.EventItems(order.Items),
		})
		if err != nil {
			return domain.NewStoreError("encode order.created", err)
		}
		if _, err := tx.Outbox().Enqueue(ctx, event); err != nil {
			return domain.NewStoreError("enqueue order.created", err)
		}

		orderID = order.ID
		return nil
	})
	if err != nil {
		return 0, domain.NewStoreError("create order", err)
	}

	e.logger.WithFields(log.Fields{
		"order_id": orderID,
		"items":    len(req.Items),
	}).Info("order created")
	return orderID, nil
}

// DeleteResult описывает результат удаления заказа.
type DeleteResult struct {
	Found         bool
	Restocked     bool
	RestoredUnits int
}

// Delete удаляет заказ и, согласно политике, возвращает товар на склад.
// Отсутствующий заказ не является ошибкой: Found=false.
func (e *Engine) Delete(ctx context.Context, id int64) (DeleteResult, error) {
	var result DeleteResult

	err := e.tx.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		result = DeleteResult{}

		order, err := tx.Orders().FetchOrderWithItems(ctx, id)
		if errors.Is(err, domain.ErrOrderNotFound) {
			return nil
		}
		if err != nil {
			return domain.NewStoreError("fetch order", err)
		}
		result.Found = true

		now := e.now()
		restock := e.restock.restocks(order.Status)
		if restock {
			ids := order.ProductIDs()
			products, err := tx.Products().FetchProductsByIDs(ctx, ids)
			if err != nil {
				return domain.NewStoreError("fetch products", err)
			}
			working := domain.ProductIndex(products)
			for _, item := range order.Items {
				product, ok := working[item.ProductID]
				if !ok {
					return domain.NewStoreError("restock", fmt.Errorf("product %d referenced by order %d is missing", item.ProductID, order.ID))
				}
				product.StockQuantity += item.Quantity
				working[item.ProductID] = product
				result.RestoredUnits += int(item.Quantity)
			}
			if err := writeStock(ctx, tx, working, ids, now); err != nil {
				return err
			}
		}

		if err := tx.Orders().DeleteOrderWithItems(ctx, order.ID); err != nil {
			return domain.NewStoreError("delete order", err)
		}
		if restock {
			if err := tx.Ledger().Append(ctx, domain.RestockMovements(order, now)...); err != nil {
				return domain.NewStoreError("append stock movements", err)
			}
		}

		event, err := newOrderEvent(domain.EventOrderDeleted, order.ID, domain.OrderDeletedPayload{
			OrderID:   order.ID,
			Restocked: restock,
			Items:     domain.EventItems(order.Items),
			DeletedAt: now,
		})
		if err != nil {
			return domain.NewStoreError("encode order.deleted", err)
		}
		if _, err := tx.Outbox().Enqueue(ctx, event); err != nil {
			return domain.NewStoreError("enqueue order.deleted", err)
		}

		result.Restocked = restock
		return nil
	})
	if err != nil {
		return DeleteResult{}, domain.NewStoreError("delete order", err)
	}

	if result.Found {
		e.logger.WithFields(log.Fields{
			"order_id":       id,
			"restocked":      result.Restocked,
			"restored_units": result.RestoredUnits,
		}).Info("order deleted")
	}
	return result, nil
}

// UpdateStatus переводит заказ в следующий статус и проставляет дату отгрузки или доставки.
func (e *Engine) UpdateStatus(ctx context.Context, id int64, next domain.OrderStatus) error {
	if !next.Valid() {
		return &domain.ValidationError{Field: FieldStatus, Reason: "unknown order status"}
	}

	var previous domain.OrderStatus
	err := e.tx.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		order, err := tx.Orders().FetchOrderWithItems(ctx, id)
		if err != nil {
			return domain.NewStoreError("fetch order", err)
		}
		previous = order.Status
		if !order.Status.CanTransitionTo(next) {
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidStatusTransition, order.Status, next)
		}

		now := e.now()
		if err := tx.Orders().UpdateStatus(ctx, id, next, now); err != nil {
			return domain.NewStoreError("update order status", err)
		}

		event, err := newOrderEvent(domain.EventOrderStatusChanged, id, domain.OrderStatusChangedPayload{
			OrderID:   id,
			From:      order.Status.String(),
			To:        next.String(),
			ChangedAt: now,
		})
		if err != nil {
			return domain.NewStoreError("encode order.status_changed", err)
		}
		if _, err := tx.Outbox().Enqueue(ctx, event); err != nil {
			return domain.NewStoreError("enqueue order.status_changed", err)
		}
		return nil
	})
	if err != nil {
		return domain.NewStoreError("update order status", err)
	}

	e.logger.WithFields(log.Fields{
		"order_id": id,
		"from":     previous.String(),
		"to":       next.String(),
	}).Info("order status changed")
	return nil
}

// writeStock записывает остатки в порядке возрастания id, как и блокировки в PostgreSQL.
func writeStock(ctx context.Context, tx domain.Tx, working map[int64]domain.Product, ids []int64, at time.Time) error {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	for _, id := range sorted {
		if err := tx.Products().UpdateStock(ctx, id, working[id].StockQuantity, at); err != nil {
			return domain.NewStoreError("update stock", err)
		}
	}
	return nil
}
