package orders

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockoms/internal/domain"
	"github.com/vladislavdragonenkov/stockoms/internal/metrics"
)

// Service — внешний интерфейс управления заказами: валидация, движок, чтение, логи и метрики.
type Service struct {
	engine  *Engine
	query   *Query
	logger  *log.Entry
	metrics *metrics.OrderMetrics
}

// NewService собирает фасад. metrics может быть nil.
func NewService(engine *Engine, query *Query, logger *log.Entry, m *metrics.OrderMetrics) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "order-service")
	}
	return &Service{
		engine:  engine,
		query:   query,
		logger:  logger,
		metrics: m,
	}
}

// CreateOrder валидирует запрос, оформляет заказ и возвращает его представление.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (OrderView, error) {
	defer s.metrics.StartOperation("create")()

	valid, err := Validate(req)
	if err != nil {
		s.reject(err, "order rejected by validation")
		return OrderView{}, err
	}

	id, err := s.engine.Create(ctx, valid)
	if err != nil {
		s.reject(err, "order creation failed")
		return OrderView{}, err
	}

	var units int
	for _, item := range valid.Items {
		units += int(item.Quantity)
	}
	s.metrics.RecordOrderCreated(units)

	view, found, err := s.query.GetOrder(ctx, id)
	if err != nil {
		err = &domain.StoreError{Op: "read created order", Err: err, Committed: true}
		s.logger.WithError(err).WithField("order_id", id).Error("created order is not readable")
		return OrderView{}, err
	}
	if !found {
		err := &domain.StoreError{Op: "read created order", Err: fmt.Errorf("order %d was created but could not be read back", id), Committed: true}
		s.logger.WithError(err).WithField("order_id", id).Error("created order is not readable")
		return OrderView{}, err
	}

	s.logger.WithFields(log.Fields{
		"order_id":     id,
		"total_amount": view.TotalAmount.StringFixed(domain.MoneyScale),
	}).Info("order placed")
	return view, nil
}

// GetOrder возвращает заказ по id.
func (s *Service) GetOrder(ctx context.Context, id int64) (OrderView, bool, error) {
	defer s.metrics.StartOperation("get")()
	return s.query.GetOrder(ctx, id)
}

// ListOrders возвращает все заказы; при отсутствии заказов — пустой срез.
func (s *Service) ListOrders(ctx context.Context) ([]OrderView, error) {
	defer s.metrics.StartOperation("list")()
	return s.query.ListOrders(ctx)
}

// DeleteOrder удаляет заказ; false, если его не было.
func (s *Service) DeleteOrder(ctx context.Context, id int64) (bool, error) {
	defer s.metrics.StartOperation("delete")()

	result, err := s.engine.Delete(ctx, id)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", id).Error("order deletion failed")
		return false, err
	}
	if !result.Found {
		return false, nil
	}
	s.metrics.RecordOrderDeleted(result.RestoredUnits)
	return true, nil
}

// UpdateOrderStatus меняет статус заказа и возвращает обновлённое представление.
func (s *Service) UpdateOrderStatus(ctx context.Context, id int64, status domain.OrderStatus) (OrderView, error) {
	defer s.metrics.StartOperation("update_status")()

	if err := s.engine.UpdateStatus(ctx, id, status); err != nil {
		if !errors.Is(err, domain.ErrOrderNotFound) {
			s.logger.WithError(err).WithField("order_id", id).Warn("order status update failed")
		}
		return OrderView{}, err
	}
	s.metrics.RecordStatusChange(status.String())

	view, found, err := s.query.GetOrder(ctx, id)
	if err != nil {
		return OrderView{}, err
	}
	if !found {
		return OrderView{}, domain.ErrOrderNotFound
	}
	return view, nil
}

func (s *Service) reject(err error, msg string) {
	reason := RejectReason(err)
	s.metrics.RecordOrderRejected(reason)

	entry := s.logger.WithError(err).WithField("reason", reason)
	if reason == metrics.RejectStore {
		entry.Error(msg)
		return
	}
	entry.Warn(msg)
}

// RejectReason сводит ошибку создания заказа к label для метрик.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return metrics.RejectValidation
	case errors.Is(err, domain.ErrProductNotFound):
		return metrics.RejectProductNotFound
	case errors.Is(err, domain.ErrInsufficientStock):
		return metrics.RejectInsufficientStock
	case errors.Is(err, domain.ErrTxConflict):
		return metrics.RejectTxConflict
	default:
		return metrics.RejectStore
	}
}
