package grpcsvc

import (
	"context"
	"errors"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/stockoms/api/orderv1"
	"github.com/vladislavdragonenkov/stockoms/internal/domain"
	"github.com/vladislavdragonenkov/stockoms/internal/service/idempotency"
	"github.com/vladislavdragonenkov/stockoms/internal/service/orders"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// OrderService реализует orders.v1.OrderService поверх фасада заказов.
type OrderService struct {
	orderv1.UnimplementedOrderServiceServer

	orders *orders.Service
	guard  *idempotency.Guard
	logger *log.Entry
}

// NewOrderService конструирует gRPC-сервис. guard может быть nil: тогда ключи не проверяются.
func NewOrderService(svc *orders.Service, guard *idempotency.Guard, logger *log.Entry) *OrderService {
	if logger == nil {
		logger = log.New().WithField("component", "grpc-order-service")
	}
	return &OrderService{orders: svc, guard: guard, logger: logger}
}

// CreateOrder оформляет заказ. Требует metadata idempotency-key.
func (s *OrderService) CreateOrder(ctx context.Context, req *orderv1.CreateOrderRequest) (*orderv1.CreateOrderResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	createReq, err := fromProtoCreate(req)
	if err != nil {
		return nil, err
	}

	return withIdempotency(s, ctx, orderv1.OrderService_CreateOrder_FullMethodName, req,
		func() *orderv1.CreateOrderResponse { return &orderv1.CreateOrderResponse{} },
		func(ctx context.Context) (*orderv1.CreateOrderResponse, error) {
			view, err := s.orders.CreateOrder(ctx, createReq)
			if err != nil {
				return nil, err
			}
			return &orderv1.CreateOrderResponse{Order: toProtoOrder(view)}, nil
		},
	)
}

// GetOrder возвращает заказ или NotFound.
func (s *OrderService) GetOrder(ctx context.Context, req *orderv1.GetOrderRequest) (*orderv1.GetOrderResponse, error) {
	if req.GetOrderID() <= 0 {
		return nil, status.Error(codes.InvalidArgument, "order_id must be positive")
	}

	view, found, err := s.orders.GetOrder(ctx, req.GetOrderID())
	if err != nil {
		return nil, s.toStatus(err, "GetOrder")
	}
	if !found {
		return nil, status.Error(codes.NotFound, domain.ErrOrderNotFound.Error())
	}
	return &orderv1.GetOrderResponse{Order: toProtoOrder(view)}, nil
}

// ListOrders возвращает все заказы, новые первыми.
func (s *OrderService) ListOrders(ctx context.Context, _ *orderv1.ListOrdersRequest) (*orderv1.ListOrdersResponse, error) {
	views, err := s.orders.ListOrders(ctx)
	if err != nil {
		return nil, s.toStatus(err, "ListOrders")
	}

	result := make([]*orderv1.Order, 0, len(views))
	for _, view := range views {
		result = append(result, toProtoOrder(view))
	}
	return &orderv1.ListOrdersResponse{Orders: result}, nil
}

// DeleteOrder удаляет заказ с возвратом остатков. Требует metadata idempotency-key.
func (s *OrderService) DeleteOrder(ctx context.Context, req *orderv1.DeleteOrderRequest) (*orderv1.DeleteOrderResponse, error) {
	if req.GetOrderID() <= 0 {
		return nil, status.Error(codes.InvalidArgument, "order_id must be positive")
	}

	return withIdempotency(s, ctx, orderv1.OrderService_DeleteOrder_FullMethodName, req,
		func() *orderv1.DeleteOrderResponse { return &orderv1.DeleteOrderResponse{} },
		func(ctx context.Context) (*orderv1.DeleteOrderResponse, error) {
			deleted, err := s.orders.DeleteOrder(ctx, req.OrderID)
			if err != nil {
				return nil, err
			}
			if !deleted {
				return nil, domain.ErrOrderNotFound
			}
			return &orderv1.DeleteOrderResponse{OrderID: req.OrderID, Deleted: true}, nil
		},
	)
}

// UpdateOrderStatus переводит заказ в новый статус.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, req *orderv1.UpdateOrderStatusRequest) (*orderv1.UpdateOrderStatusResponse, error) {
	if req.GetOrderID() <= 0 {
		return nil, status.Error(codes.InvalidArgument, "order_id must be positive")
	}
	next, err := domain.ParseOrderStatus(req.GetStatus())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	view, err := s.orders.UpdateOrderStatus(ctx, req.OrderID, next)
	if err != nil {
		return nil, s.toStatus(err, "UpdateOrderStatus")
	}
	return &orderv1.UpdateOrderStatusResponse{Order: toProtoOrder(view)}, nil
}

// toStatus переводит доменную ошибку в gRPC-статус.
func (s *OrderService) toStatus(err error, operation string) error {
	code := codeOf(err)
	entry := s.logger.WithError(err).WithFields(log.Fields{
		"operation": operation,
		"code":      code.String(),
	})

	switch code {
	case codes.Internal, codes.Unavailable:
		entry.Error("order operation failed")
		return status.Error(code, "order storage failed, retry later")
	default:
		entry.Debug("order operation rejected")
		return status.Error(code, err.Error())
	}
}

func codeOf(err error) codes.Code {
	switch {
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, domain.ErrValidation):
		return codes.InvalidArgument
	case errors.Is(err, domain.ErrProductNotFound), errors.Is(err, domain.ErrOrderNotFound):
		return codes.NotFound
	case errors.Is(err, domain.ErrInsufficientStock), errors.Is(err, domain.ErrInvalidStatusTransition):
		return codes.FailedPrecondition
	case errors.Is(err, domain.ErrTxConflict):
		return codes.Aborted
	case errors.Is(err, domain.ErrStore):
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

const idempotencyKeyHeader = "idempotency-key"

type idempotencyErrorPayload struct {
	Code    int32  `json:"code"`
	Message string `json:"message"`
}

// withIdempotency выполняет handler под ключом идемпотентности. handler возвращает доменные ошибки,
// в gRPC-статус их переводит withIdempotency.
func withIdempotency[T any](
	s *OrderService,
	ctx context.Context,
	method string,
	req any,
	newResp func() T,
	handler func(context.Context) (T, error),
) (T, error) {
	var zero T

	if s.guard == nil {
		resp, err := handler(ctx)
		if err != nil {
			return zero, s.toStatus(err, method)
		}
		return resp, nil
	}

	key, err := readIdempotencyKey(ctx)
	if err != nil {
		return zero, err
	}

	payload, err := json.Marshal(req)
	if err != nil {
		s.logger.WithError(err).WithField("method", method).Warn("failed to encode request for idempotency hash")
		return zero, status.Error(codes.Internal, "failed to initialize idempotency request")
	}

	replay, err := s.guard.Begin(ctx, key, idempotency.RequestHash(method, payload))
	switch {
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return zero, status.Error(codes.AlreadyExists, "idempotency key is already used with different request payload")
	case err != nil:
		return zero, status.Error(codes.Internal, "failed to initialize idempotency request")
	case replay != nil:
		return replayResponse(s, key, replay, newResp)
	}

	resp, runErr := handler(ctx)
	if runErr != nil {
		stErr := s.toStatus(runErr, method)
		payload, code := failurePayload(stErr)
		s.guard.Finish(ctx, key, runErr, payload, code)
		return zero, stErr
	}

	body, err := json.Marshal(resp)
	if err != nil {
		s.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to encode idempotent response")
		body = nil
	}
	s.guard.Finish(ctx, key, nil, body, int(codes.OK))
	return resp, nil
}

func replayResponse[T any](s *OrderService, key string, replay *idempotency.Replay, newResp func() T) (T, error) {
	var zero T

	switch replay.Status {
	case domain.IdempotencyStatusDone:
		if len(replay.Body) == 0 {
			return zero, status.Error(codes.Internal, "idempotency cache is empty")
		}
		resp := newResp()
		if err := json.Unmarshal(replay.Body, resp); err != nil {
			s.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to decode cached idempotency response")
			return zero, status.Error(codes.Internal, "failed to decode cached idempotency response")
		}
		return resp, nil
	case domain.IdempotencyStatusProcessing:
		return zero, status.Error(codes.Aborted, "request with the same idempotency key is already processing")
	case domain.IdempotencyStatusFailed:
		return zero, decodeFailure(replay)
	default:
		return zero, status.Error(codes.Internal, "unknown idempotency record status")
	}
}

// failurePayload кодирует gRPC-статус для сохранения под ключом.
func failurePayload(stErr error) ([]byte, int) {
	st := status.Convert(stErr)
	code := st.Code()
	if code == codes.OK {
		code = codes.Internal
	}

	payload, err := json.Marshal(idempotencyErrorPayload{
		Code:    int32(code), //nolint:gosec // codes.Code is a bounded enum value.
		Message: st.Message(),
	})
	if err != nil {
		payload = nil
	}
	return payload, int(code)
}

func decodeFailure(replay *idempotency.Replay) error {
	const fallback = "previous request with the same idempotency key failed"

	if len(replay.Body) > 0 {
		var payload idempotencyErrorPayload
		if err := json.Unmarshal(replay.Body, &payload); err == nil {
			if code, ok := grpcCode(int(payload.Code)); ok && code != codes.OK {
				if payload.Message == "" {
					payload.Message = fallback
				}
				return status.Error(code, payload.Message)
			}
		}
	}
	if code, ok := grpcCode(replay.StatusCode); ok && code != codes.OK {
		return status.Error(code, fallback)
	}
	return status.Error(codes.Internal, fallback)
}

func grpcCode(value int) (codes.Code, bool) {
	if value < int(codes.OK) || value > int(codes.Unauthenticated) {
		return codes.Internal, false
	}
	return codes.Code(uint32(value)), true //nolint:gosec // bounded above.
}

func readIdempotencyKey(ctx context.Context) (string, error) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(idempotencyKeyHeader); len(values) > 0 && strings.TrimSpace(values[0]) != "" {
			return strings.TrimSpace(values[0]), nil
		}
	}
	return "", status.Error(codes.InvalidArgument, "idempotency-key metadata is required")
}

func fromProtoCreate(req *orderv1.CreateOrderRequest) (orders.CreateOrderRequest, error) {
	out := orders.CreateOrderRequest{
		CustomerName:    req.CustomerName,
		CustomerEmail:   req.CustomerEmail,
		ShippingAddress: req.ShippingAddress,
		Items:           make([]orders.OrderItemRequest, 0, len(req.Items)),
	}
	for i, item := range req.Items {
		if item == nil {
			return orders.CreateOrderRequest{}, status.Errorf(codes.InvalidArgument, "items[%d] is empty", i)
		}
		out.Items = append(out.Items, orders.OrderItemRequest{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return out, nil
}

func toProtoOrder(view orders.OrderView) *orderv1.Order {
	items := make([]*orderv1.OrderItem, 0, len(view.Items))
	for _, item := range view.Items {
		items = append(items, &orderv1.OrderItem{
			ID:          item.ID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice.StringFixed(domain.MoneyScale),
			TotalPrice:  item.TotalPrice.StringFixed(domain.MoneyScale),
		})
	}

	return &orderv1.Order{
		ID:              view.ID,
		CustomerName:    view.CustomerName,
		CustomerEmail:   view.CustomerEmail,
		ShippingAddress: view.ShippingAddress,
		TotalAmount:     view.TotalAmount.StringFixed(domain.MoneyScale),
		Status:          view.Status,
		OrderDate:       formatTime(&view.OrderDate),
		ShippedDate:     formatTime(view.ShippedDate),
		DeliveredDate:   formatTime(view.DeliveredDate),
		Items:           items,
	}
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
