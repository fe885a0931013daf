package grpcsvc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/stockoms/api/orderv1"
	"github.com/vladislavdragonenkov/stockoms/internal/domain"
	"github.com/vladislavdragonenkov/stockoms/internal/service/idempotency"
	"github.com/vladislavdragonenkov/stockoms/internal/service/orders"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want codes.Code
	}{
		{"validation", &domain.ValidationError{Field: "items", Reason: "x"}, codes.InvalidArgument},
		{"product not found", &domain.ProductNotFoundError{ProductIDs: []int64{9}}, codes.NotFound},
		{"order not found", domain.ErrOrderNotFound, codes.NotFound},
		{"insufficient stock", &domain.InsufficientStockError{ProductID: 1}, codes.FailedPrecondition},
		{"transition", domain.ErrInvalidStatusTransition, codes.FailedPrecondition},
		{"tx conflict", domain.ErrTxConflict, codes.Aborted},
		{"store", &domain.StoreError{Op: "commit", Err: errors.New("conn reset")}, codes.Unavailable},
		{"deadline", context.DeadlineExceeded, codes.DeadlineExceeded},
		{"unknown", errors.New("boom"), codes.Internal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, codeOf(tt.err))
		})
	}
}

func TestToStatusHidesStoreDetails(t *testing.T) {
	s := NewOrderService(nil, nil, nil)

	err := s.toStatus(&domain.StoreError{Op: "commit", Err: errors.New("password=secret")}, "CreateOrder")
	require.Equal(t, codes.Unavailable, status.Code(err))
	require.NotContains(t, status.Convert(err).Message(), "secret")

	err = s.toStatus(&domain.InsufficientStockError{ProductID: 1, ProductName: "Laptop", Available: 1, Requested: 2}, "CreateOrder")
	require.Equal(t, "insufficient stock for Laptop: available 1, requested 2", status.Convert(err).Message())
}

func TestReadIdempotencyKey(t *testing.T) {
	_, err := readIdempotencyKey(context.Background())
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(idempotencyKeyHeader, "  key-1 "))
	key, err := readIdempotencyKey(ctx)
	require.NoError(t, err)
	require.Equal(t, "key-1", key)
}

func TestDecodeFailure(t *testing.T) {
	err := decodeFailure(&idempotency.Replay{Body: []byte(`{"code":9,"message":"insufficient stock"}`)})
	require.Equal(t, codes.FailedPrecondition, status.Code(err))
	require.Equal(t, "insufficient stock", status.Convert(err).Message())

	err = decodeFailure(&idempotency.Replay{StatusCode: int(codes.NotFound)})
	require.Equal(t, codes.NotFound, status.Code(err))

	err = decodeFailure(&idempotency.Replay{Body: []byte("garbage"), StatusCode: 999})
	require.Equal(t, codes.Internal, status.Code(err))
}

func TestToProtoOrder(t *testing.T) {
	shipped := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	view := orders.OrderView{
		ID:           7,
		CustomerName: "Ada",
		TotalAmount:  decimal.RequireFromString("59.98"),
		Status:       "Shipped",
		OrderDate:    time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
		ShippedDate:  &shipped,
		Items: []orders.OrderItemView{{
			ID:          1,
			ProductID:   2,
			ProductName: "Wireless Mouse",
			Quantity:    2,
			UnitPrice:   decimal.RequireFromString("29.99"),
			TotalPrice:  decimal.RequireFromString("59.98"),
		}},
	}

	got := toProtoOrder(view)
	require.Equal(t, "59.98", got.TotalAmount)
	require.Equal(t, "2026-03-01T09:30:00Z", got.OrderDate)
	require.Equal(t, "2026-03-02T10:00:00Z", got.ShippedDate)
	require.Empty(t, got.DeliveredDate)
	require.Equal(t, &orderv1.OrderItem{
		ID: 1, ProductID: 2, ProductName: "Wireless Mouse", Quantity: 2, UnitPrice: "29.99", TotalPrice: "59.98",
	}, got.Items[0])
}

func TestFromProtoCreateRejectsNilItems(t *testing.T) {
	_, err := fromProtoCreate(&orderv1.CreateOrderRequest{
		CustomerName: "Ada",
		Items:        []*orderv1.CreateOrderItem{nil, {ProductID: 3, Quantity: 1}},
	})
	require.Equal(t, codes.InvalidArgument, status.Code(err))
	require.Contains(t, status.Convert(err).Message(), "items[0]")

	req, err := fromProtoCreate(&orderv1.CreateOrderRequest{
		CustomerName: "Ada",
		Items:        []*orderv1.CreateOrderItem{{ProductID: 3, Quantity: 1}},
	})
	require.NoError(t, err)
	require.Equal(t, []orders.OrderItemRequest{{ProductID: 3, Quantity: 1}}, req.Items)
}
