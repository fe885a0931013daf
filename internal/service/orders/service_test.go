package orders

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/stockoms/internal/domain"
	"github.com/vladislavdragonenkov/stockoms/internal/metrics"
)

func newTestService(t *testing.T) (*Service, *fixture) {
	t.Helper()
	f := newFixture(t)
	m := metrics.NewOrderMetricsWithRegisterer(prometheus.NewRegistry())
	return NewService(f.engine, f.query, quietLogger(), m), f
}

func TestService_CreateOrderReturnsCommittedView(t *testing.T) {
	ctx := context.Background()
	svc, f := newTestService(t)
	laptop := f.addProduct(t, "Laptop", "1299.99", 50)
	mouse := f.addProduct(t, "Wireless Mouse", "29.99", 200)

	view, err := svc.CreateOrder(ctx, CreateOrderRequest{
		CustomerName:    " Linus ",
		CustomerEmail:   "linus@example.com",
		ShippingAddress: "Helsinki",
		Items: []OrderItemRequest{
			{ProductID: laptop.ID, Quantity: 2},
			{ProductID: mouse.ID, Quantity: 1},
		},
	})
	require.NoError(t, err)
	require.NotZero(t, view.ID)
	require.Equal(t, "Linus", view.CustomerName)
	require.Equal(t, "2629.97", view.TotalAmount.StringFixed(2))
	require.Equal(t, "Pending", view.Status)
	require.Len(t, view.Items, 2)
	require.Equal(t, "Laptop", view.Items[0].ProductName)
	require.EqualValues(t, 48, f.stock(t, laptop.ID))
	require.EqualValues(t, 199, f.stock(t, mouse.ID))
}

func TestService_CreateOrderValidationNeverTouchesStore(t *testing.T) {
	ctx := context.Background()
	svc, f := newTestService(t)
	p := f.addProduct(t, "P", "1.00", 1)

	_, err := svc.CreateOrder(ctx, CreateOrderRequest{
		CustomerName:    "A",
		CustomerEmail:   "a@example.com",
		ShippingAddress: "x",
		Items:           []OrderItemRequest{{ProductID: p.ID, Quantity: 0}},
	})
	require.ErrorIs(t, err, domain.ErrValidation)
	require.EqualValues(t, 1, f.stock(t, p.ID))
}

func TestService_CreatedButNotReadableIsStoreError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.addProduct(t, "P", "1.00", 3)

	hidden := NewQuery(failingTxManager{inner: f.store, hideOrders: true})
	svc := NewService(f.engine, hidden, quietLogger(), nil)

	_, err := svc.CreateOrder(ctx, orderFor(OrderItemRequest{ProductID: p.ID, Quantity: 1}))
	require.ErrorIs(t, err, domain.ErrStore)
	require.False(t, domain.IsTransient(err), "the order is committed, a retry must not place it again")
	// Заказ при этом зафиксирован.
	require.EqualValues(t, 2, f.stock(t, p.ID))
}

func TestService_DeleteAndStatus(t *testing.T) {
	ctx := context.Background()
	svc, f := newTestService(t)
	p := f.addProduct(t, "P", "5.00", 3)

	view, err := svc.CreateOrder(ctx, orderFor(OrderItemRequest{ProductID: p.ID, Quantity: 3}))
	require.NoError(t, err)

	updated, err := svc.UpdateOrderStatus(ctx, view.ID, domain.OrderStatusShipped)
	require.NoError(t, err)
	require.Equal(t, "Shipped", updated.Status)
	require.NotNil(t, updated.ShippedDate)

	_, err = svc.UpdateOrderStatus(ctx, 404, domain.OrderStatusShipped)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	deleted, err := svc.DeleteOrder(ctx, view.ID)
	require.NoError(t, err)
	require.True(t, deleted)
	require.EqualValues(t, 3, f.stock(t, p.ID))

	deleted, err = svc.DeleteOrder(ctx, view.ID)
	require.NoError(t, err)
	require.False(t, deleted)

	list, err := svc.ListOrders(ctx)
	require.NoError(t, err)
	require.Empty(t, list)

	_, found, err := svc.GetOrder(ctx, view.ID)
	require.NoError(t, err)
	require.False(t, found)
}

func TestRejectReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&domain.ValidationError{Field: FieldItems}, metrics.RejectValidation},
		{&domain.ProductNotFoundError{ProductIDs: []int64{1}}, metrics.RejectProductNotFound},
		{&domain.InsufficientStockError{}, metrics.RejectInsufficientStock},
		{domain.ErrTxConflict, metrics.RejectTxConflict},
		{&domain.StoreError{Op: "commit", Err: errors.New("x")}, metrics.RejectStore},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, RejectReason(tt.err))
	}
}

func TestRestockPolicyParse(t *testing.T) {
	for raw, want := range map[string]RestockPolicy{"": RestockAlways, "always": RestockAlways, " Unshipped ": RestockUnshipped} {
		got, err := ParseRestockPolicy(raw)
		require.NoError(t, err)
		require.Equal(t, want, got)
		require.NotEmpty(t, got.String())
	}
	_, err := ParseRestockPolicy("sometimes")
	require.Error(t, err)
}
