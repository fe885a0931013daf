package orders

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/stockoms/internal/domain"
)

func TestProjectOrder_UsesCurrentNameAndSnapshotPrice(t *testing.T) {
	shipped := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	order := domain.Order{
		ID:              7,
		CustomerName:    "Ada",
		CustomerEmail:   "ada@example.com",
		ShippingAddress: "Somewhere 1",
		TotalAmount:     decimal.RequireFromString("20.00"),
		Status:          domain.OrderStatusShipped,
		OrderDate:       shipped.Add(-time.Hour),
		ShippedDate:     &shipped,
		Items: []domain.OrderItem{{
			ID: 11, OrderID: 7, ProductID: 3, Quantity: 2,
			UnitPrice:  decimal.RequireFromString("10.00"),
			TotalPrice: decimal.RequireFromString("20.00"),
		}},
	}
	// Товар с тех пор переименован и подорожал.
	products := map[int64]domain.Product{
		3: {ID: 3, Name: "Keyboard v2", Price: decimal.RequireFromString("15.00")},
	}

	view := ProjectOrder(order, products)

	require.Equal(t, int64(7), view.ID)
	require.Equal(t, "Shipped", view.Status)
	require.Equal(t, &shipped, view.ShippedDate)
	require.Nil(t, view.DeliveredDate)
	require.Len(t, view.Items, 1)
	require.Equal(t, "Keyboard v2", view.Items[0].ProductName)
	require.Equal(t, "10.00", view.Items[0].UnitPrice.StringFixed(2))
	require.Equal(t, "20.00", view.Items[0].TotalPrice.StringFixed(2))
}

func TestProjectOrder_IsDeterministic(t *testing.T) {
	order := domain.Order{ID: 1, Status: domain.OrderStatusPending, Items: []domain.OrderItem{{ProductID: 1, Quantity: 1}}}
	products := map[int64]domain.Product{1: {ID: 1, Name: "Laptop"}}

	require.Equal(t, ProjectOrder(order, products), ProjectOrder(order, products))
}

func TestQuery_ListOrdersEmpty(t *testing.T) {
	f := newFixture(t)

	list, err := f.query.ListOrders(context.Background())
	require.NoError(t, err)
	require.NotNil(t, list)
	require.Empty(t, list)
}

func TestQuery_ListOrdersNewestFirst(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	times := []time.Time{clock, clock.Add(time.Minute), clock}
	i := 0
	f := newFixture(t, WithClock(func() time.Time {
		now := times[i]
		i++
		return now
	}))
	p := f.addProduct(t, "P", "1.00", 10)

	var ids []int64
	for range times {
		id, err := f.engine.Create(ctx, orderFor(OrderItemRequest{ProductID: p.ID, Quantity: 1}))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	list, err := f.query.ListOrders(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Equal(t, []int64{ids[1], ids[2], ids[0]}, []int64{list[0].ID, list[1].ID, list[2].ID})
	require.Equal(t, "P", list[0].Items[0].ProductName)
}

func TestQuery_GetOrderTwiceIsStable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.addProduct(t, "P", "2.50", 10)

	id, err := f.engine.Create(ctx, orderFor(OrderItemRequest{ProductID: p.ID, Quantity: 4}))
	require.NoError(t, err)

	first, found, err := f.query.GetOrder(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	second, _, err := f.query.GetOrder(ctx, id)
	require.NoError(t, err)
	require.Equal(t, first, second)
}
