package audit

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/stockoms/internal/domain"
	"github.com/vladislavdragonenkov/stockoms/internal/metrics"
	"github.com/vladislavdragonenkov/stockoms/internal/service/orders"
	"github.com/vladislavdragonenkov/stockoms/internal/storage/memory"
)

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger.WithField("component", "audit-test")
}

func money(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func consistentOrder() domain.Order {
	return domain.Order{
		ID:          1,
		TotalAmount: money("25.00"),
		Items: []domain.OrderItem{
			{ProductID: 1, Quantity: 2, UnitPrice: money("10.00"), TotalPrice: money("20.00")},
			{ProductID: 2, Quantity: 1, UnitPrice: money("5.00"), TotalPrice: money("5.00")},
		},
	}
}

func placedMovements() []domain.StockMovement {
	return []domain.StockMovement{
		{ProductID: 1, OrderID: 1, Delta: -2, Reason: domain.MovementOrderPlaced},
		{ProductID: 2, OrderID: 1, Delta: -1, Reason: domain.MovementOrderPlaced},
	}
}

func TestCheck_ConsistentSnapshot(t *testing.T) {
	products := []domain.Product{{ID: 1, StockQuantity: 3}, {ID: 2, StockQuantity: 0}}

	require.Empty(t, Check([]domain.Order{consistentOrder()}, products, placedMovements()))
}

func TestCheck_DeletedOrdersAreIgnoredInLedger(t *testing.T) {
	movements := append(placedMovements(),
		// Заказ 2 удалён с возвратом, заказ 3 удалён без возврата.
		domain.StockMovement{ProductID: 1, OrderID: 2, Delta: -4, Reason: domain.MovementOrderPlaced},
		domain.StockMovement{ProductID: 1, OrderID: 2, Delta: 4, Reason: domain.MovementOrderDeleted},
		domain.StockMovement{ProductID: 2, OrderID: 3, Delta: -1, Reason: domain.MovementOrderPlaced},
	)

	require.Empty(t, Check([]domain.Order{consistentOrder()}, nil, movements))
}

func TestCheck_FindsViolations(t *testing.T) {
	broken := consistentOrder()
	broken.TotalAmount = money("26.00")
	broken.Items[1].TotalPrice = money("6.00")

	products := []domain.Product{{ID: 1, StockQuantity: -1}}
	movements := placedMovements()[:1]

	violations := Check([]domain.Order{broken}, products, movements)
	counts := Report{Violations: violations}.Counts()

	require.Equal(t, 1, counts[string(KindItemTotalMismatch)])
	require.Equal(t, 0, counts[string(KindOrderTotalMismatch)], "items sum 26.00 matches the order total")
	require.Equal(t, 1, counts[string(KindNegativeStock)])
	require.Equal(t, 1, counts[string(KindLedgerDrift)])

	for _, v := range violations {
		if v.Kind == KindLedgerDrift {
			require.EqualValues(t, 2, v.ProductID)
		}
	}
}

func TestCheck_OrderTotalMismatch(t *testing.T) {
	broken := consistentOrder()
	broken.TotalAmount = money("24.99")

	violations := Check([]domain.Order{broken}, nil, placedMovements())
	require.Len(t, violations, 1)
	require.Equal(t, KindOrderTotalMismatch, violations[0].Kind)
	require.EqualValues(t, 1, violations[0].OrderID)
}

func TestAuditor_RunOnceAgainstEngine(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, memory.SeedCatalog(ctx, store))

	engine := orders.NewEngine(store, orders.WithRestockPolicy(orders.RestockUnshipped), orders.WithEngineLogger(quietLogger()))
	req := orders.CreateOrderRequest{
		CustomerName:    "A",
		CustomerEmail:   "a@example.com",
		ShippingAddress: "x",
		Items:           []orders.OrderItemRequest{{ProductID: 1, Quantity: 2}, {ProductID: 5, Quantity: 1}},
	}
	first, err := engine.Create(ctx, req)
	require.NoError(t, err)
	second, err := engine.Create(ctx, req)
	require.NoError(t, err)
	require.NoError(t, engine.UpdateStatus(ctx, second, domain.OrderStatusShipped))
	_, err = engine.Delete(ctx, second)
	require.NoError(t, err)
	_, err = engine.Create(ctx, req)
	require.NoError(t, err)
	_, err = engine.Delete(ctx, first)
	require.NoError(t, err)

	auditor := NewAuditor(store,
		WithLogger(quietLogger()),
		WithMetrics(metrics.NewAuditMetricsWithRegisterer(prometheus.NewRegistry())))

	report, err := auditor.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Orders)
	require.Equal(t, 5, report.Products)
	require.Empty(t, report.Violations)
	require.Equal(t, report, auditor.LastReport())
}

func TestAuditor_RunStopsWithContext(t *testing.T) {
	store := memory.NewStore()
	auditor := NewAuditor(store, WithSchedule("@every 1s"), WithLogger(quietLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- auditor.Run(ctx) }()

	time.Sleep(1500 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("auditor did not stop")
	}
	require.False(t, auditor.LastReport().CheckedAt.IsZero())
}

func TestAuditor_InvalidSchedule(t *testing.T) {
	auditor := NewAuditor(memory.NewStore(), WithSchedule("not a schedule"), WithLogger(quietLogger()))

	require.Error(t, auditor.Run(context.Background()))
	require.Error(t, ValidateSchedule("61 * * * *"))
	require.NoError(t, ValidateSchedule("*/30 * * * * *"))
}
