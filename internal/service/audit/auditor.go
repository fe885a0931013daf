package audit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockoms/internal/domain"
	"github.com/vladislavdragonenkov/stockoms/internal/metrics"
)

// Kind — тип нарушения согласованности.
type Kind string

const (
	KindOrderTotalMismatch Kind = "order_total_mismatch"
	KindItemTotalMismatch  Kind = "item_total_mismatch"
	KindNegativeStock      Kind = "negative_stock"
	KindLedgerDrift        Kind = "ledger_drift"
)

// AllKinds перечисляет виды проверок (для нулевых значений метрик).
var AllKinds = []Kind{KindOrderTotalMismatch, KindItemTotalMismatch, KindNegativeStock, KindLedgerDrift}

// Violation — одно найденное нарушение.
type Violation struct {
	Kind      Kind
	OrderID   int64
	ProductID int64
	Detail    string
}

// Report — результат одного прогона аудита.
type Report struct {
	CheckedAt  time.Time
	Orders     int
	Products   int
	Violations []Violation
}

// Counts возвращает количество нарушений по видам, включая нулевые.
func (r Report) Counts() map[string]int {
	counts := make(map[string]int, len(AllKinds))
	for _, kind := range AllKinds {
		counts[string(kind)] = 0
	}
	for _, v := range r.Violations {
		counts[string(v.Kind)]++
	}
	return counts
}

// Check сверяет заказы, остатки и журнал движений. Функция чистая.
//
// Журнал сверяется только по существующим заказам: сумма дельт их движений
// должна компенсировать количество товара в их позициях.
func Check(orders []domain.Order, products []domain.Product, movements []domain.StockMovement) []Violation {
	var violations []Violation

	existing := make(map[int64]struct{}, len(orders))
	committed := make(map[int64]int64)
	for _, order := range orders {
		existing[order.ID] = struct{}{}

		sum := domain.SumMoney()
		for _, item := range order.Items {
			committed[item.ProductID] += int64(item.Quantity)
			sum = sum.Add(item.TotalPrice)
			if want := domain.LineTotal(item.UnitPrice, item.Quantity); !item.TotalPrice.Equal(want) {
				violations = append(violations, Violation{
					Kind:      KindItemTotalMismatch,
					OrderID:   order.ID,
					ProductID: item.ProductID,
					Detail:    fmt.Sprintf("item total %s, expected %s", item.TotalPrice, want),
				})
			}
		}
		if !sum.Equal(order.TotalAmount) {
			violations = append(violations, Violation{
				Kind:    KindOrderTotalMismatch,
				OrderID: order.ID,
				Detail:  fmt.Sprintf("order total %s, items sum %s", order.TotalAmount, sum),
			})
		}
	}

	for _, p := range products {
		if p.StockQuantity < 0 {
			violations = append(violations, Violation{
				Kind:      KindNegativeStock,
				ProductID: p.ID,
				Detail:    fmt.Sprintf("stock %d", p.StockQuantity),
			})
		}
	}

	ledger := make(map[int64]int64)
	for _, m := range movements {
		if _, ok := existing[m.OrderID]; ok {
			ledger[m.ProductID] += int64(m.Delta)
		}
	}
	productIDs := make([]int64, 0, len(committed)+len(ledger))
	for id := range committed {
		productIDs = append(productIDs, id)
	}
	for id := range ledger {
		if _, ok := committed[id]; !ok {
			productIDs = append(productIDs, id)
		}
	}
	sort.Slice(productIDs, func(i, j int) bool { return productIDs[i] < productIDs[j] })
	for _, id := range productIDs {
		if -ledger[id] != committed[id] {
			violations = append(violations, Violation{
				Kind:      KindLedgerDrift,
				ProductID: id,
				Detail:    fmt.Sprintf("ledger reserves %d units, orders hold %d", -ledger[id], committed[id]),
			})
		}
	}

	return violations
}

// Auditor периодически запускает Check по расписанию cron.
type Auditor struct {
	tx       domain.TxManager
	schedule string
	logger   *log.Entry
	metrics  *metrics.AuditMetrics
	now      func() time.Time

	mu   sync.Mutex
	last Report
}

// Option настраивает Auditor.
type Option func(*Auditor)

// WithSchedule задаёт расписание в формате cron (поддерживаются секунды и дескрипторы).
func WithSchedule(spec string) Option {
	return func(a *Auditor) {
		if spec != "" {
			a.schedule = spec
		}
	}
}

// WithLogger задаёт логгер аудитора.
func WithLogger(logger *log.Entry) Option {
	return func(a *Auditor) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithMetrics задаёт метрики аудитора.
func WithMetrics(m *metrics.AuditMetrics) Option {
	return func(a *Auditor) {
		a.metrics = m
	}
}

// NewAuditor создаёт аудитор согласованности.
func NewAuditor(tx domain.TxManager, opts ...Option) *Auditor {
	a := &Auditor{
		tx:       tx,
		schedule: "@every 5m",
		logger:   log.New().WithField("component", "audit"),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateSchedule проверяет, что расписание разбирается парсером аудитора.
func ValidateSchedule(spec string) error {
	_, err := cronParser.Parse(spec)
	return err
}

// RunOnce читает данные в одной read-транзакции и сверяет их.
func (a *Auditor) RunOnce(ctx context.Context) (Report, error) {
	var (
		orders    []domain.Order
		products  []domain.Product
		movements []domain.StockMovement
	)
	err := a.tx.InReadTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		if orders, err = tx.Orders().ListOrdersWithItems(ctx); err != nil {
			return err
		}
		if products, err = tx.Products().ListProducts(ctx); err != nil {
			return err
		}
		movements, err = tx.Ledger().ListAll(ctx)
		return err
	})
	if err != nil {
		a.metrics.RecordAuditFailure()
		return Report{}, domain.NewStoreError("audit snapshot", err)
	}

	report := Report{
		CheckedAt:  a.now(),
		Orders:     len(orders),
		Products:   len(products),
		Violations: Check(orders, products, movements),
	}
	a.metrics.RecordAudit(report.Counts(), report.CheckedAt)

	a.mu.Lock()
	a.last = report
	a.mu.Unlock()

	entry := a.logger.WithFields(log.Fields{
		"orders":     report.Orders,
		"products":   report.Products,
		"violations": len(report.Violations),
	})
	if len(report.Violations) == 0 {
		entry.Debug("consistency audit passed")
		return report, nil
	}
	for _, v := range report.Violations {
		a.logger.WithFields(log.Fields{
			"kind":       v.Kind,
			"order_id":   v.OrderID,
			"product_id": v.ProductID,
		}).Warn(v.Detail)
	}
	entry.Warn("consistency audit found violations")
	return report, nil
}

// LastReport возвращает результат последнего успешного прогона.
func (a *Auditor) LastReport() Report {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

// Run запускает планировщик и блокируется до отмены ctx.
func (a *Auditor) Run(ctx context.Context) error {
	sched := cron.New(cron.WithParser(cronParser), cron.WithChain(cron.Recover(cronLogger{a.logger})))
	if _, err := sched.AddFunc(a.schedule, func() {
		if _, err := a.RunOnce(ctx); err != nil && ctx.Err() == nil {
			a.logger.WithError(err).Error("consistency audit failed")
		}
	}); err != nil {
		return fmt.Errorf("schedule audit %q: %w", a.schedule, err)
	}

	a.logger.WithField("schedule", a.schedule).Info("consistency auditor started")
	sched.Start()

	<-ctx.Done()
	<-sched.Stop().Done()
	a.logger.Info("consistency auditor stopped")
	return nil
}

// cronLogger направляет сообщения cron в logrus.
type cronLogger struct {
	entry *log.Entry
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(kvFields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.entry.WithError(err).WithFields(kvFields(keysAndValues)).Error(msg)
}

func kvFields(keysAndValues []interface{}) log.Fields {
	fields := log.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
