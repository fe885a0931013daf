// Command loadtest создаёт заказы на один товар параллельно и проверяет, что склад не ушёл в минус.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/stockoms/api/orderv1"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const idempotencyHeader = "idempotency-key"

type loadMode string

const (
	// modeCreate только создаёт заказы: часть из них упирается в остаток.
	modeCreate loadMode = "create"
	// modeCreateDelete удаляет каждый созданный заказ, товар возвращается на склад.
	modeCreateDelete loadMode = "create-delete"
)

type config struct {
	addr        string
	httpAddr    string
	total       int
	duration    time.Duration
	concurrency int
	connections int
	timeout     time.Duration
	mode        loadMode
	productID   int64
	quantity    int
	outputPath  string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	SuccessScenarios  int64                   `json:"success_scenarios"`
	RejectedScenarios int64                   `json:"rejected_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
	Stock             *stockCheck             `json:"stock,omitempty"`
}

type methodStats struct {
	calls     int64
	success   int64
	failed    int64
	codes     map[string]int64
	latencies []float64
}

type collector struct {
	mu      sync.Mutex
	methods map[string]*methodStats
}

func newCollector() *collector {
	return &collector{
		methods: make(map[string]*methodStats),
	}
}

// expected отмечает коды, которые считаются штатным исходом: нехватка товара не ошибка нагрузки.
func expected(code codes.Code) bool {
	return code == codes.OK || code == codes.FailedPrecondition
}

func (c *collector) record(method string, latency time.Duration, code codes.Code) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[method]
	if !ok {
		stats = &methodStats{
			codes: make(map[string]int64),
		}
		c.methods[method] = stats
	}

	stats.calls++
	if expected(code) {
		stats.success++
	} else {
		stats.failed++
	}
	stats.codes[code.String()]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Methods:         make(map[string]methodReport, len(c.methods)),
	}

	if scenarioStats := c.methods["scenario"]; scenarioStats != nil {
		result.TotalScenarios = scenarioStats.calls
		result.FailedScenarios = scenarioStats.failed
		result.RejectedScenarios = scenarioStats.codes[codes.FailedPrecondition.String()]
		result.SuccessScenarios = scenarioStats.success - result.RejectedScenarios
		result.ErrorRate = ratio(scenarioStats.failed, scenarioStats.calls)
		result.ScenarioLatencyMs = buildLatencySummary(scenarioStats.latencies)
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}

	for name, stats := range c.methods {
		codesCopy := make(map[string]int64, len(stats.codes))
		for code, count := range stats.codes {
			codesCopy[code] = count
		}
		result.Methods[name] = methodReport{
			Calls:     stats.calls,
			Success:   stats.success,
			Failed:    stats.failed,
			ErrorRate: ratio(stats.failed, stats.calls),
			Codes:     codesCopy,
			LatencyMs: buildLatencySummary(stats.latencies),
		}
	}

	return result
}

func parseConfig(args []string) (config, error) {
	var cfg config
	var modeValue string

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.addr, "addr", "localhost:50051", "gRPC target address")
	fs.StringVar(&cfg.httpAddr, "http-addr", "localhost:8080", "REST address used to read product stock; empty disables the stock check")
	fs.IntVar(&cfg.total, "total", 400, "total scenarios to execute; with -duration it is an upper bound")
	fs.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration (e.g. 1m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	fs.IntVar(&cfg.connections, "connections", 8, "number of gRPC client connections")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-RPC timeout")
	fs.StringVar(&modeValue, "mode", string(modeCreate), "load mode: create | create-delete")
	fs.Int64Var(&cfg.productID, "product", 5, "product id every order competes for")
	fs.IntVar(&cfg.quantity, "qty", 1, "units per order")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode
	cfg.httpAddr = strings.TrimSpace(cfg.httpAddr)

	switch {
	case cfg.duration < 0:
		return cfg, errors.New("duration must be >= 0")
	case cfg.total <= 0:
		return cfg, errors.New("total must be > 0")
	case cfg.concurrency <= 0:
		return cfg, errors.New("concurrency must be > 0")
	case cfg.connections <= 0:
		return cfg, errors.New("connections must be > 0")
	case cfg.timeout <= 0:
		return cfg, errors.New("timeout must be > 0")
	case cfg.productID <= 0:
		return cfg, errors.New("product must be > 0")
	case cfg.quantity <= 0 || cfg.quantity > math.MaxInt32:
		return cfg, errors.New("qty must be a positive int32")
	}

	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modeCreate:
		return modeCreate, nil
	case modeCreateDelete:
		return modeCreateDelete, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	conns := make([]*grpc.ClientConn, 0, cfg.connections)
	clients := make([]orderv1.OrderServiceClient, 0, cfg.connections)
	for i := 0; i < cfg.connections; i++ {
		conn, dialErr := grpc.NewClient(cfg.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if dialErr != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to create grpc client connection: %v\n", dialErr)
			os.Exit(1)
		}
		conns = append(conns, conn)
		clients = append(clients, orderv1.NewOrderServiceClient(conn))
	}
	defer func() {
		for _, conn := range conns {
			_ = conn.Close()
		}
	}()

	var products productReader
	if cfg.httpAddr != "" {
		products = restProductReader{baseURL: "http://" + cfg.httpAddr, client: &http.Client{Timeout: cfg.timeout}}
	}

	result, err := execute(context.Background(), cfg, clients, products)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "load test failed: %v\n", err)
		os.Exit(1)
	}

	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.FailedScenarios > 0 || (result.Stock != nil && !result.Stock.Consistent) {
		os.Exit(1)
	}
}

// execute снимает остаток, гоняет сценарии и сверяет остаток с зарезервированными единицами.
func execute(ctx context.Context, cfg config, clients []orderv1.OrderServiceClient, products productReader) (report, error) {
	if len(clients) == 0 {
		return report{}, errors.New("no grpc clients")
	}

	var before stockSnapshot
	if products != nil {
		snapshot, err := takeSnapshot(ctx, cfg, clients[0], products)
		if err != nil {
			return report{}, fmt.Errorf("snapshot before run: %w", err)
		}
		before = snapshot
	}

	startedAt := time.Now()
	col := newCollector()
	runScenarios(ctx, cfg, clients, col)
	result := col.buildReport(startedAt, time.Since(startedAt))

	if products != nil {
		after, err := takeSnapshot(ctx, cfg, clients[0], products)
		if err != nil {
			return result, fmt.Errorf("snapshot after run: %w", err)
		}
		check := compareSnapshots(before, after)
		result.Stock = &check
	}
	return result, nil
}

// runScenarios раздаёт сценарии не более чем concurrency горутинам.
func runScenarios(ctx context.Context, cfg config, clients []orderv1.OrderServiceClient, col *collector) {
	if cfg.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.duration)
		defer cancel()
	}

	var g errgroup.Group
	g.SetLimit(cfg.concurrency)
	for i := 0; i < cfg.total; i++ {
		if ctx.Err() != nil {
			break
		}
		client := clients[i%len(clients)]
		g.Go(func() error {
			runScenario(ctx, client, cfg, col)
			return nil
		})
	}
	_ = g.Wait()
}

func runScenario(ctx context.Context, client orderv1.OrderServiceClient, cfg config, col *collector) {
	scenarioStart := time.Now()
	scenarioCode := codes.OK
	defer func() {
		col.record("scenario", time.Since(scenarioStart), scenarioCode)
	}()

	req := &orderv1.CreateOrderRequest{
		CustomerName:    "Load Test",
		CustomerEmail:   "load@example.com",
		ShippingAddress: "Load test lane 1",
		Items: []*orderv1.CreateOrderItem{
			{ProductID: cfg.productID, Quantity: int32(cfg.quantity)},
		},
	}

	resp, err := callCreateOrder(ctx, client, cfg.timeout, req, col)
	if err != nil {
		scenarioCode = grpcCode(err)
		return
	}
	orderID := resp.GetOrder().GetID()
	if orderID <= 0 {
		scenarioCode = codes.Internal
		return
	}

	if cfg.mode == modeCreateDelete {
		if err := callDeleteOrder(ctx, client, cfg.timeout, orderID, col); err != nil {
			scenarioCode = grpcCode(err)
		}
	}
}

func callCreateOrder(
	ctx context.Context,
	client orderv1.OrderServiceClient,
	timeout time.Duration,
	req *orderv1.CreateOrderRequest,
	col *collector,
) (*orderv1.CreateOrderResponse, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ctx = metadata.AppendToOutgoingContext(ctx, idempotencyHeader, uuid.NewString())

	resp, err := client.CreateOrder(ctx, req)
	col.record("CreateOrder", time.Since(start), grpcCode(err))
	return resp, err
}

func callDeleteOrder(
	ctx context.Context,
	client orderv1.OrderServiceClient,
	timeout time.Duration,
	orderID int64,
	col *collector,
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ctx = metadata.AppendToOutgoingContext(ctx, idempotencyHeader, uuid.NewString())

	_, err := client.DeleteOrder(ctx, &orderv1.DeleteOrderRequest{OrderID: orderID})
	col.record("DeleteOrder", time.Since(start), grpcCode(err))
	return err
}

func grpcCode(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	return status.Code(err)
}

// productReader читает текущий остаток товара.
type productReader interface {
	Stock(ctx context.Context, productID int64) (int64, error)
}

type restProductReader struct {
	baseURL string
	client  *http.Client
}

func (r restProductReader) Stock(ctx context.Context, productID int64) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/api/products/%d", r.baseURL, productID), nil)
	if err != nil {
		return 0, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("get product %d: unexpected status %d", productID, resp.StatusCode)
	}

	var body struct {
		StockQuantity int64 `json:"stockQuantity"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decode product %d: %w", productID, err)
	}
	return body.StockQuantity, nil
}

// stockSnapshot — остаток товара и число его единиц в существующих заказах.
type stockSnapshot struct {
	Stock         int64
	ReservedUnits int64
}

type stockCheck struct {
	StockBefore    int64 `json:"stock_before"`
	StockAfter     int64 `json:"stock_after"`
	ReservedBefore int64 `json:"reserved_before"`
	ReservedAfter  int64 `json:"reserved_after"`
	Consistent     bool  `json:"consistent"`
}

func takeSnapshot(ctx context.Context, cfg config, client orderv1.OrderServiceClient, products productReader) (stockSnapshot, error) {
	stock, err := products.Stock(ctx, cfg.productID)
	if err != nil {
		return stockSnapshot{}, err
	}

	listCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()
	list, err := client.ListOrders(listCtx, &orderv1.ListOrdersRequest{})
	if err != nil {
		return stockSnapshot{}, fmt.Errorf("list orders: %w", err)
	}

	var reserved int64
	for _, order := range list.Orders {
		for _, item := range order.GetItems() {
			if item.ProductID == cfg.productID {
				reserved += int64(item.Quantity)
			}
		}
	}
	return stockSnapshot{Stock: stock, ReservedUnits: reserved}, nil
}

// compareSnapshots проверяет, что каждая списанная единица лежит в заказе и остаток не отрицательный.
func compareSnapshots(before, after stockSnapshot) stockCheck {
	taken := before.Stock - after.Stock
	reserved := after.ReservedUnits - before.ReservedUnits
	return stockCheck{
		StockBefore:    before.Stock,
		StockAfter:     after.Stock,
		ReservedBefore: before.ReservedUnits,
		ReservedAfter:  after.ReservedUnits,
		Consistent:     after.Stock >= 0 && taken == reserved,
	}
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- path is an explicit CLI output parameter for local load-test reports.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(w io.Writer, result report, cfg config) {
	_, _ = fmt.Fprintln(w, "Load test summary")
	_, _ = fmt.Fprintf(w, "mode=%s product=%d total=%d success=%d rejected=%d failed=%d error_rate=%.4f\n",
		cfg.mode,
		cfg.productID,
		result.TotalScenarios,
		result.SuccessScenarios,
		result.RejectedScenarios,
		result.FailedScenarios,
		result.ErrorRate,
	)
	_, _ = fmt.Fprintf(w, "duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	_, _ = fmt.Fprintf(w, "scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.ScenarioLatencyMs.Min,
		result.ScenarioLatencyMs.Avg,
		result.ScenarioLatencyMs.P50,
		result.ScenarioLatencyMs.P95,
		result.ScenarioLatencyMs.P99,
		result.ScenarioLatencyMs.Max,
	)

	methodNames := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		if name == "scenario" {
			continue
		}
		methodNames = append(methodNames, name)
	}
	sort.Strings(methodNames)
	for _, name := range methodNames {
		stats := result.Methods[name]
		_, _ = fmt.Fprintf(w,
			"%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name,
			stats.Calls,
			stats.Success,
			stats.Failed,
			stats.ErrorRate,
			stats.LatencyMs.P95,
		)
	}

	if result.Stock != nil {
		_, _ = fmt.Fprintf(w, "stock: before=%d after=%d reserved_before=%d reserved_after=%d consistent=%t\n",
			result.Stock.StockBefore,
			result.Stock.StockAfter,
			result.Stock.ReservedBefore,
			result.Stock.ReservedAfter,
			result.Stock.Consistent,
		)
	}
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
