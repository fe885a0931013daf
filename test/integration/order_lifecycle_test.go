package integration

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	jsoniter "github.com/json-iterator/go"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/vladislavdragonenkov/stockoms/api/orderv1"
	"github.com/vladislavdragonenkov/stockoms/internal/domain"
	"github.com/vladislavdragonenkov/stockoms/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/stockoms/internal/service/audit"
	"github.com/vladislavdragonenkov/stockoms/internal/service/catalog"
	grpcsvc "github.com/vladislavdragonenkov/stockoms/internal/service/grpc"
	"github.com/vladislavdragonenkov/stockoms/internal/service/httpapi"
	"github.com/vladislavdragonenkov/stockoms/internal/service/idempotency"
	"github.com/vladislavdragonenkov/stockoms/internal/service/orders"
	"github.com/vladislavdragonenkov/stockoms/internal/service/outbox"
	"github.com/vladislavdragonenkov/stockoms/internal/storage/memory"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// OrderLifecycleTestSuite прогоняет заказ через gRPC, REST, outbox и аудитор поверх одного хранилища.
type OrderLifecycleTestSuite struct {
	suite.Suite

	logger  *log.Entry
	store   *memory.Store
	service *orders.Service

	grpcServer *grpc.Server
	conn       *grpc.ClientConn
	client     orderv1.OrderServiceClient
	rest       *httptest.Server
}

func TestOrderLifecycleTestSuite(t *testing.T) {
	suite.Run(t, new(OrderLifecycleTestSuite))
}

func (s *OrderLifecycleTestSuite) SetupTest() {
	baseLogger := log.New()
	baseLogger.SetOutput(io.Discard)
	s.logger = baseLogger.WithField("component", "integration-test")

	ctx := context.Background()
	s.store = memory.NewStore()
	s.Require().NoError(memory.SeedCatalog(ctx, s.store))

	engine := orders.NewEngine(s.store, orders.WithEngineLogger(s.logger))
	s.service = orders.NewService(engine, orders.NewQuery(s.store), s.logger, nil)
	catalogSvc := catalog.NewService(memory.NewProductRepository(s.store), s.store, s.logger)
	guard := idempotency.NewGuard(memory.NewIdempotencyRepository(), time.Hour, s.logger)

	listener := bufconn.Listen(1024 * 1024)
	s.grpcServer = grpc.NewServer()
	orderv1.RegisterOrderServiceServer(s.grpcServer, grpcsvc.NewOrderService(s.service, guard, s.logger))
	go func() {
		_ = s.grpcServer.Serve(listener)
	}()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return listener.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	s.Require().NoError(err)
	s.conn = conn
	s.client = orderv1.NewOrderServiceClient(conn)

	handler := httpapi.NewHandler(s.service, catalogSvc, guard, s.logger)
	s.rest = httptest.NewServer(httpapi.NewServer(handler, s.logger))
}

func (s *OrderLifecycleTestSuite) TearDownTest() {
	s.rest.Close()
	_ = s.conn.Close()
	s.grpcServer.Stop()
}

func (s *OrderLifecycleTestSuite) rpcCtx(key string) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	s.T().Cleanup(cancel)
	if key == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "idempotency-key", key)
}

func (s *OrderLifecycleTestSuite) restJSON(method, path, body string, out any) int {
	req, err := http.NewRequest(method, s.rest.URL+path, strings.NewReader(body))
	s.Require().NoError(err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.rest.Client().Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		s.Require().NoError(json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

type productJSON struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	StockQuantity int32  `json:"stockQuantity"`
}

type movementJSON struct {
	OrderID int64  `json:"orderId"`
	Delta   int32  `json:"delta"`
	Reason  string `json:"reason"`
}

type orderJSON struct {
	ID          int64  `json:"id"`
	Status      string `json:"status"`
	TotalAmount string `json:"totalAmount"`
	ShippedDate string `json:"shippedDate"`
}

func (s *OrderLifecycleTestSuite) stock(productID int64) int32 {
	var product productJSON
	s.Require().Equal(http.StatusOK, s.restJSON(http.MethodGet, fmt.Sprintf("/api/products/%d", productID), "", &product))
	return product.StockQuantity
}

func (s *OrderLifecycleTestSuite) TestLifecycleAcrossTransports() {
	created, err := s.client.CreateOrder(s.rpcCtx("lifecycle-create"), &orderv1.CreateOrderRequest{
		CustomerName:    "Ada Lovelace",
		CustomerEmail:   "ada@example.com",
		ShippingAddress: "12 St James's Square, London",
		Items: []*orderv1.CreateOrderItem{
			{ProductID: 3, Quantity: 2},
			{ProductID: 4, Quantity: 1},
		},
	})
	s.Require().NoError(err)
	orderID := created.GetOrder().GetID()
	s.Equal("229.97", created.GetOrder().TotalAmount)
	s.EqualValues(98, s.stock(3))
	s.EqualValues(74, s.stock(4))

	var fetched orderJSON
	s.Require().Equal(http.StatusOK, s.restJSON(http.MethodGet, fmt.Sprintf("/api/orders/%d", orderID), "", &fetched))
	s.Equal("Pending", fetched.Status)
	s.Equal("229.97", fetched.TotalAmount)

	var shipped orderJSON
	s.Require().Equal(http.StatusOK, s.restJSON(http.MethodPatch, fmt.Sprintf("/api/orders/%d/status", orderID), `{"status":"Shipped"}`, &shipped))
	s.Equal("Shipped", shipped.Status)
	s.NotEmpty(shipped.ShippedDate)

	s.Equal(http.StatusConflict, s.restJSON(http.MethodPatch, fmt.Sprintf("/api/orders/%d/status", orderID), `{"status":"Pending"}`, nil))

	deleted, err := s.client.DeleteOrder(s.rpcCtx("lifecycle-delete"), &orderv1.DeleteOrderRequest{OrderID: orderID})
	s.Require().NoError(err)
	s.True(deleted.Deleted)
	s.EqualValues(100, s.stock(3))
	s.EqualValues(75, s.stock(4))

	s.Equal(http.StatusNotFound, s.restJSON(http.MethodGet, fmt.Sprintf("/api/orders/%d", orderID), "", nil))
	s.Equal(http.StatusNotFound, s.restJSON(http.MethodDelete, fmt.Sprintf("/api/orders/%d", orderID), "", nil))

	var movements []movementJSON
	s.Require().Equal(http.StatusOK, s.restJSON(http.MethodGet, "/api/products/3/movements", "", &movements))
	s.Require().Len(movements, 2)
	var balance int32
	for _, m := range movements {
		s.Equal(orderID, m.OrderID)
		balance += m.Delta
	}
	s.Zero(balance, "restock must cancel the reservation in the ledger")
}

func (s *OrderLifecycleTestSuite) TestRESTIdempotentCreate() {
	body := `{"customerName":"Linus","customerEmail":"linus@example.com","shippingAddress":"Helsinki","orderItems":[{"productId":2,"quantity":3}]}`

	send := func(payload string) (*http.Response, []byte) {
		req, err := http.NewRequest(http.MethodPost, s.rest.URL+"/api/orders", strings.NewReader(payload))
		s.Require().NoError(err)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", "rest-create-1")
		resp, err := s.rest.Client().Do(req)
		s.Require().NoError(err)
		defer resp.Body.Close()
		raw, err := io.ReadAll(resp.Body)
		s.Require().NoError(err)
		return resp, raw
	}

	first, firstBody := send(body)
	s.Equal(http.StatusCreated, first.StatusCode)

	second, secondBody := send(body)
	s.Equal(http.StatusCreated, second.StatusCode)
	s.Equal("true", second.Header.Get("Idempotent-Replayed"))
	s.JSONEq(string(firstBody), string(secondBody))
	s.EqualValues(197, s.stock(2))

	mismatch, _ := send(strings.Replace(body, `"quantity":3`, `"quantity":4`, 1))
	s.Equal(http.StatusUnprocessableEntity, mismatch.StatusCode)
}

func (s *OrderLifecycleTestSuite) TestConcurrentCreatesNeverOversell() {
	const attempts = 45

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		rejected int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.client.CreateOrder(s.rpcCtx(fmt.Sprintf("contention-%d", i)), &orderv1.CreateOrderRequest{
				CustomerName:    "Buyer",
				CustomerEmail:   "buyer@example.com",
				ShippingAddress: "Somewhere",
				Items:           []*orderv1.CreateOrderItem{{ProductID: 5, Quantity: 1}},
			})
			mu.Lock()
			defer mu.Unlock()
			switch status.Code(err) {
			case codes.OK:
				ok++
			case codes.FailedPrecondition:
				rejected++
			default:
				s.T().Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	s.Equal(30, ok)
	s.Equal(attempts-30, rejected)
	s.EqualValues(0, s.stock(5))

	report, err := audit.NewAuditor(s.store, audit.WithLogger(s.logger)).RunOnce(context.Background())
	s.Require().NoError(err)
	s.Empty(report.Violations)
	s.Equal(30, report.Orders)
}

func (s *OrderLifecycleTestSuite) TestOutboxDeliversEventsToKafka() {
	created, err := s.client.CreateOrder(s.rpcCtx("outbox-create"), &orderv1.CreateOrderRequest{
		CustomerName:    "Margaret Hamilton",
		CustomerEmail:   "margaret@example.com",
		ShippingAddress: "Cambridge, MA",
		Items:           []*orderv1.CreateOrderItem{{ProductID: 1, Quantity: 1}},
	})
	s.Require().NoError(err)
	orderID := created.GetOrder().GetID()

	_, err = s.client.DeleteOrder(s.rpcCtx("outbox-delete"), &orderv1.DeleteOrderRequest{OrderID: orderID})
	s.Require().NoError(err)

	var (
		mu     sync.Mutex
		events []kafka.Envelope
	)
	capture := func(msg *sarama.ProducerMessage) error {
		raw, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		envelope, err := kafka.DecodeEnvelope(raw)
		if err != nil {
			return err
		}
		if msg.Topic != kafka.TopicOrderEvents {
			return fmt.Errorf("unexpected topic %s", msg.Topic)
		}
		mu.Lock()
		events = append(events, envelope)
		mu.Unlock()
		return nil
	}

	producerMock := mocks.NewSyncProducer(s.T(), nil)
	producerMock.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(capture)
	producerMock.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(capture)
	producer := kafka.NewProducerWithClient(producerMock, s.logger)
	defer func() { s.NoError(producer.Close()) }()

	worker := outbox.NewWorker(s.store.Outbox(), kafka.NewOutboxPublisher(producer, ""), outbox.WithLogger(s.logger))
	sent, failed := worker.ProcessOnce(context.Background())
	s.Equal(2, sent)
	s.Zero(failed)

	s.Require().Len(events, 2)
	s.Equal(domain.EventOrderCreated, events[0].EventType)
	s.Equal(domain.EventOrderDeleted, events[1].EventType)

	var deletedPayload domain.OrderDeletedPayload
	s.Require().NoError(events[1].DecodePayload(&deletedPayload))
	s.Equal(orderID, deletedPayload.OrderID)
	s.True(deletedPayload.Restocked)

	stats, err := s.store.Outbox().Stats(context.Background())
	s.Require().NoError(err)
	s.Zero(stats.PendingCount)
}
