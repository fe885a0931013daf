// Package httpapi — REST API заказов и каталога на echo.
package httpapi

import (
	"errors"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockoms/internal/service/catalog"
	"github.com/vladislavdragonenkov/stockoms/internal/service/idempotency"
	"github.com/vladislavdragonenkov/stockoms/internal/service/orders"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Handler обслуживает маршруты /api/orders и /api/products.
type Handler struct {
	orders  *orders.Service
	catalog *catalog.Service
	guard   *idempotency.Guard
	logger  *log.Entry
}

// NewHandler создаёт обработчик REST API. guard может быть nil: Idempotency-Key тогда игнорируется.
func NewHandler(ordersSvc *orders.Service, catalogSvc *catalog.Service, guard *idempotency.Guard, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.WithField("component", "http-api")
	}
	return &Handler{orders: ordersSvc, catalog: catalogSvc, guard: guard, logger: logger}
}

// Register добавляет маршруты API в группу /api.
func (h *Handler) Register(e *echo.Echo) {
	api := e.Group("/api")

	api.POST("/orders", h.createOrder)
	api.GET("/orders", h.listOrders)
	api.GET("/orders/:id", h.getOrder)
	api.DELETE("/orders/:id", h.deleteOrder)
	api.PATCH("/orders/:id/status", h.updateOrderStatus)

	api.GET("/products", h.listProducts)
	api.POST("/products", h.createProduct)
	api.GET("/products/:id", h.getProduct)
	api.DELETE("/products/:id", h.deleteProduct)
	api.GET("/products/:id/movements", h.listMovements)
}

// NewServer собирает echo с JSON на json-iterator, логированием запросов и единым форматом ошибок.
func NewServer(h *Handler, logger *log.Entry) *echo.Echo {
	if logger == nil {
		logger = log.WithField("component", "http-api")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = jsonSerializer{}
	e.HTTPErrorHandler = errorHandler(logger)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			logger.WithFields(log.Fields{
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency_ms": v.Latency.Milliseconds(),
				"remote_ip":  v.RemoteIP,
			}).Debug("http request")
			return nil
		},
	}))

	h.Register(e)
	return e
}

// errorBody — формат всех ошибок API.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func fail(c echo.Context, status int, code, message string) error {
	return c.JSON(status, errorBody{Error: message, Code: code})
}

// errorHandler приводит ошибки echo (404 маршрута, 405, panic) к формату errorBody.
func errorHandler(logger *log.Entry) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		message := http.StatusText(status)
		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
			if m, ok := he.Message.(string); ok {
				message = m
			} else {
				message = http.StatusText(status)
			}
		} else {
			logger.WithError(err).Error("unhandled http error")
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(status)
			return
		}
		_ = fail(c, status, httpErrorCode(status), message)
	}
}

func httpErrorCode(status int) string {
	switch status {
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case http.StatusBadRequest:
		return "INVALID_REQUEST"
	case http.StatusUnsupportedMediaType:
		return "UNSUPPORTED_MEDIA_TYPE"
	default:
		return "INTERNAL_ERROR"
	}
}

// jsonSerializer подключает json-iterator к echo.
type jsonSerializer struct{}

func (jsonSerializer) Serialize(c echo.Context, i interface{}, indent string) error {
	enc := json.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

func (jsonSerializer) Deserialize(c echo.Context, i interface{}) error {
	err := json.NewDecoder(c.Request().Body).Decode(i)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "request body is not valid JSON").SetInternal(err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
