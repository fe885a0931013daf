package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/vladislavdragonenkov/stockoms/internal/domain"
	"github.com/vladislavdragonenkov/stockoms/internal/service/idempotency"
	"github.com/vladislavdragonenkov/stockoms/internal/service/orders"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"
	maxOrderBodyBytes    = 1 << 20
)

type orderItemBody struct {
	ProductID int64 `json:"productId"`
	Quantity  int32 `json:"quantity"`
}

type createOrderBody struct {
	CustomerName    string          `json:"customerName"`
	CustomerEmail   string          `json:"customerEmail"`
	ShippingAddress string          `json:"shippingAddress"`
	OrderItems      []orderItemBody `json:"orderItems"`
}

type statusBody struct {
	Status string `json:"status"`
}

func (b createOrderBody) toRequest() orders.CreateOrderRequest {
	req := orders.CreateOrderRequest{
		CustomerName:    b.CustomerName,
		CustomerEmail:   b.CustomerEmail,
		ShippingAddress: b.ShippingAddress,
		Items:           make([]orders.OrderItemRequest, 0, len(b.OrderItems)),
	}
	for _, item := range b.OrderItems {
		req.Items = append(req.Items, orders.OrderItemRequest{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return req
}

func (h *Handler) createOrder(c echo.Context) error {
	raw, err := io.ReadAll(io.LimitReader(c.Request().Body, maxOrderBodyBytes))
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "unable to read request body")
	}

	var body createOrderBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "request body is not valid JSON")
	}

	key := strings.TrimSpace(c.Request().Header.Get(headerIdempotencyKey))
	if key == "" || h.guard == nil {
		status, payload, _ := h.placeOrder(c, body)
		return c.JSON(status, payload)
	}

	ctx := c.Request().Context()
	replay, err := h.guard.Begin(ctx, key, idempotency.RequestHash("POST /api/orders", raw))
	switch {
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return fail(c, http.StatusUnprocessableEntity, "IDEMPOTENCY_KEY_REUSED", "idempotency key is already used with different request payload")
	case err != nil:
		return fail(c, http.StatusServiceUnavailable, "IDEMPOTENCY_UNAVAILABLE", "failed to initialize idempotency request")
	case replay != nil:
		return h.replay(c, replay)
	}

	status, payload, runErr := h.placeOrder(c, body)
	encoded, encErr := json.Marshal(payload)
	if encErr != nil {
		encoded = nil
	}
	h.guard.Finish(ctx, key, runErr, encoded, status)
	return c.JSON(status, payload)
}

// placeOrder оформляет заказ и возвращает HTTP-статус, тело ответа и исходную ошибку.
func (h *Handler) placeOrder(c echo.Context, body createOrderBody) (int, any, error) {
	view, err := h.orders.CreateOrder(c.Request().Context(), body.toRequest())
	if err != nil {
		status, code, message := h.describe(err, "create order")
		return status, errorBody{Error: message, Code: code}, err
	}
	c.Response().Header().Set(echo.HeaderLocation, fmt.Sprintf("/api/orders/%d", view.ID))
	return http.StatusCreated, view, nil
}

func (h *Handler) replay(c echo.Context, replay *idempotency.Replay) error {
	switch replay.Status {
	case domain.IdempotencyStatusProcessing:
		return fail(c, http.StatusConflict, "IDEMPOTENCY_IN_PROGRESS", "request with the same idempotency key is already processing")
	case domain.IdempotencyStatusDone, domain.IdempotencyStatusFailed:
		if len(replay.Body) == 0 || replay.StatusCode < 200 || replay.StatusCode > 599 {
			return fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "idempotency cache is empty")
		}
		c.Response().Header().Set(headerReplayed, "true")
		return c.JSONBlob(replay.StatusCode, replay.Body)
	default:
		return fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "unknown idempotency record status")
	}
}

func (h *Handler) listOrders(c echo.Context) error {
	views, err := h.orders.ListOrders(c.Request().Context())
	if err != nil {
		return h.respondError(c, err, "list orders")
	}
	return c.JSON(http.StatusOK, views)
}

func (h *Handler) getOrder(c echo.Context) error {
	id, ok := parseID(c)
	if !ok {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "invalid order id")
	}

	view, found, err := h.orders.GetOrder(c.Request().Context(), id)
	if err != nil {
		return h.respondError(c, err, "get order")
	}
	if !found {
		return fail(c, http.StatusNotFound, "ORDER_NOT_FOUND", fmt.Sprintf("order not found: %d", id))
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) deleteOrder(c echo.Context) error {
	id, ok := parseID(c)
	if !ok {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "invalid order id")
	}

	deleted, err := h.orders.DeleteOrder(c.Request().Context(), id)
	if err != nil {
		return h.respondError(c, err, "delete order")
	}
	if !deleted {
		return fail(c, http.StatusNotFound, "ORDER_NOT_FOUND", fmt.Sprintf("order not found: %d", id))
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) updateOrderStatus(c echo.Context) error {
	id, ok := parseID(c)
	if !ok {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "invalid order id")
	}

	var body statusBody
	if err := c.Bind(&body); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "request body is not valid JSON")
	}
	next, err := domain.ParseOrderStatus(body.Status)
	if err != nil {
		return fail(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	}

	view, err := h.orders.UpdateOrderStatus(c.Request().Context(), id, next)
	if err != nil {
		return h.respondError(c, err, "update order status")
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) respondError(c echo.Context, err error, operation string) error {
	status, code, message := h.describe(err, operation)
	return fail(c, status, code, message)
}

// describe переводит доменную ошибку в HTTP-статус, код и сообщение для клиента.
func (h *Handler) describe(err error, operation string) (int, string, string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "VALIDATION_ERROR", err.Error()
	case errors.Is(err, domain.ErrProductNotFound):
		return http.StatusNotFound, "PRODUCT_NOT_FOUND", err.Error()
	case errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound, "ORDER_NOT_FOUND", err.Error()
	case errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusConflict, "INSUFFICIENT_STOCK", err.Error()
	case errors.Is(err, domain.ErrInvalidStatusTransition):
		return http.StatusConflict, "INVALID_STATUS_TRANSITION", err.Error()
	case errors.Is(err, domain.ErrProductInUse):
		return http.StatusConflict, "PRODUCT_IN_USE", err.Error()
	case errors.Is(err, domain.ErrTxConflict):
		return http.StatusConflict, "TX_CONFLICT", "concurrent update, retry the request"
	default:
		h.logger.WithError(err).WithField("operation", operation).Error("request failed")
		return http.StatusServiceUnavailable, "STORE_ERROR", fmt.Sprintf("failed to %s, retry later", operation)
	}
}

func parseID(c echo.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
