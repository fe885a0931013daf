package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/stockoms/internal/domain"
)

type productView struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int32           `json:"stockQuantity"`
	CreatedAt     string          `json:"createdAt"`
	UpdatedAt     string          `json:"updatedAt"`
}

type productBody struct {
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int32           `json:"stockQuantity"`
}

type movementView struct {
	ID         int64  `json:"id"`
	ProductID  int64  `json:"productId"`
	OrderID    int64  `json:"orderId"`
	Delta      int32  `json:"delta"`
	Reason     string `json:"reason"`
	OccurredAt string `json:"occurredAt"`
}

func toProductView(p domain.Product) productView {
	return productView{
		ID:            p.ID,
		Name:          p.Name,
		Description:   p.Description,
		Price:         p.Price,
		StockQuantity: p.StockQuantity,
		CreatedAt:     formatTime(p.CreatedAt),
		UpdatedAt:     formatTime(p.UpdatedAt),
	}
}

func (h *Handler) listProducts(c echo.Context) error {
	products, err := h.catalog.ListProducts(c.Request().Context())
	if err != nil {
		return h.respondError(c, err, "list products")
	}

	views := make([]productView, 0, len(products))
	for _, p := range products {
		views = append(views, toProductView(p))
	}
	return c.JSON(http.StatusOK, views)
}

func (h *Handler) getProduct(c echo.Context) error {
	id, ok := parseID(c)
	if !ok {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "invalid product id")
	}

	product, err := h.catalog.GetProduct(c.Request().Context(), id)
	if err != nil {
		return h.respondError(c, err, "get product")
	}
	return c.JSON(http.StatusOK, toProductView(product))
}

func (h *Handler) createProduct(c echo.Context) error {
	var body productBody
	if err := c.Bind(&body); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "unable to parse product")
	}

	created, err := h.catalog.CreateProduct(c.Request().Context(), domain.Product{
		Name:          body.Name,
		Description:   body.Description,
		Price:         body.Price,
		StockQuantity: body.StockQuantity,
	})
	if err != nil {
		return h.respondError(c, err, "create product")
	}
	return c.JSON(http.StatusCreated, toProductView(created))
}

func (h *Handler) deleteProduct(c echo.Context) error {
	id, ok := parseID(c)
	if !ok {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "invalid product id")
	}

	if err := h.catalog.DeleteProduct(c.Request().Context(), id); err != nil {
		return h.respondError(c, err, "delete product")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) listMovements(c echo.Context) error {
	id, ok := parseID(c)
	if !ok {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "invalid product id")
	}

	movements, err := h.catalog.ListMovements(c.Request().Context(), id)
	if err != nil {
		return h.respondError(c, err, "list stock movements")
	}

	views := make([]movementView, 0, len(movements))
	for _, m := range movements {
		views = append(views, movementView{
			ID:         m.ID,
			ProductID:  m.ProductID,
			OrderID:    m.OrderID,
			Delta:      m.Delta,
			Reason:     string(m.Reason),
			OccurredAt: formatTime(m.OccurredAt),
		})
	}
	return c.JSON(http.StatusOK, views)
}
