package catalog

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockoms/internal/domain"
)

// Service управляет каталогом товаров и отдаёт журнал движения остатков.
type Service struct {
	products domain.ProductRepository
	tx       domain.TxManager
	logger   *log.Entry
}

// NewService создаёт сервис каталога.
func NewService(products domain.ProductRepository, tx domain.TxManager, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "catalog")
	}
	return &Service{products: products, tx: tx, logger: logger}
}

// ListProducts возвращает товары, упорядоченные по названию.
func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	products, err := s.products.List(ctx)
	if err != nil {
		return nil, domain.NewStoreError("list products", err)
	}
	if products == nil {
		products = make([]domain.Product, 0)
	}
	return products, nil
}

// GetProduct возвращает товар или ProductNotFoundError.
func (s *Service) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	product, err := s.products.Get(ctx, id)
	if err != nil {
		return domain.Product{}, domain.NewStoreError("get product", err)
	}
	return product, nil
}

// CreateProduct проверяет и сохраняет новый товар.
func (s *Service) CreateProduct(ctx context.Context, product domain.Product) (domain.Product, error) {
	product.Name = strings.TrimSpace(product.Name)
	if errs := product.Validate(); len(errs) > 0 {
		return domain.Product{}, &domain.ValidationError{Field: "product", Reason: errs[0].Error()}
	}

	created, err := s.products.Create(ctx, product)
	if err != nil {
		return domain.Product{}, domain.NewStoreError("create product", err)
	}

	s.logger.WithFields(log.Fields{
		"product_id": created.ID,
		"name":       created.Name,
		"stock":      created.StockQuantity,
	}).Info("product created")
	return created, nil
}

// DeleteProduct удаляет товар, если на него не ссылаются заказы.
func (s *Service) DeleteProduct(ctx context.Context, id int64) error {
	if err := s.products.Delete(ctx, id); err != nil {
		return domain.NewStoreError("delete product", err)
	}
	s.logger.WithField("product_id", id).Info("product deleted")
	return nil
}

// ListMovements возвращает журнал остатков товара в хронологическом порядке.
func (s *Service) ListMovements(ctx context.Context, productID int64) ([]domain.StockMovement, error) {
	var movements []domain.StockMovement
	err := s.tx.InReadTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		products, err := tx.Products().FetchProductsByIDs(ctx, []int64{productID})
		if err != nil {
			return err
		}
		if len(products) == 0 {
			return &domain.ProductNotFoundError{ProductIDs: []int64{productID}}
		}
		movements, err = tx.Ledger().ListByProduct(ctx, productID)
		return err
	})
	if err != nil {
		return nil, domain.NewStoreError("list stock movements", err)
	}
	if movements == nil {
		movements = make([]domain.StockMovement, 0)
	}
	return movements, nil
}
