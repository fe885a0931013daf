package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/stockoms/internal/domain"
)

// productRepositoryInMemory управляет каталогом поверх Store.
// Все изменения идут через транзакцию на запись, чтобы не конфликтовать с движком заказов.
type productRepositoryInMemory struct {
	store *Store
}

// NewProductRepository создаёт in-memory реализацию ProductRepository.
func NewProductRepository(store *Store) domain.ProductRepository {
	return &productRepositoryInMemory{store: store}
}

func (r *productRepositoryInMemory) Create(ctx context.Context, product domain.Product) (domain.Product, error) {
	if errs := product.Validate(); len(errs) > 0 {
		return domain.Product{}, errors.Join(errs...)
	}

	err := r.store.InTx(ctx, func(_ context.Context, tx domain.Tx) error {
		st := txState(tx)
		now := time.Now().UTC()
		st.nextProductID++
		product.ID = st.nextProductID
		product.Name = strings.TrimSpace(product.Name)
		if product.CreatedAt.IsZero() {
			product.CreatedAt = now
		}
		product.UpdatedAt = product.CreatedAt
		st.products[product.ID] = product
		return nil
	})
	if err != nil {
		return domain.Product{}, err
	}
	return product, nil
}

func (r *productRepositoryInMemory) Get(ctx context.Context, id int64) (domain.Product, error) {
	var product domain.Product
	err := r.store.InReadTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		products, err := tx.Products().FetchProductsByIDs(ctx, []int64{id})
		if err != nil {
			return err
		}
		if len(products) == 0 {
			return &domain.ProductNotFoundError{ProductIDs: []int64{id}}
		}
		product = products[0]
		return nil
	})
	return product, err
}

// List возвращает каталог, упорядоченный по названию.
func (r *productRepositoryInMemory) List(ctx context.Context) ([]domain.Product, error) {
	var products []domain.Product
	err := r.store.InReadTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		products, err = tx.Products().ListProducts(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(products, func(i, j int) bool {
		if products[i].Name != products[j].Name {
			return products[i].Name < products[j].Name
		}
		return products[i].ID < products[j].ID
	})
	return products, nil
}

func (r *productRepositoryInMemory) Delete(ctx context.Context, id int64) error {
	return r.store.InTx(ctx, func(_ context.Context, tx domain.Tx) error {
		st := txState(tx)
		if _, ok := st.products[id]; !ok {
			return &domain.ProductNotFoundError{ProductIDs: []int64{id}}
		}
		// Аналог ON DELETE RESTRICT для order_items.product_id.
		for _, order := range st.orders {
			for _, item := range order.Items {
				if item.ProductID == id {
					return domain.ErrProductInUse
				}
			}
		}
		delete(st.products, id)
		return nil
	})
}

// txState открывает рабочую копию состояния для операций каталога.
func txState(tx domain.Tx) *state {
	return tx.(*memTx).state
}

var _ domain.ProductRepository = (*productRepositoryInMemory)(nil)
