package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/stockoms/internal/domain"
)

type productRepository struct {
	db *sql.DB
}

// NewProductRepository создаёт PostgreSQL-реализацию ProductRepository.
func NewProductRepository(store *Store) domain.ProductRepository {
	return &productRepository{db: store.DB()}
}

func (r *productRepository) Create(ctx context.Context, product domain.Product) (domain.Product, error) {
	if errs := product.Validate(); len(errs) > 0 {
		return domain.Product{}, errors.Join(errs...)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = product.CreatedAt
	product.Name = strings.TrimSpace(product.Name)

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO products (name, description, price, stock_quantity, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id
	`, product.Name, product.Description, product.Price, product.StockQuantity, product.CreatedAt, product.UpdatedAt).
		Scan(&product.ID)
	if err != nil {
		return domain.Product{}, classify("create product", err)
	}
	return product, nil
}

func (r *productRepository) Get(ctx context.Context, id int64) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	product, err := scanProduct(r.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, &domain.ProductNotFoundError{ProductIDs: []int64{id}}
		}
		return domain.Product{}, classify("get product", err)
	}
	return product, nil
}

func (r *productRepository) List(ctx context.Context) ([]domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	products, err := queryProducts(ctx, r.db, `SELECT `+productColumns+` FROM products ORDER BY name, id`)
	if err != nil {
		return nil, classify("list products", err)
	}
	return products, nil
}

// Delete опирается на ON DELETE RESTRICT у order_items.product_id.
func (r *productRepository) Delete(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return domain.ErrProductInUse
		}
		return classify("delete product", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return classify("delete product", err)
	}
	if affected == 0 {
		return &domain.ProductNotFoundError{ProductIDs: []int64{id}}
	}
	return nil
}

var _ domain.ProductRepository = (*productRepository)(nil)
