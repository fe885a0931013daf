package memory

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/stockoms/internal/domain"
)

// DefaultCatalog — стартовый каталог; совпадает с миграцией 0002_seed_products.
func DefaultCatalog() []domain.Product {
	return []domain.Product{
		{Name: "Laptop", Description: "High-performance laptop for professionals", Price: decimal.RequireFromString("1299.99"), StockQuantity: 50},
		{Name: "Wireless Mouse", Description: "Ergonomic wireless mouse", Price: decimal.RequireFromString("29.99"), StockQuantity: 200},
		{Name: "Mechanical Keyboard", Description: "RGB mechanical gaming keyboard", Price: decimal.RequireFromString("89.99"), StockQuantity: 100},
		{Name: "USB-C Hub", Description: "Multi-port USB-C hub with HDMI", Price: decimal.RequireFromString("49.99"), StockQuantity: 75},
		{Name: "Webcam HD", Description: "1080p HD webcam for video calls", Price: decimal.RequireFromString("79.99"), StockQuantity: 30},
	}
}

// SeedCatalog заполняет пустое хранилище стартовым каталогом.
// Если товары уже есть, ничего не делает.
func SeedCatalog(ctx context.Context, store *Store) error {
	store.mu.RLock()
	empty := len(store.state.products) == 0
	store.mu.RUnlock()
	if !empty {
		return nil
	}

	repo := NewProductRepository(store)
	for _, product := range DefaultCatalog() {
		if _, err := repo.Create(ctx, product); err != nil {
			return fmt.Errorf("seed product %q: %w", product.Name, err)
		}
	}
	return nil
}
