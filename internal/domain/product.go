package domain

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	// MaxProductNameLen ограничивает длину названия товара.
	MaxProductNameLen = 200
	// MaxProductDescriptionLen ограничивает длину описания товара.
	MaxProductDescriptionLen = 1000
)

// Product — товар каталога с текущей ценой и остатком на складе.
type Product struct {
	ID            int64
	Name          string
	Description   string
	Price         decimal.Decimal
	StockQuantity int32
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Validate проверяет ограничения товара перед сохранением в каталог.
func (p *Product) Validate() []error {
	var errs []error

	name := strings.TrimSpace(p.Name)
	if name == "" {
		errs = append(errs, ErrProductNameRequired)
	} else if utf8.RuneCountInString(name) > MaxProductNameLen {
		errs = append(errs, ErrProductNameTooLong)
	}
	if utf8.RuneCountInString(p.Description) > MaxProductDescriptionLen {
		errs = append(errs, ErrProductDescriptionTooLong)
	}
	if !IsMoney(p.Price) {
		errs = append(errs, ErrProductPriceInvalid)
	}
	if p.StockQuantity < 0 {
		errs = append(errs, ErrProductStockNegative)
	}

	return errs
}

// ProductIndex строит индекс товаров по идентификатору.
func ProductIndex(products []Product) map[int64]Product {
	index := make(map[int64]Product, len(products))
	for _, p := range products {
		index[p.ID] = p
	}
	return index
}
