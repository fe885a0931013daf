package domain

import "github.com/shopspring/decimal"

// MoneyScale — количество знаков после запятой у денежных сумм (decimal(18,2) в БД).
const MoneyScale int32 = 2

// LineTotal считает стоимость позиции: цена * количество, без потери точности.
func LineTotal(unitPrice decimal.Decimal, qty int32) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt32(qty))
}

// IsMoney проверяет, что значение неотрицательно и имеет не больше MoneyScale знаков.
func IsMoney(d decimal.Decimal) bool {
	if d.IsNegative() {
		return false
	}
	return d.Equal(d.Truncate(MoneyScale))
}

// SumMoney складывает суммы; пустой список даёт ноль.
func SumMoney(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}
