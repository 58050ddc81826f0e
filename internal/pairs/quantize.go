package pairs

import "github.com/shopspring/decimal"

// Quantize floors amount to a multiple of increment. The result never
// exceeds the input and quantizing twice is a no-op.
func Quantize(amount, increment decimal.Decimal) decimal.Decimal {
	if increment.IsZero() {
		return amount
	}
	return amount.Div(increment).Floor().Mul(increment)
}

// QuantizeSize floors a size to the pair's common increment.
func (p Pair) QuantizeSize(size decimal.Decimal) decimal.Decimal {
	return Quantize(size, p.CommonSizeIncrement)
}

// MeetsMinSize reports whether a quantized size is tradable on both legs.
func (p Pair) MeetsMinSize(size decimal.Decimal) bool {
	return size.GreaterThanOrEqual(p.CommonMinSize) && size.IsPositive()
}
