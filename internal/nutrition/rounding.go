package nutrition

import "github.com/shopspring/decimal"

// Round1 rounds to one decimal place, halves away from zero.
func Round1(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(1).Float64()
	return f
}

// RoundInt rounds to the nearest integer, halves away from zero.
func RoundInt(v float64) int {
	return int(decimal.NewFromFloat(v).Round(0).IntPart())
}

// Mean returns the arithmetic mean of values as an exact decimal.
func Mean(values []float64) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(decimal.NewFromFloat(v))
	}
	return sum.Div(decimal.NewFromInt(int64(len(values))))
}
