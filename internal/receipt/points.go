package receipt

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// CalculatePoints converts a monetary amount into reward points, one point per cent,
// rounded half away from zero. A missing amount earns no points.
func CalculatePoints(amount decimal.NullDecimal) (int64, error) {
	if !amount.Valid {
		return 0, nil
	}
	if amount.Decimal.IsNegative() {
		return 0, fmt.Errorf("%w: %s", ErrInvalidAmount, amount.Decimal)
	}
	return amount.Decimal.Shift(2).Round(0).IntPart(), nil
}
