package wallet_http

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"wallet/internal/domain"
)

var (
	maxMinorUnits = decimal.NewFromInt(math.MaxInt64)
	minMinorUnits = decimal.NewFromInt(math.MinInt64)
)

// Currency converts between decimal strings in major units and integer
// minor units. Exponent 2 means "12.34" is 1234.
type Currency struct {
	Exponent int32
}

func (c Currency) Parse(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, domain.NewError(domain.KindInvalidAmount, fmt.Sprintf("amount %q is not a decimal number", s), err)
	}
	minor := d.Shift(c.Exponent)
	if !minor.IsInteger() {
		return 0, domain.NewError(domain.KindInvalidAmount,
			fmt.Sprintf("amount %q has more than %d fractional digits", s, c.Exponent), nil)
	}
	if minor.GreaterThan(maxMinorUnits) || minor.LessThan(minMinorUnits) {
		return 0, domain.NewError(domain.KindInvalidAmount, fmt.Sprintf("amount %q is out of range", s), nil)
	}
	return minor.IntPart(), nil
}

func (c Currency) Format(minor int64) string {
	return decimal.New(minor, -c.Exponent).StringFixed(c.Exponent)
}
