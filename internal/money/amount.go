package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Precision is the number of fractional digits an Amount keeps (nanoTON).
const Precision = 9

// Unit is one whole coin expressed in nano units.
const Unit Amount = 1_000_000_000

var ErrInvalidAmount = errors.New("invalid amount")

// Amount is a crypto quantity in nano units. Stored as a plain integer so the
// database can apply increments in SQL.
type Amount int64

// Coins returns n whole coins.
func Coins(n int64) Amount {
	return Amount(n) * Unit
}

// Parse reads a decimal string such as "4" or "2.5". More than Precision
// fractional digits is rejected instead of rounded.
func Parse(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("%w: negative %q", ErrInvalidAmount, s)
	}
	if !d.Equal(d.Truncate(Precision)) {
		return 0, fmt.Errorf("%w: more than %d decimals in %q", ErrInvalidAmount, Precision, s)
	}
	nano := d.Shift(Precision)
	if nano.GreaterThan(decimal.NewFromInt(1 << 62)) {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidAmount, s)
	}
	return Amount(nano.IntPart()), nil
}

func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -Precision)
}

// String formats the amount without trailing zeros, e.g. "23" or "0.5".
func (a Amount) String() string {
	return a.Decimal().String()
}

// Whole reports the amount in whole coins, truncated.
func (a Amount) Whole() int64 {
	return int64(a / Unit)
}
