package domain

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Money is a currency amount in integer minor units (cents). Amounts are
// never negative; arithmetic that would wrap fails instead.
type Money int64

// ErrNegativeAmount signals an operation that would produce a negative amount.
var ErrNegativeAmount = errors.New("money: amount must not be negative")

// ErrAmountOverflow signals an operation whose result exceeds int64.
var ErrAmountOverflow = errors.New("money: amount overflows int64")

// NewMoney validates v as a non-negative minor-unit amount.
func NewMoney(v int64) (Money, error) {
	if v < 0 {
		return 0, fmt.Errorf("%w: %d", ErrNegativeAmount, v)
	}
	return Money(v), nil
}

// Add returns m+other, failing when the sum would wrap past int64.
func (m Money) Add(other Money) (Money, error) {
	if other > math.MaxInt64-m {
		return 0, fmt.Errorf("%w: %d + %d", ErrAmountOverflow, int64(m), int64(other))
	}
	return m + other, nil
}

// Sub returns m-other, failing when the result would be negative.
func (m Money) Sub(other Money) (Money, error) {
	if other > m {
		return 0, fmt.Errorf("%w: %d - %d", ErrNegativeAmount, int64(m), int64(other))
	}
	return m - other, nil
}

// Minor returns the raw minor-unit value.
func (m Money) Minor() int64 {
	return int64(m)
}

// Major splits the amount into major units and the minor remainder,
// assuming a two-decimal currency.
func (m Money) Major() (int64, int64) {
	return int64(m) / 100, int64(m) % 100
}

// ParseMajor converts a decimal major-unit string such as "42.50" into
// minor units without passing through floating point. Amounts arriving in
// major units are converted here, at the boundary, before they reach the
// ledger.
func ParseMajor(value string) (Money, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, errors.New("money: empty amount")
	}
	if strings.HasPrefix(value, "-") {
		return 0, fmt.Errorf("%w: %s", ErrNegativeAmount, value)
	}

	whole := value
	frac := "0"
	if idx := strings.IndexByte(value, '.'); idx >= 0 {
		whole = value[:idx]
		frac = value[idx+1:]
	}
	if whole == "" {
		whole = "0"
	}
	switch len(frac) {
	case 1:
		frac += "0"
	case 2:
	default:
		return 0, fmt.Errorf("money: invalid amount %q", value)
	}

	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("money: invalid amount %q", value)
	}
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("money: invalid amount %q", value)
	}
	if units > (math.MaxInt64-cents)/100 {
		return 0, fmt.Errorf("%w: %s", ErrAmountOverflow, value)
	}
	return Money(units*100 + cents), nil
}
