// Package amount converts between human decimal currency strings and the
// ledger's integer base units.
//
// All arithmetic is done on integers. A decimal such as "0.05" with an
// exponent of 18 becomes 50000000000000000 base units and converts back to
// exactly "0.05".
package amount

import (
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// EtherExponent is the number of fractional digits between ether and wei.
const EtherExponent = 18

// maxExponent keeps 10^exp inside a 256-bit word.
const maxExponent = 77

// ErrInvalidAmount is returned for malformed, negative, over-precise or
// overflowing decimal input.
var ErrInvalidAmount = errors.New("invalid amount")

type decimal struct {
	whole string
	frac  string
}

func parse(s string) (decimal, error) {
	if s == "" {
		return decimal{}, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	if strings.HasPrefix(s, "-") {
		return decimal{}, fmt.Errorf("%w: %q is negative", ErrInvalidAmount, s)
	}

	whole, frac, hasDot := strings.Cut(s, ".")
	if hasDot && frac == "" {
		return decimal{}, fmt.Errorf("%w: %q has no fractional digits", ErrInvalidAmount, s)
	}
	if whole == "" && frac == "" {
		return decimal{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if !allDigits(whole) || !allDigits(frac) {
		return decimal{}, fmt.Errorf("%w: %q is not a decimal number", ErrInvalidAmount, s)
	}
	return decimal{whole: whole, frac: frac}, nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func checkExponent(exp int) error {
	if exp < 0 || exp > maxExponent {
		return fmt.Errorf("%w: unit exponent %d out of range", ErrInvalidAmount, exp)
	}
	return nil
}

// ToBaseUnits converts a non-negative decimal string into base units with
// exp fractional digits.
func ToBaseUnits(s string, exp int) (*uint256.Int, error) {
	if err := checkExponent(exp); err != nil {
		return nil, err
	}
	d, err := parse(s)
	if err != nil {
		return nil, err
	}
	if len(d.frac) > exp {
		return nil, fmt.Errorf("%w: %q has more than %d fractional digits", ErrInvalidAmount, s, exp)
	}

	digits := strings.TrimLeft(d.whole+d.frac+strings.Repeat("0", exp-len(d.frac)), "0")
	if digits == "" {
		return new(uint256.Int), nil
	}

	v, err := uint256.FromDecimal(digits)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAmount, s, err)
	}
	return v, nil
}

// ToDecimalString renders base units as a canonical decimal string. A nil
// amount renders as "0".
func ToDecimalString(v *uint256.Int, exp int) string {
	if v == nil || v.IsZero() {
		return "0"
	}
	if exp <= 0 {
		return v.Dec()
	}

	digits := v.Dec()
	if len(digits) <= exp {
		digits = strings.Repeat("0", exp-len(digits)+1) + digits
	}
	whole := digits[:len(digits)-exp]
	frac := strings.TrimRight(digits[len(digits)-exp:], "0")
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}

// Canonical returns s with leading integer zeros and trailing fractional
// zeros removed, e.g. "00.50" -> "0.5" and ".5" -> "0.5".
func Canonical(s string) (string, error) {
	d, err := parse(s)
	if err != nil {
		return "", err
	}
	return d.canonical(), nil
}

func (d decimal) canonical() string {
	whole := strings.TrimLeft(d.whole, "0")
	if whole == "" {
		whole = "0"
	}
	frac := strings.TrimRight(d.frac, "0")
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}

// CompareDecimal compares two decimal strings numerically and returns -1, 0
// or +1. Malformed input sorts after every valid number; two malformed
// inputs compare equal.
func CompareDecimal(a, b string) int {
	da, errA := parse(a)
	db, errB := parse(b)
	switch {
	case errA != nil && errB != nil:
		return 0
	case errA != nil:
		return 1
	case errB != nil:
		return -1
	}

	wa := strings.TrimLeft(da.whole, "0")
	wb := strings.TrimLeft(db.whole, "0")
	if len(wa) != len(wb) {
		return sign(len(wa) - len(wb))
	}
	if c := strings.Compare(wa, wb); c != 0 {
		return c
	}

	fa, fb := da.frac, db.frac
	if len(fa) < len(fb) {
		fa += strings.Repeat("0", len(fb)-len(fa))
	} else {
		fb += strings.Repeat("0", len(fa)-len(fb))
	}
	return strings.Compare(fa, fb)
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}

// Sum adds base-unit amounts. The result saturates at the 256-bit maximum
// rather than wrapping.
func Sum(values ...*uint256.Int) *uint256.Int {
	total := new(uint256.Int)
	for _, v := range values {
		if v == nil {
			continue
		}
		if _, overflow := total.AddOverflow(total, v); overflow {
			return new(uint256.Int).SetAllOne()
		}
	}
	return total
}
