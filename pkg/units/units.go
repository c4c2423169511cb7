// Package units converts between exact decimal strings and integer base units.
package units

import (
	"fmt"
	"math/big"
	"strings"
)

// ErrInvalidDecimals is returned for negative precision.
var ErrInvalidDecimals = fmt.Errorf("decimals must be non-negative")

// ParseDecimal splits a non-negative decimal string into its whole and fractional digits.
func ParseDecimal(amount string) (whole, frac string, err error) {
	s := strings.TrimSpace(amount)
	whole, frac, hasPoint := strings.Cut(s, ".")
	if whole == "" && frac == "" {
		return "", "", fmt.Errorf("invalid decimal amount %q", amount)
	}
	if hasPoint && strings.Contains(frac, ".") {
		return "", "", fmt.Errorf("invalid decimal amount %q", amount)
	}
	if !allDigits(whole) || !allDigits(frac) {
		return "", "", fmt.Errorf("invalid decimal amount %q", amount)
	}
	return whole, frac, nil
}

// ToBaseUnits converts a decimal string to base units, truncating any
// fractional digits beyond decimals. The result has no leading zeros and is
// never empty.
func ToBaseUnits(amount string, decimals int) (string, error) {
	n, err := ToBaseUnitsInt(amount, decimals)
	if err != nil {
		return "", err
	}
	return n.String(), nil
}

// ToBaseUnitsInt is ToBaseUnits returning a big.Int.
func ToBaseUnitsInt(amount string, decimals int) (*big.Int, error) {
	if decimals < 0 {
		return nil, ErrInvalidDecimals
	}
	whole, frac, err := ParseDecimal(amount)
	if err != nil {
		return nil, err
	}
	if len(frac) > decimals {
		frac = frac[:decimals]
	} else {
		frac += strings.Repeat("0", decimals-len(frac))
	}

	digits := strings.TrimLeft(whole+frac, "0")
	if digits == "" {
		return new(big.Int), nil
	}
	n, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("invalid decimal amount %q", amount)
	}
	return n, nil
}

// FromBaseUnits renders an integer amount of base units as a decimal string
// without trailing fractional zeros.
func FromBaseUnits(amount string, decimals int) (string, error) {
	if decimals < 0 {
		return "", ErrInvalidDecimals
	}
	n, ok := new(big.Int).SetString(strings.TrimSpace(amount), 10)
	if !ok || n.Sign() < 0 {
		return "", fmt.Errorf("invalid base unit amount %q", amount)
	}
	return FormatBaseUnits(n, decimals), nil
}

// FormatBaseUnits is FromBaseUnits over a big.Int. n must be non-negative.
func FormatBaseUnits(n *big.Int, decimals int) string {
	s := n.String()
	if decimals == 0 {
		return s
	}
	if len(s) <= decimals {
		s = strings.Repeat("0", decimals-len(s)+1) + s
	}
	point := len(s) - decimals
	out := s[:point] + "." + s[point:]
	out = strings.TrimRight(out, "0")
	return strings.TrimSuffix(out, ".")
}

func allDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
