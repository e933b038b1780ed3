package utils

import (
	"strings"

	"github.com/shopspring/decimal"
)

// FormatAmount renders an amount with two decimals and thousand separators.
// Examples:
//   - 5       -> "5.00"
//   - 0.1     -> "0.10"
//   - 1234567 -> "1,234,567.00"
func FormatAmount(d decimal.Decimal) string {
	s := d.StringFixed(2)

	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac, _ := strings.Cut(s, ".")

	// Add commas for thousands (from right to left)
	var formatted strings.Builder
	length := len(intPart)
	for i, r := range intPart {
		if i > 0 && (length-i)%3 == 0 {
			formatted.WriteString(",")
		}
		formatted.WriteRune(r)
	}

	return sign + formatted.String() + "." + frac
}

// Plural appends "s" to word unless n is exactly one.
func Plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
