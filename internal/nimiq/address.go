package nimiq

import (
	"math/big"
	"strings"
)

const (
	addressPrefix = "NQ"
	addressLength = 36
)

var ninetySeven = big.NewInt(97)

// NormalizeAddress removes spaces and upper-cases a user supplied address.
func NormalizeAddress(address string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(address), " ", ""))
}

// ValidAddress reports whether address is a user-friendly Nimiq address:
// "NQ", two IBAN check digits and 32 alphanumeric characters.
// Spaces and letter case are ignored.
func ValidAddress(address string) bool {
	s := NormalizeAddress(address)
	if len(s) != addressLength || !strings.HasPrefix(s, addressPrefix) {
		return false
	}
	return ibanCheck(s[4:]+s[:4]) == 1
}

// FormatAddress returns the canonical form used on chain: upper case, groups of four.
func FormatAddress(address string) string {
	s := NormalizeAddress(address)
	var b strings.Builder
	for i, r := range s {
		if i > 0 && i%4 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func ibanCheck(s string) int64 {
	var digits strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			digits.WriteString(big.NewInt(int64(r-'A') + 10).String())
		default:
			return -1
		}
	}
	n, ok := new(big.Int).SetString(digits.String(), 10)
	if !ok {
		return -1
	}
	return new(big.Int).Mod(n, ninetySeven).Int64()
}
