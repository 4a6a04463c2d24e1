package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// hastingsExponent is the power of ten between one siacoin and its smallest unit.
	hastingsExponent = 24
	// addressLength is the length of a hex-encoded unlock hash with checksum.
	addressLength = 76
)

// HastingsPerSiacoin is 10^24.
var HastingsPerSiacoin = decimal.New(1, hastingsExponent)

// SiacoinsToHastings converts a human-facing coin amount to hastings.
// Amounts finer than one hasting are rejected rather than rounded.
func SiacoinsToHastings(sc decimal.Decimal) (decimal.Decimal, error) {
	h := sc.Shift(hastingsExponent)
	if !h.IsInteger() {
		return decimal.Zero, validationError("%s SC is not a whole number of hastings", sc.String())
	}
	return h.Truncate(0), nil
}

// HastingsToSiacoins converts hastings to coins without loss of precision.
func HastingsToSiacoins(h decimal.Decimal) decimal.Decimal {
	return h.Shift(-hastingsExponent)
}

// ParseSiacoins parses a decimal coin amount such as "12.5" and returns it in hastings.
func ParseSiacoins(s string) (decimal.Decimal, error) {
	sc, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, validationError("invalid siacoin amount %q", s)
	}
	return SiacoinsToHastings(sc)
}

// ValidateAddress checks the shape of a wallet address.
func ValidateAddress(address string) error {
	if len(address) != addressLength {
		return validationError("address must be %d characters, got %d", addressLength, len(address))
	}
	for _, r := range address {
		if !isAlnum(r) {
			return validationError("address contains non-alphanumeric character %q", r)
		}
	}
	return nil
}

func isAlnum(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
