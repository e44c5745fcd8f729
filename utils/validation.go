package utils

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// maxUint256 is 2^256 - 1.
var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// ValidateAmount checks if an amount string is a valid non-negative decimal
func ValidateAmount(amount string) (*decimal.Decimal, error) {
	if amount == "" {
		return nil, fmt.Errorf("amount cannot be empty")
	}

	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount format: %w", err)
	}

	if dec.IsNegative() {
		return nil, fmt.Errorf("amount cannot be negative")
	}

	return &dec, nil
}

const (
	// maxUint256Digits is the decimal length of 2^256 - 1.
	maxUint256Digits = 78

	// maxUint256Text bounds the raw text, leaving room for leading zeros,
	// a fraction of zeros and an exponent.
	maxUint256Text = 128
)

// ParseUint256 parses a base-10 integer (exponent notation allowed, e.g. "1e6")
// into an unsigned 256-bit value. The magnitude is bounded before the value is
// expanded, so "1e1000000000" fails without materialising the integer.
func ParseUint256(field, value string) (*big.Int, error) {
	if len(value) > maxUint256Text {
		return nil, fmt.Errorf("%s: longer than %d characters", field, maxUint256Text)
	}

	dec, err := ValidateAmount(value)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}

	coefficient := dec.Coefficient()
	if coefficient.Sign() == 0 {
		return new(big.Int), nil
	}

	// value = coefficient * 10^exp has digits+exp integer digits.
	digits := int64(len(coefficient.String()))
	exp := int64(dec.Exponent())
	if exp < 0 && -exp >= digits {
		return nil, fmt.Errorf("%s: must be an integer, got %s", field, value)
	}
	if digits+exp > maxUint256Digits {
		return nil, fmt.Errorf("%s: overflows uint256", field)
	}

	if !dec.IsInteger() {
		return nil, fmt.Errorf("%s: must be an integer, got %s", field, value)
	}

	n := dec.BigInt()
	if n.Cmp(maxUint256) > 0 {
		return nil, fmt.Errorf("%s: overflows uint256", field)
	}
	return n, nil
}

// ParseUint64 is ParseUint256 narrowed to 64 bits.
func ParseUint64(field, value string) (uint64, error) {
	n, err := ParseUint256(field, value)
	if err != nil {
		return 0, err
	}
	if !n.IsUint64() {
		return 0, fmt.Errorf("%s: overflows uint64", field)
	}
	return n.Uint64(), nil
}

// FormatAmountFromBigInt formats a big.Int amount to decimal string with specified decimals
func FormatAmountFromBigInt(amount *big.Int, decimals int) string {
	dec := decimal.NewFromBigInt(amount, -int32(decimals))
	return dec.String()
}
