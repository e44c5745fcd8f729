package utils

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ValidateAddress checks if a string is a valid Ethereum address
func ValidateAddress(address string) bool {
	return common.IsHexAddress(address)
}

// NormalizeAddress ensures an address is properly checksummed
func NormalizeAddress(address string) string {
	if !common.IsHexAddress(address) {
		return ""
	}
	return common.HexToAddress(address).Hex()
}

// SameAddress compares an address against its hex form, ignoring case.
// Malformed hex never matches.
func SameAddress(a common.Address, other string) bool {
	if !common.IsHexAddress(other) {
		return false
	}
	return common.HexToAddress(other) == a
}

// DecodeBytes32 decodes a 0x-prefixed 32-byte hex value.
func DecodeBytes32(s string) ([32]byte, error) {
	var out [32]byte

	s = strings.TrimSpace(s)
	if !strings.HasPrefix(strings.ToLower(s), "0x") || validate.Var(s, "len=66,hexadecimal") != nil {
		return out, fmt.Errorf("expected 0x-prefixed 32-byte hex, got %q", s)
	}

	b, err := hexutil.Decode("0x" + s[2:])
	if err != nil {
		return out, err
	}
	copy(out[:], b)
	return out, nil
}
