// Package eip712 builds the typed-data signing domain and digest for deferred
// escrow vouchers and recovers the account that signed them.
package eip712

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const (
	DefaultDomainName    = "X402DeferredEscrow"
	DefaultDomainVersion = "1"

	DomainPrimaryType  = "EIP712Domain"
	VoucherPrimaryType = "Voucher"
)

// DomainFields is the EIP712Domain schema. Ordering matters.
var DomainFields = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

// VoucherFields is the signing schema of a voucher. The field order is part of
// the signature and must match what clients sign.
var VoucherFields = []apitypes.Type{
	{Name: "id", Type: "bytes32"},
	{Name: "buyer", Type: "address"},
	{Name: "seller", Type: "address"},
	{Name: "valueAggregate", Type: "uint256"},
	{Name: "asset", Type: "address"},
	{Name: "timestamp", Type: "uint64"},
	{Name: "nonce", Type: "uint256"},
	{Name: "escrow", Type: "address"},
	{Name: "chainId", Type: "uint256"},
}

var (
	domainTypeHash  = crypto.Keccak256Hash([]byte(EncodeType(DomainPrimaryType, DomainFields)))
	voucherTypeHash = crypto.Keccak256Hash([]byte(EncodeType(VoucherPrimaryType, VoucherFields)))
)

// Domain scopes a signature to one escrow deployment on one chain.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// NewDomain builds the signing domain, falling back to the default name and
// version when they are empty.
func NewDomain(chainID *big.Int, verifyingContract common.Address, name, version string) Domain {
	if name == "" {
		name = DefaultDomainName
	}
	if version == "" {
		version = DefaultDomainVersion
	}
	return Domain{
		Name:              name,
		Version:           version,
		ChainID:           new(big.Int).Set(chainID),
		VerifyingContract: verifyingContract,
	}
}

// Voucher is a decoded voucher with every field at its exact signing width.
type Voucher struct {
	ID             [32]byte
	Buyer          common.Address
	Seller         common.Address
	ValueAggregate *big.Int
	Asset          common.Address
	Timestamp      uint64
	Nonce          *big.Int
	Escrow         common.Address
	ChainID        *big.Int
}

// EncodeType renders "Name(type1 name1,type2 name2,...)". No nested types are
// used by the voucher schema.
func EncodeType(typeName string, fields []apitypes.Type) string {
	var b strings.Builder
	b.WriteString(typeName)
	b.WriteRune('(')
	for i, f := range fields {
		if i > 0 {
			b.WriteRune(',')
		}
		b.WriteString(f.Type)
		b.WriteRune(' ')
		b.WriteString(f.Name)
	}
	b.WriteRune(')')
	return b.String()
}

// Helpers ---------------------------------------------------------------------

// uint256Word left-pads an unsigned integer into a 32-byte ABI word.
func uint256Word(field string, i *big.Int) ([]byte, error) {
	if i == nil {
		return nil, fmt.Errorf("%s is missing", field)
	}
	if i.Sign() < 0 {
		return nil, fmt.Errorf("%s must not be negative", field)
	}
	if i.BitLen() > 256 {
		return nil, fmt.Errorf("%s overflows uint256", field)
	}
	return common.LeftPadBytes(i.Bytes(), 32), nil
}

func addressWord(a common.Address) []byte {
	return common.LeftPadBytes(a.Bytes(), 32)
}

// EIP712 Domain Separator -----------------------------------------------------

// DomainSeparator computes
// keccak256(abi.encode(domainTypeHash, keccak256(name), keccak256(version), chainId, verifyingContract))
func DomainSeparator(d Domain) (common.Hash, error) {
	chainID, err := uint256Word("chainId", d.ChainID)
	if err != nil {
		return common.Hash{}, err
	}

	return crypto.Keccak256Hash(
		domainTypeHash.Bytes(),
		crypto.Keccak256([]byte(d.Name)),
		crypto.Keccak256([]byte(d.Version)),
		chainID,
		addressWord(d.VerifyingContract),
	), nil
}

// Voucher struct hash ---------------------------------------------------------

// HashVoucher computes keccak256(abi.encode(VOUCHER_TYPEHASH, id, buyer, seller,
// valueAggregate, asset, timestamp, nonce, escrow, chainId)).
func HashVoucher(v *Voucher) (common.Hash, error) {
	if v == nil {
		return common.Hash{}, errors.New("voucher is nil")
	}
	value, err := uint256Word("valueAggregate", v.ValueAggregate)
	if err != nil {
		return common.Hash{}, err
	}
	nonce, err := uint256Word("nonce", v.Nonce)
	if err != nil {
		return common.Hash{}, err
	}
	chainID, err := uint256Word("chainId", v.ChainID)
	if err != nil {
		return common.Hash{}, err
	}
	timestamp := common.LeftPadBytes(new(big.Int).SetUint64(v.Timestamp).Bytes(), 32)

	return crypto.Keccak256Hash(
		voucherTypeHash.Bytes(),
		v.ID[:],
		addressWord(v.Buyer),
		addressWord(v.Seller),
		value,
		addressWord(v.Asset),
		timestamp,
		nonce,
		addressWord(v.Escrow),
		chainID,
	), nil
}

// Final EIP-712 Digest -------------------------------------------------------

// TypedDataHash returns keccak256("\x19\x01" ‖ domainSeparator ‖ structHash).
func TypedDataHash(domainSeparator, structHash common.Hash) common.Hash {
	return crypto.Keccak256Hash([]byte{0x19, 0x01}, domainSeparator.Bytes(), structHash.Bytes())
}

// VoucherDigest is the digest a buyer signs for v under domain d.
func VoucherDigest(d Domain, v *Voucher) (common.Hash, error) {
	domainSep, err := DomainSeparator(d)
	if err != nil {
		return common.Hash{}, fmt.Errorf("domain separator: %w", err)
	}
	structHash, err := HashVoucher(v)
	if err != nil {
		return common.Hash{}, fmt.Errorf("voucher hash: %w", err)
	}
	return TypedDataHash(domainSep, structHash), nil
}

// TypedData renders the domain and voucher as an eth_signTypedData_v4 document,
// the form wallets sign.
func (d Domain) TypedData(v *Voucher) apitypes.TypedData {
	msg := apitypes.TypedDataMessage{
		"id":        hexutil.Encode(v.ID[:]),
		"buyer":     v.Buyer.Hex(),
		"seller":    v.Seller.Hex(),
		"asset":     v.Asset.Hex(),
		"timestamp": new(big.Int).SetUint64(v.Timestamp),
		"escrow":    v.Escrow.Hex(),
	}
	if v.ValueAggregate != nil {
		msg["valueAggregate"] = new(big.Int).Set(v.ValueAggregate)
	}
	if v.Nonce != nil {
		msg["nonce"] = new(big.Int).Set(v.Nonce)
	}
	if v.ChainID != nil {
		msg["chainId"] = new(big.Int).Set(v.ChainID)
	}

	domain := apitypes.TypedDataDomain{
		Name:              d.Name,
		Version:           d.Version,
		VerifyingContract: d.VerifyingContract.Hex(),
	}
	if d.ChainID != nil {
		domain.ChainId = (*math.HexOrDecimal256)(new(big.Int).Set(d.ChainID))
	}

	return apitypes.TypedData{
		Types: apitypes.Types{
			DomainPrimaryType:  DomainFields,
			VoucherPrimaryType: VoucherFields,
		},
		PrimaryType: VoucherPrimaryType,
		Domain:      domain,
		Message:     msg,
	}
}
