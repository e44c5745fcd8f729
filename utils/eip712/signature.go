package eip712

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is r (32) ‖ s (32) ‖ v (1).
const SignatureLength = 65

var (
	ErrSignatureLength = errors.New("signature must be 65 bytes")
	ErrRecoveryID      = errors.New("signature recovery id out of range")
	ErrSignatureValues = errors.New("signature r/s out of range")
)

// DecodeSignature decodes a hex signature (0x prefix optional) and checks its length.
func DecodeSignature(sigHex string) ([]byte, error) {
	s := strings.TrimSpace(sigHex)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	sig, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("bad signature hex: %w", err)
	}
	if len(sig) != SignatureLength {
		return nil, fmt.Errorf("%w, got %d", ErrSignatureLength, len(sig))
	}
	return sig, nil
}

// SplitSignature reads the contiguous big-endian r, s and v segments.
// v is normalised to 0/1; only 0, 1, 27 and 28 are accepted.
func SplitSignature(sig []byte) (r, s [32]byte, v uint8, err error) {
	if len(sig) != SignatureLength {
		err = fmt.Errorf("%w, got %d", ErrSignatureLength, len(sig))
		return
	}

	copy(r[:], sig[0:32])
	copy(s[:], sig[32:64])
	v = sig[64]

	switch v {
	case 0, 1:
	case 27, 28:
		v -= 27
	default:
		err = fmt.Errorf("%w: v=%d", ErrRecoveryID, sig[64])
	}
	return
}

// RecoverSigner recovers the address that signed digest.
func RecoverSigner(digest common.Hash, sig []byte) (common.Address, error) {
	r, s, v, err := SplitSignature(sig)
	if err != nil {
		return common.Address{}, err
	}
	if !crypto.ValidateSignatureValues(v, new(big.Int).SetBytes(r[:]), new(big.Int).SetBytes(s[:]), false) {
		return common.Address{}, ErrSignatureValues
	}

	// [R || S || V] with V in {0,1}, as crypto.SigToPub expects
	normalized := make([]byte, SignatureLength)
	copy(normalized[0:32], r[:])
	copy(normalized[32:64], s[:])
	normalized[64] = v

	pubKey, err := crypto.SigToPub(digest.Bytes(), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("sig to pub failed: %w", err)
	}
	return crypto.PubkeyToAddress(*pubKey), nil
}

// RecoverVoucherSigner hashes v under domain d and recovers its signer.
func RecoverVoucherSigner(d Domain, v *Voucher, sig []byte) (common.Address, error) {
	digest, err := VoucherDigest(d, v)
	if err != nil {
		return common.Address{}, err
	}
	return RecoverSigner(digest, sig)
}
