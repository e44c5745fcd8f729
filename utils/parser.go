package utils

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"github.com/vitwit/x402-deferred/types"
	"github.com/vitwit/x402-deferred/utils/eip712"
)

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
}

// ParseVerifyRequest parses a facilitator /verify body and checks its envelope.
// Voucher contents are left to the verification pipeline.
func ParseVerifyRequest(data []byte) (*types.VerifyRequest, error) {
	var req types.VerifyRequest

	if err := json.Unmarshal(data, &req); err != nil {
		return nil, &types.X402Error{
			Code:    types.ErrInvalidPayload,
			Message: fmt.Sprintf("failed to parse verify request: %v", err),
		}
	}

	if err := req.Validate(); err != nil {
		return nil, &types.X402Error{
			Code:    types.ErrInvalidPayload,
			Message: fmt.Sprintf("validation failed: %v", err),
		}
	}

	return &req, nil
}

// ParsePaymentRequirements parses and validates PaymentRequirements from JSON
func ParsePaymentRequirements(data []byte) (*types.PaymentRequirements, error) {
	var req types.PaymentRequirements

	if err := json.Unmarshal(data, &req); err != nil {
		return nil, &types.X402Error{
			Code:    types.ErrInvalidRequirements,
			Message: fmt.Sprintf("failed to parse payment requirements: %v", err),
		}
	}

	if err := ValidateRequirements(&req); err != nil {
		return nil, err
	}

	return &req, nil
}

// ValidateRequirements runs the struct tags and the amount check on requirements.
func ValidateRequirements(req *types.PaymentRequirements) error {
	if req == nil {
		return &types.X402Error{Code: types.ErrInvalidRequirements, Message: "payment requirements are missing"}
	}

	if err := validate.Struct(req); err != nil {
		return &types.X402Error{
			Code:    types.ErrInvalidRequirements,
			Message: fmt.Sprintf("validation failed: %v", err),
		}
	}

	if err := req.Validate(); err != nil {
		return &types.X402Error{
			Code:    types.ErrInvalidRequirements,
			Message: err.Error(),
		}
	}

	return nil
}

// ParseVoucher validates the wire voucher and coerces every field to its
// signing width: bytes32 id, 20-byte addresses, uint256 amounts and nonce,
// uint64 timestamp.
func ParseVoucher(v *types.Voucher) (*eip712.Voucher, error) {
	if v == nil {
		return nil, &types.X402Error{Code: types.ErrInvalidPayload, Message: "voucher is missing"}
	}

	if err := validate.Struct(v); err != nil {
		return nil, &types.X402Error{
			Code:    types.ErrInvalidPayload,
			Message: fmt.Sprintf("voucher validation failed: %v", err),
		}
	}

	id, err := DecodeBytes32(v.ID)
	if err != nil {
		return nil, voucherFieldError(fmt.Errorf("id: %w", err))
	}

	value, err := ParseUint256("valueAggregate", v.ValueAggregate.String())
	if err != nil {
		return nil, voucherFieldError(err)
	}

	timestamp, err := ParseUint64("timestamp", v.Timestamp.String())
	if err != nil {
		return nil, voucherFieldError(err)
	}

	nonce, err := ParseUint256("nonce", v.Nonce.String())
	if err != nil {
		return nil, voucherFieldError(err)
	}

	chainID, err := ParseUint256("chainId", v.ChainID.String())
	if err != nil {
		return nil, voucherFieldError(err)
	}

	return &eip712.Voucher{
		ID:             id,
		Buyer:          common.HexToAddress(v.Buyer),
		Seller:         common.HexToAddress(v.Seller),
		ValueAggregate: value,
		Asset:          common.HexToAddress(v.Asset),
		Timestamp:      timestamp,
		Nonce:          nonce,
		Escrow:         common.HexToAddress(v.Escrow),
		ChainID:        chainID,
	}, nil
}

func voucherFieldError(err error) error {
	return &types.X402Error{
		Code:    types.ErrInvalidPayload,
		Message: fmt.Sprintf("invalid voucher %v", err),
	}
}

// SerializePaymentRequirements converts PaymentRequirements to JSON
func SerializePaymentRequirements(req *types.PaymentRequirements) ([]byte, error) {
	return json.Marshal(req)
}

// SerializeVerificationResult converts VerificationResult to JSON
func SerializeVerificationResult(result *types.VerificationResult) ([]byte, error) {
	return json.Marshal(result)
}
