package verification

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vitwit/x402-deferred/types"
	"github.com/vitwit/x402-deferred/utils"
	"github.com/vitwit/x402-deferred/utils/eip712"
)

// ValidateVoucherFields checks a voucher against the verifier's deployment and
// the resource's requirements. All five checks are evaluated; the result is
// their conjunction. Address comparisons ignore hex case.
func ValidateVoucherFields(
	v *eip712.Voucher,
	requirements *types.PaymentRequirements,
	escrow common.Address,
	chainID *big.Int,
) bool {
	if v == nil || requirements == nil || chainID == nil {
		return false
	}

	escrowOK := v.Escrow == escrow
	chainOK := v.ChainID != nil && v.ChainID.Cmp(chainID) == 0
	sellerOK := utils.SameAddress(v.Seller, requirements.PayTo)
	amountOK := withinMax(v.ValueAggregate, requirements.MaxAmountRequired)
	assetOK := utils.SameAddress(v.Asset, requirements.Asset)

	return escrowOK && chainOK && sellerOK && amountOK && assetOK
}

func withinMax(value *big.Int, maxAmount string) bool {
	if value == nil {
		return false
	}
	limit, err := utils.ParseUint256("maxAmountRequired", maxAmount)
	if err != nil {
		return false
	}
	return value.Cmp(limit) <= 0
}
