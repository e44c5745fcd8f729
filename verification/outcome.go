package verification

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vitwit/x402-deferred/clients"
	"github.com/vitwit/x402-deferred/types"
)

// Reasons reported in VerificationResult.InvalidReason.
const (
	ReasonFieldsInvalid       = "Voucher fields invalid"
	ReasonInvalidSignature    = "Invalid signature"
	ReasonAlreadyClaimed      = "Voucher already claimed"
	ReasonInsufficientBalance = "Insufficient escrow balance"
)

// OutcomeKind tags how a verification ended.
type OutcomeKind int

const (
	OutcomeValid OutcomeKind = iota
	OutcomeFieldsInvalid
	OutcomeInvalidSignature
	OutcomeSignerMismatch
	OutcomeAlreadyClaimed
	OutcomeInsufficientBalance
	// OutcomeFault covers malformed input and unexpected failures inside the
	// pipeline. It is still reported as an invalid result.
	OutcomeFault
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeValid:
		return "valid"
	case OutcomeFieldsInvalid:
		return "fields_invalid"
	case OutcomeInvalidSignature:
		return "invalid_signature"
	case OutcomeSignerMismatch:
		return "signer_mismatch"
	case OutcomeAlreadyClaimed:
		return "already_claimed"
	case OutcomeInsufficientBalance:
		return "insufficient_balance"
	default:
		return "fault"
	}
}

// Code maps the kind onto the X402Error code space.
func (k OutcomeKind) Code() string {
	switch k {
	case OutcomeValid:
		return ""
	case OutcomeFieldsInvalid:
		return types.ErrInvalidVoucherFields
	case OutcomeInvalidSignature:
		return types.ErrInvalidSignature
	case OutcomeSignerMismatch:
		return types.ErrSignerMismatch
	case OutcomeAlreadyClaimed:
		return types.ErrVoucherAlreadyClaimed
	case OutcomeInsufficientBalance:
		return types.ErrInsufficientEscrowBalance
	default:
		return types.ErrVerificationFault
	}
}

// Outcome is the full internal record of one verification. Only the fields
// relevant to Kind are set.
type Outcome struct {
	Kind OutcomeKind

	// Payer is the buyer of an accepted voucher.
	Payer common.Address

	// Recovered and Expected are set for OutcomeSignerMismatch.
	Recovered common.Address
	Expected  common.Address

	// Err is the cause of OutcomeInvalidSignature and OutcomeFault.
	Err error

	// Ledger reads, set once the pipeline reached them.
	Claim   *clients.ClaimStatus
	Balance *clients.BalanceStatus
}

func (o Outcome) Valid() bool {
	return o.Kind == OutcomeValid
}

// Reason is the human readable InvalidReason. Signer mismatches keep the
// "Invalid signature" prefix so callers can match on it.
func (o Outcome) Reason() string {
	switch o.Kind {
	case OutcomeValid:
		return ""
	case OutcomeFieldsInvalid:
		return ReasonFieldsInvalid
	case OutcomeInvalidSignature:
		return ReasonInvalidSignature
	case OutcomeSignerMismatch:
		return fmt.Sprintf("%s: recovered signer %s does not match buyer %s",
			ReasonInvalidSignature, o.Recovered.Hex(), o.Expected.Hex())
	case OutcomeAlreadyClaimed:
		return ReasonAlreadyClaimed
	case OutcomeInsufficientBalance:
		return ReasonInsufficientBalance
	default:
		if o.Err == nil {
			return "Verification error"
		}
		return "Verification error: " + o.Err.Error()
	}
}

// Result renders the outcome as the wire result.
func (o Outcome) Result() *types.VerificationResult {
	if o.Valid() {
		return &types.VerificationResult{IsValid: true, Payer: o.Payer.Hex()}
	}
	return types.Invalid(o.Reason())
}

func fault(err error) Outcome {
	return Outcome{Kind: OutcomeFault, Err: err}
}

func faultf(format string, args ...any) Outcome {
	return fault(fmt.Errorf(format, args...))
}
