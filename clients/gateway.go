package clients

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ClaimState is the outcome of a claim-status read.
type ClaimState int

const (
	ClaimStateUnclaimed ClaimState = iota
	ClaimStateClaimed
	// ClaimStateUnknown means the read failed. It is treated as unclaimed:
	// the balance check still stands between the voucher and a payout.
	ClaimStateUnknown
)

func (s ClaimState) String() string {
	switch s {
	case ClaimStateUnclaimed:
		return "unclaimed"
	case ClaimStateClaimed:
		return "claimed"
	default:
		return "unknown"
	}
}

// ClaimStatus carries the claim state and, for ClaimStateUnknown, the read error.
type ClaimStatus struct {
	State ClaimState
	Err   error
}

// Claimed reports whether the voucher must be rejected as already settled.
func (c ClaimStatus) Claimed() bool {
	return c.State == ClaimStateClaimed
}

// BalanceState is the outcome of an available-balance read.
type BalanceState int

const (
	BalanceStateKnown BalanceState = iota
	// BalanceStateUnknown means the read failed; Available is zero.
	BalanceStateUnknown
)

func (s BalanceState) String() string {
	if s == BalanceStateKnown {
		return "known"
	}
	return "unknown"
}

// BalanceStatus carries the available balance, which is never nil.
type BalanceStatus struct {
	State     BalanceState
	Available *big.Int
	Err       error
}

// Covers reports whether the balance is at least amount.
func (b BalanceStatus) Covers(amount *big.Int) bool {
	return b.Available.Cmp(amount) >= 0
}

// Gateway applies the degradation policy on top of a LedgerReader: a failed
// claim read degrades to unknown (proceed), a failed balance read degrades
// to zero (reject).
type Gateway struct {
	reader LedgerReader
}

func NewGateway(reader LedgerReader) *Gateway {
	return &Gateway{reader: reader}
}

func (g *Gateway) ClaimStatus(ctx context.Context, voucherID [32]byte, nonce *big.Int) ClaimStatus {
	if g.reader == nil {
		return ClaimStatus{State: ClaimStateUnknown, Err: ErrNoLedger}
	}

	claimed, err := g.reader.VoucherClaimed(ctx, voucherID, nonce)
	switch {
	case err != nil:
		return ClaimStatus{State: ClaimStateUnknown, Err: err}
	case claimed:
		return ClaimStatus{State: ClaimStateClaimed}
	default:
		return ClaimStatus{State: ClaimStateUnclaimed}
	}
}

func (g *Gateway) Balance(ctx context.Context, buyer, seller, asset common.Address) BalanceStatus {
	if g.reader == nil {
		return BalanceStatus{State: BalanceStateUnknown, Available: new(big.Int), Err: ErrNoLedger}
	}

	balance, err := g.reader.GetAvailableBalance(ctx, buyer, seller, asset)
	if err == nil && balance == nil {
		err = ErrNilBalance
	}
	if err != nil {
		return BalanceStatus{State: BalanceStateUnknown, Available: new(big.Int), Err: err}
	}

	return BalanceStatus{State: BalanceStateKnown, Available: new(big.Int).Set(balance)}
}
