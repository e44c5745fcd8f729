package clients

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vitwit/x402-deferred/types"
)

// LedgerReader is the read side of the escrow contract. Implementations
// report transport and decode failures as errors; degradation is decided by
// Gateway, not here.
type LedgerReader interface {
	VoucherClaimed(ctx context.Context, voucherID [32]byte, nonce *big.Int) (bool, error)
	GetAvailableBalance(ctx context.Context, buyer, seller, asset common.Address) (*big.Int, error)
}

// Client is a LedgerReader bound to one network that owns a connection.
type Client interface {
	LedgerReader
	GetNetwork() types.Network
	Close()
}
