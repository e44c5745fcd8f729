package verification

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/x402-deferred/types"
	"github.com/vitwit/x402-deferred/utils/eip712"
)

const (
	testEscrow = "0xDeAdBeEfDeAdBeEfDeAdBeEfDeAdBeEfDeAdBeEf"
	testSeller = "0x2222222222222222222222222222222222222222"
	testAsset  = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
)

// fakeLedger is a deterministic LedgerReader that records its calls.
type fakeLedger struct {
	mu sync.Mutex

	claimed    bool
	claimErr   error
	balance    *big.Int
	balanceErr error
	panicOn    string

	claimCalls   int
	balanceCalls int
}

func (f *fakeLedger) VoucherClaimed(_ context.Context, _ [32]byte, _ *big.Int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claimCalls++
	if f.panicOn == "claim" {
		panic("ledger exploded")
	}
	return f.claimed, f.claimErr
}

func (f *fakeLedger) GetAvailableBalance(_ context.Context, _, _, _ common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balanceCalls++
	if f.panicOn == "balance" {
		panic("ledger exploded")
	}
	if f.balance == nil {
		return nil, f.balanceErr
	}
	return new(big.Int).Set(f.balance), f.balanceErr
}

func (f *fakeLedger) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.claimCalls + f.balanceCalls
}

// fixture is one buyer with a signing key and the verifier under test.
type fixture struct {
	t        *testing.T
	key      *ecdsa.PrivateKey
	buyer    common.Address
	ledger   *fakeLedger
	verifier *DeferredVerifier
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	ledger := &fakeLedger{balance: big.NewInt(1_000_000)}
	v, err := NewDeferredVerifier(VerifierConfig{
		Network:       types.NetworkBaseSepolia,
		EscrowAddress: testEscrow,
	}, ledger, opts...)
	require.NoError(t, err)

	return &fixture{
		t:        t,
		key:      key,
		buyer:    crypto.PubkeyToAddress(key.PublicKey),
		ledger:   ledger,
		verifier: v,
	}
}

func (f *fixture) requirements() *types.PaymentRequirements {
	return &types.PaymentRequirements{
		Scheme:            string(types.SchemeDeferred),
		Network:           string(types.NetworkBaseSepolia),
		MaxAmountRequired: "1000000",
		Resource:          "https://api.example.com/report",
		PayTo:             testSeller,
		Asset:             testAsset,
	}
}

func (f *fixture) voucher() *eip712.Voucher {
	var id [32]byte
	copy(id[:], crypto.Keccak256([]byte("lineage"), f.buyer.Bytes()))
	return &eip712.Voucher{
		ID:             id,
		Buyer:          f.buyer,
		Seller:         common.HexToAddress(testSeller),
		ValueAggregate: big.NewInt(500_000),
		Asset:          common.HexToAddress(testAsset),
		Timestamp:      1_740_673_000,
		Nonce:          big.NewInt(0),
		Escrow:         common.HexToAddress(testEscrow),
		ChainID:        big.NewInt(84532),
	}
}

// sign signs v under the verifier's domain with the fixture key, v in {27,28}.
func (f *fixture) sign(v *eip712.Voucher) []byte {
	return f.signWith(f.key, f.verifier.Domain(), v)
}

func (f *fixture) signWith(key *ecdsa.PrivateKey, d eip712.Domain, v *eip712.Voucher) []byte {
	f.t.Helper()
	digest, err := eip712.VoucherDigest(d, v)
	require.NoError(f.t, err)
	sig, err := crypto.Sign(digest.Bytes(), key)
	require.NoError(f.t, err)
	sig[64] += 27
	return sig
}

func wire(v *eip712.Voucher, sig []byte) *types.DeferredPaymentPayload {
	return &types.DeferredPaymentPayload{
		Signature: hexutil.Encode(sig),
		Voucher: types.Voucher{
			ID:             hexutil.Encode(v.ID[:]),
			Buyer:          v.Buyer.Hex(),
			Seller:         v.Seller.Hex(),
			ValueAggregate: json.Number(v.ValueAggregate.String()),
			Asset:          v.Asset.Hex(),
			Timestamp:      json.Number(new(big.Int).SetUint64(v.Timestamp).String()),
			Nonce:          json.Number(v.Nonce.String()),
			Escrow:         v.Escrow.Hex(),
			ChainID:        json.Number(v.ChainID.String()),
		},
	}
}

// signed returns a correctly signed wire payload for the default voucher.
func (f *fixture) signed() *types.DeferredPaymentPayload {
	v := f.voucher()
	return wire(v, f.sign(v))
}
