package verification

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vitwit/x402-deferred/clients"
	"github.com/vitwit/x402-deferred/logger"
	"github.com/vitwit/x402-deferred/types"
	"github.com/vitwit/x402-deferred/utils/eip712"
)

func TestNewDeferredVerifier_ConfigErrors(t *testing.T) {
	ledger := &fakeLedger{}

	tests := []struct {
		name   string
		cfg    VerifierConfig
		ledger clients.LedgerReader
		code   string
	}{
		{"unknown network", VerifierConfig{Network: "solana-devnet", EscrowAddress: testEscrow}, ledger, types.ErrUnsupportedNetwork},
		{"bad escrow", VerifierConfig{Network: types.NetworkBase, EscrowAddress: "0x1234"}, ledger, types.ErrConfigError},
		{"zero escrow", VerifierConfig{Network: types.NetworkBase, EscrowAddress: "0x0000000000000000000000000000000000000000"}, ledger, types.ErrConfigError},
		{"no ledger", VerifierConfig{Network: types.NetworkBase, EscrowAddress: testEscrow}, nil, types.ErrConfigError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := NewDeferredVerifier(tt.cfg, tt.ledger)
			assert.Nil(t, v)

			var xerr *types.X402Error
			require.ErrorAs(t, err, &xerr)
			assert.Equal(t, tt.code, xerr.Code)
		})
	}
}

func TestNewDeferredVerifier_Domain(t *testing.T) {
	v, err := NewDeferredVerifier(VerifierConfig{
		Network:       types.NetworkPolygonAmoy,
		EscrowAddress: strings.ToLower(testEscrow),
		DomainName:    "CustomEscrow",
	}, &fakeLedger{})
	require.NoError(t, err)

	d := v.Domain()
	assert.Equal(t, "CustomEscrow", d.Name)
	assert.Equal(t, eip712.DefaultDomainVersion, d.Version)
	assert.Equal(t, int64(80002), d.ChainID.Int64())
	assert.Equal(t, common.HexToAddress(testEscrow), d.VerifyingContract)

	// callers cannot reach the verifier's copy
	d.ChainID.SetInt64(1)
	assert.Equal(t, int64(80002), v.Domain().ChainID.Int64())
	assert.Equal(t, int64(80002), v.ChainID().Int64())
}

func TestVerify_Valid(t *testing.T) {
	f := newFixture(t)

	res := f.verifier.Verify(context.Background(), f.signed(), f.requirements())

	assert.True(t, res.IsValid)
	assert.Empty(t, res.InvalidReason)
	assert.Equal(t, f.buyer.Hex(), res.Payer)
	assert.Equal(t, 1, f.ledger.claimCalls)
	assert.Equal(t, 1, f.ledger.balanceCalls)
}

func TestVerify_ValidWithRawRecoveryID(t *testing.T) {
	f := newFixture(t)
	v := f.voucher()
	sig := f.sign(v)
	sig[64] -= 27

	res := f.verifier.Verify(context.Background(), wire(v, sig), f.requirements())
	assert.True(t, res.IsValid)
}

func TestVerify_BalanceExactlyEqual(t *testing.T) {
	f := newFixture(t)
	f.ledger.balance = big.NewInt(500_000)

	res := f.verifier.Verify(context.Background(), f.signed(), f.requirements())
	assert.True(t, res.IsValid)
}

func TestVerify_ValueAboveMaxAmount(t *testing.T) {
	f := newFixture(t)
	f.ledger.balance = big.NewInt(100_000_000)

	v := f.voucher()
	v.ValueAggregate = big.NewInt(5_000_000)

	res := f.verifier.Verify(context.Background(), wire(v, f.sign(v)), f.requirements())

	assert.False(t, res.IsValid)
	assert.Equal(t, ReasonFieldsInvalid, res.InvalidReason)
	assert.Empty(t, res.Payer)
	assert.Zero(t, f.ledger.calls(), "field failures must not reach the ledger")
}

func TestVerify_FieldMismatches(t *testing.T) {
	other := common.HexToAddress("0x9999999999999999999999999999999999999999")

	tests := []struct {
		name   string
		mutate func(v *eip712.Voucher)
	}{
		{"escrow", func(v *eip712.Voucher) { v.Escrow = other }},
		{"chainId", func(v *eip712.Voucher) { v.ChainID = big.NewInt(8453) }},
		{"seller", func(v *eip712.Voucher) { v.Seller = other }},
		{"asset", func(v *eip712.Voucher) { v.Asset = other }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			v := f.voucher()
			tt.mutate(v)

			// signed over the mutated voucher, so only the field check can fail
			res := f.verifier.Verify(context.Background(), wire(v, f.sign(v)), f.requirements())

			assert.False(t, res.IsValid)
			assert.Equal(t, ReasonFieldsInvalid, res.InvalidReason)
			assert.Zero(t, f.ledger.calls())
		})
	}
}

func TestVerify_TamperedSignatureBytes(t *testing.T) {
	f := newFixture(t)
	v := f.voucher()
	sig := f.sign(v)

	for i := range sig {
		tampered := append([]byte(nil), sig...)
		tampered[i] ^= 0x01

		res := f.verifier.Verify(context.Background(), wire(v, tampered), f.requirements())

		require.False(t, res.IsValid, "byte %d", i)
		assert.True(t, strings.HasPrefix(res.InvalidReason, ReasonInvalidSignature),
			"byte %d: got %q", i, res.InvalidReason)
	}
	assert.Zero(t, f.ledger.calls())
}

func TestVerify_MalformedSignature(t *testing.T) {
	f := newFixture(t)
	p := f.signed()

	for _, sig := range []string{"0x", "0x1234", "not-hex", p.Signature + "00"} {
		bad := *p
		bad.Signature = sig

		res := f.verifier.Verify(context.Background(), &bad, f.requirements())
		assert.False(t, res.IsValid)
		assert.Equal(t, ReasonInvalidSignature, res.InvalidReason, "signature %q", sig)
	}

	bad := f.verifier.Evaluate(context.Background(), &types.DeferredPaymentPayload{
		Signature: "0x" + strings.Repeat("11", 64) + "05",
		Voucher:   p.Voucher,
	}, f.requirements())
	assert.Equal(t, OutcomeInvalidSignature, bad.Kind)
	assert.ErrorIs(t, bad.Err, eip712.ErrRecoveryID)
}

func TestVerify_SignerMismatch(t *testing.T) {
	f := newFixture(t)
	stranger, err := crypto.GenerateKey()
	require.NoError(t, err)
	strangerAddr := crypto.PubkeyToAddress(stranger.PublicKey)

	v := f.voucher()
	sig := f.signWith(stranger, f.verifier.Domain(), v)

	out := f.verifier.Evaluate(context.Background(), wire(v, sig), f.requirements())

	assert.Equal(t, OutcomeSignerMismatch, out.Kind)
	assert.Equal(t, strangerAddr, out.Recovered)
	assert.Equal(t, f.buyer, out.Expected)
	assert.Contains(t, out.Reason(), strangerAddr.Hex())
	assert.Contains(t, out.Reason(), f.buyer.Hex())
	assert.Empty(t, out.Result().Payer)
	assert.Zero(t, f.ledger.calls())
}

func TestVerify_WrongDomain(t *testing.T) {
	f := newFixture(t)
	v := f.voucher()

	otherChain := eip712.NewDomain(big.NewInt(8453), common.HexToAddress(testEscrow), "", "")
	res := f.verifier.Verify(context.Background(), wire(v, f.signWith(f.key, otherChain, v)), f.requirements())

	assert.False(t, res.IsValid)
	assert.True(t, strings.HasPrefix(res.InvalidReason, ReasonInvalidSignature))
}

func TestVerify_AlreadyClaimed(t *testing.T) {
	f := newFixture(t)
	f.ledger.claimed = true
	f.ledger.balance = big.NewInt(100_000_000)

	res := f.verifier.Verify(context.Background(), f.signed(), f.requirements())

	assert.False(t, res.IsValid)
	assert.Equal(t, ReasonAlreadyClaimed, res.InvalidReason)
	assert.Equal(t, 1, f.ledger.claimCalls)
	assert.Zero(t, f.ledger.balanceCalls, "claimed vouchers stop before the balance read")
}

func TestVerify_InsufficientBalance(t *testing.T) {
	f := newFixture(t)
	f.ledger.balance = big.NewInt(499_999)

	res := f.verifier.Verify(context.Background(), f.signed(), f.requirements())

	assert.False(t, res.IsValid)
	assert.Equal(t, ReasonInsufficientBalance, res.InvalidReason)
}

func TestVerify_ClaimReadFailureProceeds(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	f := newFixture(t, WithLogger(logger.NewZapLoggerFrom(zap.New(core))))
	f.ledger.claimed = true
	f.ledger.claimErr = errors.New("execution reverted")

	out := f.verifier.Evaluate(context.Background(), f.signed(), f.requirements())

	assert.Equal(t, OutcomeValid, out.Kind)
	require.NotNil(t, out.Claim)
	assert.Equal(t, clients.ClaimStateUnknown, out.Claim.State)
	assert.Equal(t, 1, f.ledger.balanceCalls)
	assert.Equal(t, 1, logs.FilterMessage("ledger read degraded").Len())
}

func TestVerify_ClaimReadFailureStillNeedsBalance(t *testing.T) {
	f := newFixture(t)
	f.ledger.claimErr = errors.New("timeout")
	f.ledger.balance = big.NewInt(1)

	res := f.verifier.Verify(context.Background(), f.signed(), f.requirements())
	assert.Equal(t, ReasonInsufficientBalance, res.InvalidReason)
}

func TestVerify_BalanceReadFailureRejects(t *testing.T) {
	f := newFixture(t)
	f.ledger.balance = big.NewInt(100_000_000)
	f.ledger.balanceErr = errors.New("decode failed")

	out := f.verifier.Evaluate(context.Background(), f.signed(), f.requirements())

	assert.Equal(t, OutcomeInsufficientBalance, out.Kind)
	require.NotNil(t, out.Balance)
	assert.Equal(t, clients.BalanceStateUnknown, out.Balance.State)
	assert.Equal(t, 0, out.Balance.Available.Sign())
	assert.Equal(t, ReasonInsufficientBalance, out.Result().InvalidReason)
}

func TestVerify_FaultsBecomeResults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.verifier.Verify(ctx, nil, f.requirements())
	assert.False(t, res.IsValid)
	assert.Contains(t, res.InvalidReason, "payment payload is missing")

	res = f.verifier.Verify(ctx, f.signed(), nil)
	assert.False(t, res.IsValid)
	assert.Contains(t, res.InvalidReason, "payment requirements are missing")

	reqs := f.requirements()
	reqs.MaxAmountRequired = "lots"
	res = f.verifier.Verify(ctx, f.signed(), reqs)
	assert.False(t, res.IsValid)
	assert.True(t, strings.HasPrefix(res.InvalidReason, "Verification error"))

	p := f.signed()
	p.Voucher.ValueAggregate = "-7"
	out := f.verifier.Evaluate(ctx, p, f.requirements())
	assert.Equal(t, OutcomeFault, out.Kind)
	assert.Contains(t, out.Reason(), "valueAggregate")

	p = f.signed()
	p.Voucher.Timestamp = "18446744073709551616"
	out = f.verifier.Evaluate(ctx, p, f.requirements())
	assert.Equal(t, OutcomeFault, out.Kind)

	assert.Zero(t, f.ledger.calls())
}

func TestVerify_ExponentNumbersAreBounded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for name, mutate := range map[string]func(p *types.DeferredPaymentPayload){
		"valueAggregate": func(p *types.DeferredPaymentPayload) { p.Voucher.ValueAggregate = "1e1000000000" },
		"timestamp":      func(p *types.DeferredPaymentPayload) { p.Voucher.Timestamp = "1e1000000000" },
		"nonce":          func(p *types.DeferredPaymentPayload) { p.Voucher.Nonce = "1e-1000000000" },
		"chainId":        func(p *types.DeferredPaymentPayload) { p.Voucher.ChainID = "9e999999999" },
	} {
		t.Run(name, func(t *testing.T) {
			p := f.signed()
			mutate(p)

			start := time.Now()
			res := f.verifier.Verify(ctx, p, f.requirements())
			assert.Less(t, time.Since(start), time.Second)
			assert.False(t, res.IsValid)
			assert.True(t, strings.HasPrefix(res.InvalidReason, "Verification error"), res.InvalidReason)
			assert.Contains(t, res.InvalidReason, name)
		})
	}

	reqs := f.requirements()
	reqs.MaxAmountRequired = "0e-1000000000"
	start := time.Now()
	res := f.verifier.Verify(ctx, f.signed(), reqs)
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, strings.HasPrefix(res.InvalidReason, "Verification error"))

	assert.Zero(t, f.ledger.calls())
}

func TestVerify_PanicBecomesResult(t *testing.T) {
	f := newFixture(t)
	f.ledger.panicOn = "balance"

	var res *types.VerificationResult
	require.NotPanics(t, func() {
		res = f.verifier.Verify(context.Background(), f.signed(), f.requirements())
	})
	assert.False(t, res.IsValid)
	assert.Contains(t, res.InvalidReason, "ledger exploded")
}

func TestVerify_Idempotent(t *testing.T) {
	f := newFixture(t)
	p := f.signed()
	reqs := f.requirements()

	first := f.verifier.Verify(context.Background(), p, reqs)
	second := f.verifier.Verify(context.Background(), p, reqs)
	assert.Equal(t, first, second)

	f.ledger.claimed = true
	first = f.verifier.Verify(context.Background(), p, reqs)
	second = f.verifier.Verify(context.Background(), p, reqs)
	assert.Equal(t, first, second)
}

func TestVerify_Concurrent(t *testing.T) {
	f := newFixture(t)
	p := f.signed()
	reqs := f.requirements()

	var wg sync.WaitGroup
	results := make([]*types.VerificationResult, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.verifier.Verify(context.Background(), p, reqs)
		}(i)
	}
	wg.Wait()

	for _, res := range results {
		assert.True(t, res.IsValid)
	}
	assert.Equal(t, 64, f.ledger.calls())
}

func TestQuickVerify(t *testing.T) {
	f := newFixture(t)
	f.ledger.claimed = true

	res := f.verifier.QuickVerify(f.signed(), f.requirements())
	assert.True(t, res.IsValid)
	assert.Equal(t, f.buyer.Hex(), res.Payer)
	assert.Zero(t, f.ledger.calls())

	v := f.voucher()
	v.ValueAggregate = big.NewInt(5_000_000)
	res = f.verifier.QuickVerify(wire(v, f.sign(v)), f.requirements())
	assert.Equal(t, ReasonFieldsInvalid, res.InvalidReason)
}
