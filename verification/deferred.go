package verification

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vitwit/x402-deferred/clients"
	"github.com/vitwit/x402-deferred/logger"
	"github.com/vitwit/x402-deferred/metrics"
	"github.com/vitwit/x402-deferred/types"
	"github.com/vitwit/x402-deferred/utils"
	"github.com/vitwit/x402-deferred/utils/eip712"
)

const tracerName = "github.com/vitwit/x402-deferred/verification"

// VerifierConfig fixes the deployment a DeferredVerifier checks against.
type VerifierConfig struct {
	Network       types.Network
	RPCUrl        string
	EscrowAddress string

	// Optional signing domain overrides.
	DomainName    string
	DomainVersion string
}

// Option customises a DeferredVerifier.
type Option func(*DeferredVerifier)

func WithLogger(l logger.Logger) Option {
	return func(d *DeferredVerifier) {
		d.logger = logger.OrNoop(l)
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(d *DeferredVerifier) {
		d.metrics = metrics.OrNoop(r)
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(d *DeferredVerifier) {
		if t != nil {
			d.tracer = t
		}
	}
}

// DeferredVerifier checks buyer-signed vouchers against one escrow deployment.
// It is immutable after construction and safe for concurrent use.
type DeferredVerifier struct {
	network types.NetworkInfo
	escrow  common.Address
	domain  eip712.Domain
	gateway *clients.Gateway

	logger  logger.Logger
	metrics metrics.Recorder
	tracer  trace.Tracer
}

// NewDeferredVerifier resolves the network and escrow address. It is the only
// place verification fails with an error instead of an invalid result.
func NewDeferredVerifier(cfg VerifierConfig, ledger clients.LedgerReader, opts ...Option) (*DeferredVerifier, error) {
	info, err := types.ResolveNetwork(cfg.Network, cfg.RPCUrl)
	if err != nil {
		return nil, err
	}

	if !common.IsHexAddress(cfg.EscrowAddress) {
		return nil, types.NewConfigError("invalid escrow address %q for network %s", cfg.EscrowAddress, cfg.Network)
	}
	escrow := common.HexToAddress(cfg.EscrowAddress)
	if escrow == (common.Address{}) {
		return nil, types.NewConfigError("escrow address for network %s is the zero address", cfg.Network)
	}

	if ledger == nil {
		return nil, types.NewConfigError("no ledger reader for network %s", cfg.Network)
	}

	d := &DeferredVerifier{
		network: info,
		escrow:  escrow,
		domain:  eip712.NewDomain(info.ChainIDBig(), escrow, cfg.DomainName, cfg.DomainVersion),
		gateway: clients.NewGateway(ledger),
		logger:  logger.NoopLogger{},
		metrics: metrics.NoopRecorder{},
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(d)
	}

	return d, nil
}

func (d *DeferredVerifier) Network() types.Network {
	return d.network.Network
}

func (d *DeferredVerifier) ChainID() *big.Int {
	return d.network.ChainIDBig()
}

func (d *DeferredVerifier) Escrow() common.Address {
	return d.escrow
}

// Domain returns a copy of the signing domain.
func (d *DeferredVerifier) Domain() eip712.Domain {
	return eip712.NewDomain(d.domain.ChainID, d.domain.VerifyingContract, d.domain.Name, d.domain.Version)
}

// Verify runs the full pipeline: fields, signature, signer, claim status,
// balance. It never returns nil and never panics.
func (d *DeferredVerifier) Verify(
	ctx context.Context,
	payload *types.DeferredPaymentPayload,
	requirements *types.PaymentRequirements,
) *types.VerificationResult {
	return d.Evaluate(ctx, payload, requirements).Result()
}

// QuickVerify runs only the offline steps (fields, signature, signer).
// A valid result here says nothing about claim status or balance.
func (d *DeferredVerifier) QuickVerify(
	payload *types.DeferredPaymentPayload,
	requirements *types.PaymentRequirements,
) *types.VerificationResult {
	return d.run(context.Background(), payload, requirements, false).Result()
}

// Evaluate is Verify returning the full outcome record.
func (d *DeferredVerifier) Evaluate(
	ctx context.Context,
	payload *types.DeferredPaymentPayload,
	requirements *types.PaymentRequirements,
) Outcome {
	return d.run(ctx, payload, requirements, true)
}

func (d *DeferredVerifier) run(
	ctx context.Context,
	payload *types.DeferredPaymentPayload,
	requirements *types.PaymentRequirements,
	withLedger bool,
) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = faultf("panic: %v", r)
		}
	}()

	start := time.Now()
	labels := map[string]string{"network": d.network.Network.String()}

	ctx, span := d.tracer.Start(ctx, "deferred.Verify", trace.WithAttributes(
		attribute.String("x402.network", d.network.Network.String()),
		attribute.Bool("x402.ledger", withLedger),
	))
	defer span.End()

	out = d.evaluate(ctx, payload, requirements, withLedger)

	span.SetAttributes(attribute.String("x402.outcome", out.Kind.String()))
	if out.Kind == OutcomeFault {
		span.SetStatus(codes.Error, out.Reason())
	}

	labels["outcome"] = out.Kind.String()
	d.metrics.IncCounter(metrics.Verifications, labels)
	if withLedger {
		d.metrics.ObserveLatency(metrics.VerifyLatency, time.Since(start), labels)
	}

	fields := map[string]any{
		"network": d.network.Network.String(),
		"outcome": out.Kind.String(),
	}
	switch out.Kind {
	case OutcomeValid:
		fields["payer"] = out.Payer.Hex()
		d.logger.Info("voucher accepted", fields)
	case OutcomeFault:
		fields["error"] = out.Err
		d.logger.Error("voucher verification fault", fields)
	default:
		fields["reason"] = out.Reason()
		d.logger.Debug("voucher rejected", fields)
	}

	return out
}

// evaluate converts every failure, including panics, into an Outcome.
func (d *DeferredVerifier) evaluate(
	ctx context.Context,
	payload *types.DeferredPaymentPayload,
	requirements *types.PaymentRequirements,
	withLedger bool,
) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = faultf("panic: %v", r)
		}
	}()

	if payload == nil {
		return faultf("payment payload is missing")
	}
	if err := utils.ValidateRequirements(requirements); err != nil {
		return fault(err)
	}
	voucher, err := utils.ParseVoucher(&payload.Voucher)
	if err != nil {
		return fault(err)
	}

	// 1. fields, before any I/O
	if !ValidateVoucherFields(voucher, requirements, d.escrow, d.network.ChainIDBig()) {
		return Outcome{Kind: OutcomeFieldsInvalid}
	}

	// 2. signature recovery
	sig, err := eip712.DecodeSignature(payload.Signature)
	if err != nil {
		return Outcome{Kind: OutcomeInvalidSignature, Err: err}
	}
	signer, err := eip712.RecoverVoucherSigner(d.domain, voucher, sig)
	if err != nil {
		return Outcome{Kind: OutcomeInvalidSignature, Err: err}
	}

	// 3. signer must be the buyer
	if signer != voucher.Buyer {
		return Outcome{Kind: OutcomeSignerMismatch, Recovered: signer, Expected: voucher.Buyer}
	}

	if !withLedger {
		return Outcome{Kind: OutcomeValid, Payer: voucher.Buyer}
	}

	// 4. claim status; an unknown state lets the voucher through to the balance check
	claim := d.gateway.ClaimStatus(ctx, voucher.ID, voucher.Nonce)
	if claim.State == clients.ClaimStateUnknown {
		d.degraded("claim", claim.Err)
	}
	if claim.Claimed() {
		return Outcome{Kind: OutcomeAlreadyClaimed, Claim: &claim}
	}

	// 5. balance; an unknown state reads as zero
	balance := d.gateway.Balance(ctx, voucher.Buyer, voucher.Seller, voucher.Asset)
	if balance.State == clients.BalanceStateUnknown {
		d.degraded("balance", balance.Err)
	}
	if !balance.Covers(voucher.ValueAggregate) {
		return Outcome{Kind: OutcomeInsufficientBalance, Claim: &claim, Balance: &balance}
	}

	return Outcome{Kind: OutcomeValid, Payer: voucher.Buyer, Claim: &claim, Balance: &balance}
}

func (d *DeferredVerifier) degraded(read string, err error) {
	d.logger.Warn("ledger read degraded", map[string]any{
		"network": d.network.Network.String(),
		"read":    read,
		"error":   err,
	})
	d.metrics.IncCounter(metrics.LedgerDegraded, map[string]string{
		"network": d.network.Network.String(),
		"outcome": read,
	})
}

func (d *DeferredVerifier) String() string {
	return fmt.Sprintf("deferred verifier %s (chain %d, escrow %s)", d.network.Network, d.network.ChainID, d.escrow.Hex())
}
