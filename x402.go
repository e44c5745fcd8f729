// Package deferred is an x402 facilitator for the "deferred" payment scheme:
// buyers sign EIP-712 vouchers against an on-chain escrow pool, and the
// facilitator checks each voucher's fields, signer, claim status and escrow
// balance before a seller serves the resource.
package deferred

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/trace"

	"github.com/vitwit/x402-deferred/clients"
	"github.com/vitwit/x402-deferred/logger"
	"github.com/vitwit/x402-deferred/metrics"
	"github.com/vitwit/x402-deferred/types"
	"github.com/vitwit/x402-deferred/verification"
)

const defaultTimeout = 30 * time.Second

// Facilitator provides deferred voucher verification across networks.
type Facilitator struct {
	verificationService *verification.VerificationService
	config              *types.X402Config

	logger  logger.Logger
	metrics metrics.Recorder
	tracer  trace.Tracer
	timeout time.Duration

	mu        sync.Mutex
	clients   map[types.Network]clients.Client
	supported map[types.Network]types.SupportedItem
}

// New creates a new Facilitator with the given configuration. No network is
// registered until AddNetwork or AddConfiguredNetworks is called.
func New(config *types.X402Config, opts ...Option) *Facilitator {
	if config == nil {
		config = &types.X402Config{}
	}

	x := &Facilitator{
		config:    config,
		timeout:   defaultTimeout,
		clients:   make(map[types.Network]clients.Client),
		supported: make(map[types.Network]types.SupportedItem),
	}
	if config.DefaultTimeout > 0 {
		x.timeout = config.DefaultTimeout
	}
	for _, opt := range opts {
		opt(x)
	}

	// Options win over the configuration.
	if x.logger == nil {
		x.logger = logger.NoopLogger{}
		if config.LogLevel != "" {
			x.logger = logger.NewZapLogger(config.LogLevel, "json")
		}
	}
	if x.metrics == nil {
		x.metrics = metrics.NoopRecorder{}
		if config.EnableMetrics {
			recorder, err := metrics.NewPrometheusRecorder(nil)
			if err != nil {
				x.logger.Warn("metrics disabled", map[string]any{"error": err})
			} else {
				x.metrics = recorder
			}
		}
	}

	x.verificationService = verification.NewVerificationService(x.timeout)
	return x
}

// NewWithDefaults creates a new Facilitator with default configuration
func NewWithDefaults(opts ...Option) *Facilitator {
	return New(&types.X402Config{
		DefaultTimeout: defaultTimeout,
		LogLevel:       "info",
	}, opts...)
}

// AddConfiguredNetworks registers every network in the configuration, in
// name order, stopping at the first failure.
func (x *Facilitator) AddConfiguredNetworks() error {
	networks := make([]types.Network, 0, len(x.config.Clients))
	for network := range x.config.Clients {
		networks = append(networks, network)
	}
	sort.Slice(networks, func(i, j int) bool { return networks[i] < networks[j] })

	for _, network := range networks {
		if err := x.AddNetwork(network, x.config.Clients[network]); err != nil {
			return err
		}
	}
	return nil
}

// AddNetwork dials the network's RPC endpoint and registers a verifier bound
// to the configured escrow contract.
func (x *Facilitator) AddNetwork(network types.Network, config types.ClientConfig) error {
	info, err := types.ResolveNetwork(network, config.RPCUrl)
	if err != nil {
		return err
	}
	if !common.IsHexAddress(config.EscrowAddress) {
		return types.NewConfigError("invalid escrow address %q for network %s", config.EscrowAddress, network)
	}

	client, err := clients.NewEscrowClient(network, info.RPCURL, common.HexToAddress(config.EscrowAddress), config.Headers)
	if err != nil {
		return &types.X402Error{
			Code:    types.ErrConfigError,
			Message: fmt.Sprintf("failed to create escrow client for %s: %v", network, err),
		}
	}

	if err := x.addVerifier(network, config, client); err != nil {
		client.Close()
		return err
	}

	x.mu.Lock()
	if previous, ok := x.clients[network]; ok {
		previous.Close()
	}
	x.clients[network] = client
	x.mu.Unlock()

	return nil
}

// AddNetworkWithLedger registers a verifier over a caller supplied ledger
// reader. The facilitator does not take ownership of ledger.
func (x *Facilitator) AddNetworkWithLedger(network types.Network, config types.ClientConfig, ledger clients.LedgerReader) error {
	return x.addVerifier(network, config, ledger)
}

func (x *Facilitator) addVerifier(network types.Network, config types.ClientConfig, ledger clients.LedgerReader) error {
	v, err := verification.NewDeferredVerifier(verification.VerifierConfig{
		Network:       network,
		RPCUrl:        config.RPCUrl,
		EscrowAddress: config.EscrowAddress,
		DomainName:    config.DomainName,
		DomainVersion: config.DomainVersion,
	}, ledger,
		verification.WithLogger(x.logger),
		verification.WithMetrics(x.metrics),
		verification.WithTracer(x.tracer),
	)
	if err != nil {
		return err
	}

	if err := x.verificationService.AddVerifier(network, v); err != nil {
		return err
	}

	x.mu.Lock()
	x.supported[network] = types.SupportedItem{
		X402Version: int(types.X402Version1),
		Scheme:      types.SchemeDeferred.String(),
		Network:     network.String(),
	}
	x.mu.Unlock()

	x.logger.Info("network registered", map[string]any{
		"network": network.String(),
		"chainId": v.ChainID().String(),
		"escrow":  v.Escrow().Hex(),
	})
	return nil
}

// Verify checks the request envelope and runs the full verification
// pipeline. Only a malformed envelope returns an error; every verification
// failure is an invalid result.
func (x *Facilitator) Verify(ctx context.Context, req *types.VerifyRequest) (*types.VerificationResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	return x.verificationService.Verify(ctx, req), nil
}

// QuickVerify performs the offline checks without ledger queries.
func (x *Facilitator) QuickVerify(req *types.VerifyRequest) (*types.VerificationResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	return x.verificationService.QuickVerify(req), nil
}

// BatchVerify verifies multiple payments concurrently
func (x *Facilitator) BatchVerify(ctx context.Context, reqs []*types.VerifyRequest) ([]*types.VerificationResult, error) {
	for i, req := range reqs {
		if err := validateRequest(req); err != nil {
			return nil, &types.X402Error{
				Code:    types.ErrInvalidPayload,
				Message: fmt.Sprintf("request %d: %v", i, err),
			}
		}
	}
	return x.verificationService.BatchVerify(ctx, reqs)
}

func validateRequest(req *types.VerifyRequest) error {
	if req == nil {
		return &types.X402Error{Code: types.ErrInvalidPayload, Message: "verify request is missing"}
	}
	if err := req.Validate(); err != nil {
		return &types.X402Error{Code: types.ErrInvalidPayload, Message: err.Error()}
	}
	return nil
}

// Supported lists the (version, scheme, network) kinds this facilitator accepts.
func (x *Facilitator) Supported() *types.SupportedResponse {
	x.mu.Lock()
	defer x.mu.Unlock()

	kinds := make([]types.SupportedItem, 0, len(x.supported))
	for _, item := range x.supported {
		kinds = append(kinds, item)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i].Network < kinds[j].Network })

	return &types.SupportedResponse{Kinds: kinds}
}

// IsNetworkSupported checks if a network is supported
func (x *Facilitator) IsNetworkSupported(network types.Network) bool {
	return x.verificationService.IsNetworkSupported(network)
}

// Close closes all client connections
func (x *Facilitator) Close() {
	x.mu.Lock()
	defer x.mu.Unlock()

	for network, client := range x.clients {
		client.Close()
		delete(x.clients, network)
	}
}

// Version information
const (
	Version         = "0.1.0"
	ProtocolVersion = 1
)

// GetVersion returns version information
func GetVersion() map[string]any {
	return map[string]any{
		"library_version":  Version,
		"protocol_version": ProtocolVersion,
		"supported_networks": []string{
			"ethereum", "ethereum-sepolia",
			"base", "base-sepolia",
			"polygon", "polygon-amoy",
		},
		"supported_schemes": []string{
			types.SchemeDeferred.String(),
		},
	}
}
