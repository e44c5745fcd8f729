package verification

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vitwit/x402-deferred/types"
)

// Verifier is the single-network verification contract.
type Verifier interface {
	Verify(ctx context.Context, payload *types.DeferredPaymentPayload, requirements *types.PaymentRequirements) *types.VerificationResult
	QuickVerify(payload *types.DeferredPaymentPayload, requirements *types.PaymentRequirements) *types.VerificationResult
}

var _ Verifier = (*DeferredVerifier)(nil)

// VerificationService routes requests to the verifier of their network.
type VerificationService struct {
	mu        sync.RWMutex
	verifiers map[types.Network]Verifier
	timeout   time.Duration
}

// NewVerificationService creates a new verification service. A zero timeout
// leaves deadlines to the caller's context.
func NewVerificationService(timeout time.Duration) *VerificationService {
	return &VerificationService{
		verifiers: make(map[types.Network]Verifier),
		timeout:   timeout,
	}
}

// AddVerifier registers the verifier for a network, replacing any previous one.
func (s *VerificationService) AddVerifier(network types.Network, v Verifier) error {
	if !network.IsEVM() {
		return &types.X402Error{
			Code:    types.ErrUnsupportedNetwork,
			Message: fmt.Sprintf("network %s is not an EVM network", network),
		}
	}
	if v == nil {
		return types.NewConfigError("nil verifier for network %s", network)
	}

	s.mu.Lock()
	s.verifiers[network] = v
	s.mu.Unlock()
	return nil
}

func (s *VerificationService) verifier(network types.Network) (Verifier, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.verifiers[network]
	return v, ok
}

// route checks scheme and network agreement and picks the verifier.
func (s *VerificationService) route(req *types.VerifyRequest) (Verifier, *types.VerificationResult) {
	if req == nil {
		return nil, types.Invalid("invalid payload: request is missing")
	}

	payload := req.PaymentPayload
	requirements := req.PaymentRequirements

	if payload.Scheme != string(types.SchemeDeferred) || requirements.Scheme != string(types.SchemeDeferred) {
		return nil, types.Invalid(fmt.Sprintf("unsupported scheme: payload %q, requirements %q", payload.Scheme, requirements.Scheme))
	}

	if payload.Network != requirements.Network {
		return nil, types.Invalid("payload network does not match requirements network")
	}

	network := types.Network(payload.Network)
	v, ok := s.verifier(network)
	if !ok {
		return nil, types.Invalid(fmt.Sprintf("network %s is not supported", network))
	}
	return v, nil
}

// Verify verifies a payment against requirements
func (s *VerificationService) Verify(ctx context.Context, req *types.VerifyRequest) *types.VerificationResult {
	v, rejected := s.route(req)
	if rejected != nil {
		return rejected
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	return v.Verify(ctx, &req.PaymentPayload.Payload, &req.PaymentRequirements)
}

// QuickVerify performs the offline checks only: routing, fields and signature.
func (s *VerificationService) QuickVerify(req *types.VerifyRequest) *types.VerificationResult {
	v, rejected := s.route(req)
	if rejected != nil {
		return rejected
	}
	return v.QuickVerify(&req.PaymentPayload.Payload, &req.PaymentRequirements)
}

// BatchVerify verifies multiple payments concurrently. Results keep the order
// of reqs.
func (s *VerificationService) BatchVerify(ctx context.Context, reqs []*types.VerifyRequest) ([]*types.VerificationResult, error) {
	if len(reqs) == 0 {
		return nil, &types.X402Error{
			Code:    types.ErrInvalidPayload,
			Message: "batch is empty",
		}
	}

	type verificationResult struct {
		index  int
		result *types.VerificationResult
	}

	results := make([]*types.VerificationResult, len(reqs))
	resultChan := make(chan verificationResult, len(reqs))

	for i, req := range reqs {
		go func(index int, r *types.VerifyRequest) {
			resultChan <- verificationResult{index: index, result: s.Verify(ctx, r)}
		}(i, req)
	}

	for range reqs {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-resultChan:
			results[res.index] = res.result
		}
	}

	return results, nil
}

// GetSupportedNetworks returns all networks that have configured verifiers,
// sorted by name.
func (s *VerificationService) GetSupportedNetworks() []types.Network {
	s.mu.RLock()
	defer s.mu.RUnlock()

	networks := make([]types.Network, 0, len(s.verifiers))
	for network := range s.verifiers {
		networks = append(networks, network)
	}
	sort.Slice(networks, func(i, j int) bool { return networks[i] < networks[j] })
	return networks
}

// IsNetworkSupported checks if a network is supported
func (s *VerificationService) IsNetworkSupported(network types.Network) bool {
	_, ok := s.verifier(network)
	return ok
}
