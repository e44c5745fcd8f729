package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// X402Version represents the version of the x402 protocol
type X402Version int

const (
	X402Version1 X402Version = 1
)

// PaymentScheme represents different payment schemes
type PaymentScheme string

const (
	// SchemeDeferred pays with buyer-signed vouchers against an escrow pool,
	// settled later by the seller.
	SchemeDeferred PaymentScheme = "deferred"
)

func (s PaymentScheme) String() string {
	return string(s)
}

type SupportedItem struct {
	X402Version int    `json:"x402Version"`
	Scheme      string `json:"scheme"`
	Network     string `json:"network"`
}

type SupportedResponse struct {
	Kinds []SupportedItem `json:"kinds"`
}

// PaymentRequirements defines the requirements a resource server accepts for payment.
type PaymentRequirements struct {
	// Scheme of the payment protocol to use (always "deferred" here).
	Scheme string `json:"scheme" validate:"required"`

	// Network of the blockchain the escrow lives on (e.g., "base-sepolia").
	Network string `json:"network" validate:"required"`

	// Maximum amount required to pay for the resource in atomic units of the asset.
	// Represented as a string because Go does not support uint256.
	MaxAmountRequired string `json:"maxAmountRequired" validate:"required,numeric"`

	// URL of the resource to pay for.
	Resource string `json:"resource"`

	// Description of the resource being purchased.
	Description string `json:"description"`

	// MIME type of the resource response (e.g., "application/json").
	MimeType string `json:"mimeType"`

	// Output schema of the resource response, if applicable.
	OutputSchema map[string]interface{} `json:"outputSchema,omitempty"`

	// Seller address the voucher must name.
	PayTo string `json:"payTo" validate:"required,eth_addr"`

	// Maximum time in seconds for the resource server to respond.
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds"`

	// ERC20 asset the escrow balance is denominated in.
	Asset string `json:"asset" validate:"required,eth_addr"`

	// Extra information about payment details specific to the scheme.
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// Voucher is the wire form of a buyer-signed deferred payment voucher.
// Numeric fields accept either JSON numbers or decimal strings.
type Voucher struct {
	ID             string      `json:"id" validate:"required,len=66,hexadecimal"`
	Buyer          string      `json:"buyer" validate:"required,eth_addr"`
	Seller         string      `json:"seller" validate:"required,eth_addr"`
	ValueAggregate json.Number `json:"valueAggregate" validate:"required"`
	Asset          string      `json:"asset" validate:"required,eth_addr"`
	Timestamp      json.Number `json:"timestamp" validate:"required"`
	Nonce          json.Number `json:"nonce" validate:"required"`
	Escrow         string      `json:"escrow" validate:"required,eth_addr"`
	ChainID        json.Number `json:"chainId" validate:"required"`
}

// DeferredPaymentPayload carries a voucher and the buyer's 65-byte
// r||s||v signature over it, hex encoded.
type DeferredPaymentPayload struct {
	Signature string  `json:"signature" validate:"required"`
	Voucher   Voucher `json:"voucher"`
}

type PaymentPayload struct {
	// Version of the x402 payment protocol.
	X402Version int `json:"x402Version"`

	Scheme string `json:"scheme" validate:"required"`

	Network string `json:"network" validate:"required"`

	Payload DeferredPaymentPayload `json:"payload"`
}

// VerifyRequest represents the payload sent to a facilitator to verify a payment.
type VerifyRequest struct {
	// Version of the x402 payment protocol.
	X402Version int `json:"x402Version" validate:"gt=0"`

	// Payment sent by the client.
	PaymentPayload PaymentPayload `json:"paymentPayload"`

	// Payment requirements being verified against.
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// VerificationResult contains the result of payment verification.
// Payer is set only when IsValid is true.
type VerificationResult struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// Invalid builds a rejected result.
func Invalid(reason string) *VerificationResult {
	return &VerificationResult{IsValid: false, InvalidReason: reason}
}

// ClientConfig contains configuration for one deferred escrow deployment
type ClientConfig struct {
	Network Network `json:"network"`

	// RPCUrl overrides the network's default endpoint when set.
	RPCUrl string `json:"rpcUrl,omitempty"`

	EscrowAddress string `json:"escrowAddress"`

	// Signing domain overrides; defaults are "X402DeferredEscrow" and "1".
	DomainName    string `json:"domainName,omitempty"`
	DomainVersion string `json:"domainVersion,omitempty"`

	// Headers are sent with every RPC request, e.g. provider API keys.
	Headers map[string]string `json:"headers,omitempty"`
}

// X402Config contains global configuration for the facilitator
type X402Config struct {
	DefaultTimeout time.Duration            `json:"defaultTimeout,omitempty"`
	Clients        map[Network]ClientConfig `json:"clients,omitempty"`

	// LogLevel selects a zap logger when no WithLogger option is given.
	LogLevel string `json:"logLevel,omitempty"`

	// EnableMetrics registers Prometheus collectors on the default registerer
	// when no WithMetrics option is given.
	EnableMetrics bool `json:"enableMetrics,omitempty"`
}

// Error types
type X402Error struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e X402Error) Error() string {
	return e.Message
}

// Common error codes
const (
	ErrInvalidPayload      = "INVALID_PAYLOAD"
	ErrInvalidRequirements = "INVALID_REQUIREMENTS"
	ErrUnsupportedNetwork  = "UNSUPPORTED_NETWORK"
	ErrUnsupportedScheme   = "UNSUPPORTED_SCHEME"
	ErrConfigError         = "CONFIG_ERROR"

	// Voucher verification outcomes
	ErrInvalidVoucherFields      = "INVALID_VOUCHER_FIELDS"
	ErrInvalidSignature          = "INVALID_SIGNATURE"
	ErrSignerMismatch            = "SIGNER_MISMATCH"
	ErrVoucherAlreadyClaimed     = "VOUCHER_ALREADY_CLAIMED"
	ErrInsufficientEscrowBalance = "INSUFFICIENT_ESCROW_BALANCE"
	ErrLedgerQueryFailed         = "LEDGER_QUERY_FAILED"
	ErrVerificationFault         = "VERIFICATION_FAULT"
)

// NewConfigError reports a verifier that cannot be constructed.
func NewConfigError(format string, args ...any) *X402Error {
	return &X402Error{
		Code:    ErrConfigError,
		Message: fmt.Sprintf(format, args...),
	}
}

// Validate checks that the VerifyRequest contains all required fields.
func (v *VerifyRequest) Validate() error {
	if v.X402Version <= 0 {
		return fmt.Errorf("x402Version must be greater than 0")
	}

	if v.PaymentPayload.Payload.Signature == "" {
		return fmt.Errorf("paymentPayload.payload.signature is required")
	}

	return v.PaymentRequirements.Validate()
}

// maxAmountLength bounds the text and exponent of maxAmountRequired.
const maxAmountLength = 128

func (pr *PaymentRequirements) Validate() error {
	if pr.Scheme == "" {
		return fmt.Errorf("paymentRequirements.scheme is required")
	}

	if pr.Network == "" {
		return fmt.Errorf("paymentRequirements.network is required")
	}

	if pr.MaxAmountRequired == "" {
		return fmt.Errorf("paymentRequirements.maxAmountRequired is required")
	}

	if len(pr.MaxAmountRequired) > maxAmountLength {
		return fmt.Errorf("paymentRequirements.maxAmountRequired is longer than %d characters", maxAmountLength)
	}

	amount, err := decimal.NewFromString(pr.MaxAmountRequired)
	if err != nil {
		return fmt.Errorf("paymentRequirements.maxAmountRequired: %w", err)
	}
	// IsInteger scales by the exponent, so bound it first.
	if exp := amount.Exponent(); exp < -maxAmountLength || exp > maxAmountLength {
		return fmt.Errorf("paymentRequirements.maxAmountRequired is out of range")
	}
	if amount.IsNegative() || !amount.IsInteger() {
		return fmt.Errorf("paymentRequirements.maxAmountRequired must be a non-negative integer")
	}

	if pr.PayTo == "" {
		return fmt.Errorf("paymentRequirements.payTo is required")
	}

	if pr.Asset == "" {
		return fmt.Errorf("paymentRequirements.asset is required")
	}

	return nil
}
