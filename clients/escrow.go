package clients

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/vitwit/x402-deferred/types"
	"github.com/vitwit/x402-deferred/utils/eip712"
)

var _ Client = (*EscrowClient)(nil)

const escrowABI = `[
  {
    "type": "function",
    "name": "getAvailableBalance",
    "stateMutability": "view",
    "inputs": [
      { "name": "buyer", "type": "address" },
      { "name": "seller", "type": "address" },
      { "name": "asset", "type": "address" }
    ],
    "outputs": [{ "name": "", "type": "uint256" }]
  },
  {
    "type": "function",
    "name": "voucherClaimed",
    "stateMutability": "view",
    "inputs": [
      { "name": "voucherId", "type": "bytes32" },
      { "name": "nonce", "type": "uint256" }
    ],
    "outputs": [{ "name": "", "type": "bool" }]
  },
  {
    "type": "function",
    "name": "claimVoucher",
    "stateMutability": "nonpayable",
    "inputs": [
      {
        "name": "voucher",
        "type": "tuple",
        "components": [
          { "name": "id", "type": "bytes32" },
          { "name": "buyer", "type": "address" },
          { "name": "seller", "type": "address" },
          { "name": "valueAggregate", "type": "uint256" },
          { "name": "asset", "type": "address" },
          { "name": "timestamp", "type": "uint64" },
          { "name": "nonce", "type": "uint256" },
          { "name": "escrow", "type": "address" },
          { "name": "chainId", "type": "uint256" }
        ]
      },
      { "name": "signature", "type": "bytes" }
    ],
    "outputs": []
  }
]`

const (
	methodGetAvailableBalance = "getAvailableBalance"
	methodVoucherClaimed      = "voucherClaimed"
	methodClaimVoucher        = "claimVoucher"
)

// EscrowABI is the parsed escrow contract interface.
var EscrowABI = mustParseABI(escrowABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("escrow abi: %v", err))
	}
	return parsed
}

// ContractCaller performs eth_call. *ethclient.Client satisfies it.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// EscrowClient reads escrow state over JSON-RPC.
type EscrowClient struct {
	network types.Network
	escrow  common.Address
	caller  ContractCaller
	rpc     *ethclient.Client
}

// NewEscrowClient dials rpcURL and binds the escrow contract at escrow.
func NewEscrowClient(network types.Network, rpcURL string, escrow common.Address, headers map[string]string) (*EscrowClient, error) {
	var opts []rpc.ClientOption
	if len(headers) > 0 {
		h := make(http.Header, len(headers))
		for k, v := range headers {
			h.Set(k, v)
		}
		opts = append(opts, rpc.WithHeaders(h))
	}

	conn, err := rpc.DialOptions(context.Background(), rpcURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s RPC: %w", network, err)
	}
	client := ethclient.NewClient(conn)

	return &EscrowClient{
		network: network,
		escrow:  escrow,
		caller:  client,
		rpc:     client,
	}, nil
}

// NewEscrowClientWithCaller binds the escrow contract over an existing caller.
func NewEscrowClientWithCaller(network types.Network, escrow common.Address, caller ContractCaller) *EscrowClient {
	return &EscrowClient{
		network: network,
		escrow:  escrow,
		caller:  caller,
	}
}

func (e *EscrowClient) GetNetwork() types.Network {
	return e.network
}

// Escrow returns the bound contract address.
func (e *EscrowClient) Escrow() common.Address {
	return e.escrow
}

// Close releases the RPC connection when the client owns one.
func (e *EscrowClient) Close() {
	if e.rpc != nil {
		e.rpc.Close()
	}
}

// VoucherClaimed calls voucherClaimed(bytes32,uint256).
func (e *EscrowClient) VoucherClaimed(ctx context.Context, voucherID [32]byte, nonce *big.Int) (bool, error) {
	if nonce == nil {
		return false, errors.New("nonce is nil")
	}

	out, err := e.call(ctx, methodVoucherClaimed, voucherID, nonce)
	if err != nil {
		return false, err
	}

	claimed, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("%s: unexpected return type %T", methodVoucherClaimed, out[0])
	}
	return claimed, nil
}

// GetAvailableBalance calls getAvailableBalance(address,address,address).
func (e *EscrowClient) GetAvailableBalance(ctx context.Context, buyer, seller, asset common.Address) (*big.Int, error) {
	out, err := e.call(ctx, methodGetAvailableBalance, buyer, seller, asset)
	if err != nil {
		return nil, err
	}

	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected return type %T", methodGetAvailableBalance, out[0])
	}
	return balance, nil
}

func (e *EscrowClient) call(ctx context.Context, method string, args ...any) ([]any, error) {
	callData, err := EscrowABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: pack: %w", method, err)
	}

	msg := ethereum.CallMsg{
		To:   &e.escrow,
		Data: callData,
	}

	raw, err := e.caller.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: eth_call: %w", method, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%s: empty response, no contract at %s?", method, e.escrow.Hex())
	}

	out, err := EscrowABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("%s: unpack: %w", method, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("%s: expected 1 return value, got %d", method, len(out))
	}
	return out, nil
}

// voucherTuple mirrors the claimVoucher tuple; field names follow the ABI
// component names.
type voucherTuple struct {
	Id             [32]byte
	Buyer          common.Address
	Seller         common.Address
	ValueAggregate *big.Int
	Asset          common.Address
	Timestamp      uint64
	Nonce          *big.Int
	Escrow         common.Address
	ChainId        *big.Int
}

// PackClaimVoucher encodes claimVoucher(voucher, signature) calldata. It is
// never sent by this module; sellers submit it with their own keys.
func PackClaimVoucher(v *eip712.Voucher, signature []byte) ([]byte, error) {
	if v == nil {
		return nil, errors.New("voucher is nil")
	}
	if len(signature) != eip712.SignatureLength {
		return nil, eip712.ErrSignatureLength
	}

	return EscrowABI.Pack(methodClaimVoucher, voucherTuple{
		Id:             v.ID,
		Buyer:          v.Buyer,
		Seller:         v.Seller,
		ValueAggregate: v.ValueAggregate,
		Asset:          v.Asset,
		Timestamp:      v.Timestamp,
		Nonce:          v.Nonce,
		Escrow:         v.Escrow,
		ChainId:        v.ChainID,
	}, signature)
}
