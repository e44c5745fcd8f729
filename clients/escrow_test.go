package clients

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/x402-deferred/types"
	"github.com/vitwit/x402-deferred/utils/eip712"
)

var escrowAddr = common.HexToAddress("0xDeAdBeEfDeAdBeEfDeAdBeEfDeAdBeEfDeAdBeEf")

// fakeCaller answers eth_call from canned per-method results.
type fakeCaller struct {
	claimed bool
	balance *big.Int
	err     error
	raw     []byte

	calls []ethereum.CallMsg
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.calls = append(f.calls, msg)
	if f.err != nil {
		return nil, f.err
	}
	if f.raw != nil {
		return f.raw, nil
	}

	switch {
	case bytes.HasPrefix(msg.Data, EscrowABI.Methods[methodVoucherClaimed].ID):
		return EscrowABI.Methods[methodVoucherClaimed].Outputs.Pack(f.claimed)
	case bytes.HasPrefix(msg.Data, EscrowABI.Methods[methodGetAvailableBalance].ID):
		return EscrowABI.Methods[methodGetAvailableBalance].Outputs.Pack(f.balance)
	}
	return nil, errors.New("unknown selector")
}

func TestEscrowClient_VoucherClaimed(t *testing.T) {
	caller := &fakeCaller{claimed: true}
	c := NewEscrowClientWithCaller(types.NetworkBaseSepolia, escrowAddr, caller)

	var id [32]byte
	id[31] = 0x01
	claimed, err := c.VoucherClaimed(context.Background(), id, big.NewInt(5))
	require.NoError(t, err)
	assert.True(t, claimed)

	require.Len(t, caller.calls, 1)
	assert.Equal(t, escrowAddr, *caller.calls[0].To)

	args, err := EscrowABI.Methods[methodVoucherClaimed].Inputs.Unpack(caller.calls[0].Data[4:])
	require.NoError(t, err)
	assert.Equal(t, id, args[0])
	assert.Equal(t, 0, args[1].(*big.Int).Cmp(big.NewInt(5)))

	_, err = c.VoucherClaimed(context.Background(), id, nil)
	assert.Error(t, err)
}

func TestEscrowClient_GetAvailableBalance(t *testing.T) {
	caller := &fakeCaller{balance: big.NewInt(1_000_000)}
	c := NewEscrowClientWithCaller(types.NetworkBaseSepolia, escrowAddr, caller)

	buyer := common.HexToAddress("0x1111111111111111111111111111111111111111")
	seller := common.HexToAddress("0x2222222222222222222222222222222222222222")
	asset := common.HexToAddress("0x3333333333333333333333333333333333333333")

	balance, err := c.GetAvailableBalance(context.Background(), buyer, seller, asset)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), balance.Int64())

	args, err := EscrowABI.Methods[methodGetAvailableBalance].Inputs.Unpack(caller.calls[0].Data[4:])
	require.NoError(t, err)
	assert.Equal(t, []any{buyer, seller, asset}, args)
}

func TestEscrowClient_Failures(t *testing.T) {
	ctx := context.Background()
	var id [32]byte

	c := NewEscrowClientWithCaller(types.NetworkBase, escrowAddr, &fakeCaller{err: errors.New("connection refused")})
	_, err := c.VoucherClaimed(ctx, id, big.NewInt(0))
	assert.ErrorContains(t, err, "connection refused")

	c = NewEscrowClientWithCaller(types.NetworkBase, escrowAddr, &fakeCaller{raw: []byte{}})
	_, err = c.GetAvailableBalance(ctx, common.Address{}, common.Address{}, common.Address{})
	assert.ErrorContains(t, err, "empty response")

	c = NewEscrowClientWithCaller(types.NetworkBase, escrowAddr, &fakeCaller{raw: []byte{0x01, 0x02}})
	_, err = c.VoucherClaimed(ctx, id, big.NewInt(0))
	assert.ErrorContains(t, err, "unpack")
}

func TestPackClaimVoucher(t *testing.T) {
	v := &eip712.Voucher{
		Buyer:          common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Seller:         common.HexToAddress("0x2222222222222222222222222222222222222222"),
		ValueAggregate: big.NewInt(500_000),
		Asset:          common.HexToAddress("0x3333333333333333333333333333333333333333"),
		Timestamp:      1_740_673_000,
		Nonce:          big.NewInt(2),
		Escrow:         escrowAddr,
		ChainID:        big.NewInt(84532),
	}
	v.ID[0] = 0xaa
	sig := bytes.Repeat([]byte{0x11}, eip712.SignatureLength)

	data, err := PackClaimVoucher(v, sig)
	require.NoError(t, err)

	method := EscrowABI.Methods[methodClaimVoucher]
	assert.Equal(t, method.ID, data[:4])
	assert.Equal(t, "claimVoucher((bytes32,address,address,uint256,address,uint64,uint256,address,uint256),bytes)", method.Sig)

	args, err := method.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	require.Len(t, args, 2)
	assert.Equal(t, sig, args[1])

	_, err = PackClaimVoucher(v, sig[:64])
	assert.ErrorIs(t, err, eip712.ErrSignatureLength)
}
