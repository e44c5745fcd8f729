package types

import (
	"fmt"
	"math/big"
)

// Network represents supported blockchain networks
type Network string

const (
	NetworkEthereum        Network = "ethereum"
	NetworkEthereumSepolia Network = "ethereum-sepolia" // testnet
	NetworkBase            Network = "base"
	NetworkBaseSepolia     Network = "base-sepolia" // testnet
	NetworkPolygon         Network = "polygon"
	NetworkPolygonAmoy     Network = "polygon-amoy" // testnet
)

// NetworkInfo is the static chain data a verifier needs for one network.
type NetworkInfo struct {
	Network Network
	ChainID int64
	RPCURL  string
	Testnet bool
}

// ChainIDBig returns the chain id as a uint256-compatible integer.
func (n NetworkInfo) ChainIDBig() *big.Int {
	return big.NewInt(n.ChainID)
}

var networks = map[Network]NetworkInfo{
	NetworkEthereum:        {Network: NetworkEthereum, ChainID: 1, RPCURL: "https://eth.llamarpc.com"},
	NetworkEthereumSepolia: {Network: NetworkEthereumSepolia, ChainID: 11155111, RPCURL: "https://rpc.sepolia.org", Testnet: true},
	NetworkBase:            {Network: NetworkBase, ChainID: 8453, RPCURL: "https://mainnet.base.org"},
	NetworkBaseSepolia:     {Network: NetworkBaseSepolia, ChainID: 84532, RPCURL: "https://sepolia.base.org", Testnet: true},
	NetworkPolygon:         {Network: NetworkPolygon, ChainID: 137, RPCURL: "https://polygon-rpc.com"},
	NetworkPolygonAmoy:     {Network: NetworkPolygonAmoy, ChainID: 80002, RPCURL: "https://rpc-amoy.polygon.technology", Testnet: true},
}

// ResolveNetwork looks up the chain id and default endpoint of a network.
// A non-empty rpcOverride replaces the default endpoint.
func ResolveNetwork(n Network, rpcOverride string) (NetworkInfo, error) {
	info, ok := networks[n]
	if !ok {
		return NetworkInfo{}, &X402Error{
			Code:    ErrUnsupportedNetwork,
			Message: fmt.Sprintf("unsupported network: %s", n),
		}
	}
	if rpcOverride != "" {
		info.RPCURL = rpcOverride
	}
	if info.RPCURL == "" {
		return NetworkInfo{}, NewConfigError("no rpc endpoint for network %s", n)
	}
	return info, nil
}

// Helper functions for network classification
func (n Network) IsEVM() bool {
	_, ok := networks[n]
	return ok
}

func (n Network) IsTestnet() bool {
	return networks[n].Testnet
}

func (n Network) String() string {
	return string(n)
}
