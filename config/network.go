package config

import (
	"net"
	"strconv"

	"github.com/Klingon-tech/klingnet-custody/pkg/types"
)

// NetworkParams are the fixed per-network parameters. They are not
// configurable; a custody deployment serves exactly one network.
type NetworkParams struct {
	Name        NetworkType
	AddressHRP  string
	RPCPort     int    // Default settlement API port.
	ChainRPCURL string // Default node endpoint.
}

var (
	mainnetParams = NetworkParams{
		Name:        Mainnet,
		AddressHRP:  types.MainnetHRP,
		RPCPort:     9545,
		ChainRPCURL: "http://127.0.0.1:8545",
	}
	testnetParams = NetworkParams{
		Name:        Testnet,
		AddressHRP:  types.TestnetHRP,
		RPCPort:     9645,
		ChainRPCURL: "http://127.0.0.1:8645",
	}
)

// Params returns the parameters for network. Unknown networks get mainnet.
func Params(network NetworkType) NetworkParams {
	if network == Testnet {
		return testnetParams
	}
	return mainnetParams
}

// Params returns the parameters of the configured network.
func (c *Config) Params() NetworkParams {
	return Params(c.Network)
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
