package config

import (
	"time"

	"github.com/Klingon-tech/klingnet-custody/pkg/types"
)

// DefaultJWTSecretEnv is the default environment variable for the API
// signing secret.
const DefaultJWTSecretEnv = "CUSTODY_JWT_SECRET"

// DefaultMainnet returns the default configuration for mainnet.
func DefaultMainnet() *Config {
	p := Params(Mainnet)
	return &Config{
		Network: Mainnet,
		DataDir: DefaultDataDir(),
		RPC: RPCConfig{
			Enabled:    true,
			Addr:       "127.0.0.1",
			Port:       p.RPCPort,
			AllowedIPs: []string{"127.0.0.1"},
			RateLimit:  5,
			RateBurst:  20,
			SecretEnv:  DefaultJWTSecretEnv,
			TokenTTL:   24 * time.Hour,
		},
		Chain: ChainConfig{
			Endpoint:       p.ChainRPCURL,
			Timeout:        15 * time.Second,
			ConfirmTimeout: 2 * time.Minute,
			PollInterval:   2 * time.Second,
		},
		Keys: KeysConfig{
			Keystore: "master",
		},
		Accrual: AccrualConfig{
			Enabled:  false,
			Interval: time.Minute,
		},
		Subscription: SubscriptionConfig{
			Source:      SourceStatic,
			DefaultTier: types.TierFree,
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// DefaultTestnet returns the default configuration for testnet.
func DefaultTestnet() *Config {
	cfg := DefaultMainnet()
	p := Params(Testnet)
	cfg.Network = Testnet
	cfg.RPC.Port = p.RPCPort
	cfg.Chain.Endpoint = p.ChainRPCURL
	return cfg
}

// Default returns the default configuration for the given network.
func Default(network NetworkType) *Config {
	switch network {
	case Testnet:
		return DefaultTestnet()
	default:
		return DefaultMainnet()
	}
}
