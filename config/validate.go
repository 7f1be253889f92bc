package config

import (
	"fmt"
	"net/url"
)

// MinJWTSecretLen is the shortest accepted API signing secret.
const MinJWTSecretLen = 16

// Validate checks runtime config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Network != Mainnet && cfg.Network != Testnet {
		return fmt.Errorf("network must be %q or %q", Mainnet, Testnet)
	}
	if cfg.DataDir == "" {
		return fmt.Errorf("datadir is required")
	}

	if cfg.RPC.Port < 0 || cfg.RPC.Port > 65535 {
		return fmt.Errorf("rpc.port must be in range [0, 65535]")
	}
	if cfg.RPC.RateLimit < 0 {
		return fmt.Errorf("rpc.rate must not be negative")
	}
	if cfg.RPC.RateBurst < 0 {
		return fmt.Errorf("rpc.burst must not be negative")
	}
	if cfg.RPC.Enabled && len(cfg.Secrets.JWTSecret) < MinJWTSecretLen {
		return fmt.Errorf("rpc.enabled requires a JWT secret of at least %d bytes in $%s", MinJWTSecretLen, cfg.RPC.SecretEnv)
	}

	if !cfg.Chain.Simnet {
		u, err := url.Parse(cfg.Chain.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("chain.rpc must be an http(s) URL, got %q", cfg.Chain.Endpoint)
		}
	} else if cfg.Network == Mainnet {
		return fmt.Errorf("chain.simnet is not allowed on mainnet")
	}
	if cfg.Chain.Timeout <= 0 {
		return fmt.Errorf("chain.timeout must be positive")
	}
	if cfg.Chain.ConfirmTimeout <= 0 {
		return fmt.Errorf("chain.confirm_timeout must be positive")
	}
	if cfg.Chain.PollInterval <= 0 {
		return fmt.Errorf("chain.poll_interval must be positive")
	}

	if cfg.Keys.Account >= 1<<31 {
		return fmt.Errorf("keys.account must be below 2^31")
	}

	if cfg.Accrual.Enabled && cfg.Accrual.Interval <= 0 {
		return fmt.Errorf("accrual.interval must be positive")
	}

	switch cfg.Subscription.Source {
	case SourceStatic:
		if !cfg.Subscription.DefaultTier.Valid() {
			return fmt.Errorf("subscription.default_tier %q is not a plan tier", cfg.Subscription.DefaultTier)
		}
	case SourcePostgres:
		if cfg.Secrets.DatabaseURL == "" {
			return fmt.Errorf("subscription.source=postgres requires $%s", EnvDatabaseURL)
		}
	default:
		return fmt.Errorf("subscription.source must be %q or %q", SourceStatic, SourcePostgres)
	}

	return nil
}
