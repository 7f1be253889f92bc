// Package config handles custodyd configuration.
//
// Settings come from four layers, later ones winning: built-in defaults,
// the .conf file in the data directory, the environment (optionally seeded
// from a .env file), and command-line flags. Secrets are read from the
// environment only and are never written to the .conf file.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/Klingon-tech/klingnet-custody/pkg/types"
)

// NetworkType identifies mainnet or testnet.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
)

// Subscription directory sources.
const (
	SourceStatic   = "static"
	SourcePostgres = "postgres"
)

// Config holds custodyd runtime configuration.
type Config struct {
	// Core
	Network NetworkType `conf:"network"`
	DataDir string      `conf:"datadir"`

	// Settlement API
	RPC RPCConfig

	// Chain gateway
	Chain ChainConfig

	// Master key
	Keys KeysConfig

	// Credit accrual job
	Accrual AccrualConfig

	// Plan tier source
	Subscription SubscriptionConfig

	// Logging
	Log LogConfig

	// Prometheus exposition
	Metrics MetricsConfig

	// Secrets, from the environment only (not persisted in config file).
	Secrets Secrets
}

// RPCConfig holds settlement API server settings.
type RPCConfig struct {
	Enabled     bool          `conf:"rpc.enabled"`
	Addr        string        `conf:"rpc.addr"`
	Port        int           `conf:"rpc.port"`
	AllowedIPs  []string      `conf:"rpc.allowed"`
	CORSOrigins []string      `conf:"rpc.cors"`           // Allowed CORS origins ("*" = all).
	RateLimit   float64       `conf:"rpc.rate"`           // Requests/second per user; 0 disables.
	RateBurst   int           `conf:"rpc.burst"`          // Bucket size per user.
	SecretEnv   string        `conf:"rpc.jwt_secret_env"` // Env var holding the JWT secret.
	TokenTTL    time.Duration `conf:"rpc.token_ttl"`      // Lifetime of CLI-issued tokens.
}

// ChainConfig holds chain gateway settings.
type ChainConfig struct {
	Endpoint       string        `conf:"chain.rpc"`
	Timeout        time.Duration `conf:"chain.timeout"`         // Per chain call.
	ConfirmTimeout time.Duration `conf:"chain.confirm_timeout"` // Waiting for a transfer to confirm.
	PollInterval   time.Duration `conf:"chain.poll_interval"`
	Simnet         bool          `conf:"chain.simnet"` // In-memory chain, for development only.
}

// KeysConfig holds master key settings.
type KeysConfig struct {
	Keystore    string `conf:"keys.keystore"` // Vault entry holding the encrypted mnemonic.
	Account     uint32 `conf:"keys.account"`  // BIP-44 account component.
	AllowReveal bool   `conf:"keys.allow_reveal"`
}

// AccrualConfig holds the credit accrual job settings.
type AccrualConfig struct {
	Enabled  bool          `conf:"accrual.enabled"`
	Interval time.Duration `conf:"accrual.interval"`
}

// SubscriptionConfig selects the plan tier directory.
type SubscriptionConfig struct {
	Source      string         `conf:"subscription.source"` // static or postgres
	DefaultTier types.PlanTier `conf:"subscription.default_tier"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool `conf:"metrics.enabled"` // Serve /metrics on the RPC listener.
}

// Secrets holds sensitive values taken from the environment.
type Secrets struct {
	Mnemonic           string
	MnemonicPassphrase string
	KeystorePassword   string
	JWTSecret          string
	DatabaseURL        string
}

// String never renders secret values.
func (Secrets) String() string { return "[redacted]" }

// GoString never renders secret values.
func (Secrets) GoString() string { return "config.Secrets{[redacted]}" }

// =============================================================================
// Directory helpers
// =============================================================================

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.klingnet-custody
//	macOS:   ~/Library/Application Support/KlingnetCustody
//	Windows: %APPDATA%\KlingnetCustody
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".klingnet-custody"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "KlingnetCustody")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "KlingnetCustody")
		}
		return filepath.Join(home, "AppData", "Roaming", "KlingnetCustody")
	default:
		return filepath.Join(home, ".klingnet-custody")
	}
}

// NetworkDataDir returns the network-specific data directory.
func (c *Config) NetworkDataDir() string {
	return filepath.Join(c.DataDir, string(c.Network))
}

// LedgerDir returns the ledger database directory.
func (c *Config) LedgerDir() string {
	return filepath.Join(c.NetworkDataDir(), "ledger")
}

// KeystoreDir returns the vault directory.
func (c *Config) KeystoreDir() string {
	return filepath.Join(c.NetworkDataDir(), "keystore")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "custodyd.conf")
}

// EnvFile returns the path of the optional .env file.
func (c *Config) EnvFile() string {
	return filepath.Join(c.DataDir, ".env")
}

// RPCListenAddr returns host:port for the API listener.
func (c *Config) RPCListenAddr() string {
	return joinHostPort(c.RPC.Addr, c.RPC.Port)
}
