package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Klingon-tech/klingnet-custody/pkg/types"
)

// LoadFile loads configuration from a .conf file.
// Format: key = value (one per line, # for comments)
func LoadFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("line %d: invalid format (expected key = value)", lineNum)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		values[key] = value
	}

	return values, scanner.Err()
}

// ApplyFileConfig applies file configuration to a Config struct.
func ApplyFileConfig(cfg *Config, values map[string]string) error {
	for key, value := range values {
		if err := setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}
	}
	return nil
}

// setConfigValue sets a config value by key. Secrets have no keys here.
func setConfigValue(cfg *Config, key, value string) error {
	var err error
	switch key {
	// Core
	case "network":
		cfg.Network = NetworkType(value)
	case "datadir":
		cfg.DataDir = value

	// RPC
	case "rpc.enabled", "rpc":
		cfg.RPC.Enabled = parseBool(value)
	case "rpc.addr":
		cfg.RPC.Addr = value
	case "rpc.port":
		cfg.RPC.Port, err = strconv.Atoi(value)
	case "rpc.allowed":
		cfg.RPC.AllowedIPs = parseStringList(value)
	case "rpc.cors":
		cfg.RPC.CORSOrigins = parseStringList(value)
	case "rpc.rate":
		cfg.RPC.RateLimit, err = strconv.ParseFloat(value, 64)
	case "rpc.burst":
		cfg.RPC.RateBurst, err = strconv.Atoi(value)
	case "rpc.jwt_secret_env":
		cfg.RPC.SecretEnv = value
	case "rpc.token_ttl":
		cfg.RPC.TokenTTL, err = time.ParseDuration(value)

	// Chain
	case "chain.rpc":
		cfg.Chain.Endpoint = value
	case "chain.timeout":
		cfg.Chain.Timeout, err = time.ParseDuration(value)
	case "chain.confirm_timeout":
		cfg.Chain.ConfirmTimeout, err = time.ParseDuration(value)
	case "chain.poll_interval":
		cfg.Chain.PollInterval, err = time.ParseDuration(value)
	case "chain.simnet":
		cfg.Chain.Simnet = parseBool(value)

	// Keys
	case "keys.keystore":
		cfg.Keys.Keystore = value
	case "keys.account":
		var n uint64
		n, err = strconv.ParseUint(value, 10, 31)
		cfg.Keys.Account = uint32(n)
	case "keys.allow_reveal":
		cfg.Keys.AllowReveal = parseBool(value)

	// Accrual
	case "accrual.enabled", "accrual":
		cfg.Accrual.Enabled = parseBool(value)
	case "accrual.interval":
		cfg.Accrual.Interval, err = time.ParseDuration(value)

	// Subscription
	case "subscription.source":
		cfg.Subscription.Source = strings.ToLower(value)
	case "subscription.default_tier":
		cfg.Subscription.DefaultTier, err = types.ParsePlanTier(value)

	// Logging
	case "log.level":
		cfg.Log.Level = value
	case "log.file":
		cfg.Log.File = value
	case "log.json":
		cfg.Log.JSON = parseBool(value)

	// Metrics
	case "metrics.enabled", "metrics":
		cfg.Metrics.Enabled = parseBool(value)

	default:
		// Unknown keys are ignored
	}
	return err
}

// parseBool parses a boolean value.
func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// parseStringList parses a comma-separated list.
func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// WriteDefaultConfig writes a default configuration file.
func WriteDefaultConfig(path string, network NetworkType) error {
	p := Params(network)
	content := `# Klingnet Custody Configuration
#
# Secrets (mnemonic, passwords, JWT secret, database URL) are NOT read from
# this file. Set them in the environment or in .env next to this file:
#   CUSTODY_MNEMONIC, CUSTODY_MNEMONIC_PASSPHRASE, CUSTODY_KEYSTORE_PASSWORD,
#   CUSTODY_JWT_SECRET, CUSTODY_DATABASE_URL

# Network: mainnet or testnet
network = ` + string(network) + `

# Data directory (default: ~/.klingnet-custody)
# datadir = ~/.klingnet-custody

# ============================================================================
# Settlement API
# ============================================================================

rpc.enabled = true
rpc.addr = 127.0.0.1
rpc.port = ` + strconv.Itoa(p.RPCPort) + `
rpc.allowed = 127.0.0.1
# CORS allowed origins ("*" for all)
# rpc.cors = http://localhost:3000

# Per-user rate limit (requests/second and burst; 0 disables)
rpc.rate = 5
rpc.burst = 20

# Environment variable holding the JWT signing secret
# rpc.jwt_secret_env = ` + DefaultJWTSecretEnv + `
# rpc.token_ttl = 24h

# ============================================================================
# Chain
# ============================================================================

chain.rpc = ` + p.ChainRPCURL + `
chain.timeout = 15s
chain.confirm_timeout = 2m
chain.poll_interval = 2s

# In-memory chain for development. Never enable in production.
# chain.simnet = false

# ============================================================================
# Keys
# ============================================================================

# Vault entry with the encrypted master mnemonic. Unlocked at startup with
# CUSTODY_KEYSTORE_PASSWORD unless CUSTODY_MNEMONIC is set.
keys.keystore = master
# keys.account = 0

# Allow admins to reveal the master mnemonic over the API.
keys.allow_reveal = false

# ============================================================================
# Accrual
# ============================================================================

accrual.enabled = false
accrual.interval = 1m

# ============================================================================
# Subscriptions
# ============================================================================

# static (everyone gets default_tier) or postgres (CUSTODY_DATABASE_URL)
subscription.source = static
subscription.default_tier = free

# ============================================================================
# Logging and metrics
# ============================================================================

log.level = info
# log.file =
log.json = false

metrics.enabled = true
`
	return os.WriteFile(path, []byte(content), 0644)
}
