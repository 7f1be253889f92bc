package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/Klingon-tech/klingnet-custody/pkg/types"
)

// Version is the custodyd version string.
const Version = "0.1.0"

// ErrHelp is returned by Load when --help or --version was handled.
var ErrHelp = errors.New("help requested")

// Flags holds parsed command-line flags.
type Flags struct {
	// Commands
	Help    bool
	Version bool

	// Core
	Network string
	Testnet bool
	DataDir string
	Config  string
	EnvFile string

	// RPC
	RPC        bool
	RPCAddr    string
	RPCPort    int
	RPCAllowed string
	RPCCORS    string
	RPCRate    float64
	RPCBurst   int

	// Chain
	ChainRPC string
	Simnet   bool

	// Keys
	Keystore    string
	AllowReveal bool

	// Accrual
	Accrual         bool
	AccrualInterval time.Duration

	// Subscription
	Subscription string
	DefaultTier  string

	// Logging and metrics
	LogLevel string
	LogFile  string
	LogJSON  bool
	Metrics  bool

	// Remaining args
	Args []string

	// Explicitly-set flags (for true/false and zero overrides).
	SetRPC         bool
	SetRPCRate     bool
	SetSimnet      bool
	SetAllowReveal bool
	SetAccrual     bool
	SetLogJSON     bool
	SetMetrics     bool
}

// ParseFlags parses command-line arguments (without the program name).
func ParseFlags(args []string) (*Flags, error) {
	f := &Flags{}
	fs := flag.NewFlagSet("custodyd", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	// Commands
	fs.BoolVar(&f.Help, "help", false, "Show help message")
	fs.BoolVar(&f.Help, "h", false, "Show help message (shorthand)")
	fs.BoolVar(&f.Version, "version", false, "Show version information")
	fs.BoolVar(&f.Version, "v", false, "Show version (shorthand)")

	// Core
	fs.StringVar(&f.Network, "network", "", "Network type (mainnet or testnet)")
	fs.BoolVar(&f.Testnet, "testnet", false, "Use testnet (shorthand for --network=testnet)")
	fs.StringVar(&f.DataDir, "datadir", "", "Data directory path")
	fs.StringVar(&f.Config, "config", "", "Config file path")
	fs.StringVar(&f.Config, "c", "", "Config file path (shorthand)")
	fs.StringVar(&f.EnvFile, "env-file", "", "Additional .env file with secrets")

	// RPC
	fs.BoolVar(&f.RPC, "rpc", true, "Enable the settlement API")
	fs.StringVar(&f.RPCAddr, "rpc-addr", "", "API listen address")
	fs.IntVar(&f.RPCPort, "rpc-port", 0, "API listen port")
	fs.StringVar(&f.RPCAllowed, "rpc-allowed", "", "Allowed IPs for the API")
	fs.StringVar(&f.RPCCORS, "rpc-cors", "", "Allowed CORS origins (comma-separated)")
	fs.Float64Var(&f.RPCRate, "rpc-rate", 0, "Requests per second per user (0 disables)")
	fs.IntVar(&f.RPCBurst, "rpc-burst", 0, "Rate limit burst per user")

	// Chain
	fs.StringVar(&f.ChainRPC, "chain-rpc", "", "Chain node RPC endpoint")
	fs.BoolVar(&f.Simnet, "simnet", false, "Use the in-memory development chain")

	// Keys
	fs.StringVar(&f.Keystore, "keystore", "", "Vault entry holding the master mnemonic")
	fs.BoolVar(&f.AllowReveal, "allow-reveal", false, "Allow admins to reveal the master mnemonic")

	// Accrual
	fs.BoolVar(&f.Accrual, "accrual", false, "Run the credit accrual job")
	fs.DurationVar(&f.AccrualInterval, "accrual-interval", 0, "Accrual job interval")

	// Subscription
	fs.StringVar(&f.Subscription, "subscription", "", "Plan tier source: static or postgres")
	fs.StringVar(&f.DefaultTier, "default-tier", "", "Plan tier for the static source")

	// Logging and metrics
	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&f.LogFile, "log-file", "", "Log file path")
	fs.BoolVar(&f.LogJSON, "log-json", false, "Output logs as JSON")
	fs.BoolVar(&f.Metrics, "metrics", true, "Serve /metrics on the API listener")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			f.Help = true
			return f, nil
		}
		return nil, err
	}

	if f.Testnet {
		f.Network = string(Testnet)
	}
	f.SetRPC = isFlagSet(fs, "rpc")
	f.SetRPCRate = isFlagSet(fs, "rpc-rate")
	f.SetSimnet = isFlagSet(fs, "simnet")
	f.SetAllowReveal = isFlagSet(fs, "allow-reveal")
	f.SetAccrual = isFlagSet(fs, "accrual")
	f.SetLogJSON = isFlagSet(fs, "log-json")
	f.SetMetrics = isFlagSet(fs, "metrics")

	f.Args = fs.Args()

	// A positional argument stops the parser; anything flag-like after it
	// was silently ignored.
	for _, arg := range f.Args {
		if strings.HasPrefix(arg, "-") {
			return nil, fmt.Errorf("flag %q was not parsed (positional argument stopped parsing)", arg)
		}
	}

	return f, nil
}

// ApplyFlags applies command-line flags to a Config struct.
func ApplyFlags(cfg *Config, f *Flags) error {
	// Core
	if f.Network != "" {
		cfg.Network = NetworkType(f.Network)
	}
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}

	// RPC
	if f.SetRPC {
		cfg.RPC.Enabled = f.RPC
	}
	if f.RPCAddr != "" {
		cfg.RPC.Addr = f.RPCAddr
	}
	if f.RPCPort != 0 {
		cfg.RPC.Port = f.RPCPort
	}
	if f.RPCAllowed != "" {
		cfg.RPC.AllowedIPs = parseStringList(f.RPCAllowed)
	}
	if f.RPCCORS != "" {
		cfg.RPC.CORSOrigins = parseStringList(f.RPCCORS)
	}
	if f.SetRPCRate {
		cfg.RPC.RateLimit = f.RPCRate
	}
	if f.RPCBurst != 0 {
		cfg.RPC.RateBurst = f.RPCBurst
	}

	// Chain
	if f.ChainRPC != "" {
		cfg.Chain.Endpoint = f.ChainRPC
	}
	if f.SetSimnet {
		cfg.Chain.Simnet = f.Simnet
	}

	// Keys
	if f.Keystore != "" {
		cfg.Keys.Keystore = f.Keystore
	}
	if f.SetAllowReveal {
		cfg.Keys.AllowReveal = f.AllowReveal
	}

	// Accrual
	if f.SetAccrual {
		cfg.Accrual.Enabled = f.Accrual
	}
	if f.AccrualInterval != 0 {
		cfg.Accrual.Interval = f.AccrualInterval
	}

	// Subscription
	if f.Subscription != "" {
		cfg.Subscription.Source = strings.ToLower(f.Subscription)
	}
	if f.DefaultTier != "" {
		tier, err := types.ParsePlanTier(f.DefaultTier)
		if err != nil {
			return fmt.Errorf("--default-tier: %w", err)
		}
		cfg.Subscription.DefaultTier = tier
	}

	// Logging and metrics
	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	if f.LogFile != "" {
		cfg.Log.File = f.LogFile
	}
	if f.SetLogJSON {
		cfg.Log.JSON = f.LogJSON
	}
	if f.SetMetrics {
		cfg.Metrics.Enabled = f.Metrics
	}
	return nil
}

// isFlagSet checks if a flag was explicitly set.
func isFlagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// PrintUsage writes the custodyd help text to w.
func PrintUsage(w io.Writer) {
	usage := `Klingnet Custody - custodial wallet derivation and settlement engine

Usage:
  custodyd [options]
  custodyd --help

Commands:
  --help, -h      Show this help message
  --version, -v   Show version information

Core Options:
  --network       Network type: mainnet (default) or testnet
  --testnet       Shorthand for --network=testnet
  --datadir       Data directory (default: ~/.klingnet-custody)
  --config, -c    Config file path (default: <datadir>/custodyd.conf)
  --env-file      Extra .env file with secrets (default: <datadir>/.env)

API Options:
  --rpc           Enable the settlement API (default: true)
  --rpc-addr      Listen address (default: 127.0.0.1)
  --rpc-port      Listen port (mainnet: 9545, testnet: 9645)
  --rpc-allowed   Allowed IPs (comma-separated)
  --rpc-cors      Allowed CORS origins (comma-separated)
  --rpc-rate      Requests per second per user (0 disables)
  --rpc-burst     Rate limit burst per user

Chain Options:
  --chain-rpc     Chain node RPC endpoint
  --simnet        Use the in-memory development chain

Key Options:
  --keystore      Vault entry holding the master mnemonic (default: master)
  --allow-reveal  Allow admins to reveal the master mnemonic

Accrual Options:
  --accrual           Run the credit accrual job
  --accrual-interval  Interval between accrual runs (default: 1m)

Subscription Options:
  --subscription  Plan tier source: static (default) or postgres
  --default-tier  Tier for the static source: free, basic, premium

Logging Options:
  --log-level     Log level: debug, info, warn, error (default: info)
  --log-file      Log file path (default: stdout)
  --log-json      Output logs as JSON
  --metrics       Serve /metrics on the API listener (default: true)

Environment:
  CUSTODY_MNEMONIC             Master mnemonic (skips the vault)
  CUSTODY_MNEMONIC_PASSPHRASE  Optional BIP-39 passphrase
  CUSTODY_KEYSTORE_PASSWORD    Vault password
  CUSTODY_JWT_SECRET           API token signing secret
  CUSTODY_DATABASE_URL         Postgres DSN for --subscription=postgres

Examples:
  # Start on testnet against a local node
  custodyd --testnet --chain-rpc=http://127.0.0.1:8645

  # Development instance with an in-memory chain and accrual
  custodyd --testnet --simnet --accrual --accrual-interval=10s
`
	fmt.Fprint(w, usage)
}

// Load loads configuration with the following precedence:
// 1. Default values
// 2. Auto-create data dirs + default config (idempotent)
// 3. Config file
// 4. Environment (.env files, then process variables)
// 5. Command-line flags
func Load(args []string) (*Config, *Flags, error) {
	flags, err := ParseFlags(args)
	if err != nil {
		return nil, nil, err
	}

	if flags.Help {
		PrintUsage(os.Stdout)
		return nil, flags, ErrHelp
	}
	if flags.Version {
		fmt.Println("custodyd version " + Version)
		return nil, flags, ErrHelp
	}

	network := Mainnet
	if strings.EqualFold(flags.Network, string(Testnet)) {
		network = Testnet
	}

	cfg := Default(network)

	if flags.DataDir != "" {
		cfg.DataDir = flags.DataDir
	}

	if err := EnsureDataDirs(cfg); err != nil {
		return nil, nil, fmt.Errorf("ensuring data dirs: %w", err)
	}

	configPath := flags.Config
	if configPath == "" {
		configPath = cfg.ConfigFile()
	}

	fileValues, err := LoadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config file: %w", err)
	}

	if err := ApplyFileConfig(cfg, fileValues); err != nil {
		return nil, nil, fmt.Errorf("applying config file: %w", err)
	}

	lookup, err := EnvLookup(flags.EnvFile, cfg.EnvFile(), ".env")
	if err != nil {
		return nil, nil, fmt.Errorf("loading environment: %w", err)
	}
	ApplyEnv(cfg, lookup)

	if err := ApplyFlags(cfg, flags); err != nil {
		return nil, nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, flags, nil
}

// EnsureDataDirs creates the data directory structure and a default config
// file if they don't already exist. Idempotent.
func EnsureDataDirs(cfg *Config) error {
	dirs := []string{
		cfg.DataDir,
		cfg.NetworkDataDir(),
		cfg.LedgerDir(),
		cfg.KeystoreDir(),
		cfg.LogsDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	configPath := cfg.ConfigFile()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := WriteDefaultConfig(configPath, cfg.Network); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}
	}

	return nil
}
