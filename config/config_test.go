package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Klingon-tech/klingnet-custody/pkg/types"
)

const testSecret = "0123456789abcdef0123"

func validConfig() *Config {
	cfg := DefaultTestnet()
	cfg.DataDir = "/tmp/custody"
	cfg.Secrets.JWTSecret = testSecret
	return cfg
}

func mapLookup(m map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestDefaults(t *testing.T) {
	main := DefaultMainnet()
	if main.Network != Mainnet || main.RPC.Port != 9545 {
		t.Fatalf("mainnet defaults: network=%s port=%d", main.Network, main.RPC.Port)
	}
	test := DefaultTestnet()
	if test.Network != Testnet || test.RPC.Port != 9645 {
		t.Fatalf("testnet defaults: network=%s port=%d", test.Network, test.RPC.Port)
	}
	if test.Chain.Endpoint != Params(Testnet).ChainRPCURL {
		t.Errorf("testnet chain endpoint = %s", test.Chain.Endpoint)
	}
	if main.Subscription.DefaultTier != types.TierFree {
		t.Errorf("default tier = %s, want free", main.Subscription.DefaultTier)
	}
	if main.Keys.AllowReveal {
		t.Error("reveal must be off by default")
	}
	if Default("bogus").Network != Mainnet {
		t.Error("unknown network should default to mainnet")
	}
}

func TestParams(t *testing.T) {
	if Params(Mainnet).AddressHRP != types.MainnetHRP {
		t.Errorf("mainnet hrp = %s", Params(Mainnet).AddressHRP)
	}
	if Params(Testnet).AddressHRP != types.TestnetHRP {
		t.Errorf("testnet hrp = %s", Params(Testnet).AddressHRP)
	}
	cfg := validConfig()
	if got := cfg.RPCListenAddr(); got != "127.0.0.1:9645" {
		t.Errorf("RPCListenAddr() = %s", got)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custodyd.conf")
	content := `# comment
network = testnet
rpc.port = 7000
rpc.cors = "http://a, http://b"
chain.rpc = 'http://node:8645'

log.level=debug
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	values, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	want := map[string]string{
		"network":   "testnet",
		"rpc.port":  "7000",
		"rpc.cors":  "http://a, http://b",
		"chain.rpc": "http://node:8645",
		"log.level": "debug",
	}
	if len(values) != len(want) {
		t.Fatalf("got %d values, want %d: %v", len(values), len(want), values)
	}
	for k, v := range want {
		if values[k] != v {
			t.Errorf("%s = %q, want %q", k, values[k], v)
		}
	}
}

func TestLoadFile_Missing(t *testing.T) {
	values, err := LoadFile(filepath.Join(t.TempDir(), "nope.conf"))
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	if len(values) != 0 {
		t.Fatalf("expected no values, got %v", values)
	}
}

func TestLoadFile_BadLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.conf")
	if err := os.WriteFile(path, []byte("network testnet\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil || !strings.Contains(err.Error(), "line 1") {
		t.Fatalf("expected line error, got %v", err)
	}
}

func TestApplyFileConfig(t *testing.T) {
	cfg := DefaultMainnet()
	err := ApplyFileConfig(cfg, map[string]string{
		"rpc.rate":                  "2.5",
		"rpc.burst":                 "10",
		"rpc.cors":                  "http://a, http://b",
		"chain.confirm_timeout":     "90s",
		"chain.simnet":              "yes",
		"keys.keystore":             "hot",
		"keys.account":              "3",
		"keys.allow_reveal":         "on",
		"accrual":                   "1",
		"accrual.interval":          "30s",
		"subscription.source":       "Postgres",
		"subscription.default_tier": "Premium",
		"metrics.enabled":           "false",
		"some.unknown.key":          "ignored",
	})
	if err != nil {
		t.Fatalf("ApplyFileConfig() error: %v", err)
	}
	if cfg.RPC.RateLimit != 2.5 || cfg.RPC.RateBurst != 10 {
		t.Errorf("rate = %v/%d", cfg.RPC.RateLimit, cfg.RPC.RateBurst)
	}
	if len(cfg.RPC.CORSOrigins) != 2 || cfg.RPC.CORSOrigins[1] != "http://b" {
		t.Errorf("cors = %v", cfg.RPC.CORSOrigins)
	}
	if cfg.Chain.ConfirmTimeout != 90*time.Second || !cfg.Chain.Simnet {
		t.Errorf("chain = %+v", cfg.Chain)
	}
	if cfg.Keys.Keystore != "hot" || cfg.Keys.Account != 3 || !cfg.Keys.AllowReveal {
		t.Errorf("keys = %+v", cfg.Keys)
	}
	if !cfg.Accrual.Enabled || cfg.Accrual.Interval != 30*time.Second {
		t.Errorf("accrual = %+v", cfg.Accrual)
	}
	if cfg.Subscription.Source != SourcePostgres || cfg.Subscription.DefaultTier != types.TierPremium {
		t.Errorf("subscription = %+v", cfg.Subscription)
	}
	if cfg.Metrics.Enabled {
		t.Error("metrics should be disabled")
	}
}

func TestApplyFileConfig_Errors(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"rpc.port", "abc"},
		{"rpc.rate", "fast"},
		{"chain.timeout", "15"},
		{"keys.account", "-1"},
		{"keys.account", "2147483648"},
		{"subscription.default_tier", "gold"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			err := ApplyFileConfig(DefaultMainnet(), map[string]string{tt.key: tt.value})
			if err == nil || !strings.Contains(err.Error(), tt.key) {
				t.Fatalf("expected error naming %s, got %v", tt.key, err)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := DefaultMainnet()
	cfg.RPC.SecretEnv = "MY_SECRET"
	ApplyEnv(cfg, mapLookup(map[string]string{
		EnvMnemonic:           "abandon about",
		EnvMnemonicPassphrase: "TREZOR",
		EnvKeystorePassword:   "pw",
		EnvDatabaseURL:        "postgres://x",
		"MY_SECRET":           testSecret,
		DefaultJWTSecretEnv:   "not-this-one",
		EnvChainRPC:           "http://node:1",
		EnvLogLevel:           "debug",
	}))

	s := cfg.Secrets
	if s.Mnemonic != "abandon about" || s.MnemonicPassphrase != "TREZOR" || s.KeystorePassword != "pw" || s.DatabaseURL != "postgres://x" {
		t.Errorf("secrets not loaded")
	}
	if s.JWTSecret != testSecret {
		t.Errorf("jwt secret read from the wrong variable")
	}
	if cfg.Chain.Endpoint != "http://node:1" || cfg.Log.Level != "debug" {
		t.Errorf("overrides not applied: %s %s", cfg.Chain.Endpoint, cfg.Log.Level)
	}
}

func TestSecrets_NeverFormatted(t *testing.T) {
	cfg := DefaultMainnet()
	cfg.Secrets.Mnemonic = "abandon abandon about"
	cfg.Secrets.JWTSecret = testSecret
	for _, out := range []string{
		fmt.Sprintf("%v", cfg.Secrets),
		fmt.Sprintf("%+v", cfg),
		fmt.Sprintf("%#v", cfg.Secrets),
	} {
		if strings.Contains(out, "abandon") || strings.Contains(out, testSecret) {
			t.Fatalf("secret leaked in %q", out)
		}
	}
}

func TestEnvLookup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "CUSTODY_TEST_FILE_ONLY=from-file\nCUSTODY_TEST_BOTH=from-file\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CUSTODY_TEST_BOTH", "from-process")

	lookup, err := EnvLookup(path, filepath.Join(dir, "missing.env"))
	if err != nil {
		t.Fatalf("EnvLookup() error: %v", err)
	}
	if v, _ := lookup("CUSTODY_TEST_FILE_ONLY"); v != "from-file" {
		t.Errorf("file value = %q", v)
	}
	if v, _ := lookup("CUSTODY_TEST_BOTH"); v != "from-process" {
		t.Errorf("process value should win, got %q", v)
	}
	if _, ok := lookup("CUSTODY_TEST_UNSET"); ok {
		t.Error("unset variable reported as set")
	}
	if _, ok := os.LookupEnv("CUSTODY_TEST_FILE_ONLY"); ok {
		t.Error("EnvLookup must not modify the process environment")
	}
}

func TestParseFlags(t *testing.T) {
	f, err := ParseFlags([]string{"--testnet", "--rpc-rate=0", "--simnet", "--accrual-interval=5s", "--default-tier=basic", "--metrics=false"})
	if err != nil {
		t.Fatalf("ParseFlags() error: %v", err)
	}
	if f.Network != string(Testnet) {
		t.Errorf("network = %s", f.Network)
	}

	cfg := DefaultMainnet()
	if err := ApplyFlags(cfg, f); err != nil {
		t.Fatalf("ApplyFlags() error: %v", err)
	}
	if cfg.Network != Testnet || cfg.RPC.RateLimit != 0 || !cfg.Chain.Simnet {
		t.Errorf("flags not applied: %+v", cfg)
	}
	if cfg.Accrual.Interval != 5*time.Second || cfg.Subscription.DefaultTier != types.TierBasic {
		t.Errorf("accrual/tier not applied")
	}
	if cfg.Metrics.Enabled {
		t.Error("metrics should be disabled")
	}
	// Unset bools keep the config value.
	if !cfg.RPC.Enabled {
		t.Error("rpc disabled without --rpc")
	}
}

func TestParseFlags_Errors(t *testing.T) {
	if _, err := ParseFlags([]string{"--no-such-flag"}); err == nil {
		t.Error("expected error for unknown flag")
	}
	if _, err := ParseFlags([]string{"--simnet", "stray", "--accrual"}); err == nil {
		t.Error("expected error for flag after positional argument")
	}
	f, err := ParseFlags([]string{"-h"})
	if err != nil || !f.Help {
		t.Errorf("-h: help=%v err=%v", f != nil && f.Help, err)
	}

	cfg := DefaultMainnet()
	if err := ApplyFlags(cfg, &Flags{DefaultTier: "gold"}); err == nil {
		t.Error("expected error for unknown tier")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errSub string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad network", func(c *Config) { c.Network = "devnet" }, "network"},
		{"no datadir", func(c *Config) { c.DataDir = "" }, "datadir"},
		{"bad port", func(c *Config) { c.RPC.Port = 70000 }, "rpc.port"},
		{"negative rate", func(c *Config) { c.RPC.RateLimit = -1 }, "rpc.rate"},
		{"short secret", func(c *Config) { c.Secrets.JWTSecret = "short" }, "JWT secret"},
		{"no secret rpc off", func(c *Config) { c.Secrets.JWTSecret = ""; c.RPC.Enabled = false }, ""},
		{"bad chain url", func(c *Config) { c.Chain.Endpoint = "node:8645" }, "chain.rpc"},
		{"simnet skips url", func(c *Config) { c.Chain.Endpoint = ""; c.Chain.Simnet = true }, ""},
		{"simnet on mainnet", func(c *Config) { c.Network = Mainnet; c.Chain.Simnet = true }, "simnet"},
		{"zero timeout", func(c *Config) { c.Chain.Timeout = 0 }, "chain.timeout"},
		{"zero confirm timeout", func(c *Config) { c.Chain.ConfirmTimeout = 0 }, "chain.confirm_timeout"},
		{"hardened account", func(c *Config) { c.Keys.Account = 1 << 31 }, "keys.account"},
		{"accrual no interval", func(c *Config) { c.Accrual.Enabled = true; c.Accrual.Interval = 0 }, "accrual.interval"},
		{"bad source", func(c *Config) { c.Subscription.Source = "ldap" }, "subscription.source"},
		{"bad tier", func(c *Config) { c.Subscription.DefaultTier = "gold" }, "default_tier"},
		{"postgres no dsn", func(c *Config) { c.Subscription.Source = SourcePostgres }, EnvDatabaseURL},
		{"postgres with dsn", func(c *Config) {
			c.Subscription.Source = SourcePostgres
			c.Secrets.DatabaseURL = "postgres://localhost/custody"
		}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.errSub == "" {
				if err != nil {
					t.Fatalf("Validate() error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.errSub) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.errSub)
			}
		})
	}
	if err := Validate(nil); err == nil {
		t.Error("Validate(nil) should fail")
	}
}

func TestEnsureDataDirs(t *testing.T) {
	cfg := DefaultTestnet()
	cfg.DataDir = filepath.Join(t.TempDir(), "data")

	for i := 0; i < 2; i++ {
		if err := EnsureDataDirs(cfg); err != nil {
			t.Fatalf("EnsureDataDirs() #%d error: %v", i, err)
		}
	}
	for _, dir := range []string{cfg.LedgerDir(), cfg.KeystoreDir(), cfg.LogsDir()} {
		if st, err := os.Stat(dir); err != nil || !st.IsDir() {
			t.Errorf("%s not created: %v", dir, err)
		}
	}

	// The generated file parses and round-trips to the defaults.
	values, err := LoadFile(cfg.ConfigFile())
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	fromFile := DefaultMainnet()
	if err := ApplyFileConfig(fromFile, values); err != nil {
		t.Fatalf("ApplyFileConfig() error: %v", err)
	}
	if fromFile.Network != Testnet || fromFile.RPC.Port != 9645 || fromFile.Chain.Endpoint != cfg.Chain.Endpoint {
		t.Errorf("default file does not match testnet defaults: %+v", fromFile)
	}
	if _, ok := values["keys.mnemonic"]; ok {
		t.Error("config file must not carry secrets")
	}
}

func TestLoad(t *testing.T) {
	t.Setenv(DefaultJWTSecretEnv, "")
	os.Unsetenv(DefaultJWTSecretEnv)

	dir := filepath.Join(t.TempDir(), "data")
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "custodyd.conf"), []byte("network = testnet\nrpc.port = 7001\naccrual.enabled = true\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("CUSTODY_JWT_SECRET="+testSecret+"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, flags, err := Load([]string{"--testnet", "--datadir", dir, "--simnet", "--rpc-port=7002"})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if flags == nil || !flags.Simnet {
		t.Fatalf("flags not returned")
	}
	if cfg.RPC.Port != 7002 {
		t.Errorf("flag should beat file: port = %d", cfg.RPC.Port)
	}
	if !cfg.Accrual.Enabled {
		t.Error("file value lost")
	}
	if cfg.Secrets.JWTSecret != testSecret {
		t.Error("secret from .env not loaded")
	}
}

func TestLoad_Help(t *testing.T) {
	_, _, err := Load([]string{"--version"})
	if !errors.Is(err, ErrHelp) {
		t.Fatalf("Load(--version) = %v, want ErrHelp", err)
	}
}
