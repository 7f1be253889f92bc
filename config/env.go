package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Environment variables read by ApplyEnv.
const (
	EnvMnemonic           = "CUSTODY_MNEMONIC"
	EnvMnemonicPassphrase = "CUSTODY_MNEMONIC_PASSPHRASE"
	EnvKeystorePassword   = "CUSTODY_KEYSTORE_PASSWORD"
	EnvDatabaseURL        = "CUSTODY_DATABASE_URL"
	EnvChainRPC           = "CUSTODY_CHAIN_RPC"
	EnvLogLevel           = "CUSTODY_LOG_LEVEL"
)

// LookupFunc reports the value of an environment variable.
type LookupFunc func(key string) (string, bool)

// EnvLookup returns a lookup over the process environment backed by the
// given .env files. Process variables win over file values; missing files
// are skipped.
func EnvLookup(files ...string) (LookupFunc, error) {
	fileValues := make(map[string]string)
	for _, f := range files {
		if f == "" {
			continue
		}
		if _, err := os.Stat(f); os.IsNotExist(err) {
			continue
		}
		values, err := godotenv.Read(f)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", f, err)
		}
		for k, v := range values {
			if _, ok := fileValues[k]; !ok {
				fileValues[k] = v
			}
		}
	}
	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileValues[key]
		return v, ok
	}, nil
}

// ApplyEnv applies environment overrides and loads secrets.
func ApplyEnv(cfg *Config, lookup LookupFunc) {
	get := func(key string) string {
		v, _ := lookup(key)
		return v
	}

	cfg.Secrets.Mnemonic = get(EnvMnemonic)
	cfg.Secrets.MnemonicPassphrase = get(EnvMnemonicPassphrase)
	cfg.Secrets.KeystorePassword = get(EnvKeystorePassword)
	cfg.Secrets.DatabaseURL = get(EnvDatabaseURL)

	secretEnv := cfg.RPC.SecretEnv
	if secretEnv == "" {
		secretEnv = DefaultJWTSecretEnv
	}
	cfg.Secrets.JWTSecret = get(secretEnv)

	if v := get(EnvChainRPC); v != "" {
		cfg.Chain.Endpoint = v
	}
	if v := get(EnvLogLevel); v != "" {
		cfg.Log.Level = v
	}
}
