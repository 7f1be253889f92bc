package node

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Klingon-tech/klingnet-custody/config"
	"github.com/Klingon-tech/klingnet-custody/internal/chain"
	"github.com/Klingon-tech/klingnet-custody/internal/subscription"
	"github.com/Klingon-tech/klingnet-custody/internal/vault"
)

// ErrNoMnemonic is returned when neither the environment nor the vault
// provides a master mnemonic.
var ErrNoMnemonic = errors.New("no master mnemonic configured")

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// loadMnemonic returns the master mnemonic from the environment, or else
// from the configured vault. For a vault it also returns the house address
// recorded at creation, for a post-derivation check.
func loadMnemonic(cfg *config.Config) (mnemonic, houseAddress string, err error) {
	if cfg.Secrets.Mnemonic != "" {
		return strings.TrimSpace(cfg.Secrets.Mnemonic), "", nil
	}

	v, err := vault.New(cfg.KeystoreDir())
	if err != nil {
		return "", "", err
	}
	name := cfg.Keys.Keystore
	if !v.Exists(name) {
		return "", "", fmt.Errorf("%w: set $%s or create vault %q with custody-cli vault create",
			ErrNoMnemonic, config.EnvMnemonic, name)
	}
	if cfg.Secrets.KeystorePassword == "" {
		return "", "", fmt.Errorf("%w: vault %q needs $%s", ErrNoMnemonic, name, config.EnvKeystorePassword)
	}
	info, err := v.Info(name)
	if err != nil {
		return "", "", err
	}
	mnemonic, err = v.Unlock(name, []byte(cfg.Secrets.KeystorePassword))
	if err != nil {
		return "", "", fmt.Errorf("unlock vault %q: %w", name, err)
	}
	return mnemonic, info.HouseAddress, nil
}

// newGateway builds the chain gateway for cfg.
func newGateway(cfg *config.Config) chain.Gateway {
	if cfg.Chain.Simnet {
		return chain.NewSimnet()
	}
	return chain.NewRPC(chain.RPCConfig{
		Endpoint:     cfg.Chain.Endpoint,
		Timeout:      cfg.Chain.Timeout,
		PollInterval: cfg.Chain.PollInterval,
	})
}

// openDirectory builds the plan tier directory for cfg.
func openDirectory(cfg *config.Config) (subscription.Directory, error) {
	switch cfg.Subscription.Source {
	case config.SourcePostgres:
		dir, err := subscription.OpenPostgres(cfg.Secrets.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open subscription database: %w", err)
		}
		return dir, nil
	default:
		return subscription.NewStatic(cfg.Subscription.DefaultTier), nil
	}
}
