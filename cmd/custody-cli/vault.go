package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/Klingon-tech/klingnet-custody/config"
	"github.com/Klingon-tech/klingnet-custody/internal/keys"
	"github.com/Klingon-tech/klingnet-custody/internal/rpc"
	"github.com/Klingon-tech/klingnet-custody/internal/vault"
)

// ── vault ───────────────────────────────────────────────────────────────

func cmdVault(cfg *config.Config, args []string) {
	if len(args) < 1 {
		fatal("Usage: custody-cli vault <create|import|show|rekey> [flags]")
	}

	switch args[0] {
	case "create":
		cmdVaultCreate(cfg, args[1:])
	case "import":
		cmdVaultImport(cfg, args[1:])
	case "show":
		cmdVaultShow(cfg, args[1:])
	case "rekey":
		cmdVaultRekey(cfg, args[1:])
	default:
		fatal("Unknown vault command: %s\nUsage: custody-cli vault <create|import|show|rekey> [flags]", args[0])
	}
}

func vaultFlags(cfg *config.Config, name string, args []string) string {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	entry := fs.String("name", cfg.Keys.Keystore, "Vault entry name")
	fs.Parse(args)
	if *entry == "" {
		fatal("Usage: custody-cli %s --name <name>", name)
	}
	return *entry
}

func openVault(cfg *config.Config) *vault.Vault {
	v, err := vault.New(cfg.KeystoreDir())
	if err != nil {
		fatal("open vault: %v", err)
	}
	return v
}

func cmdVaultCreate(cfg *config.Config, args []string) {
	name := vaultFlags(cfg, "vault create", args)

	mnemonic, err := keys.GenerateMnemonic()
	if err != nil {
		fatal("generate mnemonic: %v", err)
	}

	fmt.Println("Master mnemonic (write this down, it controls every custody wallet!):")
	fmt.Printf("  %s\n\n", mnemonic)

	sealVault(cfg, name, mnemonic)
}

func cmdVaultImport(cfg *config.Config, args []string) {
	name := vaultFlags(cfg, "vault import", args)

	phrase, err := readPassword("Enter mnemonic: ")
	if err != nil {
		fatal("read mnemonic: %v", err)
	}
	mnemonic := strings.Join(strings.Fields(string(phrase)), " ")
	if !keys.ValidateMnemonic(mnemonic) {
		fatal("invalid mnemonic")
	}

	sealVault(cfg, name, mnemonic)
}

// sealVault derives the house wallet under the configured passphrase and
// account, then seals the mnemonic with a prompted password.
func sealVault(cfg *config.Config, name, mnemonic string) {
	v := openVault(cfg)
	if v.Exists(name) {
		fatal("vault %q already exists", name)
	}

	ks := keys.New(keys.Config{Account: cfg.Keys.Account})
	if err := ks.Init(mnemonic, cfg.Secrets.MnemonicPassphrase); err != nil {
		fatal("%v", err)
	}
	house, err := ks.HouseAddress()
	ks.Shutdown()
	if err != nil {
		fatal("derive house wallet: %v", err)
	}

	password := readNewPassword()
	if err := v.Create(name, mnemonic, password, vault.DefaultParams(), house.String()); err != nil {
		fatal("create vault: %v", err)
	}

	fmt.Printf("\nVault created: %s\n", name)
	fmt.Printf("House wallet:  %s\n", house)
	fmt.Printf("Start custodyd with $%s set to the vault password.\n", config.EnvKeystorePassword)
}

func cmdVaultShow(cfg *config.Config, args []string) {
	name := vaultFlags(cfg, "vault show", args)

	info, err := openVault(cfg).Info(name)
	if err != nil {
		fatal("%v", err)
	}
	fmt.Printf("Name:     %s\n", info.Name)
	fmt.Printf("Created:  %s\n", info.CreatedAt.Format(time.RFC3339))
	fmt.Printf("House:    %s\n", info.HouseAddress)
}

func cmdVaultRekey(cfg *config.Config, args []string) {
	name := vaultFlags(cfg, "vault rekey", args)

	old, err := readPassword("Current password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	password := readNewPassword()
	if err := openVault(cfg).Rekey(name, old, password, vault.DefaultParams()); err != nil {
		fatal("rekey: %v", err)
	}
	fmt.Println("Vault password changed.")
}

// ── derive ──────────────────────────────────────────────────────────────

func cmdDerive(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("derive", flag.ExitOnError)
	user := fs.String("user", "", "User ID")
	fs.Parse(args)

	if *user == "" {
		fatal("Usage: custody-cli derive --user <id>")
	}

	mnemonic := cfg.Secrets.Mnemonic
	if mnemonic == "" {
		password := []byte(cfg.Secrets.KeystorePassword)
		if len(password) == 0 {
			var err error
			if password, err = readPassword("Vault password: "); err != nil {
				fatal("read password: %v", err)
			}
		}
		var err error
		mnemonic, err = openVault(cfg).Unlock(cfg.Keys.Keystore, password)
		if err != nil {
			fatal("unlock vault: %v", err)
		}
	}

	ks := keys.New(keys.Config{Account: cfg.Keys.Account})
	if err := ks.Init(mnemonic, cfg.Secrets.MnemonicPassphrase); err != nil {
		fatal("%v", err)
	}
	defer ks.Shutdown()

	w, err := ks.DeriveWallet(*user)
	if err != nil {
		fatal("%v", err)
	}
	fmt.Printf("User:     %s\n", w.UserID)
	fmt.Printf("Address:  %s\n", w.Address)
	fmt.Printf("PubKey:   %s\n", w.PublicKey)
	fmt.Printf("Path:     %s\n", w.Path)
	fmt.Printf("Index:    %d\n", w.Index)
}

// ── token ───────────────────────────────────────────────────────────────

func cmdToken(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	user := fs.String("user", "", "Token subject (user ID)")
	admin := fs.Bool("admin", false, "Grant admin methods")
	ttl := fs.Duration("ttl", cfg.RPC.TokenTTL, "Token lifetime")
	fs.Parse(args)

	if *user == "" {
		fatal("Usage: custody-cli token --user <id> [--admin] [--ttl <dur>]")
	}
	if len(cfg.Secrets.JWTSecret) < config.MinJWTSecretLen {
		fatal("$%s must hold a secret of at least %d bytes", cfg.RPC.SecretEnv, config.MinJWTSecretLen)
	}

	tok, err := rpc.IssueToken([]byte(cfg.Secrets.JWTSecret), *user, *admin, *ttl)
	if err != nil {
		fatal("issue token: %v", err)
	}
	fmt.Println(tok)
}

// ── Password helpers ────────────────────────────────────────────────────

func readPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr) // newline after hidden input
	if err != nil {
		return nil, err
	}
	return password, nil
}

func readNewPassword() []byte {
	password, err := readPassword("Enter password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	confirm, err := readPassword("Confirm password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	if string(password) != string(confirm) {
		fatal("passwords do not match")
	}
	if len(password) == 0 {
		fatal("empty password")
	}
	return password
}
