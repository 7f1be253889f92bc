// custody-cli is a command-line client for operating a custodyd engine.
package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/Klingon-tech/klingnet-custody/config"
	"github.com/Klingon-tech/klingnet-custody/internal/rpcclient"
	"github.com/Klingon-tech/klingnet-custody/pkg/types"
)

// EnvToken is read when --token is not given.
const EnvToken = "CUSTODY_TOKEN"

// globals holds the flags that appear before the subcommand.
type globals struct {
	rpcURL  string
	dataDir string
	network string
	token   string
	user    string
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	g, args, err := parseGlobals(os.Args[1:])
	if err != nil {
		fatal("%v", err)
	}
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	cfg, err := localConfig(g)
	if err != nil {
		fatal("%v", err)
	}
	types.SetAddressHRP(cfg.Params().AddressHRP)

	if g.rpcURL == "" {
		g.rpcURL = "http://" + cfg.RPCListenAddr()
	}
	if g.token == "" {
		g.token = os.Getenv(EnvToken)
	}
	client := rpcclient.New(g.rpcURL).WithToken(g.token)

	cmd := args[0]
	cmdArgs := args[1:]

	switch cmd {
	case "vault":
		cmdVault(cfg, cmdArgs)
	case "derive":
		cmdDerive(cfg, cmdArgs)
	case "token":
		cmdToken(cfg, cmdArgs)
	case "wallet":
		cmdWallet(client, g.user)
	case "balance":
		cmdBalance(client, g.user)
	case "deposit":
		cmdDeposit(client, g.user)
	case "withdraw":
		cmdWithdraw(client, g.user, cmdArgs)
	case "purchase":
		cmdPurchase(client, g.user, cmdArgs)
	case "payfee":
		cmdPayFee(client, g.user, cmdArgs)
	case "history":
		cmdHistory(client, g.user, cmdArgs)
	case "boosters":
		cmdBoosters(client, g.user)
	case "catalog":
		cmdCatalog(client)
	case "booster-create":
		cmdBoosterCreate(client, cmdArgs)
	case "house":
		cmdHouse(client)
	case "sweep":
		cmdSweep(client, cmdArgs)
	case "reveal":
		cmdReveal(client)
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

// parseGlobals consumes --rpc, --datadir, --network, --token and --user
// ahead of the subcommand.
func parseGlobals(args []string) (globals, []string, error) {
	g := globals{
		dataDir: config.DefaultDataDir(),
		network: string(config.Mainnet),
	}
	targets := map[string]*string{
		"rpc":     &g.rpcURL,
		"datadir": &g.dataDir,
		"network": &g.network,
		"token":   &g.token,
		"user":    &g.user,
	}

	for len(args) > 0 && strings.HasPrefix(args[0], "--") {
		name, value, hasValue := strings.Cut(args[0][2:], "=")
		dst, ok := targets[name]
		if !ok {
			break
		}
		if !hasValue {
			if len(args) < 2 {
				return g, nil, fmt.Errorf("--%s needs a value", name)
			}
			value = args[1]
			args = args[1:]
		}
		*dst = value
		args = args[1:]
	}

	switch config.NetworkType(g.network) {
	case config.Mainnet, config.Testnet:
	default:
		return g, nil, fmt.Errorf("unknown network %q", g.network)
	}
	return g, args, nil
}

// localConfig reads the same config file and .env files custodyd does, so
// vault and token commands see the daemon's keystore and secrets.
func localConfig(g globals) (*config.Config, error) {
	cfg := config.Default(config.NetworkType(g.network))
	cfg.DataDir = g.dataDir

	values, err := config.LoadFile(cfg.ConfigFile())
	if err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}
	if err := config.ApplyFileConfig(cfg, values); err != nil {
		return nil, fmt.Errorf("applying config file: %w", err)
	}
	lookup, err := config.EnvLookup(cfg.EnvFile(), ".env")
	if err != nil {
		return nil, err
	}
	config.ApplyEnv(cfg, lookup)
	return cfg, nil
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: custody-cli [global flags] <command> [flags]

Global flags:
  --rpc <url>         Engine API endpoint (default: from config)
  --datadir <path>    Data directory (default: ~/.klingnet-custody)
  --network <net>     mainnet (default) or testnet
  --token <jwt>       API token (default: $%s)
  --user <id>         Act on this user (admin tokens only)

Operator commands (local, no API):
  vault create [--name <n>]       Generate and seal a new master mnemonic
  vault import [--name <n>]       Seal an existing master mnemonic
  vault show [--name <n>]         Show vault metadata
  vault rekey [--name <n>]        Change the vault password
  derive --user <id>              Derive a user's custody wallet offline
  token --user <id> [--admin] [--ttl <dur>]
                                  Issue an API token

Account commands:
  wallet                          Show the custody wallet
  balance                         Show credit and chain balances
  deposit                         Credit newly observed chain funds
  withdraw --amount <amt>         Withdraw credits to the house wallet
  purchase --booster <id> --amount <amt> [--external --ref <id>]
                                  Buy a booster
  payfee --amount <amt> [--external --ref <id>]
                                  Pay the withdrawal fee
  history [--limit <n>]           Show ledger records, newest first
  boosters                        Show owned boosters

Admin commands:
  catalog                         List purchasable boosters
  booster-create --id <id> --name <n> --multiplier <x> --price <amt> --type <t> [--duration <dur>]
                                  Add or replace a catalog booster
  house                           Show the house wallet
  sweep --user <id> [--amount <amt>]
                                  Move chain funds to the house wallet
  reveal                          Reveal the master mnemonic (if enabled)
`, EnvToken)
}

// ── Error helper ────────────────────────────────────────────────────────

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// fatalRPC prints an API error with its kind and exits.
func fatalRPC(method string, err error) {
	var rpcErr *rpcclient.RPCError
	if errors.As(err, &rpcErr) && rpcErr.Kind() != "" {
		fatal("%s: %s (%s)", method, rpcErr.Message, rpcErr.Kind())
	}
	fatal("%s: %v", method, err)
}
