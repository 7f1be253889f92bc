package node

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Klingon-tech/klingnet-custody/config"
	"github.com/Klingon-tech/klingnet-custody/internal/chain"
	"github.com/Klingon-tech/klingnet-custody/internal/keys"
	"github.com/Klingon-tech/klingnet-custody/internal/rpc"
	"github.com/Klingon-tech/klingnet-custody/internal/rpcclient"
	"github.com/Klingon-tech/klingnet-custody/internal/settlement"
	"github.com/Klingon-tech/klingnet-custody/internal/vault"
	"github.com/Klingon-tech/klingnet-custody/pkg/types"
)

const (
	testMnemonic   = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	testPassphrase = "TREZOR"
	testSecret     = "node-test-secret-0123456789"
)

var fastVault = vault.Params{Memory: 1024, Iterations: 1, Parallelism: 1}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultTestnet()
	cfg.DataDir = t.TempDir()
	cfg.Chain.Simnet = true
	cfg.RPC.Port = 0
	cfg.Log.Level = "error"
	cfg.Secrets.Mnemonic = testMnemonic
	cfg.Secrets.MnemonicPassphrase = testPassphrase
	cfg.Secrets.JWTSecret = testSecret
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return cfg
}

func startNode(t *testing.T, cfg *config.Config) *Node {
	t.Helper()
	n, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := n.Start(); err != nil {
		n.Stop()
		t.Fatalf("Start: %v", err)
	}
	return n
}

func client(t *testing.T, n *Node, userID string) *rpcclient.Client {
	t.Helper()
	tok, err := rpc.IssueToken([]byte(testSecret), userID, false, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	return rpcclient.New("http://" + n.RPCAddr()).WithToken(tok)
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	tests := []struct {
		input, want string
	}{
		{"~/foo/bar", filepath.Join(home, "foo/bar")},
		{"~/.klingnet-custody/custodyd.log", filepath.Join(home, ".klingnet-custody/custodyd.log")},
		{"/absolute/path", "/absolute/path"},
		{"relative/path", "relative/path"},
		{"", ""},
	}
	for _, tt := range tests {
		got := expandHome(tt.input)
		if got != tt.want {
			t.Errorf("expandHome(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestNode_EndToEnd(t *testing.T) {
	cfg := testConfig(t)
	n := startNode(t, cfg)
	defer n.Stop()

	c := client(t, n, "alice")

	var w rpc.WalletResult
	if err := c.Call("custody_getWallet", nil, &w); err != nil {
		t.Fatalf("getWallet: %v", err)
	}
	if w.Index != 2073485382 {
		t.Errorf("index = %d, want 2073485382", w.Index)
	}
	if got := w.Address.Hex(); got != "5a123833bba61aa3c6e3d00a891fd2a69e299ec4" {
		t.Errorf("address = %s", got)
	}
	if got := types.AddressHRP(); got != types.TestnetHRP {
		t.Errorf("hrp = %q, want %q", got, types.TestnetHRP)
	}

	sim, ok := n.Gateway().(*chain.Simnet)
	if !ok {
		t.Fatalf("gateway = %T, want *chain.Simnet", n.Gateway())
	}
	sim.Fund(w.Address, 250*types.Coin)

	var b settlement.Balances
	if err := c.Call("custody_confirmDeposit", nil, &b); err != nil {
		t.Fatalf("confirmDeposit: %v", err)
	}
	if b.CreditBalance != 250*types.Coin {
		t.Errorf("credit = %s, want 250", b.CreditBalance)
	}
}

func TestNode_LedgerSurvivesRestart(t *testing.T) {
	cfg := testConfig(t)
	n := startNode(t, cfg)

	w, err := n.Engine().Wallet(t.Context(), "bob")
	if err != nil {
		n.Stop()
		t.Fatalf("Wallet: %v", err)
	}
	n.Gateway().(*chain.Simnet).Fund(w.Address, 120*types.Coin)
	if _, err := n.Engine().ConfirmDeposit(t.Context(), "bob"); err != nil {
		n.Stop()
		t.Fatalf("ConfirmDeposit: %v", err)
	}
	n.Stop()
	n.Stop()

	n2 := startNode(t, cfg)
	defer n2.Stop()
	b, err := n2.Engine().Balances(t.Context(), "bob")
	if err != nil {
		t.Fatalf("Balances: %v", err)
	}
	if b.CreditBalance != 120*types.Coin {
		t.Errorf("credit after restart = %s, want 120", b.CreditBalance)
	}
}

func TestNode_StopWaitsForSettlement(t *testing.T) {
	cfg := testConfig(t)
	n := startNode(t, cfg)

	sim := n.Gateway().(*chain.Simnet)
	w, err := n.Engine().Wallet(t.Context(), "dora")
	if err != nil {
		n.Stop()
		t.Fatalf("Wallet: %v", err)
	}
	sim.Fund(w.Address, 80*types.Coin)
	if _, err := n.Engine().ConfirmDeposit(t.Context(), "dora"); err != nil {
		n.Stop()
		t.Fatalf("ConfirmDeposit: %v", err)
	}
	sim.SetConfirmDelay(300 * time.Millisecond)

	swept := make(chan error, 1)
	go func() {
		_, err := n.Engine().Sweep(t.Context(), "dora", 30*types.Coin)
		swept <- err
	}()
	deadline := time.Now().Add(2 * time.Second)
	for len(sim.Transfers()) == 0 {
		if time.Now().After(deadline) {
			n.Stop()
			t.Fatal("sweep never submitted")
		}
		time.Sleep(5 * time.Millisecond)
	}

	n.Stop()
	select {
	case err := <-swept:
		if err != nil {
			t.Fatalf("Sweep: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("sweep still running after Stop")
	}

	n2 := startNode(t, cfg)
	defer n2.Stop()
	pending, err := n2.Engine().Ledger().ListPending(t.Context())
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending after restart = %d, want 0", len(pending))
	}
	b, err := n2.Engine().Balances(t.Context(), "dora")
	if err != nil {
		t.Fatalf("Balances: %v", err)
	}
	if b.ObservedChainBalance != 50*types.Coin {
		t.Errorf("observed chain balance = %s, want 50", b.ObservedChainBalance)
	}
}

func TestNode_RPCDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.RPC.Enabled = false
	cfg.Accrual.Enabled = true
	cfg.Accrual.Interval = time.Hour
	n := startNode(t, cfg)
	defer n.Stop()

	if n.RPCAddr() != "" {
		t.Errorf("RPCAddr = %q, want empty", n.RPCAddr())
	}
}

func TestNew_NoMnemonic(t *testing.T) {
	cfg := testConfig(t)
	cfg.Secrets.Mnemonic = ""

	if _, err := New(cfg); !errors.Is(err, ErrNoMnemonic) {
		t.Fatalf("New without mnemonic: got %v, want ErrNoMnemonic", err)
	}
}

func TestNew_InvalidMnemonic(t *testing.T) {
	cfg := testConfig(t)
	cfg.Secrets.Mnemonic = "abandon abandon abandon"

	if _, err := New(cfg); err == nil {
		t.Fatal("New with invalid mnemonic should fail")
	}
}

func createVault(t *testing.T, cfg *config.Config, password, houseAddress string) {
	t.Helper()
	v, err := vault.New(cfg.KeystoreDir())
	if err != nil {
		t.Fatalf("vault.New: %v", err)
	}
	if err := v.Create(cfg.Keys.Keystore, testMnemonic, []byte(password), fastVault, houseAddress); err != nil {
		t.Fatalf("Create: %v", err)
	}
}

func houseAddress(t *testing.T) string {
	t.Helper()
	ks := keys.New(keys.Config{})
	if err := ks.Init(testMnemonic, testPassphrase); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer ks.Shutdown()
	types.SetAddressHRP(types.TestnetHRP)
	addr, err := ks.HouseAddress()
	if err != nil {
		t.Fatalf("HouseAddress: %v", err)
	}
	return addr.String()
}

func TestNew_FromVault(t *testing.T) {
	cfg := testConfig(t)
	cfg.Secrets.Mnemonic = ""
	cfg.Secrets.KeystorePassword = "hunter22"
	createVault(t, cfg, "hunter22", houseAddress(t))

	n := startNode(t, cfg)
	defer n.Stop()

	var w rpc.WalletResult
	if err := client(t, n, "alice").Call("custody_getWallet", nil, &w); err != nil {
		t.Fatalf("getWallet: %v", err)
	}
	if got := w.Address.Hex(); got != "5a123833bba61aa3c6e3d00a891fd2a69e299ec4" {
		t.Errorf("address = %s", got)
	}
}

func TestNew_VaultErrors(t *testing.T) {
	t.Run("no password", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Secrets.Mnemonic = ""
		createVault(t, cfg, "hunter22", "")
		if _, err := New(cfg); !errors.Is(err, ErrNoMnemonic) {
			t.Fatalf("got %v, want ErrNoMnemonic", err)
		}
	})
	t.Run("wrong password", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Secrets.Mnemonic = ""
		cfg.Secrets.KeystorePassword = "wrong"
		createVault(t, cfg, "hunter22", "")
		if _, err := New(cfg); !errors.Is(err, vault.ErrWrongPassword) {
			t.Fatalf("got %v, want ErrWrongPassword", err)
		}
	})
	t.Run("house mismatch", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Secrets.Mnemonic = ""
		cfg.Secrets.KeystorePassword = "hunter22"
		cfg.Secrets.MnemonicPassphrase = "not-the-one"
		createVault(t, cfg, "hunter22", houseAddress(t))
		if _, err := New(cfg); !errors.Is(err, keys.ErrDerivationFailure) {
			t.Fatalf("got %v, want ErrDerivationFailure", err)
		}
	})
}
