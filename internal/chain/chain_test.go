package chain

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Klingon-tech/klingnet-custody/pkg/crypto"
	"github.com/Klingon-tech/klingnet-custody/pkg/types"
)

func newKey(t *testing.T) *crypto.PrivateKey {
	t.Helper()
	k, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}
	return k
}

func TestTransfer_SignVerify(t *testing.T) {
	key := newKey(t)
	to := types.Address{0x42}

	tr, err := SignTransfer(key, to, types.Coins(5), 7)
	if err != nil {
		t.Fatalf("SignTransfer() error: %v", err)
	}
	if tr.From != key.Address() {
		t.Errorf("From = %s, want signer address", tr.From)
	}
	if err := tr.Verify(); err != nil {
		t.Fatalf("Verify() error: %v", err)
	}

	tampered := *tr
	tampered.Amount++
	if err := tampered.Verify(); !errors.Is(err, ErrRejected) {
		t.Errorf("tampered amount: Verify() = %v, want ErrRejected", err)
	}

	wrongKey := *tr
	wrongKey.PublicKey = newKey(t).PublicKey()
	if err := wrongKey.Verify(); !errors.Is(err, ErrRejected) {
		t.Errorf("foreign key: Verify() = %v, want ErrRejected", err)
	}

	if _, err := SignTransfer(key, to, 0, 1); err == nil {
		t.Error("SignTransfer() should reject a zero amount")
	}
}

func TestSimnet_TransferConfirm(t *testing.T) {
	ctx := context.Background()
	net := NewSimnet()
	user := newKey(t)
	house := types.Address{0xaa}
	net.Fund(user.Address(), types.Coins(100))

	id, err := net.Transfer(ctx, user, house, types.Coins(60))
	if err != nil {
		t.Fatalf("Transfer() error: %v", err)
	}
	// Reserved at submission.
	if bal, _ := net.Balance(ctx, user.Address()); bal != types.Coins(40) {
		t.Errorf("user balance after submit = %s, want 40", bal)
	}
	if err := net.WaitConfirmed(ctx, id); err != nil {
		t.Fatalf("WaitConfirmed() error: %v", err)
	}
	if bal, _ := net.Balance(ctx, house); bal != types.Coins(60) {
		t.Errorf("house balance = %s, want 60", bal)
	}
	// Confirmed is sticky.
	if err := net.WaitConfirmed(ctx, id); err != nil {
		t.Errorf("second WaitConfirmed() error: %v", err)
	}
	if n := len(net.Transfers()); n != 1 {
		t.Errorf("Transfers() = %d, want 1", n)
	}
}

func TestSimnet_InsufficientFunds(t *testing.T) {
	net := NewSimnet()
	user := newKey(t)
	net.Fund(user.Address(), types.Coins(1))

	_, err := net.Transfer(context.Background(), user, types.Address{1}, types.Coins(2))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("Transfer() error = %v, want ErrInsufficientFunds", err)
	}
}

func TestSimnet_InjectedFailures(t *testing.T) {
	ctx := context.Background()
	net := NewSimnet()
	user := newKey(t)
	net.Fund(user.Address(), types.Coins(10))

	net.FailNextBalance(ErrNetwork)
	if _, err := net.Balance(ctx, user.Address()); !errors.Is(err, ErrNetwork) {
		t.Errorf("Balance() error = %v, want ErrNetwork", err)
	}
	if _, err := net.Balance(ctx, user.Address()); err != nil {
		t.Errorf("failure should be one-shot, got %v", err)
	}

	net.FailNextTransfer(ErrNetwork)
	if _, err := net.Transfer(ctx, user, types.Address{1}, types.Coins(1)); !errors.Is(err, ErrNetwork) {
		t.Errorf("Transfer() error = %v, want ErrNetwork", err)
	}

	id, err := net.Transfer(ctx, user, types.Address{1}, types.Coins(4))
	if err != nil {
		t.Fatalf("Transfer() error: %v", err)
	}
	net.FailNextConfirm(ErrNetwork)
	if err := net.WaitConfirmed(ctx, id); !errors.Is(err, ErrNetwork) {
		t.Fatalf("WaitConfirmed() error = %v, want ErrNetwork", err)
	}
	// Rejected transfers release their reservation.
	if bal, _ := net.Balance(ctx, user.Address()); bal != types.Coins(10) {
		t.Errorf("balance after rejected transfer = %s, want 10", bal)
	}
	if err := net.WaitConfirmed(ctx, id); !errors.Is(err, ErrRejected) {
		t.Errorf("WaitConfirmed() on rejected = %v, want ErrRejected", err)
	}
	if err := net.WaitConfirmed(ctx, types.Hash{9}); !errors.Is(err, ErrRejected) {
		t.Errorf("WaitConfirmed() unknown id = %v, want ErrRejected", err)
	}
}

func TestSimnet_ConfirmTimeout(t *testing.T) {
	net := NewSimnet()
	user := newKey(t)
	net.Fund(user.Address(), types.Coins(10))
	net.SetConfirmDelay(time.Second)

	id, err := net.Transfer(context.Background(), user, types.Address{1}, types.Coins(1))
	if err != nil {
		t.Fatalf("Transfer() error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := net.WaitConfirmed(ctx, id); !errors.Is(err, ErrNetwork) {
		t.Errorf("WaitConfirmed() error = %v, want ErrNetwork", err)
	}
}

// fakeNode emulates the node RPC methods RPCGateway uses.
type fakeNode struct {
	mu        sync.Mutex
	balance   uint64
	submitErr *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	polls     atomic.Int32
	confirmAt int32
	rejected  bool
	submitted *Transfer
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     uint64          `json:"id"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	json.NewDecoder(r.Body).Decode(&req)
	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}

	n.mu.Lock()
	defer n.mu.Unlock()

	switch req.Method {
	case MethodGetBalance:
		resp["result"] = balanceResult{Balance: n.balance + 5, Spendable: n.balance}
	case MethodSubmitTransfer:
		if n.submitErr != nil {
			resp["error"] = n.submitErr
			break
		}
		var p submitParam
		json.Unmarshal(req.Params, &p)
		n.submitted = p.Transfer
		id := p.Transfer.ID()
		resp["result"] = submitResult{TxHash: id.String()}
	case MethodGetTransaction:
		count := n.polls.Add(1)
		switch {
		case n.rejected:
			resp["result"] = txStatusResult{Rejected: true, Reason: "double spend"}
		case count < n.confirmAt:
			resp["error"] = map[string]any{"code": CodeNotFound, "message": "transaction not found"}
		default:
			resp["result"] = txStatusResult{Confirmed: true}
		}
	default:
		resp["error"] = map[string]any{"code": -32601, "message": "method not found"}
	}
	json.NewEncoder(w).Encode(resp)
}

func TestRPCGateway_Flow(t *testing.T) {
	node := &fakeNode{balance: 7_000, confirmAt: 3}
	srv := httptest.NewServer(node)
	defer srv.Close()

	g := NewRPC(RPCConfig{Endpoint: srv.URL, Timeout: time.Second, PollInterval: 5 * time.Millisecond})
	ctx := context.Background()

	bal, err := g.Balance(ctx, types.Address{1})
	if err != nil {
		t.Fatalf("Balance() error: %v", err)
	}
	if bal != 7_000 {
		t.Errorf("Balance() = %d, want spendable 7000", uint64(bal))
	}

	key := newKey(t)
	id, err := g.Transfer(ctx, key, types.Address{2}, types.Coins(3))
	if err != nil {
		t.Fatalf("Transfer() error: %v", err)
	}
	node.mu.Lock()
	submitted := node.submitted
	node.mu.Unlock()
	if submitted == nil || submitted.Verify() != nil {
		t.Fatal("node did not receive a verifiable transfer")
	}
	if id != submitted.ID() {
		t.Errorf("Transfer() id = %s, want %s", id, submitted.ID())
	}

	if err := g.WaitConfirmed(ctx, id); err != nil {
		t.Fatalf("WaitConfirmed() error: %v", err)
	}
	if got := node.polls.Load(); got != 3 {
		t.Errorf("polls = %d, want 3", got)
	}
}

func TestRPCGateway_Errors(t *testing.T) {
	node := &fakeNode{}
	node.submitErr = &struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}{-32602, "rejected: insufficient funds"}
	srv := httptest.NewServer(node)
	defer srv.Close()

	g := NewRPC(RPCConfig{Endpoint: srv.URL, Timeout: time.Second, PollInterval: 5 * time.Millisecond})
	ctx := context.Background()

	if _, err := g.Transfer(ctx, newKey(t), types.Address{2}, types.Coins(1)); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("Transfer() error = %v, want ErrInsufficientFunds", err)
	}

	node.mu.Lock()
	node.submitErr.Message = "rejected: bad nonce"
	node.mu.Unlock()
	if _, err := g.Transfer(ctx, newKey(t), types.Address{2}, types.Coins(1)); !errors.Is(err, ErrRejected) {
		t.Errorf("Transfer() error = %v, want ErrRejected", err)
	}

	node.mu.Lock()
	node.rejected = true
	node.mu.Unlock()
	if err := g.WaitConfirmed(ctx, types.Hash{1}); !errors.Is(err, ErrRejected) {
		t.Errorf("WaitConfirmed() error = %v, want ErrRejected", err)
	}

	node.mu.Lock()
	node.rejected = false
	node.confirmAt = 1 << 30
	node.mu.Unlock()
	tctx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	if err := g.WaitConfirmed(tctx, types.Hash{1}); !errors.Is(err, ErrNetwork) {
		t.Errorf("WaitConfirmed() timeout = %v, want ErrNetwork", err)
	}
}

func TestRPCGateway_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	g := NewRPC(RPCConfig{Endpoint: url, Timeout: 100 * time.Millisecond})
	if _, err := g.Balance(context.Background(), types.Address{1}); !errors.Is(err, ErrNetwork) {
		t.Errorf("Balance() error = %v, want ErrNetwork", err)
	}
}
