// Package settlement is the only mutator of custody balances. It confirms
// deposits, executes withdrawals to the house wallet, sells boosters and
// records fee payments, keeping the credit balance and the observed chain
// balance consistent when the chain leg fails.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Klingon-tech/klingnet-custody/internal/chain"
	"github.com/Klingon-tech/klingnet-custody/internal/ledger"
	klog "github.com/Klingon-tech/klingnet-custody/internal/log"
	"github.com/Klingon-tech/klingnet-custody/internal/subscription"
	"github.com/Klingon-tech/klingnet-custody/pkg/crypto"
	"github.com/Klingon-tech/klingnet-custody/pkg/types"
)

// KeySource provides signing keys. Implemented by *keys.Service.
type KeySource interface {
	Signer(userID string) (*crypto.PrivateKey, error)
	HouseAddress() (types.Address, error)
}

// Config bounds the chain leg of each operation.
type Config struct {
	// ChainTimeout bounds balance queries and transfer submission.
	ChainTimeout time.Duration
	// ConfirmTimeout bounds the wait for a transfer confirmation.
	ConfirmTimeout time.Duration
}

// DefaultConfig returns production timeouts.
func DefaultConfig() Config {
	return Config{
		ChainTimeout:   15 * time.Second,
		ConfirmTimeout: 2 * time.Minute,
	}
}

// Balances is a user's balance view.
type Balances struct {
	UserID               string         `json:"userId"`
	Address              types.Address  `json:"address"`
	CreditBalance        types.Amount   `json:"creditBalance"`
	ObservedChainBalance types.Amount   `json:"observedChainBalance"`
	FeeCredit            types.Amount   `json:"feeCredit"`
	PlanTier             types.PlanTier `json:"planTier"`
	// Deposited is what this call credited.
	Deposited types.Amount `json:"deposited"`
}

// Engine executes settlement operations. It holds no balance state of its
// own; everything lives in the ledger.
type Engine struct {
	cfg     Config
	keys    KeySource
	ledger  *ledger.Ledger
	chain   chain.Gateway
	dir     subscription.Directory
	metrics *Metrics

	mu       sync.Mutex
	draining bool
	inflight sync.WaitGroup
}

// New creates an engine. metrics may be nil.
func New(cfg Config, keys KeySource, l *ledger.Ledger, gw chain.Gateway, dir subscription.Directory, metrics *Metrics) *Engine {
	def := DefaultConfig()
	if cfg.ChainTimeout <= 0 {
		cfg.ChainTimeout = def.ChainTimeout
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = def.ConfirmTimeout
	}
	return &Engine{cfg: cfg, keys: keys, ledger: l, chain: gw, dir: dir, metrics: metrics}
}

// begin registers a mutating operation. Drain waits for it to call done.
func (e *Engine) begin() (done func(), err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.draining {
		return nil, fmt.Errorf("%w: engine is shutting down", ErrNetwork)
	}
	e.inflight.Add(1)
	return e.inflight.Done, nil
}

// Drain refuses new operations and waits until the running ones reach a
// terminal state or ctx ends. Call it before closing the ledger's storage
// or shutting down the key service.
func (e *Engine) Drain(ctx context.Context) error {
	e.mu.Lock()
	e.draining = true
	e.mu.Unlock()

	idle := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(idle)
	}()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DrainTimeout bounds the longest operation: a balance query, a transfer
// submission and its confirmation.
func (e *Engine) DrainTimeout() time.Duration {
	return 2*e.cfg.ChainTimeout + e.cfg.ConfirmTimeout
}

// Ledger returns the engine's ledger for read-only queries.
func (e *Engine) Ledger() *ledger.Ledger {
	return e.ledger
}

// Wallet returns the user's wallet, provisioning the account on first use.
func (e *Engine) Wallet(ctx context.Context, userID string) (*ledger.Wallet, error) {
	_, w, err := e.ledger.GetAccount(ctx, userID)
	if err != nil {
		return nil, classify(err)
	}
	return w, nil
}

// Balances returns the user's balances without touching the chain.
func (e *Engine) Balances(ctx context.Context, userID string) (Balances, error) {
	acct, w, err := e.ledger.GetAccount(ctx, userID)
	if err != nil {
		return Balances{}, classify(err)
	}
	return balancesOf(acct, w, 0), nil
}

// account provisions the user and refreshes the cached plan tier. A
// directory outage falls back to the cached tier.
func (e *Engine) account(ctx context.Context, userID string) (*ledger.Account, *ledger.Wallet, error) {
	acct, w, err := e.ledger.GetAccount(ctx, userID)
	if err != nil {
		return nil, nil, classify(err)
	}
	if e.dir == nil {
		return acct, w, nil
	}
	tier, err := e.dir.PlanTier(ctx, userID)
	if err != nil {
		klog.Settlement.Warn().Err(err).Str("user", userID).Str("cached", string(acct.PlanTier)).Msg("Plan lookup failed, using cached tier")
		return acct, w, nil
	}
	if tier != acct.PlanTier {
		acct, err = e.ledger.SetPlanTier(ctx, userID, tier)
		if err != nil {
			return nil, nil, classify(err)
		}
	}
	return acct, w, nil
}

func balancesOf(acct *ledger.Account, w *ledger.Wallet, deposited types.Amount) Balances {
	return Balances{
		UserID:               acct.UserID,
		Address:              w.Address,
		CreditBalance:        acct.CreditBalance,
		ObservedChainBalance: acct.ObservedChainBalance,
		FeeCredit:            acct.FeeCredit,
		PlanTier:             acct.PlanTier,
		Deposited:            deposited,
	}
}

// classify maps lower-layer errors onto the taxonomy. Errors already in it
// pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ledger.ErrFeeCredit):
		return fmt.Errorf("%w: %v", ErrFeeNotPaid, err)
	case errors.Is(err, ledger.ErrWithdrawalLimit):
		return fmt.Errorf("%w: %v", ErrAboveMaximum, err)
	case errors.Is(err, ledger.ErrWalletMismatch):
		return fmt.Errorf("%w: %w", ErrInternal, err)
	case errors.Is(err, chain.ErrRejected):
		return fmt.Errorf("%w: %w", ErrInternal, err)
	}
	if Kind(err) == KindInternal && !errors.Is(err, ErrInternal) {
		return fmt.Errorf("%w: %w", ErrInternal, err)
	}
	return err
}
