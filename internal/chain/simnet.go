package chain

import (
	"context"
	"fmt"
	"sync"
	"time"

	klog "github.com/Klingon-tech/klingnet-custody/internal/log"
	"github.com/Klingon-tech/klingnet-custody/pkg/crypto"
	"github.com/Klingon-tech/klingnet-custody/pkg/types"
)

type simStatus int

const (
	simPending simStatus = iota
	simConfirmed
	simRejected
)

type simTx struct {
	transfer Transfer
	status   simStatus
}

// Simnet is an in-process Gateway for development and tests. Transfers
// reserve funds at submission and settle on WaitConfirmed. Failures can be
// injected one call at a time.
type Simnet struct {
	mu           sync.Mutex
	balances     map[types.Address]types.Amount
	txs          map[types.Hash]*simTx
	history      []Transfer
	nonce        uint64
	confirmDelay time.Duration

	failBalance  error
	failTransfer error
	failConfirm  error
}

// NewSimnet returns an empty simulated network.
func NewSimnet() *Simnet {
	return &Simnet{
		balances: make(map[types.Address]types.Amount),
		txs:      make(map[types.Hash]*simTx),
	}
}

// Fund credits addr, as an external deposit would.
func (s *Simnet) Fund(addr types.Address, amount types.Amount) {
	s.mu.Lock()
	s.balances[addr] += amount
	s.mu.Unlock()
}

// SetConfirmDelay makes WaitConfirmed block for d before settling.
func (s *Simnet) SetConfirmDelay(d time.Duration) {
	s.mu.Lock()
	s.confirmDelay = d
	s.mu.Unlock()
}

// FailNextBalance makes the next Balance call return err.
func (s *Simnet) FailNextBalance(err error) {
	s.mu.Lock()
	s.failBalance = err
	s.mu.Unlock()
}

// FailNextTransfer makes the next Transfer call return err without moving funds.
func (s *Simnet) FailNextTransfer(err error) {
	s.mu.Lock()
	s.failTransfer = err
	s.mu.Unlock()
}

// FailNextConfirm makes the next WaitConfirmed reject the transfer with err
// and release its reserved funds.
func (s *Simnet) FailNextConfirm(err error) {
	s.mu.Lock()
	s.failConfirm = err
	s.mu.Unlock()
}

// Transfers returns every transfer submitted so far.
func (s *Simnet) Transfers() []Transfer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Transfer, len(s.history))
	copy(out, s.history)
	return out
}

// Balance implements Gateway.
func (s *Simnet) Balance(ctx context.Context, addr types.Address) (types.Amount, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failBalance; err != nil {
		s.failBalance = nil
		return 0, err
	}
	return s.balances[addr], nil
}

// Transfer implements Gateway.
func (s *Simnet) Transfer(ctx context.Context, signer crypto.Signer, to types.Address, amount types.Amount) (types.Hash, error) {
	if err := ctx.Err(); err != nil {
		return types.Hash{}, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failTransfer; err != nil {
		s.failTransfer = nil
		return types.Hash{}, err
	}

	s.nonce++
	t, err := SignTransfer(signer, to, amount, s.nonce)
	if err != nil {
		return types.Hash{}, err
	}
	if err := t.Verify(); err != nil {
		return types.Hash{}, err
	}
	if s.balances[t.From] < amount {
		return types.Hash{}, fmt.Errorf("%w: have %s, need %s", ErrInsufficientFunds, s.balances[t.From], amount)
	}

	s.balances[t.From] -= amount
	id := t.ID()
	s.txs[id] = &simTx{transfer: *t}
	s.history = append(s.history, *t)
	klog.Chain.Debug().Str("id", id.String()).Stringer("amount", amount).Msg("Simnet transfer submitted")
	return id, nil
}

// WaitConfirmed implements Gateway.
func (s *Simnet) WaitConfirmed(ctx context.Context, id types.Hash) error {
	s.mu.Lock()
	delay := s.confirmDelay
	s.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: waiting for %s: %v", ErrNetwork, id, ctx.Err())
		case <-timer.C:
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[id]
	if !ok {
		return fmt.Errorf("%w: unknown transfer %s", ErrRejected, id)
	}

	switch tx.status {
	case simConfirmed:
		return nil
	case simRejected:
		return fmt.Errorf("%w: %s", ErrRejected, id)
	}

	if err := s.failConfirm; err != nil {
		s.failConfirm = nil
		tx.status = simRejected
		s.balances[tx.transfer.From] += tx.transfer.Amount
		return err
	}
	tx.status = simConfirmed
	s.balances[tx.transfer.To] += tx.transfer.Amount
	return nil
}
