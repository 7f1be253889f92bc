package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/Klingon-tech/klingnet-custody/internal/ledger"
	klog "github.com/Klingon-tech/klingnet-custody/internal/log"
)

const depositAttempts = 3

// ConfirmDeposit credits any increase of the user's chain balance over the
// observed value. A decrease only refreshes the observed value. Calling it
// again without new funds credits nothing.
func (e *Engine) ConfirmDeposit(ctx context.Context, userID string) (b Balances, err error) {
	start := time.Now()
	defer func() { e.metrics.observe("deposit", start, err) }()

	done, err := e.begin()
	if err != nil {
		return Balances{}, err
	}
	defer done()

	for attempt := 0; attempt < depositAttempts; attempt++ {
		b, err = e.confirmDeposit(ctx, userID)
		if !errors.Is(err, ledger.ErrBalanceConflict) {
			return b, err
		}
		klog.Settlement.Debug().Str("user", userID).Int("attempt", attempt+1).Msg("Observed balance moved, retrying deposit check")
	}
	// Persistent conflict means a withdrawal is in flight; report balances
	// without crediting.
	return e.Balances(ctx, userID)
}

func (e *Engine) confirmDeposit(ctx context.Context, userID string) (Balances, error) {
	acct, w, err := e.account(ctx, userID)
	if err != nil {
		return Balances{}, err
	}
	if acct.InFlight > 0 {
		return Balances{}, ledger.ErrBalanceConflict
	}

	chainCtx, cancel := context.WithTimeout(ctx, e.cfg.ChainTimeout)
	onChain, err := e.chain.Balance(chainCtx, w.Address)
	cancel()
	if err != nil {
		return Balances{}, classify(err)
	}

	observed := acct.ObservedChainBalance
	if onChain <= observed {
		if onChain < observed {
			acct, err = e.ledger.SwapObservedChainBalance(ctx, userID, observed, onChain)
			if err != nil {
				return Balances{}, err
			}
			klog.Settlement.Info().Str("user", userID).Str("from", observed.String()).Str("to", onChain.String()).Msg("Chain balance decreased, not debited")
		}
		return balancesOf(acct, w, 0), nil
	}

	diff := onChain - observed
	tx, err := e.ledger.ApplyDelta(ctx, ledger.Delta{
		UserID:               userID,
		Amount:               diff.Delta(),
		Kind:                 ledger.KindDeposit,
		Description:          "deposit",
		Reference:            w.Address.String(),
		ExpectedObserved:     &observed,
		ObservedChainBalance: &onChain,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrBalanceConflict) {
			return Balances{}, err
		}
		return Balances{}, classify(err)
	}
	e.metrics.addVolume("deposit", diff)
	klog.Settlement.Info().Str("user", userID).Str("amount", diff.String()).Str("tx", tx.ID).Msg("Deposit confirmed")

	acct.CreditBalance = tx.BalanceAfter
	acct.ObservedChainBalance = onChain
	return balancesOf(acct, w, diff), nil
}
