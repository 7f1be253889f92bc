package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/Klingon-tech/klingnet-custody/internal/ledger"
	klog "github.com/Klingon-tech/klingnet-custody/internal/log"
	"github.com/Klingon-tech/klingnet-custody/pkg/types"
)

// Sweep moves on-chain funds from the user's wallet to the house wallet.
// A zero amount sweeps the whole chain balance. Uncredited deposits are
// confirmed first so they are not lost; the credit balance is otherwise
// untouched.
func (e *Engine) Sweep(ctx context.Context, userID string, amount types.Amount) (tx *ledger.Transaction, err error) {
	start := time.Now()
	defer func() { e.metrics.observe("sweep", start, err) }()

	done, err := e.begin()
	if err != nil {
		return nil, err
	}
	defer done()

	b, err := e.ConfirmDeposit(ctx, userID)
	if err != nil {
		return nil, err
	}
	if amount == 0 {
		amount = b.ObservedChainBalance
	}
	if amount == 0 {
		return nil, fmt.Errorf("%w: nothing to sweep", ErrInvalidRequest)
	}
	if amount > b.ObservedChainBalance {
		return nil, fmt.Errorf("%w: sweep %s, wallet holds %s", ErrInsufficientOnChainBalance, amount, b.ObservedChainBalance)
	}
	house, err := e.keys.HouseAddress()
	if err != nil {
		return nil, classify(err)
	}

	tx, err = e.ledger.ApplyDelta(ctx, ledger.Delta{
		UserID:       userID,
		Kind:         ledger.KindTransfer,
		Status:       ledger.StatusPending,
		Description:  "sweep to house wallet",
		RecordAmount: amount,
		ChainAmount:  amount,
	})
	if err != nil {
		return nil, classify(err)
	}

	ctx = context.WithoutCancel(ctx)
	logger := klog.WithUser(klog.Settlement, userID).With().Str("tx", tx.ID).Logger()

	id, err := e.send(ctx, userID, house, amount)
	if err == nil {
		var attached *ledger.Transaction
		if attached, err = e.ledger.Attach(ctx, tx.ID, id.String()); err == nil {
			tx = attached
			err = e.confirm(ctx, id)
		}
	}
	if err != nil {
		logger.Warn().Err(err).Msg("Sweep failed")
		if ferr := e.revert(ctx, tx); ferr != nil {
			logger.Error().Err(ferr).Msg("Sweep record could not be closed")
		}
		return nil, classify(err)
	}

	tx, err = e.ledger.Finalize(ctx, tx.ID, ledger.StatusSuccess)
	if err != nil {
		return nil, classify(err)
	}
	e.metrics.addVolume("sweep", amount)
	logger.Info().Str("amount", amount.String()).Str("confirmation", id.String()).Msg("Wallet swept")
	return tx, nil
}
