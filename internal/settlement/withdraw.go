package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Klingon-tech/klingnet-custody/internal/ledger"
	klog "github.com/Klingon-tech/klingnet-custody/internal/log"
	"github.com/Klingon-tech/klingnet-custody/pkg/types"
)

// Withdraw debits amount from the user's credit balance and moves the same
// amount on chain from the user's wallet to the house wallet. If the chain
// leg fails the debit is reversed and the withdrawal marked failed.
//
// Once the debit is recorded the operation ignores caller cancellation and
// runs to a terminal state.
func (e *Engine) Withdraw(ctx context.Context, userID string, amount types.Amount) (tx *ledger.Transaction, err error) {
	start := time.Now()
	defer func() { e.metrics.observe("withdraw", start, err) }()

	done, err := e.begin()
	if err != nil {
		return nil, err
	}
	defer done()

	acct, _, err := e.account(ctx, userID)
	if err != nil {
		return nil, err
	}
	policy := PolicyFor(acct.PlanTier)
	if err := policy.Check(amount, acct.Withdrawals, acct.FeeCredit, acct.CreditBalance); err != nil {
		return nil, err
	}
	house, err := e.keys.HouseAddress()
	if err != nil {
		return nil, classify(err)
	}

	fee := policy.Fee(amount)
	tx, err = e.ledger.ApplyDelta(ctx, ledger.Delta{
		UserID:          userID,
		Amount:          -amount.Delta(),
		Kind:            ledger.KindWithdrawal,
		Status:          ledger.StatusPending,
		Description:     "withdrawal",
		ConsumeFee:      fee,
		CountWithdrawal: true,
		MaxWithdrawals:  policy.MaxWithdrawals,
		ChainAmount:     amount,
	})
	if err != nil {
		return nil, classify(err)
	}

	ctx = context.WithoutCancel(ctx)
	logger := klog.WithUser(klog.Settlement, userID).With().Str("tx", tx.ID).Logger()
	logger.Info().Str("amount", amount.String()).Str("fee", fee.String()).Str("tier", string(policy.Tier)).Msg("Withdrawal debited")

	id, err := e.send(ctx, userID, house, amount)
	if err == nil {
		var attached *ledger.Transaction
		if attached, err = e.ledger.Attach(ctx, tx.ID, id.String()); err == nil {
			tx = attached
			err = e.confirm(ctx, id)
		}
	}
	if err != nil {
		logger.Warn().Err(err).Msg("Withdrawal chain leg failed, reverting")
		if cerr := e.revert(ctx, tx); cerr != nil {
			logger.Error().Err(cerr).Msg("Withdrawal reversal failed, left pending for recovery")
			return nil, fmt.Errorf("%w: withdrawal %s could not be reverted: %v", ErrInternal, tx.ID, cerr)
		}
		return nil, fmt.Errorf("%w: withdrawal of %s reverted and credit restored, safe to retry", classify(err), amount)
	}

	tx, err = e.ledger.Finalize(ctx, tx.ID, ledger.StatusSuccess)
	if err != nil {
		return nil, classify(err)
	}
	e.metrics.addVolume("withdraw", amount)
	logger.Info().Str("confirmation", id.String()).Msg("Withdrawal confirmed")
	return tx, nil
}

// send signs and submits a transfer from the user's wallet. The private key
// is zeroed before returning.
func (e *Engine) send(ctx context.Context, userID string, to types.Address, amount types.Amount) (types.Hash, error) {
	signer, err := e.keys.Signer(userID)
	if err != nil {
		return types.Hash{}, err
	}
	defer signer.Zero()

	chainCtx, cancel := context.WithTimeout(ctx, e.cfg.ChainTimeout)
	defer cancel()
	return e.chain.Transfer(chainCtx, signer, to, amount)
}

func (e *Engine) confirm(ctx context.Context, id types.Hash) error {
	confirmCtx, cancel := context.WithTimeout(ctx, e.cfg.ConfirmTimeout)
	defer cancel()
	err := e.chain.WaitConfirmed(confirmCtx, id)
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: confirmation of %s timed out", ErrNetwork, id)
	}
	return err
}

// revert compensates a pending record and marks it failed. A debit is
// credited back together with the consumed fee credit and the withdrawal
// count in the same storage transaction that marks the record failed;
// records without a debit are only marked failed.
func (e *Engine) revert(ctx context.Context, tx *ledger.Transaction) error {
	if tx.Delta < 0 {
		done, err := e.compensated(ctx, tx)
		if err != nil {
			return err
		}
		if !done {
			_, err = e.ledger.ApplyDelta(ctx, ledger.Delta{
				UserID:            tx.UserID,
				Amount:            -tx.Delta,
				Kind:              ledger.KindTransfer,
				Description:       "withdrawal reversal",
				Reference:         tx.ID,
				AddFee:            tx.FeeConsumed,
				ReleaseWithdrawal: tx.Kind == ledger.KindWithdrawal,
				Finalize:          tx.ID,
				FinalStatus:       ledger.StatusFailed,
			})
			if errors.Is(err, ledger.ErrTerminal) {
				return nil
			}
			if err != nil {
				return err
			}
			e.metrics.compensated()
			return nil
		}
	}
	_, err := e.ledger.Finalize(ctx, tx.ID, ledger.StatusFailed)
	if errors.Is(err, ledger.ErrTerminal) {
		return nil
	}
	return err
}

// compensated reports whether a reversal referencing tx already exists.
func (e *Engine) compensated(ctx context.Context, tx *ledger.Transaction) (bool, error) {
	history, err := e.ledger.ListTransactions(ctx, tx.UserID, 0)
	if err != nil {
		return false, err
	}
	for _, h := range history {
		if h.Kind == ledger.KindTransfer && h.Reference == tx.ID && h.Delta == -tx.Delta {
			return true, nil
		}
		if h.CreatedAt.Before(tx.CreatedAt) {
			break
		}
	}
	return false, nil
}

// RecoverPending drives pending records left by an interrupted process to
// a terminal state. Records with an attached transfer wait for it; records
// without one are reverted. Records whose chain status cannot be determined
// stay pending.
func (e *Engine) RecoverPending(ctx context.Context) (recovered int, err error) {
	done, err := e.begin()
	if err != nil {
		return 0, err
	}
	defer done()

	pending, err := e.ledger.ListPending(ctx)
	if err != nil {
		return 0, classify(err)
	}
	for _, tx := range pending {
		logger := klog.WithUser(klog.Settlement, tx.UserID).With().Str("tx", tx.ID).Logger()

		var chainErr error
		if tx.ConfirmationID == "" {
			chainErr = fmt.Errorf("%w: no transfer attached", ErrInternal)
		} else {
			id, perr := types.HexToHash(tx.ConfirmationID)
			if perr != nil {
				chainErr = perr
			} else {
				chainErr = e.confirm(ctx, id)
			}
		}

		switch {
		case chainErr == nil:
			if err := e.settleConfirmed(ctx, tx, logger); err != nil {
				logger.Error().Err(err).Msg("Recovered transfer could not be finalized")
				continue
			}
			logger.Info().Msg("Pending record confirmed on recovery")
		case Kind(chainErr) == KindNetwork:
			logger.Warn().Err(chainErr).Msg("Chain status unknown, leaving pending")
			continue
		default:
			if err := e.revert(ctx, tx); err != nil {
				logger.Error().Err(err).Msg("Pending record could not be reverted")
				continue
			}
			logger.Warn().Err(chainErr).Msg("Pending record reverted on recovery")
		}
		recovered++
	}
	return recovered, nil
}

// settleConfirmed finalizes a pending record whose transfer landed on
// chain. A reversal already booked for it is debited again in the same
// storage transaction. If the user has spent the reversed credit the record
// is marked failed and left for manual reconciliation.
func (e *Engine) settleConfirmed(ctx context.Context, tx *ledger.Transaction, logger zerolog.Logger) error {
	done, err := e.compensated(ctx, tx)
	if err != nil {
		return err
	}
	if !done {
		_, err = e.ledger.Finalize(ctx, tx.ID, ledger.StatusSuccess)
		return err
	}

	_, err = e.ledger.ApplyDelta(ctx, ledger.Delta{
		UserID:          tx.UserID,
		Amount:          tx.Delta,
		Kind:            ledger.KindTransfer,
		Description:     "withdrawal reversal undone",
		Reference:       tx.ID,
		ConsumeFee:      tx.FeeConsumed,
		CountWithdrawal: tx.Kind == ledger.KindWithdrawal,
		Finalize:        tx.ID,
		FinalStatus:     ledger.StatusSuccess,
	})
	if errors.Is(err, ledger.ErrInsufficientBalance) || errors.Is(err, ledger.ErrFeeCredit) {
		logger.Error().Err(err).
			Str("transfer", tx.ConfirmationID).
			Msg("Transfer confirmed after its reversal was spent, reconcile manually")
		_, err = e.ledger.Finalize(ctx, tx.ID, ledger.StatusFailed)
	}
	return err
}
