package ledger

import (
	"context"
	"fmt"
	"math"

	klog "github.com/Klingon-tech/klingnet-custody/internal/log"
	"github.com/Klingon-tech/klingnet-custody/internal/storage"
	"github.com/Klingon-tech/klingnet-custody/pkg/types"
)

// ApplyDelta adjusts the user's credit balance and appends the matching
// transaction record in one storage transaction. Fee credit, withdrawal
// counting and booster grants requested in d commit with it or not at all.
func (l *Ledger) ApplyDelta(ctx context.Context, d Delta) (*Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := d.validate(); err != nil {
		return nil, err
	}

	unlock := l.locks.lock(d.UserID)
	defer unlock()

	var tx *Transaction
	err := l.db.Update(func(txn storage.Txn) error {
		acct, err := getAccount(txn, d.UserID)
		if err != nil {
			return err
		}
		if d.ExpectedPrior != nil && *d.ExpectedPrior != acct.CreditBalance {
			return fmt.Errorf("%w: expected %s, have %s", ErrBalanceConflict, *d.ExpectedPrior, acct.CreditBalance)
		}
		if d.ExpectedObserved != nil && (*d.ExpectedObserved != acct.ObservedChainBalance || acct.InFlight > 0) {
			return fmt.Errorf("%w: chain balance moved since %s", ErrBalanceConflict, *d.ExpectedObserved)
		}

		next, err := applySigned(acct.CreditBalance, d.Amount)
		if err != nil {
			return err
		}
		if d.ConsumeFee > acct.FeeCredit {
			return fmt.Errorf("%w: need %s, have %s", ErrFeeCredit, d.ConsumeFee, acct.FeeCredit)
		}
		if d.CountWithdrawal {
			if d.MaxWithdrawals > 0 && acct.Withdrawals >= d.MaxWithdrawals {
				return fmt.Errorf("%w: %d of %d used", ErrWithdrawalLimit, acct.Withdrawals, d.MaxWithdrawals)
			}
			acct.Withdrawals++
		}
		if d.ReleaseWithdrawal && acct.Withdrawals > 0 {
			acct.Withdrawals--
		}

		now := l.now()
		acct.CreditBalance = next
		acct.FeeCredit = acct.FeeCredit - d.ConsumeFee + d.AddFee
		if d.ObservedChainBalance != nil {
			acct.ObservedChainBalance = *d.ObservedChainBalance
			acct.ChainCheckedAt = now
		}

		status := d.Status
		if status == "" {
			status = StatusSuccess
		}
		if status == StatusPending && d.ChainAmount > 0 {
			acct.InFlight++
		}
		acct.TxCount++
		acct.UpdatedAt = now

		recAmount := d.RecordAmount
		if recAmount == 0 {
			recAmount = absAmount(d.Amount)
		}
		tx = &Transaction{
			ID:           newID(),
			UserID:       d.UserID,
			Kind:         d.Kind,
			Amount:       recAmount,
			Delta:        d.Amount,
			BalanceAfter: next,
			Status:       status,
			Description:  d.Description,
			Reference:    d.Reference,
			FeeConsumed:  d.ConsumeFee,
			ChainAmount:  d.ChainAmount,
			CreatedAt:    now,
			UpdatedAt:    now,
		}

		if d.Finalize != "" {
			pending, err := getTx(txn, d.Finalize)
			if err != nil {
				return err
			}
			if pending.UserID != d.UserID {
				return fmt.Errorf("%w: %s belongs to another user", ErrInvalidDelta, d.Finalize)
			}
			if pending.Status.Terminal() {
				return fmt.Errorf("%w: %s is %s", ErrTerminal, d.Finalize, pending.Status)
			}
			settle(acct, pending, d.FinalStatus)
			pending.UpdatedAt = now
			if err := putJSON(txn, txKey(pending.ID), pending); err != nil {
				return err
			}
		}
		if d.UseGrant != "" {
			if err := expireGrant(txn, d.UserID, d.UseGrant, now); err != nil {
				return err
			}
		}
		if d.Grant != nil {
			g := &BoosterGrant{
				ID:          newID(),
				UserID:      d.UserID,
				BoosterID:   d.Grant.BoosterID,
				Multiplier:  d.Grant.Multiplier,
				OneShot:     d.Grant.OneShot,
				ActivatedAt: now,
			}
			if d.Grant.Duration > 0 {
				exp := now.Add(d.Grant.Duration)
				g.ExpiresAt = &exp
			}
			if err := putJSON(txn, grantKey(d.UserID, g.ID), g); err != nil {
				return err
			}
			tx.GrantID = g.ID
		}

		if err := putJSON(txn, txKey(tx.ID), tx); err != nil {
			return err
		}
		if err := txn.Put(historyKey(d.UserID, acct.TxCount), []byte(tx.ID)); err != nil {
			return err
		}
		return putJSON(txn, accountKey(d.UserID), acct)
	})
	if err != nil {
		return nil, err
	}

	klog.Ledger.Debug().
		Str("user", d.UserID).
		Str("tx", tx.ID).
		Str("kind", string(tx.Kind)).
		Int64("delta", tx.Delta).
		Str("balance", tx.BalanceAfter.String()).
		Str("status", string(tx.Status)).
		Msg("Delta applied")
	return tx, nil
}

// Finalize moves a pending transaction to success or failed. Terminal
// transactions never change again. When a record carrying a chain amount
// succeeds, the observed chain balance drops by that amount in the same
// storage transaction.
func (l *Ledger) Finalize(ctx context.Context, txID string, status Status) (*Transaction, error) {
	if !status.Terminal() {
		return nil, fmt.Errorf("%w: cannot finalize to %q", ErrInvalidDelta, status)
	}
	return l.updatePending(ctx, txID, func(txn storage.Txn, tx *Transaction) error {
		if tx.ChainAmount == 0 {
			tx.Status = status
			return nil
		}
		acct, err := getAccount(txn, tx.UserID)
		if err != nil {
			return err
		}
		settle(acct, tx, status)
		acct.UpdatedAt = l.now()
		return putJSON(txn, accountKey(tx.UserID), acct)
	})
}

// settle moves tx to status and releases its chain outflow from acct.
func settle(acct *Account, tx *Transaction, status Status) {
	tx.Status = status
	if tx.ChainAmount == 0 {
		return
	}
	if acct.InFlight > 0 {
		acct.InFlight--
	}
	if status == StatusSuccess {
		if acct.ObservedChainBalance > tx.ChainAmount {
			acct.ObservedChainBalance -= tx.ChainAmount
		} else {
			acct.ObservedChainBalance = 0
		}
	}
}

// Attach records the chain confirmation ID on a pending transaction.
func (l *Ledger) Attach(ctx context.Context, txID, confirmationID string) (*Transaction, error) {
	return l.updatePending(ctx, txID, func(_ storage.Txn, tx *Transaction) error {
		tx.ConfirmationID = confirmationID
		if tx.Reference == "" {
			tx.Reference = confirmationID
		}
		return nil
	})
}

func (l *Ledger) updatePending(ctx context.Context, txID string, mutate func(storage.Txn, *Transaction) error) (*Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	current, err := getTx(l.db, txID)
	if err != nil {
		return nil, err
	}

	unlock := l.locks.lock(current.UserID)
	defer unlock()

	var tx *Transaction
	err = l.db.Update(func(txn storage.Txn) error {
		var err error
		tx, err = getTx(txn, txID)
		if err != nil {
			return err
		}
		if tx.Status.Terminal() {
			return fmt.Errorf("%w: %s is %s", ErrTerminal, txID, tx.Status)
		}
		if err := mutate(txn, tx); err != nil {
			return err
		}
		tx.UpdatedAt = l.now()
		return putJSON(txn, txKey(txID), tx)
	})
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (d *Delta) validate() error {
	if d.UserID == "" {
		return fmt.Errorf("%w: empty user id", ErrInvalidDelta)
	}
	switch d.Kind {
	case KindDeposit, KindWithdrawal, KindPurchase, KindTransfer:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidDelta, d.Kind)
	}
	switch d.Status {
	case "", StatusPending, StatusSuccess, StatusFailed:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidDelta, d.Status)
	}
	if d.Amount == math.MinInt64 {
		return fmt.Errorf("%w: delta out of range", ErrInvalidDelta)
	}
	if d.Grant != nil && d.Grant.Multiplier < 1 {
		return fmt.Errorf("%w: grant multiplier %v below 1", ErrInvalidDelta, d.Grant.Multiplier)
	}
	if d.Finalize != "" && !d.FinalStatus.Terminal() {
		return fmt.Errorf("%w: cannot finalize to %q", ErrInvalidDelta, d.FinalStatus)
	}
	if d.Grant != nil && d.Grant.Duration < 0 {
		return fmt.Errorf("%w: negative grant duration", ErrInvalidDelta)
	}
	return nil
}

func applySigned(balance types.Amount, delta int64) (types.Amount, error) {
	if delta < 0 {
		debit := types.Amount(-delta)
		if debit > balance {
			return 0, fmt.Errorf("%w: need %s, have %s", ErrInsufficientBalance, debit, balance)
		}
		return balance - debit, nil
	}
	credit := types.Amount(delta)
	if balance > types.MaxAmount-credit {
		return 0, ErrBalanceOverflow
	}
	return balance + credit, nil
}

func absAmount(v int64) types.Amount {
	if v < 0 {
		return types.Amount(-v)
	}
	return types.Amount(v)
}
