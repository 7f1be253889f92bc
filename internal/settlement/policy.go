package settlement

import (
	"fmt"

	"github.com/Klingon-tech/klingnet-custody/pkg/types"
)

// MinWithdrawal applies to every tier.
var MinWithdrawal = types.Coins(100)

// Policy holds a plan tier's withdrawal rules.
type Policy struct {
	Tier types.PlanTier
	// Max is the largest single withdrawal. Zero means unlimited.
	Max types.Amount
	// MaxWithdrawals caps the number of withdrawals. Zero means unlimited.
	MaxWithdrawals uint32
	// FeePercent of the amount must be paid as fee credit beforehand.
	FeePercent uint64
}

var policies = map[types.PlanTier]Policy{
	types.TierFree:    {Tier: types.TierFree, Max: types.Coins(100), MaxWithdrawals: 1, FeePercent: 30},
	types.TierBasic:   {Tier: types.TierBasic, Max: types.Coins(500), FeePercent: 20},
	types.TierPremium: {Tier: types.TierPremium, FeePercent: 10},
}

// PolicyFor returns the rules of tier. Unknown tiers get the free rules.
func PolicyFor(tier types.PlanTier) Policy {
	if p, ok := policies[tier]; ok {
		return p
	}
	return policies[types.TierFree]
}

// Fee returns the withdrawal fee for amount, rounded up to a base unit.
func (p Policy) Fee(amount types.Amount) types.Amount {
	return amount.Percent(p.FeePercent)
}

// Check validates a withdrawal of amount given the withdrawals already
// made, the fee credit and the credit balance. The first violation wins.
func (p Policy) Check(amount types.Amount, withdrawals uint32, feeCredit, balance types.Amount) error {
	if amount < MinWithdrawal {
		return fmt.Errorf("%w: %s < %s", ErrBelowMinimum, amount, MinWithdrawal)
	}
	if p.Max > 0 && amount > p.Max {
		return fmt.Errorf("%w: %s > %s on %s plan", ErrAboveMaximum, amount, p.Max, p.Tier)
	}
	if p.MaxWithdrawals > 0 && withdrawals >= p.MaxWithdrawals {
		return fmt.Errorf("%w: %s plan allows %d withdrawal(s)", ErrAboveMaximum, p.Tier, p.MaxWithdrawals)
	}
	if fee := p.Fee(amount); feeCredit < fee {
		return fmt.Errorf("%w: fee %s, credit %s", ErrFeeNotPaid, fee, feeCredit)
	}
	if balance < amount {
		return fmt.Errorf("%w: need %s, have %s", ErrInsufficientBalance, amount, balance)
	}
	return nil
}
