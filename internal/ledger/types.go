package ledger

import (
	"time"

	"github.com/Klingon-tech/klingnet-custody/pkg/types"
)

// Kind is the kind of a ledger transaction.
type Kind string

const (
	KindDeposit    Kind = "deposit"
	KindWithdrawal Kind = "withdrawal"
	KindPurchase   Kind = "purchase"
	KindTransfer   Kind = "transfer"
)

// Status is the lifecycle state of a transaction. Pending moves exactly once
// to Success or Failed; terminal records never change again.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Terminal reports whether s is success or failed.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Account is a user's ledger account.
type Account struct {
	UserID               string         `json:"userId"`
	CreditBalance        types.Amount   `json:"creditBalance"`
	ObservedChainBalance types.Amount   `json:"observedChainBalance"`
	PlanTier             types.PlanTier `json:"planTier"`
	// FeeCredit is withdrawal fee paid in advance and not yet consumed.
	FeeCredit types.Amount `json:"feeCredit"`
	// Withdrawals counts withdrawals that were debited and not compensated.
	Withdrawals uint32 `json:"withdrawals"`
	// InFlight counts pending transactions moving funds out of the user's
	// chain wallet. Deposits are not confirmed while it is non-zero.
	InFlight uint32 `json:"inFlight"`

	TxCount        uint64    `json:"txCount"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
	ChainCheckedAt time.Time `json:"chainCheckedAt,omitempty"`
}

// Age returns how long the account has existed at now.
func (a *Account) Age(now time.Time) time.Duration {
	if now.Before(a.CreatedAt) {
		return 0
	}
	return now.Sub(a.CreatedAt)
}

// Wallet is the cached record of a user's derived wallet. It is never a
// source of truth: it is re-derived and compared on every load.
type Wallet struct {
	UserID         string        `json:"userId"`
	Index          uint32        `json:"derivationIndex"`
	DerivationPath string        `json:"derivationPath"`
	PublicKey      string        `json:"publicKey"`
	Address        types.Address `json:"address"`
	CreatedAt      time.Time     `json:"createdAt"`
}

// Transaction is an append-only ledger record.
type Transaction struct {
	ID     string       `json:"id"`
	UserID string       `json:"userId"`
	Kind   Kind         `json:"kind"`
	Amount types.Amount `json:"amount"`

	// Delta is the signed change to the credit balance in base units.
	Delta        int64        `json:"delta"`
	BalanceAfter types.Amount `json:"balanceAfter"`
	Status       Status       `json:"status"`
	Description  string       `json:"description,omitempty"`

	// Reference is a confirmation ID, booster ID, or compensated transaction ID.
	Reference string `json:"reference,omitempty"`
	// ConfirmationID is the chain transfer attached to a pending withdrawal.
	ConfirmationID string `json:"confirmationId,omitempty"`

	FeeConsumed types.Amount `json:"feeConsumed,omitempty"`
	// ChainAmount leaves the user's chain wallet when the record succeeds.
	ChainAmount types.Amount `json:"chainAmount,omitempty"`
	GrantID     string       `json:"grantId,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// BoosterType controls how long a grant lasts.
type BoosterType string

const (
	// BoosterOneTime applies to a single accrual tick.
	BoosterOneTime BoosterType = "oneTime"
	// BoosterDuration expires Duration after activation.
	BoosterDuration BoosterType = "duration"
	// BoosterPermanent never expires.
	BoosterPermanent BoosterType = "permanent"
)

// Booster is a catalog entry users can buy.
type Booster struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Multiplier  float64      `json:"multiplier"`
	Price       types.Amount `json:"price"`
	Type        BoosterType  `json:"type"`
	// DurationSec is the grant lifetime for duration boosters.
	DurationSec int64     `json:"durationSec,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// BoosterGrant is an accrual multiplier owned by a user. Expired grants are
// kept as history.
type BoosterGrant struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	BoosterID   string     `json:"boosterId"`
	Multiplier  float64    `json:"multiplier"`
	OneShot     bool       `json:"oneShot,omitempty"`
	ActivatedAt time.Time  `json:"activatedAt"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

// Active reports whether the grant applies at now.
func (g *BoosterGrant) Active(now time.Time) bool {
	if now.Before(g.ActivatedAt) {
		return false
	}
	return g.ExpiresAt == nil || now.Before(*g.ExpiresAt)
}

// GrantRequest asks ApplyDelta to create a grant in the same transaction.
type GrantRequest struct {
	BoosterID  string
	Multiplier float64
	OneShot    bool
	// Duration after activation until the grant expires. Zero never expires.
	Duration time.Duration
}

// Delta is a single balance mutation plus everything that must commit with it.
type Delta struct {
	UserID string
	// Amount is the signed change to CreditBalance in base units.
	Amount int64
	Kind   Kind
	// Status of the new record. Empty means success.
	Status      Status
	Description string
	Reference   string
	// RecordAmount overrides the record's Amount. Defaults to |Amount|.
	RecordAmount types.Amount

	// ExpectedPrior, when set, must equal the current balance.
	ExpectedPrior *types.Amount
	// ExpectedObserved, when set, must equal the observed chain balance and
	// no chain outflow may be in flight.
	ExpectedObserved *types.Amount

	// ConsumeFee is deducted from FeeCredit; AddFee is added to it.
	ConsumeFee types.Amount
	AddFee     types.Amount

	// CountWithdrawal increments Withdrawals, failing with
	// ErrWithdrawalLimit when MaxWithdrawals > 0 and the limit is reached.
	// ReleaseWithdrawal undoes a previous count.
	CountWithdrawal   bool
	MaxWithdrawals    uint32
	ReleaseWithdrawal bool

	// Grant creates a booster grant; UseGrant expires a one-shot grant.
	Grant    *GrantRequest
	UseGrant string

	// ObservedChainBalance updates the chain balance cache.
	ObservedChainBalance *types.Amount
	// ChainAmount marks a pending record as moving funds out of the user's
	// chain wallet. See Account.InFlight.
	ChainAmount types.Amount

	// Finalize names a pending record of the same user that moves to
	// FinalStatus in the same storage transaction. A terminal record fails
	// the whole delta with ErrTerminal.
	Finalize    string
	FinalStatus Status
}
