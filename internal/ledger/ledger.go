// Package ledger is the custody ledger: per-user credit balances, the
// observed on-chain balance, an append-only transaction log and booster
// grants. Every balance change commits together with its log entry in one
// storage transaction.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Klingon-tech/klingnet-custody/internal/keys"
	klog "github.com/Klingon-tech/klingnet-custody/internal/log"
	"github.com/Klingon-tech/klingnet-custody/internal/storage"
	"github.com/Klingon-tech/klingnet-custody/pkg/types"
)

var (
	ErrUnknownAccount      = errors.New("unknown account")
	ErrInsufficientBalance = errors.New("insufficient credit balance")
	ErrBalanceConflict     = errors.New("balance changed concurrently")
	ErrBalanceOverflow     = errors.New("credit balance overflow")
	ErrIndexCollision      = errors.New("derivation index already assigned to another user")
	ErrWalletMismatch      = errors.New("cached wallet does not match re-derivation")
	ErrTerminal            = errors.New("transaction already terminal")
	ErrTxNotFound          = errors.New("transaction not found")
	ErrFeeCredit           = errors.New("insufficient fee credit")
	ErrWithdrawalLimit     = errors.New("withdrawal limit reached")
	ErrGrantNotFound       = errors.New("booster grant not found")
	ErrBoosterNotFound     = errors.New("booster not found")
	ErrInvalidDelta        = errors.New("invalid delta")
	ErrInvalidBooster      = errors.New("invalid booster")
)

// Deriver re-derives a user's wallet. Implemented by *keys.Service.
type Deriver interface {
	DeriveWallet(userID string) (keys.Wallet, error)
}

// Ledger is the custody ledger. Safe for concurrent use.
type Ledger struct {
	db      storage.DB
	deriver Deriver
	locks   userLocks
	now     func() time.Time
	// defaultTier is assigned to newly provisioned accounts.
	defaultTier types.PlanTier
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithDefaultTier sets the plan tier of new accounts.
func WithDefaultTier(t types.PlanTier) Option {
	return func(l *Ledger) { l.defaultTier = t }
}

// New creates a ledger over db.
func New(db storage.DB, deriver Deriver, opts ...Option) *Ledger {
	l := &Ledger{
		db:          db,
		deriver:     deriver,
		now:         func() time.Time { return time.Now().UTC() },
		defaultTier: types.TierFree,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Now returns the ledger's current time.
func (l *Ledger) Now() time.Time {
	return l.now()
}

// GetAccount returns the user's account and wallet, provisioning both on
// first access. Provisioning is exactly-once: the account, the wallet and
// the derivation index reservation commit in one transaction.
func (l *Ledger) GetAccount(ctx context.Context, userID string) (*Account, *Wallet, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if userID == "" {
		return nil, nil, keys.ErrInvalidUserID
	}

	acct, w, err := l.load(userID)
	if err == nil {
		return acct, w, nil
	}
	if !errors.Is(err, ErrUnknownAccount) {
		return nil, nil, err
	}
	return l.provision(userID)
}

// Account returns the account without provisioning it.
func (l *Ledger) Account(ctx context.Context, userID string) (*Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return getAccount(l.db, userID)
}

func (l *Ledger) load(userID string) (*Account, *Wallet, error) {
	acct, err := getAccount(l.db, userID)
	if err != nil {
		return nil, nil, err
	}
	w, err := getWallet(l.db, userID)
	if err != nil {
		return nil, nil, err
	}
	if err := l.verifyWallet(w); err != nil {
		return nil, nil, err
	}
	return acct, w, nil
}

func (l *Ledger) verifyWallet(w *Wallet) error {
	derived, err := l.deriver.DeriveWallet(w.UserID)
	if err != nil {
		return err
	}
	if derived.Index != w.Index || derived.PublicKey != w.PublicKey ||
		derived.Address != w.Address || derived.Path != w.DerivationPath {
		klog.Ledger.Error().Str("user", w.UserID).Uint32("index", w.Index).Msg("Cached wallet differs from re-derivation")
		return fmt.Errorf("%w: user %s", ErrWalletMismatch, w.UserID)
	}
	return nil
}

func (l *Ledger) provision(userID string) (*Account, *Wallet, error) {
	derived, err := l.deriver.DeriveWallet(userID)
	if err != nil {
		return nil, nil, err
	}

	unlock := l.locks.lock(userID)
	defer unlock()

	now := l.now()
	var (
		acct    *Account
		w       *Wallet
		created bool
		taken   string
	)
	err = l.db.Update(func(txn storage.Txn) error {
		created = false
		// Another caller may have provisioned while we waited for the lock.
		if existing, err := getAccount(txn, userID); err == nil {
			acct = existing
			w, err = getWallet(txn, userID)
			return err
		} else if !errors.Is(err, ErrUnknownAccount) {
			return err
		}

		holder, err := txn.Get(indexKey(derived.Index))
		switch {
		case err == nil && string(holder) != userID:
			taken = string(holder)
			return fmt.Errorf("%w: index %d", ErrIndexCollision, derived.Index)
		case err != nil && !errors.Is(err, storage.ErrNotFound):
			return fmt.Errorf("ledger index lookup: %w", err)
		}

		w = &Wallet{
			UserID:         userID,
			Index:          derived.Index,
			DerivationPath: derived.Path,
			PublicKey:      derived.PublicKey,
			Address:        derived.Address,
			CreatedAt:      now,
		}
		acct = &Account{
			UserID:    userID,
			PlanTier:  l.defaultTier,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := txn.Put(indexKey(derived.Index), []byte(userID)); err != nil {
			return err
		}
		if err := putJSON(txn, walletKey(userID), w); err != nil {
			return err
		}
		created = true
		return putJSON(txn, accountKey(userID), acct)
	})
	if err != nil {
		if errors.Is(err, ErrIndexCollision) {
			klog.Ledger.Error().Str("user", userID).Str("holder", taken).Uint32("index", derived.Index).Msg("Derivation index collision, refusing to provision")
		}
		return nil, nil, err
	}
	if created {
		klog.Ledger.Info().Str("user", userID).Str("address", w.Address.String()).Msg("Account provisioned")
	}
	return acct, w, nil
}

// Wallet returns the cached wallet record, verified against re-derivation.
func (l *Ledger) Wallet(ctx context.Context, userID string) (*Wallet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w, err := getWallet(l.db, userID)
	if err != nil {
		return nil, err
	}
	if err := l.verifyWallet(w); err != nil {
		return nil, err
	}
	return w, nil
}

// RefreshObservedChainBalance updates the advisory chain balance cache. It
// does not take the per-user lock; the storage transaction alone keeps the
// read-modify-write atomic.
func (l *Ledger) RefreshObservedChainBalance(ctx context.Context, userID string, value types.Amount) (*Account, error) {
	return l.updateAccount(ctx, userID, func(a *Account, now time.Time) {
		a.ObservedChainBalance = value
		a.ChainCheckedAt = now
	})
}

// SwapObservedChainBalance sets the observed chain balance to value only if
// it still equals expected and no chain outflow is in flight.
func (l *Ledger) SwapObservedChainBalance(ctx context.Context, userID string, expected, value types.Amount) (*Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var acct *Account
	err := l.db.Update(func(txn storage.Txn) error {
		var err error
		acct, err = getAccount(txn, userID)
		if err != nil {
			return err
		}
		if acct.ObservedChainBalance != expected || acct.InFlight > 0 {
			return fmt.Errorf("%w: chain balance moved since %s", ErrBalanceConflict, expected)
		}
		now := l.now()
		acct.ObservedChainBalance = value
		acct.ChainCheckedAt = now
		acct.UpdatedAt = now
		return putJSON(txn, accountKey(userID), acct)
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

// SetPlanTier caches the user's plan tier on the account.
func (l *Ledger) SetPlanTier(ctx context.Context, userID string, tier types.PlanTier) (*Account, error) {
	if !tier.Valid() {
		return nil, fmt.Errorf("%w: unknown plan tier %q", ErrInvalidDelta, tier)
	}
	return l.updateAccount(ctx, userID, func(a *Account, _ time.Time) {
		a.PlanTier = tier
	})
}

func (l *Ledger) updateAccount(ctx context.Context, userID string, mutate func(*Account, time.Time)) (*Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var acct *Account
	err := l.db.Update(func(txn storage.Txn) error {
		var err error
		acct, err = getAccount(txn, userID)
		if err != nil {
			return err
		}
		now := l.now()
		mutate(acct, now)
		acct.UpdatedAt = now
		return putJSON(txn, accountKey(userID), acct)
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

// Accounts returns every account in user ID order. Corrupt entries are
// logged and skipped.
func (l *Ledger) Accounts(ctx context.Context) ([]*Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	accts := make([]*Account, 0)
	err := l.db.ForEach(prefixAccount, func(key, value []byte) error {
		var a Account
		if err := json.Unmarshal(value, &a); err != nil {
			klog.Ledger.Warn().Str("key", string(key)).Err(err).Msg("Skipping corrupt account entry")
			return nil
		}
		accts = append(accts, &a)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ledger list accounts: %w", err)
	}
	return accts, nil
}

// GetTransaction returns a transaction by ID.
func (l *Ledger) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return getTx(l.db, id)
}

// ListTransactions returns the user's transactions, newest first. A limit
// of zero returns all of them.
func (l *Ledger) ListTransactions(ctx context.Context, userID string, limit int) ([]*Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var ids []string
	err := l.db.ForEach(historyPrefix(userID), func(_, value []byte) error {
		ids = append(ids, string(value))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ledger history: %w", err)
	}

	txs := make([]*Transaction, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		if limit > 0 && len(txs) == limit {
			break
		}
		tx, err := getTx(l.db, ids[i])
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// ListPending returns all pending transactions, oldest first.
func (l *Ledger) ListPending(ctx context.Context) ([]*Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pending := make([]*Transaction, 0)
	err := l.db.ForEach(prefixTx, func(key, value []byte) error {
		var tx Transaction
		if err := json.Unmarshal(value, &tx); err != nil {
			klog.Ledger.Warn().Str("key", string(key)).Err(err).Msg("Skipping corrupt transaction entry")
			return nil
		}
		if tx.Status == StatusPending {
			pending = append(pending, &tx)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ledger list pending: %w", err)
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	return pending, nil
}

func newID() string {
	return uuid.NewString()
}

func putJSON(txn storage.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("ledger marshal: %w", err)
	}
	return txn.Put(key, data)
}

func getJSON(r storage.Reader, key []byte, v any, notFound error) error {
	data, err := r.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return notFound
		}
		return fmt.Errorf("ledger get: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("ledger unmarshal: %w", err)
	}
	return nil
}

func getAccount(r storage.Reader, userID string) (*Account, error) {
	var a Account
	if err := getJSON(r, accountKey(userID), &a, fmt.Errorf("%w: %s", ErrUnknownAccount, userID)); err != nil {
		return nil, err
	}
	return &a, nil
}

func getWallet(r storage.Reader, userID string) (*Wallet, error) {
	var w Wallet
	if err := getJSON(r, walletKey(userID), &w, fmt.Errorf("%w: no wallet for %s", ErrUnknownAccount, userID)); err != nil {
		return nil, err
	}
	return &w, nil
}

func getTx(r storage.Reader, id string) (*Transaction, error) {
	var tx Transaction
	if err := getJSON(r, txKey(id), &tx, fmt.Errorf("%w: %s", ErrTxNotFound, id)); err != nil {
		return nil, err
	}
	return &tx, nil
}
