package settlement

import (
	"context"
	"errors"

	"github.com/Klingon-tech/klingnet-custody/internal/chain"
	"github.com/Klingon-tech/klingnet-custody/internal/keys"
	"github.com/Klingon-tech/klingnet-custody/internal/ledger"
)

// Error taxonomy. Lower layers' sentinels are reused so errors.Is works
// across package boundaries.
var (
	ErrDerivationFailure          = keys.ErrDerivationFailure
	ErrInsufficientBalance        = ledger.ErrInsufficientBalance
	ErrInsufficientOnChainBalance = chain.ErrInsufficientFunds
	ErrNetwork                    = chain.ErrNetwork
	ErrIndexCollision             = ledger.ErrIndexCollision

	ErrBelowMinimum   = errors.New("amount below minimum withdrawal")
	ErrAboveMaximum   = errors.New("amount above plan maximum")
	ErrFeeNotPaid     = errors.New("withdrawal fee not paid")
	ErrInternal       = errors.New("internal error")
	ErrNotFound       = errors.New("not found")
	ErrPriceMismatch  = errors.New("amount does not match price")
	ErrInvalidRequest = errors.New("invalid request")
)

// Error kinds carried in API error data.
const (
	KindDerivationFailure          = "DerivationFailure"
	KindInsufficientBalance        = "InsufficientBalance"
	KindInsufficientOnChainBalance = "InsufficientOnChainBalance"
	KindBelowMinimum               = "BelowMinimum"
	KindAboveMaximum               = "AboveMaximum"
	KindFeeNotPaid                 = "FeeNotPaid"
	KindNetwork                    = "Network"
	KindInternal                   = "Internal"
	KindNotFound                   = "NotFound"
	KindPriceMismatch              = "PriceMismatch"
	KindInvalidRequest             = "InvalidRequest"
	KindIndexCollision             = "IndexCollision"
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrBelowMinimum, KindBelowMinimum},
	{ErrAboveMaximum, KindAboveMaximum},
	{ErrFeeNotPaid, KindFeeNotPaid},
	{ErrPriceMismatch, KindPriceMismatch},
	{ErrInvalidRequest, KindInvalidRequest},
	{ErrNotFound, KindNotFound},
	{ErrInsufficientBalance, KindInsufficientBalance},
	{ErrInsufficientOnChainBalance, KindInsufficientOnChainBalance},
	{ErrNetwork, KindNetwork},
	{context.DeadlineExceeded, KindNetwork},
	{ErrDerivationFailure, KindDerivationFailure},
	{keys.ErrNotReady, KindDerivationFailure},
	{keys.ErrInvalidUserID, KindInvalidRequest},
	{ledger.ErrInvalidBooster, KindInvalidRequest},
	{ledger.ErrBoosterNotFound, KindNotFound},
	{ledger.ErrTxNotFound, KindNotFound},
	{ErrIndexCollision, KindIndexCollision},
	{ErrInternal, KindInternal},
}

// Kind maps err to its taxonomy name. Unclassified errors are Internal.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// Retryable reports whether retrying the same request may succeed.
// Validation errors never are.
func Retryable(err error) bool {
	return Kind(err) == KindNetwork
}
