package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Klingon-tech/klingnet-custody/internal/ledger"
	klog "github.com/Klingon-tech/klingnet-custody/internal/log"
	"github.com/Klingon-tech/klingnet-custody/pkg/types"
)

// PaymentSource says how a purchase or fee is paid.
type PaymentSource interface {
	paymentSource() string
}

// ExternalPayment was settled outside the ledger, for example by a direct
// transfer to the house wallet. Only a record is written.
type ExternalPayment struct {
	// Reference identifies the external payment.
	Reference string
}

// LedgerDebit pays from the user's credit balance.
type LedgerDebit struct{}

func (ExternalPayment) paymentSource() string { return "external" }
func (LedgerDebit) paymentSource() string     { return "ledger" }

// ParsePaymentSource maps "external" and "ledger" to a PaymentSource.
func ParsePaymentSource(name, reference string) (PaymentSource, error) {
	switch name {
	case "external":
		return ExternalPayment{Reference: reference}, nil
	case "ledger", "":
		return LedgerDebit{}, nil
	}
	return nil, fmt.Errorf("%w: unknown payment source %q", ErrInvalidRequest, name)
}

// Purchase buys a booster. amount must equal the catalog price. A ledger
// debit and the grant commit together; an external payment records the
// purchase and grants without debiting.
func (e *Engine) Purchase(ctx context.Context, userID string, amount types.Amount, boosterID string, src PaymentSource) (tx *ledger.Transaction, err error) {
	start := time.Now()
	defer func() { e.metrics.observe("purchase", start, err) }()

	done, err := e.begin()
	if err != nil {
		return nil, err
	}
	defer done()

	if src == nil {
		return nil, fmt.Errorf("%w: no payment source", ErrInvalidRequest)
	}
	if _, _, err := e.ledger.GetAccount(ctx, userID); err != nil {
		return nil, classify(err)
	}
	booster, err := e.ledger.GetBooster(ctx, boosterID)
	if err != nil {
		if errors.Is(err, ledger.ErrBoosterNotFound) {
			return nil, fmt.Errorf("%w: booster %q", ErrNotFound, boosterID)
		}
		return nil, classify(err)
	}
	if amount != booster.Price {
		return nil, fmt.Errorf("%w: booster %s costs %s, got %s", ErrPriceMismatch, booster.ID, booster.Price, amount)
	}

	d := ledger.Delta{
		UserID:       userID,
		Kind:         ledger.KindPurchase,
		Description:  "booster " + booster.Name,
		Reference:    booster.ID,
		RecordAmount: amount,
		Grant:        booster.Grant(),
	}
	switch s := src.(type) {
	case LedgerDebit:
		d.Amount = -amount.Delta()
	case ExternalPayment:
		if s.Reference != "" {
			d.Description += " (paid " + s.Reference + ")"
		}
	default:
		return nil, fmt.Errorf("%w: unsupported payment source", ErrInvalidRequest)
	}

	tx, err = e.ledger.ApplyDelta(context.WithoutCancel(ctx), d)
	if err != nil {
		return nil, classify(err)
	}
	e.metrics.addVolume("purchase", amount)
	logger := klog.WithUser(klog.Settlement, userID)
	logger.Info().
		Str("booster", booster.ID).
		Str("amount", amount.String()).
		Str("source", src.paymentSource()).
		Str("grant", tx.GrantID).
		Msg("Booster purchased")
	return tx, nil
}

// PayFee adds amount to the user's withdrawal fee credit. A ledger debit
// pays it from the credit balance; an external payment is only recorded.
func (e *Engine) PayFee(ctx context.Context, userID string, amount types.Amount, src PaymentSource) (tx *ledger.Transaction, err error) {
	start := time.Now()
	defer func() { e.metrics.observe("payfee", start, err) }()

	done, err := e.begin()
	if err != nil {
		return nil, err
	}
	defer done()

	if amount == 0 || amount > types.MaxAmount {
		return nil, fmt.Errorf("%w: fee amount %s", ErrInvalidRequest, amount)
	}
	if src == nil {
		return nil, fmt.Errorf("%w: no payment source", ErrInvalidRequest)
	}
	if _, _, err := e.ledger.GetAccount(ctx, userID); err != nil {
		return nil, classify(err)
	}

	d := ledger.Delta{
		UserID:       userID,
		Kind:         ledger.KindTransfer,
		Description:  "withdrawal fee",
		RecordAmount: amount,
		AddFee:       amount,
	}
	switch s := src.(type) {
	case LedgerDebit:
		d.Amount = -amount.Delta()
	case ExternalPayment:
		d.Reference = s.Reference
	default:
		return nil, fmt.Errorf("%w: unsupported payment source", ErrInvalidRequest)
	}

	tx, err = e.ledger.ApplyDelta(context.WithoutCancel(ctx), d)
	if err != nil {
		return nil, classify(err)
	}
	logger := klog.WithUser(klog.Settlement, userID)
	logger.Info().
		Str("amount", amount.String()).
		Str("source", src.paymentSource()).
		Msg("Withdrawal fee paid")
	return tx, nil
}

// Accrue credits a simulated accrual increment. grantID, when set, names a
// one-shot booster grant consumed by this increment.
func (e *Engine) Accrue(ctx context.Context, userID string, amount types.Amount, grantID string) (tx *ledger.Transaction, err error) {
	start := time.Now()
	defer func() { e.metrics.observe("accrue", start, err) }()

	done, err := e.begin()
	if err != nil {
		return nil, err
	}
	defer done()

	if amount > types.MaxAmount {
		return nil, fmt.Errorf("%w: accrual amount %s", ErrInvalidRequest, amount)
	}
	tx, err = e.ledger.ApplyDelta(ctx, ledger.Delta{
		UserID:      userID,
		Amount:      amount.Delta(),
		Kind:        ledger.KindDeposit,
		Description: "accrual",
		UseGrant:    grantID,
	})
	if err != nil {
		return nil, classify(err)
	}
	e.metrics.addVolume("accrue", amount)
	return tx, nil
}
