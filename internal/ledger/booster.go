package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	klog "github.com/Klingon-tech/klingnet-custody/internal/log"
	"github.com/Klingon-tech/klingnet-custody/internal/storage"
)

// Validate checks a catalog entry.
func (b *Booster) Validate() error {
	if b.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidBooster)
	}
	if b.Multiplier < 1 {
		return fmt.Errorf("%w: multiplier %v below 1", ErrInvalidBooster, b.Multiplier)
	}
	switch b.Type {
	case BoosterOneTime, BoosterPermanent:
	case BoosterDuration:
		if b.DurationSec <= 0 {
			return fmt.Errorf("%w: duration booster needs a positive duration", ErrInvalidBooster)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidBooster, b.Type)
	}
	return nil
}

// Grant returns the grant request for a purchase of b.
func (b *Booster) Grant() *GrantRequest {
	req := &GrantRequest{BoosterID: b.ID, Multiplier: b.Multiplier}
	switch b.Type {
	case BoosterOneTime:
		req.OneShot = true
	case BoosterDuration:
		req.Duration = time.Duration(b.DurationSec) * time.Second
	}
	return req
}

// PutBooster creates or replaces a catalog entry.
func (l *Ledger) PutBooster(ctx context.Context, b *Booster) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.Validate(); err != nil {
		return err
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = l.now()
	}
	return l.db.Update(func(txn storage.Txn) error {
		return putJSON(txn, boosterKey(b.ID), b)
	})
}

// GetBooster returns a catalog entry.
func (l *Ledger) GetBooster(ctx context.Context, id string) (*Booster, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var b Booster
	if err := getJSON(l.db, boosterKey(id), &b, fmt.Errorf("%w: %s", ErrBoosterNotFound, id)); err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBoosters returns the catalog ordered by ID.
func (l *Ledger) ListBoosters(ctx context.Context) ([]*Booster, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	boosters := make([]*Booster, 0)
	err := l.db.ForEach(prefixBooster, func(key, value []byte) error {
		var b Booster
		if err := json.Unmarshal(value, &b); err != nil {
			klog.Ledger.Warn().Str("key", string(key)).Err(err).Msg("Skipping corrupt booster entry")
			return nil
		}
		boosters = append(boosters, &b)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ledger list boosters: %w", err)
	}
	return boosters, nil
}

// ListGrants returns all of the user's grants, expired ones included,
// ordered by activation time.
func (l *Ledger) ListGrants(ctx context.Context, userID string) ([]*BoosterGrant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	grants := make([]*BoosterGrant, 0)
	err := l.db.ForEach(grantPrefix(userID), func(key, value []byte) error {
		var g BoosterGrant
		if err := json.Unmarshal(value, &g); err != nil {
			klog.Ledger.Warn().Str("key", string(key)).Err(err).Msg("Skipping corrupt grant entry")
			return nil
		}
		grants = append(grants, &g)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ledger list grants: %w", err)
	}
	sort.SliceStable(grants, func(i, j int) bool {
		return grants[i].ActivatedAt.Before(grants[j].ActivatedAt)
	})
	return grants, nil
}

// ActiveMultiplier returns the largest multiplier among the user's grants
// active at now, and the grant providing it. With no active grant it
// returns 1 and nil.
func (l *Ledger) ActiveMultiplier(ctx context.Context, userID string, now time.Time) (float64, *BoosterGrant, error) {
	grants, err := l.ListGrants(ctx, userID)
	if err != nil {
		return 0, nil, err
	}
	best := 1.0
	var bestGrant *BoosterGrant
	for _, g := range grants {
		if g.Active(now) && g.Multiplier > best {
			best = g.Multiplier
			bestGrant = g
		}
	}
	return best, bestGrant, nil
}

func expireGrant(txn storage.Txn, userID, grantID string, now time.Time) error {
	var g BoosterGrant
	err := getJSON(txn, grantKey(userID, grantID), &g, ErrGrantNotFound)
	if err != nil {
		if errors.Is(err, ErrGrantNotFound) {
			return fmt.Errorf("%w: %s", ErrGrantNotFound, grantID)
		}
		return err
	}
	if !g.Active(now) {
		return fmt.Errorf("%w: grant %s already expired", ErrInvalidDelta, grantID)
	}
	g.ExpiresAt = &now
	return putJSON(txn, grantKey(userID, grantID), &g)
}
