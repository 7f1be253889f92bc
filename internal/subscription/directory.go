// Package subscription resolves a user's plan tier.
package subscription

import (
	"context"
	"errors"
	"sync"

	"github.com/Klingon-tech/klingnet-custody/pkg/types"
)

// ErrUnavailable means the directory could not be reached.
var ErrUnavailable = errors.New("subscription directory unavailable")

// Directory looks up a user's current plan tier. Users without a plan are
// on the free tier.
type Directory interface {
	PlanTier(ctx context.Context, userID string) (types.PlanTier, error)
}

// Static is an in-memory directory, used when no database is configured
// and in tests.
type Static struct {
	mu    sync.RWMutex
	def   types.PlanTier
	tiers map[string]types.PlanTier
}

// NewStatic returns a directory answering def for unknown users.
func NewStatic(def types.PlanTier) *Static {
	if !def.Valid() {
		def = types.TierFree
	}
	return &Static{def: def, tiers: make(map[string]types.PlanTier)}
}

// Set assigns a tier to a user.
func (s *Static) Set(userID string, tier types.PlanTier) {
	s.mu.Lock()
	s.tiers[userID] = tier
	s.mu.Unlock()
}

// PlanTier implements Directory.
func (s *Static) PlanTier(ctx context.Context, userID string) (types.PlanTier, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.tiers[userID]; ok {
		return t, nil
	}
	return s.def, nil
}
