package types

import (
	"fmt"
	"strings"
)

// PlanTier is a subscription plan level. It drives withdrawal limits and fees.
type PlanTier string

const (
	TierFree    PlanTier = "free"
	TierBasic   PlanTier = "basic"
	TierPremium PlanTier = "premium"
)

// Valid reports whether t is a known tier.
func (t PlanTier) Valid() bool {
	switch t {
	case TierFree, TierBasic, TierPremium:
		return true
	}
	return false
}

// ParsePlanTier parses a tier name case-insensitively.
func ParsePlanTier(s string) (PlanTier, error) {
	t := PlanTier(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown plan tier %q", s)
	}
	return t, nil
}
