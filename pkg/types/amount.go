package types

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Unit constants. One coin is 10^12 base units, the same granularity the
// chain uses, so credit and on-chain balances are directly comparable.
const (
	Decimals  = 12
	Coin      = Amount(1_000_000_000_000)
	MilliCoin = Amount(1_000_000_000)
	MicroCoin = Amount(1_000_000)
)

// MaxAmount is the largest amount that can also be expressed as a positive
// signed delta.
const MaxAmount = Amount(math.MaxInt64)

// Amount is a non-negative quantity of base units.
type Amount uint64

// Coins returns a whole-coin amount.
func Coins(n uint64) Amount {
	return Amount(n) * Coin
}

// FromFloat converts a coin value to base units, truncating below one unit.
// Negative and non-finite inputs yield zero.
func FromFloat(coins float64) Amount {
	if coins <= 0 || math.IsNaN(coins) || math.IsInf(coins, 0) {
		return 0
	}
	units := coins * float64(Coin)
	if units >= float64(MaxAmount) {
		return MaxAmount
	}
	return Amount(units)
}

// Float returns the amount in coins. Lossy; use only for display and metrics.
func (a Amount) Float() float64 {
	return float64(a) / float64(Coin)
}

// Delta returns the amount as a signed delta.
func (a Amount) Delta() int64 {
	if a > MaxAmount {
		return math.MaxInt64
	}
	return int64(a)
}

// Percent returns pct percent of a, rounded up so fees never under-collect.
func (a Amount) Percent(pct uint64) Amount {
	if pct == 0 || a == 0 {
		return 0
	}
	whole := a / 100 * Amount(pct)
	rem := a % 100 * Amount(pct)
	return whole + (rem+99)/100
}

// String formats the amount as a decimal coin string.
func (a Amount) String() string {
	whole := a / Coin
	frac := a % Coin
	if frac == 0 {
		return strconv.FormatUint(uint64(whole), 10)
	}
	s := fmt.Sprintf("%d.%012d", whole, frac)
	return strings.TrimRight(s, "0")
}

// MarshalJSON encodes the amount as a decimal coin string.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts a decimal coin string or a JSON number of coins.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("amount must be a string or number: %w", err)
		}
		s = n.String()
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAmount converts a decimal coin string to base units.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	if strings.HasPrefix(s, "-") {
		return 0, fmt.Errorf("negative amount")
	}

	parts := strings.SplitN(s, ".", 2)
	whole, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid whole part: %w", err)
	}

	var frac uint64
	if len(parts) == 2 {
		fracStr := parts[1]
		if len(fracStr) > Decimals {
			return 0, fmt.Errorf("too many decimal places (max %d)", Decimals)
		}
		fracStr += strings.Repeat("0", Decimals-len(fracStr))
		frac, err = strconv.ParseUint(fracStr, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid fractional part: %w", err)
		}
	}

	if whole > uint64(MaxAmount/Coin) {
		return 0, fmt.Errorf("amount too large")
	}
	result := Amount(whole) * Coin
	if result > MaxAmount-Amount(frac) {
		return 0, fmt.Errorf("amount too large")
	}
	return result + Amount(frac), nil
}
