package types

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync/atomic"
)

// AddressSize is the length of an address in bytes.
const AddressSize = 20

// Address HRPs for bech32 encoding.
const (
	MainnetHRP = "kgx"
	TestnetHRP = "tkgx"
)

var activeHRP atomic.Value

func init() {
	activeHRP.Store(MainnetHRP)
}

// SetAddressHRP sets the HRP used by String and MarshalJSON. Call once at startup.
func SetAddressHRP(hrp string) {
	activeHRP.Store(hrp)
}

// AddressHRP returns the active address HRP.
func AddressHRP() string {
	return activeHRP.Load().(string)
}

// Address is a 160-bit public key hash.
type Address [AddressSize]byte

// IsZero returns true if the address is all zeros.
func (a Address) IsZero() bool {
	return a == Address{}
}

// String returns the bech32 form of the address under the active HRP.
func (a Address) String() string {
	hrp := AddressHRP()
	s, err := Bech32Encode(hrp, a[:])
	if err != nil {
		return hrp + ":" + hex.EncodeToString(a[:])
	}
	return s
}

// Hex returns the raw hex-encoded address.
func (a Address) Hex() string {
	return hex.EncodeToString(a[:])
}

// MarshalJSON encodes the address as a bech32 string.
func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON decodes a bech32 or raw hex address. An empty string is the zero address.
func (a *Address) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*a = Address{}
		return nil
	}
	parsed, err := ParseAddress(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAddress parses a bech32 address with a known HRP, or 40 raw hex characters.
func ParseAddress(s string) (Address, error) {
	if s == "" {
		return Address{}, fmt.Errorf("empty address")
	}

	var raw []byte
	if len(s) == AddressSize*2 {
		if b, err := hex.DecodeString(s); err == nil {
			raw = b
		}
	}
	if raw == nil {
		hrp, data, err := Bech32Decode(s)
		if err != nil {
			return Address{}, fmt.Errorf("invalid address: %w", err)
		}
		if hrp != MainnetHRP && hrp != TestnetHRP {
			return Address{}, fmt.Errorf("unknown address prefix %q", hrp)
		}
		raw = data
	}

	if len(raw) != AddressSize {
		return Address{}, fmt.Errorf("address must be %d bytes, got %d", AddressSize, len(raw))
	}
	var a Address
	copy(a[:], raw)
	return a, nil
}
