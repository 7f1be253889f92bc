package types

import (
	"errors"
	"fmt"
	"strings"
)

// Bech32 (BIP-173) codec for addresses.

const (
	bech32Alphabet    = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"
	bech32ChecksumLen = 6
)

var (
	errBech32Checksum = errors.New("bech32: invalid checksum")
	errBech32Padding  = errors.New("bech32: non-zero padding")
)

var bech32Generator = [5]uint32{0x3b6a57b2, 0x26508e6d, 0x1ea119fa, 0x3d4233dd, 0x2a1462b3}

// Bech32Encode encodes hrp and an 8-bit payload into a bech32 string.
func Bech32Encode(hrp string, data []byte) (string, error) {
	if hrp == "" {
		return "", fmt.Errorf("bech32: empty HRP")
	}
	if strings.ToLower(hrp) != hrp {
		return "", fmt.Errorf("bech32: HRP must be lowercase")
	}
	for _, c := range hrp {
		if c < 33 || c > 126 {
			return "", fmt.Errorf("bech32: invalid HRP character %q", c)
		}
	}

	words, err := regroup(data, 8, 5, true)
	if err != nil {
		return "", err
	}
	sum := checksum(hrp, words)

	var sb strings.Builder
	sb.Grow(len(hrp) + 1 + len(words) + bech32ChecksumLen)
	sb.WriteString(hrp)
	sb.WriteByte('1')
	for _, w := range append(words, sum...) {
		sb.WriteByte(bech32Alphabet[w])
	}
	return sb.String(), nil
}

// Bech32Decode splits a bech32 string into its HRP and 8-bit payload.
func Bech32Decode(s string) (string, []byte, error) {
	lower := strings.ToLower(s)
	if lower != s && strings.ToUpper(s) != s {
		return "", nil, fmt.Errorf("bech32: mixed case")
	}
	sep := strings.LastIndexByte(lower, '1')
	if sep < 1 {
		return "", nil, fmt.Errorf("bech32: missing separator")
	}
	if len(lower)-sep-1 < bech32ChecksumLen {
		return "", nil, fmt.Errorf("bech32: too short")
	}

	hrp := lower[:sep]
	words := make([]byte, 0, len(lower)-sep-1)
	for _, c := range lower[sep+1:] {
		idx := strings.IndexRune(bech32Alphabet, c)
		if idx < 0 {
			return "", nil, fmt.Errorf("bech32: invalid character %q", c)
		}
		words = append(words, byte(idx))
	}
	if polymod(append(expandHRP(hrp), words...)) != 1 {
		return "", nil, errBech32Checksum
	}

	data, err := regroup(words[:len(words)-bech32ChecksumLen], 5, 8, false)
	if err != nil {
		return "", nil, err
	}
	return hrp, data, nil
}

func polymod(values []byte) uint32 {
	chk := uint32(1)
	for _, v := range values {
		top := chk >> 25
		chk = (chk&0x1ffffff)<<5 ^ uint32(v)
		for i, g := range bech32Generator {
			if (top>>uint(i))&1 == 1 {
				chk ^= g
			}
		}
	}
	return chk
}

func expandHRP(hrp string) []byte {
	out := make([]byte, len(hrp)*2+1)
	for i := 0; i < len(hrp); i++ {
		out[i] = hrp[i] >> 5
		out[len(hrp)+1+i] = hrp[i] & 31
	}
	return out
}

func checksum(hrp string, words []byte) []byte {
	values := append(expandHRP(hrp), words...)
	values = append(values, make([]byte, bech32ChecksumLen)...)
	mod := polymod(values) ^ 1
	out := make([]byte, bech32ChecksumLen)
	for i := range out {
		out[i] = byte(mod>>uint(5*(5-i))) & 31
	}
	return out
}

// regroup repacks a bit stream from groups of `from` bits to groups of `to` bits.
func regroup(in []byte, from, to uint, pad bool) ([]byte, error) {
	var acc uint32
	var bits uint
	mask := uint32(1)<<to - 1
	out := make([]byte, 0, len(in)*int(from)/int(to)+1)

	for _, b := range in {
		if uint32(b)>>from != 0 {
			return nil, fmt.Errorf("bech32: value %d exceeds %d bits", b, from)
		}
		acc = acc<<from | uint32(b)
		bits += from
		for bits >= to {
			bits -= to
			out = append(out, byte(acc>>bits&mask))
		}
	}

	switch {
	case pad && bits > 0:
		out = append(out, byte(acc<<(to-bits)&mask))
	case !pad && (bits >= from || acc<<(to-bits)&mask != 0):
		return nil, errBech32Padding
	}
	return out, nil
}
