// Package crypto provides the hashing and Schnorr/secp256k1 signing
// primitives used for custody wallets.
package crypto

import (
	"github.com/Klingon-tech/klingnet-custody/pkg/types"
	"github.com/zeebo/blake3"
)

// Hash computes a BLAKE3-256 hash of the input data.
func Hash(data []byte) types.Hash {
	return blake3.Sum256(data)
}

// TaggedHash computes BLAKE3-256(tag || data). Distinct tags keep digests
// from different purposes from colliding.
func TaggedHash(tag string, data []byte) types.Hash {
	h := blake3.New()
	_, _ = h.Write([]byte(tag))
	_, _ = h.Write(data)
	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// AddressFromPubKey derives an address from a compressed public key.
// Address = BLAKE3(compressed_pubkey)[:20].
func AddressFromPubKey(pubKey []byte) types.Address {
	h := Hash(pubKey)
	var addr types.Address
	copy(addr[:], h[:types.AddressSize])
	return addr
}
