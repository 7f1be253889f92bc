package keys

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Klingon-tech/klingnet-custody/pkg/crypto"
	"github.com/Klingon-tech/klingnet-custody/pkg/types"
	"github.com/tyler-smith/go-bip32"
)

// Hardened path components. Custody wallets live at
// m/44'/8888'/account'/0'/index'; the house wallet is m/44'/8888'/account'/0'.
const (
	PurposeBIP44  = bip32.FirstHardenedChild + 44
	CoinType      = bip32.FirstHardenedChild + 8888
	ChangeCustody = bip32.FirstHardenedChild + 0
)

// Hardened returns the hardened form of a child index.
func Hardened(i uint32) uint32 {
	return bip32.FirstHardenedChild + i
}

// FormatPath renders indices as a BIP-32 path string, e.g. "m/44'/8888'/0'".
func FormatPath(indices ...uint32) string {
	var sb strings.Builder
	sb.WriteString("m")
	for _, idx := range indices {
		sb.WriteByte('/')
		if idx >= bip32.FirstHardenedChild {
			sb.WriteString(strconv.FormatUint(uint64(idx-bip32.FirstHardenedChild), 10))
			sb.WriteByte('\'')
		} else {
			sb.WriteString(strconv.FormatUint(uint64(idx), 10))
		}
	}
	return sb.String()
}

// HDKey is a BIP-32 extended key on secp256k1.
type HDKey struct {
	key *bip32.Key
}

// NewMasterKey creates a master HD key from a 64-byte seed.
func NewMasterKey(seed []byte) (*HDKey, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", SeedSize, len(seed))
	}
	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("create master key: %w", err)
	}
	return &HDKey{key: master}, nil
}

// DeriveChild derives the child at index. Add bip32.FirstHardenedChild
// (or use Hardened) for hardened derivation.
func (k *HDKey) DeriveChild(index uint32) (*HDKey, error) {
	child, err := k.key.NewChildKey(index)
	if err != nil {
		return nil, fmt.Errorf("derive child %d: %w", index, err)
	}
	return &HDKey{key: child}, nil
}

// DerivePath derives a key along a sequence of indices.
func (k *HDKey) DerivePath(indices ...uint32) (*HDKey, error) {
	current := k
	for _, idx := range indices {
		child, err := current.DeriveChild(idx)
		if err != nil {
			return nil, err
		}
		current = child
	}
	return current, nil
}

// PrivateKeyBytes returns the raw 32-byte private key, or nil for a
// public-only key.
func (k *HDKey) PrivateKeyBytes() []byte {
	if !k.key.IsPrivate {
		return nil
	}
	raw := k.key.Key
	if len(raw) == 33 && raw[0] == 0 {
		return raw[1:]
	}
	return raw
}

// PublicKeyBytes returns the compressed 33-byte public key.
func (k *HDKey) PublicKeyBytes() []byte {
	return k.key.PublicKey().Key
}

// Signer returns a signing key. The caller owns it and should Zero it.
func (k *HDKey) Signer() (*crypto.PrivateKey, error) {
	priv := k.PrivateKeyBytes()
	if priv == nil {
		return nil, fmt.Errorf("cannot create signer from public key")
	}
	return crypto.PrivateKeyFromBytes(priv)
}

// Address returns BLAKE3(compressed_pubkey)[:20].
func (k *HDKey) Address() types.Address {
	return crypto.AddressFromPubKey(k.PublicKeyBytes())
}

// Zero overwrites the key bytes and chain code.
func (k *HDKey) Zero() {
	if k == nil || k.key == nil {
		return
	}
	for i := range k.key.Key {
		k.key.Key[i] = 0
	}
	for i := range k.key.ChainCode {
		k.key.ChainCode[i] = 0
	}
}
