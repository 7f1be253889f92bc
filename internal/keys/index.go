package keys

import (
	"encoding/binary"

	"github.com/Klingon-tech/klingnet-custody/pkg/crypto"
)

// IndexVersion identifies the index derivation below. It is frozen: every
// existing wallet depends on it, so a change requires a new version and a
// migration, never an edit.
const IndexVersion = 1

const indexTag = "custody/index/v1"

// MaxIndex is the exclusive upper bound of derivation indices (2^31).
const MaxIndex = uint32(1) << 31

// DeriveIndex maps a user ID to a derivation index:
// BLAKE3-256("custody/index/v1" || userID), first four bytes big-endian, mod 2^31.
func DeriveIndex(userID string) uint32 {
	h := crypto.TaggedHash(indexTag, []byte(userID))
	return binary.BigEndian.Uint32(h[:4]) % MaxIndex
}
