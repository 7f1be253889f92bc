package ledger

import (
	"hash/fnv"
	"sync"
)

const lockStripes = 256

// userLocks serializes mutations per user. Users hashing to the same stripe
// share a mutex; different stripes proceed in parallel.
type userLocks struct {
	stripes [lockStripes]sync.Mutex
}

func (l *userLocks) lock(userID string) func() {
	h := fnv.New32a()
	h.Write([]byte(userID))
	m := &l.stripes[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}
