// Package storage provides the key-value abstraction the ledger persists to.
package storage

import "errors"

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("key not found")

// Reader is the read side shared by DB and Txn.
type Reader interface {
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
}

// Txn is a read-write view used inside DB.Update. Writes become visible to
// other readers only when the update function returns nil.
type Txn interface {
	Reader
	Put(key, value []byte) error
	Delete(key []byte) error
}

// DB is the interface for key-value storage.
type DB interface {
	Reader
	Put(key, value []byte) error
	Delete(key []byte) error
	// ForEach iterates over all keys with the given prefix in key order.
	// The callback receives a copy of the key and value.
	// Return a non-nil error from fn to stop iteration early.
	ForEach(prefix []byte, fn func(key, value []byte) error) error
	// Update runs fn in a single atomic transaction. If fn returns an error
	// nothing it wrote is applied.
	Update(fn func(txn Txn) error) error
	Close() error
}
