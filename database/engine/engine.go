// Copyright (c) 2024 The btcsuite developers
// Copyright (c) 2016-2026 The Silk Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package engine defines the key/value storage engine used by the indexes of
// silkd along with a test suite every backend must pass.
package engine

import "errors"

// ErrNotFound is returned by Snapshot.Get when the key does not exist.
var ErrNotFound = errors.New("engine: key not found")

// Engine is a key/value store supporting atomic write batches and consistent
// read snapshots.
type Engine interface {
	// Transaction starts a write batch.  Nothing is visible to readers
	// until Commit returns.
	Transaction() (Transaction, error)

	// Snapshot returns a consistent read view of the store.
	Snapshot() (Snapshot, error)

	// Close closes the store.  Closing it twice is an error.
	Close() error
}

// Transaction is a batch of writes applied atomically on Commit.
type Transaction interface {
	Put(key, value []byte) error
	Delete(key []byte) error
	Commit() error

	// Discard drops the batch.  It is safe to call more than once and
	// after Commit.
	Discard()
}

// Snapshot is a read-only view of the store.
type Snapshot interface {
	// Get returns the value of key or ErrNotFound.
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	NewIterator(*Range) Iterator
	Releaser
}

// Releaser is implemented by resources which must be released after use.
type Releaser interface {
	Release()
}
