// Copyright (c) 2016-2026 The Silk Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// inPoint identifies one input of a pooled transaction by the hash of that
// transaction and the position of the input.  The hash is resolved through
// the primary index of the pool rather than holding on to the transaction.
type inPoint struct {
	hash  chainhash.Hash
	index uint32
}

// outpointIndex maps every outpoint spent by a pooled transaction to the input
// spending it.  It holds at most one claim per outpoint.  Keeping two pooled
// transactions from claiming the same outpoint is the job of the pool, which
// removes conflicting transactions before admitting a new one.
type outpointIndex map[wire.OutPoint]inPoint

// claim records that input index of the transaction with the given hash spends
// op.  Any existing claim on op is overwritten and returned.
func (idx outpointIndex) claim(op wire.OutPoint, hash *chainhash.Hash, index uint32) (inPoint, bool) {
	prev, exists := idx[op]
	idx[op] = inPoint{hash: *hash, index: index}
	return prev, exists
}

// release removes the claim on op, but only when the claim belongs to the
// transaction with the given hash.  A claim that was overwritten by another
// transaction is left alone.
func (idx outpointIndex) release(op wire.OutPoint, hash *chainhash.Hash) bool {
	in, exists := idx[op]
	if !exists || in.hash != *hash {
		return false
	}
	delete(idx, op)
	return true
}

// lookup returns the claim on op, if any.
func (idx outpointIndex) lookup(op wire.OutPoint) (inPoint, bool) {
	in, exists := idx[op]
	return in, exists
}
