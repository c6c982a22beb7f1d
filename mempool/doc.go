// Copyright (c) 2016 The btcsuite developers
// Copyright (c) 2016-2026 The Silk Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package mempool provides a pool of unconfirmed transactions.

Transactions enter the pool after the caller has fully validated them against
the consensus rules; the pool does not validate anything itself.  What it does
is keep two indices in lockstep:

 - the primary index, mapping transaction hashes to descriptors
 - the outpoint index, mapping every outpoint spent by a pooled transaction to
   the spending transaction hash and input position

The outpoint index is how conflicts are found.  Before a transaction is
admitted (or once a block confirms transactions) RemoveConflicts evicts every
pooled transaction that spends one of the same outputs, together with every
pooled transaction that depends on it.  AddUnchecked never does this on its
own; AddTransaction performs both steps under a single lock acquisition.

Every addition, removal and clear bumps an update counter which block
template code uses to detect changes without diffing the pool.

Fee Estimation

The pool owns a FeeEstimator that watches how many blocks transactions at
various fee rates need before they are mined, over a horizon of 25 blocks.
Its state can be written to and read back from a stream with a small
versioned header so estimates survive restarts.  Failing to read or write
that data is never fatal to the pool.

Errors

Lookups of absent transactions return ErrTxNotInPool.  Fee data that requires
a newer release is rejected with a FeeDataVersionError.
*/
package mempool
