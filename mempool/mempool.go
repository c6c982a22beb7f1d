// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2016-2026 The Silk Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/silknetwork/silkd/mining"
)

// Config is a descriptor containing the memory pool configuration.
type Config struct {
	// FeeEstimator provides a feeEstimator.  If it is not nil, the mempool
	// records all new transactions it observes into the feeEstimator and
	// takes ownership of it.  Otherwise the pool creates its own.
	FeeEstimator *FeeEstimator

	// BestHeight defines the function to use to access the block height of
	// the current best chain.  It is consulted when a transaction is added
	// with a negative height.
	BestHeight func() int32

	// SanityCheck enables a full consistency check of the pool indices
	// after every mutation.  It is expensive and meant for debugging.
	SanityCheck bool
}

// TxDesc is a descriptor containing a transaction in the mempool along with
// additional metadata.
type TxDesc struct {
	mining.TxDesc
}

// TxPool is used as a source of transactions that need to be mined into blocks
// and relayed to other peers.  It is safe for concurrent access from multiple
// peers.
type TxPool struct {
	// The following variables must only be used atomically.
	lastUpdated int64 // last time pool was updated

	mtx          sync.RWMutex
	cfg          Config
	pool         map[chainhash.Hash]*TxDesc
	outpoints    outpointIndex
	txnsUpdated  uint64
	feeEstimator *FeeEstimator
}

// Ensure the TxPool type implements the mining.TxSource interface.
var _ mining.TxSource = (*TxPool)(nil)

// isTransactionInPool returns whether or not the passed transaction already
// exists in the main pool.
//
// This function MUST be called with the mempool lock held (for reads).
func (mp *TxPool) isTransactionInPool(hash *chainhash.Hash) bool {
	_, exists := mp.pool[*hash]
	return exists
}

// IsTransactionInPool returns whether or not the passed transaction already
// exists in the main pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) IsTransactionInPool(hash *chainhash.Hash) bool {
	// Protect concurrent access.
	mp.mtx.RLock()
	inPool := mp.isTransactionInPool(hash)
	mp.mtx.RUnlock()

	return inPool
}

// HaveTransaction returns whether or not the passed transaction already exists
// in the pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) HaveTransaction(hash *chainhash.Hash) bool {
	return mp.IsTransactionInPool(hash)
}

// markUpdated records one logical mutation of the pool.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) markUpdated() {
	mp.txnsUpdated++
	atomic.StoreInt64(&mp.lastUpdated, time.Now().Unix())
}

// sanityCheck verifies the pool indices when the pool was configured to do
// so.
//
// This function MUST be called with the mempool lock held (for reads).
func (mp *TxPool) sanityCheck() {
	if !mp.cfg.SanityCheck {
		return
	}
	if err := mp.checkIndexes(); err != nil {
		log.Errorf("Mempool index inconsistency: %v", err)
	}
}

// removeOne erases a single pooled transaction from both indices without
// looking at transactions that depend on it.  Only claims on its inputs that
// still name it are released.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) removeOne(hash chainhash.Hash) *chainhash.Hash {
	txDesc := mp.pool[hash]
	for _, txIn := range txDesc.Tx.MsgTx().TxIn {
		mp.outpoints.release(txIn.PreviousOutPoint, &hash)
	}
	delete(mp.pool, hash)
	mp.markUpdated()

	log.Tracef("Removed transaction %v from the pool (%d remaining)",
		hash, len(mp.pool))
	return &hash
}

// removeTransaction is the internal function which implements the public
// RemoveTransaction.  See the comment for RemoveTransaction for more details.
//
// Dependents are found by walking the outpoint index with an explicit stack
// so that long chains of unconfirmed transactions cannot exhaust the
// goroutine stack.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) removeTransaction(tx *btcutil.Tx, removeRedeemers bool) []*chainhash.Hash {
	txHash := *tx.Hash()
	if !mp.isTransactionInPool(&txHash) {
		return nil
	}
	if !removeRedeemers {
		return []*chainhash.Hash{mp.removeOne(txHash)}
	}

	// frame is a pooled transaction whose outputs are being scanned for
	// redeemers along with the next output to look at.
	type frame struct {
		hash chainhash.Hash
		next uint32
	}

	var removed []*chainhash.Hash
	visited := map[chainhash.Hash]struct{}{txHash: {}}
	stack := []frame{{hash: txHash}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		numOutputs := uint32(len(mp.pool[top.hash].Tx.MsgTx().TxOut))

		// Descend into the first redeemer not visited yet.
		var redeemer *chainhash.Hash
		for top.next < numOutputs && redeemer == nil {
			prevOut := wire.OutPoint{Hash: top.hash, Index: top.next}
			top.next++

			in, exists := mp.outpoints.lookup(prevOut)
			if !exists {
				continue
			}
			if _, seen := visited[in.hash]; seen {
				continue
			}
			if !mp.isTransactionInPool(&in.hash) {
				continue
			}
			redeemer = &in.hash
		}
		if redeemer != nil {
			visited[*redeemer] = struct{}{}
			stack = append(stack, frame{hash: *redeemer})
			continue
		}

		// Every redeemer is gone, so the transaction itself can go.
		hash := top.hash
		stack = stack[:len(stack)-1]
		removed = append(removed, mp.removeOne(hash))
	}

	return removed
}

// RemoveTransaction removes the passed transaction from the mempool. When the
// removeRedeemers flag is set, any transactions that redeem outputs from the
// removed transaction will also be removed recursively from the mempool, as
// they would otherwise become orphans.  Redeemers are removed before the
// transactions they spend.
//
// Removing a transaction which is not in the pool does nothing.  The hashes of
// all removed transactions are returned in the order they were removed.
//
// This function is safe for concurrent access.
func (mp *TxPool) RemoveTransaction(tx *btcutil.Tx, removeRedeemers bool) []*chainhash.Hash {
	// Protect concurrent access.
	mp.mtx.Lock()
	removed := mp.removeTransaction(tx, removeRedeemers)
	mp.sanityCheck()
	mp.mtx.Unlock()

	return removed
}

// removeConflicts is the internal function which implements the public
// RemoveConflicts.  See the comment for RemoveConflicts for more details.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) removeConflicts(tx *btcutil.Tx) []*chainhash.Hash {
	var removed []*chainhash.Hash
	for _, txIn := range tx.MsgTx().TxIn {
		in, exists := mp.outpoints.lookup(txIn.PreviousOutPoint)
		if !exists || in.hash.IsEqual(tx.Hash()) {
			continue
		}
		txDesc, exists := mp.pool[in.hash]
		if !exists {
			continue
		}

		log.Debugf("Removing transaction %v which double spends %v with "+
			"%v", in.hash, txIn.PreviousOutPoint, tx.Hash())
		removed = append(removed, mp.removeTransaction(txDesc.Tx, true)...)
	}
	return removed
}

// RemoveConflicts removes all transactions which spend outputs spent by the
// passed transaction from the memory pool.  Removing those transactions then
// leads to removing all transactions which rely on them, recursively.  This is
// necessary before admitting a transaction whose inputs may already be
// claimed, and when a block is connected to the main chain because the block
// may contain transactions which were previously unknown to the memory pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) RemoveConflicts(tx *btcutil.Tx) []*chainhash.Hash {
	// Protect concurrent access.
	mp.mtx.Lock()
	removed := mp.removeConflicts(tx)
	mp.sanityCheck()
	mp.mtx.Unlock()

	return removed
}

// addUnchecked adds the passed transaction to the memory pool.  It does not
// perform any validation.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) addUnchecked(tx *btcutil.Tx, height int32, fee int64) *TxDesc {
	if height < 0 {
		height = 0
		if mp.cfg.BestHeight != nil {
			height = mp.cfg.BestHeight()
		}
	}

	// Add the transaction to the pool and mark the referenced outpoints
	// as spent by the pool.
	txD := &TxDesc{
		TxDesc: mining.TxDesc{
			Tx:       tx,
			Added:    time.Now(),
			Height:   height,
			Fee:      fee,
			FeePerKB: fee * 1000 / int64(tx.MsgTx().SerializeSize()),
		},
	}
	txHash := tx.Hash()
	mp.pool[*txHash] = txD

	for i, txIn := range tx.MsgTx().TxIn {
		prev, overwrote := mp.outpoints.claim(txIn.PreviousOutPoint,
			txHash, uint32(i))
		if overwrote && prev.hash != *txHash {
			log.Debugf("Transaction %v took over the claim of %v on %v",
				txHash, prev.hash, txIn.PreviousOutPoint)
		}
	}
	mp.markUpdated()

	// Record this tx for fee estimation.
	mp.feeEstimator.ObserveTransaction(txD)

	return txD
}

// AddUnchecked adds the passed transaction to the pool and indexes every
// outpoint it spends.  The caller is responsible for having validated the
// transaction, including that no other pooled transaction spends the same
// outputs.  When another pooled transaction already claims an outpoint, the
// claim is silently overwritten and that transaction stays in the pool
// without its claim.  Use AddTransaction to evict conflicts first.
//
// A negative height is replaced by the current best height.
//
// This function is safe for concurrent access.
func (mp *TxPool) AddUnchecked(tx *btcutil.Tx, height int32, fee int64) *TxDesc {
	// Protect concurrent access.
	mp.mtx.Lock()
	txD := mp.addUnchecked(tx, height, fee)
	mp.sanityCheck()
	mp.mtx.Unlock()

	return txD
}

// AddTransaction removes every pooled transaction conflicting with the passed
// one, along with their redeemers, and then adds it to the pool, all without
// releasing the pool lock in between.  It returns the new descriptor and the
// hashes of the evicted transactions.
//
// This function is safe for concurrent access.
func (mp *TxPool) AddTransaction(tx *btcutil.Tx, height int32, fee int64) (*TxDesc, []*chainhash.Hash) {
	// Protect concurrent access.
	mp.mtx.Lock()
	removed := mp.removeConflicts(tx)
	txD := mp.addUnchecked(tx, height, fee)
	mp.sanityCheck()
	mp.mtx.Unlock()

	if len(removed) > 0 {
		log.Debugf("Evicted %d conflicting %s while adding %v",
			len(removed), pickNoun(len(removed), "transaction",
				"transactions"), tx.Hash())
	}

	return txD, removed
}

// Clear removes every transaction from the pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) Clear() {
	mp.mtx.Lock()
	mp.pool = make(map[chainhash.Hash]*TxDesc)
	mp.outpoints = make(outpointIndex)
	mp.markUpdated()
	mp.mtx.Unlock()
}

// FetchTransaction returns the requested transaction from the transaction
// pool.  ErrTxNotInPool is returned when the pool does not hold it.
//
// This function is safe for concurrent access.
func (mp *TxPool) FetchTransaction(txHash *chainhash.Hash) (*btcutil.Tx, error) {
	// Protect concurrent access.
	mp.mtx.RLock()
	txDesc, exists := mp.pool[*txHash]
	mp.mtx.RUnlock()

	if exists {
		return txDesc.Tx, nil
	}

	return nil, fmt.Errorf("%w: %v", ErrTxNotInPool, txHash)
}

// SpendingTx returns the hash of the pooled transaction spending the passed
// outpoint and the index of the input that spends it.
//
// This function is safe for concurrent access.
func (mp *TxPool) SpendingTx(op wire.OutPoint) (chainhash.Hash, uint32, bool) {
	mp.mtx.RLock()
	in, exists := mp.outpoints.lookup(op)
	mp.mtx.RUnlock()

	return in.hash, in.index, exists
}

// CheckSpend checks whether the passed outpoint is already spent by a
// transaction in the mempool. If that's the case the spending transaction will
// be returned, if not nil will be returned.
//
// This function is safe for concurrent access.
func (mp *TxPool) CheckSpend(op wire.OutPoint) *btcutil.Tx {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()

	in, exists := mp.outpoints.lookup(op)
	if !exists {
		return nil
	}
	if txDesc, exists := mp.pool[in.hash]; exists {
		return txDesc.Tx
	}
	return nil
}

// Count returns the number of transactions in the main pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) Count() int {
	mp.mtx.RLock()
	count := len(mp.pool)
	mp.mtx.RUnlock()

	return count
}

// TxHashes returns a slice of hashes for all of the transactions in the memory
// pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) TxHashes() []*chainhash.Hash {
	mp.mtx.RLock()
	hashes := make([]*chainhash.Hash, len(mp.pool))
	i := 0
	for hash := range mp.pool {
		hashCopy := hash
		hashes[i] = &hashCopy
		i++
	}
	mp.mtx.RUnlock()

	return hashes
}

// TxDescs returns a slice of descriptors for all the transactions in the pool.
// The descriptors are to be treated as read only.
//
// This function is safe for concurrent access.
func (mp *TxPool) TxDescs() []*TxDesc {
	mp.mtx.RLock()
	descs := make([]*TxDesc, len(mp.pool))
	i := 0
	for _, desc := range mp.pool {
		descs[i] = desc
		i++
	}
	mp.mtx.RUnlock()

	return descs
}

// ForEachTransaction calls fn for every pooled transaction until fn returns
// false.  The pool is read locked for the whole walk, so fn sees a consistent
// pool and must not call back into methods that modify it.
//
// This function is safe for concurrent access.
func (mp *TxPool) ForEachTransaction(fn func(tx *btcutil.Tx) bool) {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()

	for _, desc := range mp.pool {
		if !fn(desc.Tx) {
			return
		}
	}
}

// MiningDescs returns a slice of mining descriptors for all the transactions
// in the pool.
//
// This is part of the mining.TxSource interface implementation and is safe for
// concurrent access as required by the interface contract.
func (mp *TxPool) MiningDescs() []*mining.TxDesc {
	mp.mtx.RLock()
	descs := make([]*mining.TxDesc, len(mp.pool))
	i := 0
	for _, desc := range mp.pool {
		descs[i] = &desc.TxDesc
		i++
	}
	mp.mtx.RUnlock()

	return descs
}

// TransactionsUpdated returns the number of additions, removals and clears the
// pool has seen.  A cascade counts every removed transaction.
//
// This is part of the mining.TxSource interface implementation and is safe for
// concurrent access as required by the interface contract.
func (mp *TxPool) TransactionsUpdated() uint64 {
	mp.mtx.RLock()
	n := mp.txnsUpdated
	mp.mtx.RUnlock()

	return n
}

// AddTransactionsUpdated advances the update counter by n.  It lets callers
// signal changes which happened outside the pool, such as a new chain tip.
//
// This function is safe for concurrent access.
func (mp *TxPool) AddTransactionsUpdated(n uint64) {
	mp.mtx.Lock()
	mp.txnsUpdated += n
	mp.mtx.Unlock()
}

// LastUpdated returns the last time a transaction was added to or removed from
// the main pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) LastUpdated() time.Time {
	return time.Unix(atomic.LoadInt64(&mp.lastUpdated), 0)
}

// FeeEstimator returns the fee estimator currently owned by the pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) FeeEstimator() *FeeEstimator {
	mp.mtx.RLock()
	ef := mp.feeEstimator
	mp.mtx.RUnlock()

	return ef
}

// ConnectBlock updates the pool for a block which was connected to the main
// chain.  Transactions mined by the block leave the pool while transactions
// redeeming their outputs stay, and every pooled transaction double spending
// one of the block's transactions is evicted along with its redeemers.  The
// block height must be set.  An estimator that rejects the block, such as one
// restored at a different height, is replaced by an empty one.
//
// This function is safe for concurrent access.
func (mp *TxPool) ConnectBlock(block *btcutil.Block) error {
	mp.mtx.Lock()
	defer mp.mtx.Unlock()

	var mined, conflicts int
	for _, tx := range block.Transactions() {
		mined += len(mp.removeTransaction(tx, false))
		conflicts += len(mp.removeConflicts(tx))
	}
	mp.sanityCheck()

	log.Debugf("Block %v (height %d) removed %d mined and %d conflicting "+
		"%s", block.Hash(), block.Height(), mined, conflicts,
		pickNoun(conflicts, "transaction", "transactions"))

	if err := mp.feeEstimator.RegisterBlock(block); err != nil {
		// The estimator has entered an invalid state.  Since it doesn't
		// know how to recover, start over from this block.
		log.Warnf("Unable to register block %v with the fee estimator: "+
			"%v; starting a new one", block.Hash(), err)
		mp.resetFeeEstimator()
		if err := mp.feeEstimator.RegisterBlock(block); err != nil {
			return fmt.Errorf("unable to register block %v with the "+
				"fee estimator: %w", block.Hash(), err)
		}
	}
	return nil
}

// DisconnectBlock updates the pool for a block which was disconnected from the
// main chain.  Only the fee estimator is affected; returning the block's
// transactions to the pool requires validating them again and is up to the
// caller.  An estimator that cannot roll the block back is replaced by an
// empty one.
//
// This function is safe for concurrent access.
func (mp *TxPool) DisconnectBlock(block *btcutil.Block) error {
	mp.mtx.Lock()
	defer mp.mtx.Unlock()

	if err := mp.feeEstimator.Rollback(block); err != nil {
		log.Warnf("Unable to roll back block %v in the fee estimator: "+
			"%v; starting a new one", block.Hash(), err)
		mp.resetFeeEstimator()
	}
	return nil
}

// resetFeeEstimator replaces the estimator with an empty one.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) resetFeeEstimator() {
	mp.feeEstimator = NewFeeEstimator(DefaultEstimateFeeMaxRollback,
		DefaultEstimateFeeMinRegisteredBlocks)
}

// checkIndexes is the internal function which implements the public
// CheckIndexes.
//
// This function MUST be called with the mempool lock held (for reads).
func (mp *TxPool) checkIndexes() error {
	var numInputs int
	for hash, txDesc := range mp.pool {
		for i, txIn := range txDesc.Tx.MsgTx().TxIn {
			in, exists := mp.outpoints.lookup(txIn.PreviousOutPoint)
			if !exists {
				return fmt.Errorf("input %d of %v spends %v which "+
					"is not indexed", i, hash,
					txIn.PreviousOutPoint)
			}
			if in.hash != hash || in.index != uint32(i) {
				return fmt.Errorf("input %d of %v spends %v which "+
					"is claimed by input %d of %v", i, hash,
					txIn.PreviousOutPoint, in.index, in.hash)
			}
			numInputs++
		}
	}

	for op, in := range mp.outpoints {
		txDesc, exists := mp.pool[in.hash]
		if !exists {
			return fmt.Errorf("outpoint %v is claimed by %v which "+
				"is not in the pool", op, in.hash)
		}
		txIns := txDesc.Tx.MsgTx().TxIn
		if in.index >= uint32(len(txIns)) ||
			txIns[in.index].PreviousOutPoint != op {

			return fmt.Errorf("outpoint %v is claimed by input %d "+
				"of %v which does not spend it", op, in.index,
				in.hash)
		}
	}

	if numInputs != len(mp.outpoints) {
		return fmt.Errorf("pool spends %d outpoints but %d are indexed",
			numInputs, len(mp.outpoints))
	}

	return nil
}

// CheckIndexes verifies that the primary index and the outpoint index agree:
// every input of every pooled transaction is indexed under its own claim and
// every indexed claim names an input of a pooled transaction which spends the
// outpoint.
//
// This function is safe for concurrent access.
func (mp *TxPool) CheckIndexes() error {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()

	return mp.checkIndexes()
}

// New returns a new memory pool for storing validated transactions until they
// are mined into a block.
func New(cfg *Config) *TxPool {
	feeEstimator := cfg.FeeEstimator
	if feeEstimator == nil {
		feeEstimator = NewFeeEstimator(DefaultEstimateFeeMaxRollback,
			DefaultEstimateFeeMinRegisteredBlocks)
	}

	return &TxPool{
		cfg:          *cfg,
		pool:         make(map[chainhash.Hash]*TxDesc),
		outpoints:    make(outpointIndex),
		feeEstimator: feeEstimator,
	}
}
