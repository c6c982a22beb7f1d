// Copyright (c) 2016 The btcsuite developers
// Copyright (c) 2016-2026 The Silk Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/silknetwork/silkd/mining"
)

const (
	// estimateFeeDepth is the maximum number of blocks before a transaction
	// is confirmed that we want to track.
	estimateFeeDepth = 25

	// estimateFeeBinSize is the number of txs stored in each bin.
	estimateFeeBinSize = 100

	// estimateFeeMaxReplacements is the max number of replacements that
	// can be made by the txs found in a given block.
	estimateFeeMaxReplacements = 10

	// DefaultEstimateFeeMaxRollback is the default number of rollbacks
	// allowed by the fee estimator for orphaned blocks.
	DefaultEstimateFeeMaxRollback = 2

	// DefaultEstimateFeeMinRegisteredBlocks is the default minimum
	// number of blocks which must be observed by the fee estimator before
	// it will provide fee estimations.
	DefaultEstimateFeeMinRegisteredBlocks = 3

	// estimateFeeSaveVersion is the version of the serialized estimator
	// state produced by Save.
	estimateFeeSaveVersion = 1

	// maxSavedBinSize bounds the bin size accepted when restoring so that
	// corrupt data cannot ask for absurd allocations.
	maxSavedBinSize = 10000
)

var (
	// errEstimatorStateTruncated is returned when saved estimator state
	// ends before all of its sections were read.
	errEstimatorStateTruncated = errors.New("fee estimator state is truncated")
)

// SatoshiPerByte is number with units of satoshis per byte.
type SatoshiPerByte float64

// ToSatoshiPerKb returns a float value that represents the given
// SatoshiPerByte converted to satoshis per kb.
func (rate SatoshiPerByte) ToSatoshiPerKb() float64 {
	// If our rate is the error value, return that.
	if rate == SatoshiPerByte(-1.0) {
		return -1.0
	}

	return float64(rate) * 1000
}

// Fee returns the fee for a transaction of a given size for
// the given fee rate.
func (rate SatoshiPerByte) Fee(size uint32) btcutil.Amount {
	// If our rate is the error value, return that.
	if rate == SatoshiPerByte(-1) {
		return btcutil.Amount(-1)
	}

	return btcutil.Amount(float64(rate) * float64(size))
}

// NewSatoshiPerByte creates a SatoshiPerByte from an Amount and a
// size in bytes.
func NewSatoshiPerByte(fee btcutil.Amount, size uint32) SatoshiPerByte {
	return SatoshiPerByte(float64(fee) / float64(size))
}

// observedTransaction represents an observed transaction and some
// additional data required for the fee estimation algorithm.
type observedTransaction struct {
	// A transaction hash.
	hash chainhash.Hash

	// The fee per byte of the transaction in satoshis.
	feeRate SatoshiPerByte

	// The block height when it was observed.
	observed int32

	// The height of the block in which it was mined.  It is
	// mining.UnminedHeight until the transaction lands in a bin.
	mined int32
}

// serializedObservedSize is the encoded size of one observedTransaction.
const serializedObservedSize = chainhash.HashSize + 8 + 4 + 4

func (o *observedTransaction) serialize(w *bytes.Buffer) {
	w.Write(o.hash[:])
	binary.Write(w, binary.BigEndian, math.Float64bits(float64(o.feeRate)))
	binary.Write(w, binary.BigEndian, o.observed)
	binary.Write(w, binary.BigEndian, o.mined)
}

func deserializeObservedTransaction(r io.Reader) (*observedTransaction, error) {
	o := &observedTransaction{}
	if _, err := io.ReadFull(r, o.hash[:]); err != nil {
		return nil, err
	}
	var feeRate uint64
	if err := binary.Read(r, binary.BigEndian, &feeRate); err != nil {
		return nil, err
	}
	o.feeRate = SatoshiPerByte(math.Float64frombits(feeRate))
	if err := binary.Read(r, binary.BigEndian, &o.observed); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.BigEndian, &o.mined); err != nil {
		return nil, err
	}
	return o, nil
}

// registeredBlock has the hash of a block and the list of transactions
// it mined which had been previously observed by the FeeEstimator. It
// is used if Rollback is called to reverse the effect of registering
// a block.
type registeredBlock struct {
	hash         chainhash.Hash
	transactions []*observedTransaction
}

// FeeEstimator manages the data necessary to create
// fee estimations. It is safe for concurrent access.
type FeeEstimator struct {
	maxRollback uint32
	binSize     int

	// The maximum number of replacements that can be made in a single
	// bin per block. Default is estimateFeeMaxReplacements
	maxReplacements int

	// The minimum number of blocks that can be registered with the fee
	// estimator before it will provide answers.
	minRegisteredBlocks uint32

	// The last known height.
	lastKnownHeight int32

	// The number of blocks that have been registered.
	numBlocksRegistered uint32

	mtx      sync.RWMutex
	observed map[chainhash.Hash]*observedTransaction
	bin      [estimateFeeDepth][]*observedTransaction

	// The cached estimates.
	cached []SatoshiPerByte

	// Transactions that have been removed from the bins. This allows us to
	// revert in case of an orphaned block.
	dropped []*registeredBlock
}

// NewFeeEstimator creates a FeeEstimator for which at most maxRollback blocks
// can be unregistered and which returns an error unless minRegisteredBlocks
// have been registered with it.
func NewFeeEstimator(maxRollback, minRegisteredBlocks uint32) *FeeEstimator {
	return &FeeEstimator{
		maxRollback:         maxRollback,
		minRegisteredBlocks: minRegisteredBlocks,
		lastKnownHeight:     mining.UnminedHeight,
		binSize:             estimateFeeBinSize,
		maxReplacements:     estimateFeeMaxReplacements,
		observed:            make(map[chainhash.Hash]*observedTransaction),
		dropped:             make([]*registeredBlock, 0, maxRollback),
	}
}

// ObserveTransaction is called when a new transaction is observed in the mempool.
func (ef *FeeEstimator) ObserveTransaction(t *TxDesc) {
	ef.mtx.Lock()
	defer ef.mtx.Unlock()

	hash := *t.Tx.Hash()
	if _, ok := ef.observed[hash]; !ok {
		size := uint32(t.Tx.MsgTx().SerializeSize())

		ef.observed[hash] = &observedTransaction{
			hash:     hash,
			feeRate:  NewSatoshiPerByte(btcutil.Amount(t.Fee), size),
			observed: t.Height,
			mined:    mining.UnminedHeight,
		}
	}
}

// RegisterBlock informs the fee estimator of a new block to take into account.
func (ef *FeeEstimator) RegisterBlock(block *btcutil.Block) error {
	ef.mtx.Lock()
	defer ef.mtx.Unlock()

	// The previous sorted list is invalid, so delete it.
	ef.cached = nil

	height := block.Height()
	if height != ef.lastKnownHeight+1 && ef.lastKnownHeight != mining.UnminedHeight {
		return fmt.Errorf("intermediate block not recorded; current height is %d; new height is %d",
			ef.lastKnownHeight, height)
	}

	// Update the last known height.
	ef.lastKnownHeight = height
	ef.numBlocksRegistered++

	// Randomly order txs in block.
	transactions := make(map[*btcutil.Tx]struct{})
	for _, t := range block.Transactions() {
		transactions[t] = struct{}{}
	}

	// Count the number of replacements we make per bin so that we don't
	// replace too many.
	var replacementCounts [estimateFeeDepth]int

	// Keep track of which txs were dropped in case of an orphan block.
	dropped := &registeredBlock{
		hash:         *block.Hash(),
		transactions: make([]*observedTransaction, 0, 100),
	}

	// Go through the txs in the block.
	for t := range transactions {
		hash := *t.Hash()

		// Have we observed this tx in the mempool?
		o, ok := ef.observed[hash]
		if !ok || o.mined != mining.UnminedHeight {
			continue
		}

		blocksToConfirm := height - o.observed - 1

		// This shouldn't happen but check just in case to avoid
		// a panic later.
		if blocksToConfirm < 0 || blocksToConfirm >= estimateFeeDepth {
			continue
		}

		// Make sure we do not replace too many transactions per min.
		if replacementCounts[blocksToConfirm] == ef.maxReplacements {
			continue
		}

		// Put the observed tx in the appropriate bin.
		o.mined = height
		replacementCounts[blocksToConfirm]++

		bin := ef.bin[blocksToConfirm]

		// Remove a random element and replace it with this new tx.
		if len(bin) == ef.binSize {
			l := ef.binSize - replacementCounts[blocksToConfirm]
			drop := rand.Intn(l)
			dropped.transactions = append(dropped.transactions, bin[drop])

			bin[drop] = bin[l-1]
			bin[l-1] = o
		} else {
			ef.bin[blocksToConfirm] = append(bin, o)
		}
	}

	// Go through the mempool for txs that have been in too long.
	for hash, o := range ef.observed {
		if height-o.observed >= estimateFeeDepth {
			delete(ef.observed, hash)
		}
	}

	// Add dropped list to history.
	if ef.maxRollback == 0 {
		return nil
	}

	if uint32(len(ef.dropped)) == ef.maxRollback {
		ef.dropped = append(ef.dropped[1:], dropped)
	} else {
		ef.dropped = append(ef.dropped, dropped)
	}

	return nil
}

// LastKnownHeight returns the height of the last block which was registered.
func (ef *FeeEstimator) LastKnownHeight() int32 {
	ef.mtx.RLock()
	defer ef.mtx.RUnlock()

	return ef.lastKnownHeight
}

// Rollback unregisters a recently registered block from the FeeEstimator.
// This can be used to reverse the effect of an orphaned block on the fee
// estimator. The maximum number of rollbacks allowed is given by
// maxRollbacks.
//
// Note: not everything can be rolled back because some transactions are
// deleted if they have been observed too long ago. That means the result
// of Rollback won't always be exactly the same as if the last block had not
// happened, but it should be close enough.
func (ef *FeeEstimator) Rollback(block *btcutil.Block) error {
	ef.mtx.Lock()
	defer ef.mtx.Unlock()

	hash := block.Hash()

	// Find this block in the stack of recent registered blocks.
	var n int
	for n = 1; n <= len(ef.dropped); n++ {
		if ef.dropped[len(ef.dropped)-n].hash.IsEqual(hash) {
			break
		}
	}

	if n > len(ef.dropped) {
		return errors.New("no such block was recently registered")
	}

	for i := 0; i < n; i++ {
		if err := ef.rollback(); err != nil {
			return err
		}
	}

	return nil
}

// rollback rolls back the effect of the last block in the stack
// of registered blocks.
func (ef *FeeEstimator) rollback() error {
	// The previous sorted list is invalid, so delete it.
	ef.cached = nil

	// pop the last list of dropped txs from the stack.
	last := len(ef.dropped) - 1
	if last == -1 {
		// Return if we cannot rollback.
		return errors.New("max rollbacks reached")
	}

	ef.numBlocksRegistered--

	dropped := ef.dropped[last]
	ef.dropped = ef.dropped[0:last]

	// where we are in each bin as we replace txs?
	var replacementCounters [estimateFeeDepth]int

	var err error

	// Go through the txs in the dropped block.
	for _, o := range dropped.transactions {
		// Which bin was this tx in?
		blocksToConfirm := o.mined - o.observed - 1

		bin := ef.bin[blocksToConfirm]

		var counter = replacementCounters[blocksToConfirm]

		// Continue to go through that bin where we left off.
		for {
			if counter >= len(bin) {
				// Record the error but keep going in case we can roll
				// back more transactions successfully.
				err = errors.New("illegal state: cannot rollback dropped transaction")
				break
			}

			prev := bin[counter]

			if prev.mined == ef.lastKnownHeight {
				prev.mined = mining.UnminedHeight

				bin[counter] = o

				counter++
				break
			}

			counter++
		}

		replacementCounters[blocksToConfirm] = counter
	}

	// Continue going through bins to find other txs to remove
	// which did not replace any other when they were entered.
	for i, j := range replacementCounters {
		for {
			l := len(ef.bin[i])
			if j >= l {
				break
			}

			prev := ef.bin[i][j]

			if prev.mined == ef.lastKnownHeight {
				prev.mined = mining.UnminedHeight

				newBin := append(ef.bin[i][0:j], ef.bin[i][j+1:l]...)
				ef.bin[i][l-1] = nil
				ef.bin[i] = newBin

				continue
			}

			j++
		}
	}

	ef.lastKnownHeight--

	return err
}

// estimateFeeSet is a set of txs that can that is sorted
// by the fee per kb rate.
type estimateFeeSet struct {
	feeRate []SatoshiPerByte
	bin     [estimateFeeDepth]uint32
}

func (b *estimateFeeSet) Len() int { return len(b.feeRate) }

func (b *estimateFeeSet) Less(i, j int) bool {
	return b.feeRate[i] > b.feeRate[j]
}

func (b *estimateFeeSet) Swap(i, j int) {
	b.feeRate[i], b.feeRate[j] = b.feeRate[j], b.feeRate[i]
}

// estimateFee returns the estimated fee for a transaction
// to confirm in confirmations blocks from now, given
// the data set we have collected.
func (b *estimateFeeSet) estimateFee(confirmations int) SatoshiPerByte {
	if confirmations <= 0 {
		return SatoshiPerByte(math.Inf(1))
	}

	if confirmations > estimateFeeDepth {
		return 0
	}

	var min, max uint32 = 0, 0
	for i := 0; i < confirmations-1; i++ {
		min += b.bin[i]
	}

	max = min + b.bin[confirmations-1]

	// We don't have any transactions!
	if min == 0 && max == 0 {
		return 0
	}

	return b.feeRate[(min+max-1)/2]
}

// newEstimateFeeSet creates a temporary data structure that
// can be used to find all fee estimates.
func (ef *FeeEstimator) newEstimateFeeSet() *estimateFeeSet {
	set := &estimateFeeSet{}

	capacity := 0
	for i, b := range ef.bin {
		l := len(b)
		set.bin[i] = uint32(l)
		capacity += l
	}

	set.feeRate = make([]SatoshiPerByte, capacity)

	i := 0
	for _, b := range ef.bin {
		for _, o := range b {
			set.feeRate[i] = o.feeRate
			i++
		}
	}

	sort.Sort(set)

	return set
}

// estimates returns the set of all fee estimates from 1 to estimateFeeDepth
// confirmations from now.
func (ef *FeeEstimator) estimates() []SatoshiPerByte {
	set := ef.newEstimateFeeSet()

	estimates := make([]SatoshiPerByte, estimateFeeDepth)
	for i := 0; i < estimateFeeDepth; i++ {
		estimates[i] = set.estimateFee(i + 1)
	}

	return estimates
}

// EstimateFee estimates the fee per byte to have a tx confirmed a given
// number of blocks from now.
func (ef *FeeEstimator) EstimateFee(numBlocks uint32) (SatoshiPerByte, error) {
	ef.mtx.Lock()
	defer ef.mtx.Unlock()

	// If the number of registered blocks is below the minimum, return
	// an error.
	if ef.numBlocksRegistered < ef.minRegisteredBlocks {
		return -1, errors.New("not enough blocks have been observed")
	}

	if numBlocks == 0 {
		return -1, errors.New("cannot confirm transaction in zero blocks")
	}

	if numBlocks > estimateFeeDepth {
		return -1, fmt.Errorf(
			"can only estimate fees for up to %d blocks from now",
			estimateFeeDepth)
	}

	// If there are no cached results, generate them.
	if ef.cached == nil {
		ef.cached = ef.estimates()
	}

	return ef.cached[int(numBlocks)-1], nil
}

// FeeEstimatorState represents a saved FeeEstimator that can be
// restored with data from an earlier session of the program.
type FeeEstimatorState []byte

// observedTxSet is a set of txs that can that is sorted
// by hash. It exists for serialization purposes so that
// a serialized state always comes out the same.
type observedTxSet []*observedTransaction

func (q observedTxSet) Len() int { return len(q) }

func (q observedTxSet) Less(i, j int) bool {
	c := bytes.Compare(q[i].hash[:], q[j].hash[:])
	if c != 0 {
		return c < 0
	}
	if q[i].observed != q[j].observed {
		return q[i].observed < q[j].observed
	}
	return q[i].mined < q[j].mined
}

func (q observedTxSet) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
}

// Save records the current state of the FeeEstimator to a []byte that
// can be restored later.
//
// The observed transactions are written once as a table sorted by hash.  The
// observed set, the bins and the rollback records refer to table entries by
// position, which preserves entries shared between them.
func (ef *FeeEstimator) Save() FeeEstimatorState {
	ef.mtx.Lock()
	defer ef.mtx.Unlock()

	w := bytes.NewBuffer(make([]byte, 0))

	binary.Write(w, binary.BigEndian, uint32(estimateFeeSaveVersion))

	// Insert basic parameters.
	binary.Write(w, binary.BigEndian, &ef.maxRollback)
	binary.Write(w, binary.BigEndian, uint32(ef.binSize))
	binary.Write(w, binary.BigEndian, uint32(ef.maxReplacements))
	binary.Write(w, binary.BigEndian, &ef.minRegisteredBlocks)
	binary.Write(w, binary.BigEndian, &ef.lastKnownHeight)
	binary.Write(w, binary.BigEndian, &ef.numBlocksRegistered)

	// Gather every distinct observed transaction.
	seen := make(map[*observedTransaction]struct{})
	table := make(observedTxSet, 0, len(ef.observed))
	collect := func(o *observedTransaction) {
		if _, ok := seen[o]; ok {
			return
		}
		seen[o] = struct{}{}
		table = append(table, o)
	}
	for _, o := range ef.observed {
		collect(o)
	}
	for _, b := range ef.bin {
		for _, o := range b {
			collect(o)
		}
	}
	for _, d := range ef.dropped {
		for _, o := range d.transactions {
			collect(o)
		}
	}
	sort.Sort(table)

	index := make(map[*observedTransaction]uint32, len(table))
	binary.Write(w, binary.BigEndian, uint32(len(table)))
	for i, o := range table {
		index[o] = uint32(i)
		o.serialize(w)
	}

	// Save the observed set in table order.
	var observed []uint32
	for i, o := range table {
		if ef.observed[o.hash] == o {
			observed = append(observed, uint32(i))
		}
	}
	binary.Write(w, binary.BigEndian, uint32(len(observed)))
	for _, i := range observed {
		binary.Write(w, binary.BigEndian, i)
	}

	// Save all the bins.
	for _, b := range ef.bin {
		binary.Write(w, binary.BigEndian, uint32(len(b)))
		for _, o := range b {
			binary.Write(w, binary.BigEndian, index[o])
		}
	}

	// Save the rollback history.
	binary.Write(w, binary.BigEndian, uint32(len(ef.dropped)))
	for _, d := range ef.dropped {
		w.Write(d.hash[:])
		binary.Write(w, binary.BigEndian, uint32(len(d.transactions)))
		for _, o := range d.transactions {
			binary.Write(w, binary.BigEndian, index[o])
		}
	}

	return FeeEstimatorState(w.Bytes())
}

// readCount reads a length prefix and rejects it when it exceeds max.
func readCount(r io.Reader, max uint32, what string) (uint32, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return 0, errEstimatorStateTruncated
	}
	if n > max {
		return 0, fmt.Errorf("invalid fee estimator state: %d %s "+
			"exceeds limit of %d", n, what, max)
	}
	return n, nil
}

// RestoreFeeEstimator takes a FeeEstimatorState that was previously
// returned by Save and restores it to a FeeEstimator.
func RestoreFeeEstimator(data FeeEstimatorState) (*FeeEstimator, error) {
	r := bytes.NewReader(data)

	// Check version
	var version uint32
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return nil, errEstimatorStateTruncated
	}
	if version != estimateFeeSaveVersion {
		return nil, fmt.Errorf("incorrect version: expected %d found %d",
			estimateFeeSaveVersion, version)
	}

	ef := &FeeEstimator{
		observed: make(map[chainhash.Hash]*observedTransaction),
	}

	// Read basic parameters.
	var binSize, maxReplacements uint32
	fields := []interface{}{
		&ef.maxRollback, &binSize, &maxReplacements,
		&ef.minRegisteredBlocks, &ef.lastKnownHeight,
		&ef.numBlocksRegistered,
	}
	for _, field := range fields {
		if err := binary.Read(r, binary.BigEndian, field); err != nil {
			return nil, errEstimatorStateTruncated
		}
	}
	if binSize == 0 || binSize > maxSavedBinSize {
		return nil, fmt.Errorf("invalid fee estimator state: bin size %d",
			binSize)
	}
	if maxReplacements == 0 || maxReplacements >= binSize {
		return nil, fmt.Errorf("invalid fee estimator state: %d "+
			"replacements for bin size %d", maxReplacements, binSize)
	}
	if ef.maxRollback > maxSavedBinSize {
		return nil, fmt.Errorf("invalid fee estimator state: max "+
			"rollback %d", ef.maxRollback)
	}
	ef.binSize = int(binSize)
	ef.maxReplacements = int(maxReplacements)

	// Read the observed transaction table.  Each entry occupies a fixed
	// number of bytes, which bounds the count by what is left.
	maxEntries := uint32(r.Len() / serializedObservedSize)
	count, err := readCount(r, maxEntries, "observed transactions")
	if err != nil {
		return nil, err
	}
	table := make([]*observedTransaction, count)
	for i := range table {
		table[i], err = deserializeObservedTransaction(r)
		if err != nil {
			return nil, errEstimatorStateTruncated
		}
	}
	entry := func() (*observedTransaction, error) {
		var i uint32
		if err := binary.Read(r, binary.BigEndian, &i); err != nil {
			return nil, errEstimatorStateTruncated
		}
		if i >= count {
			return nil, fmt.Errorf("invalid fee estimator state: "+
				"reference %d outside table of %d", i, count)
		}
		return table[i], nil
	}

	// binned returns the entry at the current position after checking
	// that it was mined within the tracked confirmation window, which is
	// what RegisterBlock and rollback index the bins with.
	binned := func() (*observedTransaction, error) {
		o, err := entry()
		if err != nil {
			return nil, err
		}
		blocksToConfirm := int64(o.mined) - int64(o.observed) - 1
		if blocksToConfirm < 0 || blocksToConfirm >= estimateFeeDepth {
			return nil, fmt.Errorf("invalid fee estimator state: "+
				"transaction %v observed at %d and mined at %d",
				o.hash, o.observed, o.mined)
		}
		return o, nil
	}

	// Read the observed set.
	n, err := readCount(r, count, "observed set entries")
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < n; i++ {
		o, err := entry()
		if err != nil {
			return nil, err
		}
		ef.observed[o.hash] = o
	}

	// Read the bins.
	for i := range ef.bin {
		n, err := readCount(r, binSize, "binned transactions")
		if err != nil {
			return nil, err
		}
		ef.bin[i] = make([]*observedTransaction, 0, n)
		for j := uint32(0); j < n; j++ {
			o, err := binned()
			if err != nil {
				return nil, err
			}
			if int(o.mined-o.observed-1) != i {
				return nil, fmt.Errorf("invalid fee estimator "+
					"state: transaction %v confirmed in %d "+
					"blocks stored in bin %d", o.hash,
					o.mined-o.observed, i)
			}
			ef.bin[i] = append(ef.bin[i], o)
		}
	}

	// Read the rollback history.
	n, err = readCount(r, ef.maxRollback, "registered blocks")
	if err != nil {
		return nil, err
	}
	ef.dropped = make([]*registeredBlock, 0, ef.maxRollback)
	for i := uint32(0); i < n; i++ {
		d := &registeredBlock{}
		if _, err := io.ReadFull(r, d.hash[:]); err != nil {
			return nil, errEstimatorStateTruncated
		}
		m, err := readCount(r, count, "dropped transactions")
		if err != nil {
			return nil, err
		}
		d.transactions = make([]*observedTransaction, 0, m)
		for j := uint32(0); j < m; j++ {
			o, err := binned()
			if err != nil {
				return nil, err
			}
			d.transactions = append(d.transactions, o)
		}
		ef.dropped = append(ef.dropped, d)
	}

	if r.Len() != 0 {
		return nil, fmt.Errorf("invalid fee estimator state: %d "+
			"trailing bytes", r.Len())
	}

	return ef, nil
}
