// Copyright (c) 2016 The btcsuite developers
// Copyright (c) 2016-2026 The Silk Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"encoding/hex"
	"errors"
	"math/rand"
	"runtime"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/davecgh/go-spew/spew"
	"github.com/silknetwork/silkd/mining"
)

// fakeChain is used by the pool harness to provide a current faked chain
// height to the pool callbacks.
type fakeChain struct {
	sync.RWMutex
	currentHeight int32
}

// BestHeight returns the current height associated with the fake chain
// instance.
func (s *fakeChain) BestHeight() int32 {
	s.RLock()
	height := s.currentHeight
	s.RUnlock()
	return height
}

// SetHeight sets the current height associated with the fake chain instance.
func (s *fakeChain) SetHeight(height int32) {
	s.Lock()
	s.currentHeight = height
	s.Unlock()
}

// spendableOutput is a convenience type that houses a particular utxo and the
// amount associated with it.
type spendableOutput struct {
	outPoint wire.OutPoint
	amount   btcutil.Amount
}

// txOutToSpendableOut returns a spendable output given a transaction and index
// of the output to use.  This is useful as a convenience when creating test
// transactions.
func txOutToSpendableOut(tx *btcutil.Tx, outputNum uint32) spendableOutput {
	return spendableOutput{
		outPoint: wire.OutPoint{Hash: *tx.Hash(), Index: outputNum},
		amount:   btcutil.Amount(tx.MsgTx().TxOut[outputNum].Value),
	}
}

// poolHarness provides a harness that includes functionality for creating and
// signing transactions as well as a fake chain that provides the best height
// to the pool.
type poolHarness struct {
	// signKey is the signing key used for creating transactions throughout
	// the tests.
	//
	// payAddr is the p2pkh address for the signing key and is used for the
	// payment address throughout the tests.
	signKey     *btcec.PrivateKey
	payAddr     btcutil.Address
	payScript   []byte
	chainParams *chaincfg.Params

	chain  *fakeChain
	txPool *TxPool
}

// CreateCoinbaseTx returns a coinbase transaction with the requested number of
// outputs paying an appropriate subsidy based on the passed block height to the
// address associated with the harness.  It automatically uses a standard
// signature script that starts with the block height that is required by
// version 2 blocks.
func (p *poolHarness) CreateCoinbaseTx(blockHeight int32, numOutputs uint32) (*btcutil.Tx, error) {
	// Create standard coinbase script.
	extraNonce := int64(0)
	coinbaseScript, err := txscript.NewScriptBuilder().
		AddInt64(int64(blockHeight)).AddInt64(extraNonce).Script()
	if err != nil {
		return nil, err
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(&wire.TxIn{
		// Coinbase transactions have no inputs, so previous outpoint is
		// zero hash and max index.
		PreviousOutPoint: *wire.NewOutPoint(&chainhash.Hash{},
			wire.MaxPrevOutIndex),
		SignatureScript: coinbaseScript,
		Sequence:        wire.MaxTxInSequenceNum,
	})
	totalInput := blockchain.CalcBlockSubsidy(blockHeight, p.chainParams)
	amountPerOutput := totalInput / int64(numOutputs)
	remainder := totalInput - amountPerOutput*int64(numOutputs)
	for i := uint32(0); i < numOutputs; i++ {
		// Ensure the final output accounts for any remainder that might
		// be left from splitting the input amount.
		amount := amountPerOutput
		if i == numOutputs-1 {
			amount = amountPerOutput + remainder
		}
		tx.AddTxOut(&wire.TxOut{
			PkScript: p.payScript,
			Value:    amount,
		})
	}

	return btcutil.NewTx(tx), nil
}

// CreateSignedTx creates a new signed transaction that consumes the provided
// inputs and generates the provided number of outputs by evenly splitting the
// total input amount.  All outputs will be to the payment script associated
// with the harness and all inputs are assumed to do the same.
func (p *poolHarness) CreateSignedTx(inputs []spendableOutput, numOutputs uint32) (*btcutil.Tx, error) {
	// Calculate the total input amount and split it amongst the requested
	// number of outputs.
	var totalInput btcutil.Amount
	for _, input := range inputs {
		totalInput += input.amount
	}
	amountPerOutput := int64(totalInput) / int64(numOutputs)
	remainder := int64(totalInput) - amountPerOutput*int64(numOutputs)

	tx := wire.NewMsgTx(wire.TxVersion)
	for _, input := range inputs {
		tx.AddTxIn(&wire.TxIn{
			PreviousOutPoint: input.outPoint,
			SignatureScript:  nil,
			Sequence:         wire.MaxTxInSequenceNum,
		})
	}
	for i := uint32(0); i < numOutputs; i++ {
		// Ensure the final output accounts for any remainder that might
		// be left from splitting the input amount.
		amount := amountPerOutput
		if i == numOutputs-1 {
			amount = amountPerOutput + remainder
		}
		tx.AddTxOut(&wire.TxOut{
			PkScript: p.payScript,
			Value:    amount,
		})
	}

	// Sign the new transaction.
	for i := range tx.TxIn {
		sigScript, err := txscript.SignatureScript(tx, i, p.payScript,
			txscript.SigHashAll, p.signKey, true)
		if err != nil {
			return nil, err
		}
		tx.TxIn[i].SignatureScript = sigScript
	}

	return btcutil.NewTx(tx), nil
}

// CreateTxChain creates a chain of zero-fee transactions (each subsequent
// transaction spends the entire amount from the previous one) with the first
// one spending the provided outpoint.  Each transaction spends the entire
// amount of the previous one and as such does not include any fees.
func (p *poolHarness) CreateTxChain(firstOutput spendableOutput, numTxns uint32) ([]*btcutil.Tx, error) {
	txChain := make([]*btcutil.Tx, 0, numTxns)
	prevOutPoint := firstOutput.outPoint
	spendableAmount := firstOutput.amount
	for i := uint32(0); i < numTxns; i++ {
		// Create the transaction using the previous transaction output
		// and paying the full amount to the payment address associated
		// with the harness.
		tx := wire.NewMsgTx(wire.TxVersion)
		tx.AddTxIn(&wire.TxIn{
			PreviousOutPoint: prevOutPoint,
			SignatureScript:  nil,
			Sequence:         wire.MaxTxInSequenceNum,
		})
		tx.AddTxOut(&wire.TxOut{
			PkScript: p.payScript,
			Value:    int64(spendableAmount),
		})

		// Sign the new transaction.
		sigScript, err := txscript.SignatureScript(tx, 0, p.payScript,
			txscript.SigHashAll, p.signKey, true)
		if err != nil {
			return nil, err
		}
		tx.TxIn[0].SignatureScript = sigScript

		txChain = append(txChain, btcutil.NewTx(tx))

		// Next transaction uses outputs from this one.
		prevOutPoint = wire.OutPoint{Hash: tx.TxHash(), Index: 0}
	}

	return txChain, nil
}

// newPoolHarness returns a new instance of a pool harness initialized with a
// fake chain and a TxPool bound to it with index sanity checks enabled.  Also,
// a coinbase is created whose outputs are returned so the caller can easily
// create new transactions which build off of it.
func newPoolHarness(chainParams *chaincfg.Params, numOutputs uint32) (*poolHarness, []spendableOutput, error) {
	// Use a hard coded key pair for deterministic results.
	keyBytes, err := hex.DecodeString("700868df1838811ffbdf918fb482c1f7e" +
		"ad62db4b97bd7012c23e726485e577d")
	if err != nil {
		return nil, nil, err
	}
	signKey, signPub := btcec.PrivKeyFromBytes(keyBytes)

	// Generate associated pay-to-pubkey-hash address and resulting payment
	// script.
	pubKeyBytes := signPub.SerializeCompressed()
	payPubKeyAddr, err := btcutil.NewAddressPubKey(pubKeyBytes, chainParams)
	if err != nil {
		return nil, nil, err
	}
	payAddr := payPubKeyAddr.AddressPubKeyHash()
	pkScript, err := txscript.PayToAddrScript(payAddr)
	if err != nil {
		return nil, nil, err
	}

	// Create a new fake chain and harness bound to it.
	chain := &fakeChain{}
	harness := poolHarness{
		signKey:     signKey,
		payAddr:     payAddr,
		payScript:   pkScript,
		chainParams: chainParams,

		chain: chain,
		txPool: New(&Config{
			BestHeight:  chain.BestHeight,
			SanityCheck: true,
		}),
	}

	// Create a single coinbase transaction whose outputs the tests spend
	// and move the chain past it.
	curHeight := harness.chain.BestHeight()
	coinbase, err := harness.CreateCoinbaseTx(curHeight+1, numOutputs)
	if err != nil {
		return nil, nil, err
	}
	outputs := make([]spendableOutput, 0, numOutputs)
	for i := uint32(0); i < numOutputs; i++ {
		outputs = append(outputs, txOutToSpendableOut(coinbase, i))
	}
	harness.chain.SetHeight(curHeight + 1)

	return &harness, outputs, nil
}

// newSpend returns an unsigned transaction spending the passed outpoints with
// the requested number of outputs.  The version makes otherwise identical
// transactions distinct.
func newSpend(version int32, prevOuts []wire.OutPoint, numOutputs int) *btcutil.Tx {
	tx := wire.NewMsgTx(version)
	for i := range prevOuts {
		tx.AddTxIn(wire.NewTxIn(&prevOuts[i], nil, nil))
	}
	for i := 0; i < numOutputs; i++ {
		tx.AddTxOut(wire.NewTxOut(1000, []byte{txscript.OP_TRUE}))
	}
	return btcutil.NewTx(tx)
}

// outPoint is a shorthand for the outpoint of output index of tx.
func outPoint(tx *btcutil.Tx, index uint32) wire.OutPoint {
	return wire.OutPoint{Hash: *tx.Hash(), Index: index}
}

// testContext houses a test-related state that is useful to pass to helper
// functions as a single argument.
type testContext struct {
	t       *testing.T
	harness *poolHarness
}

// testPoolMembership tests the transaction pool associated with the provided
// test context to determine if the passed transaction matches the provided
// pool status.
func testPoolMembership(tc *testContext, tx *btcutil.Tx, inTxPool bool) {
	txHash := tx.Hash()
	gotTxPool := tc.harness.txPool.IsTransactionInPool(txHash)
	if inTxPool != gotTxPool {
		_, file, line, _ := runtime.Caller(1)
		tc.t.Fatalf("%s:%d -- IsTransactionInPool: want %v, got %v",
			file, line, inTxPool, gotTxPool)
	}

	gotHaveTx := tc.harness.txPool.HaveTransaction(txHash)
	if inTxPool != gotHaveTx {
		_, file, line, _ := runtime.Caller(1)
		tc.t.Fatalf("%s:%d -- HaveTransaction: want %v, got %v", file,
			line, inTxPool, gotHaveTx)
	}

	_, err := tc.harness.txPool.FetchTransaction(txHash)
	if inTxPool != (err == nil) {
		_, file, line, _ := runtime.Caller(1)
		tc.t.Fatalf("%s:%d -- FetchTransaction: want present %v, got "+
			"err %v", file, line, inTxPool, err)
	}
}

// testIndexes fails the test when the pool indices disagree.
func testIndexes(tc *testContext) {
	if err := tc.harness.txPool.CheckIndexes(); err != nil {
		_, file, line, _ := runtime.Caller(1)
		tc.t.Fatalf("%s:%d -- CheckIndexes: %v", file, line, err)
	}
}

// hashSet converts a slice of hashes into a set.
func hashSet(hashes []*chainhash.Hash) map[chainhash.Hash]struct{} {
	set := make(map[chainhash.Hash]struct{}, len(hashes))
	for _, hash := range hashes {
		set[*hash] = struct{}{}
	}
	return set
}

// TestAddAndRemove ensures transactions can be added to and removed from the
// pool, that both indices follow along and that the update counter moves by
// exactly one per transaction.
func TestAddAndRemove(t *testing.T) {
	t.Parallel()

	harness, outputs, err := newPoolHarness(&chaincfg.MainNetParams, 1)
	if err != nil {
		t.Fatalf("unable to create test pool: %v", err)
	}
	tc := &testContext{t, harness}
	pool := harness.txPool

	const txChainLength = 5
	chainedTxns, err := harness.CreateTxChain(outputs[0], txChainLength)
	if err != nil {
		t.Fatalf("unable to create transaction chain: %v", err)
	}

	for i, tx := range chainedTxns {
		txD := pool.AddUnchecked(tx, -1, 1000)
		if txD.Height != harness.chain.BestHeight() {
			t.Fatalf("AddUnchecked: height %d, want best height %d",
				txD.Height, harness.chain.BestHeight())
		}
		if got := pool.TransactionsUpdated(); got != uint64(i+1) {
			t.Fatalf("TransactionsUpdated: got %d, want %d", got, i+1)
		}
		testPoolMembership(tc, tx, true)
	}
	testIndexes(tc)
	if pool.Count() != txChainLength {
		t.Fatalf("Count: got %d, want %d", pool.Count(), txChainLength)
	}
	if len(pool.TxHashes()) != txChainLength {
		t.Fatalf("TxHashes: got %d hashes, want %d",
			len(pool.TxHashes()), txChainLength)
	}
	if len(pool.MiningDescs()) != txChainLength {
		t.Fatalf("MiningDescs: got %d descs, want %d",
			len(pool.MiningDescs()), txChainLength)
	}

	// Removing the tail without redeemers only removes the tail.
	tail := chainedTxns[txChainLength-1]
	removed := pool.RemoveTransaction(tail, false)
	if len(removed) != 1 || !removed[0].IsEqual(tail.Hash()) {
		t.Fatalf("RemoveTransaction: removed %v, want %v",
			spew.Sdump(removed), tail.Hash())
	}
	testPoolMembership(tc, tail, false)
	testIndexes(tc)
	if got := pool.TransactionsUpdated(); got != txChainLength+1 {
		t.Fatalf("TransactionsUpdated: got %d, want %d", got,
			txChainLength+1)
	}

	// Removing it again is a no-op which leaves the counter alone.
	if removed := pool.RemoveTransaction(tail, true); removed != nil {
		t.Fatalf("RemoveTransaction: removed %v from a pool which "+
			"does not hold it", spew.Sdump(removed))
	}
	if got := pool.TransactionsUpdated(); got != txChainLength+1 {
		t.Fatalf("TransactionsUpdated: got %d after removing an absent "+
			"transaction, want %d", got, txChainLength+1)
	}

	_, err = pool.FetchTransaction(tail.Hash())
	if !errors.Is(err, ErrTxNotInPool) {
		t.Fatalf("FetchTransaction: got %v, want %v", err,
			ErrTxNotInPool)
	}

	// The spent outpoint of the removed transaction is free again while
	// the others are still claimed by their spenders.
	if spend := pool.CheckSpend(outPoint(chainedTxns[txChainLength-2], 0)); spend != nil {
		t.Fatalf("CheckSpend: unexpected spend %v", spend.Hash())
	}
	hash, index, ok := pool.SpendingTx(outputs[0].outPoint)
	if !ok || !hash.IsEqual(chainedTxns[0].Hash()) || index != 0 {
		t.Fatalf("SpendingTx: got %v:%d (%v), want %v:0", hash, index,
			ok, chainedTxns[0].Hash())
	}
}

// TestCascadeScenario admits A, B spending A's first output and recursively
// removes A.
func TestCascadeScenario(t *testing.T) {
	t.Parallel()

	pool := New(&Config{SanityCheck: true})
	txA := newSpend(1, nil, 2)
	txB := newSpend(1, []wire.OutPoint{outPoint(txA, 0)}, 1)
	pool.AddUnchecked(txA, 1, 0)
	pool.AddUnchecked(txB, 1, 0)

	before := pool.TransactionsUpdated()
	removed := pool.RemoveTransaction(txA, true)
	if len(removed) != 2 {
		t.Fatalf("RemoveTransaction: removed %d transactions, want 2",
			len(removed))
	}
	if !removed[0].IsEqual(txB.Hash()) || !removed[1].IsEqual(txA.Hash()) {
		t.Fatalf("RemoveTransaction: redeemer must be removed first, "+
			"got %v", spew.Sdump(removed))
	}
	if pool.Count() != 0 {
		t.Fatalf("Count: got %d, want 0", pool.Count())
	}
	if got := pool.TransactionsUpdated() - before; got != 2 {
		t.Fatalf("TransactionsUpdated advanced by %d, want 2", got)
	}
	if err := pool.CheckIndexes(); err != nil {
		t.Fatalf("CheckIndexes: %v", err)
	}
}

// TestConflictScenario pins down the behavior of admitting a conflicting
// transaction with and without removing conflicts first.
func TestConflictScenario(t *testing.T) {
	t.Parallel()

	// Admitting C directly overwrites the claim of B, which stays in the
	// pool without a claim.
	pool := New(&Config{})
	txA := newSpend(1, nil, 2)
	txB := newSpend(1, []wire.OutPoint{outPoint(txA, 0)}, 1)
	txC := newSpend(2, []wire.OutPoint{outPoint(txA, 0)}, 1)
	txD := newSpend(1, []wire.OutPoint{outPoint(txB, 0)}, 1)
	pool.AddUnchecked(txA, 1, 0)
	pool.AddUnchecked(txB, 1, 0)
	pool.AddUnchecked(txD, 1, 0)
	pool.AddUnchecked(txC, 1, 0)

	hash, index, ok := pool.SpendingTx(outPoint(txA, 0))
	if !ok || !hash.IsEqual(txC.Hash()) || index != 0 {
		t.Fatalf("SpendingTx: got %v:%d (%v), want %v:0", hash, index,
			ok, txC.Hash())
	}
	if !pool.IsTransactionInPool(txB.Hash()) {
		t.Fatalf("overwritten transaction left the pool")
	}
	if err := pool.CheckIndexes(); err == nil {
		t.Fatalf("CheckIndexes: expected the overwritten claim to be " +
			"reported")
	}

	// Removing B releases none of the claims C owns now.
	pool.RemoveTransaction(txB, true)
	if pool.IsTransactionInPool(txD.Hash()) {
		t.Fatalf("redeemer of removed transaction still in pool")
	}
	if spend := pool.CheckSpend(outPoint(txA, 0)); spend != txC {
		t.Fatalf("CheckSpend: claim of C lost when removing B")
	}
	if err := pool.CheckIndexes(); err != nil {
		t.Fatalf("CheckIndexes: %v", err)
	}

	// The corrected flow removes B and its redeemer D before C enters.
	pool = New(&Config{SanityCheck: true})
	pool.AddUnchecked(txA, 1, 0)
	pool.AddUnchecked(txB, 1, 0)
	pool.AddUnchecked(txD, 1, 0)
	before := pool.TransactionsUpdated()

	_, evicted := pool.AddTransaction(txC, 1, 0)
	wantEvicted := hashSet([]*chainhash.Hash{txB.Hash(), txD.Hash()})
	if len(evicted) != len(wantEvicted) {
		t.Fatalf("AddTransaction: evicted %v, want B and D",
			spew.Sdump(evicted))
	}
	for hash := range hashSet(evicted) {
		if _, ok := wantEvicted[hash]; !ok {
			t.Fatalf("AddTransaction: unexpectedly evicted %v", hash)
		}
	}
	if got := pool.TransactionsUpdated() - before; got != 3 {
		t.Fatalf("TransactionsUpdated advanced by %d, want 3", got)
	}
	for _, tx := range []*btcutil.Tx{txB, txD} {
		if pool.IsTransactionInPool(tx.Hash()) {
			t.Fatalf("conflicting transaction %v still in pool",
				tx.Hash())
		}
	}
	if spend := pool.CheckSpend(outPoint(txA, 0)); spend != txC {
		t.Fatalf("CheckSpend: want C to claim the contested output")
	}
	if err := pool.CheckIndexes(); err != nil {
		t.Fatalf("CheckIndexes: %v", err)
	}

	// Conflict removal never evicts the transaction itself.
	if removed := pool.RemoveConflicts(txC); len(removed) != 0 {
		t.Fatalf("RemoveConflicts: removed %v", spew.Sdump(removed))
	}
}

// TestDeepChainRemoval ensures a very long chain of unconfirmed transactions
// is removed in full and in redeemer first order.
func TestDeepChainRemoval(t *testing.T) {
	t.Parallel()

	const chainLength = 20000
	pool := New(&Config{})
	root := newSpend(1, nil, 1)
	pool.AddUnchecked(root, 1, 0)
	txns := []*btcutil.Tx{root}
	for i := 1; i < chainLength; i++ {
		tx := newSpend(1, []wire.OutPoint{outPoint(txns[i-1], 0)}, 1)
		pool.AddUnchecked(tx, 1, 0)
		txns = append(txns, tx)
	}

	removed := pool.RemoveTransaction(root, true)
	if len(removed) != chainLength {
		t.Fatalf("RemoveTransaction: removed %d, want %d", len(removed),
			chainLength)
	}
	for i, hash := range removed {
		want := txns[chainLength-1-i].Hash()
		if !hash.IsEqual(want) {
			t.Fatalf("removal %d: got %v, want %v", i, hash, want)
		}
	}
	if pool.Count() != 0 || pool.TransactionsUpdated() != 2*chainLength {
		t.Fatalf("pool holds %d transactions with counter %d", pool.Count(),
			pool.TransactionsUpdated())
	}
}

// TestClear ensures clearing the pool empties both indices and counts once.
func TestClear(t *testing.T) {
	t.Parallel()

	harness, outputs, err := newPoolHarness(&chaincfg.MainNetParams, 2)
	if err != nil {
		t.Fatalf("unable to create test pool: %v", err)
	}
	tc := &testContext{t, harness}
	pool := harness.txPool

	tx, err := harness.CreateSignedTx(outputs, 3)
	if err != nil {
		t.Fatalf("unable to create transaction: %v", err)
	}
	pool.AddUnchecked(tx, 1, 500)
	before := pool.TransactionsUpdated()

	pool.Clear()
	testPoolMembership(tc, tx, false)
	testIndexes(tc)
	for _, output := range outputs {
		if spend := pool.CheckSpend(output.outPoint); spend != nil {
			t.Fatalf("CheckSpend: stale claim on %v", output.outPoint)
		}
	}
	if got := pool.TransactionsUpdated() - before; got != 1 {
		t.Fatalf("TransactionsUpdated advanced by %d, want 1", got)
	}

	pool.AddTransactionsUpdated(5)
	if got := pool.TransactionsUpdated() - before; got != 6 {
		t.Fatalf("TransactionsUpdated advanced by %d, want 6", got)
	}
}

// TestCheckSpend tests that CheckSpend returns the expected spends found in
// the mempool.
func TestCheckSpend(t *testing.T) {
	t.Parallel()

	harness, outputs, err := newPoolHarness(&chaincfg.MainNetParams, 1)
	if err != nil {
		t.Fatalf("unable to create test pool: %v", err)
	}

	// The mempool is empty, so none of the spendable outputs should have a
	// spend there.
	for _, op := range outputs {
		spend := harness.txPool.CheckSpend(op.outPoint)
		if spend != nil {
			t.Fatalf("Unexpeced spend found in pool: %v", spend)
		}
	}

	// Create a chain of transactions rooted with the first spendable
	// output provided by the harness.
	const txChainLength = 5
	chainedTxns, err := harness.CreateTxChain(outputs[0], txChainLength)
	if err != nil {
		t.Fatalf("unable to create transaction chain: %v", err)
	}
	for _, tx := range chainedTxns {
		_, evicted := harness.txPool.AddTransaction(tx, -1, 0)
		if len(evicted) != 0 {
			t.Fatalf("AddTransaction: unexpected evictions %v",
				spew.Sdump(evicted))
		}
	}

	// The first tx in the chain should be the spend of the spendable
	// output.
	op := outputs[0].outPoint
	spend := harness.txPool.CheckSpend(op)
	if spend != chainedTxns[0] {
		t.Fatalf("expected %v to be spent by %v, instead "+
			"got %v", op, chainedTxns[0], spend)
	}

	// Now all but the last tx should be spent by the next.
	for i := 0; i < len(chainedTxns)-1; i++ {
		op = wire.OutPoint{
			Hash:  *chainedTxns[i].Hash(),
			Index: 0,
		}
		expSpend := chainedTxns[i+1]
		spend = harness.txPool.CheckSpend(op)
		if spend != expSpend {
			t.Fatalf("expected %v to be spent by %v, instead "+
				"got %v", op, expSpend, spend)
		}
	}

	// The last tx should have no spend.
	op = wire.OutPoint{
		Hash:  *chainedTxns[txChainLength-1].Hash(),
		Index: 0,
	}
	spend = harness.txPool.CheckSpend(op)
	if spend != nil {
		t.Fatalf("Unexpeced spend found in pool: %v", spend)
	}
}

// TestConnectBlock ensures connecting a block removes the mined transactions
// while keeping their redeemers and evicts pooled double spends.
func TestConnectBlock(t *testing.T) {
	t.Parallel()

	harness, outputs, err := newPoolHarness(&chaincfg.MainNetParams, 3)
	if err != nil {
		t.Fatalf("unable to create test pool: %v", err)
	}
	tc := &testContext{t, harness}
	pool := harness.txPool

	chainedTxns, err := harness.CreateTxChain(outputs[0], 3)
	if err != nil {
		t.Fatalf("unable to create transaction chain: %v", err)
	}
	for _, tx := range chainedTxns {
		pool.AddTransaction(tx, -1, 1000)
	}
	pooledSpend, err := harness.CreateSignedTx(outputs[1:2], 1)
	if err != nil {
		t.Fatalf("unable to create transaction: %v", err)
	}
	pooledChild, err := harness.CreateSignedTx(
		[]spendableOutput{txOutToSpendableOut(pooledSpend, 0)}, 1)
	if err != nil {
		t.Fatalf("unable to create transaction: %v", err)
	}
	untouched, err := harness.CreateSignedTx(outputs[2:3], 1)
	if err != nil {
		t.Fatalf("unable to create transaction: %v", err)
	}
	pool.AddTransaction(pooledSpend, -1, 1000)
	pool.AddTransaction(pooledChild, -1, 1000)
	pool.AddTransaction(untouched, -1, 1000)

	// The block mines the head of the chain and a different spend of the
	// second output.
	blockSpend, err := harness.CreateSignedTx(outputs[1:2], 2)
	if err != nil {
		t.Fatalf("unable to create transaction: %v", err)
	}
	coinbase, err := harness.CreateCoinbaseTx(harness.chain.BestHeight()+1, 1)
	if err != nil {
		t.Fatalf("unable to create coinbase: %v", err)
	}
	block := btcutil.NewBlock(&wire.MsgBlock{
		Transactions: []*wire.MsgTx{
			coinbase.MsgTx(), chainedTxns[0].MsgTx(),
			blockSpend.MsgTx(),
		},
	})
	block.SetHeight(harness.chain.BestHeight() + 1)

	if err := pool.ConnectBlock(block); err != nil {
		t.Fatalf("ConnectBlock: %v", err)
	}
	testPoolMembership(tc, chainedTxns[0], false)
	testPoolMembership(tc, chainedTxns[1], true)
	testPoolMembership(tc, chainedTxns[2], true)
	testPoolMembership(tc, pooledSpend, false)
	testPoolMembership(tc, pooledChild, false)
	testPoolMembership(tc, untouched, true)
	testIndexes(tc)

	if got := pool.FeeEstimator().LastKnownHeight(); got != block.Height() {
		t.Fatalf("LastKnownHeight: got %d, want %d", got, block.Height())
	}
	if err := pool.DisconnectBlock(block); err != nil {
		t.Fatalf("DisconnectBlock: %v", err)
	}
	if got := pool.FeeEstimator().LastKnownHeight(); got != block.Height()-1 {
		t.Fatalf("LastKnownHeight: got %d, want %d", got,
			block.Height()-1)
	}
}

// TestConnectBlockGap ensures a block the fee estimator cannot register, such
// as one skipping heights, replaces the estimator instead of failing.
func TestConnectBlockGap(t *testing.T) {
	t.Parallel()

	pool := New(&Config{})
	first := btcutil.NewBlock(&wire.MsgBlock{})
	first.SetHeight(10)
	if err := pool.ConnectBlock(first); err != nil {
		t.Fatalf("ConnectBlock: %v", err)
	}
	original := pool.FeeEstimator()

	gap := btcutil.NewBlock(&wire.MsgBlock{Header: wire.BlockHeader{Nonce: 1}})
	gap.SetHeight(20)
	if err := pool.ConnectBlock(gap); err != nil {
		t.Fatalf("ConnectBlock after a gap: %v", err)
	}
	if pool.FeeEstimator() == original {
		t.Fatalf("fee estimator was not replaced")
	}
	if got := pool.FeeEstimator().LastKnownHeight(); got != 20 {
		t.Fatalf("LastKnownHeight: got %d, want 20", got)
	}

	// The replacement never saw the first block.
	if err := pool.DisconnectBlock(first); err != nil {
		t.Fatalf("DisconnectBlock: %v", err)
	}
	if got := pool.FeeEstimator().LastKnownHeight(); got != mining.UnminedHeight {
		t.Fatalf("LastKnownHeight after reset: got %d, want %d", got,
			mining.UnminedHeight)
	}
}

// poolGraphDescendants returns the pooled transactions reachable from root by
// following spends of outputs, computed from the transactions themselves
// rather than from the outpoint index.
func poolGraphDescendants(pool *TxPool, root *chainhash.Hash) map[chainhash.Hash]struct{} {
	spenders := make(map[chainhash.Hash][]chainhash.Hash)
	for _, desc := range pool.TxDescs() {
		for _, txIn := range desc.Tx.MsgTx().TxIn {
			prev := txIn.PreviousOutPoint.Hash
			spenders[prev] = append(spenders[prev], *desc.Tx.Hash())
		}
	}

	reached := map[chainhash.Hash]struct{}{*root: {}}
	queue := []chainhash.Hash{*root}
	for len(queue) > 0 {
		hash := queue[0]
		queue = queue[1:]
		for _, spender := range spenders[hash] {
			if _, ok := reached[spender]; !ok {
				reached[spender] = struct{}{}
				queue = append(queue, spender)
			}
		}
	}
	return reached
}

// TestRandomOperations drives the pool through random admissions, conflict
// evictions and removals from several sources of outputs and checks after
// every step that the indices agree, that no two pooled transactions spend
// the same outpoint, that cascades remove exactly the reachable set and that
// the update counter advanced once per transaction added or removed.
func TestRandomOperations(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(1))
	pool := New(&Config{})
	var funding []wire.OutPoint
	for i := 0; i < 8; i++ {
		funding = append(funding, outPoint(newSpend(int32(1000+i), nil, 1), 0))
	}

	var version int32
	for step := 0; step < 2000; step++ {
		descs := pool.TxDescs()
		before := pool.TransactionsUpdated()

		switch op := rng.Intn(4); {
		case op < 3 || len(descs) == 0:
			// Spend one or two outputs, which may already be
			// claimed, from the funding set or the pool.
			candidates := append([]wire.OutPoint(nil), funding...)
			for _, desc := range descs {
				for i := range desc.Tx.MsgTx().TxOut {
					candidates = append(candidates,
						outPoint(desc.Tx, uint32(i)))
				}
			}
			prevOuts := []wire.OutPoint{
				candidates[rng.Intn(len(candidates))],
			}
			if rng.Intn(2) == 0 {
				next := candidates[rng.Intn(len(candidates))]
				if next != prevOuts[0] {
					prevOuts = append(prevOuts, next)
				}
			}
			version++
			tx := newSpend(version, prevOuts, 1+rng.Intn(2))
			_, evicted := pool.AddTransaction(tx, 1, int64(rng.Intn(5000)))
			if got := pool.TransactionsUpdated() - before; got != uint64(len(evicted)+1) {
				t.Fatalf("step %d: counter advanced by %d for %d "+
					"evictions", step, got, len(evicted))
			}

		default:
			victim := descs[rng.Intn(len(descs))].Tx
			want := poolGraphDescendants(pool, victim.Hash())
			removed := pool.RemoveTransaction(victim, true)
			got := hashSet(removed)
			if len(got) != len(removed) || len(got) != len(want) {
				t.Fatalf("step %d: removed %d (%d distinct), want %d",
					step, len(removed), len(got), len(want))
			}
			for hash := range want {
				if _, ok := got[hash]; !ok {
					t.Fatalf("step %d: %v was not removed", step,
						hash)
				}
			}
			if diff := pool.TransactionsUpdated() - before; diff != uint64(len(removed)) {
				t.Fatalf("step %d: counter advanced by %d for %d "+
					"removals", step, diff, len(removed))
			}
		}

		if err := pool.CheckIndexes(); err != nil {
			t.Fatalf("step %d: %v", step, err)
		}
		spent := make(map[wire.OutPoint]chainhash.Hash)
		for _, desc := range pool.TxDescs() {
			for _, txIn := range desc.Tx.MsgTx().TxIn {
				if other, ok := spent[txIn.PreviousOutPoint]; ok {
					t.Fatalf("step %d: %v spent by %v and %v",
						step, txIn.PreviousOutPoint, other,
						desc.Tx.Hash())
				}
				spent[txIn.PreviousOutPoint] = *desc.Tx.Hash()
			}
		}
	}
}

// TestConcurrentAccess hammers the pool from several goroutines and ensures
// the indices are consistent afterwards.
func TestConcurrentAccess(t *testing.T) {
	t.Parallel()

	pool := New(&Config{})
	const workers = 8
	const perWorker = 200

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			root := newSpend(int32(w+1), nil, 1)
			pool.AddTransaction(root, 1, 0)
			prev := root
			for i := 0; i < perWorker; i++ {
				tx := newSpend(int32(w+1), []wire.OutPoint{outPoint(prev, 0)}, 1)
				pool.AddTransaction(tx, 1, 0)
				pool.TxHashes()
				pool.CheckSpend(outPoint(prev, 0))
				prev = tx
			}
			pool.RemoveTransaction(root, true)
		}(w)
	}
	wg.Wait()

	if pool.Count() != 0 {
		t.Fatalf("Count: got %d, want 0", pool.Count())
	}
	if err := pool.CheckIndexes(); err != nil {
		t.Fatalf("CheckIndexes: %v", err)
	}
	want := uint64(2 * workers * (perWorker + 1))
	if got := pool.TransactionsUpdated(); got != want {
		t.Fatalf("TransactionsUpdated: got %d, want %d", got, want)
	}
}
