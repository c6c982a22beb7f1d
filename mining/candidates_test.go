// Copyright (c) 2016-2026 The Silk Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mining

import (
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// fakeSource is a TxSource backed by a plain slice with a manually driven
// update counter.
type fakeSource struct {
	sync.Mutex
	descs   []*TxDesc
	updated uint64
	calls   int
}

func (s *fakeSource) LastUpdated() time.Time { return time.Time{} }

func (s *fakeSource) TransactionsUpdated() uint64 {
	s.Lock()
	defer s.Unlock()
	return s.updated
}

func (s *fakeSource) MiningDescs() []*TxDesc {
	s.Lock()
	defer s.Unlock()
	s.calls++
	descs := make([]*TxDesc, len(s.descs))
	copy(descs, s.descs)
	return descs
}

func (s *fakeSource) HaveTransaction(hash *chainhash.Hash) bool {
	s.Lock()
	defer s.Unlock()
	for _, desc := range s.descs {
		if desc.Tx.Hash().IsEqual(hash) {
			return true
		}
	}
	return false
}

func (s *fakeSource) add(desc *TxDesc) {
	s.Lock()
	s.descs = append(s.descs, desc)
	s.updated++
	s.Unlock()
}

// newDesc creates a descriptor for a transaction spending the given outpoint
// with the provided fee per kilobyte.  The lock time makes every transaction
// unique.
func newDesc(prevOut wire.OutPoint, feePerKB int64, lockTime uint32) *TxDesc {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(&prevOut, nil, nil))
	tx.AddTxOut(wire.NewTxOut(1000, []byte{0x51}))
	tx.LockTime = lockTime
	return &TxDesc{Tx: btcutil.NewTx(tx), FeePerKB: feePerKB}
}

// TestCandidateCacheRebuild ensures the ordering is only rebuilt when the
// source update counter moves.
func TestCandidateCacheRebuild(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	src.add(newDesc(wire.OutPoint{Index: 1}, 10, 1))
	src.add(newDesc(wire.OutPoint{Index: 2}, 30, 2))
	src.add(newDesc(wire.OutPoint{Index: 3}, 20, 3))

	cache := NewCandidateCache(src)
	got := cache.Candidates()
	if len(got) != 3 {
		t.Fatalf("Candidates: got %d entries, want 3", len(got))
	}
	wantFees := []int64{30, 20, 10}
	for i, desc := range got {
		if desc.FeePerKB != wantFees[i] {
			t.Fatalf("Candidates[%d]: got fee %d, want %d", i,
				desc.FeePerKB, wantFees[i])
		}
	}

	// No change in the source means no rebuild.
	cache.Candidates()
	cache.Candidates()
	if cache.Rebuilds() != 1 || src.calls != 1 {
		t.Fatalf("unexpected rebuild: rebuilds %d, source calls %d",
			cache.Rebuilds(), src.calls)
	}

	src.add(newDesc(wire.OutPoint{Index: 4}, 40, 4))
	got = cache.Candidates()
	if cache.Rebuilds() != 2 {
		t.Fatalf("Rebuilds: got %d, want 2", cache.Rebuilds())
	}
	if got[0].FeePerKB != 40 {
		t.Fatalf("Candidates[0]: got fee %d, want 40", got[0].FeePerKB)
	}
}

// TestCandidateCacheSelect ensures children are never selected before the
// parent transaction they spend and that the size limit is honored.
func TestCandidateCacheSelect(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	parent := newDesc(wire.OutPoint{Index: 1}, 5, 1)
	child := newDesc(wire.OutPoint{Hash: *parent.Tx.Hash()}, 50, 2)
	other := newDesc(wire.OutPoint{Index: 2}, 20, 3)
	src.add(parent)
	src.add(child)
	src.add(other)

	cache := NewCandidateCache(src)
	selected := cache.Select(1 << 20)
	if len(selected) != 3 {
		t.Fatalf("Select: got %d transactions, want 3", len(selected))
	}
	pos := make(map[chainhash.Hash]int)
	for i, desc := range selected {
		pos[*desc.Tx.Hash()] = i
	}
	if pos[*parent.Tx.Hash()] > pos[*child.Tx.Hash()] {
		t.Fatalf("child selected before its parent")
	}

	// Room for exactly one transaction picks the best fee that does not
	// depend on an unselected parent.
	size := other.Tx.MsgTx().SerializeSize()
	selected = cache.Select(size)
	if len(selected) != 1 || !selected[0].Tx.Hash().IsEqual(other.Tx.Hash()) {
		t.Fatalf("Select with one slot: unexpected result %v", selected)
	}
}
