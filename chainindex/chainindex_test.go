// Copyright (c) 2016-2026 The Silk Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chainindex

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/silknetwork/silkd/database/engine"
	"github.com/silknetwork/silkd/database/engine/leveldb"
	"github.com/silknetwork/silkd/database/engine/pebbledb"
)

type backend struct {
	name string
	open func(path string, create bool) (engine.Engine, error)
}

var backends = []backend{
	{"leveldb", leveldb.NewDB},
	{"pebble", func(path string, create bool) (engine.Engine, error) {
		return pebbledb.NewDB(path, create, 0, 0)
	}},
}

// newTx returns a distinct transaction for the given seed.
func newTx(seed uint32) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{}, seed), nil, nil))
	tx.AddTxOut(wire.NewTxOut(int64(seed)+1, []byte{txscript.OP_TRUE}))
	tx.LockTime = seed
	return tx
}

// newBlock returns a block at height on top of prev holding txs.
func newBlock(prev *chainhash.Hash, height int32, txs ...*wire.MsgTx) *btcutil.Block {
	var header wire.BlockHeader
	if prev != nil {
		header.PrevBlock = *prev
	}
	header.Nonce = uint32(height)
	msg := wire.NewMsgBlock(&header)
	for _, tx := range txs {
		msg.AddTransaction(tx)
	}
	block := btcutil.NewBlock(msg)
	block.SetHeight(height)
	return block
}

func forEachBackend(t *testing.T, fn func(t *testing.T, path string, b backend)) {
	for _, b := range backends {
		b := b
		t.Run(b.name, func(t *testing.T) {
			fn(t, filepath.Join(t.TempDir(), "idx"), b)
		})
	}
}

func openIndex(t *testing.T, b backend, path string, create bool) (*TxHeightIndex, engine.Engine) {
	t.Helper()
	db, err := b.open(path, create)
	if err != nil {
		t.Fatalf("unable to open %s db: %v", b.name, err)
	}
	idx, err := New(db, 0)
	if err != nil {
		db.Close()
		t.Fatalf("unable to load index: %v", err)
	}
	return idx, db
}

func TestConnectDisconnect(t *testing.T) {
	forEachBackend(t, func(t *testing.T, path string, b backend) {
		idx, db := openIndex(t, b, path, true)
		defer db.Close()

		if hash, height := idx.Tip(); hash != nil || height != -1 {
			t.Fatalf("empty index tip: got %v/%d", hash, height)
		}

		tx1, tx2, tx3 := newTx(1), newTx(2), newTx(3)
		b100 := newBlock(nil, 100, tx1, tx2)
		b101 := newBlock(b100.Hash(), 101, tx3)

		for _, block := range []*btcutil.Block{b100, b101} {
			if err := idx.ConnectBlock(block); err != nil {
				t.Fatalf("ConnectBlock(%d): %v", block.Height(), err)
			}
		}

		tests := []struct {
			tx   *wire.MsgTx
			want int32
		}{
			{tx1, 100},
			{tx2, 100},
			{tx3, 101},
			{newTx(4), 0},
		}
		for _, test := range tests {
			hash := test.tx.TxHash()
			if got := idx.TxHeight(&hash); got != test.want {
				t.Errorf("TxHeight(%v): got %d, want %d", hash, got,
					test.want)
			}
		}
		if hash, height := idx.Tip(); !hash.IsEqual(b101.Hash()) || height != 101 {
			t.Fatalf("tip: got %v/%d, want %v/101", hash, height, b101.Hash())
		}

		if err := idx.DisconnectBlock(b100); !errors.Is(err, ErrNotTip) {
			t.Fatalf("disconnecting a non-tip block: got %v, want %v",
				err, ErrNotTip)
		}
		if err := idx.DisconnectBlock(b101); err != nil {
			t.Fatalf("DisconnectBlock: %v", err)
		}
		tx3Hash := tx3.TxHash()
		if got := idx.TxHeight(&tx3Hash); got != 0 {
			t.Fatalf("disconnected tx height: got %d, want 0", got)
		}
		tx1Hash := tx1.TxHash()
		if got := idx.TxHeight(&tx1Hash); got != 100 {
			t.Fatalf("surviving tx height: got %d, want 100", got)
		}
		if hash, height := idx.Tip(); !hash.IsEqual(b100.Hash()) || height != 100 {
			t.Fatalf("tip after disconnect: got %v/%d", hash, height)
		}

		// The same height can be filled by a competing block.
		alt := newBlock(b100.Hash(), 101, newTx(5))
		if err := idx.ConnectBlock(alt); err != nil {
			t.Fatalf("ConnectBlock(alt): %v", err)
		}
	})
}

func TestConnectRejectsGaps(t *testing.T) {
	forEachBackend(t, func(t *testing.T, path string, b backend) {
		idx, db := openIndex(t, b, path, true)
		defer db.Close()

		first := newBlock(nil, 10, newTx(1))
		if err := idx.ConnectBlock(first); err != nil {
			t.Fatalf("ConnectBlock: %v", err)
		}

		tests := []struct {
			name  string
			block *btcutil.Block
			want  error
		}{
			{"height gap", newBlock(first.Hash(), 12, newTx(2)), ErrNotTip},
			{"wrong parent", newBlock(&chainhash.Hash{1}, 11, newTx(3)), ErrNotTip},
			{"no height", btcutil.NewBlock(wire.NewMsgBlock(&wire.BlockHeader{})), ErrBlockHeightUnknown},
		}
		for _, test := range tests {
			err := idx.ConnectBlock(test.block)
			if !errors.Is(err, test.want) {
				t.Errorf("%s: got %v, want %v", test.name, err, test.want)
			}
		}
		if _, height := idx.Tip(); height != 10 {
			t.Fatalf("tip moved after rejected blocks: %d", height)
		}
	})
}

// TestUnconfirmedCache ensures a lookup that missed the store is forgotten
// once a block confirming the transaction is connected.
func TestUnconfirmedCache(t *testing.T) {
	forEachBackend(t, func(t *testing.T, path string, b backend) {
		idx, db := openIndex(t, b, path, true)
		defer db.Close()

		tx := newTx(7)
		hash := tx.TxHash()
		if got := idx.TxHeight(&hash); got != 0 {
			t.Fatalf("unknown tx height: got %d", got)
		}
		if !idx.unconfirmed.Contains(hash) {
			t.Fatalf("miss was not cached")
		}

		if err := idx.ConnectBlock(newBlock(nil, 5, tx)); err != nil {
			t.Fatalf("ConnectBlock: %v", err)
		}
		if idx.unconfirmed.Contains(hash) {
			t.Fatalf("confirmed hash still cached as unconfirmed")
		}
		if got := idx.TxHeight(&hash); got != 5 {
			t.Fatalf("confirmed tx height: got %d, want 5", got)
		}
	})
}

func TestReload(t *testing.T) {
	forEachBackend(t, func(t *testing.T, path string, b backend) {
		idx, db := openIndex(t, b, path, true)
		genesis := newBlock(nil, 0, newTx(1))
		next := newBlock(genesis.Hash(), 1, newTx(2))
		for _, block := range []*btcutil.Block{genesis, next} {
			if err := idx.ConnectBlock(block); err != nil {
				t.Fatalf("ConnectBlock: %v", err)
			}
		}
		if err := db.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}

		idx, db = openIndex(t, b, path, false)
		defer db.Close()
		if hash, height := idx.Tip(); !hash.IsEqual(next.Hash()) || height != 1 {
			t.Fatalf("reloaded tip: got %v/%d", hash, height)
		}

		for _, block := range []*btcutil.Block{next, genesis} {
			if err := idx.DisconnectBlock(block); err != nil {
				t.Fatalf("DisconnectBlock(%d): %v", block.Height(), err)
			}
		}
		if hash, height := idx.Tip(); hash != nil || height != -1 {
			t.Fatalf("tip after disconnecting genesis: %v/%d", hash, height)
		}
		if err := idx.DisconnectBlock(genesis); !errors.Is(err, ErrEmptyIndex) {
			t.Fatalf("disconnect from empty index: got %v", err)
		}
	})
}
