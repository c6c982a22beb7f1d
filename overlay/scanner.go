// Copyright (c) 2016-2026 The Silk Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package overlay

import (
	"encoding/hex"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// TxIterator provides a consistent walk over pooled transactions.
// mempool.TxPool implements it.
type TxIterator interface {
	// ForEachTransaction calls fn for every transaction until fn returns
	// false.
	ForEachTransaction(fn func(tx *btcutil.Tx) bool)
}

// Decoder decodes the overlay operation of a family carried by a transaction.
type Decoder interface {
	// Decode returns the operation and true when tx carries an operation
	// of the family.
	Decode(tx *btcutil.Tx, family Family) (*Operation, bool)
}

// HeightFetcher reports the height of the block which confirmed a
// transaction.  Heights of zero or less mean the transaction is not
// confirmed.
type HeightFetcher interface {
	TxHeight(hash *chainhash.Hash) int32
}

// Scanner finds pending overlay operations in a transaction pool.
type Scanner struct {
	pool    TxIterator
	decoder Decoder
	heights HeightFetcher
}

// NewScanner returns a scanner over the transactions of pool.
func NewScanner(pool TxIterator, decoder Decoder, heights HeightFetcher) *Scanner {
	return &Scanner{
		pool:    pool,
		decoder: decoder,
		heights: heights,
	}
}

// ExistsInMemPool returns whether an unconfirmed transaction in the pool
// carries operation op on key.  The key matches the first parameter of an
// operation as is, or the hex encoding of its second parameter.
func (s *Scanner) ExistsInMemPool(key []byte, op Op) bool {
	family := op.Family()
	if family == FamilyUnknown {
		return false
	}

	// Collect the candidates first so that the height lookups run without
	// holding the pool.
	want := string(key)
	var matches []*chainhash.Hash
	s.pool.ForEachTransaction(func(tx *btcutil.Tx) bool {
		msgTx := tx.MsgTx()
		if len(msgTx.TxIn) == 0 || blockchain.IsCoinBaseTx(msgTx) {
			return true
		}

		decoded, ok := s.decoder.Decode(tx, family)
		if !ok || decoded.Op != op || len(decoded.Params) == 0 {
			return true
		}

		match := string(decoded.Params[0]) == want
		if !match && len(decoded.Params) > 1 {
			match = hex.EncodeToString(decoded.Params[1]) == want
		}
		if match {
			matches = append(matches, tx.Hash())
		}
		return true
	})

	for _, hash := range matches {
		height := s.heights.TxHeight(hash)
		if height <= 0 {
			return true
		}
		log.Debugf("Ignoring %v of %q in %v confirmed at height %d",
			op, key, hash, height)
	}
	return false
}
