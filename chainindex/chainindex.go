// Copyright (c) 2016-2026 The Silk Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chainindex

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/decred/dcrd/lru"
	"github.com/silknetwork/silkd/database/engine"
)

const (
	// DefaultUnconfirmedCacheSize is the number of unconfirmed hashes
	// remembered when no size is given.
	DefaultUnconfirmedCacheSize = 50000

	// tipValueSize is the size of the serialized tip.
	tipValueSize = chainhash.HashSize + 4

	txPrefix     = 't'
	heightPrefix = 'h'
)

var (
	tipKey = []byte("tip")

	// byteOrder is the preferred byte order used for serializing heights.
	// Big endian keeps height keys sorted.
	byteOrder = binary.BigEndian
)

var (
	// ErrBlockHeightUnknown is returned when a block without a height is
	// connected.
	ErrBlockHeightUnknown = errors.New("block height is unknown")

	// ErrNotTip is returned when a block that does not extend or equal
	// the current tip is connected or disconnected.
	ErrNotTip = errors.New("block does not match the index tip")

	// ErrEmptyIndex is returned when disconnecting from an empty index.
	ErrEmptyIndex = errors.New("index is empty")
)

// TxHeightIndex maps confirmed transaction hashes to their block height.
// It is safe for concurrent access.
type TxHeightIndex struct {
	db engine.Engine

	mtx       sync.RWMutex
	tipHash   chainhash.Hash
	tipHeight int32
	hasTip    bool

	// unconfirmed holds hashes that missed the store since the last
	// block that contained them was connected.
	unconfirmed lru.Cache
}

// New loads the index stored in db.  cacheSize bounds the set of hashes
// remembered as unconfirmed; zero selects DefaultUnconfirmedCacheSize.
func New(db engine.Engine, cacheSize uint) (*TxHeightIndex, error) {
	if cacheSize == 0 {
		cacheSize = DefaultUnconfirmedCacheSize
	}
	idx := &TxHeightIndex{
		db:          db,
		tipHeight:   -1,
		unconfirmed: lru.NewCache(cacheSize),
	}

	snap, err := db.Snapshot()
	if err != nil {
		return nil, err
	}
	defer snap.Release()

	tip, err := snap.Get(tipKey)
	switch {
	case errors.Is(err, engine.ErrNotFound):
		log.Infof("Transaction height index is empty")
		return idx, nil
	case err != nil:
		return nil, err
	case len(tip) != tipValueSize:
		return nil, fmt.Errorf("malformed index tip of %d bytes", len(tip))
	}

	copy(idx.tipHash[:], tip[:chainhash.HashSize])
	idx.tipHeight = int32(byteOrder.Uint32(tip[chainhash.HashSize:]))
	idx.hasTip = true
	log.Infof("Transaction height index tip is %v (height %d)",
		idx.tipHash, idx.tipHeight)
	return idx, nil
}

// Tip returns the hash and height of the last connected block.  The hash is
// nil and the height -1 when nothing has been connected.
func (idx *TxHeightIndex) Tip() (*chainhash.Hash, int32) {
	idx.mtx.RLock()
	defer idx.mtx.RUnlock()

	if !idx.hasTip {
		return nil, -1
	}
	hash := idx.tipHash
	return &hash, idx.tipHeight
}

func txKey(hash *chainhash.Hash) []byte {
	key := make([]byte, 1+chainhash.HashSize)
	key[0] = txPrefix
	copy(key[1:], hash[:])
	return key
}

func heightKeyPrefix(height int32) []byte {
	key := make([]byte, 5, 5+chainhash.HashSize)
	key[0] = heightPrefix
	byteOrder.PutUint32(key[1:], uint32(height))
	return key
}

func heightKey(height int32, hash *chainhash.Hash) []byte {
	return append(heightKeyPrefix(height), hash[:]...)
}

func serializeHeight(height int32) []byte {
	var buf [4]byte
	byteOrder.PutUint32(buf[:], uint32(height))
	return buf[:]
}

func serializeTip(hash *chainhash.Hash, height int32) []byte {
	buf := make([]byte, tipValueSize)
	copy(buf, hash[:])
	byteOrder.PutUint32(buf[chainhash.HashSize:], uint32(height))
	return buf
}

// ConnectBlock records every transaction of block at the block's height and
// makes the block the new tip.  The block must extend the current tip.
func (idx *TxHeightIndex) ConnectBlock(block *btcutil.Block) error {
	height := block.Height()
	if height == btcutil.BlockHeightUnknown || height < 0 {
		return ErrBlockHeightUnknown
	}

	idx.mtx.Lock()
	defer idx.mtx.Unlock()

	if idx.hasTip {
		prev := &block.MsgBlock().Header.PrevBlock
		if height != idx.tipHeight+1 || !prev.IsEqual(&idx.tipHash) {
			return fmt.Errorf("%w: connecting %v (height %d) on top of "+
				"%v (height %d)", ErrNotTip, block.Hash(), height,
				idx.tipHash, idx.tipHeight)
		}
	}

	dbTx, err := idx.db.Transaction()
	if err != nil {
		return err
	}
	defer dbTx.Discard()

	value := serializeHeight(height)
	for _, tx := range block.Transactions() {
		if err := dbTx.Put(txKey(tx.Hash()), value); err != nil {
			return err
		}
		if err := dbTx.Put(heightKey(height, tx.Hash()), nil); err != nil {
			return err
		}
	}
	if err := dbTx.Put(tipKey, serializeTip(block.Hash(), height)); err != nil {
		return err
	}
	if err := dbTx.Commit(); err != nil {
		return err
	}

	idx.tipHash = *block.Hash()
	idx.tipHeight = height
	idx.hasTip = true
	for _, tx := range block.Transactions() {
		idx.unconfirmed.Delete(*tx.Hash())
	}

	log.Debugf("Indexed %d transactions of block %v (height %d)",
		len(block.Transactions()), block.Hash(), height)
	return nil
}

// DisconnectBlock erases the transactions recorded for the tip block and
// moves the tip back to its parent.  block must be the current tip.
func (idx *TxHeightIndex) DisconnectBlock(block *btcutil.Block) error {
	idx.mtx.Lock()
	defer idx.mtx.Unlock()

	if !idx.hasTip {
		return ErrEmptyIndex
	}
	if !block.Hash().IsEqual(&idx.tipHash) {
		return fmt.Errorf("%w: disconnecting %v but tip is %v", ErrNotTip,
			block.Hash(), idx.tipHash)
	}

	height := idx.tipHeight
	snap, err := idx.db.Snapshot()
	if err != nil {
		return err
	}
	defer snap.Release()

	dbTx, err := idx.db.Transaction()
	if err != nil {
		return err
	}
	defer dbTx.Discard()

	iter := snap.NewIterator(engine.BytesPrefix(heightKeyPrefix(height)))
	if iter == nil {
		return fmt.Errorf("unable to iterate height %d", height)
	}
	var removed int
	for iter.Next() {
		key := iter.Key()
		var txHash chainhash.Hash
		copy(txHash[:], key[5:])

		// Leave entries that name another height alone.
		value, err := snap.Get(txKey(&txHash))
		if err == nil && len(value) == 4 &&
			int32(byteOrder.Uint32(value)) == height {
			if err := dbTx.Delete(txKey(&txHash)); err != nil {
				iter.Release()
				return err
			}
		}
		if err := dbTx.Delete(key); err != nil {
			iter.Release()
			return err
		}
		removed++
	}
	err = iter.Error()
	iter.Release()
	if err != nil {
		return err
	}

	prev := block.MsgBlock().Header.PrevBlock
	if height == 0 {
		err = dbTx.Delete(tipKey)
	} else {
		err = dbTx.Put(tipKey, serializeTip(&prev, height-1))
	}
	if err != nil {
		return err
	}
	if err := dbTx.Commit(); err != nil {
		return err
	}

	if height == 0 {
		idx.hasTip = false
		idx.tipHash = chainhash.Hash{}
		idx.tipHeight = -1
	} else {
		idx.tipHash = prev
		idx.tipHeight = height - 1
	}

	log.Debugf("Removed %d transactions of block %v (height %d)", removed,
		block.Hash(), height)
	return nil
}

// TxHeight returns the height of the block that confirmed the transaction,
// or 0 when the transaction is not known to be confirmed.
func (idx *TxHeightIndex) TxHeight(hash *chainhash.Hash) int32 {
	idx.mtx.RLock()
	defer idx.mtx.RUnlock()

	if idx.unconfirmed.Contains(*hash) {
		return 0
	}

	snap, err := idx.db.Snapshot()
	if err != nil {
		log.Errorf("Unable to read transaction height index: %v", err)
		return 0
	}
	defer snap.Release()

	value, err := snap.Get(txKey(hash))
	switch {
	case errors.Is(err, engine.ErrNotFound):
		idx.unconfirmed.Add(*hash)
		return 0
	case err != nil:
		log.Errorf("Unable to look up transaction %v: %v", hash, err)
		return 0
	case len(value) != 4:
		log.Errorf("Malformed height for transaction %v", hash)
		return 0
	}
	return int32(byteOrder.Uint32(value))
}
