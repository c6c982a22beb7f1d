// Copyright (c) 2017 The btcsuite developers
// Copyright (c) 2016-2026 The Silk Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package netsync

import (
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
	"github.com/silknetwork/silkd/chainindex"
	"github.com/silknetwork/silkd/mempool"
)

// ChainSource is the view of the mirrored node used by the SyncManager.
// *rpcclient.Client implements it.
type ChainSource interface {
	GetBestBlock() (*chainhash.Hash, int32, error)
	GetBlockHash(blockHeight int64) (*chainhash.Hash, error)
	GetBlock(blockHash *chainhash.Hash) (*wire.MsgBlock, error)
	GetRawMempoolVerbose() (map[string]btcjson.GetRawMempoolVerboseResult, error)
	GetRawTransaction(txHash *chainhash.Hash) (*btcutil.Tx, error)
}

// Ensure the rpc client implements the ChainSource interface.
var _ ChainSource = (*rpcclient.Client)(nil)

// Config is a configuration struct used to initialize a new SyncManager.
type Config struct {
	Source      ChainSource
	TxMemPool   *mempool.TxPool
	HeightIndex *chainindex.TxHeightIndex

	// PollInterval is the time between two synchronizations.  Zero
	// selects DefaultPollInterval.
	PollInterval time.Duration

	// MaxReorgDepth bounds the number of blocks disconnected while
	// following a reorganization.  Zero selects DefaultMaxReorgDepth.
	MaxReorgDepth int32
}
