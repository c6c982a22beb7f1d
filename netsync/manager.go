// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2016-2026 The Silk Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package netsync

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

const (
	// DefaultPollInterval is the time between two synchronizations when
	// none is configured.
	DefaultPollInterval = 10 * time.Second

	// DefaultMaxReorgDepth is the deepest reorganization followed when no
	// limit is configured.
	DefaultMaxReorgDepth = 100
)

var (
	// ErrReorgTooDeep is returned when the node's best chain forked from
	// the indexed chain further back than the configured window.
	ErrReorgTooDeep = errors.New("reorganization deeper than the allowed window")

	// errShutdown is returned when a synchronization is interrupted by
	// Stop.
	errShutdown = errors.New("sync manager is shutting down")
)

// SyncManager mirrors the chain tip and mempool of a node into the
// transaction pool and the transaction height index.
type SyncManager struct {
	started  int32
	shutdown int32

	cfg            Config
	progressLogger *blockProgressLogger

	// syncMtx serializes synchronizations and protects recent.
	syncMtx sync.Mutex

	// recent holds the most recently connected blocks, oldest first, so
	// that a reorganization can be unwound without refetching them.
	recent []*btcutil.Block

	quit chan struct{}
	wg   sync.WaitGroup
}

// New returns a new SyncManager.  Use Start to begin polling.
func New(config *Config) (*SyncManager, error) {
	if config.Source == nil || config.TxMemPool == nil ||
		config.HeightIndex == nil {

		return nil, errors.New("sync manager requires a source, a " +
			"transaction pool and a height index")
	}

	cfg := *config
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxReorgDepth <= 0 {
		cfg.MaxReorgDepth = DefaultMaxReorgDepth
	}

	return &SyncManager{
		cfg:            cfg,
		progressLogger: newBlockProgressLogger("Processed", log),
		quit:           make(chan struct{}),
	}, nil
}

// interrupted reports whether Stop has been called.
func (sm *SyncManager) interrupted() bool {
	select {
	case <-sm.quit:
		return true
	default:
		return false
	}
}

// SyncOnce brings the height index and the pool up to date with the node.
// Blocks are handled before the mempool so that transactions mined since the
// last call are not admitted again.
//
// This function is safe for concurrent access.
func (sm *SyncManager) SyncOnce() error {
	sm.syncMtx.Lock()
	defer sm.syncMtx.Unlock()

	if err := sm.syncChain(); err != nil {
		return err
	}
	return sm.syncMempool()
}

// syncChain follows the node's best chain.
//
// This function MUST be called with the sync lock held.
func (sm *SyncManager) syncChain() error {
	bestHash, bestHeight, err := sm.cfg.Source.GetBestBlock()
	if err != nil {
		return fmt.Errorf("unable to query best block: %w", err)
	}

	tipHash, _ := sm.cfg.HeightIndex.Tip()
	if tipHash == nil {
		// Nothing indexed yet.  Start mirroring from the node's tip.
		log.Infof("Starting at block %v (height %d)", bestHash, bestHeight)
		return sm.connectBlock(bestHash, bestHeight)
	}
	if tipHash.IsEqual(bestHash) {
		return nil
	}

	if err := sm.unwind(bestHeight); err != nil {
		return err
	}

	_, tipHeight := sm.cfg.HeightIndex.Tip()
	for height := tipHeight + 1; height <= bestHeight; height++ {
		if sm.interrupted() {
			return errShutdown
		}
		hash, err := sm.cfg.Source.GetBlockHash(int64(height))
		if err != nil {
			return fmt.Errorf("unable to query block hash at height "+
				"%d: %w", height, err)
		}
		if err := sm.connectBlock(hash, height); err != nil {
			return err
		}
	}
	return nil
}

// unwind disconnects blocks from the index tip until the tip is part of the
// node's best chain, which ends at bestHeight.
//
// This function MUST be called with the sync lock held.
func (sm *SyncManager) unwind(bestHeight int32) error {
	for depth := int32(0); ; depth++ {
		tipHash, tipHeight := sm.cfg.HeightIndex.Tip()
		if tipHash == nil {
			return nil
		}
		if tipHeight <= bestHeight {
			hash, err := sm.cfg.Source.GetBlockHash(int64(tipHeight))
			if err != nil {
				return fmt.Errorf("unable to query block hash at "+
					"height %d: %w", tipHeight, err)
			}
			if hash.IsEqual(tipHash) {
				if depth > 0 {
					log.Infof("Reorganized %d %s back to block %v "+
						"(height %d)", depth, pickNoun(int(depth),
						"block", "blocks"), tipHash, tipHeight)
				}
				return nil
			}
		}

		if depth >= sm.cfg.MaxReorgDepth {
			return fmt.Errorf("%w: no common block within %d blocks of "+
				"height %d", ErrReorgTooDeep, depth, tipHeight+depth)
		}
		if sm.interrupted() {
			return errShutdown
		}

		block, err := sm.tipBlock(tipHash, tipHeight)
		if err != nil {
			return err
		}
		if err := sm.cfg.HeightIndex.DisconnectBlock(block); err != nil {
			return err
		}
		if err := sm.cfg.TxMemPool.DisconnectBlock(block); err != nil {
			return err
		}
		log.Debugf("Disconnected block %v (height %d)", tipHash, tipHeight)
	}
}

// tipBlock returns the block at the index tip, preferring the recently
// connected blocks over a round trip to the node.
//
// This function MUST be called with the sync lock held.
func (sm *SyncManager) tipBlock(hash *chainhash.Hash, height int32) (*btcutil.Block, error) {
	if n := len(sm.recent); n > 0 && sm.recent[n-1].Hash().IsEqual(hash) {
		block := sm.recent[n-1]
		sm.recent[n-1] = nil
		sm.recent = sm.recent[:n-1]
		return block, nil
	}

	msgBlock, err := sm.cfg.Source.GetBlock(hash)
	if err != nil {
		return nil, fmt.Errorf("unable to fetch block %v: %w", hash, err)
	}
	block := btcutil.NewBlock(msgBlock)
	block.SetHeight(height)
	return block, nil
}

// connectBlock fetches the block and connects it to the index and the pool.
//
// This function MUST be called with the sync lock held.
func (sm *SyncManager) connectBlock(hash *chainhash.Hash, height int32) error {
	msgBlock, err := sm.cfg.Source.GetBlock(hash)
	if err != nil {
		return fmt.Errorf("unable to fetch block %v: %w", hash, err)
	}
	block := btcutil.NewBlock(msgBlock)
	block.SetHeight(height)

	if err := sm.cfg.HeightIndex.ConnectBlock(block); err != nil {
		return err
	}
	if err := sm.cfg.TxMemPool.ConnectBlock(block); err != nil {
		return err
	}

	sm.recent = append(sm.recent, block)
	if len(sm.recent) > int(sm.cfg.MaxReorgDepth) {
		sm.recent[0] = nil
		sm.recent = sm.recent[1:]
	}
	sm.progressLogger.LogBlockHeight(block, sm.cfg.TxMemPool.Count())
	return nil
}

// syncMempool mirrors the node's mempool into the pool.
//
// This function MUST be called with the sync lock held.
func (sm *SyncManager) syncMempool() error {
	entries, err := sm.cfg.Source.GetRawMempoolVerbose()
	if err != nil {
		return fmt.Errorf("unable to query node mempool: %w", err)
	}

	nodeTxs := make(map[chainhash.Hash]*btcjson.GetRawMempoolVerboseResult,
		len(entries))
	for hashStr, entry := range entries {
		hash, err := chainhash.NewHashFromStr(hashStr)
		if err != nil {
			log.Warnf("Skipping node mempool entry %q: %v", hashStr, err)
			continue
		}
		entry := entry
		nodeTxs[*hash] = &entry
	}

	pool := sm.cfg.TxMemPool
	var removed int
	for _, txD := range pool.TxDescs() {
		if _, ok := nodeTxs[*txD.Tx.Hash()]; ok {
			continue
		}
		removed += len(pool.RemoveTransaction(txD.Tx, true))
	}

	var added, evicted int
	for _, hash := range admissionOrder(nodeTxs, pool.HaveTransaction) {
		if sm.interrupted() {
			return errShutdown
		}

		hash := hash
		tx, err := sm.cfg.Source.GetRawTransaction(&hash)
		if err != nil {
			// The node may have mined or evicted it meanwhile.
			log.Debugf("Unable to fetch transaction %v: %v", hash, err)
			continue
		}
		entry := nodeTxs[hash]
		fee, err := btcutil.NewAmount(entry.Fee)
		if err != nil {
			log.Debugf("Invalid fee %v for transaction %v: %v",
				entry.Fee, hash, err)
			fee = 0
		}
		_, conflicts := pool.AddTransaction(tx, int32(entry.Height),
			int64(fee))
		evicted += len(conflicts)
		added++
	}

	if added > 0 || removed > 0 {
		log.Debugf("Mirrored node mempool: %d added, %d removed, %d "+
			"evicted (%d pooled)", added, removed, evicted, pool.Count())
	}
	return nil
}

// admissionOrder returns the hashes of the node transactions the pool does
// not have yet, each one after every in-mempool parent it depends on.
func admissionOrder(nodeTxs map[chainhash.Hash]*btcjson.GetRawMempoolVerboseResult,
	have func(*chainhash.Hash) bool) []chainhash.Hash {

	roots := make([]chainhash.Hash, 0, len(nodeTxs))
	for hash := range nodeTxs {
		hash := hash
		if !have(&hash) {
			roots = append(roots, hash)
		}
	}
	sort.Slice(roots, func(i, j int) bool {
		return bytes.Compare(roots[i][:], roots[j][:]) < 0
	})

	type frame struct {
		hash     chainhash.Hash
		expanded bool
	}
	visited := make(map[chainhash.Hash]struct{}, len(roots))
	order := make([]chainhash.Hash, 0, len(roots))
	var stack []frame
	for _, root := range roots {
		stack = append(stack[:0], frame{hash: root})
		for len(stack) > 0 {
			top := len(stack) - 1
			if stack[top].expanded {
				order = append(order, stack[top].hash)
				stack = stack[:top]
				continue
			}
			if _, ok := visited[stack[top].hash]; ok {
				stack = stack[:top]
				continue
			}

			hash := stack[top].hash
			visited[hash] = struct{}{}
			stack[top].expanded = true
			for _, dep := range nodeTxs[hash].Depends {
				depHash, err := chainhash.NewHashFromStr(dep)
				if err != nil {
					continue
				}
				if _, ok := nodeTxs[*depHash]; !ok {
					continue
				}
				if _, ok := visited[*depHash]; ok || have(depHash) {
					continue
				}
				stack = append(stack, frame{hash: *depHash})
			}
		}
	}
	return order
}

// Start begins polling the node in a separate goroutine.
func (sm *SyncManager) Start() {
	// Already started?
	if atomic.AddInt32(&sm.started, 1) != 1 {
		return
	}

	log.Trace("Starting sync manager")
	sm.progressLogger.SetLastLogTime(time.Now())
	sm.wg.Add(1)
	go sm.pollHandler()
}

// Stop gracefully shuts down the sync manager by stopping all asynchronous
// handlers and waiting for them to finish.
func (sm *SyncManager) Stop() error {
	if atomic.AddInt32(&sm.shutdown, 1) != 1 {
		log.Warnf("Sync manager is already in the process of " +
			"shutting down")
		return nil
	}

	log.Infof("Sync manager shutting down")
	close(sm.quit)
	sm.wg.Wait()
	return nil
}

// pollHandler synchronizes with the node right away and then once per poll
// interval until Stop is called.  It must be run as a goroutine.
func (sm *SyncManager) pollHandler() {
	defer sm.wg.Done()

	ticker := time.NewTicker(sm.cfg.PollInterval)
	defer ticker.Stop()

	sm.poll()
out:
	for {
		select {
		case <-ticker.C:
			sm.poll()

		case <-sm.quit:
			break out
		}
	}

	log.Trace("Sync manager poll handler done")
}

func (sm *SyncManager) poll() {
	err := sm.SyncOnce()
	switch {
	case errors.Is(err, errShutdown):
	case err != nil:
		log.Warnf("Unable to synchronize with node: %v", err)
	}
}
