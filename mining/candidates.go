// Copyright (c) 2016-2026 The Silk Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mining

import (
	"bytes"
	"sort"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// CandidateCache keeps the transactions of a TxSource ordered by fee per
// kilobyte.  The ordering is only rebuilt when the source reports a different
// update count than the one observed at the last build.
//
// It is safe for concurrent access.
type CandidateCache struct {
	source TxSource

	mtx      sync.Mutex
	built    bool
	updated  uint64
	sorted   []*TxDesc
	rebuilds uint64
}

// NewCandidateCache returns a cache reading from the provided source.
func NewCandidateCache(source TxSource) *CandidateCache {
	return &CandidateCache{source: source}
}

// sortCandidates orders descriptors by fee per kilobyte, highest first, with
// the transaction hash as a tie breaker so the order is deterministic.
func sortCandidates(descs []*TxDesc) {
	sort.Slice(descs, func(i, j int) bool {
		if descs[i].FeePerKB != descs[j].FeePerKB {
			return descs[i].FeePerKB > descs[j].FeePerKB
		}
		return bytes.Compare(descs[i].Tx.Hash()[:], descs[j].Tx.Hash()[:]) < 0
	})
}

// Candidates returns the source transactions ordered by fee per kilobyte.  The
// returned slice is shared between callers and must not be modified.
func (c *CandidateCache) Candidates() []*TxDesc {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	// The counter is read before the descriptors so that a mutation racing
	// with the rebuild is picked up by the next call.
	updated := c.source.TransactionsUpdated()
	if c.built && updated == c.updated {
		return c.sorted
	}

	descs := c.source.MiningDescs()
	sortCandidates(descs)

	c.sorted = descs
	c.updated = updated
	c.built = true
	c.rebuilds++

	log.Debugf("Rebuilt block candidate ordering with %d transactions "+
		"(source update %d)", len(descs), updated)

	return descs
}

// Rebuilds returns how many times the ordering has been rebuilt.
func (c *CandidateCache) Rebuilds() uint64 {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.rebuilds
}

// Select returns candidates in fee order whose serialized sizes fit in
// maxBytes.  A transaction spending an output of another source transaction is
// only selected after that parent, so the result can be mined in order.
func (c *CandidateCache) Select(maxBytes int) []*TxDesc {
	candidates := c.Candidates()

	selected := make([]*TxDesc, 0, len(candidates))
	included := make(map[chainhash.Hash]struct{}, len(candidates))
	pending := candidates
	remaining := maxBytes
	for len(pending) > 0 {
		var deferred []*TxDesc
		progress := false
		for _, desc := range pending {
			size := desc.Tx.MsgTx().SerializeSize()
			if size > remaining {
				continue
			}

			ready := true
			for _, txIn := range desc.Tx.MsgTx().TxIn {
				parent := &txIn.PreviousOutPoint.Hash
				if _, ok := included[*parent]; ok {
					continue
				}
				if c.source.HaveTransaction(parent) {
					ready = false
					break
				}
			}
			if !ready {
				deferred = append(deferred, desc)
				continue
			}

			selected = append(selected, desc)
			included[*desc.Tx.Hash()] = struct{}{}
			remaining -= size
			progress = true
		}
		if !progress {
			break
		}
		pending = deferred
	}

	return selected
}
