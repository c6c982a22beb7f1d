// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2016-2026 The Silk Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/silknetwork/silkd/chainindex"
	"github.com/silknetwork/silkd/database/engine"
	"github.com/silknetwork/silkd/mempool"
	"github.com/silknetwork/silkd/mining"
	"github.com/silknetwork/silkd/netsync"
	"github.com/silknetwork/silkd/overlay"
)

const (
	// statusFeeTarget is the confirmation target of the fee estimate
	// reported in the status line.
	statusFeeTarget = 6

	// statusBlockBytes is the block size used to report how many pooled
	// transactions the next block could hold.
	statusBlockBytes = 1000000
)

// server houses the subsystems of the daemon: the transaction pool, the
// transaction height index and the node mirror feeding both.
type server struct {
	started  int32
	shutdown int32

	chainParams *chaincfg.Params
	heightIndex *chainindex.TxHeightIndex
	txMemPool   *mempool.TxPool
	candidates  *mining.CandidateCache
	scanner     *overlay.Scanner
	rpcClient   *rpcclient.Client
	syncManager *netsync.SyncManager

	quit chan struct{}
	wg   sync.WaitGroup
}

// newNodeClient returns a JSON-RPC client for the mirrored node configured
// for HTTP POST mode.
func newNodeClient() (*rpcclient.Client, error) {
	var certs []byte
	if !cfg.NoTLS {
		if !fileExists(cfg.RPCCert) {
			return nil, fmt.Errorf("node certificate %s not found -- "+
				"use --notls for an unencrypted connection",
				cfg.RPCCert)
		}
		var err error
		certs, err = os.ReadFile(cfg.RPCCert)
		if err != nil {
			return nil, err
		}
	}

	connCfg := &rpcclient.ConnConfig{
		Host:         cfg.RPCConnect,
		User:         cfg.RPCUser,
		Pass:         cfg.RPCPass,
		Proxy:        cfg.Proxy,
		ProxyUser:    cfg.ProxyUser,
		ProxyPass:    cfg.ProxyPass,
		DisableTLS:   cfg.NoTLS,
		Certificates: certs,
		HTTPPostMode: true,
	}
	return rpcclient.New(connCfg, nil)
}

// newServer returns a new silkd server configured to mirror the node on the
// network specified by chainParams.  Use Start to begin mirroring.
func newServer(db engine.Engine, chainParams *chaincfg.Params) (*server, error) {
	heightIndex, err := chainindex.New(db, 0)
	if err != nil {
		return nil, err
	}

	txMemPool := mempool.New(&mempool.Config{
		BestHeight: func() int32 {
			_, height := heightIndex.Tip()
			if height < 0 {
				return 0
			}
			return height
		},
		SanityCheck: cfg.SanityCheck,
	})

	// Fee estimates from a previous run are a convenience only.
	if err := txMemPool.LoadFeeEstimates(cfg.FeeFile); err != nil {
		silkLog.Warnf("Starting with empty fee estimates: %v", err)
	}

	rpcClient, err := newNodeClient()
	if err != nil {
		return nil, fmt.Errorf("unable to set up node connection: %w", err)
	}

	syncManager, err := netsync.New(&netsync.Config{
		Source:        rpcClient,
		TxMemPool:     txMemPool,
		HeightIndex:   heightIndex,
		PollInterval:  cfg.PollInterval,
		MaxReorgDepth: cfg.MaxReorgDepth,
	})
	if err != nil {
		rpcClient.Shutdown()
		return nil, err
	}

	scanner := overlay.NewScanner(txMemPool, overlay.ScriptDecoder{},
		heightIndex)
	s := server{
		chainParams: chainParams,
		heightIndex: heightIndex,
		txMemPool:   txMemPool,
		candidates:  mining.NewCandidateCache(txMemPool),
		scanner:     scanner,
		rpcClient:   rpcClient,
		syncManager: syncManager,
		quit:        make(chan struct{}),
	}
	return &s, nil
}

// Start begins mirroring the node.
func (s *server) Start() {
	// Already started?
	if atomic.AddInt32(&s.started, 1) != 1 {
		return
	}

	silkLog.Infof("Mirroring %s node at %s", s.chainParams.Name,
		cfg.RPCConnect)

	s.syncManager.Start()

	s.wg.Add(1)
	go s.statusHandler()
}

// Stop gracefully shuts down the server by stopping and disconnecting all
// subsystems.  The fee estimates are saved so the next run can resume them.
func (s *server) Stop() error {
	// Make sure this only happens once.
	if atomic.AddInt32(&s.shutdown, 1) != 1 {
		silkLog.Infof("Server is already in the process of shutting down")
		return nil
	}

	silkLog.Warnf("Server shutting down")

	s.syncManager.Stop()
	close(s.quit)

	// The error is already logged and must not prevent shutdown.
	_ = s.txMemPool.SaveFeeEstimates(cfg.FeeFile)

	s.rpcClient.Shutdown()
	return nil
}

// WaitForShutdown blocks until the status handler and the node connection are
// stopped.
func (s *server) WaitForShutdown() {
	s.wg.Wait()
	s.rpcClient.WaitForShutdown()
}

// statusHandler logs a status line once per status interval.  It must be run
// as a goroutine.
func (s *server) statusHandler() {
	defer s.wg.Done()

	ticker := time.NewTicker(cfg.StatusInterval)
	defer ticker.Stop()

out:
	for {
		select {
		case <-ticker.C:
			s.logStatus()

		case <-s.quit:
			break out
		}
	}
}

// logStatus reports the mirrored height, the pool contents and the state of
// the watched overlay keys.
func (s *server) logStatus() {
	_, height := s.heightIndex.Tip()
	count := s.txMemPool.Count()

	var bestFeeRate int64
	candidates := s.candidates.Candidates()
	if len(candidates) > 0 {
		bestFeeRate = candidates[0].FeePerKB
	}
	nextBlock := s.candidates.Select(statusBlockBytes)

	estimate := "unavailable"
	rate, err := s.txMemPool.FeeEstimator().EstimateFee(statusFeeTarget)
	if err == nil {
		estimate = fmt.Sprintf("%.0f sat/kB", rate.ToSatoshiPerKb())
	}

	silkLog.Infof("Height %d, %d pooled %s (%d fit the next block, best "+
		"%d sat/kB), %d-block fee estimate %s", height, count,
		pickNoun(count, "transaction", "transactions"), len(nextBlock),
		bestFeeRate, statusFeeTarget, estimate)

	for _, watch := range cfg.watchKeys {
		pending := s.scanner.ExistsInMemPool(watch.key, watch.op)
		silkLog.Infof("Overlay %v on %q pending: %v", watch.op,
			watch.key, pending)
	}
}

// pickNoun returns the singular or plural form of a noun depending
// on the count n.
func pickNoun(n int, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}
