// Copyright (c) 2017 The btcsuite developers
// Copyright (c) 2016-2026 The Silk Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package netsync keeps the transaction pool and the transaction height index in
step with a bitcoind-compatible node reached over JSON-RPC.

The SyncManager polls the node for its best block, connects new blocks in order
and, when the node's best chain no longer contains the last connected block,
disconnects blocks back to the fork point within a bounded window.  It then
mirrors the node's mempool: transactions the pool does not know are admitted
parent-first and pooled transactions the node dropped are removed together
with their redeemers.
*/
package netsync
