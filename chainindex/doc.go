// Copyright (c) 2016-2026 The Silk Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package chainindex maintains a persistent map from confirmed transaction hash
to the height of the block that confirmed it.

The index is the chain-height oracle used by the overlay scanner: a height of
zero means the transaction is not known to be confirmed.  Blocks must be
connected in order and disconnected from the tip, mirroring the way the
mirrored node extends and reorganizes its best chain.

Layout of the backing key/value store:

	tip                  -> block hash (32 bytes) | height (uint32 BE)
	't' | tx hash        -> height (uint32 BE)
	'h' | height | hash  -> empty, one entry per transaction of the block

Lookups that miss the store are remembered in a bounded LRU set until a
block that may confirm them is connected.
*/
package chainindex
