// Copyright (c) 2016 The Decred developers
// Copyright (c) 2016-2026 The Silk Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package mining defines the contract between a source of unconfirmed
transactions, such as the memory pool, and the code that assembles them into
block candidates.

Overview

A TxSource exposes descriptors for the transactions it holds along with an
update counter that is bumped on every addition and removal.  Consumers use
the counter to cheaply detect whether anything changed since they last looked
instead of diffing the whole source.  CandidateCache is such a consumer: it
keeps the descriptors ordered by fee per kilobyte and only rebuilds the
ordering when the counter moved.
*/
package mining
