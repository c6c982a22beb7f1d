// Copyright (c) 2014-2016 The btcsuite developers
// Copyright (c) 2016-2026 The Silk Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"errors"
	"fmt"
)

// ErrTxNotInPool is returned by lookups of transactions the pool does not
// hold.  It is an expected outcome rather than a failure.
var ErrTxNotInPool = errors.New("transaction is not in the pool")

// FeeDataVersionError is returned when persisted fee estimator data declares
// that it can only be read by a newer release than this one.
type FeeDataVersionError struct {
	// Required is the minimum reader version declared by the data.
	Required int32

	// Writer is the version of the release that wrote the data.
	Writer int32

	// Supported is the version of this release.
	Supported int32
}

// Error satisfies the error interface and prints human-readable errors.
func (e FeeDataVersionError) Error() string {
	return fmt.Sprintf("fee estimates written by version %d require "+
		"reader version %d, this is version %d", e.Writer, e.Required,
		e.Supported)
}
