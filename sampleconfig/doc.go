// Copyright (c) 2017 The Decred developers
// Copyright (c) 2016-2026 The Silk Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package sampleconfig provides a single constant that contains the contents of
the sample configuration file for silkd.  It is written to the default
configuration path on first start so that every option is documented next to
the configured values.
*/
package sampleconfig
