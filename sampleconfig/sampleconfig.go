// Copyright (c) 2017 The Decred developers
// Copyright (c) 2016-2026 The Silk Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package sampleconfig

// FileContents is a string containing the commented example config for silkd.
const FileContents = `[Application Options]

; ------------------------------------------------------------------------------
; Data settings
; ------------------------------------------------------------------------------

; The directory to store data such as the transaction height index and the fee
; estimates.  The default is ~/.silkd/data on POSIX OSes, $LOCALAPPDATA/Silkd/data
; on Windows, ~/Library/Application Support/Silkd/data on macOS, and
; $home/silkd/data on Plan9.  Environment variables are expanded so they may be
; used.  NOTE: Windows environment variables are typically %VARIABLE%, but they
; must be accessed with $VARIABLE here.
; datadir=~/.silkd/data                            ; Unix
; datadir=$LOCALAPPDATA/Silkd/data                 ; Windows
; datadir=~/Library/Application Support/Silkd/data ; macOS

; Database backend of the transaction height index.  Supported types are
; leveldb and pebble.
; dbtype=leveldb

; File holding the fee estimator state across restarts.  It defaults to
; fee_estimates.dat in the network specific data directory.
; feefile=


; ------------------------------------------------------------------------------
; Network settings
; ------------------------------------------------------------------------------

; Use testnet.
; testnet=1

; Use regtest.
; regtest=1

; Use simnet.
; simnet=1


; ------------------------------------------------------------------------------
; Node RPC settings
; ------------------------------------------------------------------------------

; Hostname/IP and port of the node whose chain and memory pool are mirrored.
; The port defaults to the RPC port of the active network.
; rpcconnect=localhost

; Credentials for the RPC server of the node.  Both must be set.
; rpcuser=whatever_username_you_want
; rpcpass=

; Certificate of the node's RPC server.
; rpccert=~/.btcd/rpc.cert

; Talk to the node over plain HTTP.
; notls=1

; Connect to the node via a SOCKS5 proxy.
; proxy=127.0.0.1:9050
; proxyuser=
; proxypass=


; ------------------------------------------------------------------------------
; Synchronization settings
; ------------------------------------------------------------------------------

; Time between two synchronizations with the node.
; pollinterval=10s

; Deepest chain reorganization that is followed without operator intervention.
; maxreorgdepth=100

; Time between two status lines in the log.
; statusinterval=1m

; Report whether an overlay operation on a key is pending.  One per line.
; watch=aliasactivate:example
; watch=aliasupdate:example

; Verify the memory pool indexes after every change.  This is slow.
; sanitycheck=1


; ------------------------------------------------------------------------------
; Debug
; ------------------------------------------------------------------------------

; Debug logging level.
; Valid levels are {trace, debug, info, warn, error, critical}
; You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set
; log level for individual subsystems.  Use silkd --debuglevel=show to list
; available subsystems.
; debuglevel=info

; ------------------------------------------------------------------------------
; Profile - enable the HTTP profiler
; ------------------------------------------------------------------------------

; The profile server will be disabled if this option is not specified.  Profile
; information can be accessed at http://localhost:<profileport>/debug/pprof once
; running.
; profile=6061
`
