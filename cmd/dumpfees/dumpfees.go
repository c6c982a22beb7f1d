// Copyright (c) 2018-2020 The Decred developers
// Copyright (c) 2016-2026 The Silk Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Tool dumpfees prints the header and the current estimates of a fee
// estimator file written by silkd so that it can be inspected offline.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/davecgh/go-spew/spew"
	flags "github.com/jessevdk/go-flags"
	"github.com/silknetwork/silkd/internal/version"
	"github.com/silknetwork/silkd/mempool"
)

// maxTargetBlocks is the confirmation horizon tracked by the estimator.
const maxTargetBlocks = 25

type config struct {
	FeeFile string `short:"f" long:"feefile" description:"Path to the fee estimates file"`
	TestNet bool   `long:"testnet" description:"Use the default file of the test network"`
	RegTest bool   `long:"regtest" description:"Use the default file of the regression test network"`
	SimNet  bool   `long:"simnet" description:"Use the default file of the simulation test network"`
	Verbose bool   `short:"v" long:"verbose" description:"Dump the decoded header"`
}

// defaultFeeFile returns the location silkd writes fee estimates to for the
// selected network.
func defaultFeeFile(cfg *config) string {
	net := "mainnet"
	switch {
	case cfg.TestNet:
		net = "testnet"
	case cfg.RegTest:
		net = "regtest"
	case cfg.SimNet:
		net = "simnet"
	}
	return filepath.Join(btcutil.AppDataDir("silkd", false), "data", net,
		"fee_estimates.dat")
}

func main() {
	var cfg config
	parser := flags.NewParser(&cfg, flags.Default)
	_, err := parser.Parse()
	if err != nil {
		var e *flags.Error
		if !errors.As(err, &e) || e.Type != flags.ErrHelp {
			parser.WriteHelp(os.Stderr)
		}
		return
	}
	if cfg.FeeFile == "" {
		cfg.FeeFile = defaultFeeFile(&cfg)
	}

	if err := dumpFees(os.Stdout, cfg.FeeFile, cfg.Verbose); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// dumpFees writes the header and the estimates of the fee file at path to w.
func dumpFees(w io.Writer, path string, verbose bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	hdr, est, err := mempool.DecodeFeeEstimates(f)
	if hdr != nil {
		fmt.Fprintf(w, "File:             %s\n", path)
		fmt.Fprintf(w, "Required version: %d\n", hdr.RequiredVersion)
		fmt.Fprintf(w, "Writer version:   %d\n", hdr.WriterVersion)
		fmt.Fprintf(w, "Reader version:   %d\n", version.ClientVersion)
		if verbose {
			spew.Fdump(w, hdr)
		}
	}
	if err != nil {
		var verErr mempool.FeeDataVersionError
		if errors.As(err, &verErr) {
			return fmt.Errorf("file needs silkd version %d or newer",
				verErr.Required)
		}
		return err
	}

	fmt.Fprintf(w, "Last height:      %d\n", est.LastKnownHeight())
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Blocks  Fee rate (sat/kB)")
	for n := uint32(1); n <= maxTargetBlocks; n++ {
		rate, err := est.EstimateFee(n)
		if err != nil {
			fmt.Fprintf(w, "%6d  unavailable\n", n)
			continue
		}
		fmt.Fprintf(w, "%6d  %.0f\n", n, rate.ToSatoshiPerKb())
	}
	return nil
}
