// Copyright (c) 2016-2026 The Silk Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/silknetwork/silkd/internal/version"
)

const (
	// feeDataRequiredVersion is the oldest release able to read the fee
	// data written by this one.  It only moves when the layout of the file
	// changes.
	feeDataRequiredVersion = int32(1020000)

	// maxFeeDataStateSize bounds the estimator section of a fee data
	// stream.  A full estimator is far smaller.
	maxFeeDataStateSize = 32 * 1024 * 1024
)

// FeeDataHeader is the versioned header in front of persisted fee estimator
// data.
type FeeDataHeader struct {
	// RequiredVersion is the oldest client version able to read the data.
	RequiredVersion int32

	// WriterVersion is the client version which wrote the data.
	WriterVersion int32
}

// writeFeeData writes a header followed by the length prefixed estimator
// state to w.
func writeFeeData(w io.Writer, hdr FeeDataHeader, state FeeEstimatorState) error {
	fields := []interface{}{
		hdr.RequiredVersion,
		hdr.WriterVersion,
		uint32(len(state)),
	}
	for _, field := range fields {
		if err := binary.Write(w, binary.LittleEndian, field); err != nil {
			return err
		}
	}
	_, err := w.Write(state)
	return err
}

// DecodeFeeEstimates reads fee data previously written by WriteFeeEstimates
// and returns its header along with the restored estimator.  When the data
// requires a newer reader than this release, a FeeDataVersionError is
// returned together with the header and nothing past the header is read.
func DecodeFeeEstimates(r io.Reader) (*FeeDataHeader, *FeeEstimator, error) {
	var hdr FeeDataHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr.RequiredVersion); err != nil {
		return nil, nil, fmt.Errorf("unable to read fee data header: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &hdr.WriterVersion); err != nil {
		return nil, nil, fmt.Errorf("unable to read fee data header: %w", err)
	}
	if hdr.RequiredVersion > version.ClientVersion {
		return &hdr, nil, FeeDataVersionError{
			Required:  hdr.RequiredVersion,
			Writer:    hdr.WriterVersion,
			Supported: version.ClientVersion,
		}
	}

	var size uint32
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return &hdr, nil, fmt.Errorf("unable to read fee estimator "+
			"size: %w", err)
	}
	if size > maxFeeDataStateSize {
		return &hdr, nil, fmt.Errorf("fee estimator state of %d bytes "+
			"exceeds limit of %d", size, maxFeeDataStateSize)
	}
	state := make(FeeEstimatorState, size)
	if _, err := io.ReadFull(r, state); err != nil {
		return &hdr, nil, fmt.Errorf("unable to read fee estimator "+
			"state: %w", err)
	}

	ef, err := RestoreFeeEstimator(state)
	if err != nil {
		return &hdr, nil, err
	}
	return &hdr, ef, nil
}

// WriteFeeEstimates writes the state of the fee estimator to w behind a header
// naming the oldest release able to read it and this release.  Failures are
// logged and returned but leave the pool fully functional.
//
// This function is safe for concurrent access.
func (mp *TxPool) WriteFeeEstimates(w io.Writer) error {
	mp.mtx.RLock()
	state := mp.feeEstimator.Save()
	mp.mtx.RUnlock()

	hdr := FeeDataHeader{
		RequiredVersion: feeDataRequiredVersion,
		WriterVersion:   version.ClientVersion,
	}
	if err := writeFeeData(w, hdr, state); err != nil {
		log.Warnf("Unable to write fee estimator data (non-fatal): %v",
			err)
		return err
	}
	return nil
}

// ReadFeeEstimates replaces the fee estimator with one restored from data
// written by WriteFeeEstimates.  On any failure the current estimator is left
// untouched and the error is logged and returned.
//
// This function is safe for concurrent access.
func (mp *TxPool) ReadFeeEstimates(r io.Reader) error {
	hdr, ef, err := DecodeFeeEstimates(r)
	if err != nil {
		var verErr FeeDataVersionError
		if errors.As(err, &verErr) {
			log.Warnf("Fee estimates are from an incompatible "+
				"version (non-fatal): %v", err)
		} else {
			log.Warnf("Unable to read fee estimator data "+
				"(non-fatal): %v", err)
		}
		return err
	}

	mp.mtx.Lock()
	mp.feeEstimator = ef
	mp.mtx.Unlock()

	log.Debugf("Restored fee estimator written by version %d at height %d",
		hdr.WriterVersion, ef.LastKnownHeight())
	return nil
}

// SaveFeeEstimates writes the fee estimates to the file at path.  The data is
// written to a temporary file first which is then moved into place, so an
// interrupted write never leaves a truncated file behind.
func (mp *TxPool) SaveFeeEstimates(path string) error {
	tmpPath := path + ".new"
	f, err := os.Create(tmpPath)
	if err != nil {
		log.Warnf("Unable to write fee estimator data (non-fatal): %v",
			err)
		return err
	}

	if err := mp.WriteFeeEstimates(f); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		log.Warnf("Unable to write fee estimator data (non-fatal): %v",
			err)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		log.Warnf("Unable to write fee estimator data (non-fatal): %v",
			err)
		return err
	}

	log.Infof("Saved fee estimates to %s", filepath.Base(path))
	return nil
}

// LoadFeeEstimates restores the fee estimates from the file at path.  A
// missing file is not an error since there is nothing to restore on a first
// run.
func (mp *TxPool) LoadFeeEstimates(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Debugf("No fee estimates found at %s", path)
			return nil
		}
		log.Warnf("Unable to read fee estimator data (non-fatal): %v",
			err)
		return err
	}
	defer f.Close()

	return mp.ReadFeeEstimates(f)
}
