// Copyright (c) 2016-2026 The Silk Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package overlay

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
)

// ErrNoParams is returned when an operation is built without a key.
var ErrNoParams = errors.New("overlay operation requires at least one parameter")

// Operation is an overlay operation decoded from a transaction output.
type Operation struct {
	// Op is the operation.
	Op Op

	// OutputIndex is the index of the output carrying the operation.
	OutputIndex uint32

	// Params holds the parameters of the operation.  The first one is the
	// primary key.
	Params [][]byte
}

// BuildScript returns an output script carrying op with the given parameters
// in front of pkScript.
func BuildScript(op Op, params [][]byte, pkScript []byte) ([]byte, error) {
	if op.Family() == FamilyUnknown {
		return nil, fmt.Errorf("cannot encode %v", op)
	}
	if len(params) == 0 {
		return nil, ErrNoParams
	}

	builder := txscript.NewScriptBuilder()
	builder.AddInt64(int64(op))
	for _, param := range params {
		builder.AddData(param)
	}

	// Drop the operation and all of its parameters again.
	items := 1 + len(params)
	for ; items >= 2; items -= 2 {
		builder.AddOp(txscript.OP_2DROP)
	}
	if items == 1 {
		builder.AddOp(txscript.OP_DROP)
	}

	script, err := builder.AddOps(pkScript).Script()
	if err != nil {
		return nil, err
	}
	return script, nil
}

// DecodeScript extracts the operation and its parameters from an output
// script.  It returns false when the script does not carry an operation.
func DecodeScript(script []byte) (Op, [][]byte, bool) {
	const scriptVersion = 0
	tokenizer := txscript.MakeScriptTokenizer(scriptVersion, script)

	// The script must start with a small integer naming the operation.
	if !tokenizer.Next() {
		return 0, nil, false
	}
	opcode := tokenizer.Opcode()
	if opcode < txscript.OP_1 || opcode > txscript.OP_16 {
		return 0, nil, false
	}
	op := Op(opcode - txscript.OP_1 + 1)
	if op.Family() == FamilyUnknown {
		return 0, nil, false
	}

	// Collect data pushes up to the first opcode which is not one.
	var params [][]byte
	for {
		if !tokenizer.Next() {
			return 0, nil, false
		}
		param, ok := pushedData(tokenizer.Opcode(), tokenizer.Data())
		if !ok {
			break
		}
		params = append(params, param)
	}
	if len(params) == 0 {
		return 0, nil, false
	}

	// The drops must remove exactly the operation and its parameters.
	items := 1 + len(params)
	for items > 0 {
		switch tokenizer.Opcode() {
		case txscript.OP_2DROP:
			items -= 2
		case txscript.OP_DROP:
			items--
		default:
			return 0, nil, false
		}
		if items < 0 {
			return 0, nil, false
		}
		if items > 0 && !tokenizer.Next() {
			return 0, nil, false
		}
	}

	return op, params, true
}

// pushedData returns a copy of the data an opcode pushes.  Single bytes in
// the small integer range are pushed by the builder with the matching small
// integer opcode.
func pushedData(opcode byte, data []byte) ([]byte, bool) {
	switch {
	case opcode <= txscript.OP_PUSHDATA4:
		return append([]byte{}, data...), true
	case opcode == txscript.OP_1NEGATE:
		return []byte{0x81}, true
	case opcode >= txscript.OP_1 && opcode <= txscript.OP_16:
		return []byte{opcode - txscript.OP_1 + 1}, true
	}
	return nil, false
}

// ScriptDecoder decodes operations encoded by BuildScript.
type ScriptDecoder struct{}

// Ensure ScriptDecoder implements the Decoder interface.
var _ Decoder = ScriptDecoder{}

// Decode returns the first operation of the given family carried by an
// output of tx.
//
// This is part of the Decoder interface.
func (ScriptDecoder) Decode(tx *btcutil.Tx, family Family) (*Operation, bool) {
	for i, txOut := range tx.MsgTx().TxOut {
		op, params, ok := DecodeScript(txOut.PkScript)
		if !ok || op.Family() != family {
			continue
		}
		return &Operation{
			Op:          op,
			OutputIndex: uint32(i),
			Params:      params,
		}, true
	}
	return nil, false
}
