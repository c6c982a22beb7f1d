// Copyright (c) 2016-2026 The Silk Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package overlay decodes the alias, offer and certificate operations carried in
ordinary transaction outputs and answers whether an operation on a key is
already pending in the memory pool.

An operation output script starts with a small integer opcode naming the
operation, followed by its parameters as data pushes and enough OP_2DROP and
OP_DROP opcodes to remove all of them from the stack again.  The ordinary
public key script follows, so operation outputs remain spendable by their
owners:

	OP_1 <alias> <value> OP_2DROP OP_DROP OP_DUP OP_HASH160 <hash> ...

The first parameter is the primary key of the operation.  Operations which
carry a second parameter can also be found by its hex encoding.

A Scanner walks the pool looking for a pending operation of a given type on a
key.  Matches which are already confirmed in the chain are ignored since a
stale pool entry must not block a new registration.
*/
package overlay
