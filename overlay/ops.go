// Copyright (c) 2016-2026 The Silk Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package overlay

import (
	"fmt"
	"strings"
)

// Op identifies an overlay operation.
type Op int

// These constants define the overlay operations.  Their values are encoded
// as small integer opcodes, so they must stay within 1 to 16.
const (
	OpAliasActivate Op = iota + 1
	OpAliasUpdate
	OpOfferActivate
	OpOfferUpdate
	OpOfferAccept
	OpCertActivate
	OpCertUpdate
	OpCertTransfer
)

// Family groups the operations acting on the same kind of key.
type Family int

// These constants define the operation families.
const (
	FamilyUnknown Family = iota
	FamilyAlias
	FamilyOffer
	FamilyCert
)

// Map of operations back to their constant names for pretty printing.
var opStrings = map[Op]string{
	OpAliasActivate: "OpAliasActivate",
	OpAliasUpdate:   "OpAliasUpdate",
	OpOfferActivate: "OpOfferActivate",
	OpOfferUpdate:   "OpOfferUpdate",
	OpOfferAccept:   "OpOfferAccept",
	OpCertActivate:  "OpCertActivate",
	OpCertUpdate:    "OpCertUpdate",
	OpCertTransfer:  "OpCertTransfer",
}

// String returns the Op in human-readable form.
func (op Op) String() string {
	if s, ok := opStrings[op]; ok {
		return s
	}
	return fmt.Sprintf("Unknown Op (%d)", int(op))
}

// ParseOp returns the operation named s.  Names are matched without regard to
// case and with or without the "Op" prefix, so "aliasactivate" and
// "OpAliasActivate" both name OpAliasActivate.
func ParseOp(s string) (Op, bool) {
	for op, name := range opStrings {
		if strings.EqualFold(s, name) ||
			strings.EqualFold(s, strings.TrimPrefix(name, "Op")) {

			return op, true
		}
	}
	return 0, false
}

// Family returns the family of the operation or FamilyUnknown when op is not
// an overlay operation.
func (op Op) Family() Family {
	switch op {
	case OpAliasActivate, OpAliasUpdate:
		return FamilyAlias
	case OpOfferActivate, OpOfferUpdate, OpOfferAccept:
		return FamilyOffer
	case OpCertActivate, OpCertUpdate, OpCertTransfer:
		return FamilyCert
	}
	return FamilyUnknown
}

// Map of families back to their names for pretty printing.
var familyStrings = map[Family]string{
	FamilyAlias: "alias",
	FamilyOffer: "offer",
	FamilyCert:  "cert",
}

// String returns the Family in human-readable form.
func (f Family) String() string {
	if s, ok := familyStrings[f]; ok {
		return s
	}
	return fmt.Sprintf("unknown family (%d)", int(f))
}

// IsAliasOp returns whether op is an alias operation.
func IsAliasOp(op Op) bool {
	return op.Family() == FamilyAlias
}

// IsOfferOp returns whether op is an offer operation.
func IsOfferOp(op Op) bool {
	return op.Family() == FamilyOffer
}

// IsCertOp returns whether op is a certificate operation.
func IsCertOp(op Op) bool {
	return op.Family() == FamilyCert
}
