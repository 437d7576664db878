// Copyright 2024 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package interval defines the Interval record shared by the schmidt,
// chazelle, and external stabbing indices, along with the lexicographic
// orderings each sweep relies on.
package interval

import (
	"container/list"

	"github.com/grailbio/intervalstab/errors"
)

// Interval is a closed integer interval [L, R] carrying an arbitrary
// Payload, plus the link fields a stabbing-forest sweep populates during
// preprocessing.
//
// Parent, LeftSibling, RightChild, and Smaller are nil until Index() runs;
// they are owned by exactly one schmidt.Index (an Interval is not shared
// across indices). PIt is a transient handle into the sweepline's status
// list and is only valid during preprocessing.
type Interval struct {
	L, R    uint64
	Payload interface{}

	Parent      *Interval
	LeftSibling *Interval
	RightChild  *Interval
	Smaller     *Interval

	// PIt is the sweepline status-list handle recorded when this interval's
	// left endpoint was opened. It is nil outside of preprocessing.
	PIt *list.Element

	// Stabbed is a debug-only scratch flag used by the verify() routines; it
	// is not meaningful outside of a single verify call.
	Stabbed bool

	// Seq is an identifier assigned by the owning index. The schmidt and
	// chazelle packages set it to the dense, 0-based Add-time position; the
	// chazelle package uses it to address a bitset of already-reported
	// intervals at query time. The external package sets it to the
	// interval's 1-based node index in the sorted on-disk arena.
	Seq uint64
}

// New returns an Interval with the given bounds and payload. It does not
// validate l and r against a domain; callers that need that should use
// Validate.
func New(l, r uint64, payload interface{}) *Interval {
	return &Interval{L: l, R: r, Payload: payload}
}

// Equal reports whether two intervals have the same bounds, mirroring
// sintervalstab.hpp's operator== (bounds-only; payload is not compared).
func (iv *Interval) Equal(other *Interval) bool {
	return iv.L == other.L && iv.R == other.R
}

// Validate checks l and r against the constraints every interval must
// satisfy before it can be added to an index: 1 <= l <= r <= bigN.
func Validate(l, r, bigN uint64) error {
	if bigN == 0 {
		return errors.E(errors.InputConstraint, "bigN must be provided and positive")
	}
	if l < 1 {
		return errors.E(errors.InputConstraint, "left endpoint must be >= 1")
	}
	if l > r {
		return errors.E(errors.InputConstraint, "left endpoint must not exceed right endpoint")
	}
	if r > bigN {
		return errors.E(errors.InputConstraint, "right endpoint must not exceed bigN")
	}
	return nil
}

// ValidateQuery checks q against the query contract: 1 <= q <= bigN+1.
func ValidateQuery(q, bigN uint64) error {
	if q < 1 || q > bigN+1 {
		return errors.E(errors.QueryOutOfRange, "query coordinate out of range")
	}
	return nil
}

// LessSchmidt orders intervals by L ascending, ties by R descending: the
// order the Schmidt sweep requires so that the widest interval in an
// L-group becomes the canonical forest node.
func LessSchmidt(a, b *Interval) bool {
	if a.L != b.L {
		return a.L < b.L
	}
	return a.R > b.R
}

// LessChazelle orders intervals by L ascending, ties by R ascending, the
// order the Chazelle window sweep expects.
func LessChazelle(a, b *Interval) bool {
	if a.L != b.L {
		return a.L < b.L
	}
	return a.R < b.R
}

// Degenerate reports whether the interval is a single point, l == r.
func (iv *Interval) Degenerate() bool {
	return iv.L == iv.R
}

// Stabs reports whether q falls within [L, R].
func (iv *Interval) Stabs(q uint64) bool {
	return iv.L <= q && q <= iv.R
}
