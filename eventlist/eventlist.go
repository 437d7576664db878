// Copyright 2024 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package eventlist provides the per-coordinate event buckets consumed by
// the Schmidt and Chazelle sweeps. A bucket for coordinate i holds a
// reference to every interval whose left or right endpoint equals i; which
// references get pushed (canonical-only for Schmidt; for Chazelle, every
// interval, a degenerate one once) is decided by the caller, not by this
// package.
package eventlist

import "github.com/grailbio/intervalstab/interval"

// Buckets is a dense array of per-coordinate event lists, indexed
// 0..bigN+1 (coordinate 0 is unused; bigN+1 accommodates the query
// contract's upper bound without a separate bounds check in callers that
// share indexing with stop tables).
type Buckets struct {
	b [][]*interval.Interval
}

// New allocates an empty Buckets for a domain of size bigN.
func New(bigN uint64) *Buckets {
	return &Buckets{b: make([][]*interval.Interval, bigN+2)}
}

// Push appends iv to the bucket for coord. Order matters: the sweep relies
// on the most-recently-pushed entry being retrievable via Back/PopBack.
func (bk *Buckets) Push(coord uint64, iv *interval.Interval) {
	bk.b[coord] = append(bk.b[coord], iv)
}

// Empty reports whether coord's bucket has no remaining entries.
func (bk *Buckets) Empty(coord uint64) bool {
	return len(bk.b[coord]) == 0
}

// Back returns the most recently pushed entry still in coord's bucket, or
// nil if empty.
func (bk *Buckets) Back(coord uint64) *interval.Interval {
	s := bk.b[coord]
	if len(s) == 0 {
		return nil
	}
	return s[len(s)-1]
}

// PopBack removes the most recently pushed entry from coord's bucket.
func (bk *Buckets) PopBack(coord uint64) {
	s := bk.b[coord]
	if len(s) == 0 {
		return
	}
	bk.b[coord] = s[:len(s)-1]
}

// ReverseEach calls fn for every remaining entry in coord's bucket, in
// reverse push order (most recently pushed first). The Schmidt sweep's
// close step relies on this order to build leftsibling chains that land
// in lexicographic order.
func (bk *Buckets) ReverseEach(coord uint64, fn func(*interval.Interval)) {
	s := bk.b[coord]
	for i := len(s) - 1; i >= 0; i-- {
		fn(s[i])
	}
}

// Each calls fn for every entry in coord's bucket, in push order.
func (bk *Buckets) Each(coord uint64, fn func(*interval.Interval)) {
	for _, iv := range bk.b[coord] {
		fn(iv)
	}
}

// Len returns the number of entries currently in coord's bucket.
func (bk *Buckets) Len(coord uint64) int {
	return len(bk.b[coord])
}

// All returns coord's bucket directly, for callers (the chazelle sweep)
// that need to mutate it in place while iterating. The returned slice
// aliases the bucket's storage until ReplaceAll is called.
func (bk *Buckets) All(coord uint64) []*interval.Interval {
	return bk.b[coord]
}

// ReplaceAll installs s as coord's bucket, replacing whatever entries
// remain there.
func (bk *Buckets) ReplaceAll(coord uint64, s []*interval.Interval) {
	bk.b[coord] = s
}
