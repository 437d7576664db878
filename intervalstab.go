// Copyright 2024 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package intervalstab collects the schmidt and chazelle stabbing-query
// implementations behind a single Index interface, so a caller can swap
// variants without touching call sites. The external package's Index
// takes uint64 payloads through its own Add and AddBatch and does not
// implement this interface.
package intervalstab

import "github.com/grailbio/intervalstab/interval"

// Index is the lifecycle the schmidt and chazelle variants implement: add
// intervals, finalize once with Index, then query freely.
// Add and Index must not be called concurrently with each other or with
// Query; Query calls may run concurrently with one another once Index has
// returned.
type Index interface {
	// Add inserts an interval [l, r] carrying payload and returns the
	// Interval record assigned to it. It returns a UsageError if called
	// after Index, or an InputConstraint error if l, r violate the
	// domain.
	Add(l, r uint64, payload interface{}) (*interval.Interval, error)

	// Index preprocesses every interval added so far. It returns a
	// UsageError if called more than once.
	Index() error

	// Query returns every interval stabbed by q, i.e. every added
	// interval with L <= q <= R. It returns a UsageError if called
	// before Index, or a QueryOutOfRange error if q is outside
	// [1, BigN+1].
	Query(q uint64) ([]*interval.Interval, error)
}
