// Copyright 2024 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package testutil holds the randomized-interval generator and naive
// scan oracle shared by every variant's stress tests.
package testutil

import (
	fuzz "github.com/google/gofuzz"
)

// Spec is one generated interval, before it is handed to a particular
// Index implementation's Add.
type Spec struct {
	L, R uint64
}

// RandomIntervals deterministically generates n intervals over [1, bigN],
// seeded so failing stress tests reproduce. Roughly a tenth of the
// generated intervals are degenerate (L == R), to exercise the
// Chazelle/external degenerate-interval path alongside ordinary ones.
func RandomIntervals(seed int64, n int, bigN uint64) []Spec {
	fz := fuzz.NewWithSeed(seed)
	specs := make([]Spec, n)
	var raw [2]uint64
	for i := range specs {
		fz.Fuzz(&raw)
		l := 1 + raw[0]%bigN
		var r uint64
		if raw[1]%10 == 0 {
			r = l
		} else {
			r = l + raw[1]%(bigN-l+1)
		}
		specs[i] = Spec{L: l, R: r}
	}
	return specs
}

// RandomQueries deterministically generates n query coordinates in
// [1, bigN+1].
func RandomQueries(seed int64, n int, bigN uint64) []uint64 {
	fz := fuzz.NewWithSeed(seed)
	qs := make([]uint64, n)
	var raw uint64
	for i := range qs {
		fz.Fuzz(&raw)
		qs[i] = 1 + raw%(bigN+1)
	}
	return qs
}

// NaiveStab returns the indices (into specs) of every interval that
// stabs q: the O(n) oracle every Index variant's Query is checked
// against.
func NaiveStab(specs []Spec, q uint64) []int {
	var out []int
	for i, s := range specs {
		if s.L <= q && q <= s.R {
			out = append(out, i)
		}
	}
	return out
}
