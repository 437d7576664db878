// Copyright 2024 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package chazelle implements Bernard Chazelle's windowed stabbing
// structure: the sweepline groups intervals into overlapping windows sized
// by a density parameter delta, and a query inspects at most two windows
// instead of walking a forest path.
package chazelle

import (
	"sort"

	"github.com/willf/bitset"

	"github.com/grailbio/intervalstab/errors"
	"github.com/grailbio/intervalstab/eventlist"
	"github.com/grailbio/intervalstab/interval"
	"github.com/grailbio/intervalstab/log"
	"github.com/grailbio/intervalstab/must"
)

// Config controls an Index's domain size, window density, and debug
// behavior.
type Config struct {
	// BigN is the size of the coordinate domain; valid interval endpoints
	// and query coordinates are 1..BigN (queries additionally allow
	// BigN+1).
	BigN uint64
	// Delta is the window density parameter; it must be strictly greater
	// than 1. Larger values produce fewer, larger windows (less
	// preprocessing memory, more per-query scanning).
	Delta float64
	// Verify, if true, re-checks every Query result against a naive O(n)
	// scan before returning it.
	Verify bool
}

// window is one aperture of the sweep: the coordinate range starting at l,
// holding the intervals active at l plus those opened while the window is
// current. Intervals that end inside the range are not removed from it, so
// query re-checks each against q.
// l is signed so the sentinel dummy window (l = -1) never compares equal
// to a real starting coordinate of 1.
type window struct {
	l         int64
	intervals []*interval.Interval
}

func copyWindow(w *window) *window {
	iv := make([]*interval.Interval, len(w.intervals))
	copy(iv, w.intervals)
	return &window{l: w.l, intervals: iv}
}

// Index is a Chazelle windowed stabbing structure over a fixed set of
// intervals. Add intervals, call Index once to preprocess, then Query
// repeatedly.
type Index struct {
	cfg       Config
	intervals []*interval.Interval
	events    *eventlist.Buckets
	windows   []*window
	pWindow   []*window
	indexed   bool
}

// New returns an empty Index for the given configuration.
func New(cfg Config) *Index {
	return &Index{cfg: cfg}
}

// Add inserts an interval [l, r] with the given payload. Add must not be
// called after Index.
func (idx *Index) Add(l, r uint64, payload interface{}) (*interval.Interval, error) {
	if idx.indexed {
		return nil, errors.E(errors.UsageError, "Add called after Index")
	}
	if err := interval.Validate(l, r, idx.cfg.BigN); err != nil {
		return nil, err
	}
	iv := interval.New(l, r, payload)
	iv.Seq = uint64(len(idx.intervals))
	idx.intervals = append(idx.intervals, iv)
	return iv, nil
}

// Index preprocesses the added intervals into the window structure. It
// may be called at most once.
func (idx *Index) Index() error {
	if idx.indexed {
		return errors.E(errors.UsageError, "Index called more than once")
	}
	if idx.cfg.Delta <= 1 {
		return errors.E(errors.InputConstraint, "delta must be strictly greater than 1")
	}
	sort.Slice(idx.intervals, func(i, j int) bool {
		return interval.LessChazelle(idx.intervals[i], idx.intervals[j])
	})
	idx.events = eventlist.New(idx.cfg.BigN)
	idx.pWindow = make([]*window, idx.cfg.BigN+2)

	idx.buildEvents()
	idx.sweep()

	idx.indexed = true
	log.Debug.Printf("chazelle: indexed %d intervals over domain %d, delta=%v, %d windows",
		len(idx.intervals), idx.cfg.BigN, idx.cfg.Delta, len(idx.windows))
	return nil
}

// buildEvents pushes every non-degenerate interval onto both its closing
// and opening coordinate buckets; a degenerate interval (l == r) is pushed
// once and left untouched by the sweep so query can still find it.
func (idx *Index) buildEvents() {
	for _, iv := range idx.intervals {
		if iv.Degenerate() {
			idx.events.Push(iv.L, iv)
		} else {
			idx.events.Push(iv.R, iv)
			idx.events.Push(iv.L, iv)
		}
	}
}

// sweep builds the window chain by walking coordinates 1..BigN, opening a
// new window whenever the current one's interval count T exceeds
// delta*low, where low is the minimum active-interval count seen since
// the window started.
func (idx *Index) sweep() {
	delta := idx.cfg.Delta
	dummy := &window{l: -1} // l=-1 so the very first real coordinate (1) never looks like a reused aperture
	idx.windows = []*window{dummy}
	w := dummy

	var lastpWindow *window
	var cur, low, T int

	for i := uint64(1); i <= idx.cfg.BigN; i++ {
		idx.pWindow[i] = lastpWindow

		bucket := idx.events.All(i)
		pos := 0
		for pos < len(bucket) {
			temp := bucket[pos]
			if temp.L == i {
				if temp.R == i {
					// Degenerate interval: left in the bucket for Query to find.
					pos++
					continue
				}
				bucket = append(bucket[:pos], bucket[pos+1:]...)
				cur++
				T++
				if float64(T) > delta*float64(low) {
					if w.l < int64(i) && T > 1 {
						nw := copyWindow(w)
						idx.windows = append(idx.windows, nw)
						w = nw
						kept := w.intervals[:0]
						for _, iv := range w.intervals {
							if iv.R > i {
								kept = append(kept, iv)
							}
						}
						w.intervals = kept
					}
					w.l = int64(i)
					w.intervals = append(w.intervals, temp)
					idx.pWindow[i] = w
					lastpWindow = w
					low, T = cur, cur
				} else {
					w.intervals = append(w.intervals, temp)
				}
			} else {
				bucket = append(bucket[:pos], bucket[pos+1:]...)
				cur--
				if cur < low {
					low = cur
				}
				if float64(T) > delta*float64(low) {
					if w.l < int64(i) {
						nw := copyWindow(w)
						idx.windows = append(idx.windows, nw)
						w = nw
						kept := w.intervals[:0]
						for _, iv := range w.intervals {
							if iv.R > i {
								kept = append(kept, iv)
							} else {
								T--
							}
						}
						w.intervals = kept
					} else {
						T = cur
					}
					w.l = int64(i)
					low = T
					if T == 0 {
						lastpWindow = nil
					} else {
						idx.pWindow[i] = w
						lastpWindow = w
					}
				}
			}
		}
		idx.events.ReplaceAll(i, bucket)
	}

	if idx.cfg.Verify {
		count := 0
		for i, win := range idx.windows {
			must.Truef(i == len(idx.windows)-1 || len(win.intervals) > 0,
				"chazelle: empty non-final window")
			count += len(win.intervals)
		}
		must.Truef(float64(count) < 2*delta*float64(len(idx.intervals))/(delta-1),
			"chazelle: total window occupancy %d exceeds the density bound", count)
	}
}

// Query returns every interval that stabs q, in descending lexicographic
// order (largest L first).
func (idx *Index) Query(q uint64) ([]*interval.Interval, error) {
	if !idx.indexed {
		return nil, errors.E(errors.UsageError, "Query called before Index")
	}
	if err := interval.ValidateQuery(q, idx.cfg.BigN); err != nil {
		return nil, err
	}
	out := idx.query(q)
	if idx.cfg.Verify {
		must.Truef(verify(idx.intervals, out, q), "chazelle: query(%d) result failed verification", q)
	}
	return out, nil
}

func (idx *Index) query(q uint64) []*interval.Interval {
	var output []*interval.Interval
	if bucket := idx.events.All(q); len(bucket) > 0 {
		output = append(output, bucket...)
	}

	pw := idx.pWindow[q]
	if pw == nil {
		return output
	}

	reported := bitset.New(uint(len(idx.intervals)))

	// The preceding window's tail can still straddle q when this window
	// opens exactly at q.
	if q > 1 && pw.l == int64(q) {
		if prev := idx.pWindow[q-1]; prev != nil {
			for _, iv := range prev.intervals {
				if iv.L <= q && q <= iv.R {
					output = append(output, iv)
					reported.Set(uint(iv.Seq))
				}
			}
		}
	}

	for _, iv := range pw.intervals {
		if iv.L <= q && q <= iv.R && !reported.Test(uint(iv.Seq)) {
			output = append(output, iv)
		}
	}

	// Windows accumulate in ascending sweep order; the spec requires
	// descending lexicographic output, so sort explicitly rather than
	// relying on collection order.
	sort.Slice(output, func(i, j int) bool {
		if output[i].L != output[j].L {
			return output[i].L > output[j].L
		}
		return output[i].R > output[j].R
	})
	return output
}

// verify checks that output contains exactly the intervals of all that
// stab q, via a naive O(n) scan. It mutates and restores the Stabbed
// scratch field on all.
func verify(all, output []*interval.Interval, q uint64) bool {
	for _, iv := range output {
		iv.Stabbed = true
	}
	ok := true
	for _, iv := range all {
		stabs := iv.Stabs(q)
		if iv.Stabbed != stabs {
			ok = false
		}
	}
	for _, iv := range output {
		iv.Stabbed = false
	}
	return ok
}
