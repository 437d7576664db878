// Copyright 2024 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package schmidt implements Jens Schmidt's O(1+k)-query stabbing forest:
// a sweepline over a sorted interval array builds a forest of
// parent/leftsibling/rightchild links plus "smaller" chains for intervals
// sharing a left endpoint, and a query walks a single root-to-leaf path
// plus its smaller chains and left-sibling spines.
package schmidt

import (
	"container/list"
	"sort"

	"github.com/grailbio/intervalstab/errors"
	"github.com/grailbio/intervalstab/eventlist"
	"github.com/grailbio/intervalstab/interval"
	"github.com/grailbio/intervalstab/log"
	"github.com/grailbio/intervalstab/must"
)

// Config controls an Index's domain size and debug behavior.
type Config struct {
	// BigN is the size of the coordinate domain; valid interval endpoints
	// and query coordinates are 1..BigN (queries additionally allow
	// BigN+1).
	BigN uint64
	// Verify, if true, re-checks every Query result against a naive O(n)
	// scan before returning it. Intended for tests and small inputs; it
	// defeats the whole point of the index at production scale.
	Verify bool
}

// Index is a Schmidt stabbing forest over a fixed set of intervals. Add
// intervals, call Index once to preprocess, then Query repeatedly.
type Index struct {
	cfg       Config
	intervals []*interval.Interval
	events    *eventlist.Buckets
	stop      []*interval.Interval
	dummy     *interval.Interval
	indexed   bool
}

// New returns an empty Index for the given configuration.
func New(cfg Config) *Index {
	return &Index{
		cfg:   cfg,
		dummy: &interval.Interval{},
	}
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

// Index preprocesses the added intervals into the stabbing forest. It may
// be called at most once.
func (idx *Index) Index() error {
	if idx.indexed {
		return errors.E(errors.UsageError, "Index called more than once")
	}
	sort.Slice(idx.intervals, func(i, j int) bool {
		return interval.LessSchmidt(idx.intervals[i], idx.intervals[j])
	})
	idx.events = eventlist.New(idx.cfg.BigN)
	idx.stop = make([]*interval.Interval, idx.cfg.BigN+2)

	idx.buildSmallerChainsAndEvents()
	idx.sweep()

	idx.indexed = true
	log.Debug.Printf("schmidt: indexed %d intervals over domain %d", len(idx.intervals), idx.cfg.BigN)
	return nil
}

// buildSmallerChainsAndEvents groups intervals that share a left endpoint:
// the first one encountered (widest, since the array is sorted by L
// ascending, R descending) becomes the canonical member and is the only
// one pushed onto the event lists; the rest are threaded onto its Smaller
// chain.
func (idx *Index) buildSmallerChainsAndEvents() {
	var starting uint64
	started := false
	for i, iv := range idx.intervals {
		if !started || iv.L != starting {
			idx.events.Push(iv.R, iv)
			idx.events.Push(iv.L, iv)
		} else {
			must.Truef(idx.intervals[i-1].L == iv.L && idx.intervals[i-1].R >= iv.R,
				"schmidt: intervals not sorted for smaller-chain grouping")
			idx.intervals[i-1].Smaller = iv
		}
		starting = iv.L
		started = true
	}
}

// sweep builds the forest by walking coordinates 1..BigN, maintaining a
// status list of currently-open canonical intervals.
func (idx *Index) sweep() {
	status := list.New()
	for i := uint64(1); i <= idx.cfg.BigN; i++ {
		if !idx.events.Empty(i) {
			temp := idx.events.Back(i)
			if temp.L == i {
				elem := status.PushBack(temp)
				temp.PIt = elem
				idx.events.PopBack(i)
			}
		}
		if idx.cfg.Verify {
			must.Truef(status.Len() > 0 || idx.events.Empty(i),
				"schmidt: closing event at %d with empty status list", i)
		}
		if status.Len() == 0 {
			continue
		}
		idx.stop[i] = status.Back().Value.(*interval.Interval)
		idx.events.ReverseEach(i, func(temp *interval.Interval) {
			var last *interval.Interval
			if prev := temp.PIt.Prev(); prev != nil {
				last = prev.Value.(*interval.Interval)
			} else {
				last = idx.dummy
			}
			temp.Parent = last
			temp.LeftSibling = last.RightChild
			last.RightChild = temp
			status.Remove(temp.PIt)
		})
	}
}

// Query returns every interval that stabs q (contains q in [L, R]), in
// ascending lexicographic order: the outermost ancestor (smallest L) first,
// down through the forest to stop[q] (largest L), with each ancestor's own
// smaller chain emitted consecutively immediately after it.
func (idx *Index) Query(q uint64) ([]*interval.Interval, error) {
	if !idx.indexed {
		return nil, errors.E(errors.UsageError, "Query called before Index")
	}
	if err := interval.ValidateQuery(q, idx.cfg.BigN); err != nil {
		return nil, err
	}
	out := idx.query(q)
	if idx.cfg.Verify {
		must.Truef(verify(idx.intervals, out, q), "schmidt: query(%d) result failed verification", q)
	}
	return out, nil
}

func (idx *Index) query(q uint64) []*interval.Interval {
	var output []*interval.Interval
	stop := idx.stop[q]
	if stop == nil {
		return output
	}

	// Collect the stop-to-root ancestor chain (stop[q] first, since Parent
	// walks toward the forest root), then reverse it so stop[q] is on top of
	// the stack (append/pop from the end). Popping visits the stabbed
	// canonical intervals in descending L order; each is grouped with the
	// stabbed part of its smaller chain, and the groups are emitted in
	// reverse at the end, giving ascending lexicographic order.
	var chain []*interval.Interval
	for temp := stop; temp.Parent != nil; temp = temp.Parent {
		chain = append(chain, temp)
	}
	for a, b := 0, len(chain)-1; a < b; a, b = a+1, b-1 {
		chain[a], chain[b] = chain[b], chain[a]
	}
	process := chain

	var groups [][]*interval.Interval
	for len(process) > 0 {
		i := process[len(process)-1]
		process = process[:len(process)-1]
		group := []*interval.Interval{i}

		for temp := i.Smaller; temp != nil; temp = temp.Smaller {
			if q > temp.R {
				break
			}
			group = append(group, temp)
		}
		groups = append(groups, group)

		for temp := i.LeftSibling; temp != nil; temp = temp.RightChild {
			if temp.R < q {
				break
			}
			process = append(process, temp)
		}
	}
	for g := len(groups) - 1; g >= 0; g-- {
		output = append(output, groups[g]...)
	}
	return output
}

// QuerySearch is the onlySearch path from the original FastStabbing::query:
// an O(1) existence check that returns stop[q] itself without walking the
// rest of the forest. found is false if nothing stabs q, in which case the
// returned interval is nil.
func (idx *Index) QuerySearch(q uint64) (iv *interval.Interval, found bool, err error) {
	if !idx.indexed {
		return nil, false, errors.E(errors.UsageError, "QuerySearch called before Index")
	}
	if err := interval.ValidateQuery(q, idx.cfg.BigN); err != nil {
		return nil, false, err
	}
	if idx.stop[q] == nil {
		return nil, false, nil
	}
	return idx.stop[q], true, nil
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
