// Copyright 2024 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package external

import (
	"encoding/binary"
	"os"

	pkgerrors "github.com/pkg/errors"
	"github.com/willf/bitset"

	"github.com/grailbio/intervalstab/errors"
)

// succinctEventList is a supplemental, space-saving re-expression of the
// per-coordinate event buckets. Instead of a prefix-sum offset table (one
// uint64 per coordinate), coordinate boundaries are unary-coded into a
// single bitset: coordinate i contributes len(events[i]) zero bits
// followed by one set bit, so a coordinate's bucket bounds can be
// recovered from the positions of its surrounding set bits rather than a
// direct array lookup.
//
// This is a simplified stand-in for a real succinct rank/select
// structure: willf/bitset only offers a linear NextSet scan, so Lookup
// here is O(bigN) rather than O(1). It is not used by the default
// arena/stop layout; it exists to exercise the bit-packed layout
// described for the externalized variant's succinct mode.
type succinctEventList struct {
	refs  []int64
	unary *bitset.BitSet
	bigN  uint64
}

// buildSuccinctEventList flattens events (indexed 1..bigN) into the
// concatenated-refs-plus-unary-boundary layout.
func buildSuccinctEventList(events [][]int64, bigN uint64) *succinctEventList {
	s := &succinctEventList{bigN: bigN, unary: bitset.New(uint(bigN))}
	var pos uint
	for i := uint64(1); i <= bigN; i++ {
		s.refs = append(s.refs, events[i]...)
		pos += uint(len(events[i]))
		s.unary.Set(pos)
		pos++
	}
	return s
}

// selectPos returns the 0-indexed bit position of the k-th set bit
// (1-indexed). k == 0 is a sentinel meaning "one before the first
// coordinate" and returns -1.
func (s *succinctEventList) selectPos(k uint64) (int, bool) {
	if k == 0 {
		return -1, true
	}
	var count uint64
	for b, ok := s.unary.NextSet(0); ok; b, ok = s.unary.NextSet(b + 1) {
		count++
		if count == k {
			return int(b), true
		}
	}
	return 0, false
}

// Lookup returns the refs belonging to coordinate i.
func (s *succinctEventList) Lookup(i uint64) []int64 {
	if i < 1 || i > s.bigN {
		return nil
	}
	prevP, ok := s.selectPos(i - 1)
	if !ok {
		return nil
	}
	curP, ok := s.selectPos(i)
	if !ok {
		return nil
	}
	start := uint64(prevP+1) - (i - 1)
	end := uint64(curP) - (i - 1)
	return s.refs[start:end]
}

// writeSuccinctEventList persists s to <BaseFilename>.eventlist (the flat
// refs, little-endian int64) and <BaseFilename>.eventlist.layout (the
// unary boundary bitset's byte representation).
func (idx *Index) writeSuccinctEventList(s *succinctEventList) error {
	refsPath := idx.cfg.BaseFilename + ".eventlist"
	buf := make([]byte, 8*len(s.refs))
	for i, ref := range s.refs {
		binary.LittleEndian.PutUint64(buf[i*8:(i+1)*8], uint64(ref))
	}
	if err := os.WriteFile(refsPath, buf, 0644); err != nil {
		return errors.E(errors.IOError, pkgerrors.Wrapf(err, "write %s", refsPath))
	}

	layoutPath := idx.cfg.BaseFilename + ".eventlist.layout"
	layoutBytes, err := s.unary.MarshalBinary()
	if err != nil {
		return errors.E(errors.IOError, pkgerrors.Wrapf(err, "marshal boundary bitset for %s", layoutPath))
	}
	if err := os.WriteFile(layoutPath, layoutBytes, 0644); err != nil {
		return errors.E(errors.IOError, pkgerrors.Wrapf(err, "write %s", layoutPath))
	}
	return nil
}
