// Copyright 2024 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package intervalstab_test

import (
	"path/filepath"
	"sort"
	"testing"

	"github.com/go-test/deep"
	"github.com/grailbio/testutil/assert"
	"github.com/stretchr/testify/require"

	"github.com/grailbio/intervalstab/chazelle"
	"github.com/grailbio/intervalstab/external"
	"github.com/grailbio/intervalstab/internal/testutil"
	"github.com/grailbio/intervalstab/interval"
	"github.com/grailbio/intervalstab/schmidt"
)

// assertAscending checks that out is ordered L ascending, ties R descending,
// the contract shared by schmidt.Index.Query and external.Index.Query.
func assertAscending(t *testing.T, name string, q uint64, out []*interval.Interval) {
	for i := 1; i < len(out); i++ {
		prev, cur := out[i-1], out[i]
		if prev.L > cur.L || (prev.L == cur.L && prev.R < cur.R) {
			t.Fatalf("%s Query(%d) not ascending at index %d: %v then %v", name, q, i, prev, cur)
		}
	}
}

// assertDescending checks that out is ordered L descending, ties R
// descending, the contract of chazelle.Index.Query.
func assertDescending(t *testing.T, name string, q uint64, out []*interval.Interval) {
	for i := 1; i < len(out); i++ {
		prev, cur := out[i-1], out[i]
		if prev.L < cur.L || (prev.L == cur.L && prev.R < cur.R) {
			t.Fatalf("%s Query(%d) not descending at index %d: %v then %v", name, q, i, prev, cur)
		}
	}
}

// TestVariantsAgree builds the same interval set into all three Index
// implementations and checks that every variant returns the same set of
// intervals for every query, since schmidt, chazelle, and external all
// implement the same stabbing-query contract over the same input.
func TestVariantsAgree(t *testing.T) {
	const bigN = 2500
	specs := testutil.RandomIntervals(11, 4000, bigN)
	queries := testutil.RandomQueries(12, 600, bigN)

	sIdx := schmidt.New(schmidt.Config{BigN: bigN, Verify: true})
	for i, s := range specs {
		_, err := sIdx.Add(s.L, s.R, i)
		require.NoError(t, err)
	}
	require.NoError(t, sIdx.Index())

	cIdx := chazelle.New(chazelle.Config{BigN: bigN, Delta: 2, Verify: true})
	for i, s := range specs {
		_, err := cIdx.Add(s.L, s.R, i)
		require.NoError(t, err)
	}
	require.NoError(t, cIdx.Index())

	eIdx := external.New(external.Config{BigN: bigN, BaseFilename: filepath.Join(t.TempDir(), "idx"), Verify: true})
	batch := make([]external.StagedInterval, len(specs))
	for i, s := range specs {
		batch[i] = external.StagedInterval{L: s.L, R: s.R, Payload: uint64(i)}
	}
	require.NoError(t, eIdx.AddBatch(batch))
	require.NoError(t, eIdx.Index())
	defer eIdx.Close()

	sortedL := func(ls []uint64) []uint64 {
		sort.Slice(ls, func(i, j int) bool { return ls[i] < ls[j] })
		return ls
	}

	for _, q := range queries {
		sOut, err := sIdx.Query(q)
		assert.NoError(t, err)
		cOut, err := cIdx.Query(q)
		assert.NoError(t, err)
		eOut, err := eIdx.Query(q)
		assert.NoError(t, err)

		assertAscending(t, "schmidt", q, sOut)
		assertAscending(t, "external", q, eOut)
		assertDescending(t, "chazelle", q, cOut)

		sL := make([]uint64, len(sOut))
		for i, iv := range sOut {
			sL[i] = iv.L
		}
		cL := make([]uint64, len(cOut))
		for i, iv := range cOut {
			cL[i] = iv.L
		}
		eL := make([]uint64, len(eOut))
		for i, iv := range eOut {
			eL[i] = iv.L
		}

		want := sortedL(sL)
		if diff := deep.Equal(sortedL(cL), want); diff != nil {
			t.Fatalf("chazelle diverged from schmidt at q=%d: %v", q, diff)
		}
		if diff := deep.Equal(sortedL(eL), want); diff != nil {
			t.Fatalf("external diverged from schmidt at q=%d: %v", q, diff)
		}
	}
}
