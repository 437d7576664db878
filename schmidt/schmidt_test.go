// Copyright 2024 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package schmidt_test

import (
	"sort"
	"testing"

	"github.com/go-test/deep"
	"github.com/grailbio/testutil/assert"
	"github.com/stretchr/testify/require"

	"github.com/grailbio/intervalstab/internal/testutil"
	"github.com/grailbio/intervalstab/interval"
	"github.com/grailbio/intervalstab/schmidt"
)

func TestEmptyIndex(t *testing.T) {
	idx := schmidt.New(schmidt.Config{BigN: 100, Verify: true})
	require.NoError(t, idx.Index())
	out, err := idx.Query(1)
	assert.NoError(t, err)
	assert.EQ(t, len(out), 0)
}

func TestSingleInterval(t *testing.T) {
	idx := schmidt.New(schmidt.Config{BigN: 100, Verify: true})
	_, err := idx.Add(10, 20, "a")
	require.NoError(t, err)
	require.NoError(t, idx.Index())

	for _, q := range []uint64{9, 21} {
		out, err := idx.Query(q)
		assert.NoError(t, err)
		assert.EQ(t, len(out), 0)
	}
	for _, q := range []uint64{10, 15, 20} {
		out, err := idx.Query(q)
		assert.NoError(t, err)
		if len(out) != 1 || out[0].Payload != "a" {
			t.Fatalf("Query(%d) = %v, want single interval \"a\"", q, out)
		}
	}
}

func TestNestedIntervals(t *testing.T) {
	idx := schmidt.New(schmidt.Config{BigN: 100, Verify: true})
	_, err := idx.Add(1, 100, "outer")
	require.NoError(t, err)
	_, err = idx.Add(10, 50, "middle")
	require.NoError(t, err)
	_, err = idx.Add(20, 30, "inner")
	require.NoError(t, err)
	require.NoError(t, idx.Index())

	out, err := idx.Query(25)
	assert.NoError(t, err)
	if diff := deep.Equal(payloads(out), []interface{}{"outer", "middle", "inner"}); diff != nil {
		t.Fatalf("Query(25) order: %v", diff)
	}

	out, err = idx.Query(40)
	assert.NoError(t, err)
	if diff := deep.Equal(payloads(out), []interface{}{"outer", "middle"}); diff != nil {
		t.Fatalf("Query(40) order: %v", diff)
	}

	out, err = idx.Query(75)
	assert.NoError(t, err)
	if diff := deep.Equal(payloads(out), []interface{}{"outer"}); diff != nil {
		t.Fatalf("Query(75) order: %v", diff)
	}
}

func payloads(out []*interval.Interval) []interface{} {
	ps := make([]interface{}, len(out))
	for i, iv := range out {
		ps[i] = iv.Payload
	}
	return ps
}

func TestSharedLeftEndpointSmallerChain(t *testing.T) {
	idx := schmidt.New(schmidt.Config{BigN: 100, Verify: true})
	_, err := idx.Add(5, 90, "widest")
	require.NoError(t, err)
	_, err = idx.Add(5, 60, "mid")
	require.NoError(t, err)
	_, err = idx.Add(5, 30, "narrow")
	require.NoError(t, err)
	require.NoError(t, idx.Index())

	out, err := idx.Query(10)
	assert.NoError(t, err)
	if diff := deep.Equal(payloads(out), []interface{}{"widest", "mid", "narrow"}); diff != nil {
		t.Fatalf("Query(10) order: %v", diff)
	}

	out, err = idx.Query(45)
	assert.NoError(t, err)
	if diff := deep.Equal(payloads(out), []interface{}{"widest", "mid"}); diff != nil {
		t.Fatalf("Query(45) order: %v", diff)
	}

	out, err = idx.Query(75)
	assert.NoError(t, err)
	if diff := deep.Equal(payloads(out), []interface{}{"widest"}); diff != nil {
		t.Fatalf("Query(75) order: %v", diff)
	}
}

func TestDisjointIntervals(t *testing.T) {
	idx := schmidt.New(schmidt.Config{BigN: 100, Verify: true})
	_, err := idx.Add(1, 10, "a")
	require.NoError(t, err)
	_, err = idx.Add(20, 30, "b")
	require.NoError(t, err)
	require.NoError(t, idx.Index())

	out, err := idx.Query(15)
	assert.NoError(t, err)
	assert.EQ(t, len(out), 0)

	out, err = idx.Query(5)
	assert.NoError(t, err)
	if len(out) != 1 || out[0].Payload != "a" {
		t.Fatalf("Query(5) = %v, want \"a\"", out)
	}
}

func TestQuerySearch(t *testing.T) {
	idx := schmidt.New(schmidt.Config{BigN: 100, Verify: true})
	_, err := idx.Add(10, 20, "a")
	require.NoError(t, err)
	require.NoError(t, idx.Index())

	iv, found, err := idx.QuerySearch(15)
	assert.NoError(t, err)
	assert.True(t, found)
	assert.EQ(t, iv.Payload, "a")

	_, found, err = idx.QuerySearch(25)
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestUsageErrors(t *testing.T) {
	idx := schmidt.New(schmidt.Config{BigN: 10})
	_, err := idx.Query(1)
	assert.NotNil(t, err)

	_, err = idx.Add(1, 2, nil)
	require.NoError(t, err)
	require.NoError(t, idx.Index())

	_, err = idx.Add(1, 2, nil)
	assert.NotNil(t, err)

	err = idx.Index()
	assert.NotNil(t, err)
}

func TestInputConstraintErrors(t *testing.T) {
	idx := schmidt.New(schmidt.Config{BigN: 10})
	_, err := idx.Add(5, 3, nil)
	assert.NotNil(t, err)
	_, err = idx.Add(0, 3, nil)
	assert.NotNil(t, err)
	_, err = idx.Add(1, 11, nil)
	assert.NotNil(t, err)
}

func TestQueryOutOfRange(t *testing.T) {
	idx := schmidt.New(schmidt.Config{BigN: 10})
	require.NoError(t, idx.Index())
	_, err := idx.Query(0)
	assert.NotNil(t, err)
	_, err = idx.Query(12)
	assert.NotNil(t, err)
	_, err = idx.Query(11)
	assert.NoError(t, err)
}

func TestAgainstNaiveOracle(t *testing.T) {
	const bigN = 2000
	specs := testutil.RandomIntervals(1, 3000, bigN)
	queries := testutil.RandomQueries(2, 500, bigN)

	idx := schmidt.New(schmidt.Config{BigN: bigN, Verify: true})
	for _, s := range specs {
		_, err := idx.Add(s.L, s.R, nil)
		require.NoError(t, err)
	}
	require.NoError(t, idx.Index())

	for _, q := range queries {
		out, err := idx.Query(q)
		assert.NoError(t, err)

		// schmidt.Query's order is exactly interval.LessSchmidt (L ascending,
		// ties by R descending): ascending across distinct ancestors, and
		// widest-to-narrowest within a shared-L smaller chain. Sort the
		// naive oracle's matches the same way and compare (L, R) pairs
		// directly, rather than just L, so same-L ties are also checked.
		want := testutil.NaiveStab(specs, q)
		wantLR := make([][2]uint64, len(want))
		for i, wi := range want {
			wantLR[i] = [2]uint64{specs[wi].L, specs[wi].R}
		}
		sort.Slice(wantLR, func(i, j int) bool {
			if wantLR[i][0] != wantLR[j][0] {
				return wantLR[i][0] < wantLR[j][0]
			}
			return wantLR[i][1] > wantLR[j][1]
		})
		gotLR := make([][2]uint64, len(out))
		for i, iv := range out {
			gotLR[i] = [2]uint64{iv.L, iv.R}
		}
		if diff := deep.Equal(gotLR, wantLR); diff != nil {
			t.Fatalf("Query(%d) order diverged from naive oracle: %v", q, diff)
		}
	}
}
