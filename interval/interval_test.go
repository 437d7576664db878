// Copyright 2024 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package interval_test

import (
	"sort"
	"testing"

	"github.com/grailbio/testutil/assert"

	"github.com/grailbio/intervalstab/interval"
)

func TestNewAndAccessors(t *testing.T) {
	iv := interval.New(5, 10, "x")
	assert.EQ(t, iv.L, uint64(5))
	assert.EQ(t, iv.R, uint64(10))
	assert.EQ(t, iv.Payload, "x")
	assert.False(t, iv.Degenerate())
	assert.True(t, iv.Stabs(5))
	assert.True(t, iv.Stabs(10))
	assert.False(t, iv.Stabs(11))
}

func TestDegenerate(t *testing.T) {
	iv := interval.New(7, 7, nil)
	assert.True(t, iv.Degenerate())
}

func TestEqual(t *testing.T) {
	a := interval.New(1, 5, "a")
	b := interval.New(1, 5, "b")
	c := interval.New(1, 6, "a")
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, interval.Validate(1, 10, 10))
	assert.NoError(t, interval.Validate(5, 5, 10))
	assert.NotNil(t, interval.Validate(0, 10, 10))
	assert.NotNil(t, interval.Validate(5, 3, 10))
	assert.NotNil(t, interval.Validate(1, 11, 10))
	assert.NotNil(t, interval.Validate(1, 1, 0))
}

func TestValidateQuery(t *testing.T) {
	assert.NoError(t, interval.ValidateQuery(1, 10))
	assert.NoError(t, interval.ValidateQuery(11, 10))
	assert.NotNil(t, interval.ValidateQuery(0, 10))
	assert.NotNil(t, interval.ValidateQuery(12, 10))
}

func TestLessSchmidt(t *testing.T) {
	ivs := []*interval.Interval{
		interval.New(5, 10, nil),
		interval.New(5, 20, nil),
		interval.New(1, 3, nil),
	}
	sort.Slice(ivs, func(i, j int) bool { return interval.LessSchmidt(ivs[i], ivs[j]) })
	want := [][2]uint64{{1, 3}, {5, 20}, {5, 10}}
	for i, w := range want {
		if ivs[i].L != w[0] || ivs[i].R != w[1] {
			t.Fatalf("position %d: got [%d,%d], want [%d,%d]", i, ivs[i].L, ivs[i].R, w[0], w[1])
		}
	}
}

func TestLessChazelle(t *testing.T) {
	ivs := []*interval.Interval{
		interval.New(5, 20, nil),
		interval.New(5, 10, nil),
		interval.New(1, 3, nil),
	}
	sort.Slice(ivs, func(i, j int) bool { return interval.LessChazelle(ivs[i], ivs[j]) })
	want := [][2]uint64{{1, 3}, {5, 10}, {5, 20}}
	for i, w := range want {
		if ivs[i].L != w[0] || ivs[i].R != w[1] {
			t.Fatalf("position %d: got [%d,%d], want [%d,%d]", i, ivs[i].L, ivs[i].R, w[0], w[1])
		}
	}
}
