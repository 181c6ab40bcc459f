// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package snoop

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type noopInvalidator struct{ invalidated []uint64 }

func (n *noopInvalidator) Invalidate(tag uint64, reason Reason) {
	n.invalidated = append(n.invalidated, tag)
}

// TestScenarioCCoherenceSequence replays a worked coherence scenario's
// access sequence directly against the filter (the full hierarchy
// test in internal/hierarchy drives it end to end).
func TestScenarioCCoherenceSequence(t *testing.T) {
	c0, c1 := &noopInvalidator{}, &noopInvalidator{}
	f := New([]Invalidator{c0, c1})
	const tag = 0

	f.Snoop(tag, 0, false) // C0 R@0
	e, _ := f.Entry(tag)
	require.True(t, e.Sharers.Contains(0))
	require.False(t, e.Dirty)

	f.Snoop(tag, 1, false) // C1 R@0
	e, _ = f.Entry(tag)
	require.True(t, e.Sharers.Contains(0))
	require.True(t, e.Sharers.Contains(1))
	require.False(t, e.Dirty)

	f.Snoop(tag, 0, true) // C0 W@0
	e, _ = f.Entry(tag)
	require.True(t, e.Sharers.Contains(0))
	require.False(t, e.Sharers.Contains(1))
	require.True(t, e.Dirty)
	require.EqualValues(t, 1, f.Writes)
	require.EqualValues(t, 1, f.Invalidates)

	f.Snoop(tag, 1, false) // C1 R@0
	e, _ = f.Entry(tag)
	require.True(t, e.Sharers.Contains(1))
	require.True(t, e.Sharers.Contains(0)) // a plain read never drops an existing sharer
	require.False(t, e.Dirty)              // the non-sharer's read forces a writeback first
	require.EqualValues(t, 1, f.Writebacks)
	require.EqualValues(t, 1, f.Writes)
	require.EqualValues(t, 1, f.Invalidates)
}

func TestDirtyImpliesSingleSharerInvariant(t *testing.T) {
	c0, c1, c2 := &noopInvalidator{}, &noopInvalidator{}, &noopInvalidator{}
	f := New([]Invalidator{c0, c1, c2})
	f.Snoop(0, 0, false)
	f.Snoop(0, 1, false)
	f.Snoop(0, 2, true)
	e, _ := f.Entry(0)
	require.True(t, e.Dirty)
	require.Equal(t, 1, e.Sharers.Cardinality())
}
