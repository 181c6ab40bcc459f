// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package device

import (
	"testing"

	"github.com/stretchr/testify/require"

	"cachesim/internal/memref"
	"cachesim/internal/policy"
	"cachesim/internal/stats"
)

func newTestDevice(t *testing.T, name string, numBlocks, assoc uint32, inc Inclusion, isTLB bool) *Device {
	t.Helper()
	d, err := New(Config{
		Name:          name,
		Associativity: assoc,
		BlockSize:     64,
		NumBlocks:     numBlocks,
		Inclusion:     inc,
		IsTLB:         isTLB,
		Policy:        policy.LRU,
	})
	require.NoError(t, err)
	return d
}

func read(addr uint64) memref.Record {
	return memref.Record{Type: memref.Read, Addr: addr, Size: 1}
}

func TestStandaloneHitMiss(t *testing.T) {
	d := newTestDevice(t, "LLC", 4, 4, NonInclusiveNonExclusive, false)

	d.Request(read(0 * 64)) // miss, tag A
	d.Request(read(1 * 64)) // miss, tag B
	d.Request(read(0 * 64)) // hit, tag A (set lookup: the last tag is B)

	hits, _ := d.Metric(stats.MetricHits)
	misses, _ := d.Metric(stats.MetricMisses)
	require.EqualValues(t, 1, hits)
	require.EqualValues(t, 2, misses)
	require.EqualValues(t, 2, d.LoadedBlocks())
}

func TestInclusiveEvictionForcesChildInvalidate(t *testing.T) {
	parent := newTestDevice(t, "L2", 1, 1, Inclusive, false)
	child := newTestDevice(t, "L1D", 4, 4, NonInclusiveNonExclusive, false)
	child.SetParent(parent)
	parent.AddChild(child)

	child.Request(read(0 * 64)) // tag 0, installs at both levels
	require.True(t, child.hasTag(0, 0))
	require.True(t, parent.hasTag(0, 0))

	child.Request(read(1 * 64)) // tag 1 evicts tag 0 at the single-entry parent
	require.True(t, parent.hasTag(1, 0))
	require.False(t, parent.hasTag(0, 0))
	require.False(t, child.hasTag(0, 0), "inclusive parent eviction must invalidate the child's copy")
	require.True(t, child.hasTag(1, 0))

	inv, _ := child.Metric(stats.MetricInclusiveInvalidates)
	require.EqualValues(t, 1, inv)
}

func TestExclusiveParentFillsOnlyFromChildEviction(t *testing.T) {
	parent := newTestDevice(t, "L2", 4, 4, Exclusive, false)
	child := newTestDevice(t, "L1D", 1, 1, NonInclusiveNonExclusive, false)
	child.SetParent(parent)
	parent.AddChild(child)

	child.Request(read(0 * 64)) // tag 0 miss; exclusive parent must NOT self-install
	require.True(t, child.hasTag(0, 0))
	require.False(t, parent.hasTag(0, 0))

	child.Request(read(1 * 64)) // tag 1 evicts tag 0 out of the single-entry child
	require.True(t, child.hasTag(1, 0))
	require.False(t, child.hasTag(0, 0))
	require.True(t, parent.hasTag(0, 0), "the child's clean eviction must fill the exclusive parent")

	// Now an access that only the parent holds must evict-on-hit: the
	// line migrates back down into the child rather than being shared.
	child.Request(read(0 * 64))
	require.True(t, child.hasTag(0, 0))
	require.False(t, parent.hasTag(0, 0), "exclusive parent must drop its copy once the child re-fetches it")
}

func TestTLBKeysByTagAndAsid(t *testing.T) {
	tlb := newTestDevice(t, "DTLB", 4, 4, NonInclusiveNonExclusive, true)

	tlb.Request(memref.Record{Type: memref.Read, Addr: 0, Size: 1, Asid: 1})
	tlb.Request(memref.Record{Type: memref.Read, Addr: 0, Size: 1, Asid: 2})

	require.True(t, tlb.hasTag(0, 1))
	require.True(t, tlb.hasTag(0, 2))

	misses, _ := tlb.Metric(stats.MetricMisses)
	require.EqualValues(t, 2, misses, "same tag under different asids must miss independently")
}

func TestFlushClearsLineAndForwardsToParent(t *testing.T) {
	parent := newTestDevice(t, "L2", 4, 4, NonInclusiveNonExclusive, false)
	child := newTestDevice(t, "L1D", 4, 4, NonInclusiveNonExclusive, false)
	child.SetParent(parent)
	parent.AddChild(child)

	child.Request(read(0))
	require.True(t, child.hasTag(0, 0))
	require.True(t, parent.hasTag(0, 0))

	child.Flush(memref.Record{Type: memref.DataFlush, Addr: 0, Size: 1})
	require.False(t, child.hasTag(0, 0))
	require.False(t, parent.hasTag(0, 0))

	flushes, _ := parent.Metric(stats.MetricFlushes)
	require.EqualValues(t, 1, flushes)
}
