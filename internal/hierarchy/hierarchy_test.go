// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package hierarchy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"cachesim/internal/device"
	"cachesim/internal/memref"
	"cachesim/internal/policy"
	"cachesim/internal/prefetch"
	"cachesim/internal/stats"
)

func basicCache(name, level, parent string, cores []int, numBlocks, assoc uint32, inc device.Inclusion) CacheSpec {
	return CacheSpec{
		Name: name, Level: level, Parent: parent, Cores: cores,
		BlockSize: 64, NumBlocks: numBlocks, Associativity: assoc,
		Inclusion: inc, Policy: policy.LRU,
	}
}

// TestTwoLevelInclusiveCoherentHierarchy builds two cores each with a
// private, snooped L1D under a shared inclusive L2, and checks that a
// write at one core invalidates the other core's stale shared copy.
func TestTwoLevelInclusiveCoherentHierarchy(t *testing.T) {
	spec := Spec{
		NumCores: 2,
		Caches: []CacheSpec{
			basicCache("L2", "l2", "", []int{0, 1}, 16, 8, device.Inclusive),
			basicCache("L1D-0", "l1d", "L2", []int{0}, 4, 4, device.NonInclusiveNonExclusive),
			basicCache("L1D-1", "l1d", "L2", []int{1}, 4, 4, device.NonInclusiveNonExclusive),
		},
		CoherentGroups: [][]string{{"L1D-0", "L1D-1"}},
	}
	h, err := Build(spec)
	require.NoError(t, err)

	core0Read := memref.Record{Type: memref.Read, Tid: 0, Addr: 0, Size: 1}
	core1Read := memref.Record{Type: memref.Read, Tid: 1, Addr: 0, Size: 1}
	core0Write := memref.Record{Type: memref.Write, Tid: 0, Addr: 0, Size: 1}

	require.NoError(t, h.Dispatch(core0Read))  // C0 shares tag 0
	require.NoError(t, h.Dispatch(core1Read))  // C1 also shares tag 0
	require.NoError(t, h.Dispatch(core0Write)) // C0 writes -> invalidates C1's copy

	d1, _ := h.Device("L1D-1")
	require.NotContains(t, d1.Tags(), uint64(0), "the write must have invalidated core 1's shared copy")

	require.NoError(t, h.Dispatch(core1Read)) // C1 must miss again
	misses := h.GetCacheMetric(stats.MetricMisses, "l1d", 1, true)
	require.EqualValues(t, 2, misses, "core 1 should see a compulsory miss and a coherence re-miss")
}

// TestExclusiveLLCBehavesAsLargerCache pings two lines through a
// single-entry L1D backed by a 4-entry exclusive L2; the L1D misses on
// every access, and the exclusive L2 catches what the L1D evicts.
func TestExclusiveLLCBehavesAsLargerCache(t *testing.T) {
	spec := Spec{
		NumCores: 1,
		Caches: []CacheSpec{
			basicCache("L2", "l2", "", []int{0}, 4, 4, device.Exclusive),
			basicCache("L1D-0", "l1d", "L2", []int{0}, 1, 1, device.NonInclusiveNonExclusive),
		},
	}
	h, err := Build(spec)
	require.NoError(t, err)

	tag0 := memref.Record{Type: memref.Read, Tid: 0, Addr: 0, Size: 1}
	tag1 := memref.Record{Type: memref.Read, Tid: 0, Addr: 64, Size: 1}

	require.NoError(t, h.Dispatch(tag0))
	require.NoError(t, h.Dispatch(tag1))
	require.NoError(t, h.Dispatch(tag0))
	require.NoError(t, h.Dispatch(tag1))

	l2Hits := h.GetCacheMetric(stats.MetricHits, "l2", 0, true)
	l1Misses := h.GetCacheMetric(stats.MetricMisses, "l1d", 0, true)
	require.EqualValues(t, 4, l1Misses, "the 1-entry L1D must thrash on every access")
	require.EqualValues(t, 2, l2Hits, "the exclusive L2 must serve what the L1D just evicted")
}

// TestNextLinePrefetcherHalvesMisses walks a purely sequential stream
// of block-aligned addresses; a next-line prefetcher issued on every
// real miss should pre-install the following line, turning every
// other demand access into a hit.
func TestNextLinePrefetcherHalvesMisses(t *testing.T) {
	plain, err := device.New(device.Config{
		Name: "plain", Associativity: 8, BlockSize: 64, NumBlocks: 8,
		Policy: policy.LRU,
	})
	require.NoError(t, err)

	prefetched, err := device.New(device.Config{
		Name: "prefetched", Associativity: 8, BlockSize: 64, NumBlocks: 8,
		Policy: policy.LRU, Prefetcher: prefetch.NewNextLine(64),
	})
	require.NoError(t, err)

	for i := uint64(0); i < 8; i++ {
		rec := memref.Record{Type: memref.Read, Addr: i * 64, Size: 1}
		plain.Request(rec)
		prefetched.Request(rec)
	}

	plainMisses, _ := plain.Metric(stats.MetricMisses)
	prefetchedMisses, _ := prefetched.Metric(stats.MetricMisses)
	require.EqualValues(t, 8, plainMisses)
	require.EqualValues(t, 4, prefetchedMisses, "every other demand access should now hit a prefetched line")
}
