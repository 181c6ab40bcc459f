// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package hierarchy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"cachesim/internal/device"
	"cachesim/internal/memref"
	"cachesim/internal/policy"
)

func TestDeriveCoherentGroupsSingleLLCWalksDownToBranch(t *testing.T) {
	caches := []CacheSpec{
		{Name: "LLC", Parent: ""},
		{Name: "L2", Parent: "LLC"},
		{Name: "L1D-0", Parent: "L2"},
		{Name: "L1D-1", Parent: "L2"},
	}
	groups := DeriveCoherentGroups(caches)
	require.Len(t, groups, 1)
	require.ElementsMatch(t, []string{"L1D-0", "L1D-1"}, groups[0])
}

func TestDeriveCoherentGroupsMultipleLLCsAreTheSnoopedSet(t *testing.T) {
	caches := []CacheSpec{
		{Name: "LLC-0", Parent: "memory"},
		{Name: "LLC-1", Parent: "memory"},
	}
	groups := DeriveCoherentGroups(caches)
	require.Len(t, groups, 1)
	require.ElementsMatch(t, []string{"LLC-0", "LLC-1"}, groups[0])
}

func TestDeriveCoherentGroupsSingleChainHasNoSharing(t *testing.T) {
	caches := []CacheSpec{
		{Name: "LLC", Parent: ""},
		{Name: "L1D", Parent: "LLC"},
	}
	require.Nil(t, DeriveCoherentGroups(caches))
}

// TestCPUSchedulingGatesMarkerCpuID checks that a MarkerCpuID record
// only overrides the sticky thread->core map when cpu_scheduling is
// enabled; otherwise it is ignored and round-robin assignment stands.
func TestCPUSchedulingGatesMarkerCpuID(t *testing.T) {
	newSpec := func(cpuScheduling bool) Spec {
		return Spec{
			NumCores:      2,
			CPUScheduling: cpuScheduling,
			Caches: []CacheSpec{
				basicCache("L1D-0", "l1d", "", []int{0}, 4, 4, device.NonInclusiveNonExclusive),
				basicCache("L1D-1", "l1d", "", []int{1}, 4, 4, device.NonInclusiveNonExclusive),
			},
		}
	}

	marker := memref.Record{Type: memref.Marker, MarkerKind: memref.MarkerCpuID, Tid: 0, MarkerVal: 1}
	read := memref.Record{Type: memref.Read, Tid: 0, Addr: 0, Size: 1}

	h, err := Build(newSpec(true))
	require.NoError(t, err)
	require.NoError(t, h.Dispatch(marker))
	require.Equal(t, 1, h.coreFor(0))
	require.NoError(t, h.Dispatch(read))
	dev1, ok := h.Device("L1D-1")
	require.True(t, ok)
	require.EqualValues(t, 1, dev1.Stats.Snapshot().Misses, "the read must land on core 1's L1D once the marker overrides routing")

	h2, err := Build(newSpec(false))
	require.NoError(t, err)
	require.NoError(t, h2.Dispatch(marker))
	require.Equal(t, 0, h2.coreFor(0))
	require.NoError(t, h2.Dispatch(read))
	dev0, ok := h2.Device("L1D-0")
	require.True(t, ok)
	require.EqualValues(t, 1, dev0.Stats.Snapshot().Misses, "without cpu_scheduling the marker is ignored and the read stays on core 0")
}

// TestWarmupFractionResetsStatsOnceLLCFills drives enough distinct
// addresses through a tiny LLC-only hierarchy to fill it completely,
// and checks that stats reset exactly once when warmup_fraction is
// reached, without a warmup_refs count configured at all.
func TestWarmupFractionResetsStatsOnceLLCFills(t *testing.T) {
	spec := Spec{
		NumCores:       1,
		WarmupFraction: 1.0,
		Caches: []CacheSpec{
			{
				Name: "L1D", Level: "l1d", Cores: []int{0},
				BlockSize: 64, NumBlocks: 4, Associativity: 4,
				Policy: policy.LRU,
			},
		},
	}
	h, err := Build(spec)
	require.NoError(t, err)

	// Fill the cache completely: 4 distinct lines, 4 misses. The
	// warmup_fraction check runs before each dispatch's own access, so
	// the reset cannot fire until the NEXT record after the cache is
	// already full.
	for i := uint64(0); i < 4; i++ {
		require.NoError(t, h.Dispatch(memref.Record{Type: memref.Read, Addr: i * 64, Size: 1}))
	}
	dev, _ := h.Device("L1D")
	require.EqualValues(t, 4, dev.Stats.Snapshot().Misses)

	require.NoError(t, h.Dispatch(memref.Record{Type: memref.Read, Addr: 0, Size: 1}))
	require.EqualValues(t, 0, dev.Stats.Snapshot().Misses, "stats must have reset once the cache became fully loaded")
	require.EqualValues(t, 4, dev.Stats.Snapshot().MissesAtReset)
	require.EqualValues(t, 1, dev.Stats.Snapshot().Hits, "the post-reset access is a hit on the already-resident line")
}
