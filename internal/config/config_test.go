// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"cachesim/internal/device"
)

const twoCoreConfig = `
num_cores 2
line_size 64
warmup_refs 1000
sim_refs 100000
model_coherence

L2 {
	type unified
	size 256K
	assoc 8
	replace_policy LRU
	inclusive
}

L1D-0 {
	type data
	core 0
	size 32K
	assoc 8
	parent L2
}

L1D-1 {
	type data
	core 1
	size 32K
	assoc 8
	parent L2
}
`

func TestParseBuildsCoresAndCoherentGroup(t *testing.T) {
	spec, err := Parse(strings.NewReader(twoCoreConfig))
	require.NoError(t, err)
	require.Equal(t, 2, spec.NumCores)
	require.EqualValues(t, 1000, spec.WarmupRefs)
	require.EqualValues(t, 100000, spec.SimRefs)
	require.Len(t, spec.Caches, 3)

	names := map[string]bool{}
	for _, c := range spec.Caches {
		names[c.Name] = true
	}
	require.True(t, names["L2"])
	require.True(t, names["L1D-0"])
	require.True(t, names["L1D-1"])

	require.Len(t, spec.CoherentGroups, 1)
	require.ElementsMatch(t, []string{"L1D-0", "L1D-1"}, spec.CoherentGroups[0])

	for _, c := range spec.Caches {
		switch c.Name {
		case "L1D-0":
			require.Equal(t, "L2", c.Parent)
			require.Equal(t, []int{0}, c.Cores)
			require.Equal(t, "l1d", c.Level)
		case "L2":
			require.Equal(t, device.Inclusive, c.Inclusion)
			require.Equal(t, "l2", c.Level)
			require.Equal(t, "", c.Parent)
		}
	}
}

func TestParseAcceptsSizeSuffixes(t *testing.T) {
	const cfg = `
num_cores 1
line_size 64
L1D {
	type data
	core 0
	size 32K
	assoc 8
}
`
	spec, err := Parse(strings.NewReader(cfg))
	require.NoError(t, err)
	require.Len(t, spec.Caches, 1)
	require.EqualValues(t, 512, spec.Caches[0].NumBlocks) // 32K / 64
}

func TestParseDerivesTagHashFromCoherenceAndMidLevel(t *testing.T) {
	const cfg = `
num_cores 1
line_size 64
model_coherence

LLC {
	type unified
	size 1M
	assoc 16
}

L2 {
	type unified
	size 256K
	assoc 8
	parent LLC
}

L1D {
	type data
	core 0
	size 32K
	assoc 8
	parent L2
}
`
	spec, err := Parse(strings.NewReader(cfg))
	require.NoError(t, err)
	for _, c := range spec.Caches {
		require.True(t, c.UseTagHash, "cache %s should use tag hash once coherence is modeled with a mid level present", c.Name)
	}
}

func TestParseRejectsUnknownDirective(t *testing.T) {
	_, err := Parse(strings.NewReader("bogus_directive 1\n"))
	require.Error(t, err)
}

func TestParseRejectsBadSizeShape(t *testing.T) {
	const bad = `
num_cores 1
line_size 64
L1D {
	type data
	core 0
	size 100
	assoc 8
}
`
	_, err := Parse(strings.NewReader(bad))
	require.Error(t, err, "100 is not a multiple of line_size 64")
}

func TestParseRejectsMissingClosingBrace(t *testing.T) {
	_, err := Parse(strings.NewReader("num_cores 1\nL1D {\ntype data\n"))
	require.Error(t, err)
}

func TestParseRejectsUnknownParent(t *testing.T) {
	const cfg = `
num_cores 1
line_size 64
L1D {
	type data
	core 0
	size 32K
	assoc 8
	parent NOPE
}
`
	_, err := Parse(strings.NewReader(cfg))
	require.Error(t, err)
}

func TestParseRejectsCoreOutOfRange(t *testing.T) {
	const cfg = `
num_cores 1
line_size 64
L1D {
	type data
	core 5
	size 32K
	assoc 8
}
`
	_, err := Parse(strings.NewReader(cfg))
	require.Error(t, err)
}

func TestParseRejectsInclusiveAndExclusiveTogether(t *testing.T) {
	const cfg = `
num_cores 1
line_size 64
L1D {
	type data
	core 0
	size 32K
	assoc 8
	inclusive
	exclusive
}
`
	_, err := Parse(strings.NewReader(cfg))
	require.Error(t, err)
}

func TestParseHonorsCustomPrefetcherExpression(t *testing.T) {
	const cfg = `
num_cores 1
line_size 64
L1D {
	type data
	core 0
	size 32K
	assoc 8
	prefetcher custom
	prefetcher_expr stride > 0
}
`
	spec, err := Parse(strings.NewReader(cfg))
	require.NoError(t, err)
	require.Equal(t, "custom", spec.Caches[0].PrefetcherKind)
	require.Equal(t, "stride > 0", spec.Caches[0].PrefetcherExpr)
}
