// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package analyzer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDominantStrideTriggersRecommendation(t *testing.T) {
	a := New(4, 0.75)
	const pc = 0x401000
	addr := uint64(0x1000)
	for i := 0; i < 6; i++ {
		a.RecordMiss(pc, addr)
		addr += 64
	}

	recs := a.Recommendations()
	require.Len(t, recs, 1)
	require.Equal(t, uint64(pc), recs[0].PC)
	require.EqualValues(t, 64, recs[0].Stride)
	require.Equal(t, DefaultLocality, recs[0].Locality)
	require.InDelta(t, 1.0, recs[0].Confidence, 1e-9)
}

func TestNoisyStrideNeverRecommends(t *testing.T) {
	a := New(4, 0.75)
	const pc = 0x401000
	addrs := []uint64{0x1000, 0x1040, 0x2000, 0x1100, 0x3000, 0x1200}
	for _, addr := range addrs {
		a.RecordMiss(pc, addr)
	}
	require.Empty(t, a.Recommendations())
}

func TestBelowThresholdNeverRecommends(t *testing.T) {
	a := New(4, 0.75)
	a.RecordMiss(1, 0)
	a.RecordMiss(1, 64)
	require.Empty(t, a.Recommendations())
}

func TestSeparatePCsTrackedIndependently(t *testing.T) {
	a := New(4, 0.75)
	for i := 0; i < 6; i++ {
		a.RecordMiss(1, uint64(i)*64)
		a.RecordMiss(2, uint64(i)*128)
	}
	recs := a.Recommendations()
	require.Len(t, recs, 2)
	strides := map[uint64]int64{}
	for _, r := range recs {
		strides[r.PC] = r.Stride
	}
	require.EqualValues(t, 64, strides[1])
	require.EqualValues(t, 128, strides[2])
}
