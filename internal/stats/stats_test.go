// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package stats

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"cachesim/internal/memref"
)

func TestAccessCountsHitsAndMisses(t *testing.T) {
	c, err := NewCollector("L1D", 64, "")
	require.NoError(t, err)

	c.Access(memref.Record{Type: memref.Read, Addr: 0}, false, 0)
	c.Access(memref.Record{Type: memref.Read, Addr: 0}, true, 0)
	c.Access(memref.Record{Type: memref.Write, Addr: 64}, false, 64)

	hits, _ := c.Get(MetricHits)
	misses, _ := c.Get(MetricMisses)
	compulsory, _ := c.Get(MetricCompulsoryMisses)
	require.EqualValues(t, 1, hits)
	require.EqualValues(t, 2, misses)
	require.EqualValues(t, 2, compulsory)
}

func TestCompulsoryMissOnlyCountsFirstTouch(t *testing.T) {
	c, err := NewCollector("L1D", 64, "")
	require.NoError(t, err)

	c.Access(memref.Record{Type: memref.Read, Addr: 0}, false, 0)
	c.Access(memref.Record{Type: memref.Read, Addr: 0}, false, 0) // conflict miss, not compulsory

	compulsory, _ := c.Get(MetricCompulsoryMisses)
	misses, _ := c.Get(MetricMisses)
	require.EqualValues(t, 1, compulsory)
	require.EqualValues(t, 2, misses)
}

func TestResetSnapshotsThenZeroes(t *testing.T) {
	c, err := NewCollector("L1D", 64, "")
	require.NoError(t, err)
	c.Access(memref.Record{Type: memref.Read}, true, 0)
	c.Access(memref.Record{Type: memref.Read}, false, 64)
	c.Reset()

	hits, _ := c.Get(MetricHits)
	atReset, _ := c.Get(MetricHitsAtReset)
	require.EqualValues(t, 0, hits)
	require.EqualValues(t, 1, atReset)
}

func TestMissDumpWritesHexPairsAndCloses(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "misses.csv")
	c, err := NewCollector("L1D", 64, path)
	require.NoError(t, err)
	require.True(t, c.Success)

	c.Access(memref.Record{Type: memref.Read, PC: 0x400000, Addr: 0x1000}, false, 0x1000)
	require.NoError(t, c.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan())
	require.Equal(t, "0x400000,0x1000", scanner.Text())
}

func TestMissDumpUnwritableDemotesSuccess(t *testing.T) {
	c, err := NewCollector("L1D", 64, filepath.Join(t.TempDir(), "nope", "misses.csv"))
	require.NoError(t, err)
	require.False(t, c.Success)
}
