// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

// Package stats implements the per-device counter collector:
// hit/miss/child-hit/invalidate/flush/prefetch counts, compulsory-miss
// tracking via an address-interval set, and an optional miss-dump
// file sink.
package stats

import (
	"log/slog"

	"github.com/pkg/errors"

	"cachesim/internal/memref"
)

// Counters holds the raw, saturating-safe (never overflow-wrapping in
// practice at these magnitudes) i64 counts.
type Counters struct {
	Hits                 int64
	Misses               int64
	CompulsoryMisses     int64
	ChildHits            int64
	InclusiveInvalidates int64
	CoherenceInvalidates int64
	PrefetchHits         int64
	PrefetchMisses       int64
	Flushes              int64
	HitsAtReset          int64
	MissesAtReset        int64
	ChildHitsAtReset     int64
}

// Collector is owned by exactly one device; only that device and the
// hierarchy-level report printer read or write it.
type Collector struct {
	DeviceName string
	BlockSize  uint32

	c          Counters
	compulsory *intervalSet
	sink       *missSink
	// Success is demoted to false if the miss-dump file could not be
	// kept open; stats emission itself never fails the run.
	Success bool
}

// NewCollector builds a collector for a device. missFilePath may be
// empty, meaning no miss dump is written.
func NewCollector(deviceName string, blockSize uint32, missFilePath string) (*Collector, error) {
	col := &Collector{
		DeviceName: deviceName,
		BlockSize:  blockSize,
		compulsory: newIntervalSet(),
		Success:    true,
	}
	if missFilePath != "" {
		sink, err := newMissSink(missFilePath)
		if err != nil {
			col.Success = false
			slog.Warn("miss-dump file unavailable, continuing without it",
				slog.String("device", deviceName), slog.String("path", missFilePath), slog.String("error", err.Error()))
			return col, nil
		}
		col.sink = sink
	}
	return col, nil
}

// Close releases the miss-dump file handle, if any.
func (c *Collector) Close() error {
	if c.sink == nil {
		return nil
	}
	return errors.Wrapf(c.sink.Close(), "closing miss dump for %s", c.DeviceName)
}

// Reset snapshots the live counters into the "...AtReset" fields and
// zeroes them, used at the end of the warm-up window.
func (c *Collector) Reset() {
	c.c.HitsAtReset = c.c.Hits
	c.c.MissesAtReset = c.c.Misses
	c.c.ChildHitsAtReset = c.c.ChildHits
	c.c.Hits = 0
	c.c.Misses = 0
	c.c.ChildHits = 0
	c.c.CompulsoryMisses = 0
	c.c.InclusiveInvalidates = 0
	c.c.CoherenceInvalidates = 0
	c.c.PrefetchHits = 0
	c.c.PrefetchMisses = 0
	c.c.Flushes = 0
}

// Access records one sub-request's outcome against addr (already
// block-aligned by the caller). Prefetch-type records count toward
// PrefetchHits/PrefetchMisses instead of Hits/Misses and are never
// checked for compulsory-ness; a software-prefetch miss is still
// written to the miss dump, a hardware-prefetch miss is not. A demand
// miss is checked against the compulsory-miss interval set and written
// to the miss dump.
func (c *Collector) Access(rec memref.Record, hit bool, addr uint64) {
	if rec.Type.IsPrefetch() {
		if hit {
			c.c.PrefetchHits++
		} else {
			c.c.PrefetchMisses++
			if rec.Type != memref.HardwarePrefetch {
				c.recordMissSideEffects(rec, addr, false)
			}
		}
		return
	}
	if hit {
		c.c.Hits++
		return
	}
	c.c.Misses++
	c.recordMissSideEffects(rec, addr, true)
}

func (c *Collector) recordMissSideEffects(rec memref.Record, addr uint64, checkCompulsory bool) {
	if checkCompulsory {
		if first := c.compulsory.Insert(addr, uint64(c.BlockSize)); first {
			c.c.CompulsoryMisses++
		}
	}
	if c.sink != nil {
		if err := c.sink.Write(rec.PC, addr); err != nil {
			slog.Warn("failed writing miss dump entry", slog.String("device", c.DeviceName), slog.String("error", err.Error()))
			c.Success = false
		}
	}
}

// ChildHit records one hit served by a descendant device; the device
// layer calls it on every ancestor of the device that hit.
func (c *Collector) ChildHit() { c.c.ChildHits++ }

func (c *Collector) InclusiveInvalidate() { c.c.InclusiveInvalidates++ }
func (c *Collector) CoherenceInvalidate() { c.c.CoherenceInvalidates++ }
func (c *Collector) Flush()               { c.c.Flushes++ }

// Snapshot returns a copy of the live counters.
func (c *Collector) Snapshot() Counters { return c.c }

// Metric names exposed by Get/the hierarchy metric API.
const (
	MetricHits                 = "hits"
	MetricMisses               = "misses"
	MetricCompulsoryMisses     = "compulsory_misses"
	MetricChildHits            = "child_hits"
	MetricInclusiveInvalidates = "inclusive_invalidates"
	MetricCoherenceInvalidates = "coherence_invalidates"
	MetricPrefetchHits         = "prefetch_hits"
	MetricPrefetchMisses       = "prefetch_misses"
	MetricFlushes              = "flushes"
	MetricHitsAtReset          = "hits_at_reset"
	MetricMissesAtReset        = "misses_at_reset"
	MetricChildHitsAtReset     = "child_hits_at_reset"
)

// MetricNames is the fixed enumeration exposed by Get and the hierarchy metric API.
var MetricNames = []string{
	MetricHits, MetricMisses, MetricCompulsoryMisses, MetricChildHits,
	MetricInclusiveInvalidates, MetricCoherenceInvalidates,
	MetricPrefetchHits, MetricPrefetchMisses, MetricFlushes,
	MetricHitsAtReset, MetricMissesAtReset, MetricChildHitsAtReset,
}

// Get looks up a counter by its fixed metric name.
func (c *Collector) Get(name string) (int64, bool) {
	switch name {
	case MetricHits:
		return c.c.Hits, true
	case MetricMisses:
		return c.c.Misses, true
	case MetricCompulsoryMisses:
		return c.c.CompulsoryMisses, true
	case MetricChildHits:
		return c.c.ChildHits, true
	case MetricInclusiveInvalidates:
		return c.c.InclusiveInvalidates, true
	case MetricCoherenceInvalidates:
		return c.c.CoherenceInvalidates, true
	case MetricPrefetchHits:
		return c.c.PrefetchHits, true
	case MetricPrefetchMisses:
		return c.c.PrefetchMisses, true
	case MetricFlushes:
		return c.c.Flushes, true
	case MetricHitsAtReset:
		return c.c.HitsAtReset, true
	case MetricMissesAtReset:
		return c.c.MissesAtReset, true
	case MetricChildHitsAtReset:
		return c.c.ChildHitsAtReset, true
	default:
		return 0, false
	}
}
