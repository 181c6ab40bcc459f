// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package hierarchy

import (
	"cachesim/internal/errs"
	"cachesim/internal/memref"
)

// Dispatch feeds one memref through the hierarchy:
// skip_refs records never touch a device; warmup_refs records do, but
// their effect on counters is erased the instant the measurement
// window opens; sim_refs bounds how many records are actually
// measured before the run is considered complete. Names and semantics
// follow the skip/warmup/sim-refs windowing of the trace-replay tool
// this design is modeled on.
func (h *Hierarchy) Dispatch(rec memref.Record) error {
	if h.done {
		return nil
	}

	if rec.Type == memref.Marker && rec.MarkerKind == memref.MarkerCpuID {
		if h.spec.CPUScheduling {
			h.threadCore[rec.Tid] = int(rec.MarkerVal) % max(h.spec.NumCores, 1)
		}
		return nil
	}
	if rec.Type == memref.Marker || rec.Type == memref.ThreadExit {
		if rec.Type == memref.ThreadExit {
			delete(h.threadCore, rec.Tid)
		}
		return nil
	}

	if h.totalSeen < h.spec.SkipRefs {
		h.totalSeen++
		return nil
	}
	h.totalSeen++
	h.processed++

	if h.spec.WarmupRefs > 0 && h.processed == h.spec.WarmupRefs+1 {
		h.ResetAllStats()
	}
	if !h.warmedUp && h.spec.WarmupFraction > 0 && h.loadedFraction() >= h.spec.WarmupFraction {
		h.warmedUp = true
		h.ResetAllStats()
	}

	core := h.coreFor(rec.Tid)

	switch {
	case rec.Type.IsInstruction():
		if tlb, ok := h.itlbByCore[core]; ok {
			tlb.Request(rec)
		}
		if l1i, ok := h.l1iByCore[core]; ok {
			l1i.Request(rec)
		} else {
			return errs.NewUnhandledRecordError(rec.Type.String())
		}
	case rec.Type.IsData():
		if tlb, ok := h.dtlbByCore[core]; ok {
			tlb.Request(rec)
		}
		if l1d, ok := h.l1dByCore[core]; ok {
			l1d.Request(rec)
		} else {
			return errs.NewUnhandledRecordError(rec.Type.String())
		}
	case rec.Type == memref.InstrFlush:
		if l1i, ok := h.l1iByCore[core]; ok {
			l1i.Flush(rec)
		}
	case rec.Type == memref.DataFlush:
		if l1d, ok := h.l1dByCore[core]; ok {
			l1d.Flush(rec)
		}
	default:
		return errs.NewUnhandledRecordError(rec.Type.String())
	}

	if h.spec.SimRefs > 0 && h.processed >= h.spec.WarmupRefs+h.spec.SimRefs {
		h.done = true
	}
	return nil
}

// Done reports whether sim_refs has been satisfied and further
// records would be ignored.
func (h *Hierarchy) Done() bool { return h.done }

// loadedFraction returns the minimum loaded fraction across every root
// cache (the LLCs), used by warmup_fraction as an alternative to
// warmup_refs: once every LLC is itself this full, the measurement
// window opens.
func (h *Hierarchy) loadedFraction() float64 {
	if len(h.rootDevs) == 0 {
		return 0
	}
	min := 1.0
	for _, dev := range h.rootDevs {
		if f := dev.LoadedFraction(); f < min {
			min = f
		}
	}
	return min
}

// coreFor applies the sticky thread->core mapping: a thread is
// assigned the next core round-robin the first time it is seen, and
// keeps it for the rest of the run unless a MarkerCpuID overrides it.
func (h *Hierarchy) coreFor(tid int64) int {
	if core, ok := h.threadCore[tid]; ok {
		return core
	}
	core := h.nextCore % max(h.spec.NumCores, 1)
	h.nextCore++
	h.threadCore[tid] = core
	return core
}
