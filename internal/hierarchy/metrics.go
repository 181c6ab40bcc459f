// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package hierarchy

import "cachesim/internal/errs"

// GetCacheMetric implements the get_cache_metric query API: it
// returns a plain i64, using errs.MetricErrorKind's negative
// sentinels for the handful of ways the query can fail instead of a
// Go error, matching the trace-replay tool this query shape is
// modeled on.
//
// split selects between two readings of a per-core level like "l1d":
// split=true returns the single instance serving core; split=false
// sums the metric across every instance at that level (meaningful for
// an aggregate like total L1D misses machine-wide).
func (h *Hierarchy) GetCacheMetric(metric, level string, core int, split bool) int64 {
	instances, ok := h.byLevel[level]
	if !ok || len(instances) == 0 {
		return int64(errs.MetricWrongLevel)
	}

	if split {
		if core < 0 || core >= h.spec.NumCores {
			return int64(errs.MetricWrongCore)
		}
		for _, inst := range instances {
			if inst.cores[core] {
				v, ok := inst.dev.Metric(metric)
				if !ok {
					return int64(errs.MetricUnknown)
				}
				return v
			}
		}
		return int64(errs.MetricWrongCore)
	}

	var total int64
	found := false
	for _, inst := range instances {
		v, ok := inst.dev.Metric(metric)
		if !ok {
			return int64(errs.MetricUnknown)
		}
		total += v
		found = true
	}
	if !found {
		return int64(errs.MetricNoStats)
	}
	return total
}

// LoadedFraction mirrors GetCacheMetric's addressing for the
// warm-up-detection reading, which is a float outside the i64 counter
// family and so is never returned through GetCacheMetric itself.
func (h *Hierarchy) LoadedFraction(level string, core int) (float64, bool) {
	instances, ok := h.byLevel[level]
	if !ok {
		return 0, false
	}
	for _, inst := range instances {
		if inst.cores[core] {
			return inst.dev.LoadedFraction(), true
		}
	}
	return 0, false
}
