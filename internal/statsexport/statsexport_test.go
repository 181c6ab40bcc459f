// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package statsexport

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"cachesim/internal/device"
	"cachesim/internal/hierarchy"
	"cachesim/internal/memref"
	"cachesim/internal/policy"
	"cachesim/internal/stats"
)

func buildHierarchy(t *testing.T) *hierarchy.Hierarchy {
	t.Helper()
	spec := hierarchy.Spec{
		NumCores: 1,
		Caches: []hierarchy.CacheSpec{
			{Name: "L1D", Level: "l1d", Cores: []int{0}, BlockSize: 64, NumBlocks: 4, Associativity: 4,
				Inclusion: device.NonInclusiveNonExclusive, Policy: policy.LRU},
		},
	}
	h, err := hierarchy.Build(spec)
	require.NoError(t, err)
	require.NoError(t, h.Dispatch(memref.Record{Type: memref.Read, Addr: 0, Size: 1}))
	require.NoError(t, h.Dispatch(memref.Record{Type: memref.Read, Addr: 0, Size: 1}))
	return h
}

func TestUpdateSetsGaugeFromDeviceCounter(t *testing.T) {
	h := buildHierarchy(t)
	e := New()
	e.Update(h)

	metricFamilies, err := e.registry.Gather()
	require.NoError(t, err)

	found := false
	for _, mf := range metricFamilies {
		if mf.GetName() != metricPrefix+stats.MetricHits {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "device" && l.GetValue() == "L1D" {
					require.InDelta(t, 1.0, m.GetGauge().GetValue(), 1e-9)
					found = true
				}
			}
		}
	}
	require.True(t, found, "expected a cachesim_hits gauge labeled device=L1D")
}

func TestHandlerServesMetricsEndpoint(t *testing.T) {
	h := buildHierarchy(t)
	e := New()
	e.Update(h)

	srv := httptest.NewServer(e.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)
}
