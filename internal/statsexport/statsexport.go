// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

// Package statsexport mirrors a running hierarchy's counters onto a
// Prometheus GaugeVec labeled by device name, so a long batch run can
// be watched live instead of only read from the final report. The
// exporter only reads stats snapshots; it never touches the
// hierarchy's dispatch path.
package statsexport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cachesim/internal/hierarchy"
	"cachesim/internal/stats"
)

const metricPrefix = "cachesim_"

// Exporter owns one GaugeVec per counter name and a private registry,
// so multiple Exporters (one per batch job, say) never collide.
type Exporter struct {
	registry *prometheus.Registry
	gauges   map[string]*prometheus.GaugeVec
}

// New builds an Exporter with its own gauges registered against a
// fresh registry.
func New() *Exporter {
	e := &Exporter{
		registry: prometheus.NewRegistry(),
		gauges:   make(map[string]*prometheus.GaugeVec, len(stats.MetricNames)),
	}
	for _, name := range stats.MetricNames {
		gauge := prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + name,
				Help: "Cache/TLB device counter " + name + ", mirrored from the simulator's stats collector.",
			},
			[]string{"device"},
		)
		e.gauges[name] = gauge
		e.registry.MustRegister(gauge)
	}
	return e
}

// Update snapshots every device in h and sets its gauges accordingly.
// Call it after each Dispatch batch, or on a ticker in a batch run.
func (e *Exporter) Update(h *hierarchy.Hierarchy) {
	for _, name := range h.DeviceNames() {
		dev, ok := h.Device(name)
		if !ok {
			continue
		}
		for _, metric := range stats.MetricNames {
			v, ok := dev.Metric(metric)
			if !ok {
				continue
			}
			e.gauges[metric].WithLabelValues(name).Set(float64(v))
		}
	}
}

// Handler returns the /metrics endpoint handler for this Exporter's
// private registry.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Serve starts an HTTP server on addr exposing /metrics, returning
// immediately; the server runs until ctx is cancelled.
func (e *Exporter) Serve(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 3 * time.Second}
	slog.Info("starting metrics server", slog.String("address", addr))
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server stopped", slog.String("error", err.Error()))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
}
