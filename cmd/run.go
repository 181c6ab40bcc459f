// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package cmd

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"cachesim/internal/analyzer"
	"cachesim/internal/config"
	"cachesim/internal/hierarchy"
	"cachesim/internal/report"
	"cachesim/internal/statsexport"
	"cachesim/internal/trace"
	"cachesim/internal/translate"
)

var (
	flagRunConfig           string
	flagRunTrace            string
	flagRunFormat           string
	flagRunOutputFile       string
	flagRunMetricsAddr      string
	flagRunAnalyzeMisses    bool
	flagRunMissThreshold    int
	flagRunMissDominance    float64
	flagRunRecommendOutFile string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a trace through a cache/TLB hierarchy and report the result",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringVar(&flagRunConfig, "config", "", "hierarchy definition file (required)")
	runCmd.Flags().StringVar(&flagRunTrace, "trace", "", "trace file in the simulator's text format (required)")
	runCmd.Flags().StringVar(&flagRunFormat, "format", "text", "report format: text, csv, or xlsx")
	runCmd.Flags().StringVar(&flagRunOutputFile, "out", "", "write the report here instead of stdout (required for xlsx)")
	runCmd.Flags().StringVar(&flagRunMetricsAddr, "metrics-addr", "", "serve live Prometheus metrics on this address while the trace runs")
	runCmd.Flags().BoolVar(&flagRunAnalyzeMisses, "analyze-misses", false, "run the miss-stride analyzer against every LLC and emit prefetch recommendations")
	runCmd.Flags().IntVar(&flagRunMissThreshold, "miss-threshold", 4, "minimum miss count per PC before a recommendation can fire")
	runCmd.Flags().Float64Var(&flagRunMissDominance, "miss-dominance", 0.75, "fraction of strides the dominant stride must reach to be recommended")
	runCmd.Flags().StringVar(&flagRunRecommendOutFile, "recommendations-out", "", "write prefetch recommendations to this CSV file in addition to stderr")
	_ = runCmd.MarkFlagRequired("config")
	_ = runCmd.MarkFlagRequired("trace")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfgFile, err := os.Open(flagRunConfig)
	if err != nil {
		return errors.Wrap(err, "opening config")
	}
	defer cfgFile.Close()

	spec, err := config.Parse(cfgFile)
	if err != nil {
		return errors.Wrap(err, "parsing config")
	}
	if spec.Verbose > 0 {
		gLogLevel.Set(slog.LevelDebug)
	}
	if spec.UsePhysical {
		slog.Warn("use_physical is set but no physical-address translator is wired in; addresses are used as-is")
	}

	h, err := hierarchy.Build(spec)
	if err != nil {
		return errors.Wrap(err, "building hierarchy")
	}
	defer h.Close()

	var missAnalyzer *analyzer.Analyzer
	if flagRunAnalyzeMisses {
		missAnalyzer = analyzer.New(flagRunMissThreshold, flagRunMissDominance)
		h.AttachMissAnalyzer(missAnalyzer)
	}

	var exporter *statsexport.Exporter
	if flagRunMetricsAddr != "" {
		exporter = statsexport.New()
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		exporter.Serve(ctx, flagRunMetricsAddr)
	}

	traceFile, err := os.Open(flagRunTrace)
	if err != nil {
		return errors.Wrap(err, "opening trace")
	}
	stream := trace.NewTextReader(traceFile)
	defer stream.Close()

	if err := driveToCompletion(h, stream, translate.Identity{}, exporter); err != nil {
		return errors.Wrap(err, "running trace")
	}

	rows := report.Collect(h)
	if contextFrom(cmd).Debug {
		slog.Debug("report rows collected", slog.Int("count", len(rows)))
	}
	if err := writeReport(rows, flagRunFormat, flagRunOutputFile); err != nil {
		return err
	}

	if missAnalyzer != nil {
		if err := emitRecommendations(missAnalyzer.Recommendations(), flagRunRecommendOutFile); err != nil {
			return errors.Wrap(err, "emitting prefetch recommendations")
		}
	}
	return nil
}

// emitRecommendations writes the miss-stride analyzer's findings to
// stderr, and additionally to outFile as CSV when one is given.
func emitRecommendations(recs []analyzer.Recommendation, outFile string) error {
	if err := report.RenderRecommendations(os.Stderr, recs); err != nil {
		return err
	}
	if outFile == "" {
		return nil
	}
	f, err := os.Create(outFile)
	if err != nil {
		return errors.Wrap(err, "creating recommendations file")
	}
	defer f.Close()
	return report.RenderRecommendations(f, recs)
}

func driveToCompletion(h *hierarchy.Hierarchy, stream trace.Stream, translator translate.Translator, exporter *statsexport.Exporter) error {
	for {
		rec, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := h.Dispatch(translator.Translate(rec)); err != nil {
			return err
		}
		if exporter != nil {
			exporter.Update(h)
		}
		if h.Done() {
			return nil
		}
	}
}

func writeReport(rows []report.Row, format, outputFile string) error {
	switch format {
	case "xlsx":
		if outputFile == "" {
			return errors.New("--out is required when --format=xlsx")
		}
		return report.RenderWorkbook(outputFile, rows)
	case "csv", "text":
		w := io.Writer(os.Stdout)
		if outputFile != "" {
			f, err := os.Create(outputFile)
			if err != nil {
				return errors.Wrap(err, "creating output file")
			}
			defer f.Close()
			w = f
		}
		if format == "csv" {
			return report.RenderCSV(w, rows)
		}
		return report.RenderText(w, rows)
	default:
		return errors.Errorf("unknown report format %q", format)
	}
}
