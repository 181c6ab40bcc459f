// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"cachesim/internal/batch"
	"cachesim/internal/report"
)

var (
	flagBatchManifest string
	flagBatchFormat   string
	flagBatchOutDir   string
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run every job in a YAML manifest, emitting one report per job",
	RunE:  runBatch,
}

func init() {
	batchCmd.Flags().StringVar(&flagBatchManifest, "manifest", "", "batch manifest file (required)")
	batchCmd.Flags().StringVar(&flagBatchFormat, "format", "text", "report format: text, csv, or xlsx")
	batchCmd.Flags().StringVar(&flagBatchOutDir, "out-dir", "", "directory to write per-job reports into; empty prints text reports to stdout")
	_ = batchCmd.MarkFlagRequired("manifest")
}

func runBatch(cmd *cobra.Command, args []string) error {
	jobs, err := batch.Parse(flagBatchManifest)
	if err != nil {
		return errors.Wrap(err, "parsing batch manifest")
	}

	results := batch.Run(jobs, nil)

	var failed int
	for _, result := range results {
		if result.Err != nil {
			failed++
			slog.Error("batch job failed", slog.String("job", result.Job.Name), slog.String("error", result.Err.Error()))
			fmt.Fprintf(os.Stderr, "job %q failed: %v\n", result.Job.Name, result.Err)
			continue
		}
		rows := report.Collect(result.Hierarchy)
		if err := writeBatchReport(result.Job.Name, rows); err != nil {
			failed++
			slog.Error("failed writing batch report", slog.String("job", result.Job.Name), slog.String("error", err.Error()))
			fmt.Fprintf(os.Stderr, "job %q: failed writing report: %v\n", result.Job.Name, err)
			continue
		}
		if result.Job.AnalyzeMisses {
			fmt.Fprintf(os.Stderr, "=== %s: prefetch recommendations ===\n", result.Job.Name)
			if err := report.RenderRecommendations(os.Stderr, result.Recommendations); err != nil {
				failed++
				slog.Error("failed writing prefetch recommendations", slog.String("job", result.Job.Name), slog.String("error", err.Error()))
				fmt.Fprintf(os.Stderr, "job %q: failed writing recommendations: %v\n", result.Job.Name, err)
			}
		}
	}

	if failed > 0 {
		return errors.Errorf("%d of %d batch jobs failed", failed, len(results))
	}
	return nil
}

func writeBatchReport(jobName string, rows []report.Row) error {
	if flagBatchOutDir == "" && flagBatchFormat != "xlsx" {
		fmt.Printf("=== %s ===\n", jobName)
		if flagBatchFormat == "csv" {
			return report.RenderCSV(os.Stdout, rows)
		}
		return report.RenderText(os.Stdout, rows)
	}

	outDir := flagBatchOutDir
	if outDir == "" {
		outDir = "."
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return errors.Wrap(err, "creating output directory")
	}

	ext := flagBatchFormat
	if ext == "text" {
		ext = "txt"
	}
	path := fmt.Sprintf("%s/%s.%s", outDir, jobName, ext)
	if flagBatchFormat == "xlsx" {
		return report.RenderWorkbook(path, rows)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating report file")
	}
	defer f.Close()
	if flagBatchFormat == "csv" {
		return report.RenderCSV(f, rows)
	}
	return report.RenderText(f, rows)
}
