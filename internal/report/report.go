// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

// Package report renders a finished hierarchy's per-device counters
// as text, CSV, or an .xlsx workbook.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"
	"golang.org/x/term"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"cachesim/internal/analyzer"
	"cachesim/internal/hierarchy"
	"cachesim/internal/stats"
)

// Row is one device's rendered counter snapshot.
type Row struct {
	Device  string
	Metrics stats.Counters
	HitRate float64
}

// Collect snapshots every device in h, in the hierarchy's
// construction order.
func Collect(h *hierarchy.Hierarchy) []Row {
	rows := make([]Row, 0, len(h.DeviceNames()))
	for _, name := range h.DeviceNames() {
		dev, ok := h.Device(name)
		if !ok {
			continue
		}
		snap := dev.Stats.Snapshot()
		row := Row{Device: name, Metrics: snap}
		if total := snap.Hits + snap.Misses; total > 0 {
			row.HitRate = float64(snap.Hits) / float64(total)
		}
		rows = append(rows, row)
	}
	return rows
}

var columnOrder = []string{"hits", "misses", "hit_rate", "compulsory_misses", "child_hits", "prefetch_hits", "prefetch_misses", "flushes"}

// columnInt returns a column's raw integer value and whether it is an
// integer column at all (hit_rate is not).
func columnInt(r Row, col string) (int64, bool) {
	switch col {
	case "hits":
		return r.Metrics.Hits, true
	case "misses":
		return r.Metrics.Misses, true
	case "compulsory_misses":
		return r.Metrics.CompulsoryMisses, true
	case "child_hits":
		return r.Metrics.ChildHits, true
	case "prefetch_hits":
		return r.Metrics.PrefetchHits, true
	case "prefetch_misses":
		return r.Metrics.PrefetchMisses, true
	case "flushes":
		return r.Metrics.Flushes, true
	default:
		return 0, false
	}
}

func columnValue(r Row, col string) string {
	if col == "hit_rate" {
		return fmt.Sprintf("%.4f", r.HitRate)
	}
	if v, ok := columnInt(r, col); ok {
		return fmt.Sprintf("%d", v)
	}
	return ""
}

// RenderText writes a human-readable table, comma-grouping large
// counters and capping the device-name column at a third of the
// terminal width (of 100 columns when w is not a terminal); longer
// names are truncated.
func RenderText(w io.Writer, rows []Row) error {
	printer := message.NewPrinter(language.English)
	width := terminalWidth(w)

	nameWidth := len("device")
	for _, r := range rows {
		if len(r.Device) > nameWidth {
			nameWidth = len(r.Device)
		}
	}
	if nameWidth > width/3 {
		nameWidth = width / 3
	}

	header := fmt.Sprintf("%-*s", nameWidth, "device")
	for _, col := range columnOrder {
		header += fmt.Sprintf("  %12s", col)
	}
	if _, err := fmt.Fprintln(w, header); err != nil {
		return errors.Wrap(err, "writing report header")
	}

	for _, r := range rows {
		line := fmt.Sprintf("%-*s", nameWidth, truncate(r.Device, nameWidth))
		for _, col := range columnOrder {
			var v string
			if n, ok := columnInt(r, col); ok {
				v = printer.Sprintf("%d", n)
			} else {
				v = columnValue(r, col)
			}
			line += fmt.Sprintf("  %12s", v)
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return errors.Wrap(err, "writing report row")
		}
	}
	return nil
}

// RenderCSV writes one row per device plus a header, for spreadsheet
// import or scripted post-processing.
func RenderCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	header := append([]string{"device"}, columnOrder...)
	if err := cw.Write(header); err != nil {
		return errors.Wrap(err, "writing csv header")
	}
	for _, r := range rows {
		record := make([]string, 0, len(columnOrder)+1)
		record = append(record, r.Device)
		for _, col := range columnOrder {
			record = append(record, columnValue(r, col))
		}
		if err := cw.Write(record); err != nil {
			return errors.Wrap(err, "writing csv row")
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "flushing csv")
}

// RenderWorkbook writes an .xlsx companion report: one sheet per
// device with its full counter set, plus a "Summary" sheet comparing
// hit rates across devices.
func RenderWorkbook(path string, rows []Row) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	const summary = "Summary"
	if err := f.SetSheetName("Sheet1", summary); err != nil {
		return errors.Wrap(err, "renaming default sheet")
	}
	if err := f.SetSheetRow(summary, "A1", &[]string{"device", "hits", "misses", "hit_rate"}); err != nil {
		return errors.Wrap(err, "writing summary header")
	}
	for i, r := range rows {
		cell := fmt.Sprintf("A%d", i+2)
		if err := f.SetSheetRow(summary, cell, &[]any{r.Device, r.Metrics.Hits, r.Metrics.Misses, r.HitRate}); err != nil {
			return errors.Wrapf(err, "writing summary row for %s", r.Device)
		}
	}

	for _, r := range rows {
		sheet := sanitizeSheetName(r.Device)
		if _, err := f.NewSheet(sheet); err != nil {
			return errors.Wrapf(err, "creating sheet for %s", r.Device)
		}
		if err := f.SetSheetRow(sheet, "A1", &[]string{"metric", "value"}); err != nil {
			return errors.Wrapf(err, "writing header for %s", r.Device)
		}
		values := [][2]any{
			{"hits", r.Metrics.Hits}, {"misses", r.Metrics.Misses},
			{"compulsory_misses", r.Metrics.CompulsoryMisses}, {"child_hits", r.Metrics.ChildHits},
			{"inclusive_invalidates", r.Metrics.InclusiveInvalidates}, {"coherence_invalidates", r.Metrics.CoherenceInvalidates},
			{"prefetch_hits", r.Metrics.PrefetchHits}, {"prefetch_misses", r.Metrics.PrefetchMisses},
			{"flushes", r.Metrics.Flushes}, {"hit_rate", r.HitRate},
		}
		for i, kv := range values {
			cell := fmt.Sprintf("A%d", i+2)
			if err := f.SetSheetRow(sheet, cell, &[]any{kv[0], kv[1]}); err != nil {
				return errors.Wrapf(err, "writing %s row for %s", kv[0], r.Device)
			}
		}
	}

	if err := f.SaveAs(path); err != nil {
		return errors.Wrapf(err, "saving workbook to %s", path)
	}
	return nil
}

// RenderRecommendations writes the miss-stride analyzer's output as
// "pc,stride,locality" rows, pc in hex, matching the miss-dump file's
// "0x<hex>" convention.
func RenderRecommendations(w io.Writer, recs []analyzer.Recommendation) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"pc", "stride", "locality"}); err != nil {
		return errors.Wrap(err, "writing recommendation csv header")
	}
	for _, r := range recs {
		record := []string{fmt.Sprintf("0x%x", r.PC), fmt.Sprintf("%d", r.Stride), r.Locality}
		if err := cw.Write(record); err != nil {
			return errors.Wrap(err, "writing recommendation csv row")
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "flushing recommendation csv")
}

func sanitizeSheetName(name string) string {
	r := strings.NewReplacer("[", "(", "]", ")", ":", "-", "/", "-", "\\", "-", "?", "", "*", "")
	s := r.Replace(name)
	if len(s) > 31 {
		s = s[:31]
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}

func terminalWidth(w io.Writer) int {
	const defaultWidth = 100
	f, ok := w.(*os.File)
	if !ok {
		return defaultWidth
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		return defaultWidth
	}
	return width
}

