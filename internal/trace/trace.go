// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

// Package trace is the narrow external-collaborator boundary the
// hierarchy driver reads memrefs through. The
// core never parses a trace file itself; only a Stream implementation
// does.
package trace

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"cachesim/internal/memref"
)

// Stream yields memref.Records one at a time. Next returns io.EOF
// once the stream is exhausted.
type Stream interface {
	Next() (memref.Record, error)
	Close() error
}

var typeNames = map[string]memref.Type{
	"read": memref.Read, "write": memref.Write,
	"instr_fetch": memref.InstrFetch, "instr_prefetch": memref.InstrPrefetch,
	"data_prefetch": memref.DataPrefetch, "hardware_prefetch": memref.HardwarePrefetch,
	"instr_flush": memref.InstrFlush, "data_flush": memref.DataFlush,
	"thread_exit": memref.ThreadExit, "marker": memref.Marker,
}

// TextReader reads the simulator's plain-text trace format: one
// record per line, whitespace-separated fields
//
//	type pid tid pc addr size asid
//
// with pc/addr in hex (0x-prefixed) and the rest decimal. Blank lines
// and lines starting with '#' are skipped. This is the format
// cmd/run's --trace flag expects when no other collaborator is
// wired in.
type TextReader struct {
	scanner *bufio.Scanner
	closer  io.Closer
	lineNo  int
}

// NewTextReader wraps r; if r also implements io.Closer, Close closes
// it.
func NewTextReader(r io.Reader) *TextReader {
	tr := &TextReader{scanner: bufio.NewScanner(r)}
	if c, ok := r.(io.Closer); ok {
		tr.closer = c
	}
	return tr
}

func (t *TextReader) Close() error {
	if t.closer == nil {
		return nil
	}
	return t.closer.Close()
}

// Next parses and returns the next non-blank, non-comment line.
func (t *TextReader) Next() (memref.Record, error) {
	for t.scanner.Scan() {
		t.lineNo++
		line := strings.TrimSpace(t.scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return parseLine(line, t.lineNo)
	}
	if err := t.scanner.Err(); err != nil {
		return memref.Record{}, errors.Wrapf(err, "reading trace at line %d", t.lineNo)
	}
	return memref.Record{}, io.EOF
}

func parseLine(line string, lineNo int) (memref.Record, error) {
	fields := strings.Fields(line)
	if len(fields) < 7 {
		return memref.Record{}, errors.Errorf("trace line %d: expected 7 fields, got %d", lineNo, len(fields))
	}
	typ, ok := typeNames[fields[0]]
	if !ok {
		return memref.Record{}, errors.Errorf("trace line %d: unknown record type %q", lineNo, fields[0])
	}
	pid, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return memref.Record{}, errors.Wrapf(err, "trace line %d: pid", lineNo)
	}
	tid, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return memref.Record{}, errors.Wrapf(err, "trace line %d: tid", lineNo)
	}
	pc, err := strconv.ParseUint(fields[3], 0, 64)
	if err != nil {
		return memref.Record{}, errors.Wrapf(err, "trace line %d: pc", lineNo)
	}
	addr, err := strconv.ParseUint(fields[4], 0, 64)
	if err != nil {
		return memref.Record{}, errors.Wrapf(err, "trace line %d: addr", lineNo)
	}
	size, err := strconv.ParseUint(fields[5], 10, 32)
	if err != nil {
		return memref.Record{}, errors.Wrapf(err, "trace line %d: size", lineNo)
	}
	asid, err := strconv.ParseUint(fields[6], 10, 32)
	if err != nil {
		return memref.Record{}, errors.Wrapf(err, "trace line %d: asid", lineNo)
	}
	return memref.Record{
		Type: typ, Pid: pid, Tid: tid, PC: pc, Addr: addr,
		Size: uint32(size), Asid: uint32(asid),
	}, nil
}
