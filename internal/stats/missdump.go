// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package stats

import (
	"bufio"
	"fmt"
	"os"

	"github.com/pkg/errors"
)

// missSink appends "0x<pc>,0x<addr>\n" per miss to a file. The Go
// runtime marks file descriptors opened via os.OpenFile close-on-exec
// by default, satisfying the requirement that a child process never
// inherit this handle.
type missSink struct {
	f *os.File
	w *bufio.Writer
}

func newMissSink(path string) (*missSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "opening miss dump %s", path)
	}
	return &missSink{f: f, w: bufio.NewWriter(f)}, nil
}

func (m *missSink) Write(pc, addr uint64) error {
	_, err := fmt.Fprintf(m.w, "0x%x,0x%x\n", pc, addr)
	return err
}

func (m *missSink) Close() error {
	if err := m.w.Flush(); err != nil {
		_ = m.f.Close()
		return err
	}
	return m.f.Close()
}
