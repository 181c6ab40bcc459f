// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

// Package errs holds the typed error taxonomy shared across the
// simulator core: construction-time errors are returned to the caller
// and abort hierarchy creation, per-memref errors abort the run.
package errs

import "fmt"

// ConfigError signals a malformed or structurally invalid config: an
// unknown policy/prefetcher, a name collision, an orphan parent, a
// cycle, an out-of-range core, or a size/assoc shape violation.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return "config error: " + e.Msg }

func NewConfigError(format string, args ...any) *ConfigError {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// InitError signals a failure to acquire a resource during
// construction, e.g. a miss-dump file that cannot be opened.
type InitError struct {
	Msg string
}

func (e *InitError) Error() string { return "init error: " + e.Msg }

func NewInitError(format string, args ...any) *InitError {
	return &InitError{Msg: fmt.Sprintf(format, args...)}
}

// UnhandledRecordError is raised when the dispatcher receives a memref
// type it cannot route. It carries the offending type's string value
// so the caller's message is actionable.
type UnhandledRecordError struct {
	RecordType string
}

func (e *UnhandledRecordError) Error() string {
	return fmt.Sprintf("unhandled record type: %s", e.RecordType)
}

func NewUnhandledRecordError(recordType string) *UnhandledRecordError {
	return &UnhandledRecordError{RecordType: recordType}
}

// MetricErrorKind enumerates the negative-sentinel families returned
// by the metric API. It is never returned as a Go error —
// callers compare the returned int64 against these constants.
type MetricErrorKind int64

const (
	MetricWrongCore  MetricErrorKind = -1
	MetricWrongLevel MetricErrorKind = -2
	MetricNoStats    MetricErrorKind = -3
	MetricUnknown    MetricErrorKind = -4
)
