// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

// Package translate is the narrow external-collaborator boundary for
// address-space translation: something that can remap a raw trace
// record's pid/tid/address before it reaches the hierarchy driver.
// The core only ever consumes this interface; it never implements
// real virtual-to-physical translation itself.
package translate

import "cachesim/internal/memref"

// Translator remaps a record before dispatch. Implementations must be
// safe to call once per record, in trace order.
type Translator interface {
	Translate(rec memref.Record) memref.Record
}

// Identity is the default translator: it passes every record through
// unchanged, for traces that are already in the hierarchy's address
// space.
type Identity struct{}

func (Identity) Translate(rec memref.Record) memref.Record { return rec }
