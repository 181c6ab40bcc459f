// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

// Package block defines the per-way storage cell of a caching device:
// a tag, its replacement-policy metadata, and an optional TLB
// address-space id.
package block

// TagInvalid marks a way as empty. No legitimate tag ever equals it
// because tags are non-negative block indices.
const TagInvalid uint64 = ^uint64(0)

// Block is one way's worth of state. Meta is opaque to everything but
// the device's replacement policy; devices never interpret it.
type Block struct {
	Tag  uint64
	Meta uint32
	Asid uint32 // populated only for TLB blocks
}

// Valid reports whether the way currently holds a real line.
func (b *Block) Valid() bool { return b.Tag != TagInvalid }

// Clear resets the way to empty, as done by invalidate/flush.
func (b *Block) Clear() {
	b.Tag = TagInvalid
	b.Asid = 0
}
