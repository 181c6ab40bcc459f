// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

// Package policy implements the per-set replacement policies a caching
// device can be parameterized with: LRU, FIFO, LFU, and Bit-PLRU. A
// policy owns no device state beyond its own per-set metadata arrays;
// policies never share state across devices.
package policy

import (
	"fmt"
	"strings"
)

// Kind names a replacement-policy variant, as accepted by the config
// reader's replace_policy key.
type Kind int

const (
	LRU Kind = iota
	FIFO
	LFU
	BitPLRU
)

func ParseKind(s string) (Kind, error) {
	switch strings.ToUpper(s) {
	case "LRU":
		return LRU, nil
	case "FIFO":
		return FIFO, nil
	case "LFU":
		return LFU, nil
	case "BIT_PLRU":
		return BitPLRU, nil
	default:
		return 0, fmt.Errorf("unknown replacement policy %q", s)
	}
}

func (k Kind) String() string {
	switch k {
	case LRU:
		return "LRU"
	case FIFO:
		return "FIFO"
	case LFU:
		return "LFU"
	case BitPLRU:
		return "BIT_PLRU"
	default:
		return "UNKNOWN"
	}
}

// Policy is the per-device replacement-policy capability. Dispatch
// happens once, at device construction (New), so the hot request path
// only ever calls through a concrete interface value — no per-access
// type switch.
type Policy interface {
	// AccessUpdate records a hit (or a fresh install) at (set, way).
	AccessUpdate(set, way int)
	// ReplaceWhichWay picks a victim way for set and commits whatever
	// bookkeeping the policy needs to reflect the pending install.
	ReplaceWhichWay(set int) int
	// GetNextWayToReplace previews the victim without committing.
	GetNextWayToReplace(set int) int
}

// Ways exposes read-only validity of a set's blocks to a policy, so
// every policy can honor the "invalid ways first" rule without
// depending on the device package (which would be a cycle).
type Ways interface {
	Valid(set, way int) bool
	Associativity() int
}

// firstInvalidWay returns the lowest-indexed empty way in the set, or
// -1 if the set is full. All four policies consult this before
// falling back to their own metadata.
func firstInvalidWay(w Ways, set int) int {
	for way := 0; way < w.Associativity(); way++ {
		if !w.Valid(set, way) {
			return way
		}
	}
	return -1
}

// New constructs the named policy for a device with the given
// geometry. seed is only consulted by Bit-PLRU, whose tie-break among
// bit=0 ways is randomized; tests pin it for determinism.
func New(kind Kind, numSets, associativity int, seed int64, ways Ways) (Policy, error) {
	switch kind {
	case LRU:
		return newLRU(numSets, associativity, ways), nil
	case FIFO:
		return newFIFO(numSets, associativity, ways), nil
	case LFU:
		return newLFU(numSets, associativity, ways), nil
	case BitPLRU:
		return newBitPLRU(numSets, associativity, seed, ways), nil
	default:
		return nil, fmt.Errorf("unknown replacement policy kind %d", kind)
	}
}
