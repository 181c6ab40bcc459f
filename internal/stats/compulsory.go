// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package stats

import "sort"

// interval is a half-open, block-aligned address range [Start, End).
type interval struct {
	Start, End uint64
}

// intervalSet is an ordered set of disjoint, non-adjacent address
// intervals used to detect compulsory misses: the first time a
// block-aligned address is ever inserted, it wasn't already covered
// by an existing interval.
type intervalSet struct {
	ivs []interval
}

func newIntervalSet() *intervalSet { return &intervalSet{} }

// contains reports whether addr already falls inside a tracked
// interval, without mutating the set.
func (s *intervalSet) contains(addr uint64) bool {
	i := sort.Search(len(s.ivs), func(i int) bool { return s.ivs[i].End > addr })
	return i < len(s.ivs) && s.ivs[i].Start <= addr
}

// Insert records that [addr, addr+blockSize) has been touched and
// returns true iff this is the first time any part of that block-
// aligned address was seen (i.e. a compulsory miss).
func (s *intervalSet) Insert(addr, blockSize uint64) bool {
	if s.contains(addr) {
		return false
	}
	end := addr + blockSize
	overflowed := end < addr // wrapped past the address-space maximum
	if overflowed {
		end = ^uint64(0)
	}

	// Find insertion point: first interval whose Start is >= addr.
	i := sort.Search(len(s.ivs), func(i int) bool { return s.ivs[i].Start >= addr })

	var prevAdj, nextAdj bool
	if i > 0 && s.ivs[i-1].End == addr {
		prevAdj = true
	}
	if !overflowed && i < len(s.ivs) && s.ivs[i].Start == end {
		nextAdj = true
	}

	switch {
	case prevAdj && nextAdj:
		// Merge the three: extend the preceding interval to swallow
		// both the new block and the following interval.
		s.ivs[i-1].End = s.ivs[i].End
		s.ivs = append(s.ivs[:i], s.ivs[i+1:]...)
	case prevAdj:
		s.ivs[i-1].End = end
	case nextAdj:
		s.ivs[i].Start = addr
	default:
		s.ivs = append(s.ivs, interval{})
		copy(s.ivs[i+1:], s.ivs[i:])
		s.ivs[i] = interval{Start: addr, End: end}
	}
	return true
}

// Count returns the number of distinct block-aligned addresses ever
// inserted.
func (s *intervalSet) Count(blockSize uint64) uint64 {
	var total uint64
	for _, iv := range s.ivs {
		total += (iv.End - iv.Start) / blockSize
	}
	return total
}
