// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

// Package snoop implements the MOESI-lite coherence directory shared
// by a hierarchy's "snooped" (private, coherent) caches. It tracks, per tag, which caches hold the
// line and whether it is dirty, and issues invalidations on writes.
package snoop

import (
	mapset "github.com/deckarep/golang-set/v2"
)

// Reason distinguishes why a caching device is being asked to drop a
// tag: because an inclusive parent evicted it, or because a sibling's
// write broke coherence.
type Reason int

const (
	InclusionForced Reason = iota
	Coherence
)

// Invalidator is the callback surface a snooped cache exposes to the
// filter. Defined here, not in the device package, so device -> snoop
// stays a one-way dependency.
type Invalidator interface {
	Invalidate(tag uint64, reason Reason)
}

// Entry is the directory row for one tag: the dense ids of caches
// sharing it, and whether exactly one of them holds it dirty.
type Entry struct {
	Sharers mapset.Set[int]
	Dirty   bool
}

// Filter is the coherence directory for the caches listed in caches,
// indexed by their dense "snoop id".
type Filter struct {
	caches  []Invalidator
	entries map[uint64]*Entry

	Writes      int64
	Writebacks  int64
	Invalidates int64
}

// New builds a filter over the given snooped caches, in snoop-id
// order. NumSnooped() == len(caches).
func New(caches []Invalidator) *Filter {
	return &Filter{caches: caches, entries: make(map[uint64]*Entry)}
}

func (f *Filter) NumSnooped() int { return len(f.caches) }

func (f *Filter) entryFor(tag uint64) *Entry {
	e, ok := f.entries[tag]
	if !ok {
		e = &Entry{Sharers: mapset.NewThreadUnsafeSet[int]()}
		f.entries[tag] = e
	}
	return e
}

// Entry exposes a read-only view of a tag's directory row, for
// invariant testing; it returns (Entry{}, false) if the tag was never
// touched.
func (f *Filter) Entry(tag uint64) (Entry, bool) {
	e, ok := f.entries[tag]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Snoop processes a hit or miss against tag by requesterID, a write or
// a read.
func (f *Filter) Snoop(tag uint64, requesterID int, isWrite bool) {
	e := f.entryFor(tag)
	wasSharer := e.Sharers.Contains(requesterID)
	if !wasSharer && e.Dirty {
		f.Writebacks++
		e.Dirty = false
	}
	if isWrite {
		f.Writes++
		e.Dirty = true
		for _, sharer := range e.Sharers.ToSlice() {
			if sharer == requesterID {
				continue
			}
			f.caches[sharer].Invalidate(tag, Coherence)
			e.Sharers.Remove(sharer)
			f.Invalidates++
		}
	}
	e.Sharers.Add(requesterID)
}

// SnoopEviction processes a clean or dirty eviction of tag from
// evicterID's cache. It is a no-op if the tag has no
// directory entry or evicterID is not currently a recorded sharer.
func (f *Filter) SnoopEviction(tag uint64, evicterID int) {
	e, ok := f.entries[tag]
	if !ok || !e.Sharers.Contains(evicterID) {
		return
	}
	if e.Dirty {
		f.Writebacks++
		e.Dirty = false
	}
	e.Sharers.Remove(evicterID)
}
