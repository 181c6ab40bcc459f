// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

// Package device implements the generic set-associative caching
// device: a single type parameterized by a replacement
// policy and, via a key-width flag, specialized into a data/instr
// Cache or a tag+asid-keyed TLB. Parent/child pointers form an
// arena-owned tree: children are owned by their parent's slice,
// parent is a non-owning back-reference installed by the hierarchy
// driver after construction.
package device

import (
	"math/bits"

	"github.com/pkg/errors"

	"cachesim/internal/analyzer"
	"cachesim/internal/block"
	"cachesim/internal/memref"
	"cachesim/internal/policy"
	"cachesim/internal/prefetch"
	"cachesim/internal/snoop"
	"cachesim/internal/stats"
)

// Inclusion is the tri-state enum replacing the historical pair of
// booleans that could both be set at once.
type Inclusion int

const (
	NonInclusiveNonExclusive Inclusion = iota
	Inclusive
	Exclusive
)

func (i Inclusion) String() string {
	switch i {
	case Inclusive:
		return "inclusive"
	case Exclusive:
		return "exclusive"
	default:
		return "non-inclusive/non-exclusive"
	}
}

type hashKey struct {
	tag  uint64
	asid uint32
}

// Config describes everything needed to construct one device. The
// hierarchy driver wires Parent/Children/snoop membership afterward.
type Config struct {
	Name          string
	Associativity uint32
	BlockSize     uint32
	NumBlocks     uint32
	Inclusion     Inclusion
	IsTLB         bool
	Policy        policy.Kind
	PolicySeed    int64
	Prefetcher    prefetch.Prefetcher // nil for none; never set on a TLB
	MissFilePath  string
	UseTagHash    bool
}

// Device is the generic caching device. A Cache and a TLB are
// both *Device values; IsTLB only changes the lookup key width
// (tag+asid). Invalidate and Flush match on tag alone: for each tag
// they drop the first way holding it, whatever its asid.
type Device struct {
	Name          string
	associativity uint32
	blockSize     uint32
	numBlocks     uint32
	numSets       uint32
	blockShift    uint32
	isTLB         bool

	blocks []block.Block

	parent   *Device
	children []*Device

	inclusion Inclusion
	coherent  bool
	snoopID   int
	snoopFlt  *snoop.Filter

	pol        policy.Policy
	prefetcher prefetch.Prefetcher
	Stats      *stats.Collector
	analyzer   *analyzer.Analyzer

	tagHash map[hashKey]int // tag(+asid) -> block index; nil if disabled

	lastValid bool
	lastTag   uint64
	lastAsid  uint32
	lastSet   int
	lastWay   int

	loadedBlocks uint32
}

// New validates geometry and builds a device. The
// returned device has no parent/children/snoop membership yet; the
// hierarchy driver wires those via SetParent/AddChild/SetSnoop.
func New(cfg Config) (*Device, error) {
	if cfg.BlockSize < 4 || cfg.BlockSize&(cfg.BlockSize-1) != 0 {
		return nil, errors.Errorf("device %s: block_size %d must be a power of two >= 4", cfg.Name, cfg.BlockSize)
	}
	if cfg.Associativity == 0 || cfg.NumBlocks%cfg.Associativity != 0 {
		return nil, errors.Errorf("device %s: num_blocks %d must be a multiple of associativity %d", cfg.Name, cfg.NumBlocks, cfg.Associativity)
	}
	numSets := cfg.NumBlocks / cfg.Associativity
	if numSets&(numSets-1) != 0 {
		return nil, errors.Errorf("device %s: set count %d must be a power of two", cfg.Name, numSets)
	}
	if cfg.Inclusion == Exclusive && cfg.IsTLB {
		return nil, errors.Errorf("device %s: a TLB cannot be exclusive", cfg.Name)
	}
	if cfg.IsTLB && cfg.Prefetcher != nil {
		return nil, errors.Errorf("device %s: a TLB cannot have a prefetcher", cfg.Name)
	}

	col, err := stats.NewCollector(cfg.Name, cfg.BlockSize, cfg.MissFilePath)
	if err != nil {
		return nil, errors.Wrapf(err, "device %s", cfg.Name)
	}

	d := &Device{
		Name:          cfg.Name,
		associativity: cfg.Associativity,
		blockSize:     cfg.BlockSize,
		numBlocks:     cfg.NumBlocks,
		numSets:       numSets,
		blockShift:    uint32(bits.TrailingZeros32(cfg.BlockSize)),
		isTLB:         cfg.IsTLB,
		blocks:        make([]block.Block, cfg.NumBlocks),
		inclusion:     cfg.Inclusion,
		prefetcher:    cfg.Prefetcher,
		Stats:         col,
		snoopID:       -1,
	}
	for i := range d.blocks {
		d.blocks[i].Tag = block.TagInvalid
	}
	if cfg.UseTagHash {
		d.tagHash = make(map[hashKey]int, 1<<16)
	}
	pol, err := policy.New(cfg.Policy, int(numSets), int(cfg.Associativity), cfg.PolicySeed, d)
	if err != nil {
		return nil, errors.Wrapf(err, "device %s", cfg.Name)
	}
	d.pol = pol
	return d, nil
}

// SetParent installs the non-owning parent back-reference.
func (d *Device) SetParent(p *Device) { d.parent = p }

// Parent returns the device's parent, or nil at an LLC.
func (d *Device) Parent() *Device { return d.parent }

// AddChild adds an owned child to this device's children list.
func (d *Device) AddChild(c *Device) { d.children = append(d.children, c) }

// Children returns the device's children.
func (d *Device) Children() []*Device { return d.children }

// SetSnoop marks the device as a member of a coherence domain with
// the given dense snoop id.
func (d *Device) SetSnoop(id int, f *snoop.Filter) {
	d.coherent = true
	d.snoopID = id
	d.snoopFlt = f
}

// SetAnalyzer attaches a miss-stride analyzer that watches this
// device's read misses alongside its ordinary counters. Intended for
// an LLC.
func (d *Device) SetAnalyzer(a *analyzer.Analyzer) { d.analyzer = a }

func (d *Device) IsTLB() bool          { return d.isTLB }
func (d *Device) Inclusion() Inclusion { return d.inclusion }
func (d *Device) Coherent() bool       { return d.coherent }
func (d *Device) Associativity() int   { return int(d.associativity) }
func (d *Device) BlockSize() uint32    { return d.blockSize }
func (d *Device) NumSets() int         { return int(d.numSets) }
func (d *Device) NumBlocks() uint32    { return d.numBlocks }
func (d *Device) LoadedBlocks() uint32 { return d.loadedBlocks }
func (d *Device) LoadedFraction() float64 {
	return float64(d.loadedBlocks) / float64(d.numBlocks)
}

// Valid implements policy.Ways.
func (d *Device) Valid(set, way int) bool {
	return d.blocks[set*int(d.associativity)+way].Valid()
}

func (d *Device) computeTag(addr uint64) uint64 { return addr >> d.blockShift }
func (d *Device) setFor(tag uint64) int         { return int(tag % uint64(d.numSets)) }

func (d *Device) key(tag uint64, asid uint32) hashKey {
	if d.isTLB {
		return hashKey{tag: tag, asid: asid}
	}
	return hashKey{tag: tag}
}

// lookup finds (set, way) for tag(+asid), via the tag hash if enabled
// else a linear scan of the set.
func (d *Device) lookup(set int, tag uint64, asid uint32) (way int, found bool) {
	if d.tagHash != nil {
		idx, ok := d.tagHash[d.key(tag, asid)]
		if !ok {
			return -1, false
		}
		return idx - set*int(d.associativity), true
	}
	base := set * int(d.associativity)
	for w := 0; w < int(d.associativity); w++ {
		b := &d.blocks[base+w]
		if b.Valid() && b.Tag == tag && (!d.isTLB || b.Asid == asid) {
			return w, true
		}
	}
	return -1, false
}

func (d *Device) hasTag(tag uint64, asid uint32) bool {
	_, found := d.lookup(d.setFor(tag), tag, asid)
	return found
}

func (d *Device) anyChildHas(tag uint64, asid uint32) bool {
	for _, c := range d.children {
		if c.hasTag(tag, asid) {
			return true
		}
	}
	return false
}

// propagateChildHits bumps child_hits on every ancestor above d.
func (d *Device) propagateChildHits() {
	for p := d.parent; p != nil; p = p.parent {
		p.Stats.ChildHit()
	}
}

func (d *Device) clearLastAccessIfMatches(tag uint64) {
	if d.lastValid && d.lastTag == tag {
		d.lastValid = false
	}
}

func (d *Device) rememberLastAccess(tag uint64, asid uint32, set, way int) {
	d.lastValid = true
	d.lastTag = tag
	d.lastAsid = asid
	d.lastSet = set
	d.lastWay = way
}

// clearWay empties a way, keeping the tag hash in sync and dropping
// the fast-path remembered tag if it matched.
func (d *Device) clearWay(set, way int) {
	base := set*int(d.associativity) + way
	b := &d.blocks[base]
	if !b.Valid() {
		return
	}
	if d.tagHash != nil {
		delete(d.tagHash, d.key(b.Tag, b.Asid))
	}
	d.clearLastAccessIfMatches(b.Tag)
	b.Clear()
}

// installTag overwrites (set, way) with tag/asid and returns whatever
// was displaced, without yet deciding what to do about it.
func (d *Device) installTag(set, way int, tag uint64, asid uint32) (victimTag uint64, victimAsid uint32, victimValid bool) {
	base := set*int(d.associativity) + way
	b := &d.blocks[base]
	victimTag, victimAsid, victimValid = b.Tag, b.Asid, b.Valid()
	if d.tagHash != nil {
		if victimValid {
			delete(d.tagHash, d.key(victimTag, victimAsid))
		}
		d.tagHash[d.key(tag, asid)] = base
	}
	b.Tag = tag
	b.Asid = asid
	return
}

// disposeVictim runs the eviction side effects
// for whatever installTag just displaced.
func (d *Device) disposeVictim(victimTag uint64, victimAsid uint32, wasValid bool) {
	if !wasValid {
		d.loadedBlocks++
		return
	}
	if d.inclusion == Inclusive {
		for _, c := range d.children {
			c.Invalidate(victimTag, snoop.InclusionForced)
		}
		return
	}
	childStillHas := d.anyChildHas(victimTag, victimAsid)
	if d.coherent && d.snoopFlt != nil && !childStillHas {
		d.snoopFlt.SnoopEviction(victimTag, d.snoopID)
	}
	if !childStillHas && d.parent != nil && d.parent.inclusion == Exclusive {
		d.parent.receiveEvictionFill(victimTag, victimAsid)
	}
}

// receiveEvictionFill is how an exclusive parent gets its lines: a
// child's clean eviction installs here instead of being dropped.
func (d *Device) receiveEvictionFill(tag uint64, asid uint32) {
	set := d.setFor(tag)
	if _, found := d.lookup(set, tag, asid); found {
		return
	}
	way := d.pol.ReplaceWhichWay(set)
	victimTag, victimAsid, victimValid := d.installTag(set, way, tag, asid)
	d.disposeVictim(victimTag, victimAsid, victimValid)
}

// Invalidate drops tag if present, propagating further per reason.
// It implements snoop.Invalidator.
func (d *Device) Invalidate(tag uint64, reason snoop.Reason) {
	set := d.setFor(tag)
	base := set * int(d.associativity)
	for way := 0; way < int(d.associativity); way++ {
		b := &d.blocks[base+way]
		if !b.Valid() || b.Tag != tag {
			continue
		}
		d.clearWay(set, way)
		switch reason {
		case snoop.InclusionForced:
			d.Stats.InclusiveInvalidate()
			if d.inclusion == Inclusive {
				for _, c := range d.children {
					c.Invalidate(tag, snoop.InclusionForced)
				}
			}
		case snoop.Coherence:
			d.Stats.CoherenceInvalidate()
			for _, c := range d.children {
				c.Invalidate(tag, snoop.Coherence)
			}
		}
		return
	}
}

// Flush drops every line in [addr, addr+size) without inclusion or
// coherence side effects, then forwards to the parent.
func (d *Device) Flush(rec memref.Record) {
	if rec.Size == 0 {
		rec.Size = 1
	}
	startTag := d.computeTag(rec.Addr)
	endTag := d.computeTag(rec.Addr + uint64(rec.Size) - 1)
	for tag := startTag; tag <= endTag; tag++ {
		set := d.setFor(tag)
		base := set * int(d.associativity)
		for way := 0; way < int(d.associativity); way++ {
			b := &d.blocks[base+way]
			if b.Valid() && b.Tag == tag {
				d.clearWay(set, way)
				break
			}
		}
	}
	d.lastValid = false
	if d.parent != nil {
		d.parent.Flush(rec)
	}
	d.Stats.Flush()
}

// Request decomposes rec into per-tag sub-requests and drives each
// through the hit/miss/eviction contract.
func (d *Device) Request(rec memref.Record) {
	if rec.Size == 0 {
		rec.Size = 1
	}
	startTag := d.computeTag(rec.Addr)
	endTag := d.computeTag(rec.Addr + uint64(rec.Size) - 1)
	for tag := startTag; tag <= endTag; tag++ {
		d.requestTag(rec, tag)
	}
}

func (d *Device) requestTag(rec memref.Record, tag uint64) {
	asid := rec.Asid
	alignedAddr := tag << d.blockShift

	// Fast path: only for non-writes on a non-exclusive
	// device, since a write must still reach the snoop filter / parent
	// every time and an exclusive hit must still evict-on-hit below.
	if d.lastValid && d.lastTag == tag && (!d.isTLB || d.lastAsid == asid) && !rec.Type.IsWrite() && d.inclusion != Exclusive {
		d.Stats.Access(rec, true, alignedAddr)
		d.pol.AccessUpdate(d.lastSet, d.lastWay)
		d.propagateChildHits()
		return
	}

	set := d.setFor(tag)
	if way, found := d.lookup(set, tag, asid); found {
		d.Stats.Access(rec, true, alignedAddr)
		if d.inclusion == Exclusive {
			// The line moves down into the requesting child rather
			// than being copied.
			d.clearWay(set, way)
			d.propagateChildHits()
			return
		}
		if rec.Type.IsWrite() {
			if d.coherent && d.snoopFlt != nil {
				d.snoopFlt.Snoop(tag, d.snoopID, true)
			} else if d.parent != nil {
				d.parent.Request(rec)
			}
		}
		d.pol.AccessUpdate(set, way)
		d.propagateChildHits()
		d.rememberLastAccess(tag, asid, set, way)
		return
	}

	// Miss. An exclusive device never self-installs on
	// a miss; it only gains lines via a child's clean eviction
	// (receiveEvictionFill), so it skips straight to forwarding.
	var way int
	if d.inclusion != Exclusive {
		way = d.pol.ReplaceWhichWay(set)
	}
	d.Stats.Access(rec, false, alignedAddr)
	if d.analyzer != nil && rec.Type == memref.Read {
		d.analyzer.RecordMiss(rec.PC, alignedAddr)
	}
	if d.parent != nil {
		d.parent.Request(rec)
	}
	if d.coherent && d.snoopFlt != nil {
		d.snoopFlt.Snoop(tag, d.snoopID, rec.Type.IsWrite())
	}
	if d.inclusion != Exclusive {
		victimTag, victimAsid, victimValid := d.installTag(set, way, tag, asid)
		d.disposeVictim(victimTag, victimAsid, victimValid)
		d.rememberLastAccess(tag, asid, set, way)
	}

	if !rec.Type.IsPrefetch() && d.prefetcher != nil {
		d.prefetcher.Prefetch(d, rec)
	}
}

// Metric looks up a named counter on this device's collector.
func (d *Device) Metric(name string) (int64, bool) { return d.Stats.Get(name) }

// Tags returns every tag currently resident, for invariant tests.
func (d *Device) Tags() []uint64 {
	var out []uint64
	for i := range d.blocks {
		if d.blocks[i].Valid() {
			out = append(out, d.blocks[i].Tag)
		}
	}
	return out
}
