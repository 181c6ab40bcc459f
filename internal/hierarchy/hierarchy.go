// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

// Package hierarchy assembles caching devices into a forest rooted at
// memory, wires coherence groups, and drives a memref stream through
// it with skip/warmup/sim-refs windowing and thread->core routing.
// It is the only package that imports both device and config-shaped
// descriptions; nothing below it knows a hierarchy exists.
package hierarchy

import (
	"log/slog"

	"cachesim/internal/analyzer"
	"cachesim/internal/device"
	"cachesim/internal/errs"
	"cachesim/internal/policy"
	"cachesim/internal/prefetch"
	"cachesim/internal/snoop"
)

// CacheSpec describes one physical device instance. The config reader
// (or a test's hand-built Spec) is responsible for already having
// expanded "one L1D per core" into one CacheSpec per core; the driver
// never replicates specs itself.
type CacheSpec struct {
	Name          string
	Level         string // "l1i", "l1d", "l2", "l3", "dtlb", "itlb", ...
	Cores         []int  // cores that route through this instance
	Parent        string // another CacheSpec's Name, or "" for an LLC
	BlockSize     uint32
	NumBlocks     uint32
	Associativity uint32
	Inclusion     device.Inclusion
	Policy        policy.Kind
	PolicySeed    int64
	IsTLB         bool
	UseTagHash    bool
	MissFilePath  string

	PrefetcherKind string // "", "nextline", "custom"
	PrefetcherExpr string // only for "custom"
}

// Spec is the fully-resolved description of a hierarchy build, the
// common target both internal/config and hand-built test fixtures
// produce.
type Spec struct {
	NumCores       int
	Caches         []CacheSpec
	CoherentGroups [][]string // cache names sharing one snoop.Filter; see DeriveCoherentGroups

	SkipRefs       uint64
	WarmupRefs     uint64
	SimRefs        uint64  // 0 means unlimited
	WarmupFraction float64 // alternative to WarmupRefs: reset at this loaded fraction, 0 disables

	CPUScheduling bool // honor memref.MarkerCpuID; false always round-robins
	UsePhysical   bool // informational: the caller is expected to wire a real translate.Translator
	Verbose       uint32
}

// DeriveCoherentGroups implements the "model_coherence" placement
// policy: the snoop filter attaches to the set of caches directly
// below the first level at which lines are shared. With a single
// root, walk down while every visited node has exactly one child;
// the first branching node's children become the snooped set. With
// multiple roots (multiple LLCs sharing memory), the roots themselves
// are the snooped set.
func DeriveCoherentGroups(caches []CacheSpec) [][]string {
	children := make(map[string][]string)
	var roots []string
	for _, cs := range caches {
		parent := cs.Parent
		if parent == "" || parent == "memory" {
			roots = append(roots, cs.Name)
			continue
		}
		children[parent] = append(children[parent], cs.Name)
	}
	if len(roots) == 0 {
		return nil
	}
	if len(roots) > 1 {
		return [][]string{roots}
	}
	cur := roots[0]
	for {
		kids := children[cur]
		if len(kids) != 1 {
			break
		}
		cur = kids[0]
	}
	kids := children[cur]
	if len(kids) < 2 {
		return nil
	}
	return [][]string{kids}
}

type instance struct {
	dev   *device.Device
	level string
	cores map[int]bool
}

// Hierarchy is a built, running simulation: the device tree plus the
// dispatch/windowing state machine that drives it.
type Hierarchy struct {
	spec Spec

	byName  map[string]*device.Device
	byLevel map[string][]*instance

	l1dByCore   map[int]*device.Device
	l1iByCore   map[int]*device.Device
	dtlbByCore  map[int]*device.Device
	itlbByCore  map[int]*device.Device

	threadCore map[int64]int
	nextCore   int

	totalSeen  uint64
	processed  uint64
	done       bool
	warmedUp   bool
	rootDevs   []*device.Device
}

// Build validates and constructs every device, wires parent/child
// pointers and coherence groups, and returns a ready-to-drive
// Hierarchy. Construction errors are always *errs.ConfigError or
// *errs.InitError.
func Build(spec Spec) (*Hierarchy, error) {
	h := &Hierarchy{
		spec:       spec,
		byName:     make(map[string]*device.Device),
		byLevel:    make(map[string][]*instance),
		l1dByCore:  make(map[int]*device.Device),
		l1iByCore:  make(map[int]*device.Device),
		dtlbByCore: make(map[int]*device.Device),
		itlbByCore: make(map[int]*device.Device),
		threadCore: make(map[int64]int),
	}

	for _, cs := range spec.Caches {
		if _, dup := h.byName[cs.Name]; dup {
			return nil, errs.NewConfigError("duplicate cache name %q", cs.Name)
		}
		var pf prefetch.Prefetcher
		switch cs.PrefetcherKind {
		case "":
		case "nextline":
			pf = prefetch.NewNextLine(uint64(cs.BlockSize))
		case "custom":
			custom, err := prefetch.NewCustom(cs.PrefetcherExpr, uint64(cs.BlockSize))
			if err != nil {
				return nil, errs.NewConfigError("cache %q: %s", cs.Name, err.Error())
			}
			pf = custom
		default:
			return nil, errs.NewConfigError("cache %q: unknown prefetcher %q", cs.Name, cs.PrefetcherKind)
		}

		dev, err := device.New(device.Config{
			Name:          cs.Name,
			Associativity: cs.Associativity,
			BlockSize:     cs.BlockSize,
			NumBlocks:     cs.NumBlocks,
			Inclusion:     cs.Inclusion,
			IsTLB:         cs.IsTLB,
			Policy:        cs.Policy,
			PolicySeed:    cs.PolicySeed,
			Prefetcher:    pf,
			MissFilePath:  cs.MissFilePath,
			UseTagHash:    cs.UseTagHash,
		})
		if err != nil {
			return nil, errs.NewConfigError("cache %q: %s", cs.Name, err.Error())
		}

		h.byName[cs.Name] = dev
		inst := &instance{dev: dev, level: cs.Level, cores: toCoreSet(cs.Cores)}
		h.byLevel[cs.Level] = append(h.byLevel[cs.Level], inst)

		for _, core := range cs.Cores {
			if core < 0 || core >= spec.NumCores {
				return nil, errs.NewConfigError("cache %q: core %d out of range [0,%d)", cs.Name, core, spec.NumCores)
			}
			switch cs.Level {
			case "l1d":
				h.l1dByCore[core] = dev
			case "l1i":
				h.l1iByCore[core] = dev
			case "l1u":
				h.l1dByCore[core] = dev
				h.l1iByCore[core] = dev
			case "dtlb":
				h.dtlbByCore[core] = dev
			case "itlb":
				h.itlbByCore[core] = dev
			}
		}
	}

	for _, cs := range spec.Caches {
		if cs.Parent == "" || cs.Parent == "memory" {
			continue
		}
		parent, ok := h.byName[cs.Parent]
		if !ok {
			return nil, errs.NewConfigError("cache %q: parent %q does not exist", cs.Name, cs.Parent)
		}
		child := h.byName[cs.Name]
		child.SetParent(parent)
		parent.AddChild(child)
	}

	for _, group := range spec.CoherentGroups {
		members := make([]snoop.Invalidator, 0, len(group))
		devs := make([]*device.Device, 0, len(group))
		for _, name := range group {
			dev, ok := h.byName[name]
			if !ok {
				return nil, errs.NewConfigError("coherent group references unknown cache %q", name)
			}
			members = append(members, dev)
			devs = append(devs, dev)
		}
		filter := snoop.New(members)
		for id, dev := range devs {
			dev.SetSnoop(id, filter)
		}
	}

	if err := h.checkForest(); err != nil {
		return nil, err
	}

	for _, cs := range spec.Caches {
		if cs.Parent == "" || cs.Parent == "memory" {
			h.rootDevs = append(h.rootDevs, h.byName[cs.Name])
		}
	}

	slog.Info("hierarchy built", slog.Int("caches", len(h.byName)), slog.Int("cores", spec.NumCores))
	return h, nil
}

func toCoreSet(cores []int) map[int]bool {
	m := make(map[int]bool, len(cores))
	for _, c := range cores {
		m[c] = true
	}
	return m
}

// checkForest enforces the structural rule that every cache's ancestor
// chain is finite and terminates at memory (no cycles, no orphans
// beyond what Build already rejected).
func (h *Hierarchy) checkForest() error {
	for name, dev := range h.byName {
		seen := map[string]bool{name: true}
		cur := dev
		for {
			p := cur.Parent()
			if p == nil {
				break
			}
			pname := p.Name
			if seen[pname] {
				return errs.NewConfigError("cache hierarchy has a cycle involving %q", pname)
			}
			seen[pname] = true
			cur = p
		}
	}
	return nil
}

// Device exposes a built device by name, for tests and reporting.
func (h *Hierarchy) Device(name string) (*device.Device, bool) {
	d, ok := h.byName[name]
	return d, ok
}

// DeviceNames returns every device's name in a stable, deterministic
// order (construction order of the config), for report rendering.
func (h *Hierarchy) DeviceNames() []string {
	names := make([]string, 0, len(h.spec.Caches))
	for _, cs := range h.spec.Caches {
		names = append(names, cs.Name)
	}
	return names
}

// NumCores returns the core count the hierarchy was built with.
func (h *Hierarchy) NumCores() int { return h.spec.NumCores }

// AttachMissAnalyzer wires a per-PC miss-stride analyzer onto every
// LLC's miss path, alongside each LLC's own stats collector. With
// more than one LLC (a
// multi-socket hierarchy rooted directly at memory), every LLC feeds
// the same analyzer: recommendations are grouped by PC, not by
// device, so sharing one instance across them is correct.
func (h *Hierarchy) AttachMissAnalyzer(a *analyzer.Analyzer) {
	for _, dev := range h.rootDevs {
		dev.SetAnalyzer(a)
	}
}

// ResetAllStats snapshots and zeroes every device's counters, used at
// the warm-up/measurement boundary.
func (h *Hierarchy) ResetAllStats() {
	for _, dev := range h.byName {
		dev.Stats.Reset()
	}
}

// Close releases every device's miss-dump file handle.
func (h *Hierarchy) Close() error {
	var first error
	for _, dev := range h.byName {
		if err := dev.Stats.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
