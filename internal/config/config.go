// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

// Package config parses the declarative, brace-delimited hierarchy
// DSL into a hierarchy.Spec: a handful of top-level scalar options
// followed by one `NAME { key value ... }` block per cache. Cache
// level names, the tag-hash heuristic, and coherent-group membership
// are all derived rather than declared, so the grammar stays small.
package config

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"cachesim/internal/device"
	"cachesim/internal/errs"
	"cachesim/internal/hierarchy"
	"cachesim/internal/policy"
)

type rawCache struct {
	name    string
	lineNo  int
	kind    string // instruction, data, unified, tlb_data, tlb_instr
	core    int
	hasCore bool

	sizeBytes uint64
	assoc     uint32
	inclusive bool
	exclusive bool
	parent    string

	policyName string
	policySeed int64

	prefetcherKind string
	prefetcherExpr string
	missFile       string
}

type raw struct {
	numCores       int
	lineSize       uint32
	skipRefs       uint64
	warmupRefs     uint64
	simRefs        uint64
	warmupFraction float64
	cpuScheduling  bool
	usePhysical    bool
	modelCoherence bool
	verbose        uint32

	caches []rawCache
}

// Parse reads the DSL from r and returns a ready-to-build
// hierarchy.Spec, or a *errs.ConfigError describing the first
// problem found.
func Parse(r io.Reader) (hierarchy.Spec, error) {
	raw, err := parseRaw(r)
	if err != nil {
		return hierarchy.Spec{}, err
	}
	return raw.resolve()
}

func parseRaw(r io.Reader) (*raw, error) {
	cfg := &raw{}
	scanner := bufio.NewScanner(r)
	lineNo := 0
	var cur *rawCache

	for scanner.Scan() {
		lineNo++
		line := stripComment(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)

		if cur != nil {
			if line == "}" {
				cfg.caches = append(cfg.caches, *cur)
				cur = nil
				continue
			}
			if err := applyCacheKey(cur, fields[0], fields[1:], lineNo); err != nil {
				return nil, err
			}
			continue
		}

		if len(fields) == 2 && fields[1] == "{" {
			cur = &rawCache{name: fields[0], lineNo: lineNo, policyName: "LRU"}
			continue
		}

		kw := fields[0]
		switch kw {
		case "num_cores":
			v, err := expectInt(kw, fields, lineNo)
			if err != nil {
				return nil, err
			}
			cfg.numCores = v
		case "line_size":
			v, err := parseSize(fields[1:], lineNo, "line_size")
			if err != nil {
				return nil, err
			}
			cfg.lineSize = uint32(v)
		case "skip_refs":
			v, err := expectUint(kw, fields, lineNo)
			if err != nil {
				return nil, err
			}
			cfg.skipRefs = v
		case "warmup_refs":
			v, err := expectUint(kw, fields, lineNo)
			if err != nil {
				return nil, err
			}
			cfg.warmupRefs = v
		case "sim_refs":
			v, err := expectUint(kw, fields, lineNo)
			if err != nil {
				return nil, err
			}
			cfg.simRefs = v
		case "warmup_fraction":
			v, err := expectFloat(kw, fields, lineNo)
			if err != nil {
				return nil, err
			}
			if v < 0 || v > 1 {
				return nil, errs.NewConfigError("line %d: warmup_fraction must be in [0,1]", lineNo)
			}
			cfg.warmupFraction = v
		case "cpu_scheduling":
			v, err := expectBool(kw, fields, lineNo)
			if err != nil {
				return nil, err
			}
			cfg.cpuScheduling = v
		case "use_physical":
			v, err := expectBool(kw, fields, lineNo)
			if err != nil {
				return nil, err
			}
			cfg.usePhysical = v
		case "model_coherence":
			v, err := expectBool(kw, fields, lineNo)
			if err != nil {
				return nil, err
			}
			cfg.modelCoherence = v
		case "verbose":
			v, err := expectUint(kw, fields, lineNo)
			if err != nil {
				return nil, err
			}
			cfg.verbose = uint32(v)
		default:
			return nil, errs.NewConfigError("line %d: unknown directive %q", lineNo, kw)
		}
	}
	if cur != nil {
		return nil, errs.NewConfigError("line %d: cache %q missing closing }", cur.lineNo, cur.name)
	}
	if err := scanner.Err(); err != nil {
		return nil, errs.NewConfigError("reading config: %s", err.Error())
	}
	return cfg, nil
}

func stripComment(line string) string {
	if idx := strings.IndexByte(line, '#'); idx >= 0 {
		line = line[:idx]
	}
	return strings.TrimSpace(line)
}

func applyCacheKey(c *rawCache, kw string, args []string, lineNo int) error {
	switch kw {
	case "type":
		if len(args) != 1 {
			return errs.NewConfigError("line %d: type needs one value", lineNo)
		}
		switch args[0] {
		case "instruction", "data", "unified", "tlb_data", "tlb_instr":
			c.kind = args[0]
		default:
			return errs.NewConfigError("line %d: unknown type %q", lineNo, args[0])
		}
	case "core":
		v, err := parseIntArg(args, lineNo, "core")
		if err != nil {
			return err
		}
		c.core = int(v)
		c.hasCore = true
	case "size":
		v, err := parseSize(args, lineNo, "size")
		if err != nil {
			return err
		}
		c.sizeBytes = v
	case "assoc":
		v, err := parseUintArg(args, lineNo, "assoc")
		if err != nil {
			return err
		}
		c.assoc = uint32(v)
	case "inclusive":
		if len(args) != 0 {
			return errs.NewConfigError("line %d: inclusive takes no value", lineNo)
		}
		c.inclusive = true
	case "exclusive":
		if len(args) != 0 {
			return errs.NewConfigError("line %d: exclusive takes no value", lineNo)
		}
		c.exclusive = true
	case "parent":
		if len(args) != 1 {
			return errs.NewConfigError("line %d: parent needs one value", lineNo)
		}
		c.parent = args[0]
	case "replace_policy":
		if len(args) != 1 {
			return errs.NewConfigError("line %d: replace_policy needs one value", lineNo)
		}
		c.policyName = args[0]
	case "policy_seed":
		v, err := parseIntArg(args, lineNo, "policy_seed")
		if err != nil {
			return err
		}
		c.policySeed = v
	case "prefetcher":
		if len(args) != 1 {
			return errs.NewConfigError("line %d: prefetcher needs one value", lineNo)
		}
		switch args[0] {
		case "none":
			c.prefetcherKind = ""
		case "nextline", "custom":
			c.prefetcherKind = args[0]
		default:
			return errs.NewConfigError("line %d: unknown prefetcher %q", lineNo, args[0])
		}
	case "prefetcher_expr":
		if len(args) == 0 {
			return errs.NewConfigError("line %d: prefetcher_expr needs an expression", lineNo)
		}
		c.prefetcherExpr = strings.Join(args, " ")
	case "miss_file":
		if len(args) != 1 {
			return errs.NewConfigError("line %d: miss_file needs one value", lineNo)
		}
		c.missFile = args[0]
	default:
		return errs.NewConfigError("line %d: unknown cache key %q", lineNo, kw)
	}
	return nil
}

func parseUintArg(args []string, lineNo int, key string) (uint64, error) {
	if len(args) != 1 {
		return 0, errs.NewConfigError("line %d: %s needs one value", lineNo, key)
	}
	v, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return 0, errs.NewConfigError("line %d: %s: %s", lineNo, key, err.Error())
	}
	return v, nil
}

func parseIntArg(args []string, lineNo int, key string) (int64, error) {
	if len(args) != 1 {
		return 0, errs.NewConfigError("line %d: %s needs one value", lineNo, key)
	}
	v, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, errs.NewConfigError("line %d: %s: %s", lineNo, key, err.Error())
	}
	return v, nil
}

// parseSize accepts a plain byte count or one suffixed with K/M/G
// (powers of 1024).
func parseSize(args []string, lineNo int, key string) (uint64, error) {
	if len(args) != 1 {
		return 0, errs.NewConfigError("line %d: %s needs one value", lineNo, key)
	}
	s := args[0]
	mult := uint64(1)
	if n := len(s); n > 0 {
		switch s[n-1] {
		case 'K', 'k':
			mult, s = 1024, s[:n-1]
		case 'M', 'm':
			mult, s = 1024*1024, s[:n-1]
		case 'G', 'g':
			mult, s = 1024*1024*1024, s[:n-1]
		}
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, errs.NewConfigError("line %d: %s: %s", lineNo, key, err.Error())
	}
	return v * mult, nil
}

func expectBool(kw string, fields []string, lineNo int) (bool, error) {
	if len(fields) == 1 {
		return true, nil
	}
	if len(fields) != 2 {
		return false, errs.NewConfigError("line %d: %s takes at most one value", lineNo, kw)
	}
	switch fields[1] {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, errs.NewConfigError("line %d: %s: expected true or false, got %q", lineNo, kw, fields[1])
	}
}

func expectInt(kw string, fields []string, lineNo int) (int, error) {
	if len(fields) != 2 {
		return 0, errs.NewConfigError("line %d: %s needs one value", lineNo, kw)
	}
	v, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, errs.NewConfigError("line %d: %s: %s", lineNo, kw, err.Error())
	}
	return v, nil
}

func expectUint(kw string, fields []string, lineNo int) (uint64, error) {
	if len(fields) != 2 {
		return 0, errs.NewConfigError("line %d: %s needs one value", lineNo, kw)
	}
	v, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0, errs.NewConfigError("line %d: %s: %s", lineNo, kw, err.Error())
	}
	return v, nil
}

func expectFloat(kw string, fields []string, lineNo int) (float64, error) {
	if len(fields) != 2 {
		return 0, errs.NewConfigError("line %d: %s needs one value", lineNo, kw)
	}
	v, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return 0, errs.NewConfigError("line %d: %s: %s", lineNo, kw, err.Error())
	}
	return v, nil
}

func isPow2(v uint64) bool { return v != 0 && v&(v-1) == 0 }

// resolve turns the raw config into a hierarchy.Spec, validating
// every rule the grammar promises before construction is attempted:
// L1 core ranges and types, parent existence, size/assoc shape, and
// size/line_size alignment. Level names, the tag-hash heuristic, and
// coherent-group membership are derived rather than read from input.
func (cfg *raw) resolve() (hierarchy.Spec, error) {
	numCores := cfg.numCores
	if numCores <= 0 {
		numCores = 1
	}
	lineSize := cfg.lineSize
	if lineSize == 0 {
		lineSize = 64
	}
	if lineSize < 4 || !isPow2(uint64(lineSize)) {
		return hierarchy.Spec{}, errs.NewConfigError("line_size %d must be a power of two >= 4", lineSize)
	}

	byName := make(map[string]*rawCache, len(cfg.caches))
	for i := range cfg.caches {
		c := &cfg.caches[i]
		if _, dup := byName[c.name]; dup {
			return hierarchy.Spec{}, errs.NewConfigError("duplicate cache name %q", c.name)
		}
		byName[c.name] = c
	}

	hasMidLevel := false
	for _, c := range cfg.caches {
		isLLC := c.parent == "" || c.parent == "memory"
		if !c.hasCore && !isLLC {
			hasMidLevel = true
		}
	}
	useTagHash := hasMidLevel && (cfg.modelCoherence || numCores >= 32)

	levels := computeLevels(cfg.caches)

	spec := hierarchy.Spec{
		NumCores:       numCores,
		SkipRefs:       cfg.skipRefs,
		WarmupRefs:     cfg.warmupRefs,
		SimRefs:        cfg.simRefs,
		WarmupFraction: cfg.warmupFraction,
		CPUScheduling:  cfg.cpuScheduling,
		UsePhysical:    cfg.usePhysical,
		Verbose:        cfg.verbose,
	}

	for _, c := range cfg.caches {
		if c.hasCore {
			if c.core < 0 || c.core >= numCores {
				return hierarchy.Spec{}, errs.NewConfigError("cache %q: core %d out of range [0,%d)", c.name, c.core, numCores)
			}
			if c.kind == "" {
				return hierarchy.Spec{}, errs.NewConfigError("cache %q: an L1 needs exactly one type", c.name)
			}
		}
		if (c.kind == "tlb_data" || c.kind == "tlb_instr") && !c.hasCore {
			return hierarchy.Spec{}, errs.NewConfigError("cache %q: a TLB needs a core", c.name)
		}
		if c.parent != "" && c.parent != "memory" {
			if _, ok := byName[c.parent]; !ok {
				return hierarchy.Spec{}, errs.NewConfigError("cache %q: parent %q does not exist", c.name, c.parent)
			}
		}
		if c.inclusive && c.exclusive {
			return hierarchy.Spec{}, errs.NewConfigError("cache %q: inclusive and exclusive are mutually exclusive", c.name)
		}
		if c.assoc == 0 || !isPow2(uint64(c.assoc)) {
			return hierarchy.Spec{}, errs.NewConfigError("cache %q: assoc must be a power of two", c.name)
		}
		if c.sizeBytes == 0 {
			return hierarchy.Spec{}, errs.NewConfigError("cache %q: size is required", c.name)
		}
		if c.sizeBytes%uint64(lineSize) != 0 {
			return hierarchy.Spec{}, errs.NewConfigError("cache %q: size must be a multiple of line_size", c.name)
		}
		numBlocks := c.sizeBytes / uint64(lineSize)
		if !isPow2(numBlocks) {
			return hierarchy.Spec{}, errs.NewConfigError("cache %q: size/line_size must be a power of two", c.name)
		}
		if numBlocks%uint64(c.assoc) != 0 {
			return hierarchy.Spec{}, errs.NewConfigError("cache %q: num_blocks must be a multiple of assoc", c.name)
		}

		pol, err := policy.ParseKind(c.policyName)
		if err != nil {
			return hierarchy.Spec{}, errs.NewConfigError("cache %q: %s", c.name, err.Error())
		}

		inc := device.NonInclusiveNonExclusive
		switch {
		case c.inclusive:
			inc = device.Inclusive
		case c.exclusive:
			inc = device.Exclusive
		}

		var cores []int
		if c.hasCore {
			cores = []int{c.core}
		}
		parent := c.parent
		if parent == "memory" {
			parent = ""
		}

		spec.Caches = append(spec.Caches, hierarchy.CacheSpec{
			Name:           c.name,
			Level:          levels[c.name],
			Cores:          cores,
			Parent:         parent,
			BlockSize:      lineSize,
			NumBlocks:      uint32(numBlocks),
			Associativity:  c.assoc,
			Inclusion:      inc,
			Policy:         pol,
			PolicySeed:     c.policySeed,
			IsTLB:          c.kind == "tlb_data" || c.kind == "tlb_instr",
			UseTagHash:     useTagHash,
			MissFilePath:   c.missFile,
			PrefetcherKind: c.prefetcherKind,
			PrefetcherExpr: c.prefetcherExpr,
		})
	}

	if cfg.modelCoherence {
		spec.CoherentGroups = hierarchy.DeriveCoherentGroups(spec.Caches)
	}

	return spec, nil
}

// computeLevels names every cache's level: L1s and TLBs are named by
// type (l1d, l1i, l1u, dtlb, itlb) since the driver routes per-core
// traffic to them directly; everything above is named by its distance
// from the deepest leaf beneath it (l2, l3, ...), since the metric API
// addresses upper levels generically rather than by type.
func computeLevels(caches []rawCache) map[string]string {
	children := make(map[string][]string, len(caches))
	for _, c := range caches {
		if c.parent != "" && c.parent != "memory" {
			children[c.parent] = append(children[c.parent], c.name)
		}
	}

	memo := make(map[string]int, len(caches))
	var depth func(name string) int
	depth = func(name string) int {
		if v, ok := memo[name]; ok {
			return v
		}
		kids := children[name]
		if len(kids) == 0 {
			memo[name] = 1
			return 1
		}
		max := 0
		for _, k := range kids {
			if d := depth(k); d > max {
				max = d
			}
		}
		memo[name] = max + 1
		return memo[name]
	}

	levels := make(map[string]string, len(caches))
	for _, c := range caches {
		switch {
		case c.kind == "tlb_data":
			levels[c.name] = "dtlb"
		case c.kind == "tlb_instr":
			levels[c.name] = "itlb"
		case c.hasCore && c.kind == "data":
			levels[c.name] = "l1d"
		case c.hasCore && c.kind == "instruction":
			levels[c.name] = "l1i"
		case c.hasCore && c.kind == "unified":
			levels[c.name] = "l1u"
		default:
			levels[c.name] = "l" + strconv.Itoa(depth(c.name))
		}
	}
	return levels
}
