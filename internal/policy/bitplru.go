// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package policy

import "math/rand"

// bitPLRU keeps one "recently used" bit per way. Setting the last
// remaining zero bit clears every other bit in the set, so the set
// never gets stuck fully saturated. Replacement chooses uniformly at
// random among the ways whose bit is still zero; the RNG is seeded at
// construction so a fixed seed makes replacement deterministic.
type bitPLRU struct {
	assoc int
	bits  [][]bool
	rng   *rand.Rand
	ways  Ways
}

func newBitPLRU(numSets, associativity int, seed int64, ways Ways) *bitPLRU {
	bits := make([][]bool, numSets)
	for s := range bits {
		bits[s] = make([]bool, associativity)
	}
	return &bitPLRU{
		assoc: associativity,
		bits:  bits,
		rng:   rand.New(rand.NewSource(seed)), //nolint:gosec // deterministic replacement is the point
		ways:  ways,
	}
}

func (p *bitPLRU) AccessUpdate(set, way int) {
	row := p.bits[set]
	row[way] = true
	allSet := true
	for _, b := range row {
		if !b {
			allSet = false
			break
		}
	}
	if allSet {
		for w := range row {
			row[w] = w == way
		}
	}
}

func (p *bitPLRU) zeroWays(set int) []int {
	row := p.bits[set]
	zeros := make([]int, 0, len(row))
	for w, b := range row {
		if !b {
			zeros = append(zeros, w)
		}
	}
	return zeros
}

// GetNextWayToReplace returns the lowest-indexed invalid way, else the
// lowest-indexed way whose bit is zero. ReplaceWhichWay picks at random
// among the zero-bit ways, so this preview names the actual victim only
// when the set has an invalid way or exactly one zero bit.
func (p *bitPLRU) GetNextWayToReplace(set int) int {
	if way := firstInvalidWay(p.ways, set); way >= 0 {
		return way
	}
	zeros := p.zeroWays(set)
	if len(zeros) == 0 {
		// Every bit set and no invalid way means the set's state is
		// inconsistent with the invariant kept by AccessUpdate; fall
		// back to way 0 rather than panic.
		return 0
	}
	return zeros[0]
}

func (p *bitPLRU) ReplaceWhichWay(set int) int {
	way := firstInvalidWay(p.ways, set)
	if way < 0 {
		zeros := p.zeroWays(set)
		if len(zeros) == 0 {
			way = 0
		} else {
			way = zeros[p.rng.Intn(len(zeros))]
		}
	}
	// The pending install counts as an access to the chosen way.
	p.AccessUpdate(set, way)
	return way
}
