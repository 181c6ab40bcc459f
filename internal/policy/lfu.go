// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package policy

import "math"

// lfu keeps a saturating access count per way. Hits increment it;
// replacement evicts the smallest count and resets it to zero.
type lfu struct {
	counts [][]int64
	ways   Ways
}

func newLFU(numSets, associativity int, ways Ways) *lfu {
	counts := make([][]int64, numSets)
	for s := range counts {
		counts[s] = make([]int64, associativity)
	}
	return &lfu{counts: counts, ways: ways}
}

func (p *lfu) AccessUpdate(set, way int) {
	c := &p.counts[set][way]
	if *c < math.MaxInt64 {
		*c++
	}
}

func (p *lfu) GetNextWayToReplace(set int) int {
	if way := firstInvalidWay(p.ways, set); way >= 0 {
		return way
	}
	c := p.counts[set]
	victim, min := 0, c[0]
	for w := 1; w < len(c); w++ {
		if c[w] < min {
			min = c[w]
			victim = w
		}
	}
	return victim
}

func (p *lfu) ReplaceWhichWay(set int) int {
	way := p.GetNextWayToReplace(set)
	p.counts[set][way] = 0
	return way
}
