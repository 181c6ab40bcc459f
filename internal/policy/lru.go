// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package policy

// lru keeps, per set, a unique recency counter in [0, associativity)
// per way; 0 is most-recently-used. The same update rule applies
// whether the way was just hit or just installed (the victim's prior
// counter stands in for "position before this access").
type lru struct {
	assoc    int
	counters [][]int
	ways     Ways
}

func newLRU(numSets, associativity int, ways Ways) *lru {
	counters := make([][]int, numSets)
	for s := range counters {
		counters[s] = make([]int, associativity)
		for w := range counters[s] {
			counters[s][w] = w
		}
	}
	return &lru{assoc: associativity, counters: counters, ways: ways}
}

func (p *lru) AccessUpdate(set, way int) {
	c := p.counters[set]
	old := c[way]
	if old == 0 {
		// Early-out: already MRU, nothing to shift.
		return
	}
	for w := range c {
		if w != way && c[w] <= old {
			c[w]++
		}
	}
	c[way] = 0
}

func (p *lru) GetNextWayToReplace(set int) int {
	if way := firstInvalidWay(p.ways, set); way >= 0 {
		return way
	}
	c := p.counters[set]
	victim, max := 0, c[0]
	for w := 1; w < len(c); w++ {
		if c[w] > max {
			max = c[w]
			victim = w
		}
	}
	return victim
}

func (p *lru) ReplaceWhichWay(set int) int {
	way := p.GetNextWayToReplace(set)
	p.AccessUpdate(set, way)
	return way
}
