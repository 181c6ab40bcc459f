// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package policy

// fifo is round-robin replacement: a single next-victim pointer per
// set that advances, wrapping, every time a way is filled — whether
// the fill came from the invalid-ways-first rule or from the pointer
// itself. Hits never touch this state.
type fifo struct {
	assoc   int
	pointer []int
	ways    Ways
}

func newFIFO(numSets, associativity int, ways Ways) *fifo {
	return &fifo{assoc: associativity, pointer: make([]int, numSets), ways: ways}
}

func (p *fifo) AccessUpdate(set, way int) {}

func (p *fifo) GetNextWayToReplace(set int) int {
	if way := firstInvalidWay(p.ways, set); way >= 0 {
		return way
	}
	return p.pointer[set]
}

func (p *fifo) ReplaceWhichWay(set int) int {
	way := p.GetNextWayToReplace(set)
	p.pointer[set] = (way + 1) % p.assoc
	return way
}
