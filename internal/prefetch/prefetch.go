// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

// Package prefetch implements the speculative-request hook a caching
// device invokes on a real (non-prefetch) miss.
package prefetch

import (
	"github.com/casbin/govaluate"
	"github.com/pkg/errors"

	"cachesim/internal/memref"
)

// Requester is the narrow slice of a caching device a prefetcher
// needs: the ability to issue another request against it. Defining it
// here (rather than depending on the device package) keeps
// prefetch -> device a one-way edge; device implements Requester
// structurally.
type Requester interface {
	Request(rec memref.Record)
}

// Prefetcher issues additional hardware-prefetch requests in response
// to a real miss. Implementations must mark issued requests with
// memref.HardwarePrefetch so stats distinguish them from demand
// traffic.
type Prefetcher interface {
	Name() string
	Prefetch(dev Requester, missed memref.Record)
}

// NextLine is the default prefetcher: on every real miss, it requests
// the line immediately following the one that missed.
type NextLine struct {
	BlockSize uint64
}

func NewNextLine(blockSize uint64) *NextLine { return &NextLine{BlockSize: blockSize} }

func (p *NextLine) Name() string { return "nextline" }

func (p *NextLine) Prefetch(dev Requester, missed memref.Record) {
	nextAddr := missed.Addr&^(p.BlockSize-1) + p.BlockSize
	if nextAddr < missed.Addr {
		return // address-space overflow; nothing sane to prefetch
	}
	dev.Request(memref.Record{
		Type: memref.HardwarePrefetch,
		Pid:  missed.Pid,
		Tid:  missed.Tid,
		PC:   missed.PC,
		Addr: nextAddr,
		Size: uint32(p.BlockSize),
		Asid: missed.Asid,
	})
}

// Custom evaluates a user-supplied boolean expression over the
// missing access's {pc, addr, size} to decide whether to issue a
// next-line-style prefetch; it is the config's `prefetcher custom`
// variant.
type Custom struct {
	BlockSize  uint64
	expression *govaluate.EvaluableExpression
}

// NewCustom compiles expr once at construction so the hot miss path
// only evaluates, never parses.
func NewCustom(expr string, blockSize uint64) (*Custom, error) {
	compiled, err := govaluate.NewEvaluableExpression(expr)
	if err != nil {
		return nil, errors.Wrapf(err, "compiling custom prefetcher expression %q", expr)
	}
	return &Custom{BlockSize: blockSize, expression: compiled}, nil
}

func (p *Custom) Name() string { return "custom" }

func (p *Custom) Prefetch(dev Requester, missed memref.Record) {
	params := map[string]any{
		"pc":   float64(missed.PC),
		"addr": float64(missed.Addr),
		"size": float64(missed.Size),
	}
	result, err := p.expression.Evaluate(params)
	if err != nil {
		return
	}
	fire, ok := result.(bool)
	if !ok || !fire {
		return
	}
	nextAddr := missed.Addr&^(p.BlockSize-1) + p.BlockSize
	if nextAddr < missed.Addr {
		return
	}
	dev.Request(memref.Record{
		Type: memref.HardwarePrefetch,
		Pid:  missed.Pid,
		Tid:  missed.Tid,
		PC:   missed.PC,
		Addr: nextAddr,
		Size: uint32(p.BlockSize),
		Asid: missed.Asid,
	})
}
