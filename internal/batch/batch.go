// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

// Package batch runs the same or varying hierarchy definitions
// against one or more trace files from a single YAML manifest,
// emitting one report per job. Grounded in perfspect's
// internal/common.targetsFile: a flat YAML list of named jobs, parsed
// with gopkg.in/yaml.v2 and run sequentially.
package batch

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"cachesim/internal/analyzer"
	"cachesim/internal/config"
	"cachesim/internal/hierarchy"
	"cachesim/internal/trace"
	"cachesim/internal/translate"
)

// Job is one manifest entry: a hierarchy config and a trace to drive
// through it, with its own optional skip/warmup/sim-refs override.
type Job struct {
	Name          string  `yaml:"name"`
	Config        string  `yaml:"config"`
	Trace         string  `yaml:"trace"`
	SkipRefs      uint64  `yaml:"skip_refs"`
	WarmupRefs    uint64  `yaml:"warmup_refs"`
	SimRefs       uint64  `yaml:"sim_refs"`
	AnalyzeMisses bool    `yaml:"analyze_misses"`
	MissThreshold int     `yaml:"miss_threshold"`
	MissDominance float64 `yaml:"miss_dominance"`
}

type manifest struct {
	Jobs []Job `yaml:"jobs"`
}

// Parse reads a batch manifest from path.
func Parse(path string) ([]Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading batch manifest %s", path)
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrapf(err, "parsing batch manifest %s", path)
	}
	if len(m.Jobs) == 0 {
		return nil, errors.Errorf("batch manifest %s defines no jobs", path)
	}
	for i, job := range m.Jobs {
		if job.Name == "" {
			return nil, errors.Errorf("batch manifest %s: job %d has no name", path, i)
		}
		if job.Config == "" {
			return nil, errors.Errorf("batch manifest %s: job %q has no config", path, job.Name)
		}
		if job.Trace == "" {
			return nil, errors.Errorf("batch manifest %s: job %q has no trace", path, job.Name)
		}
	}
	return m.Jobs, nil
}

// Result is one job's completed run, ready for reporting.
type Result struct {
	Job             Job
	Hierarchy       *hierarchy.Hierarchy
	Recommendations []analyzer.Recommendation
	Err             error
}

// Run executes every job in order against translator, building a
// fresh hierarchy per job from its config file and driving it to
// completion from its trace file. A job's failure does not stop the
// batch; it is recorded on its Result.
func Run(jobs []Job, translator translate.Translator) []Result {
	if translator == nil {
		translator = translate.Identity{}
	}
	results := make([]Result, 0, len(jobs))
	for _, job := range jobs {
		results = append(results, runJob(job, translator))
	}
	return results
}

func runJob(job Job, translator translate.Translator) Result {
	cfgFile, err := os.Open(job.Config)
	if err != nil {
		return Result{Job: job, Err: errors.Wrapf(err, "job %q: opening config", job.Name)}
	}
	defer cfgFile.Close()

	spec, err := config.Parse(cfgFile)
	if err != nil {
		return Result{Job: job, Err: errors.Wrapf(err, "job %q: parsing config", job.Name)}
	}
	if job.SkipRefs > 0 {
		spec.SkipRefs = job.SkipRefs
	}
	if job.WarmupRefs > 0 {
		spec.WarmupRefs = job.WarmupRefs
	}
	if job.SimRefs > 0 {
		spec.SimRefs = job.SimRefs
	}

	h, err := hierarchy.Build(spec)
	if err != nil {
		return Result{Job: job, Err: errors.Wrapf(err, "job %q: building hierarchy", job.Name)}
	}

	var missAnalyzer *analyzer.Analyzer
	if job.AnalyzeMisses {
		threshold, dominance := job.MissThreshold, job.MissDominance
		if threshold == 0 {
			threshold = 4
		}
		if dominance == 0 {
			dominance = 0.75
		}
		missAnalyzer = analyzer.New(threshold, dominance)
		h.AttachMissAnalyzer(missAnalyzer)
	}

	traceFile, err := os.Open(job.Trace)
	if err != nil {
		return Result{Job: job, Err: errors.Wrapf(err, "job %q: opening trace", job.Name)}
	}
	stream := trace.NewTextReader(traceFile)
	defer stream.Close()

	if err := drive(h, stream, translator); err != nil {
		return Result{Job: job, Hierarchy: h, Err: errors.Wrapf(err, "job %q: running trace", job.Name)}
	}
	result := Result{Job: job, Hierarchy: h}
	if missAnalyzer != nil {
		result.Recommendations = missAnalyzer.Recommendations()
	}
	return result
}

func drive(h *hierarchy.Hierarchy, stream trace.Stream, translator translate.Translator) error {
	for {
		rec, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := h.Dispatch(translator.Translate(rec)); err != nil {
			return err
		}
		if h.Done() {
			return nil
		}
	}
}
