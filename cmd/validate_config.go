// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package cmd

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"cachesim/internal/config"
	"cachesim/internal/hierarchy"
)

var flagValidateConfig string

var validateConfigCmd = &cobra.Command{
	Use:   "validate-config",
	Short: "Parse and validate a hierarchy definition without running a trace",
	RunE:  runValidateConfig,
}

func init() {
	validateConfigCmd.Flags().StringVar(&flagValidateConfig, "config", "", "hierarchy definition file (required)")
	_ = validateConfigCmd.MarkFlagRequired("config")
}

func runValidateConfig(cmd *cobra.Command, args []string) error {
	f, err := os.Open(flagValidateConfig)
	if err != nil {
		return errors.Wrap(err, "opening config")
	}
	defer f.Close()

	spec, err := config.Parse(f)
	if err != nil {
		return errors.Wrap(err, "parsing config")
	}

	h, err := hierarchy.Build(spec)
	if err != nil {
		return errors.Wrap(err, "building hierarchy")
	}
	defer h.Close()

	fmt.Printf("config OK: %d cores, %d devices\n", spec.NumCores, len(spec.Caches))
	for _, cs := range spec.Caches {
		parent := cs.Parent
		if parent == "" {
			parent = "memory"
		}
		fmt.Printf("  %-16s level=%-6s parent=%-16s cores=%v inclusion=%s\n", cs.Name, cs.Level, parent, cs.Cores, cs.Inclusion)
	}
	for _, group := range spec.CoherentGroups {
		fmt.Printf("  coherent group: %v\n", group)
	}
	return nil
}
