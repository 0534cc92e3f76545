// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/ChildGuard/internal/criteria"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve [selection-expression]",
	Short: "Print the resolved criterion id list for a selection expression",
	Args:  cobra.ExactArgs(1),
	RunE:  runResolve,
}

func runResolve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	manifestPath, criteriaDir := cfg.CriteriaAssets()
	registry, err := criteria.LoadRegistry(manifestPath, criteriaDir)
	if err != nil {
		return err
	}

	ids := registry.Resolve(args[0])
	if len(ids) == 0 {
		fmt.Println("(no criteria matched)")
		return nil
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}
