// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/runtimescan/services/scanner/analyzer"
	"github.com/AleutianAI/runtimescan/services/scanner/api"
	"github.com/AleutianAI/runtimescan/services/scanner/detectors"
)

func newDetectorsCmd(a *app) *cobra.Command {
	var (
		phase  string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "detectors",
		Short: "List the detector catalog",
		Long: `List every detector with its phase, finding kind and default severity.
Overrides from the config file are applied.

Examples:
  runtimescan detectors
  runtimescan detectors --phase edge_case --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := a.cfg.Catalog()
			if err != nil {
				return &exitCodeError{code: exitError, err: err}
			}
			if phase != "" && !knownPhase(phase) {
				return &exitCodeError{code: exitError, err: fmt.Errorf("unknown phase %q (want one of %s)", phase, phaseNames())}
			}

			infos := make([]api.DetectorInfo, 0, cat.Len())
			for _, r := range cat.Rules() {
				if phase != "" && r.Phase.String() != phase {
					continue
				}
				infos = append(infos, api.DetectorInfo{
					ID:          r.ID,
					Phase:       r.Phase.String(),
					Kind:        r.Kind.String(),
					Severity:    r.Severity.String(),
					Description: r.Description,
				})
			}

			if asJSON {
				enc := json.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(api.DetectorsResponse{Detectors: infos})
			}
			p := a.printer()
			p.Title(fmt.Sprintf("%d detectors", len(infos)))
			for _, d := range infos {
				fmt.Fprintf(a.stdout, "%-36s %-19s %-17s %-8s %s\n", d.ID, d.Phase, d.Kind, d.Severity, d.Description)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&phase, "phase", "", "only list one phase: "+phaseNames())
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func knownPhase(name string) bool {
	for _, p := range detectors.Phases {
		if p.String() == name {
			return true
		}
	}
	return false
}

func phaseNames() string {
	names := make([]string, len(detectors.Phases))
	for i, p := range detectors.Phases {
		names[i] = p.String()
	}
	return strings.Join(names, ", ")
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the analyzer version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(a.stdout, "runtimescan %s\n", analyzer.Version)
		},
	}
}
