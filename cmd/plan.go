// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package cmd

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/floodlake/internal/ingest"
	"github.com/cardinalhq/floodlake/internal/manifest"
)

func init() {
	addRunFlags(planCmd)
	planCmd.Flags().Bool("units", false, "list every unit instead of per-source counts")
	rootCmd.AddCommand(planCmd)
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show what an ingest run would fetch without fetching",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, shutdown, err := setupTelemetry("floodlake-plan")
		if err != nil {
			return err
		}
		defer func() { _ = shutdown() }()

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		orch, err := buildOrchestrator(ctx, cmd, cfg)
		if err != nil {
			return err
		}
		entries, err := orch.Plan(ctx)
		if err != nil {
			return err
		}
		if all, _ := cmd.Flags().GetBool("units"); all {
			return printPlanUnits(cmd.OutOrStdout(), entries)
		}
		return printPlanCounts(cmd.OutOrStdout(), entries)
	},
}

func printPlanUnits(w io.Writer, entries []ingest.PlanEntry) error {
	if done, err := render(w, entries); done {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "SOURCE\tMONTH\tSTATUS\tATTEMPTS\tRUN\tLAST ERROR\n")
	for _, e := range entries {
		run := "skip"
		if e.WillRun {
			run = "fetch"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n", e.Source, e.Month, e.Status, e.Attempts, run, e.LastError)
	}
	return tw.Flush()
}

func printPlanCounts(w io.Writer, entries []ingest.PlanEntry) error {
	counts := ingest.PlanCounts(entries)
	if done, err := render(w, counts); done {
		return err
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "SOURCE\tABSENT\tPENDING\tIN_PROGRESS\tFAILED\tSUCCESS\n")
	for _, name := range names {
		c := counts[name]
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n", name,
			c[ingest.StatusAbsent],
			c[string(manifest.StatusPending)],
			c[string(manifest.StatusInProgress)],
			c[string(manifest.StatusFailed)],
			c[string(manifest.StatusSuccess)])
	}
	return tw.Flush()
}
