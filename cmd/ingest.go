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
	"context"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/floodlake/internal/healthcheck"
	"github.com/cardinalhq/floodlake/internal/helpers"
	"github.com/cardinalhq/floodlake/internal/ingest"
)

func init() {
	addRunFlags(ingestCmd)
	ingestCmd.Flags().Int("status-port", -1, "serve /healthz, /readyz and /progress on this port (-1 disables, 0 picks one)")
	rootCmd.AddCommand(ingestCmd)
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Fetch every missing or failed unit of the configured window",
	Long: `Fetch every (source, month) unit of the configured window that is not
already a success. Exit status is 0 when every unit is complete, 2 when
some units failed, were interrupted or are held by another worker, and 1
on configuration or environment errors.`,
	RunE: runIngest,
}

func runIngest(cmd *cobra.Command, _ []string) error {
	ctx, shutdown, err := setupTelemetry("floodlake-ingest")
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(); err != nil {
			slog.Error("Error shutting down telemetry", slog.Any("error", err))
		}
	}()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	orch, err := buildOrchestrator(ctx, cmd, cfg)
	if err != nil {
		return err
	}
	slog.Info("Configured ingestion",
		slog.String("runID", orch.RunID()),
		slog.String("city", cfg.City),
		slog.String("root", cfg.RootDir()),
		slog.Int("units", len(orch.Units())))

	if port, _ := cmd.Flags().GetInt("status-port"); port >= 0 {
		status := healthcheck.NewServer(port, func() any { return orch.Progress() })
		if err := status.Listen(); err != nil {
			return err
		}
		status.SetStatus(healthcheck.StatusHealthy)
		status.SetReady(true)
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := status.Stop(stopCtx); err != nil {
				slog.Warn("Failed to stop status server", slog.Any("error", err))
			}
		}()
	}

	summary, runErr := orch.Run(ctx)
	if summary != nil {
		if err := printSummary(cmd.OutOrStdout(), summary); err != nil {
			return err
		}
	}
	return ingestResult(summary, runErr)
}

func ingestResult(summary *ingest.Summary, runErr error) error {
	if summary == nil {
		return runErr
	}
	t := summary.Totals()
	switch {
	case t.EnvironmentErrors > 0:
		return fmt.Errorf("%d units could not record their state", t.EnvironmentErrors)
	case runErr != nil || !summary.Complete():
		return fmt.Errorf("%w: %d failed, %d interrupted, %d contended",
			errPartial, t.Failed, t.Interrupted, t.Contended)
	}
	return nil
}

func printSummary(w io.Writer, summary *ingest.Summary) error {
	if done, err := render(w, summary); done {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "SOURCE\tSUCCEEDED\tSKIPPED\tFAILED\tINTERRUPTED\tCONTENDED\tTOOK\n")
	for _, name := range summary.Sources() {
		s := summary.PerSource[name]
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			name, s.Succeeded, s.Skipped, s.Failed+s.EnvironmentErrors, s.Interrupted, s.Contended,
			helpers.FormatDuration(s.Took))
	}
	fmt.Fprintf(tw, "run %s\n", summary.RunID)
	return tw.Flush()
}
