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
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/floodlake/internal/sources"
	"github.com/cardinalhq/floodlake/internal/verify"
)

func init() {
	verifyCmd.Flags().Int("expected", 0, "months that should be present (default: the configured window length)")
	verifyCmd.Flags().Bool("check-artifacts", true, "confirm that artifacts referenced by success manifests exist")
	verifyCmd.Flags().String("start", "", "first month of the window")
	verifyCmd.Flags().String("end", "", "last month of the window")
	verifyCmd.Flags().String("root", "", "raw data root (default data/raw/<city>)")
	rootCmd.AddCommand(verifyCmd)
}

var verifyCmd = &cobra.Command{
	Use:   "verify <source>",
	Short: "Audit the manifests of one source",
	Long: `Report completed, missing, failed, in-progress and pending months of one
source from its manifests alone. Exit status is 0 when the source is
complete and 2 otherwise.`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx, shutdown, err := setupTelemetry("floodlake-verify")
	if err != nil {
		return err
	}
	defer func() { _ = shutdown() }()

	source, ok := sources.Canonical(args[0])
	if !ok {
		return fmt.Errorf("unknown source %q", args[0])
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	expected, _ := cmd.Flags().GetInt("expected")
	if expected < 0 {
		return fmt.Errorf("--expected must not be negative")
	}

	tree, store := openStore(cfg)
	var opts []verify.Option
	if w, err := cfg.Window(); err == nil {
		opts = append(opts, verify.WithWindow(w))
	} else if expected == 0 {
		return fmt.Errorf("no window configured, pass --expected: %w", err)
	}
	if check, _ := cmd.Flags().GetBool("check-artifacts"); check {
		opts = append(opts, verify.WithArtifacts(tree))
	}

	report, err := verify.New(store, opts...).Verify(ctx, source, expected)
	if err != nil {
		return err
	}
	if report.Unreadable > 0 {
		slog.Warn("Some manifests could not be read", slog.String("source", source), slog.Int("count", report.Unreadable))
	}
	if err := printReport(cmd.OutOrStdout(), report); err != nil {
		return err
	}
	if !report.Complete() {
		return fmt.Errorf("%w: %s has %d of %d months", errPartial, source, report.Completed, report.Expected)
	}
	return nil
}

func printReport(w io.Writer, r verify.Report) error {
	if done, err := render(w, r); done {
		return err
	}
	fmt.Fprintf(w, "source:      %s\n", r.Source)
	fmt.Fprintf(w, "completed:   %d / %d\n", r.Completed, r.Expected)
	fmt.Fprintf(w, "missing:     %d %s\n", r.MissingCount, joinMonths(r.Missing))
	fmt.Fprintf(w, "failed:      %d\n", len(r.Failed))
	for _, f := range r.Failed {
		fmt.Fprintf(w, "  %04d-%02d  %s: %s\n", f.Year, f.Month, f.Kind, f.Message)
	}
	fmt.Fprintf(w, "in_progress: %d %s\n", len(r.InProgress), joinMonths(r.InProgress))
	fmt.Fprintf(w, "pending:     %d %s\n", len(r.Pending), joinMonths(r.Pending))
	for _, c := range r.Corrupt {
		fmt.Fprintf(w, "corrupt:     %04d-%02d  %s\n", c.Year, c.Month, c.Reason)
	}
	if r.Unreadable > 0 {
		fmt.Fprintf(w, "unreadable:  %d\n", r.Unreadable)
	}
	return nil
}

func joinMonths(refs []verify.MonthRef) string {
	if len(refs) == 0 {
		return ""
	}
	parts := make([]string, len(refs))
	for i, r := range refs {
		parts[i] = r.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}
