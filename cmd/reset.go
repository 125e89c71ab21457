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
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/floodlake/internal/idgen"
	"github.com/cardinalhq/floodlake/internal/sources"
	"github.com/cardinalhq/floodlake/internal/workunit"
)

func init() {
	resetCmd.Flags().String("root", "", "raw data root (default data/raw/<city>)")
	rootCmd.AddCommand(resetCmd)
}

var resetCmd = &cobra.Command{
	Use:   "reset <source> <YYYY-MM>...",
	Short: "Mark units pending so the next ingest fetches them again",
	Long: `Put the named units back to pending regardless of their status. Payload
files are left in place and replaced by the next successful fetch. Units
claimed by a running ingest are refused.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, shutdown, err := setupTelemetry("floodlake-reset")
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
		if cfg.City == "" {
			return fmt.Errorf("city is required")
		}
		months := make([]workunit.YearMonth, 0, len(args)-1)
		for _, arg := range args[1:] {
			ym, err := workunit.ParseYearMonth(arg)
			if err != nil {
				return err
			}
			months = append(months, ym)
		}

		// Months inside the configured window keep its clipped dates.
		clipped := map[workunit.YearMonth]workunit.MonthWindow{}
		if w, err := cfg.Window(); err == nil {
			for _, mw := range w.Months() {
				clipped[mw.YearMonth] = mw
			}
		}

		_, store := openStore(cfg)
		runID := idgen.NewRunID(time.Now())
		for _, ym := range months {
			mw, ok := clipped[ym]
			if !ok {
				mw = workunit.MonthWindow{YearMonth: ym, StartDate: ym.FirstDay(), EndDate: ym.LastDay()}
			}
			u := workunit.Unit{City: cfg.City, Source: source, Month: mw}
			m, err := store.Reset(ctx, u, runID)
			if err != nil {
				return fmt.Errorf("reset %s: %w", u.Key(), err)
			}
			slog.Info("Unit reset", slog.String("unit", u.Key()), slog.Int("attempts", m.Attempts))
		}
		return nil
	},
}
