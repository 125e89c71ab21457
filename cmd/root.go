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
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Process exit codes.
const (
	exitComplete = 0
	exitCrash    = 1
	exitPartial  = 2
)

var (
	cfgFile      string
	outputFormat string
)

// errPartial marks a run or audit that made progress but left work behind.
var errPartial = errors.New("incomplete")

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "floodlake",
	Short: "Monthly environmental data ingestion for urban flood studies",
	Long: `Fetch monthly radar, optical, rainfall, elevation, built-up, population and
road data for one city into a manifest-tracked directory tree. Runs are
resumable: units already marked success are never fetched again.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default ./floodlake.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "report format: text, yaml or json")
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	os.Exit(exitCode(rootCmd.Execute()))
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitComplete
	case errors.Is(err, errPartial):
		return exitPartial
	default:
		slog.Error("Command failed", slog.Any("error", err))
		fmt.Fprintln(os.Stderr, "Error:", err)
		return exitCrash
	}
}
