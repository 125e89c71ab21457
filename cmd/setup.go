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
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/cardinalhq/floodlake/config"
	"github.com/cardinalhq/floodlake/internal/artifacts"
	"github.com/cardinalhq/floodlake/internal/helpers"
	"github.com/cardinalhq/floodlake/internal/ingest"
	"github.com/cardinalhq/floodlake/internal/manifest"
	"github.com/cardinalhq/floodlake/internal/sources"
)

// credentialEnvs are logged, masked, at startup so operators can see which
// credentials a run picked up.
var credentialEnvs = []string{"CDSE_CLIENT_ID", "CDSE_CLIENT_SECRET"}

// flagKeys maps command flags to configuration keys; flags that are set win
// over file and environment values.
var flagKeys = map[string]string{
	"start":              "start",
	"end":                "end",
	"root":               "root",
	"workers":            "workers",
	"source-parallelism": "source_parallelism",
	"retry-ceiling":      "retry_ceiling",
	"attempt-timeout":    "attempt_timeout",
}

func addRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("start", "", "first month of the window (YYYY-MM or YYYY-MM-DD)")
	f.String("end", "", "last month of the window (YYYY-MM or YYYY-MM-DD)")
	f.String("root", "", "raw data root (default data/raw/<city>)")
	f.Int("workers", 0, "concurrent units per source")
	f.Int("source-parallelism", 0, "sources processed at once")
	f.Int("retry-ceiling", 0, "maximum budgeted attempts per unit")
	f.Duration("attempt-timeout", 0, "bound on a single fetch attempt")
	f.StringSlice("sources", nil, "restrict the run to these sources")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := viper.New()
	for flag, key := range flagKeys {
		if fl := cmd.Flags().Lookup(flag); fl != nil && fl.Changed {
			if err := v.BindPFlag(key, fl); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", flag, err)
			}
		}
	}
	cfg, err := config.LoadViper(v, cfgFile)
	if err != nil {
		return nil, err
	}
	if err := loadCredentials(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadCredentials(cfg *config.Config) error {
	loaded, err := config.LoadDotEnv(cfg.EnvFile)
	if err != nil {
		return err
	}
	if len(loaded) > 0 {
		slog.Info("Loaded environment file", slog.String("path", cfg.EnvFile), slog.Any("names", loaded))
	}
	for _, name := range credentialEnvs {
		if v := os.Getenv(name); v != "" {
			slog.Debug("Credential present", slog.String("name", name), slog.String("value", helpers.MaskSecret(v)))
		}
	}
	return nil
}

func openStore(cfg *config.Config) (artifacts.Tree, *manifest.FileStore) {
	tree := artifacts.NewTree(cfg.RootDir())
	return tree, manifest.NewFileStore(tree, manifest.WithClaimStaleAfter(cfg.ClaimStaleAfter))
}

func buildOrchestrator(ctx context.Context, cmd *cobra.Command, cfg *config.Config) (*ingest.Orchestrator, error) {
	ic, err := cfg.IngestConfig()
	if err != nil {
		return nil, err
	}
	only, _ := cmd.Flags().GetStringSlice("sources")
	specs, err := cfg.SourceSpecs(only...)
	if err != nil {
		return nil, err
	}

	tree, store := openStore(cfg)
	env := &sources.Env{
		HTTPClient: sources.NewHTTPClient(cfg.HTTPTimeout),
		Tree:       tree,
		Country:    cfg.Country,
	}
	registry, err := sources.Build(ctx, env, specs)
	if err != nil {
		return nil, err
	}
	return ingest.New(ic, store, tree, registry)
}

// render writes v to w as YAML or JSON; text falls back to the caller.
func render(w io.Writer, v any) (bool, error) {
	switch strings.ToLower(outputFormat) {
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return true, err
		}
		return true, enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case "", "text":
		return false, nil
	default:
		return true, fmt.Errorf("unknown output format %q", outputFormat)
	}
}
