package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/couchcryptid/watertag-etl/internal/adapter/netcdf"
	"github.com/couchcryptid/watertag-etl/internal/observability"
	"github.com/couchcryptid/watertag-etl/internal/pipeline"
	"github.com/couchcryptid/watertag-etl/internal/recipe"
	"github.com/spf13/cobra"
)

type runOptions struct {
	recipePath  string
	preset      string
	input       string
	output      string
	progress    bool
	pushgateway string
}

func newRunCmd(c *cli) *cobra.Command {
	o := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Apply a recipe file or built-in preset to a dataset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rec, err := o.load()
			if err != nil {
				return err
			}
			return execute(cmd, c.logger(cmd), rec, o.progress, o.pushgateway)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.recipePath, "recipe", "", "recipe file (.yaml, .yml, .toml or .json)")
	f.StringVar(&o.preset, "preset", "", "built-in recipe name (see `watertag presets`)")
	f.StringVar(&o.input, "input", "", "input NetCDF file, overrides the recipe")
	f.StringVar(&o.output, "output", "", "output NetCDF file, overrides the recipe")
	f.BoolVar(&o.progress, "progress", false, "show a progress bar on stderr")
	f.StringVar(&o.pushgateway, "pushgateway", envOr("PUSHGATEWAY_URL", ""), "Prometheus Pushgateway URL for run metrics")
	cmd.MarkFlagsMutuallyExclusive("recipe", "preset")
	cmd.MarkFlagsOneRequired("recipe", "preset")
	return cmd
}

func (o *runOptions) load() (*recipe.Recipe, error) {
	var (
		rec *recipe.Recipe
		err error
	)
	if o.preset != "" {
		rec, err = recipe.Preset(o.preset)
	} else {
		rec, err = recipe.Load(o.recipePath)
	}
	if err != nil {
		return nil, err
	}
	if o.input != "" {
		rec.Input = o.input
	}
	if o.output != "" {
		rec.Output = o.output
	}
	if rec.Input == "" || rec.Output == "" {
		return nil, errors.New("--input and --output are required when the recipe does not name them")
	}
	return rec, nil
}

// execute runs rec against the local filesystem and prints a summary.
func execute(cmd *cobra.Command, logger *slog.Logger, rec *recipe.Recipe, progress bool, pushURL string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		metrics *observability.Metrics
		pusher  *observability.Pusher
	)
	if pushURL != "" {
		pusher, metrics = observability.NewPusher(pushURL, "watertag")
	}

	store := netcdf.NewStore(logger)
	runner := pipeline.NewRunner(store, store, logger, metrics)
	if progress {
		bar := newProgressBar(cmd.ErrOrStderr(), len(rec.Steps))
		defer bar.stop()
		runner = runner.WithObserver(bar)
	}

	report, runErr := runner.Run(ctx, rec)
	if pusher != nil {
		if err := pusher.Push(ctx); err != nil {
			logger.Warn("metrics push failed", "error", err)
		}
	}
	if runErr != nil {
		return runErr
	}
	printReport(cmd, report)
	return nil
}

func printReport(cmd *cobra.Command, report *pipeline.RunReport) {
	printf(cmd, "wrote %s\n", report.Output)
	for _, s := range report.Steps {
		printf(cmd, "  %s: %d combined, %d skipped, %d passed through\n", s.NewRegion, len(s.Combined), len(s.Skipped), s.PassedThrough)
		if len(s.Combined) > 0 {
			printf(cmd, "    %s\n", strings.Join(s.Combined, " "))
		}
		for _, key := range slices.Sorted(maps.Keys(s.Skipped)) {
			printf(cmd, "    skipped %s: missing %s\n", key, strings.Join(s.Skipped[key], ","))
		}
	}
}

func requireFlag(name, value string) error {
	if value == "" {
		return fmt.Errorf("--%s is required", name)
	}
	return nil
}
