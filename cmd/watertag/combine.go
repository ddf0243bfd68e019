package main

import (
	"fmt"
	"strconv"

	"github.com/couchcryptid/watertag-etl/internal/domain"
	"github.com/couchcryptid/watertag-etl/internal/recipe"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type combineOptions struct {
	input       string
	output      string
	progress    bool
	pushgateway string

	step    recipe.Step
	weights map[string]string
	bools   map[string]*bool
}

func newCombineCmd(c *cli) *cobra.Command {
	o := &combineOptions{bools: make(map[string]*bool)}
	def := domain.DefaultCombineOptions()

	cmd := &cobra.Command{
		Use:   "combine",
		Short: "Sum one set of regions into a new region",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rec, err := o.recipe(cmd.Flags())
			if err != nil {
				return err
			}
			return execute(cmd, c.logger(cmd), rec, o.progress, o.pushgateway)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.input, "input", "", "input NetCDF file")
	f.StringVar(&o.output, "output", "", "output NetCDF file")
	f.StringSliceVar(&o.step.Regions, "regions", nil, "region codes to sum, first is preferred for attributes")
	f.StringVar(&o.step.NewRegion, "new-region", "", "code of the combined region")
	f.StringToStringVar(&o.weights, "weights", nil, "per-region multipliers, e.g. EURO=0.5,NASA=1")
	f.StringVar(&o.step.Join, "join", string(def.Join), "index reconciliation (exact, outer)")
	f.StringVar(&o.step.DType, "dtype", string(def.DType), "precision of the summed values (float32, float64); an inherited encoding dtype still decides the on-disk type")
	f.StringVar(&o.step.InheritAttrs, "inherit-attrs", string(def.InheritAttrs), "attribute policy (prefer_order, consensus)")
	f.StringSliceVar(&o.step.ConsensusOnlyKeys, "consensus-only-keys", nil, "restrict the consensus check to these attribute keys")
	f.StringSliceVar(&o.step.PreferKeys, "prefer-keys", nil, "attribute keys always taken from the preferred region")
	o.boolFlag(f, "require-all", def.RequireAll, "skip groups missing any region")
	o.boolFlag(f, "zero-fill", def.ZeroFill, "treat missing values as 0 before summing (outer join only)")
	o.boolFlag(f, "skipna", def.SkipNA, "ignore missing contributors")
	o.boolFlag(f, "copy-encoding", def.CopyEncoding, "carry the preferred region's encoding over")
	o.boolFlag(f, "annotate-sources", def.AnnotateSources, "record source regions on combined variables")
	o.boolFlag(f, "keep-nonregion-vars", def.KeepNonRegionVars, "copy untagged variables to the output")
	f.BoolVar(&o.progress, "progress", false, "show a progress bar on stderr")
	f.StringVar(&o.pushgateway, "pushgateway", envOr("PUSHGATEWAY_URL", ""), "Prometheus Pushgateway URL for run metrics")
	return cmd
}

func (o *combineOptions) boolFlag(f *pflag.FlagSet, name string, value bool, usage string) {
	o.bools[name] = f.Bool(name, value, usage)
}

// recipe turns the flags into a one-step recipe. Boolean flags left at their
// defaults stay unset so the combiner defaults apply.
func (o *combineOptions) recipe(f *pflag.FlagSet) (*recipe.Recipe, error) {
	for name, v := range map[string]string{"input": o.input, "output": o.output, "new-region": o.step.NewRegion} {
		if err := requireFlag(name, v); err != nil {
			return nil, err
		}
	}
	step := o.step
	if len(o.weights) > 0 {
		step.Weights = make(map[string]float64, len(o.weights))
		for region, s := range o.weights {
			w, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("--weights %s=%s: %w", region, s, err)
			}
			step.Weights[region] = w
		}
	}
	set := func(name string) *bool {
		if !f.Changed(name) {
			return nil
		}
		return o.bools[name]
	}
	step.RequireAll = set("require-all")
	step.ZeroFill = set("zero-fill")
	step.SkipNA = set("skipna")
	step.CopyEncoding = set("copy-encoding")
	step.AnnotateSources = set("annotate-sources")
	step.KeepNonRegionVars = set("keep-nonregion-vars")

	rec := &recipe.Recipe{Input: o.input, Output: o.output, Steps: []recipe.Step{step}}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}
