// Package recipe describes chained region combinations in YAML, TOML or JSON.
//
// A recipe names an input file, an output file and an ordered list of
// steps. Every step is one region combination applied to the output of the
// previous one. Unset step fields take the combiner defaults.
//
//	input: cam.h0.climo.nc
//	output: cam.h0.climo_combReg.nc
//	steps:
//	  - new_region: ERAS
//	    regions: [EURO, NASA, INDA, SASA]
//	    inherit_attrs: consensus
//	    consensus_only_keys: [units]
//	    prefer_keys: [long_name, cell_methods]
package recipe

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/couchcryptid/watertag-etl/internal/domain"
	"gopkg.in/yaml.v3"
)

// Format is a recipe serialization.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatJSON Format = "json"
)

// ErrInvalidRecipe wraps every recipe validation failure.
var ErrInvalidRecipe = errors.New("invalid recipe")

// Recipe is an ordered chain of region combinations over one file.
type Recipe struct {
	Input  string `yaml:"input" toml:"input" json:"input,omitempty"`
	Output string `yaml:"output" toml:"output" json:"output,omitempty"`
	Steps  []Step `yaml:"steps" toml:"steps" json:"steps"`
}

// Step is one region combination. Pointer fields distinguish "unset" from
// an explicit false.
type Step struct {
	NewRegion         string             `yaml:"new_region" toml:"new_region" json:"new_region"`
	Regions           []string           `yaml:"regions" toml:"regions" json:"regions"`
	Weights           map[string]float64 `yaml:"weights" toml:"weights" json:"weights,omitempty"`
	RequireAll        *bool              `yaml:"require_all" toml:"require_all" json:"require_all,omitempty"`
	Join              string             `yaml:"join" toml:"join" json:"join,omitempty"`
	ZeroFill          *bool              `yaml:"zero_fill" toml:"zero_fill" json:"zero_fill,omitempty"`
	SkipNA            *bool              `yaml:"skipna" toml:"skipna" json:"skipna,omitempty"`
	DType             string             `yaml:"dtype" toml:"dtype" json:"dtype,omitempty"`
	InheritAttrs      string             `yaml:"inherit_attrs" toml:"inherit_attrs" json:"inherit_attrs,omitempty"`
	CopyEncoding      *bool              `yaml:"copy_encoding" toml:"copy_encoding" json:"copy_encoding,omitempty"`
	AnnotateSources   *bool              `yaml:"annotate_sources" toml:"annotate_sources" json:"annotate_sources,omitempty"`
	ConsensusOnlyKeys []string           `yaml:"consensus_only_keys" toml:"consensus_only_keys" json:"consensus_only_keys,omitempty"`
	PreferKeys        []string           `yaml:"prefer_keys" toml:"prefer_keys" json:"prefer_keys,omitempty"`
	KeepNonRegionVars *bool              `yaml:"keep_nonregion_vars" toml:"keep_nonregion_vars" json:"keep_nonregion_vars,omitempty"`
}

// Options converts the step into combiner options over the defaults.
func (s Step) Options() (domain.CombineOptions, error) {
	opts := domain.DefaultCombineOptions()
	opts.Weights = s.Weights
	setBool(&opts.RequireAll, s.RequireAll)
	setBool(&opts.ZeroFill, s.ZeroFill)
	setBool(&opts.SkipNA, s.SkipNA)
	setBool(&opts.CopyEncoding, s.CopyEncoding)
	setBool(&opts.AnnotateSources, s.AnnotateSources)
	setBool(&opts.KeepNonRegionVars, s.KeepNonRegionVars)
	if s.Join != "" {
		opts.Join = domain.JoinMode(s.Join)
	}
	if s.InheritAttrs != "" {
		opts.InheritAttrs = domain.InheritPolicy(s.InheritAttrs)
	}
	if s.DType != "" {
		d, err := domain.ParseDType(s.DType)
		if err != nil {
			return opts, err
		}
		opts.DType = d
	}
	if s.ConsensusOnlyKeys != nil {
		opts.ConsensusOnlyKeys = domain.KeySet(s.ConsensusOnlyKeys...)
	}
	if s.PreferKeys != nil {
		opts.PreferKeys = domain.KeySet(s.PreferKeys...)
	}
	return opts, opts.Validate()
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

// Validate checks every step without touching any data.
func (r *Recipe) Validate() error {
	if len(r.Steps) == 0 {
		return fmt.Errorf("%w: no steps", ErrInvalidRecipe)
	}
	for i, s := range r.Steps {
		if strings.TrimSpace(s.NewRegion) == "" {
			return fmt.Errorf("%w: step %d: new_region is required", ErrInvalidRecipe, i+1)
		}
		if len(s.Regions) == 0 {
			return fmt.Errorf("%w: step %d (%s): %w", ErrInvalidRecipe, i+1, s.NewRegion, domain.ErrNoRegions)
		}
		if _, err := s.Options(); err != nil {
			return fmt.Errorf("%w: step %d (%s): %w", ErrInvalidRecipe, i+1, s.NewRegion, err)
		}
	}
	return nil
}

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: unknown recipe extension %q", ErrInvalidRecipe, filepath.Ext(path))
	}
}

// Load reads and validates a recipe file. Relative input and output paths
// resolve against the recipe's directory.
func Load(path string) (*Recipe, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read recipe: %w", err)
	}
	r, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	dir := filepath.Dir(path)
	for _, p := range []*string{&r.Input, &r.Output} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
	return r, nil
}

// Parse decodes and validates a recipe. Unknown fields are rejected so a
// misspelled option never silently falls back to its default.
func Parse(data []byte, format Format) (*Recipe, error) {
	var r Recipe
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&r); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRecipe, err)
		}
	case FormatTOML:
		md, err := toml.Decode(string(data), &r)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRecipe, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("%w: unknown field %q", ErrInvalidRecipe, undecoded[0].String())
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&r); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRecipe, err)
		}
	default:
		return nil, fmt.Errorf("%w: unknown format %q", ErrInvalidRecipe, format)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}
