package recipe

import (
	"fmt"
	"slices"
	"strings"
)

// camStep is a consensus-on-units step as used for CAM water-tag history
// files: units must agree, long_name and cell_methods come from the
// preferred region, everything else passes through.
func camStep(newRegion string, regions ...string) Step {
	return Step{
		NewRegion:         newRegion,
		Regions:           regions,
		InheritAttrs:      "consensus",
		ConsensusOnlyKeys: []string{"units"},
		PreferKeys:        []string{"long_name", "cell_methods"},
		KeepNonRegionVars: ptr(true),
	}
}

func ptr[T any](v T) *T { return &v }

var presets = map[string]func() *Recipe{
	// Late-century RCP8.5 basins.
	"rcp85": func() *Recipe {
		return &Recipe{Steps: []Step{
			camStep("ERAS", "EURO", "NASA", "INDA", "SASA"),
			camStep("NAMG", "WNAM", "ENAM"),
			camStep("NATL", "WNAT", "ENAT"),
			camStep("NPAC", "WNPA", "ENPA"),
		}}
	},
	// Pre-industrial 0ka Sundaland (SL) and Sunda ocean (SO) quadrants.
	"0ka": func() *Recipe {
		return &Recipe{Steps: []Step{
			camStep("SLCB", "SLNW", "SLNE", "SLSW", "SLSE"),
			camStep("SOCB", "SONW", "SONE", "SOSW", "SOSE"),
		}}
	},
	// Eurasia only where every contributing region is tagged.
	"eras-complete": func() *Recipe {
		return &Recipe{Steps: []Step{{
			NewRegion:         "ERAS",
			Regions:           []string{"EURO", "NASA", "INDA", "SASA"},
			RequireAll:        ptr(true),
			KeepNonRegionVars: ptr(true),
		}}}
	},
}

// Preset returns a fresh copy of a built-in recipe with no input or output.
func Preset(name string) (*Recipe, error) {
	build, ok := presets[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown preset %q (have %s)", ErrInvalidRecipe, name, strings.Join(PresetNames(), ", "))
	}
	return build(), nil
}

// PresetNames lists the built-in recipes in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
