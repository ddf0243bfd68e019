package main

import (
	"strings"

	"github.com/couchcryptid/watertag-etl/internal/recipe"
	"github.com/spf13/cobra"
)

func newPresetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List built-in recipes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, name := range recipe.PresetNames() {
				rec, err := recipe.Preset(name)
				if err != nil {
					return err
				}
				printf(cmd, "%s\n", name)
				for _, s := range rec.Steps {
					printf(cmd, "  %s = %s\n", s.NewRegion, strings.Join(s.Regions, " + "))
				}
			}
			return nil
		},
	}
}
