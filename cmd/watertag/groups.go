package main

import (
	"context"
	"strings"

	"github.com/couchcryptid/watertag-etl/internal/adapter/netcdf"
	"github.com/couchcryptid/watertag-etl/internal/domain"
	"github.com/spf13/cobra"
)

func newGroupsCmd(c *cli) *cobra.Command {
	var (
		input   string
		regions []string
	)
	cmd := &cobra.Command{
		Use:   "groups",
		Short: "List the variable groups a region set would combine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireFlag("input", input); err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ds, err := netcdf.NewStore(c.logger(cmd)).Load(ctx, input)
			if err != nil {
				return err
			}
			groups, matched, err := domain.DiscoverGroups(ds, regions)
			if err != nil {
				return err
			}
			m, err := domain.NewRegionMatcher(regions)
			if err != nil {
				return err
			}
			for _, g := range groups {
				present := g.Present(m.Regions())
				members := make([]string, len(present))
				for i, r := range present {
					members[i] = g.Members[r].Name
				}
				printf(cmd, "%s  %d/%d  %s\n", g.Key, len(present), len(m.Regions()), strings.Join(members, " "))
			}
			printf(cmd, "%d groups, %d region variables, %d other variables\n", len(groups), len(matched), len(ds.Vars())-len(matched))
			return nil
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "input NetCDF file")
	cmd.Flags().StringSliceVar(&regions, "regions", nil, "region codes to match")
	return cmd
}
