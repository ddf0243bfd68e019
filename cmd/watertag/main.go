// Command watertag combines region-tagged variables in NetCDF history files.
//
// Usage:
//
//	watertag run --preset rcp85 --input cam.h0.nc --output cam.h0_combReg.nc
//	watertag run --recipe combine.yaml --progress
//	watertag combine --input in.nc --output out.nc --regions EURO,NASA --new-region ERAS
//	watertag groups --input in.nc --regions SLNW,SLNE,SLSW,SLSE
//	watertag presets
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/couchcryptid/watertag-etl/internal/observability"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// cli carries settings shared by every subcommand.
type cli struct {
	logLevel  string
	logFormat string
}

func (c *cli) logger(cmd *cobra.Command) *slog.Logger {
	return observability.NewLoggerTo(cmd.ErrOrStderr(), c.logLevel, c.logFormat)
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "watertag",
		Short:         "Combine region-tagged variables in NetCDF files",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", envOr("LOG_LEVEL", "warn"), "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&c.logFormat, "log-format", envOr("LOG_FORMAT", "text"), "log format (text, json)")

	root.AddCommand(
		newRunCmd(c),
		newCombineCmd(c),
		newGroupsCmd(c),
		newPresetsCmd(),
	)
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
