// Package cli implements the scheduler command line.
package cli

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"scheduler-service/internal/booking"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
}

var ValidFormats = []string{"text", "json"}

// BulkFactory builds the bulk rescheduler for one invocation. granularity is
// zero when the flag was not given. The returned func releases resources.
type BulkFactory func(ctx context.Context, opts *RootOptions, granularity int) (*booking.BulkRescheduler, func(), error)

// NewRootCommand creates the root command.
func NewRootCommand(factory BulkFactory) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Booking scheduler operations",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewBulkRescheduleCommand(opts, factory))
	return cmd
}
