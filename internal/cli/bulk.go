package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"scheduler-service/internal/booking"
	"scheduler-service/internal/model"
)

// BulkOptions holds flags for the bulk-reschedule command.
type BulkOptions struct {
	*RootOptions
	GranularityMinutes int
}

// NewBulkRescheduleCommand creates the bulk-reschedule command.
func NewBulkRescheduleCommand(rootOpts *RootOptions, factory BulkFactory) *cobra.Command {
	opts := &BulkOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "bulk-reschedule <resource-id> <range-start> <range-end> <new-range-start> <new-range-end>",
		Short: "Move every confirmed booking in a date range into another date range",
		Long: `Move the confirmed bookings of a resource that start within an inclusive
date range into the resource's open hours within another inclusive date range.

Dates are YYYY-MM-DD in the resource's timezone. Bookings are moved in start
order and never share a replacement slot. Bookings that cannot be placed are
reported and left untouched.

Example:
  scheduler bulk-reschedule room-1 2030-01-07 2030-01-07 2030-01-08 2030-01-09
  scheduler bulk-reschedule room-1 2030-01-07 2030-01-11 2030-01-14 2030-01-18 --format json`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 5 {
				return NewExitError(ExitCommandError, fmt.Sprintf("expected 5 arguments, got %d", len(args)))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBulkReschedule(cmd, opts, factory, args)
		},
	}
	cmd.Flags().IntVar(&opts.GranularityMinutes, "granularity", 0, "candidate step in minutes (default from SLOT_GRANULARITY_MINUTES)")
	return cmd
}

func runBulkReschedule(cmd *cobra.Command, opts *BulkOptions, factory BulkFactory, args []string) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if opts.GranularityMinutes < 0 {
		_ = out.Error("Validation", "granularity must be positive", nil)
		return NewExitError(ExitCommandError, "granularity must be positive")
	}

	affected := booking.DateRange{From: args[1], To: args[2]}
	replacement := booking.DateRange{From: args[3], To: args[4]}
	if err := booking.ValidateDateRanges(affected, replacement); err != nil {
		var details any
		var verr *model.ValidationError
		if errors.As(err, &verr) {
			details = verr.Fields
		}
		_ = out.Error("Validation", err.Error(), details)
		return WrapExitError(ExitCommandError, "bulk reschedule rejected", err)
	}

	ctx := cmd.Context()
	bulk, release, err := factory(ctx, opts.RootOptions, opts.GranularityMinutes)
	if err != nil {
		_ = out.Error("Internal", err.Error(), nil)
		return WrapExitError(ExitFailure, "failed to initialise", err)
	}
	defer release()

	tally, err := bulk.BulkRescheduleDays(ctx, args[0], affected, replacement)
	if err != nil && tally == nil {
		code := model.Code(err)
		var details any
		var verr *model.ValidationError
		if errors.As(err, &verr) {
			details = verr.Fields
		}
		_ = out.Error(code, err.Error(), details)
		if code == "Validation" || code == "NotFound" {
			return WrapExitError(ExitCommandError, "bulk reschedule rejected", err)
		}
		return WrapExitError(ExitFailure, "bulk reschedule failed", err)
	}

	if perr := out.Tally(tally); perr != nil {
		return WrapExitError(ExitFailure, "write output", perr)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "bulk reschedule interrupted", err)
	}
	return nil
}
