package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"scheduler-service/internal/booking"
	"scheduler-service/internal/model"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // infrastructure errors
	ExitCommandError = 2 // bad arguments or rejected input
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// Response is the JSON envelope for CLI output.
type Response struct {
	Status string     `json:"status"`
	Data   any        `json:"data,omitempty"`
	Error  *ErrorBody `json:"error,omitempty"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(Response{
			Status: "error",
			Error:  &ErrorBody{Code: code, Message: message, Details: details},
		})
	}
	_, err := fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	return err
}

// Tally prints a bulk reschedule summary.
func (f *OutputFormatter) Tally(t *booking.Tally) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(Response{Status: "ok", Data: t})
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Rescheduled %d, failed %d\n", t.SuccessCount, t.FailureCount)
	for _, item := range t.Results {
		if item.NewWindow != nil {
			fmt.Fprintf(&b, "  %s  %s -> %s\n", item.BookingID,
				item.OldWindow.Start.Format(time.RFC3339), item.NewWindow.Start.Format(time.RFC3339))
		} else {
			fmt.Fprintf(&b, "  %s  %s  FAILED [%s] %s\n", item.BookingID,
				item.OldWindow.Start.Format(time.RFC3339), item.ErrorCode, item.Error)
		}
		for _, o := range item.SyncOutcomes {
			if o.Status != model.SyncSynced {
				fmt.Fprintf(&b, "      %s: %s\n", o.Provider, o.Status)
			}
		}
		for _, w := range item.Warnings {
			fmt.Fprintf(&b, "      warning: %s\n", w)
		}
	}
	_, err := io.WriteString(f.Writer, b.String())
	return err
}
