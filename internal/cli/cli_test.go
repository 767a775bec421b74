package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scheduler-service/internal/booking"
	"scheduler-service/internal/calsync"
	"scheduler-service/internal/model"
	"scheduler-service/internal/notify"
	"scheduler-service/internal/store/memory"
	"scheduler-service/pkg/logging"
)

var (
	// Monday.
	monday = time.Date(2030, 1, 7, 0, 0, 0, 0, time.UTC)
	now    = time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)
)

// memoryFactory seeds a resource open 09:00-17:00 Monday and Tuesday with
// the given Monday booking starts.
func memoryFactory(t *testing.T, starts ...time.Time) (BulkFactory, *memory.Store) {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	require.NoError(t, st.SaveResource(ctx, &model.Resource{ID: "r1", Name: "Room", Timezone: "UTC"}))
	for _, day := range []int{1, 2} {
		require.NoError(t, st.InsertAvailabilityRule(ctx, &model.AvailabilityRule{
			ResourceID: "r1", DayOfWeek: day, StartTime: "09:00", EndTime: "17:00", Active: true,
		}))
	}
	require.NoError(t, st.SaveService(ctx, &model.ServiceDefinition{
		ID: "consult", ResourceID: "r1", Name: "Consult", DurationMinutes: 60, Active: true,
	}))

	reg, err := calsync.NewRegistry()
	require.NoError(t, err)
	logger := logging.Discard()
	orch := booking.NewOrchestrator(st, reg, notify.NewLogSender(logger),
		booking.WithClock(func() time.Time { return now }), booking.WithLogger(logger))
	t.Cleanup(orch.Wait)

	for _, s := range starts {
		_, err := orch.CreateBooking(ctx, booking.CreateRequest{
			ResourceID: "r1", ServiceID: "consult", ClientName: "Ada",
			ClientEmail: "ada@example.com", Start: s,
		})
		require.NoError(t, err)
	}

	factory := func(_ context.Context, _ *RootOptions, granularity int) (*booking.BulkRescheduler, func(), error) {
		g := time.Hour
		if granularity > 0 {
			g = time.Duration(granularity) * time.Minute
		}
		return booking.NewBulkRescheduler(orch, g), func() {}, nil
	}
	return factory, st
}

func execute(factory BulkFactory, args ...string) (string, error) {
	buf := &bytes.Buffer{}
	cmd := NewRootCommand(factory)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestBulkRescheduleText(t *testing.T) {
	factory, _ := memoryFactory(t, monday.Add(9*time.Hour), monday.Add(10*time.Hour))

	out, err := execute(factory, "bulk-reschedule", "r1", "2030-01-07", "2030-01-07", "2030-01-08", "2030-01-08")
	require.NoError(t, err)
	assert.Contains(t, out, "Rescheduled 2, failed 0")
	assert.Contains(t, out, "2030-01-08T09:00:00Z")
	assert.Contains(t, out, "2030-01-08T10:00:00Z")
}

func TestBulkRescheduleJSON(t *testing.T) {
	factory, _ := memoryFactory(t, monday.Add(9*time.Hour))

	out, err := execute(factory, "bulk-reschedule", "r1", "2030-01-07", "2030-01-07", "2030-01-08", "2030-01-08",
		"--format", "json", "--granularity", "30")
	require.NoError(t, err)

	var resp struct {
		Status string        `json:"status"`
		Data   booking.Tally `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Data.SuccessCount)
	require.Len(t, resp.Data.Results, 1)
	require.NotNil(t, resp.Data.Results[0].NewWindow)
}

func TestBulkRescheduleReportsUnplaceable(t *testing.T) {
	// Three one-hour bookings cannot fit in a replacement day with two open hours.
	factory, st := memoryFactory(t, monday.Add(9*time.Hour), monday.Add(10*time.Hour), monday.Add(11*time.Hour))
	require.NoError(t, st.InsertAvailabilityRule(context.Background(), &model.AvailabilityRule{
		ResourceID: "r1", DayOfWeek: 3, StartTime: "09:00", EndTime: "11:00", Active: true,
	}))

	out, err := execute(factory, "bulk-reschedule", "r1", "2030-01-07", "2030-01-07", "2030-01-09", "2030-01-09")
	require.NoError(t, err)
	assert.Contains(t, out, "Rescheduled 2, failed 1")
	assert.Contains(t, out, "NoSlotAvailable")
}

func TestBulkRescheduleExitCodes(t *testing.T) {
	factory, _ := memoryFactory(t)
	broken := func(context.Context, *RootOptions, int) (*booking.BulkRescheduler, func(), error) {
		return nil, nil, errors.New("connection refused")
	}

	tests := []struct {
		name    string
		factory BulkFactory
		args    []string
		code    int
	}{
		{"too few args", factory, []string{"bulk-reschedule", "r1", "2030-01-07"}, ExitCommandError},
		{"bad date", factory, []string{"bulk-reschedule", "r1", "07/01/2030", "2030-01-07", "2030-01-08", "2030-01-08"}, ExitCommandError},
		{"reversed range", factory, []string{"bulk-reschedule", "r1", "2030-01-08", "2030-01-07", "2030-01-08", "2030-01-08"}, ExitCommandError},
		{"unknown resource", factory, []string{"bulk-reschedule", "ghost", "2030-01-07", "2030-01-07", "2030-01-08", "2030-01-08"}, ExitCommandError},
		{"bad format", factory, []string{"bulk-reschedule", "r1", "2030-01-07", "2030-01-07", "2030-01-08", "2030-01-08", "--format", "xml"}, ExitCommandError},
		{"infrastructure", broken, []string{"bulk-reschedule", "r1", "2030-01-07", "2030-01-07", "2030-01-08", "2030-01-08"}, ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(tt.factory, tt.args...)
			require.Error(t, err)
			assert.Equal(t, tt.code, GetExitCode(err))
		})
	}
}

func TestBadDatesRejectedBeforeConnecting(t *testing.T) {
	called := false
	broken := func(context.Context, *RootOptions, int) (*booking.BulkRescheduler, func(), error) {
		called = true
		return nil, nil, errors.New("connection refused")
	}
	_, err := execute(broken, "bulk-reschedule", "r1", "2030-13-40", "2030-01-07", "2030-01-08", "2030-01-08")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.False(t, called)
}

func TestValidationErrorJSONCarriesFields(t *testing.T) {
	factory, _ := memoryFactory(t)
	out, err := execute(factory, "bulk-reschedule", "r1", "nope", "2030-01-07", "2030-01-08", "2030-01-08", "--format", "json")
	require.Error(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "Validation", resp.Error.Code)
	assert.Contains(t, resp.Error.Details, "range_start")
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("boom")))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad")))
}
