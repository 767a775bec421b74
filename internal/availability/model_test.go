package availability

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scheduler-service/internal/model"
)

// 2030-01-07 is a Monday.
func mon(h, m int) time.Time {
	return time.Date(2030, 1, 7, h, m, 0, 0, time.UTC)
}

func mondayModel(t *testing.T) *Model {
	t.Helper()
	m, err := New(model.Resource{ID: "r1", Timezone: "UTC"}, []model.AvailabilityRule{
		{ID: 1, DayOfWeek: 1, StartTime: "09:00", EndTime: "17:00", Active: true},
	})
	require.NoError(t, err)
	return m
}

func TestAvailabilityBoundaries(t *testing.T) {
	m := mondayModel(t)
	tests := []struct {
		name       string
		start, end time.Time
		want       bool
	}{
		{"starts at open", mon(9, 0), mon(9, 30), true},
		{"ends at close", mon(16, 30), mon(17, 0), true},
		{"ends one minute past close", mon(16, 31), mon(17, 1), false},
		{"starts before open", mon(8, 59), mon(9, 29), false},
		{"starts at close", mon(17, 0), mon(17, 30), false},
		{"closed day", mon(10, 0).AddDate(0, 0, 1), mon(10, 30).AddDate(0, 0, 1), false},
		{"empty window", mon(10, 0), mon(10, 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.IsWithinAvailability(tt.start, tt.end))
		})
	}
}

func TestInactiveRulesAreIgnored(t *testing.T) {
	m, err := New(model.Resource{ID: "r1"}, []model.AvailabilityRule{
		{ID: 1, DayOfWeek: 1, StartTime: "09:00", EndTime: "17:00", Active: false},
	})
	require.NoError(t, err)
	assert.False(t, m.IsWithinAvailability(mon(10, 0), mon(10, 30)))
}

func TestOverlappingRulesAreAUnion(t *testing.T) {
	m, err := New(model.Resource{ID: "r1"}, []model.AvailabilityRule{
		{ID: 1, DayOfWeek: 1, StartTime: "09:00", EndTime: "12:00", Active: true},
		{ID: 2, DayOfWeek: 1, StartTime: "11:00", EndTime: "14:00", Active: true},
		{ID: 3, DayOfWeek: 1, StartTime: "15:00", EndTime: "16:00", Active: true},
	})
	require.NoError(t, err)

	assert.True(t, m.IsWithinAvailability(mon(11, 30), mon(12, 30)))
	assert.False(t, m.IsWithinAvailability(mon(13, 30), mon(15, 30)))
	assert.True(t, m.IsWithinAvailability(mon(15, 0), mon(16, 0)))
}

func TestMidnightCrossingRejected(t *testing.T) {
	m, err := New(model.Resource{ID: "r1"}, []model.AvailabilityRule{
		{ID: 1, DayOfWeek: 1, StartTime: "20:00", EndTime: "23:59", Active: true},
		{ID: 2, DayOfWeek: 2, StartTime: "00:00", EndTime: "02:00", Active: true},
	})
	require.NoError(t, err)
	assert.False(t, m.IsWithinAvailability(mon(23, 30), mon(23, 30).Add(time.Hour)))
}

func TestTimezoneIsApplied(t *testing.T) {
	m, err := New(model.Resource{ID: "r1", Timezone: "America/New_York"}, []model.AvailabilityRule{
		{ID: 1, DayOfWeek: 1, StartTime: "09:00", EndTime: "17:00", Active: true},
	})
	require.NoError(t, err)

	// 14:00 UTC is 09:00 in New York during January.
	assert.True(t, m.IsWithinAvailability(mon(14, 0), mon(14, 30)))
	assert.False(t, m.IsWithinAvailability(mon(9, 0), mon(9, 30)))
}

func TestWindowsExpandDateRange(t *testing.T) {
	m, err := New(model.Resource{ID: "r1"}, []model.AvailabilityRule{
		{ID: 1, DayOfWeek: 1, StartTime: "09:00", EndTime: "12:00", Active: true},
		{ID: 2, DayOfWeek: 3, StartTime: "13:00", EndTime: "15:00", Active: true},
	})
	require.NoError(t, err)

	windows := m.Windows(mon(0, 0), mon(0, 0).AddDate(0, 0, 7))
	require.Len(t, windows, 3)
	assert.Equal(t, model.Interval{Start: mon(9, 0), End: mon(12, 0)}, windows[0])
	assert.Equal(t, model.Interval{Start: mon(13, 0).AddDate(0, 0, 2), End: mon(15, 0).AddDate(0, 0, 2)}, windows[1])
	assert.Equal(t, mon(9, 0).AddDate(0, 0, 7), windows[2].Start)
}

func TestNewRejectsBadRules(t *testing.T) {
	_, err := New(model.Resource{ID: "r1"}, []model.AvailabilityRule{
		{ID: 9, DayOfWeek: 1, StartTime: "17:00", EndTime: "09:00", Active: true},
	})
	assert.Error(t, err)

	_, err = New(model.Resource{ID: "r1", Timezone: "Mars/Olympus"}, nil)
	assert.Error(t, err)
}

func TestValidateRule(t *testing.T) {
	assert.NoError(t, ValidateRule(model.AvailabilityRule{DayOfWeek: 2, StartTime: "09:00:00", EndTime: "10:00"}))

	err := ValidateRule(model.AvailabilityRule{DayOfWeek: 7, StartTime: "9am", EndTime: "10:00"})
	var verr *model.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Fields, "day_of_week")
	assert.Contains(t, verr.Fields, "start_time")
}

func TestParseClock(t *testing.T) {
	secs, err := ParseClock("09:30:00.000000")
	require.NoError(t, err)
	assert.Equal(t, 9*3600+30*60, secs)

	_, err = ParseClock("9:3")
	assert.Error(t, err)
}
