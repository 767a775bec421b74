package app

import (
	"time"

	"scheduler-service/internal/booking"
	"scheduler-service/internal/model"
)

// Slot DTO
type Slot struct {
	StartUTC time.Time `json:"start_utc"`
	EndUTC   time.Time `json:"end_utc"`
}

// bookingResponse is returned by every mutating booking endpoint.
type bookingResponse struct {
	Booking      model.Booking         `json:"booking"`
	SyncOutcomes []booking.SyncOutcome `json:"sync_outcomes"`
	Warnings     []string              `json:"warnings,omitempty"`
}

func newBookingResponse(res *booking.Result) bookingResponse {
	out := bookingResponse{Booking: res.Booking, SyncOutcomes: res.SyncOutcomes, Warnings: res.Warnings}
	if out.SyncOutcomes == nil {
		out.SyncOutcomes = []booking.SyncOutcome{}
	}
	return out
}

type rescheduleRequest struct {
	StartAtUTC time.Time `json:"start_at_utc"`
}

// bulkRescheduleRequest takes either explicit windows with an affected range,
// or day ranges read in the resource timezone.
type bulkRescheduleRequest struct {
	RangeStart time.Time        `json:"range_start"`
	RangeEnd   time.Time        `json:"range_end"`
	Windows    []model.Interval `json:"windows"`

	Days    *booking.DateRange `json:"days,omitempty"`
	NewDays *booking.DateRange `json:"new_days,omitempty"`
}

type calendarAuthResponse struct {
	AuthURL string `json:"auth_url"`
	State   string `json:"state"`
}

// availabilityRuleRequest is one weekly rule in a request body. Active
// defaults to true when omitted.
type availabilityRuleRequest struct {
	DayOfWeek int    `json:"day_of_week"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Active    *bool  `json:"active"`
}

func (r availabilityRuleRequest) rule(resourceID string) model.AvailabilityRule {
	active := true
	if r.Active != nil {
		active = *r.Active
	}
	return model.AvailabilityRule{
		ResourceID: resourceID,
		DayOfWeek:  r.DayOfWeek,
		StartTime:  r.StartTime,
		EndTime:    r.EndTime,
		Active:     active,
	}
}
