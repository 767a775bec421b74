// Package model holds the shared booking domain types.
package model

import "time"

type BookingStatus string

const (
	StatusConfirmed BookingStatus = "confirmed"
	StatusCancelled BookingStatus = "cancelled"
	StatusCompleted BookingStatus = "completed"
)

// ProviderKind identifies an external system a booking is mirrored into.
type ProviderKind string

const (
	ProviderCalendar ProviderKind = "calendar"
	ProviderMeeting  ProviderKind = "meeting"
)

// ProviderKinds lists every provider variant in dispatch order.
var ProviderKinds = []ProviderKind{ProviderCalendar, ProviderMeeting}

type SyncStatus string

const (
	SyncSynced       SyncStatus = "synced"
	SyncFailed       SyncStatus = "failed"
	SyncNotAttempted SyncStatus = "not_attempted"
)

// Resource is a bookable entity. CalendarID and MeetingHostID are empty when
// the corresponding provider is not connected.
type Resource struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Timezone      string    `json:"timezone"`
	CalendarID    string    `json:"calendar_id,omitempty"`
	MeetingHostID string    `json:"meeting_host_id,omitempty"`
	CreatedAt     time.Time `json:"created_at,omitempty"`
}

// Location resolves the resource timezone, defaulting to UTC.
func (r Resource) Location() (*time.Location, error) {
	if r.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(r.Timezone)
}

type AvailabilityRule struct {
	ID         int       `json:"id"`
	ResourceID string    `json:"resource_id"`
	DayOfWeek  int       `json:"day_of_week"`
	StartTime  string    `json:"start_time"`
	EndTime    string    `json:"end_time"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
}

// ServiceDefinition describes a bookable service. A non-empty AllowedDurations
// makes the service flexible: a request may pick any of those lengths.
type ServiceDefinition struct {
	ID               string `json:"id"`
	ResourceID       string `json:"resource_id"`
	Name             string `json:"name"`
	DurationMinutes  int    `json:"duration_minutes"`
	AllowedDurations []int  `json:"allowed_durations,omitempty"`
	Active           bool   `json:"active"`
}

func (s ServiceDefinition) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

// Allows reports whether d is a valid length for a booking of this service.
func (s ServiceDefinition) Allows(d time.Duration) bool {
	if d == s.Duration() {
		return true
	}
	for _, m := range s.AllowedDurations {
		if time.Duration(m)*time.Minute == d {
			return true
		}
	}
	return false
}

type Booking struct {
	ID          string        `json:"id"`
	ResourceID  string        `json:"resource_id"`
	ServiceID   string        `json:"service_id"`
	ClientName  string        `json:"client_name"`
	ClientEmail string        `json:"client_email"`
	ClientPhone string        `json:"client_phone,omitempty"`
	Start       time.Time     `json:"start_at_utc"`
	End         time.Time     `json:"end_at_utc"`
	Status      BookingStatus `json:"status"`
	Notes       string        `json:"notes,omitempty"`
	CreatedAt   time.Time     `json:"created_at,omitempty"`
	UpdatedAt   time.Time     `json:"updated_at,omitempty"`
	SyncRecords []SyncRecord  `json:"sync_records,omitempty"`
}

func (b Booking) Window() Interval { return Interval{Start: b.Start, End: b.End} }

func (b Booking) Duration() time.Duration { return b.End.Sub(b.Start) }

// SyncRecord links a booking to the artifact a provider created for it.
type SyncRecord struct {
	BookingID  string       `json:"booking_id"`
	Provider   ProviderKind `json:"provider"`
	ExternalID string       `json:"external_id,omitempty"`
	JoinURL    string       `json:"join_url,omitempty"`
	Status     SyncStatus   `json:"status"`
	LastError  string       `json:"last_error,omitempty"`
	UpdatedAt  time.Time    `json:"updated_at,omitempty"`
}

// CalendarCredential is the opaque token blob stored by the calendar connect flow.
type CalendarCredential struct {
	ResourceID string    `json:"resource_id"`
	CalendarID string    `json:"calendar_id"`
	Token      []byte    `json:"-"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
}
