// Package store declares the persistence contract used by the booking core.
// Implementations live in store/postgres and store/memory.
package store

import (
	"context"
	"time"

	"scheduler-service/internal/model"
)

// BookingQuerier reads bookings. Inside InResourceTx it sees the locked
// resource's committed state plus the transaction's own writes.
type BookingQuerier interface {
	// FindBookingsByResourceAndRange returns bookings of the resource that
	// overlap [start, end) with the given status, ordered by start.
	FindBookingsByResourceAndRange(ctx context.Context, resourceID string, start, end time.Time, status model.BookingStatus) ([]model.Booking, error)
}

// Tx is the resource-scoped atomic unit handed to InResourceTx callbacks.
type Tx interface {
	BookingQuerier
	InsertBooking(ctx context.Context, b *model.Booking) error
	UpdateBookingWindow(ctx context.Context, bookingID string, start, end time.Time) error
}

type ResourceStore interface {
	GetResource(ctx context.Context, id string) (*model.Resource, error)
	SaveResource(ctx context.Context, r *model.Resource) error
}

type AvailabilityStore interface {
	ListAvailabilityRules(ctx context.Context, resourceID string) ([]model.AvailabilityRule, error)
	InsertAvailabilityRule(ctx context.Context, r *model.AvailabilityRule) error
	UpdateAvailabilityRule(ctx context.Context, r *model.AvailabilityRule) error
}

type ServiceStore interface {
	GetService(ctx context.Context, id string) (*model.ServiceDefinition, error)
	SaveService(ctx context.Context, s *model.ServiceDefinition) error
	ListServices(ctx context.Context, resourceID string) ([]model.ServiceDefinition, error)
}

type BookingStore interface {
	BookingQuerier
	FindBookingByID(ctx context.Context, id string) (*model.Booking, error)
	// ListBookings returns bookings starting in [from, to). Zero bounds mean unbounded.
	ListBookings(ctx context.Context, resourceID string, from, to time.Time) ([]model.Booking, error)
	// CancelBooking flips a confirmed booking to cancelled. It reports false
	// when the booking was not confirmed at the time of the call.
	CancelBooking(ctx context.Context, id string) (bool, error)
	// InResourceTx runs fn while holding the resource's write lock. Returning
	// an error from fn discards every write made through tx.
	InResourceTx(ctx context.Context, resourceID string, fn func(ctx context.Context, tx Tx) error) error
}

type SyncStore interface {
	ListSyncRecords(ctx context.Context, bookingID string) ([]model.SyncRecord, error)
	SaveSyncRecord(ctx context.Context, rec *model.SyncRecord) error
	DeleteSyncRecord(ctx context.Context, bookingID string, provider model.ProviderKind) error
}

type CredentialStore interface {
	SaveCalendarCredential(ctx context.Context, cred *model.CalendarCredential) error
	GetCalendarCredential(ctx context.Context, resourceID string) (*model.CalendarCredential, error)
}

// Store is the full persistence surface.
type Store interface {
	ResourceStore
	AvailabilityStore
	ServiceStore
	BookingStore
	SyncStore
	CredentialStore
}
