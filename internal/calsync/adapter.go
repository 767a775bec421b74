// Package calsync defines the capability every external provider a booking is
// mirrored into must expose, and the error model the orchestrator relies on
// to tell transient provider failures from permanent ones.
package calsync

import (
	"context"
	"time"

	"scheduler-service/internal/model"
)

// Artifact is what a provider hands back after creating its mirror of a booking.
type Artifact struct {
	ExternalID string
	// JoinURL is only set by meeting providers.
	JoinURL string
}

// Adapter creates, updates and deletes the external artifact linked to a booking.
// Implementations return ErrNotConfigured when the resource is not connected
// to the provider, and ErrExternalNotFound when the artifact no longer exists.
type Adapter interface {
	Kind() model.ProviderKind
	Create(ctx context.Context, resource model.Resource, booking model.Booking) (Artifact, error)
	Update(ctx context.Context, resource model.Resource, booking model.Booking, externalID string) error
	Delete(ctx context.Context, resource model.Resource, externalID string) error
}

// BusySource lists intervals the external calendar already considers busy.
// It is advisory: the booking table stays the source of truth for conflicts.
type BusySource interface {
	ListBusyIntervals(ctx context.Context, resource model.Resource, dayStart, dayEnd time.Time) ([]model.Interval, error)
}
