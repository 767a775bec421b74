// Package app is the gin HTTP surface of the scheduler.
package app

import (
	"time"

	"golang.org/x/oauth2"

	"scheduler-service/internal/booking"
	"scheduler-service/internal/calsync/google"
	"scheduler-service/internal/slots"
	"scheduler-service/internal/store"
	"scheduler-service/pkg/logging"
)

// App carries the handler dependencies.
type App struct {
	Store        store.Store
	Orchestrator *booking.Orchestrator
	Bulk         *booking.BulkRescheduler
	Logger       *logging.Logger

	// Calendar and OAuth are nil when Google Calendar is not configured.
	Calendar *google.Adapter
	OAuth    *oauth2.Config
	// StateKey signs the OAuth state parameter.
	StateKey []byte

	Granularity time.Duration
	Now         func() time.Time
}

func (a *App) logger() *logging.Logger {
	if a.Logger == nil {
		return logging.Default()
	}
	return a.Logger
}

func (a *App) now() time.Time {
	if a.Now == nil {
		return time.Now()
	}
	return a.Now()
}

func (a *App) granularity() time.Duration {
	if a.Granularity <= 0 {
		return slots.DefaultGranularity
	}
	return a.Granularity
}
