// Package notify delivers booking lifecycle notifications. Delivery is best
// effort: callers invoke senders asynchronously and only log failures.
package notify

import (
	"context"
	"errors"

	"scheduler-service/internal/model"
	"scheduler-service/pkg/logging"
)

// TemplateKind names the lifecycle event a notification is about. Rendering
// is left to the downstream consumer.
type TemplateKind string

const (
	BookingConfirmed   TemplateKind = "booking_confirmed"
	BookingCancelled   TemplateKind = "booking_cancelled"
	BookingRescheduled TemplateKind = "booking_rescheduled"
)

// Sender defines the interface for delivering a booking notification.
type Sender interface {
	Send(ctx context.Context, kind TemplateKind, b model.Booking) error
}

// Multi fans a notification out to every sender and joins their errors.
type Multi []Sender

func (m Multi) Send(ctx context.Context, kind TemplateKind, b model.Booking) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Send(ctx, kind, b); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSender is a no-op sender for local runs or when delivery is disabled.
type LogSender struct {
	logger *logging.Logger
}

func NewLogSender(logger *logging.Logger) *LogSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, kind TemplateKind, b model.Booking) error {
	s.logger.Info("notification skipped: no delivery configured", "kind", string(kind), "booking_id", b.ID, "to", b.ClientEmail)
	return nil
}

func joinURL(b model.Booking) string {
	for _, r := range b.SyncRecords {
		if r.Provider == model.ProviderMeeting && r.JoinURL != "" {
			return r.JoinURL
		}
	}
	return ""
}
