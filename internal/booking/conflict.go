package booking

import (
	"context"
	"fmt"

	"scheduler-service/internal/model"
	"scheduler-service/internal/slots"
	"scheduler-service/internal/store"
)

// ConflictDetector decides whether a window collides with a confirmed booking.
// Only the answer given inside store.InResourceTx is authoritative.
type ConflictDetector struct{}

// HasConflict reports whether any confirmed booking of the resource other
// than excludeBookingID overlaps window. Touching intervals do not conflict.
func (ConflictDetector) HasConflict(ctx context.Context, q store.BookingQuerier, resourceID string, window model.Interval, excludeBookingID string) (bool, error) {
	existing, err := q.FindBookingsByResourceAndRange(ctx, resourceID, window.Start, window.End, model.StatusConfirmed)
	if err != nil {
		return false, fmt.Errorf("booking: load overlapping bookings: %w", err)
	}
	for _, b := range existing {
		if b.ID == excludeBookingID {
			continue
		}
		if b.Status == model.StatusConfirmed && b.Window().Overlaps(window) {
			return true, nil
		}
	}
	return false, nil
}

// Checker binds the detector to a querier for slot search.
func (d ConflictDetector) Checker(q store.BookingQuerier) slots.ConflictChecker {
	return querierChecker{detector: d, q: q}
}

type querierChecker struct {
	detector ConflictDetector
	q        store.BookingQuerier
}

func (c querierChecker) HasConflict(ctx context.Context, resourceID string, window model.Interval, excludeBookingID string) (bool, error) {
	return c.detector.HasConflict(ctx, c.q, resourceID, window, excludeBookingID)
}
