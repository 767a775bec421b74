package booking

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"scheduler-service/internal/availability"
	"scheduler-service/internal/model"
	"scheduler-service/internal/slots"
)

// BulkItem reports what happened to one affected booking.
type BulkItem struct {
	BookingID    string          `json:"booking_id"`
	OldWindow    model.Interval  `json:"old_window"`
	NewWindow    *model.Interval `json:"new_window,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	Error        string          `json:"error,omitempty"`
	SyncOutcomes []SyncOutcome   `json:"sync_outcomes,omitempty"`
	Warnings     []string        `json:"warnings,omitempty"`
}

// Tally summarises a bulk reschedule run.
type Tally struct {
	SuccessCount int        `json:"success_count"`
	FailureCount int        `json:"failure_count"`
	Results      []BulkItem `json:"results"`
}

// BulkRescheduler moves every confirmed booking in a range into replacement
// windows, one booking at a time.
type BulkRescheduler struct {
	orch        *Orchestrator
	granularity time.Duration
}

func NewBulkRescheduler(orch *Orchestrator, granularity time.Duration) *BulkRescheduler {
	if orch == nil {
		panic("booking: orchestrator required")
	}
	if granularity <= 0 {
		granularity = slots.DefaultGranularity
	}
	return &BulkRescheduler{orch: orch, granularity: granularity}
}

// BulkReschedule re-slots the confirmed bookings of resourceID that start
// inside affected. Items are processed in start order; a slot given to an
// earlier item is never handed to a later one. Per-item failures are
// recorded in the tally and do not stop the run.
func (r *BulkRescheduler) BulkReschedule(ctx context.Context, resourceID string, affected model.Interval, windows []model.Interval) (tally *Tally, err error) {
	o := r.orch
	ctx, span := o.startSpan(ctx, "bulk_reschedule",
		attribute.String("resource.id", resourceID),
		attribute.Int("bulk.windows", len(windows)))
	defer func() {
		if tally != nil {
			span.SetAttributes(attribute.Int("bulk.success", tally.SuccessCount), attribute.Int("bulk.failure", tally.FailureCount))
		}
		o.finish(span, "bulk_reschedule", err)
	}()

	if !affected.Valid() {
		v := &model.ValidationError{}
		v.Add("range", "end must be after start")
		return nil, v
	}
	resource, err := o.store.GetResource(ctx, resourceID)
	if err != nil {
		return nil, fmt.Errorf("booking: bulk reschedule: %w", err)
	}
	rules, err := o.store.ListAvailabilityRules(ctx, resourceID)
	if err != nil {
		return nil, fmt.Errorf("booking: bulk reschedule: %w", err)
	}
	avail, err := availability.New(*resource, rules)
	if err != nil {
		return nil, fmt.Errorf("booking: bulk reschedule: %w", err)
	}

	listed, err := o.store.ListBookings(ctx, resourceID, affected.Start, affected.End)
	if err != nil {
		return nil, fmt.Errorf("booking: bulk reschedule: %w", err)
	}

	checker := openHoursChecker{avail: avail, next: o.detector.Checker(o.store)}
	tally = &Tally{Results: []BulkItem{}}
	var claimed []model.Interval
	for _, b := range listed {
		if b.Status != model.StatusConfirmed {
			continue
		}
		if err := ctx.Err(); err != nil {
			return tally, fmt.Errorf("booking: bulk reschedule interrupted: %w", err)
		}

		item := BulkItem{BookingID: b.ID, OldWindow: b.Window()}
		slot, err := r.place(ctx, checker, b, windows, claimed)
		if err == nil {
			var res *Result
			res, err = o.RescheduleBooking(ctx, b.ID, slot.Start)
			if err == nil {
				moved := res.Booking.Window()
				item.NewWindow = &moved
				item.SyncOutcomes = res.SyncOutcomes
				item.Warnings = res.Warnings
				claimed = append(claimed, moved)
			}
		}

		if err != nil {
			item.ErrorCode = model.Code(err)
			item.Error = err.Error()
			tally.FailureCount++
			o.metrics.ObserveBulkItem("failed")
			o.logger.Warn("bulk item not moved", "booking_id", b.ID, "code", item.ErrorCode, "error", err)
		} else {
			tally.SuccessCount++
			o.metrics.ObserveBulkItem("rescheduled")
		}
		tally.Results = append(tally.Results, item)
	}

	o.logger.Info("bulk reschedule finished", "resource_id", resourceID,
		"success", tally.SuccessCount, "failure", tally.FailureCount)
	return tally, nil
}

func (r *BulkRescheduler) place(ctx context.Context, checker slots.ConflictChecker, b model.Booking, windows []model.Interval, claimed []model.Interval) (model.Interval, error) {
	duration, err := r.orch.RescheduleDuration(ctx, b)
	if err != nil {
		return model.Interval{}, err
	}
	slot, ok, err := slots.FirstFreeSlot(ctx, checker, b.ResourceID, windows, duration, slots.Options{
		Granularity:      r.granularity,
		ExcludeBookingID: b.ID,
		Claimed:          claimed,
		NotBefore:        r.orch.now(),
	})
	if err != nil {
		return model.Interval{}, err
	}
	if !ok {
		return model.Interval{}, fmt.Errorf("booking %s: %w", b.ID, model.ErrNoSlotAvailable)
	}
	return slot, nil
}

// openHoursChecker treats candidates outside the resource's availability as
// taken, so replacement windows wider than the open hours are still safe.
type openHoursChecker struct {
	avail *availability.Model
	next  slots.ConflictChecker
}

func (c openHoursChecker) HasConflict(ctx context.Context, resourceID string, window model.Interval, excludeBookingID string) (bool, error) {
	if !c.avail.IsWithinAvailability(window.Start, window.End) {
		return true, nil
	}
	return c.next.HasConflict(ctx, resourceID, window, excludeBookingID)
}

const dateLayout = "2006-01-02"

// DateRange is an inclusive range of calendar days (YYYY-MM-DD) read in the
// resource's timezone.
type DateRange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// BulkRescheduleDays moves the bookings starting on the affected days into
// the resource's open hours on the replacement days.
func (r *BulkRescheduler) BulkRescheduleDays(ctx context.Context, resourceID string, affected, replacement DateRange) (*Tally, error) {
	resource, err := r.orch.store.GetResource(ctx, resourceID)
	if err != nil {
		return nil, fmt.Errorf("booking: bulk reschedule: %w", err)
	}
	loc, err := resource.Location()
	if err != nil {
		return nil, fmt.Errorf("booking: bulk reschedule: resource timezone: %w", err)
	}

	verr := &model.ValidationError{}
	oldFrom, oldTo := parseDays(verr, "range", affected, loc)
	newFrom, newTo := parseDays(verr, "new_range", replacement, loc)
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	rules, err := r.orch.store.ListAvailabilityRules(ctx, resourceID)
	if err != nil {
		return nil, fmt.Errorf("booking: bulk reschedule: %w", err)
	}
	avail, err := availability.New(*resource, rules)
	if err != nil {
		return nil, fmt.Errorf("booking: bulk reschedule: %w", err)
	}

	days := model.Interval{Start: oldFrom.UTC(), End: oldTo.AddDate(0, 0, 1).UTC()}
	return r.BulkReschedule(ctx, resourceID, days, avail.Windows(newFrom, newTo))
}

// ValidateDateRanges checks the shape of both ranges without needing the
// resource: each bound must be a YYYY-MM-DD date and ranges must not be
// reversed.
func ValidateDateRanges(affected, replacement DateRange) error {
	verr := &model.ValidationError{}
	parseDays(verr, "range", affected, time.UTC)
	parseDays(verr, "new_range", replacement, time.UTC)
	return verr.OrNil()
}

func parseDays(verr *model.ValidationError, field string, dr DateRange, loc *time.Location) (time.Time, time.Time) {
	from, err := time.ParseInLocation(dateLayout, dr.From, loc)
	if err != nil {
		verr.Add(field+"_start", "must be a YYYY-MM-DD date")
	}
	to, err2 := time.ParseInLocation(dateLayout, dr.To, loc)
	if err2 != nil {
		verr.Add(field+"_end", "must be a YYYY-MM-DD date")
	}
	if err == nil && err2 == nil && to.Before(from) {
		verr.Add(field+"_end", "must not be before "+field+"_start")
	}
	return from, to
}
