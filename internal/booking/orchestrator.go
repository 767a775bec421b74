// Package booking owns the booking lifecycle: conflict-safe reservation,
// external sync fan-out, cancellation, rescheduling and bulk re-slotting.
package booking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"scheduler-service/internal/availability"
	"scheduler-service/internal/calsync"
	"scheduler-service/internal/model"
	"scheduler-service/internal/notify"
	"scheduler-service/internal/observability/metrics"
	"scheduler-service/internal/resilience"
	"scheduler-service/internal/store"
	"scheduler-service/pkg/logging"
)

var tracer = otel.Tracer("scheduler.internal.booking")

const (
	defaultNotifyTimeout = 15 * time.Second
	defaultBusyTimeout   = 5 * time.Second
)

// SyncOutcome is the per-provider result of one sync step.
type SyncOutcome struct {
	Provider   model.ProviderKind `json:"provider"`
	Status     model.SyncStatus   `json:"status"`
	ExternalID string             `json:"external_id,omitempty"`
	JoinURL    string             `json:"join_url,omitempty"`
	Attempts   int                `json:"attempts"`
	Recovered  bool               `json:"recovered,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// Result is returned by every mutating orchestrator call. Warnings carry
// non-fatal problems such as failed external syncs.
type Result struct {
	Booking      model.Booking `json:"booking"`
	SyncOutcomes []SyncOutcome `json:"sync_outcomes"`
	Warnings     []string      `json:"warnings,omitempty"`
}

// Orchestrator sequences the booking operations over the store, the sync
// adapters and the notifier.
type Orchestrator struct {
	store    store.Store
	adapters *calsync.Registry
	notifier notify.Sender
	detector ConflictDetector

	policy        resilience.Policy
	logger        *logging.Logger
	metrics       *metrics.BookingMetrics
	busy          calsync.BusySource
	now           func() time.Time
	notifyTimeout time.Duration

	pending sync.WaitGroup
}

type Option func(*Orchestrator)

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithPolicy sets the retry policy applied to every adapter call. A nil
// Classify defaults to calsync.IsTransient.
func WithPolicy(p resilience.Policy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func WithMetrics(m *metrics.BookingMetrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithBusySource enables the advisory external busy check on create.
func WithBusySource(b calsync.BusySource) Option {
	return func(o *Orchestrator) { o.busy = b }
}

func NewOrchestrator(st store.Store, adapters *calsync.Registry, notifier notify.Sender, opts ...Option) *Orchestrator {
	if st == nil {
		panic("booking: store required")
	}
	o := &Orchestrator{
		store:    st,
		adapters: adapters,
		notifier: notifier,
		policy: resilience.Policy{
			MaxAttempts:    3,
			BackoffBase:    200 * time.Millisecond,
			AttemptTimeout: 10 * time.Second,
		},
		now:           time.Now,
		notifyTimeout: defaultNotifyTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logging.Default()
	}
	if o.policy.Classify == nil {
		o.policy.Classify = calsync.IsTransient
	}
	if o.policy.Logger == nil {
		o.policy.Logger = o.logger
	}
	return o
}

// Store exposes the backing store to collaborators such as the bulk rescheduler.
func (o *Orchestrator) Store() store.Store { return o.store }

// Wait blocks until every in-flight notification has finished.
func (o *Orchestrator) Wait() { o.pending.Wait() }

// CreateRequest is the input of CreateBooking. DurationMinutes is only
// honoured for flexible services.
type CreateRequest struct {
	ResourceID      string    `json:"resource_id" validate:"required"`
	ServiceID       string    `json:"service_id" validate:"required"`
	ClientName      string    `json:"client_name" validate:"required,max=200"`
	ClientEmail     string    `json:"client_email" validate:"required,email"`
	ClientPhone     string    `json:"client_phone,omitempty" validate:"omitempty,max=40"`
	Start           time.Time `json:"start_at_utc"`
	DurationMinutes int       `json:"duration_minutes,omitempty" validate:"gte=0"`
	Notes           string    `json:"notes,omitempty" validate:"max=2000"`
}

// CreateBooking validates, reserves and syncs a new booking.
func (o *Orchestrator) CreateBooking(ctx context.Context, req CreateRequest) (res *Result, err error) {
	ctx, span := o.startSpan(ctx, "create", attribute.String("resource.id", req.ResourceID))
	defer func() { o.finish(span, "create", err) }()

	if err := validateCreate(req); err != nil {
		return nil, err
	}

	resource, err := o.store.GetResource(ctx, req.ResourceID)
	if err != nil {
		return nil, fmt.Errorf("booking: create: %w", err)
	}
	svc, err := o.store.GetService(ctx, req.ServiceID)
	if err != nil {
		return nil, fmt.Errorf("booking: create: %w", err)
	}
	if !svc.Active || svc.ResourceID != resource.ID {
		return nil, fmt.Errorf("booking: create: service %s: %w", svc.ID, model.ErrNotFound)
	}

	duration := svc.Duration()
	if req.DurationMinutes > 0 {
		duration = time.Duration(req.DurationMinutes) * time.Minute
		if !svc.Allows(duration) {
			v := &model.ValidationError{}
			v.Add("duration_minutes", "not offered by this service")
			return nil, v
		}
	}
	start := req.Start.UTC()
	end := start.Add(duration)

	if err := o.checkWindow(ctx, *resource, start, end); err != nil {
		return nil, fmt.Errorf("booking: create: %w", err)
	}

	var warnings []string
	if w, err := o.checkExternalBusy(ctx, *resource, model.Interval{Start: start, End: end}); err != nil {
		return nil, fmt.Errorf("booking: create: %w", err)
	} else if w != "" {
		warnings = append(warnings, w)
	}

	b := model.Booking{
		ResourceID:  resource.ID,
		ServiceID:   svc.ID,
		ClientName:  req.ClientName,
		ClientEmail: req.ClientEmail,
		ClientPhone: req.ClientPhone,
		Start:       start,
		End:         end,
		Status:      model.StatusConfirmed,
		Notes:       req.Notes,
	}
	err = o.store.InResourceTx(ctx, resource.ID, func(ctx context.Context, tx store.Tx) error {
		taken, err := o.detector.HasConflict(ctx, tx, resource.ID, b.Window(), "")
		if err != nil {
			return err
		}
		if taken {
			return model.ErrSlotTaken
		}
		return tx.InsertBooking(ctx, &b)
	})
	if err != nil {
		return nil, fmt.Errorf("booking: create: %w", err)
	}
	span.SetAttributes(attribute.String("booking.id", b.ID))
	o.logger.Info("booking confirmed", "booking_id", b.ID, "resource_id", b.ResourceID, "start", b.Start)

	outcomes, syncWarnings := o.syncCreate(ctx, *resource, b)
	warnings = append(warnings, syncWarnings...)
	b.SyncRecords = o.loadSyncRecords(ctx, b.ID, &warnings)

	o.notifyAsync(ctx, notify.BookingConfirmed, b)
	return &Result{Booking: b, SyncOutcomes: outcomes, Warnings: warnings}, nil
}

// CancelBooking cancels a booking and removes its external artifacts.
// Cancelling an already-cancelled booking succeeds without provider calls.
func (o *Orchestrator) CancelBooking(ctx context.Context, id string) (res *Result, err error) {
	ctx, span := o.startSpan(ctx, "cancel", attribute.String("booking.id", id))
	defer func() { o.finish(span, "cancel", err) }()

	b, err := o.store.FindBookingByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("booking: cancel: %w", err)
	}
	switch b.Status {
	case model.StatusCancelled:
		return o.unchanged(ctx, *b), nil
	case model.StatusCompleted:
		return nil, fmt.Errorf("booking: cancel: booking %s is completed: %w", id, model.ErrInvalidState)
	}

	flipped, err := o.store.CancelBooking(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("booking: cancel: %w", err)
	}
	if !flipped {
		// Lost a race with another writer; report whatever state won.
		current, err := o.store.FindBookingByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("booking: cancel: %w", err)
		}
		if current.Status == model.StatusCancelled {
			return o.unchanged(ctx, *current), nil
		}
		return nil, fmt.Errorf("booking: cancel: booking %s is %s: %w", id, current.Status, model.ErrInvalidState)
	}
	b.Status = model.StatusCancelled
	o.logger.Info("booking cancelled", "booking_id", b.ID, "resource_id", b.ResourceID)

	var warnings []string
	records, err := o.store.ListSyncRecords(ctx, b.ID)
	if err != nil {
		warnings = append(warnings, fmt.Sprintf("sync records unavailable, external artifacts not removed: %v", err))
	}
	var outcomes []SyncOutcome
	resource, err := o.store.GetResource(ctx, b.ResourceID)
	if err != nil {
		warnings = append(warnings, fmt.Sprintf("resource unavailable, external artifacts not removed: %v", err))
		outcomes = notAttempted(records)
	} else {
		var syncWarnings []string
		outcomes, syncWarnings = o.syncDelete(ctx, *resource, records)
		warnings = append(warnings, syncWarnings...)
	}
	b.SyncRecords = o.loadSyncRecords(ctx, b.ID, &warnings)

	o.notifyAsync(ctx, notify.BookingCancelled, *b)
	return &Result{Booking: *b, SyncOutcomes: outcomes, Warnings: warnings}, nil
}

// RescheduleBooking moves a confirmed booking to newStart and updates its
// external artifacts in place.
func (o *Orchestrator) RescheduleBooking(ctx context.Context, id string, newStart time.Time) (res *Result, err error) {
	ctx, span := o.startSpan(ctx, "reschedule", attribute.String("booking.id", id))
	defer func() { o.finish(span, "reschedule", err) }()

	if newStart.IsZero() {
		v := &model.ValidationError{}
		v.Add("new_start_at_utc", "is required")
		return nil, v
	}

	b, err := o.store.FindBookingByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("booking: reschedule: %w", err)
	}
	if b.Status != model.StatusConfirmed {
		return nil, fmt.Errorf("booking: reschedule: booking %s is %s: %w", id, b.Status, model.ErrInvalidState)
	}
	resource, err := o.store.GetResource(ctx, b.ResourceID)
	if err != nil {
		return nil, fmt.Errorf("booking: reschedule: %w", err)
	}
	duration, err := o.RescheduleDuration(ctx, *b)
	if err != nil {
		return nil, fmt.Errorf("booking: reschedule: %w", err)
	}
	start := newStart.UTC()
	end := start.Add(duration)

	if err := o.checkWindow(ctx, *resource, start, end); err != nil {
		return nil, fmt.Errorf("booking: reschedule: %w", err)
	}

	window := model.Interval{Start: start, End: end}
	err = o.store.InResourceTx(ctx, resource.ID, func(ctx context.Context, tx store.Tx) error {
		taken, err := o.detector.HasConflict(ctx, tx, resource.ID, window, b.ID)
		if err != nil {
			return err
		}
		if taken {
			return model.ErrSlotTaken
		}
		return tx.UpdateBookingWindow(ctx, b.ID, start, end)
	})
	if err != nil {
		return nil, fmt.Errorf("booking: reschedule: %w", err)
	}
	old := b.Window()
	b.Start, b.End = start, end
	o.logger.Info("booking rescheduled", "booking_id", b.ID, "from", old.Start, "to", b.Start)

	var warnings []string
	records, err := o.store.ListSyncRecords(ctx, b.ID)
	if err != nil {
		warnings = append(warnings, fmt.Sprintf("sync records unavailable, treating providers as unsynced: %v", err))
	}
	outcomes, syncWarnings := o.syncUpdate(ctx, *resource, *b, records)
	warnings = append(warnings, syncWarnings...)
	b.SyncRecords = o.loadSyncRecords(ctx, b.ID, &warnings)

	o.notifyAsync(ctx, notify.BookingRescheduled, *b)
	return &Result{Booking: *b, SyncOutcomes: outcomes, Warnings: warnings}, nil
}

// GetBooking returns the booking with its sync records.
func (o *Orchestrator) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	b, err := o.store.FindBookingByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("booking: get: %w", err)
	}
	records, err := o.store.ListSyncRecords(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("booking: get sync records: %w", err)
	}
	b.SyncRecords = records
	return b, nil
}

// RescheduleDuration is the length a moved booking gets: the service's
// duration, or the current length when a flexible service allows it.
func (o *Orchestrator) RescheduleDuration(ctx context.Context, b model.Booking) (time.Duration, error) {
	svc, err := o.store.GetService(ctx, b.ServiceID)
	if errors.Is(err, model.ErrNotFound) {
		return b.Duration(), nil
	}
	if err != nil {
		return 0, err
	}
	if len(svc.AllowedDurations) > 0 && svc.Allows(b.Duration()) {
		return b.Duration(), nil
	}
	return svc.Duration(), nil
}

// checkWindow applies the availability and not-in-the-past rules.
func (o *Orchestrator) checkWindow(ctx context.Context, resource model.Resource, start, end time.Time) error {
	rules, err := o.store.ListAvailabilityRules(ctx, resource.ID)
	if err != nil {
		return err
	}
	avail, err := availability.New(resource, rules)
	if err != nil {
		return err
	}
	if !avail.IsWithinAvailability(start, end) {
		return model.ErrOutsideAvailability
	}
	if start.Before(o.now()) {
		return fmt.Errorf("start %s is in the past: %w", start.Format(time.RFC3339), model.ErrInvalidWindow)
	}
	return nil
}

// checkExternalBusy consults the calendar busy source. An unreachable
// provider only produces a warning.
func (o *Orchestrator) checkExternalBusy(ctx context.Context, resource model.Resource, window model.Interval) (string, error) {
	if o.busy == nil {
		return "", nil
	}
	ctx, cancel := context.WithTimeout(ctx, defaultBusyTimeout)
	defer cancel()
	busy, err := o.busy.ListBusyIntervals(ctx, resource, window.Start, window.End)
	if errors.Is(err, calsync.ErrNotConfigured) {
		return "", nil
	}
	if err != nil {
		o.logger.Warn("external busy check skipped", "resource_id", resource.ID, "error", err)
		return fmt.Sprintf("external busy check skipped: %v", err), nil
	}
	for _, iv := range busy {
		if iv.Overlaps(window) {
			return "", model.ErrSlotTaken
		}
	}
	return "", nil
}

func (o *Orchestrator) unchanged(ctx context.Context, b model.Booking) *Result {
	var warnings []string
	b.SyncRecords = o.loadSyncRecords(ctx, b.ID, &warnings)
	return &Result{Booking: b, SyncOutcomes: []SyncOutcome{}, Warnings: warnings}
}

func (o *Orchestrator) loadSyncRecords(ctx context.Context, bookingID string, warnings *[]string) []model.SyncRecord {
	records, err := o.store.ListSyncRecords(ctx, bookingID)
	if err != nil {
		*warnings = append(*warnings, fmt.Sprintf("sync records unavailable: %v", err))
		return nil
	}
	return records
}

// syncCreate creates an artifact in every configured provider.
func (o *Orchestrator) syncCreate(ctx context.Context, resource model.Resource, b model.Booking) ([]SyncOutcome, []string) {
	adapters := o.adapters.Adapters()
	return o.fanOut(ctx, len(adapters), func(ctx context.Context, i int) (SyncOutcome, []string) {
		a := adapters[i]
		out, warns := o.runSync(ctx, a.Kind(), "create", func(ctx context.Context) (calsync.Artifact, error) {
			return a.Create(ctx, resource, b)
		})
		return o.record(ctx, b.ID, out), warns
	})
}

// syncUpdate updates existing artifacts and creates missing ones. An
// artifact the provider no longer knows is recreated.
func (o *Orchestrator) syncUpdate(ctx context.Context, resource model.Resource, b model.Booking, records []model.SyncRecord) ([]SyncOutcome, []string) {
	byKind := make(map[model.ProviderKind]model.SyncRecord, len(records))
	for _, r := range records {
		byKind[r.Provider] = r
	}
	adapters := o.adapters.Adapters()
	return o.fanOut(ctx, len(adapters), func(ctx context.Context, i int) (SyncOutcome, []string) {
		a := adapters[i]
		rec, known := byKind[a.Kind()]
		create := func(ctx context.Context) (calsync.Artifact, error) { return a.Create(ctx, resource, b) }
		if !known || rec.ExternalID == "" {
			out, warns := o.runSync(ctx, a.Kind(), "create", create)
			return o.record(ctx, b.ID, out), warns
		}

		out, warns := o.runSync(ctx, a.Kind(), "update", func(ctx context.Context) (calsync.Artifact, error) {
			if err := a.Update(ctx, resource, b, rec.ExternalID); err != nil {
				return calsync.Artifact{}, err
			}
			return calsync.Artifact{ExternalID: rec.ExternalID, JoinURL: rec.JoinURL}, nil
		})
		if out.Status == model.SyncFailed && errors.Is(out.err, calsync.ErrExternalNotFound) {
			o.logger.Info("external artifact gone, recreating", "provider", string(a.Kind()), "booking_id", b.ID, "external_id", rec.ExternalID)
			var more []string
			out, more = o.runSync(ctx, a.Kind(), "create", create)
			warns = append(warns, more...)
		} else if out.Status == model.SyncFailed {
			// The artifact is still out there at the old time.
			out.ExternalID, out.JoinURL = rec.ExternalID, rec.JoinURL
		}
		return o.record(ctx, b.ID, out), warns
	})
}

// syncDelete removes every artifact a record still points at, including
// those whose last update failed. Removed artifacts drop their record;
// failures keep it, marked failed.
func (o *Orchestrator) syncDelete(ctx context.Context, resource model.Resource, records []model.SyncRecord) ([]SyncOutcome, []string) {
	var targets []model.SyncRecord
	for _, r := range records {
		if r.ExternalID != "" && (r.Status == model.SyncSynced || r.Status == model.SyncFailed) {
			targets = append(targets, r)
		}
	}
	return o.fanOut(ctx, len(targets), func(ctx context.Context, i int) (SyncOutcome, []string) {
		rec := targets[i]
		a, ok := o.adapters.Get(rec.Provider)
		if !ok {
			msg := fmt.Sprintf("%s: provider no longer configured, artifact %s left in place", rec.Provider, rec.ExternalID)
			return SyncOutcome{Provider: rec.Provider, Status: model.SyncNotAttempted, ExternalID: rec.ExternalID, Error: msg}, []string{msg}
		}
		out, warns := o.runSync(ctx, rec.Provider, "delete", func(ctx context.Context) (calsync.Artifact, error) {
			return calsync.Artifact{ExternalID: rec.ExternalID}, a.Delete(ctx, resource, rec.ExternalID)
		})
		if out.Status == model.SyncSynced {
			if err := o.store.DeleteSyncRecord(ctx, rec.BookingID, rec.Provider); err != nil {
				warns = append(warns, fmt.Sprintf("%s: remove sync record: %v", rec.Provider, err))
			}
			return out.SyncOutcome, warns
		}
		failed := rec
		failed.Status = model.SyncFailed
		failed.LastError = out.Error
		if failed.LastError == "" && out.err != nil {
			failed.LastError = out.err.Error()
		}
		if err := o.store.SaveSyncRecord(ctx, &failed); err != nil {
			warns = append(warns, fmt.Sprintf("%s: save sync record: %v", rec.Provider, err))
		}
		return out.SyncOutcome, warns
	})
}

func notAttempted(records []model.SyncRecord) []SyncOutcome {
	outcomes := make([]SyncOutcome, 0, len(records))
	for _, r := range records {
		if r.ExternalID == "" {
			continue
		}
		outcomes = append(outcomes, SyncOutcome{Provider: r.Provider, Status: model.SyncNotAttempted, ExternalID: r.ExternalID})
	}
	return outcomes
}

type syncResult struct {
	SyncOutcome
	err error
}

// runSync wraps one adapter call in the retry policy and classifies the outcome.
func (o *Orchestrator) runSync(ctx context.Context, kind model.ProviderKind, op string, call func(ctx context.Context) (calsync.Artifact, error)) (syncResult, []string) {
	res := resilience.WithRetry(ctx, o.policy, string(kind)+"."+op, call)
	out := syncResult{
		SyncOutcome: SyncOutcome{
			Provider:   kind,
			ExternalID: res.Value.ExternalID,
			JoinURL:    res.Value.JoinURL,
			Attempts:   res.Attempts,
			Recovered:  res.Recovered,
		},
		err: res.Err,
	}
	var warnings []string
	switch {
	case res.Success:
		out.Status = model.SyncSynced
		if res.Recovered {
			warnings = append(warnings, fmt.Sprintf("%s %s recovered after %d attempts", kind, op, res.Attempts))
		}
	case errors.Is(res.Err, calsync.ErrNotConfigured):
		out.Status = model.SyncNotAttempted
	default:
		out.Status = model.SyncFailed
		out.Error = res.Err.Error()
		warnings = append(warnings, fmt.Sprintf("%s %s failed after %d attempt(s): %v", kind, op, res.Attempts, res.Err))
	}
	o.metrics.ObserveSync(string(kind), string(out.Status), res.Attempts)
	return out, warnings
}

// record persists a create/update outcome as the provider's sync record.
func (o *Orchestrator) record(ctx context.Context, bookingID string, out syncResult) SyncOutcome {
	rec := model.SyncRecord{
		BookingID:  bookingID,
		Provider:   out.Provider,
		ExternalID: out.ExternalID,
		JoinURL:    out.JoinURL,
		Status:     out.Status,
		LastError:  out.Error,
	}
	if err := o.store.SaveSyncRecord(ctx, &rec); err != nil {
		o.logger.Error("save sync record failed", "booking_id", bookingID, "provider", string(out.Provider), "error", err)
		if out.Error == "" {
			out.Error = "sync record not saved: " + err.Error()
		}
	}
	return out.SyncOutcome
}

// fanOut runs n sync steps concurrently after commit, on a context detached
// from the caller's cancellation.
func (o *Orchestrator) fanOut(ctx context.Context, n int, step func(ctx context.Context, i int) (SyncOutcome, []string)) ([]SyncOutcome, []string) {
	ctx = context.WithoutCancel(ctx)
	outcomes := make([]SyncOutcome, n)
	warnings := make([][]string, n)

	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			outcomes[i], warnings[i] = step(ctx, i)
			return nil
		})
	}
	_ = g.Wait()

	var flat []string
	for _, w := range warnings {
		flat = append(flat, w...)
	}
	return outcomes, flat
}

func (o *Orchestrator) notifyAsync(ctx context.Context, kind notify.TemplateKind, b model.Booking) {
	if o.notifier == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	o.pending.Add(1)
	go func() {
		defer o.pending.Done()
		ctx, cancel := context.WithTimeout(ctx, o.notifyTimeout)
		defer cancel()
		if err := o.notifier.Send(ctx, kind, b); err != nil {
			o.logger.Warn("notification failed", "kind", string(kind), "booking_id", b.ID, "error", err)
		}
	}()
}

func (o *Orchestrator) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "booking."+op, trace.WithAttributes(attrs...))
}

func (o *Orchestrator) finish(span trace.Span, op string, err error) {
	result := "ok"
	if err != nil {
		result = model.Code(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	o.metrics.ObserveOperation(op, result)
	span.End()
}
