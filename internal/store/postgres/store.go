// Package postgres implements store.Store on pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"scheduler-service/internal/model"
	"scheduler-service/internal/store"
)

const exclusionViolation = "23P01"

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type beginner interface {
	querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Store struct {
	db beginner
}

var _ store.Store = (*Store)(nil)

func New(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("postgres: pgx pool required")
	}
	return &Store{db: pool}
}

func newWithDB(db beginner) *Store {
	if db == nil {
		panic("postgres: db required")
	}
	return &Store{db: db}
}

func (s *Store) GetResource(ctx context.Context, id string) (*model.Resource, error) {
	q := `SELECT id, name, timezone, calendar_id, meeting_host_id, created_at
	      FROM resources WHERE id = $1`
	var r model.Resource
	err := s.db.QueryRow(ctx, q, id).Scan(&r.ID, &r.Name, &r.Timezone, &r.CalendarID, &r.MeetingHostID, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: resource %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get resource: %w", err)
	}
	return &r, nil
}

func (s *Store) SaveResource(ctx context.Context, r *model.Resource) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	q := `INSERT INTO resources (id, name, timezone, calendar_id, meeting_host_id)
	      VALUES ($1, $2, $3, $4, $5)
	      ON CONFLICT (id) DO UPDATE
	      SET name = EXCLUDED.name, timezone = EXCLUDED.timezone,
	          calendar_id = EXCLUDED.calendar_id, meeting_host_id = EXCLUDED.meeting_host_id
	      RETURNING created_at`
	if err := s.db.QueryRow(ctx, q, r.ID, r.Name, r.Timezone, r.CalendarID, r.MeetingHostID).Scan(&r.CreatedAt); err != nil {
		return fmt.Errorf("postgres: save resource: %w", err)
	}
	return nil
}

func (s *Store) ListAvailabilityRules(ctx context.Context, resourceID string) ([]model.AvailabilityRule, error) {
	q := `SELECT id, resource_id, day_of_week, start_time, end_time, active, created_at, updated_at
	      FROM availability_rules WHERE resource_id = $1 ORDER BY id`
	rows, err := s.db.Query(ctx, q, resourceID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list availability rules: %w", err)
	}
	defer rows.Close()

	var out []model.AvailabilityRule
	for rows.Next() {
		var r model.AvailabilityRule
		if err := rows.Scan(&r.ID, &r.ResourceID, &r.DayOfWeek, &r.StartTime, &r.EndTime,
			&r.Active, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan availability rule: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list availability rules: %w", err)
	}
	return out, nil
}

func (s *Store) InsertAvailabilityRule(ctx context.Context, r *model.AvailabilityRule) error {
	now := time.Now().UTC()
	q := `INSERT INTO availability_rules
	      (resource_id, day_of_week, start_time, end_time, active, created_at, updated_at)
	      VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`
	if err := s.db.QueryRow(ctx, q, r.ResourceID, r.DayOfWeek, r.StartTime, r.EndTime, r.Active, now, now).Scan(&r.ID); err != nil {
		return fmt.Errorf("postgres: insert availability rule: %w", err)
	}
	r.CreatedAt = now
	r.UpdatedAt = now
	return nil
}

func (s *Store) UpdateAvailabilityRule(ctx context.Context, r *model.AvailabilityRule) error {
	now := time.Now().UTC()
	q := `UPDATE availability_rules
	      SET day_of_week = $1, start_time = $2, end_time = $3, active = $4, updated_at = $5
	      WHERE id = $6 AND resource_id = $7
	      RETURNING created_at`
	err := s.db.QueryRow(ctx, q, r.DayOfWeek, r.StartTime, r.EndTime, r.Active, now, r.ID, r.ResourceID).Scan(&r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("postgres: availability rule %d: %w", r.ID, model.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("postgres: update availability rule: %w", err)
	}
	r.UpdatedAt = now
	return nil
}

func (s *Store) GetService(ctx context.Context, id string) (*model.ServiceDefinition, error) {
	q := `SELECT id, resource_id, name, duration_minutes, allowed_durations, active
	      FROM services WHERE id = $1`
	var (
		svc     model.ServiceDefinition
		allowed []int32
	)
	err := s.db.QueryRow(ctx, q, id).Scan(&svc.ID, &svc.ResourceID, &svc.Name, &svc.DurationMinutes, &allowed, &svc.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: service %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get service: %w", err)
	}
	svc.AllowedDurations = fromInt32(allowed)
	return &svc, nil
}

func (s *Store) SaveService(ctx context.Context, svc *model.ServiceDefinition) error {
	if svc.ID == "" {
		svc.ID = uuid.NewString()
	}
	q := `INSERT INTO services (id, resource_id, name, duration_minutes, allowed_durations, active)
	      VALUES ($1, $2, $3, $4, $5, $6)
	      ON CONFLICT (id) DO UPDATE
	      SET name = EXCLUDED.name, duration_minutes = EXCLUDED.duration_minutes,
	          allowed_durations = EXCLUDED.allowed_durations, active = EXCLUDED.active`
	if _, err := s.db.Exec(ctx, q, svc.ID, svc.ResourceID, svc.Name, svc.DurationMinutes, toInt32(svc.AllowedDurations), svc.Active); err != nil {
		return fmt.Errorf("postgres: save service: %w", err)
	}
	return nil
}

func (s *Store) ListServices(ctx context.Context, resourceID string) ([]model.ServiceDefinition, error) {
	q := `SELECT id, resource_id, name, duration_minutes, allowed_durations, active
	      FROM services WHERE resource_id = $1 ORDER BY name`
	rows, err := s.db.Query(ctx, q, resourceID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list services: %w", err)
	}
	defer rows.Close()

	var out []model.ServiceDefinition
	for rows.Next() {
		var (
			svc     model.ServiceDefinition
			allowed []int32
		)
		if err := rows.Scan(&svc.ID, &svc.ResourceID, &svc.Name, &svc.DurationMinutes, &allowed, &svc.Active); err != nil {
			return nil, fmt.Errorf("postgres: scan service: %w", err)
		}
		svc.AllowedDurations = fromInt32(allowed)
		out = append(out, svc)
	}
	return out, rows.Err()
}

const bookingColumns = `id::text, resource_id, service_id, client_name, client_email, client_phone,
	start_at_utc, end_at_utc, status, notes, created_at, updated_at`

func scanBooking(row pgx.Row) (model.Booking, error) {
	var b model.Booking
	err := row.Scan(&b.ID, &b.ResourceID, &b.ServiceID, &b.ClientName, &b.ClientEmail, &b.ClientPhone,
		&b.Start, &b.End, &b.Status, &b.Notes, &b.CreatedAt, &b.UpdatedAt)
	b.Start = b.Start.UTC()
	b.End = b.End.UTC()
	return b, err
}

func collectBookings(rows pgx.Rows) ([]model.Booking, error) {
	defer rows.Close()
	var out []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan booking: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: read bookings: %w", err)
	}
	return out, nil
}

func (s *Store) FindBookingByID(ctx context.Context, id string) (*model.Booking, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("postgres: booking %s: %w", id, model.ErrNotFound)
	}
	q := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`
	b, err := scanBooking(s.db.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: booking %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get booking: %w", err)
	}
	return &b, nil
}

func (s *Store) FindBookingsByResourceAndRange(ctx context.Context, resourceID string, start, end time.Time, status model.BookingStatus) ([]model.Booking, error) {
	return findOverlapping(ctx, s.db, resourceID, start, end, status)
}

func findOverlapping(ctx context.Context, db querier, resourceID string, start, end time.Time, status model.BookingStatus) ([]model.Booking, error) {
	q := `SELECT ` + bookingColumns + ` FROM bookings
	      WHERE resource_id = $1 AND status = $2 AND start_at_utc < $3 AND end_at_utc > $4
	      ORDER BY start_at_utc`
	rows, err := db.Query(ctx, q, resourceID, string(status), end.UTC(), start.UTC())
	if err != nil {
		return nil, fmt.Errorf("postgres: find overlapping bookings: %w", err)
	}
	return collectBookings(rows)
}

func (s *Store) ListBookings(ctx context.Context, resourceID string, from, to time.Time) ([]model.Booking, error) {
	q := `SELECT ` + bookingColumns + ` FROM bookings WHERE resource_id = $1`
	args := []any{resourceID}
	if !from.IsZero() {
		args = append(args, from.UTC())
		q += fmt.Sprintf(" AND start_at_utc >= $%d", len(args))
	}
	if !to.IsZero() {
		args = append(args, to.UTC())
		q += fmt.Sprintf(" AND start_at_utc < $%d", len(args))
	}
	q += " ORDER BY start_at_utc"

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bookings: %w", err)
	}
	return collectBookings(rows)
}

func (s *Store) CancelBooking(ctx context.Context, id string) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, fmt.Errorf("postgres: booking %s: %w", id, model.ErrNotFound)
	}
	q := `UPDATE bookings SET status = 'cancelled', updated_at = now()
	      WHERE id = $1 AND status = 'confirmed'`
	tag, err := s.db.Exec(ctx, q, id)
	if err != nil {
		return false, fmt.Errorf("postgres: cancel booking: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// InResourceTx locks the resource row for the duration of fn, serializing
// every check-and-write against the same resource.
func (s *Store) InResourceTx(ctx context.Context, resourceID string, fn func(ctx context.Context, tx store.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}

	var locked string
	err = tx.QueryRow(ctx, `SELECT id FROM resources WHERE id = $1 FOR UPDATE`, resourceID).Scan(&locked)
	if err != nil {
		_ = tx.Rollback(ctx)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("postgres: resource %s: %w", resourceID, model.ErrNotFound)
		}
		return fmt.Errorf("postgres: lock resource: %w", err)
	}

	if err := fn(ctx, &resourceTx{tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return mapWriteError("commit", err)
	}
	return nil
}

func (s *Store) ListSyncRecords(ctx context.Context, bookingID string) ([]model.SyncRecord, error) {
	q := `SELECT booking_id::text, provider, external_id, join_url, status, last_error, updated_at
	      FROM sync_records WHERE booking_id = $1 ORDER BY provider`
	rows, err := s.db.Query(ctx, q, bookingID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list sync records: %w", err)
	}
	defer rows.Close()

	var out []model.SyncRecord
	for rows.Next() {
		var r model.SyncRecord
		if err := rows.Scan(&r.BookingID, &r.Provider, &r.ExternalID, &r.JoinURL, &r.Status, &r.LastError, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan sync record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) SaveSyncRecord(ctx context.Context, rec *model.SyncRecord) error {
	rec.UpdatedAt = time.Now().UTC()
	q := `INSERT INTO sync_records (booking_id, provider, external_id, join_url, status, last_error, updated_at)
	      VALUES ($1, $2, $3, $4, $5, $6, $7)
	      ON CONFLICT (booking_id, provider) DO UPDATE
	      SET external_id = EXCLUDED.external_id, join_url = EXCLUDED.join_url,
	          status = EXCLUDED.status, last_error = EXCLUDED.last_error, updated_at = EXCLUDED.updated_at`
	_, err := s.db.Exec(ctx, q, rec.BookingID, string(rec.Provider), rec.ExternalID, rec.JoinURL,
		string(rec.Status), rec.LastError, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: save sync record: %w", err)
	}
	return nil
}

func (s *Store) DeleteSyncRecord(ctx context.Context, bookingID string, provider model.ProviderKind) error {
	q := `DELETE FROM sync_records WHERE booking_id = $1 AND provider = $2`
	if _, err := s.db.Exec(ctx, q, bookingID, string(provider)); err != nil {
		return fmt.Errorf("postgres: delete sync record: %w", err)
	}
	return nil
}

func (s *Store) SaveCalendarCredential(ctx context.Context, cred *model.CalendarCredential) error {
	cred.UpdatedAt = time.Now().UTC()
	q := `INSERT INTO calendar_credentials (resource_id, calendar_id, token, updated_at)
	      VALUES ($1, $2, $3, $4)
	      ON CONFLICT (resource_id) DO UPDATE
	      SET calendar_id = EXCLUDED.calendar_id, token = EXCLUDED.token, updated_at = EXCLUDED.updated_at`
	if _, err := s.db.Exec(ctx, q, cred.ResourceID, cred.CalendarID, cred.Token, cred.UpdatedAt); err != nil {
		return fmt.Errorf("postgres: save calendar credential: %w", err)
	}
	return nil
}

func (s *Store) GetCalendarCredential(ctx context.Context, resourceID string) (*model.CalendarCredential, error) {
	q := `SELECT resource_id, calendar_id, token, updated_at FROM calendar_credentials WHERE resource_id = $1`
	var c model.CalendarCredential
	err := s.db.QueryRow(ctx, q, resourceID).Scan(&c.ResourceID, &c.CalendarID, &c.Token, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: calendar credential %s: %w", resourceID, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get calendar credential: %w", err)
	}
	return &c, nil
}

type resourceTx struct {
	tx pgx.Tx
}

func (t *resourceTx) FindBookingsByResourceAndRange(ctx context.Context, resourceID string, start, end time.Time, status model.BookingStatus) ([]model.Booking, error) {
	return findOverlapping(ctx, t.tx, resourceID, start, end, status)
}

func (t *resourceTx) InsertBooking(ctx context.Context, b *model.Booking) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.Status == "" {
		b.Status = model.StatusConfirmed
	}
	b.Start = b.Start.UTC()
	b.End = b.End.UTC()
	q := `INSERT INTO bookings
	      (id, resource_id, service_id, client_name, client_email, client_phone,
	       start_at_utc, end_at_utc, status, notes, created_at, updated_at)
	      VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
	      RETURNING created_at, updated_at`
	err := t.tx.QueryRow(ctx, q, b.ID, b.ResourceID, b.ServiceID, b.ClientName, b.ClientEmail, b.ClientPhone,
		b.Start, b.End, string(b.Status), b.Notes).Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return mapWriteError("insert booking", err)
	}
	return nil
}

func (t *resourceTx) UpdateBookingWindow(ctx context.Context, bookingID string, start, end time.Time) error {
	q := `UPDATE bookings SET start_at_utc = $1, end_at_utc = $2, updated_at = now()
	      WHERE id = $3 AND status = 'confirmed'`
	tag, err := t.tx.Exec(ctx, q, start.UTC(), end.UTC(), bookingID)
	if err != nil {
		return mapWriteError("update booking window", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: booking %s not confirmed: %w", bookingID, model.ErrInvalidState)
	}
	return nil
}

// mapWriteError turns the overlap exclusion constraint into ErrSlotTaken.
func mapWriteError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == exclusionViolation {
		return fmt.Errorf("postgres: %s: %w", op, model.ErrSlotTaken)
	}
	return fmt.Errorf("postgres: %s: %w", op, err)
}

func toInt32(in []int) []int32 {
	out := make([]int32, len(in))
	for i, v := range in {
		out[i] = int32(v)
	}
	return out
}

func fromInt32(in []int32) []int {
	if len(in) == 0 {
		return nil
	}
	out := make([]int, len(in))
	for i, v := range in {
		out[i] = int(v)
	}
	return out
}
