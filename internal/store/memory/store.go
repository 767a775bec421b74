// Package memory is an in-process store.Store used by tests and local runs
// without a database.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"scheduler-service/internal/model"
	"scheduler-service/internal/store"
)

type syncKey struct {
	bookingID string
	provider  model.ProviderKind
}

// Store keeps everything in maps guarded by mu. Writes through InResourceTx
// additionally serialize on a per-resource lock.
type Store struct {
	mu          sync.RWMutex
	resources   map[string]model.Resource
	rules       map[int]model.AvailabilityRule
	nextRuleID  int
	services    map[string]model.ServiceDefinition
	bookings    map[string]model.Booking
	syncRecords map[syncKey]model.SyncRecord
	creds       map[string]model.CalendarCredential

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	now func() time.Time
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		resources:   make(map[string]model.Resource),
		rules:       make(map[int]model.AvailabilityRule),
		services:    make(map[string]model.ServiceDefinition),
		bookings:    make(map[string]model.Booking),
		syncRecords: make(map[syncKey]model.SyncRecord),
		creds:       make(map[string]model.CalendarCredential),
		locks:       make(map[string]*sync.Mutex),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) GetResource(_ context.Context, id string) (*model.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.resources[id]
	if !ok {
		return nil, fmt.Errorf("memory: resource %s: %w", id, model.ErrNotFound)
	}
	return &r, nil
}

func (s *Store) SaveResource(_ context.Context, r *model.Resource) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.resources[r.ID]; ok {
		r.CreatedAt = existing.CreatedAt
	} else {
		r.CreatedAt = s.now()
	}
	s.resources[r.ID] = *r
	return nil
}

func (s *Store) ListAvailabilityRules(_ context.Context, resourceID string) ([]model.AvailabilityRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.AvailabilityRule
	for _, r := range s.rules {
		if r.ResourceID == resourceID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) InsertAvailabilityRule(_ context.Context, r *model.AvailabilityRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRuleID++
	now := s.now()
	r.ID = s.nextRuleID
	r.CreatedAt = now
	r.UpdatedAt = now
	s.rules[r.ID] = *r
	return nil
}

func (s *Store) UpdateAvailabilityRule(_ context.Context, r *model.AvailabilityRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.rules[r.ID]
	if !ok || existing.ResourceID != r.ResourceID {
		return fmt.Errorf("memory: availability rule %d: %w", r.ID, model.ErrNotFound)
	}
	r.CreatedAt = existing.CreatedAt
	r.UpdatedAt = s.now()
	s.rules[r.ID] = *r
	return nil
}

func (s *Store) GetService(_ context.Context, id string) (*model.ServiceDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	svc, ok := s.services[id]
	if !ok {
		return nil, fmt.Errorf("memory: service %s: %w", id, model.ErrNotFound)
	}
	svc.AllowedDurations = slices.Clone(svc.AllowedDurations)
	return &svc, nil
}

func (s *Store) SaveService(_ context.Context, svc *model.ServiceDefinition) error {
	if svc.ID == "" {
		svc.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *svc
	cp.AllowedDurations = slices.Clone(svc.AllowedDurations)
	s.services[svc.ID] = cp
	return nil
}

func (s *Store) ListServices(_ context.Context, resourceID string) ([]model.ServiceDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.ServiceDefinition
	for _, svc := range s.services {
		if svc.ResourceID == resourceID {
			svc.AllowedDurations = slices.Clone(svc.AllowedDurations)
			out = append(out, svc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) FindBookingByID(_ context.Context, id string) (*model.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, fmt.Errorf("memory: booking %s: %w", id, model.ErrNotFound)
	}
	return &b, nil
}

func (s *Store) FindBookingsByResourceAndRange(_ context.Context, resourceID string, start, end time.Time, status model.BookingStatus) ([]model.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.overlapping(resourceID, model.Interval{Start: start, End: end}, status, nil), nil
}

// overlapping must be called with mu held.
func (s *Store) overlapping(resourceID string, window model.Interval, status model.BookingStatus, pending map[string]model.Booking) []model.Booking {
	var out []model.Booking
	seen := make(map[string]bool, len(pending))
	for id, b := range pending {
		seen[id] = true
		if b.ResourceID == resourceID && b.Status == status && b.Window().Overlaps(window) {
			out = append(out, b)
		}
	}
	for id, b := range s.bookings {
		if seen[id] {
			continue
		}
		if b.ResourceID == resourceID && b.Status == status && b.Window().Overlaps(window) {
			out = append(out, b)
		}
	}
	sortByStart(out)
	return out
}

func (s *Store) ListBookings(_ context.Context, resourceID string, from, to time.Time) ([]model.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Booking
	for _, b := range s.bookings {
		if b.ResourceID != resourceID {
			continue
		}
		if !from.IsZero() && b.Start.Before(from) {
			continue
		}
		if !to.IsZero() && !b.Start.Before(to) {
			continue
		}
		out = append(out, b)
	}
	sortByStart(out)
	return out, nil
}

func (s *Store) CancelBooking(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return false, fmt.Errorf("memory: booking %s: %w", id, model.ErrNotFound)
	}
	if b.Status != model.StatusConfirmed {
		return false, nil
	}
	b.Status = model.StatusCancelled
	b.UpdatedAt = s.now()
	s.bookings[id] = b
	return true, nil
}

func (s *Store) InResourceTx(ctx context.Context, resourceID string, fn func(ctx context.Context, tx store.Tx) error) error {
	if _, err := s.GetResource(ctx, resourceID); err != nil {
		return err
	}
	lock := s.resourceLock(resourceID)
	lock.Lock()
	defer lock.Unlock()

	tx := &memTx{store: s, resourceID: resourceID, pending: make(map[string]model.Booking)}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, b := range tx.pending {
		if current, ok := s.bookings[id]; ok {
			current.Start, current.End, current.UpdatedAt = b.Start, b.End, b.UpdatedAt
			b = current
		}
		s.bookings[id] = b
	}
	return nil
}

func (s *Store) resourceLock(resourceID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[resourceID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[resourceID] = l
	}
	return l
}

func (s *Store) ListSyncRecords(_ context.Context, bookingID string) ([]model.SyncRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.SyncRecord
	for _, kind := range model.ProviderKinds {
		if rec, ok := s.syncRecords[syncKey{bookingID, kind}]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *Store) SaveSyncRecord(_ context.Context, rec *model.SyncRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bookings[rec.BookingID]; !ok {
		return fmt.Errorf("memory: booking %s: %w", rec.BookingID, model.ErrNotFound)
	}
	rec.UpdatedAt = s.now()
	s.syncRecords[syncKey{rec.BookingID, rec.Provider}] = *rec
	return nil
}

func (s *Store) DeleteSyncRecord(_ context.Context, bookingID string, provider model.ProviderKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.syncRecords, syncKey{bookingID, provider})
	return nil
}

func (s *Store) SaveCalendarCredential(_ context.Context, cred *model.CalendarCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred.UpdatedAt = s.now()
	cp := *cred
	cp.Token = slices.Clone(cred.Token)
	s.creds[cred.ResourceID] = cp
	return nil
}

func (s *Store) GetCalendarCredential(_ context.Context, resourceID string) (*model.CalendarCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.creds[resourceID]
	if !ok {
		return nil, fmt.Errorf("memory: calendar credential %s: %w", resourceID, model.ErrNotFound)
	}
	cred.Token = slices.Clone(cred.Token)
	return &cred, nil
}

type memTx struct {
	store      *Store
	resourceID string
	pending    map[string]model.Booking
}

func (t *memTx) FindBookingsByResourceAndRange(_ context.Context, resourceID string, start, end time.Time, status model.BookingStatus) ([]model.Booking, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return t.store.overlapping(resourceID, model.Interval{Start: start, End: end}, status, t.pending), nil
}

func (t *memTx) InsertBooking(_ context.Context, b *model.Booking) error {
	if b.ResourceID != t.resourceID {
		return fmt.Errorf("memory: booking for resource %s inserted under lock of %s", b.ResourceID, t.resourceID)
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	now := t.store.now()
	b.CreatedAt = now
	b.UpdatedAt = now
	if b.Status == "" {
		b.Status = model.StatusConfirmed
	}
	cp := *b
	cp.SyncRecords = nil
	t.pending[b.ID] = cp
	return nil
}

func (t *memTx) UpdateBookingWindow(_ context.Context, bookingID string, start, end time.Time) error {
	b, ok := t.pending[bookingID]
	if !ok {
		t.store.mu.RLock()
		b, ok = t.store.bookings[bookingID]
		t.store.mu.RUnlock()
	}
	if !ok || b.ResourceID != t.resourceID {
		return fmt.Errorf("memory: booking %s: %w", bookingID, model.ErrNotFound)
	}
	if b.Status != model.StatusConfirmed {
		return fmt.Errorf("memory: booking %s is %s: %w", bookingID, b.Status, model.ErrInvalidState)
	}
	b.Start = start.UTC()
	b.End = end.UTC()
	b.UpdatedAt = t.store.now()
	t.pending[bookingID] = b
	return nil
}

func sortByStart(bs []model.Booking) {
	sort.Slice(bs, func(i, j int) bool {
		if bs[i].Start.Equal(bs[j].Start) {
			return bs[i].ID < bs[j].ID
		}
		return bs[i].Start.Before(bs[j].Start)
	})
}
