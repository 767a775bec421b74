package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scheduler-service/internal/model"
	"scheduler-service/internal/store"
)

var base = time.Date(2030, 1, 7, 9, 0, 0, 0, time.UTC)

func seed(t *testing.T) *Store {
	t.Helper()
	s := New()
	require.NoError(t, s.SaveResource(context.Background(), &model.Resource{ID: "r1", Timezone: "UTC"}))
	return s
}

func insert(t *testing.T, s *Store, start time.Time, d time.Duration) model.Booking {
	t.Helper()
	b := model.Booking{ResourceID: "r1", ClientName: "c", Start: start, End: start.Add(d)}
	err := s.InResourceTx(context.Background(), "r1", func(ctx context.Context, tx store.Tx) error {
		return tx.InsertBooking(ctx, &b)
	})
	require.NoError(t, err)
	return b
}

func TestInResourceTxCommitsOnSuccess(t *testing.T) {
	s := seed(t)
	b := insert(t, s, base, time.Hour)

	got, err := s.FindBookingByID(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, got.Status)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestInResourceTxDiscardsOnError(t *testing.T) {
	s := seed(t)
	boom := errors.New("boom")
	var id string
	err := s.InResourceTx(context.Background(), "r1", func(ctx context.Context, tx store.Tx) error {
		b := model.Booking{ResourceID: "r1", Start: base, End: base.Add(time.Hour)}
		require.NoError(t, tx.InsertBooking(ctx, &b))
		id = b.ID

		seen, err := tx.FindBookingsByResourceAndRange(ctx, "r1", base, base.Add(time.Hour), model.StatusConfirmed)
		require.NoError(t, err)
		assert.Len(t, seen, 1, "tx sees its own writes")
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.FindBookingByID(context.Background(), id)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestInResourceTxUnknownResource(t *testing.T) {
	s := New()
	err := s.InResourceTx(context.Background(), "missing", func(context.Context, store.Tx) error { return nil })
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestFindBookingsUsesHalfOpenOverlap(t *testing.T) {
	s := seed(t)
	insert(t, s, base, time.Hour)

	cases := []struct {
		name  string
		start time.Time
		end   time.Time
		want  int
	}{
		{"touching after", base.Add(time.Hour), base.Add(2 * time.Hour), 0},
		{"touching before", base.Add(-time.Hour), base, 0},
		{"one minute inside", base.Add(59 * time.Minute), base.Add(2 * time.Hour), 1},
		{"enclosing", base.Add(-time.Hour), base.Add(2 * time.Hour), 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := s.FindBookingsByResourceAndRange(context.Background(), "r1", tc.start, tc.end, model.StatusConfirmed)
			require.NoError(t, err)
			assert.Len(t, got, tc.want)
		})
	}
}

func TestCancelBookingIsOneShot(t *testing.T) {
	s := seed(t)
	b := insert(t, s, base, time.Hour)

	flipped, err := s.CancelBooking(context.Background(), b.ID)
	require.NoError(t, err)
	assert.True(t, flipped)

	flipped, err = s.CancelBooking(context.Background(), b.ID)
	require.NoError(t, err)
	assert.False(t, flipped)

	got, err := s.FindBookingsByResourceAndRange(context.Background(), "r1", base, base.Add(time.Hour), model.StatusConfirmed)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestUpdateBookingWindowKeepsConcurrentCancel(t *testing.T) {
	s := seed(t)
	b := insert(t, s, base, time.Hour)

	err := s.InResourceTx(context.Background(), "r1", func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.UpdateBookingWindow(ctx, b.ID, base.Add(2*time.Hour), base.Add(3*time.Hour)))
		_, err := s.CancelBooking(ctx, b.ID)
		return err
	})
	require.NoError(t, err)

	got, err := s.FindBookingByID(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, got.Status)
	assert.Equal(t, base.Add(2*time.Hour), got.Start)
}

func TestConcurrentCheckAndInsertNeverOverlaps(t *testing.T) {
	s := seed(t)
	const workers = 20

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.InResourceTx(context.Background(), "r1", func(ctx context.Context, tx store.Tx) error {
				existing, err := tx.FindBookingsByResourceAndRange(ctx, "r1", base, base.Add(time.Hour), model.StatusConfirmed)
				if err != nil {
					return err
				}
				if len(existing) > 0 {
					return model.ErrSlotTaken
				}
				return tx.InsertBooking(ctx, &model.Booking{ResourceID: "r1", Start: base, End: base.Add(time.Hour)})
			})
			if err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	all, err := s.ListBookings(context.Background(), "r1", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSyncRecordsOrderedByProvider(t *testing.T) {
	s := seed(t)
	b := insert(t, s, base, time.Hour)
	ctx := context.Background()

	require.NoError(t, s.SaveSyncRecord(ctx, &model.SyncRecord{BookingID: b.ID, Provider: model.ProviderMeeting, Status: model.SyncSynced, ExternalID: "m1"}))
	require.NoError(t, s.SaveSyncRecord(ctx, &model.SyncRecord{BookingID: b.ID, Provider: model.ProviderCalendar, Status: model.SyncFailed}))

	recs, err := s.ListSyncRecords(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, model.ProviderCalendar, recs[0].Provider)
	assert.Equal(t, model.ProviderMeeting, recs[1].Provider)

	require.NoError(t, s.DeleteSyncRecord(ctx, b.ID, model.ProviderMeeting))
	recs, err = s.ListSyncRecords(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestAvailabilityRuleUpdateScopedToResource(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	rule := model.AvailabilityRule{ResourceID: "r1", DayOfWeek: 1, StartTime: "09:00", EndTime: "17:00", Active: true}
	require.NoError(t, s.InsertAvailabilityRule(ctx, &rule))
	assert.Equal(t, 1, rule.ID)

	other := rule
	other.ResourceID = "r2"
	assert.ErrorIs(t, s.UpdateAvailabilityRule(ctx, &other), model.ErrNotFound)

	rule.EndTime = "12:00"
	require.NoError(t, s.UpdateAvailabilityRule(ctx, &rule))
	rules, err := s.ListAvailabilityRules(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "12:00", rules[0].EndTime)
}
