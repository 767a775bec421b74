// Package slots generates fixed-length candidate windows inside open
// windows and filters them against existing bookings.
package slots

import (
	"context"
	"iter"
	"slices"
	"time"

	"scheduler-service/internal/model"
)

// DefaultGranularity is the step between candidate starts when none is given.
const DefaultGranularity = 15 * time.Minute

// ConflictChecker answers whether a window collides with a confirmed booking
// of the resource, ignoring excludeBookingID.
type ConflictChecker interface {
	HasConflict(ctx context.Context, resourceID string, window model.Interval, excludeBookingID string) (bool, error)
}

// Options tunes a search.
type Options struct {
	Granularity      time.Duration
	ExcludeBookingID string
	// Claimed intervals are treated as taken even if the store does not know
	// about them yet.
	Claimed []model.Interval
	// Candidates starting before NotBefore are skipped.
	NotBefore time.Time
}

// CandidateSlots yields, for each window in order, a candidate every
// granularity starting at the window open, as long as it fits before close.
// The sequence holds no state and can be ranged over repeatedly.
func CandidateSlots(windows []model.Interval, duration, granularity time.Duration) iter.Seq[model.Interval] {
	if granularity <= 0 {
		granularity = DefaultGranularity
	}
	return func(yield func(model.Interval) bool) {
		if duration <= 0 {
			return
		}
		for _, w := range windows {
			for s := w.Start; !s.Add(duration).After(w.End); s = s.Add(granularity) {
				if !yield(model.Interval{Start: s, End: s.Add(duration)}) {
					return
				}
			}
		}
	}
}

// FirstFreeSlot returns the earliest candidate that is neither claimed nor in
// conflict. Windows are ordered by start first so the earliest start wins.
func FirstFreeSlot(ctx context.Context, checker ConflictChecker, resourceID string, windows []model.Interval, duration time.Duration, opts Options) (model.Interval, bool, error) {
	for c := range CandidateSlots(sortedWindows(windows), duration, opts.Granularity) {
		ok, err := free(ctx, checker, resourceID, c, opts)
		if err != nil {
			return model.Interval{}, false, err
		}
		if ok {
			return c, true, nil
		}
	}
	return model.Interval{}, false, nil
}

// FreeSlots lists every free candidate, earliest first.
func FreeSlots(ctx context.Context, checker ConflictChecker, resourceID string, windows []model.Interval, duration time.Duration, opts Options) ([]model.Interval, error) {
	var out []model.Interval
	for c := range CandidateSlots(sortedWindows(windows), duration, opts.Granularity) {
		ok, err := free(ctx, checker, resourceID, c, opts)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func free(ctx context.Context, checker ConflictChecker, resourceID string, c model.Interval, opts Options) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !opts.NotBefore.IsZero() && c.Start.Before(opts.NotBefore) {
		return false, nil
	}
	for _, claimed := range opts.Claimed {
		if claimed.Overlaps(c) {
			return false, nil
		}
	}
	conflict, err := checker.HasConflict(ctx, resourceID, c, opts.ExcludeBookingID)
	if err != nil {
		return false, err
	}
	return !conflict, nil
}

func sortedWindows(windows []model.Interval) []model.Interval {
	out := slices.Clone(windows)
	slices.SortStableFunc(out, func(a, b model.Interval) int { return a.Start.Compare(b.Start) })
	return out
}

// BusySet is an in-memory ConflictChecker over a fixed list of busy
// intervals, used when the bookings for a range were loaded up front.
type BusySet []model.Interval

func (b BusySet) HasConflict(_ context.Context, _ string, window model.Interval, _ string) (bool, error) {
	for _, busy := range b {
		if busy.Overlaps(window) {
			return true, nil
		}
	}
	return false, nil
}
