package slots

import (
	"context"
	"errors"
	"iter"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scheduler-service/internal/model"
)

func at(h, m int) time.Time {
	return time.Date(2030, 1, 7, h, m, 0, 0, time.UTC)
}

func collect(seq iter.Seq[model.Interval]) []model.Interval {
	var out []model.Interval
	for c := range seq {
		out = append(out, c)
	}
	return out
}

func TestCandidateSlotsFitInsideWindow(t *testing.T) {
	windows := []model.Interval{{Start: at(9, 0), End: at(10, 0)}}
	got := collect(CandidateSlots(windows, 30*time.Minute, 15*time.Minute))
	require.Len(t, got, 3)
	assert.Equal(t, at(9, 0), got[0].Start)
	assert.Equal(t, at(9, 30), got[2].Start)
	assert.Equal(t, at(10, 0), got[2].End)
}

func TestCandidateSlotsIsRestartable(t *testing.T) {
	seq := CandidateSlots([]model.Interval{{Start: at(9, 0), End: at(11, 0)}}, time.Hour, 30*time.Minute)
	assert.Equal(t, collect(seq), collect(seq))
}

func TestCandidateSlotsEarlyStop(t *testing.T) {
	seq := CandidateSlots([]model.Interval{{Start: at(9, 0), End: at(17, 0)}}, 30*time.Minute, 30*time.Minute)
	n := 0
	for range seq {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}

func TestCandidateSlotsWindowTooShort(t *testing.T) {
	got := collect(CandidateSlots([]model.Interval{{Start: at(9, 0), End: at(9, 20)}}, 30*time.Minute, 15*time.Minute))
	assert.Empty(t, got)
}

func TestFirstFreeSlotSkipsConflicts(t *testing.T) {
	busy := BusySet{{Start: at(9, 0), End: at(9, 45)}}
	windows := []model.Interval{{Start: at(9, 0), End: at(12, 0)}}

	slot, ok, err := FirstFreeSlot(context.Background(), busy, "r1", windows, 30*time.Minute, Options{Granularity: 15 * time.Minute})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.Interval{Start: at(9, 45), End: at(10, 15)}, slot)
}

func TestFirstFreeSlotEarliestWindowWins(t *testing.T) {
	windows := []model.Interval{
		{Start: at(14, 0), End: at(15, 0)},
		{Start: at(9, 0), End: at(10, 0)},
	}
	slot, ok, err := FirstFreeSlot(context.Background(), BusySet{}, "r1", windows, 30*time.Minute, Options{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, at(9, 0), slot.Start)
}

func TestFirstFreeSlotHonoursClaimedAndNotBefore(t *testing.T) {
	windows := []model.Interval{{Start: at(9, 0), End: at(11, 0)}}
	opts := Options{
		Granularity: 30 * time.Minute,
		Claimed:     []model.Interval{{Start: at(9, 30), End: at(10, 0)}},
		NotBefore:   at(9, 15),
	}
	slot, ok, err := FirstFreeSlot(context.Background(), BusySet{}, "r1", windows, 30*time.Minute, opts)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, at(10, 0), slot.Start)
}

func TestFirstFreeSlotNone(t *testing.T) {
	busy := BusySet{{Start: at(9, 0), End: at(10, 0)}}
	_, ok, err := FirstFreeSlot(context.Background(), busy, "r1", []model.Interval{{Start: at(9, 0), End: at(10, 0)}}, 30*time.Minute, Options{})
	require.NoError(t, err)
	assert.False(t, ok)
}

type failingChecker struct{}

func (failingChecker) HasConflict(context.Context, string, model.Interval, string) (bool, error) {
	return false, errors.New("db down")
}

func TestFirstFreeSlotPropagatesCheckerError(t *testing.T) {
	_, _, err := FirstFreeSlot(context.Background(), failingChecker{}, "r1", []model.Interval{{Start: at(9, 0), End: at(10, 0)}}, 30*time.Minute, Options{})
	assert.EqualError(t, err, "db down")
}

func TestFreeSlots(t *testing.T) {
	busy := BusySet{{Start: at(10, 0), End: at(10, 30)}}
	got, err := FreeSlots(context.Background(), busy, "r1", []model.Interval{{Start: at(9, 0), End: at(11, 0)}}, 30*time.Minute, Options{Granularity: 30 * time.Minute})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []time.Time{at(9, 0), at(9, 30), at(10, 30)}, []time.Time{got[0].Start, got[1].Start, got[2].Start})
}
