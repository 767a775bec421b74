// Package availability answers "is this window inside the resource's open
// hours" from weekly recurring rules evaluated in the resource's timezone.
package availability

import (
	"fmt"
	"sort"
	"time"

	"scheduler-service/internal/model"
)

// clockRange is a [start, end) span of seconds since local midnight.
type clockRange struct {
	start int
	end   int
}

// Model is the weekly open-hours view of one resource.
type Model struct {
	loc  *time.Location
	days [7][]clockRange
}

// New builds the model from the active rules. Overlapping or touching rules
// on the same weekday are merged into one window.
func New(resource model.Resource, rules []model.AvailabilityRule) (*Model, error) {
	loc, err := resource.Location()
	if err != nil {
		return nil, fmt.Errorf("availability: resource %s timezone %q: %w", resource.ID, resource.Timezone, err)
	}
	m := &Model{loc: loc}
	for _, r := range rules {
		if !r.Active {
			continue
		}
		if r.DayOfWeek < 0 || r.DayOfWeek > 6 {
			return nil, fmt.Errorf("availability: rule %d: day_of_week %d out of range", r.ID, r.DayOfWeek)
		}
		start, err := ParseClock(r.StartTime)
		if err != nil {
			return nil, fmt.Errorf("availability: rule %d: %w", r.ID, err)
		}
		end, err := ParseClock(r.EndTime)
		if err != nil {
			return nil, fmt.Errorf("availability: rule %d: %w", r.ID, err)
		}
		if end <= start {
			return nil, fmt.Errorf("availability: end_time must be after start_time for rule %d", r.ID)
		}
		m.days[r.DayOfWeek] = append(m.days[r.DayOfWeek], clockRange{start: start, end: end})
	}
	for d := range m.days {
		m.days[d] = merge(m.days[d])
	}
	return m, nil
}

// Location is the timezone rules are evaluated in.
func (m *Model) Location() *time.Location { return m.loc }

// IsWithinAvailability reports whether [start, end) lies inside one open
// window of start's weekday. Windows crossing local midnight are rejected.
func (m *Model) IsWithinAvailability(start, end time.Time) bool {
	if !end.After(start) {
		return false
	}
	s := start.In(m.loc)
	e := end.In(m.loc)
	sy, sm, sd := s.Date()
	ey, em, ed := e.Date()
	if sy != ey || sm != em || sd != ed {
		return false
	}
	from := secondsOfDay(s)
	to := secondsOfDay(e)
	for _, w := range m.days[s.Weekday()] {
		if w.start <= from && to <= w.end {
			return true
		}
	}
	return false
}

// Windows expands the rules into absolute open windows for every calendar day
// between from and to inclusive, as seen in the resource timezone.
func (m *Model) Windows(from, to time.Time) []model.Interval {
	fy, fm, fd := from.In(m.loc).Date()
	ty, tm, td := to.In(m.loc).Date()
	last := time.Date(ty, tm, td, 0, 0, 0, 0, m.loc)

	var out []model.Interval
	for day := time.Date(fy, fm, fd, 0, 0, 0, 0, m.loc); !day.After(last); day = day.AddDate(0, 0, 1) {
		y, mo, d := day.Date()
		for _, w := range m.days[day.Weekday()] {
			out = append(out, model.Interval{
				Start: time.Date(y, mo, d, 0, 0, w.start, 0, m.loc).UTC(),
				End:   time.Date(y, mo, d, 0, 0, w.end, 0, m.loc).UTC(),
			})
		}
	}
	return out
}

// ParseClock parses "HH:MM" (trailing ":SS" or fractional parts from a
// database TIME column are ignored) into seconds since midnight.
func ParseClock(s string) (int, error) {
	if len(s) < 5 {
		return 0, fmt.Errorf("invalid time string: %s", s)
	}
	tt, err := time.Parse("15:04", s[:5])
	if err != nil {
		return 0, fmt.Errorf("invalid time string: %s", s)
	}
	return tt.Hour()*3600 + tt.Minute()*60, nil
}

// ValidateRule checks a rule before it is saved.
func ValidateRule(r model.AvailabilityRule) error {
	verr := &model.ValidationError{}
	if r.DayOfWeek < 0 || r.DayOfWeek > 6 {
		verr.Add("day_of_week", "must be between 0 (Sunday) and 6 (Saturday)")
	}
	start, serr := ParseClock(r.StartTime)
	if serr != nil {
		verr.Add("start_time", "must be HH:MM")
	}
	end, eerr := ParseClock(r.EndTime)
	if eerr != nil {
		verr.Add("end_time", "must be HH:MM")
	}
	if serr == nil && eerr == nil && end <= start {
		verr.Add("end_time", "must be after start_time")
	}
	return verr.OrNil()
}

func secondsOfDay(t time.Time) int {
	return t.Hour()*3600 + t.Minute()*60 + t.Second()
}

func merge(ranges []clockRange) []clockRange {
	if len(ranges) < 2 {
		return ranges
	}
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].start < ranges[j].start })
	out := []clockRange{ranges[0]}
	for _, r := range ranges[1:] {
		last := &out[len(out)-1]
		if r.start <= last.end {
			if r.end > last.end {
				last.end = r.end
			}
			continue
		}
		out = append(out, r)
	}
	return out
}
