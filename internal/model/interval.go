package model

import (
	"fmt"
	"time"
)

// Interval is a half-open [Start, End) range of absolute time.
type Interval struct {
	Start time.Time `json:"start_utc"`
	End   time.Time `json:"end_utc"`
}

// Overlaps uses half-open semantics: touching intervals do not overlap.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && i.End.After(o.Start)
}

func (i Interval) Contains(o Interval) bool {
	return !o.Start.Before(i.Start) && !o.End.After(i.End)
}

func (i Interval) Duration() time.Duration { return i.End.Sub(i.Start) }

func (i Interval) Valid() bool { return i.End.After(i.Start) }

func (i Interval) String() string {
	return fmt.Sprintf("[%s, %s)", i.Start.Format(time.RFC3339), i.End.Format(time.RFC3339))
}
