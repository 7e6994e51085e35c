package interval

import "time"

// Span is a half-open time interval [Start, End).
type Span struct {
	Start time.Time
	End   time.Time
}

// Valid reports whether the span has positive length.
func (s Span) Valid() bool {
	return s.End.After(s.Start)
}

// Overlaps reports whether two half-open intervals share at least one
// instant. Touching endpoints do not overlap: [10:00,11:00) and
// [11:00,12:00) are disjoint.
func (s Span) Overlaps(o Span) bool {
	return s.Start.Before(o.End) && o.Start.Before(s.End)
}

// OverlapsAny reports whether [start, end) intersects any of the busy spans.
func OverlapsAny(start, end time.Time, busy []Span) bool {
	candidate := Span{Start: start, End: end}
	for _, b := range busy {
		if candidate.Overlaps(b) {
			return true
		}
	}
	return false
}
