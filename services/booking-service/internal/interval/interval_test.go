package interval

import (
	"testing"
	"time"
)

func at(h, m int) time.Time {
	return time.Date(2026, 3, 12, h, m, 0, 0, time.UTC)
}

func TestOverlaps(t *testing.T) {
	cases := []struct {
		name string
		a, b Span
		want bool
	}{
		{"disjoint before", Span{at(9, 0), at(10, 0)}, Span{at(11, 0), at(12, 0)}, false},
		{"touching endpoints", Span{at(10, 0), at(11, 0)}, Span{at(11, 0), at(12, 0)}, false},
		{"touching start", Span{at(11, 0), at(12, 0)}, Span{at(10, 0), at(11, 0)}, false},
		{"partial overlap", Span{at(10, 0), at(11, 0)}, Span{at(10, 30), at(11, 30)}, true},
		{"containment", Span{at(10, 0), at(12, 0)}, Span{at(10, 30), at(11, 0)}, true},
		{"identical", Span{at(10, 0), at(11, 0)}, Span{at(10, 0), at(11, 0)}, true},
	}
	for _, tc := range cases {
		if got := tc.a.Overlaps(tc.b); got != tc.want {
			t.Fatalf("%s: Overlaps = %v, want %v", tc.name, got, tc.want)
		}
		// Overlap is symmetric.
		if got := tc.b.Overlaps(tc.a); got != tc.want {
			t.Fatalf("%s (reversed): Overlaps = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestOverlapsAny(t *testing.T) {
	busy := []Span{
		{at(9, 0), at(10, 0)},
		{at(13, 0), at(14, 0)},
	}
	if OverlapsAny(at(10, 0), at(11, 0), busy) {
		t.Fatal("slot starting at a busy end must be free")
	}
	if !OverlapsAny(at(13, 30), at(14, 30), busy) {
		t.Fatal("slot crossing a busy interval must conflict")
	}
	if OverlapsAny(at(10, 0), at(11, 0), nil) {
		t.Fatal("empty busy set must never conflict")
	}
}
