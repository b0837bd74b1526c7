// Package timespan provides the closed, day-granular UTC date intervals
// used to address realized and forecast data windows.
package timespan

import (
	"fmt"
	"time"
)

// DateRange is a closed interval of calendar days [Start, End] in UTC, or
// the distinguished empty range. The zero value is the empty range.
// Ranges are immutable after construction.
type DateRange struct {
	start time.Time
	end   time.Time
	valid bool
}

// floorDay truncates t to UTC midnight.
func floorDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Empty returns the empty range.
func Empty() DateRange {
	return DateRange{}
}

// New creates a range covering the days from start to end, inclusive.
// A reversed pair is swapped rather than rejected.
func New(start, end time.Time) DateRange {
	s, e := floorDay(start), floorDay(end)
	if e.Before(s) {
		s, e = e, s
	}
	return DateRange{start: s, end: e, valid: true}
}

// Day returns the zero-width range holding only the day of t.
func Day(t time.Time) DateRange {
	d := floorDay(t)
	return DateRange{start: d, end: d, valid: true}
}

// FromDays returns the range from start spanning offset days. A negative
// offset extends backwards.
func FromDays(start time.Time, offset int) DateRange {
	return New(start, floorDay(start).AddDate(0, 0, offset))
}

// IsEmpty reports whether the range is the empty range.
func (r DateRange) IsEmpty() bool {
	return !r.valid
}

// Start returns the first day of the range at UTC midnight. Calling Start
// on the empty range is a programming error and panics.
func (r DateRange) Start() time.Time {
	if !r.valid {
		panic("timespan: Start of empty range")
	}
	return r.start
}

// End returns the last day of the range at UTC midnight.
func (r DateRange) End() time.Time {
	if !r.valid {
		panic("timespan: End of empty range")
	}
	return r.end
}

// Days returns the inclusive day count, zero for the empty range.
func (r DateRange) Days() int {
	if !r.valid {
		return 0
	}
	return int(r.end.Sub(r.start).Hours()/24) + 1
}

// Contains reports whether the day of t falls inside the range.
func (r DateRange) Contains(t time.Time) bool {
	if !r.valid {
		return false
	}
	d := floorDay(t)
	return !d.Before(r.start) && !d.After(r.end)
}

// Equal reports range equality. The empty range compares unequal to every
// non-empty range and equal to itself.
func (r DateRange) Equal(other DateRange) bool {
	if r.valid != other.valid {
		return false
	}
	if !r.valid {
		return true
	}
	return r.start.Equal(other.start) && r.end.Equal(other.end)
}

// Intersect returns the overlap of two ranges. Any intersection with the
// empty range is empty.
func (r DateRange) Intersect(other DateRange) DateRange {
	if !r.valid || !other.valid {
		return Empty()
	}
	s, e := r.start, r.end
	if other.start.After(s) {
		s = other.start
	}
	if other.end.Before(e) {
		e = other.end
	}
	if e.Before(s) {
		return Empty()
	}
	return DateRange{start: s, end: e, valid: true}
}

// Cut splits the range at instant into a past half and a future half:
// past.end = min(end, instant) and future.start = max(start, instant).
// The day of the instant therefore belongs to both halves. The halves are
// meant to select disjoint fetch strategies (realized vs forecast data);
// using them to partition one already-materialized row set would count the
// boundary day twice.
func (r DateRange) Cut(instant time.Time) (past, future DateRange) {
	if !r.valid {
		return Empty(), Empty()
	}

	d := floorDay(instant)

	if d.Before(r.start) {
		return Empty(), r
	}
	if d.After(r.end) {
		return r, Empty()
	}

	past = DateRange{start: r.start, end: d, valid: true}
	future = DateRange{start: d, end: r.end, valid: true}
	return past, future
}

// EachDay calls fn once per day of the range in ascending order.
func (r DateRange) EachDay(fn func(day time.Time)) {
	if !r.valid {
		return
	}
	for d := r.start; !d.After(r.end); d = d.AddDate(0, 0, 1) {
		fn(d)
	}
}

func (r DateRange) String() string {
	if !r.valid {
		return "[empty]"
	}
	return fmt.Sprintf("[%s .. %s]", r.start.Format("2006-01-02"), r.end.Format("2006-01-02"))
}
