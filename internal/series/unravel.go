package series

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/tietoa/kpi-cli/internal/calendar"
	"github.com/tietoa/kpi-cli/internal/model"
	"github.com/tietoa/kpi-cli/internal/timespan"
)

// ScalePolicy selects how a span record's value is distributed over the
// days of the span.
type ScalePolicy int

const (
	// ScaleNone copies the value to every day of the span as-is.
	ScaleNone ScalePolicy = iota

	// ScaleCalendarDays divides the value by the exclusive day count of
	// the span, (end - start) in days. The divisor deliberately omits the
	// +1 of the inclusive convention: it mirrors how a daily rate is
	// derived from a start/end pair in the source system.
	ScaleCalendarDays

	// ScaleWorkingDays divides the value by the inclusive working-day
	// count of the span. A span with zero working days falls back to
	// calendar-day scaling so the value is conserved instead of turning
	// into Inf.
	ScaleWorkingDays
)

// Rule is the per-subtype unravel policy.
type Rule struct {
	Scale ScalePolicy

	// ZeroOnHoliday zeroes the daily value on non-working days instead
	// of assigning the scaled share.
	ZeroOnHoliday bool
}

// Unravel explodes every span-shaped record into one row per calendar day
// the span shares with window, replacing the span with a single date while
// keeping the original endpoints and all other fields. Rows that already
// carry a date pass through unchanged. Rows with neither a date nor a full
// span are contract-scope rows and receive the full window as an implicit
// span first. Rows entirely outside the window contribute nothing.
func Unravel(rows []model.Record, window timespan.DateRange, rules map[model.Subtype]Rule, oracle calendar.Oracle) ([]model.Record, error) {
	if window.IsEmpty() {
		return nil, eris.New("series: unravel: empty target window")
	}

	out := make([]model.Record, 0, len(rows))

	for _, r := range rows {
		if r.Date != nil {
			// Realized point-in-time rows are the base case and are
			// never re-exploded.
			out = append(out, r)
			continue
		}

		start, end := r.StartDate, r.EndDate
		if start == nil && end == nil {
			ws, we := window.Start(), window.End()
			start, end = &ws, &we
			r.StartDate, r.EndDate = &ws, &we
		} else if start == nil || end == nil {
			// Half a span cannot be exploded; pass through for the
			// culling stage to handle.
			out = append(out, r)
			continue
		}

		if start.After(*end) {
			return nil, eris.Errorf("series: unravel: span start after end for subtype %q (normalize not applied?)", r.Subtype)
		}

		span := timespan.New(*start, *end)
		part := span.Intersect(window)
		if part.IsEmpty() {
			continue
		}

		rule := rules[r.Subtype]
		share := r.Value / float64(divisor(rule.Scale, span, oracle))

		part.EachDay(func(d time.Time) {
			day := r
			day.Date = &d
			day.Value = share
			if rule.ZeroOnHoliday && !oracle.IsWorkingDay(d) {
				day.Value = 0
			}
			out = append(out, day)
		})
	}

	return out, nil
}

// divisor resolves the scaling denominator for a full span. Never zero.
func divisor(scale ScalePolicy, span timespan.DateRange, oracle calendar.Oracle) int {
	switch scale {
	case ScaleCalendarDays:
		return calendarDivisor(span)
	case ScaleWorkingDays:
		if w := oracle.WorkingDaysBetween(span.Start(), span.End()); w > 0 {
			return w
		}
		return calendarDivisor(span)
	default:
		return 1
	}
}

// calendarDivisor is the exclusive day count of the span, guarded so a
// single-day span divides by one rather than zero.
func calendarDivisor(span timespan.DateRange) int {
	if d := span.Days() - 1; d > 0 {
		return d
	}
	return 1
}
