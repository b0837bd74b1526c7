package series

import (
	"time"

	"github.com/tietoa/kpi-cli/internal/model"
	"github.com/tietoa/kpi-cli/internal/timespan"
)

// CullBefore removes unraveled forecast rows that describe days already
// covered by realized data. For rows whose subtype is in subtypes, a row is
// kept only when its date is on or after cutoff (strictly after when
// inclusive is false). Realized point-in-time rows are never removed,
// whatever their date: realized history must not be discarded. Rows of
// other subtypes pass through unconditionally. A nil subtype list matches
// every subtype.
func CullBefore(rows []model.Record, cutoff time.Time, subtypes []model.Subtype, inclusive bool) []model.Record {
	cut := floorDay(cutoff)

	out := make([]model.Record, 0, len(rows))
	for _, r := range rows {
		if !subtypeIn(r.Subtype, subtypes) || r.IsRealized() || keepDate(r.Date, cut, inclusive) {
			out = append(out, r)
		}
	}
	return out
}

func keepDate(date *time.Time, cutoff time.Time, inclusive bool) bool {
	if date == nil {
		return false
	}
	if inclusive {
		return !date.Before(cutoff)
	}
	return date.After(cutoff)
}

func subtypeIn(st model.Subtype, set []model.Subtype) bool {
	if set == nil {
		return true
	}
	for _, s := range set {
		if s == st {
			return true
		}
	}
	return false
}

// CullToSpan drops rows whose date falls outside the window. Rows without
// a date are dropped too; after unravel every aggregation-ready row carries
// one.
func CullToSpan(rows []model.Record, window timespan.DateRange) []model.Record {
	out := make([]model.Record, 0, len(rows))
	for _, r := range rows {
		if r.Date != nil && window.Contains(*r.Date) {
			out = append(out, r)
		}
	}
	return out
}
