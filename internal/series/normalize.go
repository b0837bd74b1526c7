// Package series implements the forecast-reconciliation engine: it
// normalizes heterogeneous span- and point-based records, unravels spans
// into daily rows, and culls stale forecast rows superseded by realized
// data. All functions are pure; they allocate fresh slices per call and
// are safe to use from concurrent requests.
package series

import (
	"math"
	"time"

	"github.com/rotisserie/eris"

	"github.com/tietoa/kpi-cli/internal/model"
)

// Schema declares the canonical shape of one entity kind: which subtype
// categories its rows may carry and which date fields are part of the
// kind's column set.
type Schema struct {
	Kind     model.Kind
	Subtypes []model.Subtype
}

func (s Schema) allows(st model.Subtype) bool {
	for _, allowed := range s.Subtypes {
		if st == allowed {
			return true
		}
	}
	return false
}

// Normalize returns a copy of rows where every date field is coerced to
// UTC, the span endpoints are ordered (swapped when reversed, nils left
// untouched) and every row is tagged with the schema's kind. A subtype
// outside the declared category set or a non-finite value is a schema
// mismatch with upstream data and fails immediately.
func Normalize(rows []model.Record, schema Schema) ([]model.Record, error) {
	out := make([]model.Record, len(rows))
	copy(out, rows)

	for i := range out {
		r := &out[i]

		if !schema.allows(r.Subtype) {
			return nil, eris.Errorf("series: normalize %s: subtype %q not in schema", schema.Kind, r.Subtype)
		}
		if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
			return nil, eris.Errorf("series: normalize %s: non-finite value for subtype %q", schema.Kind, r.Subtype)
		}

		r.Kind = schema.Kind
		r.Date = toUTC(r.Date)
		r.StartDate = toUTC(r.StartDate)
		r.EndDate = toUTC(r.EndDate)
		r.ForecastDate = toUTC(r.ForecastDate)

		ensureSpanOrder(r)
	}

	return out, nil
}

// ensureSpanOrder swaps the span endpoints when both are set and reversed.
func ensureSpanOrder(r *model.Record) {
	if r.StartDate != nil && r.EndDate != nil && r.StartDate.After(*r.EndDate) {
		r.StartDate, r.EndDate = r.EndDate, r.StartDate
	}
}

func toUTC(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func floorDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
