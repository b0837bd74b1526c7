package series

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/tietoa/kpi-cli/internal/calendar"
	"github.com/tietoa/kpi-cli/internal/model"
	"github.com/tietoa/kpi-cli/internal/timespan"
)

// Process runs the fixed pipeline for one entity kind: normalize, prepare,
// unravel to daily rows, cut to the window, and, for kinds that declare
// culled subtypes, drop stale forecast rows older than now. The result
// carries the schema's subtype category set for lossless concatenation.
func Process(rows []model.Record, window timespan.DateRange, pol KindPolicy, oracle calendar.Oracle, now time.Time) (model.Frame, error) {
	log := zap.L().With(zap.String("kind", string(pol.Kind)))
	log.Debug("series: processing", zap.Int("rows", len(rows)))

	normalized, err := Normalize(rows, pol.Schema)
	if err != nil {
		return model.Frame{}, err
	}

	if pol.Prepare != nil {
		normalized = pol.Prepare(normalized, window)
	}

	unraveled, err := Unravel(normalized, window, pol.Rules, oracle)
	if err != nil {
		return model.Frame{}, err
	}
	log.Debug("series: unraveled", zap.Int("rows", len(unraveled)))

	kept := CullToSpan(unraveled, window)
	if len(pol.CullSubtypes) > 0 {
		kept = CullBefore(kept, floorDay(now), pol.CullSubtypes, true)
	}
	log.Debug("series: culled", zap.Int("rows", len(kept)))

	return model.Frame{Rows: kept, Subtypes: pol.Schema.Subtypes}, nil
}

// Concat appends the frames' rows and unions their subtype category sets,
// so a category declared by any input survives in the result even when no
// row currently holds it.
func Concat(frames ...model.Frame) model.Frame {
	var out model.Frame
	seen := make(map[model.Subtype]struct{})

	for _, f := range frames {
		out.Rows = append(out.Rows, f.Rows...)
		for _, st := range f.Subtypes {
			if _, ok := seen[st]; !ok {
				seen[st] = struct{}{}
				out.Subtypes = append(out.Subtypes, st)
			}
		}
	}
	return out
}

// MergeUserInfo left-joins display attributes (name, business unit) from
// the users frame onto every row by user identity. The last users row per
// user wins. Row count and order of rows are preserved exactly; rows
// without a matching user keep empty attributes.
func MergeUserInfo(users model.Frame, rows []model.Record) []model.Record {
	type info struct {
		first, last, unit string
	}
	byUser := make(map[string]info)
	for _, u := range users.Rows {
		byUser[u.User] = info{first: u.FirstName, last: u.LastName, unit: u.BusinessUnit}
	}

	out := make([]model.Record, len(rows))
	copy(out, rows)
	for i := range out {
		ui := byUser[out[i].User]
		out[i].FirstName = ui.first
		out[i].LastName = ui.last
		out[i].BusinessUnit = ui.unit
	}
	return out
}

// GroupKey addresses one aggregated daily total.
type GroupKey struct {
	User    string
	Subtype model.Subtype
	Date    time.Time
}

// Total is one aggregated value of the daily series.
type Total struct {
	GroupKey
	Value float64
}

// GroupSum sums row values grouped by (user, subtype, date). The result is
// sorted by date, user and subtype, and is deterministic regardless of
// input row order. Rows without a date are skipped.
func GroupSum(rows []model.Record) []Total {
	sums := make(map[GroupKey]float64)
	for _, r := range rows {
		if r.Date == nil {
			continue
		}
		key := GroupKey{User: r.User, Subtype: r.Subtype, Date: floorDay(*r.Date)}
		sums[key] += r.Value
	}

	out := make([]Total, 0, len(sums))
	for k, v := range sums {
		out = append(out, Total{GroupKey: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		if out[i].User != out[j].User {
			return out[i].User < out[j].User
		}
		return out[i].Subtype < out[j].Subtype
	})
	return out
}
