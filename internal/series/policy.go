package series

import (
	"github.com/rotisserie/eris"

	"github.com/tietoa/kpi-cli/internal/model"
	"github.com/tietoa/kpi-cli/internal/timespan"
)

// KindPolicy wires the generic pipeline for one entity kind: its column
// schema, the per-subtype unravel rules, the subtypes whose stale forecast
// rows get culled (empty means the kind keeps its full history), and an
// optional prepare hook run between normalization and unravel. Policies
// are data; the engine never branches on kind.
type KindPolicy struct {
	Kind         model.Kind
	Schema       Schema
	Rules        map[model.Subtype]Rule
	CullSubtypes []model.Subtype
	Prepare      func(rows []model.Record, window timespan.DateRange) []model.Record
}

// HoursPolicy covers realized and forecast working hours. Absences spread
// over calendar days and zero out on holidays; work and sales-work hours
// spread over working days. Forecast hour rows are culled once realized
// hours exist.
func HoursPolicy() KindPolicy {
	return KindPolicy{
		Kind: model.KindHours,
		Schema: Schema{
			Kind:     model.KindHours,
			Subtypes: []model.Subtype{model.SubtypeWorkhours, model.SubtypeAbsences, model.SubtypeSaleswork},
		},
		Rules: map[model.Subtype]Rule{
			model.SubtypeAbsences:  {Scale: ScaleCalendarDays, ZeroOnHoliday: true},
			model.SubtypeWorkhours: {Scale: ScaleWorkingDays},
			model.SubtypeSaleswork: {Scale: ScaleWorkingDays},
		},
		CullSubtypes: []model.Subtype{model.SubtypeWorkhours, model.SubtypeSaleswork},
	}
}

// BillingPolicy covers invoices and billing forecasts. Forecast billing
// spreads over working days and zeroes on holidays.
func BillingPolicy() KindPolicy {
	return KindPolicy{
		Kind: model.KindBilling,
		Schema: Schema{
			Kind:     model.KindBilling,
			Subtypes: []model.Subtype{model.SubtypeBilling},
		},
		Rules: map[model.Subtype]Rule{
			model.SubtypeBilling: {Scale: ScaleWorkingDays, ZeroOnHoliday: true},
		},
		CullSubtypes: []model.Subtype{model.SubtypeBilling},
	}
}

// SalesPolicy covers expected sales values, which are point-in-time only
// and are neither scaled nor culled.
func SalesPolicy() KindPolicy {
	return KindPolicy{
		Kind: model.KindSales,
		Schema: Schema{
			Kind:     model.KindSales,
			Subtypes: []model.Subtype{model.SubtypeSalesvalue},
		},
		Rules: map[model.Subtype]Rule{},
	}
}

// UsersPolicy covers contract-scope rows (maximum daily hours, hour cost).
// They carry no dates or an open-ended span: a contract with no recorded
// end is assumed to run through the query horizon, so the prepare hook
// backfills a missing end date with the window end before span ordering is
// re-checked.
func UsersPolicy() KindPolicy {
	return KindPolicy{
		Kind: model.KindUsers,
		Schema: Schema{
			Kind:     model.KindUsers,
			Subtypes: []model.Subtype{model.SubtypeMaximum, model.SubtypeHourCost},
		},
		Rules: map[model.Subtype]Rule{},
		Prepare: func(rows []model.Record, window timespan.DateRange) []model.Record {
			out := make([]model.Record, len(rows))
			copy(out, rows)
			we := window.End()
			for i := range out {
				if out[i].StartDate != nil && out[i].EndDate == nil {
					end := we
					out[i].EndDate = &end
					ensureSpanOrder(&out[i])
				}
			}
			return out
		},
	}
}

// PolicyFor returns the policy table entry for kind.
func PolicyFor(kind model.Kind) (KindPolicy, error) {
	switch kind {
	case model.KindHours:
		return HoursPolicy(), nil
	case model.KindBilling:
		return BillingPolicy(), nil
	case model.KindSales:
		return SalesPolicy(), nil
	case model.KindUsers:
		return UsersPolicy(), nil
	default:
		return KindPolicy{}, eris.Errorf("series: no policy for kind %q", kind)
	}
}
