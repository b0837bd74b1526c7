package kpi

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tietoa/kpi-cli/internal/calendar"
	"github.com/tietoa/kpi-cli/internal/model"
	"github.com/tietoa/kpi-cli/internal/store"
	"github.com/tietoa/kpi-cli/internal/timespan"
)

type fakeSource struct {
	hours   []model.Record
	billing []model.Record
	sales   []model.Record
	users   []model.Record
	invalid []model.Record
}

func (f *fakeSource) FetchHours(ctx context.Context, span timespan.DateRange) ([]model.Record, error) {
	return f.hours, nil
}

func (f *fakeSource) FetchBilling(ctx context.Context, span timespan.DateRange) ([]model.Record, error) {
	return f.billing, nil
}

func (f *fakeSource) FetchSales(ctx context.Context, span timespan.DateRange) ([]model.Record, error) {
	return f.sales, nil
}

func (f *fakeSource) FetchUserContracts(ctx context.Context) ([]model.Record, error) {
	return f.users, nil
}

func (f *fakeSource) InvalidSales(ctx context.Context) ([]model.Record, error) {
	return f.invalid, nil
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func day(t time.Time) *time.Time {
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return &d
}

func TestSnapshot_SavesAllKindsAndDiagnostics(t *testing.T) {
	now := time.Now().UTC()
	src := &fakeSource{
		hours: []model.Record{
			{Subtype: model.SubtypeWorkhours, User: "u1", Value: 7.5, Date: day(now), InternalGUID: "wh1"},
		},
		billing: []model.Record{
			{Subtype: model.SubtypeBilling, User: "u1", Value: 1200, Date: day(now), InternalGUID: "i1"},
		},
		sales: []model.Record{
			{Subtype: model.SubtypeSalesvalue, User: "u1", Value: 40000, Date: day(now.AddDate(0, 1, 0)), InternalGUID: "s1"},
		},
		users: []model.Record{
			{Subtype: model.SubtypeMaximum, User: "u1", Value: 7.5, InternalGUID: "u1/contract"},
		},
		invalid: []model.Record{
			{Subtype: "missing_order_date", Project: "sale-1", IdentityKey: "diag-1"},
		},
	}
	model.Stamp(src.hours, now)
	model.Stamp(src.billing, now)
	model.Stamp(src.sales, now)
	model.Stamp(src.users, now)

	st := newTestStore(t)
	svc := NewService(src, st, calendar.Weekdays{})

	res, err := svc.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Collections[store.CollectionHours].Inserted)
	assert.Equal(t, 1, res.Collections[store.CollectionBilling].Inserted)
	assert.Equal(t, 1, res.Collections[store.CollectionSales].Inserted)
	assert.Equal(t, 1, res.Collections[store.CollectionUsers].Inserted)
	assert.Equal(t, 1, res.Invalid)

	// Re-running the same night replaces rather than duplicates.
	res, err = svc.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Collections[store.CollectionHours].Replaced)

	diags, err := svc.InvalidSales(context.Background())
	require.NoError(t, err)
	assert.Len(t, diags, 1)
}

func TestLoadAndMerge_CombinesAPIPastWithStoredForecasts(t *testing.T) {
	now := time.Date(2024, 3, 13, 12, 0, 0, 0, time.UTC) // Wednesday
	span := timespan.New(now.AddDate(0, 0, -3), now.AddDate(0, 0, 3))

	src := &fakeSource{
		hours: []model.Record{
			{Subtype: model.SubtypeWorkhours, User: "u1", Value: 7.5, Date: day(now.AddDate(0, 0, -1)), InternalGUID: "wh1"},
		},
		users: []model.Record{
			{
				Subtype: model.SubtypeMaximum, User: "u1", Value: 7.5,
				StartDate: day(now.AddDate(0, 0, -30)),
				FirstName: "Aino", LastName: "Virtanen", BusinessUnit: "bu-1",
				InternalGUID: "u1/contract",
			},
		},
	}

	st := newTestStore(t)
	snapshot := []model.Record{
		{Subtype: model.SubtypeBilling, User: "u1", Value: 5000, Date: day(now.AddDate(0, 0, 2)), InternalGUID: "f1"},
	}
	model.Stamp(snapshot, now.AddDate(0, 0, -1))
	_, err := st.Upsert(context.Background(), store.CollectionBilling, snapshot)
	require.NoError(t, err)

	svc := NewService(src, st, calendar.Weekdays{})
	frame, err := svc.LoadAndMerge(context.Background(), span, now)
	require.NoError(t, err)

	bySubtype := map[model.Subtype][]model.Record{}
	for _, r := range frame.Rows {
		bySubtype[r.Subtype] = append(bySubtype[r.Subtype], r)
	}

	require.Len(t, bySubtype[model.SubtypeWorkhours], 1)
	assert.Equal(t, "Aino", bySubtype[model.SubtypeWorkhours][0].FirstName)

	require.Len(t, bySubtype[model.SubtypeBilling], 1)
	assert.Equal(t, 5000.0, bySubtype[model.SubtypeBilling][0].Value)

	// The open-ended contract explodes into one maximum row per day.
	assert.Len(t, bySubtype[model.SubtypeMaximum], span.Days())

	// Category union keeps declared subtypes even without rows.
	assert.True(t, frame.HasSubtype(model.SubtypeAbsences))
	assert.True(t, frame.HasSubtype(model.SubtypeSalesvalue))
}

func TestLoadAndMerge_EmptySpan(t *testing.T) {
	svc := NewService(&fakeSource{}, newTestStore(t), calendar.Weekdays{})
	_, err := svc.LoadAndMerge(context.Background(), timespan.Empty(), time.Now().UTC())
	require.Error(t, err)
}

func TestPressure_AllocatedAgainstMaximum(t *testing.T) {
	now := time.Date(2024, 3, 13, 12, 0, 0, 0, time.UTC) // Wednesday
	span := timespan.Day(now.AddDate(0, 0, -1))          // Tuesday

	src := &fakeSource{
		hours: []model.Record{
			{Subtype: model.SubtypeWorkhours, User: "u1", Value: 6, Date: day(now.AddDate(0, 0, -1)), InternalGUID: "wh1"},
			{Subtype: model.SubtypeAbsences, User: "u1", Value: 1.5, Date: day(now.AddDate(0, 0, -1)), InternalGUID: "ab1"},
		},
		users: []model.Record{
			{
				Subtype: model.SubtypeMaximum, User: "u1", Value: 7.5,
				StartDate: day(now.AddDate(0, 0, -30)), InternalGUID: "u1/contract",
			},
		},
	}
	svc := NewService(src, newTestStore(t), calendar.Weekdays{})

	points, err := svc.Pressure(context.Background(), span, now)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, "u1", points[0].User)
	assert.InDelta(t, 7.5, points[0].Allocated, 0.001)
	assert.InDelta(t, 7.5, points[0].Maximum, 0.001)
}

func TestFilterTotals(t *testing.T) {
	now := time.Now().UTC()
	src := &fakeSource{
		hours: []model.Record{
			{Subtype: model.SubtypeWorkhours, User: "u1", Value: 6, Date: day(now.AddDate(0, 0, -1)), InternalGUID: "wh1"},
		},
	}
	svc := NewService(src, newTestStore(t), calendar.Weekdays{})

	span := timespan.New(now.AddDate(0, 0, -3), now.AddDate(0, 0, -1))
	totals, err := svc.Totals(context.Background(), span, now)
	require.NoError(t, err)

	hours := FilterTotals(totals, model.SubtypeWorkhours, model.SubtypeAbsences)
	require.Len(t, hours, 1)
	assert.Equal(t, 6.0, hours[0].Value)
	assert.Empty(t, FilterTotals(totals, model.SubtypeBilling))
}
