// Package kpi assembles the reporting series: it pulls source data
// through the upstream API, persists nightly forecast snapshots, and
// merges realized history with stored forecasts into one daily series.
package kpi

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tietoa/kpi-cli/internal/calendar"
	"github.com/tietoa/kpi-cli/internal/model"
	"github.com/tietoa/kpi-cli/internal/series"
	"github.com/tietoa/kpi-cli/internal/store"
	"github.com/tietoa/kpi-cli/internal/timespan"
)

// Snapshot window lengths in days, per kind. Billing forecasts only
// reach a few months out, so its window is shorter.
const (
	HoursSnapshotDays   = 540
	SalesSnapshotDays   = 540
	BillingSnapshotDays = 120

	// invalidSalesTTL keeps diagnostics just under a day so each
	// nightly run replaces them wholesale.
	invalidSalesTTL = 23 * time.Hour
)

// Source is the upstream fetch surface the service consumes.
// *projectapi.Fetcher satisfies it.
type Source interface {
	FetchHours(ctx context.Context, span timespan.DateRange) ([]model.Record, error)
	FetchBilling(ctx context.Context, span timespan.DateRange) ([]model.Record, error)
	FetchSales(ctx context.Context, span timespan.DateRange) ([]model.Record, error)
	FetchUserContracts(ctx context.Context) ([]model.Record, error)
	InvalidSales(ctx context.Context) ([]model.Record, error)
}

// Service owns the fetch-process-persist cycle.
type Service struct {
	src Source
	st  store.Store
	cal calendar.Oracle
}

func NewService(src Source, st store.Store, cal calendar.Oracle) *Service {
	return &Service{src: src, st: st, cal: cal}
}

// SnapshotResult reports what a Snapshot run wrote per collection.
type SnapshotResult struct {
	Collections map[string]store.UpsertResult
	Invalid     int
}

// Snapshot fetches every kind over its window and upserts the rows
// into the snapshot collections. A failing kind is logged and skipped
// so one upstream hiccup does not lose the rest of the night's data.
func (s *Service) Snapshot(ctx context.Context) (SnapshotResult, error) {
	now := time.Now().UTC()
	res := SnapshotResult{Collections: map[string]store.UpsertResult{}}

	kinds := []struct {
		collection string
		fetch      func(context.Context) ([]model.Record, error)
	}{
		{store.CollectionHours, func(ctx context.Context) ([]model.Record, error) {
			return s.src.FetchHours(ctx, timespan.FromDays(now, HoursSnapshotDays))
		}},
		{store.CollectionSales, func(ctx context.Context) ([]model.Record, error) {
			return s.src.FetchSales(ctx, timespan.FromDays(now, SalesSnapshotDays))
		}},
		{store.CollectionBilling, func(ctx context.Context) ([]model.Record, error) {
			return s.src.FetchBilling(ctx, timespan.FromDays(now, BillingSnapshotDays))
		}},
		{store.CollectionUsers, func(ctx context.Context) ([]model.Record, error) {
			return s.src.FetchUserContracts(ctx)
		}},
	}

	var firstErr error
	for _, k := range kinds {
		t0 := time.Now()
		rows, err := k.fetch(ctx)
		if err != nil {
			zap.L().Error("kpi: snapshot fetch failed",
				zap.String("collection", k.collection), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		ur, err := s.st.Upsert(ctx, k.collection, rows)
		if err != nil {
			zap.L().Error("kpi: snapshot upsert failed",
				zap.String("collection", k.collection), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		res.Collections[k.collection] = ur
		zap.L().Info("kpi: snapshot saved",
			zap.String("collection", k.collection),
			zap.Int("rows", len(rows)),
			zap.Int("inserted", ur.Inserted),
			zap.Int("replaced", ur.Replaced),
			zap.Duration("took", time.Since(t0)))
	}

	invalid, err := s.src.InvalidSales(ctx)
	if err != nil {
		zap.L().Error("kpi: invalid-sales fetch failed", zap.Error(err))
		if firstErr == nil {
			firstErr = err
		}
	} else {
		if _, err := s.st.DeleteExpired(ctx); err != nil {
			return res, eris.Wrap(err, "kpi: reap expired diagnostics")
		}
		if err := s.st.InsertExpiring(ctx, store.CollectionInvalidSales, invalid, invalidSalesTTL); err != nil {
			return res, eris.Wrap(err, "kpi: save diagnostics")
		}
		res.Invalid = len(invalid)
	}
	return res, firstErr
}

// LoadAndMerge builds the combined daily series for span: realized data
// up to now comes fresh from the upstream, the forecast side comes from
// the latest stored snapshot, and user names ride along via a left join.
func (s *Service) LoadAndMerge(ctx context.Context, span timespan.DateRange, now time.Time) (model.Frame, error) {
	if span.IsEmpty() {
		return model.Frame{}, eris.New("kpi: empty query span")
	}

	past, future := span.Cut(now)
	fromDB := !future.IsEmpty()

	var (
		mu       sync.Mutex
		fetched  = map[model.Kind][]model.Record{}
		stored   = map[model.Kind][]model.Record{}
		userRows []model.Record
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := s.src.FetchUserContracts(gctx)
		if err != nil {
			return err
		}
		userRows = rows
		return nil
	})
	if !past.IsEmpty() {
		fetches := map[model.Kind]func(context.Context, timespan.DateRange) ([]model.Record, error){
			model.KindHours:   s.src.FetchHours,
			model.KindBilling: s.src.FetchBilling,
			model.KindSales:   s.src.FetchSales,
		}
		for kind, fetch := range fetches {
			g.Go(func() error {
				rows, err := fetch(gctx, past)
				if err != nil {
					return err
				}
				mu.Lock()
				fetched[kind] = rows
				mu.Unlock()
				return nil
			})
		}
	}
	if fromDB {
		g.Go(func() error {
			latest, err := s.st.MaxForecastDate(gctx, store.CollectionBilling)
			if err != nil {
				return err
			}
			if latest.IsZero() {
				zap.L().Warn("kpi: no stored forecast snapshot, using upstream data only")
				return nil
			}
			for kind, collection := range map[model.Kind]string{
				model.KindHours:   store.CollectionHours,
				model.KindBilling: store.CollectionBilling,
				model.KindSales:   store.CollectionSales,
			} {
				rows, err := s.st.Find(gctx, collection, store.Query{ForecastDate: &latest})
				if err != nil {
					return err
				}
				if kind == model.KindHours {
					// Contract maximums live in the users kind now.
					rows = dropSubtype(rows, model.SubtypeMaximum)
				}
				mu.Lock()
				stored[kind] = rows
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return model.Frame{}, eris.Wrap(err, "kpi: load")
	}

	users, err := s.processKind(model.KindUsers, userRows, span, now)
	if err != nil {
		return model.Frame{}, err
	}

	frames := []model.Frame{users}
	for _, batch := range []map[model.Kind][]model.Record{fetched, stored} {
		for _, kind := range []model.Kind{model.KindBilling, model.KindHours, model.KindSales} {
			rows, ok := batch[kind]
			if !ok {
				continue
			}
			frame, err := s.processKind(kind, rows, span, now)
			if err != nil {
				return model.Frame{}, err
			}
			frames = append(frames, frame)
		}
	}

	combined := series.Concat(frames...)
	combined.Rows = series.MergeUserInfo(users, combined.Rows)
	return combined, nil
}

func (s *Service) processKind(kind model.Kind, rows []model.Record, span timespan.DateRange, now time.Time) (model.Frame, error) {
	pol, err := series.PolicyFor(kind)
	if err != nil {
		return model.Frame{}, err
	}
	frame, err := series.Process(rows, span, pol, s.cal, now)
	if err != nil {
		return model.Frame{}, eris.Wrap(err, "kpi: process "+string(kind))
	}
	return frame, nil
}

// Totals is the merged series grouped to (user, subtype, day) sums.
func (s *Service) Totals(ctx context.Context, span timespan.DateRange, now time.Time) ([]series.Total, error) {
	frame, err := s.LoadAndMerge(ctx, span, now)
	if err != nil {
		return nil, err
	}
	return series.GroupSum(frame.Rows), nil
}

// PressurePoint is one user-day of allocated load against the contract
// maximum. Maximum is zero for days outside any contract.
type PressurePoint struct {
	User      string    `json:"user"`
	Date      time.Time `json:"date"`
	Allocated float64   `json:"allocated"`
	Maximum   float64   `json:"maximum"`
}

// Pressure folds the merged series into per-user daily load figures:
// workhours, absences and saleswork count as allocated time, the
// contract maximum rides along for the ratio.
func (s *Service) Pressure(ctx context.Context, span timespan.DateRange, now time.Time) ([]PressurePoint, error) {
	totals, err := s.Totals(ctx, span, now)
	if err != nil {
		return nil, err
	}

	type userDay struct {
		user string
		date time.Time
	}
	points := map[userDay]*PressurePoint{}
	var order []userDay
	for _, t := range totals {
		key := userDay{user: t.User, date: t.Date}
		p, ok := points[key]
		if !ok {
			p = &PressurePoint{User: t.User, Date: t.Date}
			points[key] = p
			order = append(order, key)
		}
		switch t.Subtype {
		case model.SubtypeWorkhours, model.SubtypeAbsences, model.SubtypeSaleswork:
			p.Allocated += t.Value
		case model.SubtypeMaximum:
			p.Maximum += t.Value
		}
	}

	out := make([]PressurePoint, 0, len(order))
	for _, key := range order {
		p := points[key]
		if p.Allocated == 0 && p.Maximum == 0 {
			continue
		}
		out = append(out, *p)
	}
	return out, nil
}

// InvalidSales returns the stored diagnostics from the latest snapshot.
func (s *Service) InvalidSales(ctx context.Context) ([]model.Record, error) {
	rows, err := s.st.Find(ctx, store.CollectionInvalidSales, store.Query{})
	if err != nil {
		return nil, eris.Wrap(err, "kpi: load diagnostics")
	}
	return rows, nil
}

// FilterTotals keeps totals whose subtype is in the given set.
func FilterTotals(totals []series.Total, subtypes ...model.Subtype) []series.Total {
	var out []series.Total
	for _, t := range totals {
		for _, st := range subtypes {
			if t.Subtype == st {
				out = append(out, t)
				break
			}
		}
	}
	return out
}

func dropSubtype(rows []model.Record, st model.Subtype) []model.Record {
	out := rows[:0:0]
	for _, r := range rows {
		if r.Subtype != st {
			out = append(out, r)
		}
	}
	return out
}
