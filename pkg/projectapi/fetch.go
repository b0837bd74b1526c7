package projectapi

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tietoa/kpi-cli/internal/calendar"
	"github.com/tietoa/kpi-cli/internal/model"
	"github.com/tietoa/kpi-cli/internal/timespan"
)

// defaultCacheTTL bounds how long project and sales listings are reused
// between fetches.
const defaultCacheTTL = time.Hour

// Invalid-sales diagnostic categories.
const (
	DiagMissingOrderDate     model.Subtype = "missing_order_date"
	DiagOrderDateInPast      model.Subtype = "order_date_in_past"
	DiagMissingValue         model.Subtype = "missing_value"
	DiagMissingProbability   model.Subtype = "missing_probability"
	DiagMissingDeadline      model.Subtype = "missing_deadline"
	DiagMissingKeywords      model.Subtype = "missing_keywords"
	DiagMissingEstimate      model.Subtype = "missing_estimate"
	DiagMissingPhase         model.Subtype = "missing_phase"
	DiagMissingPhaseDeadline model.Subtype = "missing_phase_deadline"
	DiagMissingPhaseEstimate model.Subtype = "missing_phase_estimate"
)

// minEstimateSum is the threshold under which a sales case counts as
// having no work estimate at all.
const minEstimateSum = 0.5

// FetchConfig selects what slice of the tenant the fetcher reads.
type FetchConfig struct {
	// BusinessUnits limits users and projects to these unit GUIDs.
	BusinessUnits []string
	// OfferStatuses are the open sales case status GUIDs.
	OfferStatuses []string
	// OrderStatus is the won-deal status GUID used for project listings.
	OrderStatus string
	// FilteredKeywords drops sales cases tagged with any of these.
	FilteredKeywords []string
	// CacheTTL overrides the project/sales listing cache lifetime.
	CacheTTL time.Duration
}

type projectCache struct {
	mu      sync.Mutex
	byGUID  map[string]Project
	fetched time.Time
}

type salesCache struct {
	mu      sync.Mutex
	rows    []model.Record
	invalid []model.Record
	fetched time.Time
}

// Fetcher turns upstream API entities into record batches, splitting
// each query window into a realized past half and a forecast future
// half.
type Fetcher struct {
	api *Client
	cal calendar.Oracle
	cfg FetchConfig

	userMu  sync.Mutex
	users   []User
	userIdx map[string]User

	projects projectCache
	sales    salesCache
}

// NewFetcher wires a fetcher over an authenticated client.
func NewFetcher(api *Client, cal calendar.Oracle, cfg FetchConfig) *Fetcher {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	return &Fetcher{api: api, cal: cal, cfg: cfg}
}

func spanParams(span timespan.DateRange) url.Values {
	params := url.Values{}
	params.Set("startDate", span.Start().Format("2006-01-02"))
	params.Set("endDate", span.End().Format("2006-01-02"))
	return params
}

// Users returns the active users of the configured business units,
// fetched once per fetcher lifetime.
func (f *Fetcher) Users(ctx context.Context) ([]User, error) {
	f.userMu.Lock()
	defer f.userMu.Unlock()

	if f.users != nil {
		return f.users, nil
	}

	params := url.Values{}
	params.Set("isActive", "true")
	for _, bu := range f.cfg.BusinessUnits {
		params.Add("businessUnitGuids", bu)
	}
	users, err := GetAll[User](ctx, f.api, "users", params)
	if err != nil {
		return nil, eris.Wrap(err, "fetch users")
	}

	f.users = users
	f.userIdx = make(map[string]User, len(users))
	for _, u := range users {
		f.userIdx[u.GUID] = u
	}
	zap.L().Debug("projectapi: fetched users", zap.Int("count", len(users)))
	return f.users, nil
}

func (f *Fetcher) userByGUID(guid string) (User, bool) {
	f.userMu.Lock()
	defer f.userMu.Unlock()
	u, ok := f.userIdx[guid]
	return u, ok
}

// FetchHours collects the hours kind for span: absences over the whole
// window, realized work hours for the past half, allocations and sales
// work for the future half.
func (f *Fetcher) FetchHours(ctx context.Context, span timespan.DateRange) ([]model.Record, error) {
	if span.IsEmpty() {
		return nil, nil
	}

	users, err := f.Users(ctx)
	if err != nil {
		return nil, err
	}

	past, future := span.Cut(time.Now().UTC())

	var (
		mu   sync.Mutex
		rows []model.Record
	)
	collect := func(batch []model.Record) {
		mu.Lock()
		rows = append(rows, batch...)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		batch, err := f.fetchAbsences(gctx, span)
		if err != nil {
			return err
		}
		collect(batch)
		return nil
	})
	if !past.IsEmpty() {
		for _, u := range users {
			g.Go(func() error {
				batch, err := f.fetchRealizedWorkhours(gctx, u, past)
				if err != nil {
					return err
				}
				collect(batch)
				return nil
			})
		}
	}
	if !future.IsEmpty() {
		for _, u := range users {
			g.Go(func() error {
				batch, err := f.fetchForecastWorkhours(gctx, u, future)
				if err != nil {
					return err
				}
				collect(batch)
				return nil
			})
		}
		g.Go(func() error {
			all, err := f.fetchSalesRows(gctx)
			if err != nil {
				return err
			}
			var work []model.Record
			for _, r := range all {
				if r.Subtype == model.SubtypeSaleswork {
					work = append(work, r)
				}
			}
			collect(work)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	model.Stamp(rows, time.Now().UTC())
	return rows, nil
}

func (f *Fetcher) fetchAbsences(ctx context.Context, span timespan.DateRange) ([]model.Record, error) {
	users, err := f.Users(ctx)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("activityCategories", "Absences")
	params.Set("startDateTime", span.Start().Format(time.RFC3339))
	params.Set("endDateTime", span.End().Add(24*time.Hour-time.Second).Format(time.RFC3339))
	for _, u := range users {
		params.Add("userGuids", u.GUID)
	}

	activities, err := GetAll[Activity](ctx, f.api, "activities", params)
	if err != nil {
		return nil, eris.Wrap(err, "fetch absences")
	}

	var rows []model.Record
	for _, a := range activities {
		startDay := dayOf(a.StartDateTime)
		endDay := dayOf(a.EndDateTime)
		singleDay := startDay.Equal(endDay)

		value := a.EndDateTime.Sub(a.StartDateTime).Hours()
		if a.IsAllDay {
			// All-day entries span midnight to midnight; size them by
			// the owner's contract hours over working days instead.
			daily := 0.0
			if u, ok := f.userByGUID(a.OwnerUser.GUID); ok {
				daily = u.WorkContract.DailyHours
			}
			if singleDay {
				if f.cal.IsWorkingDay(startDay) {
					value = daily
				} else {
					value = 0
				}
			} else {
				value = daily * float64(f.cal.WorkingDaysBetween(startDay, endDay))
			}
		}
		if value <= 0 {
			continue
		}

		rec := model.Record{
			Subtype:      model.SubtypeAbsences,
			User:         a.OwnerUser.GUID,
			Value:        value,
			ActivityType: a.ActivityType.GUID,
			InternalGUID: a.GUID,
		}
		if singleDay {
			rec.Date = &startDay
		} else {
			rec.StartDate = &startDay
			rec.EndDate = &endDay
		}
		rows = append(rows, rec)
	}
	return rows, nil
}

func (f *Fetcher) fetchRealizedWorkhours(ctx context.Context, u User, span timespan.DateRange) ([]model.Record, error) {
	hours, err := GetAll[WorkHour](ctx, f.api, fmt.Sprintf("users/%s/workhours", u.GUID), spanParams(span))
	if err != nil {
		return nil, eris.Wrap(err, "fetch workhours")
	}

	rows := make([]model.Record, 0, len(hours))
	for _, h := range hours {
		day := dayOf(h.EventDate.Time)
		productive := h.IsProductive
		rows = append(rows, model.Record{
			Subtype:      model.SubtypeWorkhours,
			User:         u.GUID,
			Value:        h.Quantity,
			Date:         &day,
			Project:      h.Project.GUID,
			Phase:        h.Phase.GUID,
			Productive:   &productive,
			InternalGUID: h.GUID,
		})
	}
	return rows, nil
}

func (f *Fetcher) fetchForecastWorkhours(ctx context.Context, u User, span timespan.DateRange) ([]model.Record, error) {
	allocs, err := GetAll[ResourceAllocation](ctx, f.api,
		fmt.Sprintf("users/%s/resourceallocations/allocations", u.GUID), spanParams(span))
	if err != nil {
		return nil, eris.Wrap(err, "fetch allocations")
	}

	rows := make([]model.Record, 0, len(allocs))
	for _, a := range allocs {
		start := dayOf(a.DerivedStartDate.Time)
		end := dayOf(a.DerivedEndDate.Time)
		productive := !a.Project.IsInternal
		rows = append(rows, model.Record{
			Subtype:      model.SubtypeWorkhours,
			User:         u.GUID,
			Value:        a.CalculatedAllocationHours,
			StartDate:    &start,
			EndDate:      &end,
			Project:      a.Project.GUID,
			Phase:        a.Phase.GUID,
			Productive:   &productive,
			InternalGUID: a.GUID,
		})
	}
	return rows, nil
}

// FetchBilling collects the billing kind: invoices for the past half,
// per-project monthly forecasts for the future half. Rows are owned by
// the project owner.
func (f *Fetcher) FetchBilling(ctx context.Context, span timespan.DateRange) ([]model.Record, error) {
	if span.IsEmpty() {
		return nil, nil
	}

	projects, err := f.fetchProjects(ctx)
	if err != nil {
		return nil, err
	}

	past, future := span.Cut(time.Now().UTC())

	var (
		mu   sync.Mutex
		rows []model.Record
	)
	g, gctx := errgroup.WithContext(ctx)
	if !past.IsEmpty() {
		g.Go(func() error {
			batch, err := f.fetchInvoices(gctx, past)
			if err != nil {
				return err
			}
			mu.Lock()
			rows = append(rows, batch...)
			mu.Unlock()
			return nil
		})
	}
	if !future.IsEmpty() {
		for _, p := range projects {
			if p.IsClosed || p.IsInternal {
				continue
			}
			g.Go(func() error {
				batch, err := f.fetchProjectForecasts(gctx, p, future)
				if err != nil {
					return err
				}
				mu.Lock()
				rows = append(rows, batch...)
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i := range rows {
		if p, ok := projects[rows[i].Project]; ok {
			rows[i].User = p.ProjectOwner.GUID
		} else {
			rows[i].User = "CACHE_MISS"
		}
	}
	model.Stamp(rows, time.Now().UTC())
	return rows, nil
}

func (f *Fetcher) fetchInvoices(ctx context.Context, span timespan.DateRange) ([]model.Record, error) {
	params := spanParams(span)
	for _, bu := range f.cfg.BusinessUnits {
		params.Add("projectBusinessUnitGuids", bu)
	}
	invoices, err := GetAll[Invoice](ctx, f.api, "invoices", params)
	if err != nil {
		return nil, eris.Wrap(err, "fetch invoices")
	}
	if len(invoices) == 0 {
		zap.L().Warn("projectapi: no invoices in span", zap.String("span", span.String()))
	}

	rows := make([]model.Record, 0, len(invoices))
	for _, inv := range invoices {
		if len(inv.Projects) == 0 {
			continue
		}
		day := dayOf(inv.Date.Time)
		rows = append(rows, model.Record{
			Subtype:      model.SubtypeBilling,
			Value:        inv.TotalExcludingTax.Amount,
			Date:         &day,
			Project:      inv.Projects[0].GUID,
			InternalGUID: inv.GUID,
		})
	}
	return rows, nil
}

func (f *Fetcher) fetchProjectForecasts(ctx context.Context, p Project, span timespan.DateRange) ([]model.Record, error) {
	forecasts, err := GetAll[ProjectForecast](ctx, f.api,
		fmt.Sprintf("projects/%s/projectforecasts", p.GUID), spanParams(span))
	if err != nil {
		return nil, eris.Wrap(err, "fetch project forecasts")
	}

	var rows []model.Record
	for _, fc := range forecasts {
		billing := amount(fc.BillingForecast)
		expense := amount(fc.ExpenseForecast)
		revenue := amount(fc.RevenueForecast)
		labor := amount(fc.LaborExpenseForecast)
		if billing+expense+revenue+labor == 0 {
			continue
		}

		monthStart := time.Date(fc.Year, time.Month(fc.Month), 1, 0, 0, 0, 0, time.UTC)
		monthEnd := monthStart.AddDate(0, 1, -1)
		rows = append(rows, model.Record{
			Subtype:      model.SubtypeBilling,
			Value:        billing,
			StartDate:    &monthStart,
			EndDate:      &monthEnd,
			Project:      fc.Project.GUID,
			Billing:      billing,
			Expense:      expense,
			Revenue:      revenue,
			LaborExpense: labor,
			InternalGUID: fc.GUID,
		})
	}
	return rows, nil
}

// FetchSales collects the sales kind: won expected-order dates inside
// the past half, open sales-case values for the future half.
func (f *Fetcher) FetchSales(ctx context.Context, span timespan.DateRange) ([]model.Record, error) {
	if span.IsEmpty() {
		return nil, nil
	}

	past, future := span.Cut(time.Now().UTC())

	var rows []model.Record
	if !past.IsEmpty() {
		projects, err := f.fetchProjects(ctx)
		if err != nil {
			return nil, err
		}
		for _, p := range projects {
			if p.ExpectedOrderDate == nil || !past.Contains(p.ExpectedOrderDate.Time) {
				continue
			}
			day := dayOf(p.ExpectedOrderDate.Time)
			rows = append(rows, model.Record{
				Subtype:      model.SubtypeSalesvalue,
				User:         p.ProjectOwner.GUID,
				SoldBy:       p.SalesPerson.GUID,
				Value:        amount(p.ExpectedValue),
				Date:         &day,
				Project:      p.GUID,
				InternalGUID: p.GUID,
			})
		}
	}
	if !future.IsEmpty() {
		all, err := f.fetchSalesRows(ctx)
		if err != nil {
			return nil, err
		}
		for _, r := range all {
			if r.Subtype == model.SubtypeSalesvalue {
				rows = append(rows, r)
			}
		}
	}

	model.Stamp(rows, time.Now().UTC())
	return rows, nil
}

// FetchUserContracts collects the users kind: one maximum-hours row and
// one hour-cost row per work contract period.
func (f *Fetcher) FetchUserContracts(ctx context.Context) ([]model.Record, error) {
	users, err := f.Users(ctx)
	if err != nil {
		return nil, err
	}

	var (
		mu   sync.Mutex
		rows []model.Record
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, u := range users {
		g.Go(func() error {
			contracts, err := GetAll[WorkContract](gctx, f.api,
				fmt.Sprintf("users/%s/workcontracts", u.GUID), nil)
			if err != nil {
				return eris.Wrap(err, "fetch work contracts")
			}

			var batch []model.Record
			for _, wc := range contracts {
				base := model.Record{
					User:         u.GUID,
					FirstName:    u.FirstName,
					LastName:     u.LastName,
					BusinessUnit: u.BusinessUnit.GUID,
				}
				if wc.StartDate != nil && !wc.StartDate.IsZero() {
					d := dayOf(wc.StartDate.Time)
					base.StartDate = &d
					base.InternalGUID = u.GUID + "/" + wc.StartDate.Format("2006-01-02")
				} else {
					base.InternalGUID = u.GUID + "/contract"
				}
				if wc.EndDate != nil && !wc.EndDate.IsZero() {
					d := dayOf(wc.EndDate.Time)
					base.EndDate = &d
				}

				maxRow := base
				maxRow.Subtype = model.SubtypeMaximum
				maxRow.Value = wc.DailyHours

				costRow := base
				costRow.Subtype = model.SubtypeHourCost
				costRow.Value = wc.HourCost.Amount

				batch = append(batch, maxRow, costRow)
			}
			mu.Lock()
			rows = append(rows, batch...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	model.Stamp(rows, time.Now().UTC())
	return rows, nil
}

// InvalidSales returns the diagnostics collected during the latest
// sales listing fetch.
func (f *Fetcher) InvalidSales(ctx context.Context) ([]model.Record, error) {
	if _, err := f.fetchSalesRows(ctx); err != nil {
		return nil, err
	}
	f.sales.mu.Lock()
	defer f.sales.mu.Unlock()
	return f.sales.invalid, nil
}

// fetchProjects lists won projects keyed by GUID, cached for CacheTTL.
func (f *Fetcher) fetchProjects(ctx context.Context) (map[string]Project, error) {
	f.projects.mu.Lock()
	defer f.projects.mu.Unlock()

	if f.projects.byGUID != nil && time.Since(f.projects.fetched) < f.cfg.CacheTTL {
		return f.projects.byGUID, nil
	}

	params := url.Values{}
	for _, bu := range f.cfg.BusinessUnits {
		params.Add("businessUnitGuids", bu)
	}
	if f.cfg.OrderStatus != "" {
		params.Set("salesStatusTypeGuids", f.cfg.OrderStatus)
	}
	projects, err := GetAll[Project](ctx, f.api, "projects", params)
	if err != nil {
		return nil, eris.Wrap(err, "fetch projects")
	}

	byGUID := make(map[string]Project, len(projects))
	for _, p := range projects {
		byGUID[p.GUID] = p
	}
	f.projects.byGUID = byGUID
	f.projects.fetched = time.Now()
	zap.L().Debug("projectapi: refreshed project cache", zap.Int("count", len(projects)))
	return byGUID, nil
}

// fetchSalesRows lists open sales cases and explodes each into expected
// value and expected work rows, cached for CacheTTL. Diagnostics for
// incomplete cases are collected as a side product.
func (f *Fetcher) fetchSalesRows(ctx context.Context) ([]model.Record, error) {
	f.sales.mu.Lock()
	if f.sales.rows != nil && time.Since(f.sales.fetched) < f.cfg.CacheTTL {
		defer f.sales.mu.Unlock()
		return f.sales.rows, nil
	}
	f.sales.mu.Unlock()

	params := url.Values{}
	params.Set("isClosed", "false")
	for _, bu := range f.cfg.BusinessUnits {
		params.Add("businessUnitGuids", bu)
	}
	for _, st := range f.cfg.OfferStatuses {
		params.Add("salesStatusTypeGuids", st)
	}
	sales, err := GetAll[Project](ctx, f.api, "salescases", params)
	if err != nil {
		return nil, eris.Wrap(err, "fetch sales cases")
	}

	var (
		mu      sync.Mutex
		rows    []model.Record
		invalid []model.Record
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, sale := range sales {
		g.Go(func() error {
			saleRows, saleInvalid, err := f.fetchSingleSale(gctx, sale)
			if err != nil {
				return err
			}
			mu.Lock()
			rows = append(rows, saleRows...)
			invalid = append(invalid, saleInvalid...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	f.sales.mu.Lock()
	f.sales.rows = rows
	f.sales.invalid = invalid
	f.sales.fetched = time.Now()
	f.sales.mu.Unlock()
	zap.L().Debug("projectapi: refreshed sales cache",
		zap.Int("rows", len(rows)), zap.Int("invalid", len(invalid)))
	return rows, nil
}

func (f *Fetcher) fetchSingleSale(ctx context.Context, sale Project) ([]model.Record, []model.Record, error) {
	for _, kw := range sale.Keywords {
		for _, filtered := range f.cfg.FilteredKeywords {
			if kw.Name == filtered {
				return nil, nil, nil
			}
		}
	}

	var invalid []model.Record
	diag := func(subtype model.Subtype, phaseName string) {
		invalid = append(invalid, model.Record{
			IdentityKey:  model.ComputeIdentityKey(sale.GUID+"/"+phaseName, subtype, nil),
			Subtype:      subtype,
			User:         sale.ProjectOwner.FirstName,
			SoldBy:       sale.SalesPerson.FirstName,
			Project:      sale.GUID,
			Phase:        phaseName,
			FirstName:    sale.Name,
			BusinessUnit: sale.BusinessUnit.Name,
		})
	}

	valueOK := true
	switch {
	case sale.ExpectedOrderDate == nil || sale.ExpectedOrderDate.IsZero():
		diag(DiagMissingOrderDate, "")
		valueOK = false
	case sale.ExpectedOrderDate.Before(dayOf(time.Now().UTC())):
		diag(DiagOrderDateInPast, "")
		valueOK = false
	}
	if sale.ExpectedValue == nil {
		diag(DiagMissingValue, "")
		valueOK = false
	}
	if sale.Probability == nil {
		diag(DiagMissingProbability, "")
		valueOK = false
	}
	if sale.Deadline == nil || sale.Deadline.IsZero() {
		diag(DiagMissingDeadline, "")
	}
	if len(sale.Keywords) == 0 {
		diag(DiagMissingKeywords, "")
	}

	phases, err := GetAll[Phase](ctx, f.api,
		fmt.Sprintf("projects/%s/phaseswithhierarchy", sale.GUID), nil)
	if err != nil {
		return nil, nil, eris.Wrap(err, "fetch sale phases")
	}

	probability := 0.0
	if sale.Probability != nil {
		probability = *sale.Probability
	}

	var rows []model.Record
	estimateSum := 0.0
	if len(phases) == 0 {
		diag(DiagMissingPhase, "")
	}
	for _, phase := range phases {
		if phase.WorkHoursEstimate != nil && *phase.WorkHoursEstimate > 0 &&
			phase.StartDate != nil && !phase.StartDate.IsZero() &&
			phase.Deadline != nil && !phase.Deadline.IsZero() {
			start := dayOf(phase.StartDate.Time)
			end := dayOf(phase.Deadline.Time)
			value := *phase.WorkHoursEstimate * probability / 100.0
			estimateSum += value
			productive := !sale.IsInternal
			rows = append(rows, model.Record{
				Subtype:      model.SubtypeSaleswork,
				User:         sale.ProjectOwner.GUID,
				SoldBy:       sale.SalesPerson.GUID,
				Value:        value,
				StartDate:    &start,
				EndDate:      &end,
				Project:      phase.Project.GUID,
				Phase:        phase.GUID,
				Productive:   &productive,
				InternalGUID: phase.GUID,
			})
			continue
		}

		// Only leaf phases report problems; parents aggregate children.
		if !phase.HasChildren {
			if phase.Deadline == nil || phase.Deadline.IsZero() {
				diag(DiagMissingPhaseDeadline, phase.Name)
			}
			if phase.WorkHoursEstimate == nil || *phase.WorkHoursEstimate <= 0 {
				diag(DiagMissingPhaseEstimate, phase.Name)
			}
		}
	}
	if estimateSum < minEstimateSum {
		diag(DiagMissingEstimate, "")
	}

	if valueOK {
		day := dayOf(sale.ExpectedOrderDate.Time)
		rows = append(rows, model.Record{
			Subtype:      model.SubtypeSalesvalue,
			User:         sale.ProjectOwner.GUID,
			SoldBy:       sale.SalesPerson.GUID,
			Value:        amount(sale.ExpectedValue) * probability / 100.0,
			Date:         &day,
			Project:      sale.GUID,
			InternalGUID: sale.GUID,
		})
	}
	return rows, invalid, nil
}

func amount(m *Money) float64 {
	if m == nil {
		return 0
	}
	return m.Amount
}

func dayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
