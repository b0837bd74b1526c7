package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Kind identifies an entity family handled by the reporting pipeline.
type Kind string

const (
	KindHours   Kind = "hours"
	KindBilling Kind = "billing"
	KindSales   Kind = "sales"
	KindUsers   Kind = "users"
)

// Subtype is the row-level record category within a kind (the "id" column
// of the source system).
type Subtype string

const (
	SubtypeWorkhours  Subtype = "workhours"
	SubtypeAbsences   Subtype = "absences"
	SubtypeSaleswork  Subtype = "saleswork"
	SubtypeBilling    Subtype = "billing"
	SubtypeSalesvalue Subtype = "salesvalue"
	SubtypeMaximum    Subtype = "maximum"
	SubtypeHourCost   Subtype = "hour_cost"
)

// Record is one row of source data: either a realized point-in-time value
// (Date set), a forecast span (StartDate/EndDate set), or a contract-scope
// row with no dates at all, whose span defaults to the full query window.
// Kind-specific fields ride along through unravel and cull untouched.
type Record struct {
	IdentityKey  string     `json:"_id,omitempty"`
	Kind         Kind       `json:"kind,omitempty"`
	Subtype      Subtype    `json:"id"`
	User         string     `json:"user,omitempty"`
	Value        float64    `json:"value"`
	Date         *time.Time `json:"date,omitempty"`
	StartDate    *time.Time `json:"start_date,omitempty"`
	EndDate      *time.Time `json:"end_date,omitempty"`
	ForecastDate *time.Time `json:"forecast_date,omitempty"`
	InternalGUID string     `json:"internal_guid,omitempty"`

	// Hours
	Project      string `json:"project,omitempty"`
	Phase        string `json:"phase,omitempty"`
	ActivityType string `json:"activity_type,omitempty"`
	Productive   *bool  `json:"productive,omitempty"`

	// Billing
	Billing      float64 `json:"billing,omitempty"`
	Expense      float64 `json:"expense,omitempty"`
	Revenue      float64 `json:"revenue,omitempty"`
	LaborExpense float64 `json:"labor_expense,omitempty"`

	// Sales
	SoldBy string `json:"sold_by,omitempty"`

	// Users
	FirstName    string `json:"first_name,omitempty"`
	LastName     string `json:"last_name,omitempty"`
	BusinessUnit string `json:"business_unit,omitempty"`
}

// IsRealized reports whether the record is a realized point-in-time item:
// neither span endpoint is set. Realized history is never culled.
func (r Record) IsRealized() bool {
	return r.StartDate == nil && r.EndDate == nil
}

// HasSpan reports whether both span endpoints are set.
func (r Record) HasSpan() bool {
	return r.StartDate != nil && r.EndDate != nil
}

// ComputeIdentityKey derives the stable upsert key from the source GUID,
// the subtype and the forecast as-of date. Re-fetching the same forecast on
// the same day yields the same key, so an upsert replaces in place; a new
// forecast date yields a new row.
func ComputeIdentityKey(guid string, subtype Subtype, forecastDate *time.Time) string {
	fd := ""
	if forecastDate != nil {
		fd = forecastDate.UTC().Format("2006-01-02")
	}
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%s", guid, subtype, fd))
	return hex.EncodeToString(sum[:16])
}

// Stamp sets the forecast as-of date and the identity key on every record
// in place. Records without a source GUID keep an empty identity key and
// are inserted, never replaced.
func Stamp(rows []Record, forecastDate time.Time) {
	fd := forecastDate.UTC()
	fd = time.Date(fd.Year(), fd.Month(), fd.Day(), 0, 0, 0, 0, time.UTC)
	for i := range rows {
		rows[i].ForecastDate = &fd
		if rows[i].InternalGUID != "" {
			rows[i].IdentityKey = ComputeIdentityKey(rows[i].InternalGUID, rows[i].Subtype, &fd)
		}
	}
}

// Frame is a processed batch of rows together with the set of subtype
// categories the batch may hold. Concatenation unions the category sets so
// no batch silently loses a category it was declared with.
type Frame struct {
	Rows     []Record
	Subtypes []Subtype
}

// HasSubtype reports whether the frame's category set contains s.
func (f Frame) HasSubtype(s Subtype) bool {
	for _, st := range f.Subtypes {
		if st == s {
			return true
		}
	}
	return false
}
