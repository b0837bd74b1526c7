package projectapi

import (
	"strings"
	"time"
)

// Date accepts the upstream's two date encodings: plain "2006-01-02"
// and full RFC 3339 timestamps.
type Date struct {
	time.Time
}

func (d *Date) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		d.Time = time.Time{}
		return nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		d.Time = t.UTC()
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return err
	}
	d.Time = t.UTC()
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + d.UTC().Format("2006-01-02") + `"`), nil
}

// GUIDRef is a bare reference to another entity.
type GUIDRef struct {
	GUID string `json:"guid"`
}

// NamedRef is a reference carrying a display name.
type NamedRef struct {
	GUID      string `json:"guid"`
	Name      string `json:"name"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// Money is an amount in the tenant currency.
type Money struct {
	Amount float64 `json:"amount"`
}

// Keyword tags a sales case.
type Keyword struct {
	Name string `json:"name"`
}

// BusinessUnit is an organizational unit users and projects belong to.
type BusinessUnit struct {
	GUID string `json:"guid"`
	Name string `json:"name"`
}

// User is an active person in the tenant.
type User struct {
	GUID         string       `json:"guid"`
	FirstName    string       `json:"firstName"`
	LastName     string       `json:"lastName"`
	BusinessUnit BusinessUnit `json:"businessUnit"`
	WorkContract WorkContract `json:"workContract"`
}

// WorkContract is one contract period of a user.
type WorkContract struct {
	StartDate  *Date   `json:"startDate"`
	EndDate    *Date   `json:"endDate"`
	DailyHours float64 `json:"dailyHours"`
	HourCost   Money   `json:"hourCost"`
}

// Activity is a calendar entry; the pipeline consumes the absence
// category only.
type Activity struct {
	GUID          string    `json:"guid"`
	OwnerUser     GUIDRef   `json:"ownerUser"`
	StartDateTime time.Time `json:"startDateTime"`
	EndDateTime   time.Time `json:"endDateTime"`
	IsAllDay      bool      `json:"isAllDay"`
	ActivityType  GUIDRef   `json:"activityType"`
}

// WorkHour is a realized, reported hour entry.
type WorkHour struct {
	GUID         string  `json:"guid"`
	Quantity     float64 `json:"quantity"`
	EventDate    Date    `json:"eventDate"`
	Project      GUIDRef `json:"project"`
	Phase        GUIDRef `json:"phase"`
	IsProductive bool    `json:"isProductive"`
}

// ResourceAllocation is planned future work for a user.
type ResourceAllocation struct {
	GUID                      string         `json:"guid"`
	CalculatedAllocationHours float64        `json:"calculatedAllocationHours"`
	DerivedStartDate          Date           `json:"derivedStartDate"`
	DerivedEndDate            Date           `json:"derivedEndDate"`
	Project                   ProjectSummary `json:"project"`
	Phase                     GUIDRef        `json:"phase"`
}

// ProjectSummary is the embedded project reference on allocations.
type ProjectSummary struct {
	GUID       string `json:"guid"`
	IsInternal bool   `json:"isInternal"`
}

// Invoice is a sent invoice; realized billing.
type Invoice struct {
	GUID              string    `json:"guid"`
	TotalExcludingTax Money     `json:"totalExcludingTax"`
	Projects          []GUIDRef `json:"projects"`
	Date              Date      `json:"date"`
	Status            GUIDRef   `json:"status"`
}

// ProjectForecast is a per-month forecast row of a project.
type ProjectForecast struct {
	GUID                 string  `json:"guid"`
	Year                 int     `json:"year"`
	Month                int     `json:"month"`
	Project              GUIDRef `json:"project"`
	BillingForecast      *Money  `json:"billingForecast"`
	ExpenseForecast      *Money  `json:"expenseForecast"`
	RevenueForecast      *Money  `json:"revenueForecast"`
	LaborExpenseForecast *Money  `json:"laborExpenseForecast"`
}

// Project is a project or open sales case.
type Project struct {
	GUID              string       `json:"guid"`
	Name              string       `json:"name"`
	IsClosed          bool         `json:"isClosed"`
	IsInternal        bool         `json:"isInternal"`
	ExpectedOrderDate *Date        `json:"expectedOrderDate"`
	ExpectedValue     *Money       `json:"expectedValue"`
	Probability       *float64     `json:"probability"`
	Deadline          *Date        `json:"deadline"`
	Keywords          []Keyword    `json:"keywords"`
	SalesPerson       NamedRef     `json:"salesPerson"`
	ProjectOwner      NamedRef     `json:"projectOwner"`
	BusinessUnit      BusinessUnit `json:"businessUnit"`
}

// Phase is a project phase with hierarchy info.
type Phase struct {
	GUID              string   `json:"guid"`
	Name              string   `json:"name"`
	WorkHoursEstimate *float64 `json:"workHoursEstimate"`
	StartDate         *Date    `json:"startDate"`
	Deadline          *Date    `json:"deadline"`
	HasChildren       bool     `json:"hasChildren"`
	Project           GUIDRef  `json:"project"`
}
