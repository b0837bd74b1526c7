// Package calendar classifies calendar days as working days for the
// regional calendars the reporting pipeline operates under.
package calendar

import (
	"sync"
	"time"
)

// Oracle answers working-day questions for a region. Implementations must
// be safe for concurrent use; the series engine calls them from multiple
// requests at once.
type Oracle interface {
	// IsWorkingDay reports whether the day of t is a weekday that is not
	// a public holiday.
	IsWorkingDay(t time.Time) bool

	// WorkingDaysBetween counts working days in [start, end], inclusive
	// of both endpoints. Returns 0 when end precedes start.
	WorkingDaysBetween(start, end time.Time) int
}

// Finland implements Oracle with the Finnish public holiday calendar.
// Holidays are computed per year on first use and cached.
type Finland struct {
	mu       sync.Mutex
	holidays map[int]map[time.Time]struct{}
}

// NewFinland returns a Finland calendar oracle.
func NewFinland() *Finland {
	return &Finland{holidays: make(map[int]map[time.Time]struct{})}
}

func dayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// IsWorkingDay reports whether the day of t is a Finnish working day.
func (f *Finland) IsWorkingDay(t time.Time) bool {
	d := dayOf(t)
	if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	_, holiday := f.yearHolidays(d.Year())[d]
	return !holiday
}

// WorkingDaysBetween counts Finnish working days in [start, end] inclusive.
func (f *Finland) WorkingDaysBetween(start, end time.Time) int {
	s, e := dayOf(start), dayOf(end)
	count := 0
	for d := s; !d.After(e); d = d.AddDate(0, 0, 1) {
		if f.IsWorkingDay(d) {
			count++
		}
	}
	return count
}

func (f *Finland) yearHolidays(year int) map[time.Time]struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()

	if hs, ok := f.holidays[year]; ok {
		return hs
	}

	hs := make(map[time.Time]struct{})
	add := func(t time.Time) { hs[t] = struct{}{} }
	fixed := func(month time.Month, day int) time.Time {
		return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	}

	add(fixed(time.January, 1))   // New Year's Day
	add(fixed(time.January, 6))   // Epiphany
	add(fixed(time.May, 1))       // May Day
	add(fixed(time.December, 6))  // Independence Day
	add(fixed(time.December, 24)) // Christmas Eve
	add(fixed(time.December, 25)) // Christmas Day
	add(fixed(time.December, 26)) // St. Stephen's Day

	easter := easterSunday(year)
	add(easter.AddDate(0, 0, -2)) // Good Friday
	add(easter)                   // Easter Sunday
	add(easter.AddDate(0, 0, 1))  // Easter Monday
	add(easter.AddDate(0, 0, 39)) // Ascension Day
	add(easter.AddDate(0, 0, 49)) // Whit Sunday

	// Midsummer Eve: the Friday between June 19 and June 25. Midsummer
	// Day is the following Saturday.
	for d := fixed(time.June, 19); d.Day() <= 25; d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Friday {
			add(d)
			add(d.AddDate(0, 0, 1))
			break
		}
	}

	// All Saints' Day: the Saturday between Oct 31 and Nov 6.
	for d := fixed(time.October, 31); ; d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday {
			add(d)
			break
		}
	}

	f.holidays[year] = hs
	return hs
}

// easterSunday computes Gregorian Easter Sunday (anonymous Gregorian
// algorithm).
func easterSunday(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

// Weekdays is an Oracle without any public holidays: every Monday through
// Friday is a working day. Useful for regions without a holiday table and
// in tests.
type Weekdays struct{}

func (Weekdays) IsWorkingDay(t time.Time) bool {
	wd := dayOf(t).Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

func (Weekdays) WorkingDaysBetween(start, end time.Time) int {
	s, e := dayOf(start), dayOf(end)
	count := 0
	for d := s; !d.After(e); d = d.AddDate(0, 0, 1) {
		if (Weekdays{}).IsWorkingDay(d) {
			count++
		}
	}
	return count
}
