package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestFinland_Weekends(t *testing.T) {
	t.Parallel()

	fi := NewFinland()

	assert.False(t, fi.IsWorkingDay(date("2024-03-09"))) // Saturday
	assert.False(t, fi.IsWorkingDay(date("2024-03-10"))) // Sunday
	assert.True(t, fi.IsWorkingDay(date("2024-03-11")))  // Monday
}

func TestFinland_FixedHolidays(t *testing.T) {
	t.Parallel()

	fi := NewFinland()

	assert.False(t, fi.IsWorkingDay(date("2024-01-01"))) // New Year, Monday
	assert.False(t, fi.IsWorkingDay(date("2024-05-01"))) // May Day, Wednesday
	assert.False(t, fi.IsWorkingDay(date("2024-12-06"))) // Independence Day, Friday
	assert.False(t, fi.IsWorkingDay(date("2024-12-24"))) // Christmas Eve, Tuesday
	assert.False(t, fi.IsWorkingDay(date("2024-12-26"))) // St. Stephen's, Thursday
}

func TestFinland_EasterHolidays(t *testing.T) {
	t.Parallel()

	fi := NewFinland()

	// Easter 2024 fell on March 31.
	assert.False(t, fi.IsWorkingDay(date("2024-03-29"))) // Good Friday
	assert.False(t, fi.IsWorkingDay(date("2024-04-01"))) // Easter Monday
	assert.False(t, fi.IsWorkingDay(date("2024-05-09"))) // Ascension Day, Thursday
	assert.True(t, fi.IsWorkingDay(date("2024-03-28")))  // Maundy Thursday is a working day

	// Easter 2023 fell on April 9.
	assert.False(t, fi.IsWorkingDay(date("2023-04-07")))
	assert.False(t, fi.IsWorkingDay(date("2023-04-10")))
}

func TestFinland_Midsummer(t *testing.T) {
	t.Parallel()

	fi := NewFinland()

	// 2024: Midsummer Eve on Friday June 21.
	assert.False(t, fi.IsWorkingDay(date("2024-06-21")))
	assert.True(t, fi.IsWorkingDay(date("2024-06-20")))
}

func TestFinland_WorkingDaysBetween(t *testing.T) {
	t.Parallel()

	fi := NewFinland()

	// Plain Mon-Fri week without holidays.
	assert.Equal(t, 5, fi.WorkingDaysBetween(date("2024-03-04"), date("2024-03-08")))
	// Full week including the weekend.
	assert.Equal(t, 5, fi.WorkingDaysBetween(date("2024-03-04"), date("2024-03-10")))
	// Week containing May Day (Wednesday).
	assert.Equal(t, 4, fi.WorkingDaysBetween(date("2024-04-29"), date("2024-05-03")))
	// Single working day, inclusive of both endpoints.
	assert.Equal(t, 1, fi.WorkingDaysBetween(date("2024-03-04"), date("2024-03-04")))
	// Reversed span counts nothing.
	assert.Equal(t, 0, fi.WorkingDaysBetween(date("2024-03-08"), date("2024-03-04")))
	// A weekend-only span has zero working days.
	assert.Equal(t, 0, fi.WorkingDaysBetween(date("2024-03-09"), date("2024-03-10")))
}

func TestWeekdays(t *testing.T) {
	t.Parallel()

	wd := Weekdays{}

	assert.True(t, wd.IsWorkingDay(date("2024-01-01"))) // holiday, but a Monday
	assert.False(t, wd.IsWorkingDay(date("2024-01-06")))
	assert.Equal(t, 5, wd.WorkingDaysBetween(date("2024-01-01"), date("2024-01-07")))
}
