package timespan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestNew_SwapsReversedPair(t *testing.T) {
	t.Parallel()

	r := New(day("2023-05-15"), day("2023-05-10"))

	assert.Equal(t, day("2023-05-10"), r.Start())
	assert.Equal(t, day("2023-05-15"), r.End())
}

func TestNew_FloorsToMidnightUTC(t *testing.T) {
	t.Parallel()

	helsinki, err := time.LoadLocation("Europe/Helsinki")
	require.NoError(t, err)

	r := New(
		time.Date(2023, 5, 10, 18, 30, 0, 0, helsinki),
		time.Date(2023, 5, 15, 2, 0, 0, 0, time.UTC),
	)

	assert.Equal(t, day("2023-05-10"), r.Start())
	assert.Equal(t, time.UTC, r.Start().Location())
}

func TestDays(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 6, New(day("2023-05-10"), day("2023-05-15")).Days())
	assert.Equal(t, 1, Day(day("2023-05-10")).Days())
	assert.Equal(t, 0, Empty().Days())
}

func TestFromDays(t *testing.T) {
	t.Parallel()

	r := FromDays(day("2023-05-10"), 5)
	assert.Equal(t, day("2023-05-10"), r.Start())
	assert.Equal(t, day("2023-05-15"), r.End())

	back := FromDays(day("2023-05-10"), -3)
	assert.Equal(t, day("2023-05-07"), back.Start())
	assert.Equal(t, day("2023-05-10"), back.End())
}

func TestEqual_EmptyNeverEqualsNonEmpty(t *testing.T) {
	t.Parallel()

	span := New(day("2023-05-10"), day("2023-05-15"))

	assert.True(t, Empty().Equal(Empty()))
	assert.False(t, Empty().Equal(span))
	assert.False(t, span.Equal(Empty()))
	assert.True(t, span.Equal(New(day("2023-05-10"), day("2023-05-15"))))
}

func TestIntersect(t *testing.T) {
	t.Parallel()

	span := New(day("2023-05-10"), day("2023-05-15"))

	assert.True(t, span.Intersect(Empty()).IsEmpty())
	assert.True(t, Empty().Intersect(span).IsEmpty())

	overlap := span.Intersect(New(day("2023-05-13"), day("2023-05-20")))
	assert.Equal(t, day("2023-05-13"), overlap.Start())
	assert.Equal(t, day("2023-05-15"), overlap.End())

	assert.True(t, span.Intersect(New(day("2023-06-01"), day("2023-06-10"))).IsEmpty())
}

func TestContains(t *testing.T) {
	t.Parallel()

	span := New(day("2023-05-10"), day("2023-05-15"))

	assert.True(t, span.Contains(day("2023-05-10")))
	assert.True(t, span.Contains(day("2023-05-15")))
	assert.False(t, span.Contains(day("2023-05-16")))
	assert.False(t, Empty().Contains(day("2023-05-10")))
}

func TestCut_BeforeSpan(t *testing.T) {
	t.Parallel()

	span := New(day("2023-05-10"), day("2023-05-15"))
	past, future := span.Cut(day("2023-05-08"))

	assert.True(t, past.IsEmpty())
	assert.True(t, future.Equal(span))
}

func TestCut_AfterSpan(t *testing.T) {
	t.Parallel()

	span := New(day("2023-05-10"), day("2023-05-15"))
	past, future := span.Cut(day("2023-05-17"))

	assert.True(t, past.Equal(span))
	assert.True(t, future.IsEmpty())
}

func TestCut_InsideSpan_BoundaryDayInBothHalves(t *testing.T) {
	t.Parallel()

	span := New(day("2023-05-01"), day("2023-05-10"))
	past, future := span.Cut(day("2023-05-05"))

	// past.end = min(end, instant), future.start = max(start, instant).
	assert.Equal(t, day("2023-05-01"), past.Start())
	assert.Equal(t, day("2023-05-05"), past.End())
	assert.Equal(t, day("2023-05-05"), future.Start())
	assert.Equal(t, day("2023-05-10"), future.End())

	// A record dated exactly on the boundary is reachable via the past
	// fetch; the halves partition fetch strategies, not rows.
	assert.True(t, past.Contains(day("2023-05-05")))
}

func TestCut_AtSpanEdges(t *testing.T) {
	t.Parallel()

	span := New(day("2023-05-10"), day("2023-05-15"))

	past, future := span.Cut(day("2023-05-10"))
	assert.Equal(t, 1, past.Days())
	assert.True(t, future.Equal(span))

	past, future = span.Cut(day("2023-05-15"))
	assert.True(t, past.Equal(span))
	assert.Equal(t, 1, future.Days())
}

func TestCut_EmptyRange(t *testing.T) {
	t.Parallel()

	past, future := Empty().Cut(day("2023-05-10"))
	assert.True(t, past.IsEmpty())
	assert.True(t, future.IsEmpty())
}

func TestEachDay(t *testing.T) {
	t.Parallel()

	var got []time.Time
	New(day("2023-05-10"), day("2023-05-12")).EachDay(func(d time.Time) {
		got = append(got, d)
	})

	require.Len(t, got, 3)
	assert.Equal(t, day("2023-05-10"), got[0])
	assert.Equal(t, day("2023-05-12"), got[2])

	Empty().EachDay(func(time.Time) {
		t.Fatal("EachDay on empty range must not call fn")
	})
}

func TestString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "[2023-05-10 .. 2023-05-15]", New(day("2023-05-10"), day("2023-05-15")).String())
	assert.Equal(t, "[empty]", Empty().String())
}
