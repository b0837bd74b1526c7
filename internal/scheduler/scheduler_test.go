package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDaily_Next(t *testing.T) {
	d := Daily{Hour: 2, Minute: 30}

	before := time.Date(2024, 3, 13, 1, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 13, 2, 30, 0, 0, time.UTC), d.Next(before))

	after := time.Date(2024, 3, 13, 3, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 14, 2, 30, 0, 0, time.UTC), d.Next(after))

	// Exactly at fire time rolls to the next day.
	at := time.Date(2024, 3, 13, 2, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 14, 2, 30, 0, 0, time.UTC), d.Next(at))
}

func TestWeekly_Next(t *testing.T) {
	w := Weekly{Weekday: time.Monday, Hour: 8, Minute: 0}

	// 2024-03-13 is a Wednesday.
	wed := time.Date(2024, 3, 13, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 18, 8, 0, 0, 0, time.UTC), w.Next(wed))

	// Monday before fire time fires the same day.
	monEarly := time.Date(2024, 3, 18, 7, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 18, 8, 0, 0, 0, time.UTC), w.Next(monEarly))

	// Monday after fire time waits a full week.
	monLate := time.Date(2024, 3, 18, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 25, 8, 0, 0, 0, time.UTC), w.Next(monLate))
}

// immediate fires right away on every iteration.
type immediate struct{}

func (immediate) Next(after time.Time) time.Time { return after.Add(10 * time.Millisecond) }
func (immediate) String() string                 { return "immediately" }

func TestRunner_RunsAndRecordsStatus(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ran := make(chan struct{}, 1)
	r := NewRunner()
	r.Add(Job{
		Name:     "snapshot",
		Schedule: immediate{},
		Run: func(ctx context.Context) error {
			select {
			case ran <- struct{}{}:
			default:
			}
			return nil
		},
	})

	assert.False(t, r.Started())
	r.Start(ctx)
	assert.True(t, r.Started())

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("job never ran")
	}

	require.Eventually(t, func() bool {
		st := r.Status()
		return len(st) == 1 && st[0].Runs >= 1 && st[0].LastErr == ""
	}, 2*time.Second, 10*time.Millisecond)

	st := r.Status()
	assert.Equal(t, "snapshot", st[0].Name)
	assert.Equal(t, "immediately", st[0].Schedule)
}

func TestRunner_SurvivesErrorsAndPanics(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := NewRunner()
	r.Add(
		Job{Name: "failing", Schedule: immediate{}, Run: func(ctx context.Context) error {
			return errors.New("upstream down")
		}},
		Job{Name: "panicking", Schedule: immediate{}, Run: func(ctx context.Context) error {
			panic("boom")
		}},
	)
	r.Start(ctx)

	require.Eventually(t, func() bool {
		for _, js := range r.Status() {
			if js.Runs < 2 {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)

	for _, js := range r.Status() {
		assert.NotEmpty(t, js.LastErr, js.Name)
	}
}
