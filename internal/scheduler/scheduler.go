// Package scheduler runs in-process recurring jobs, one goroutine per
// job. Job failures and panics are logged, never fatal.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Schedule yields the next run time strictly after the given instant.
type Schedule interface {
	Next(after time.Time) time.Time
	String() string
}

// Daily fires every day at the given UTC wall-clock time.
type Daily struct {
	Hour   int
	Minute int
}

func (d Daily) Next(after time.Time) time.Time {
	after = after.UTC()
	next := time.Date(after.Year(), after.Month(), after.Day(), d.Hour, d.Minute, 0, 0, time.UTC)
	if !next.After(after) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (d Daily) String() string {
	return fmt.Sprintf("daily at %02d:%02d UTC", d.Hour, d.Minute)
}

// Weekly fires once a week on the given weekday at the given UTC time.
type Weekly struct {
	Weekday time.Weekday
	Hour    int
	Minute  int
}

func (w Weekly) Next(after time.Time) time.Time {
	after = after.UTC()
	next := time.Date(after.Year(), after.Month(), after.Day(), w.Hour, w.Minute, 0, 0, time.UTC)
	for next.Weekday() != w.Weekday || !next.After(after) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (w Weekly) String() string {
	return fmt.Sprintf("weekly on %s at %02d:%02d UTC", w.Weekday, w.Hour, w.Minute)
}

// Job is one recurring task.
type Job struct {
	Name     string
	Schedule Schedule
	Run      func(ctx context.Context) error
}

// JobStatus is a point-in-time view of one job for introspection.
type JobStatus struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	NextRun  time.Time `json:"next_run"`
	LastRun  time.Time `json:"last_run,omitempty"`
	LastErr  string    `json:"last_error,omitempty"`
	Runs     int       `json:"runs"`
}

type jobState struct {
	job     Job
	nextRun time.Time
	lastRun time.Time
	lastErr string
	runs    int
}

// Runner owns a set of jobs and their goroutines.
type Runner struct {
	mu      sync.Mutex
	jobs    []*jobState
	started bool
}

func NewRunner() *Runner {
	return &Runner{}
}

// Add registers jobs. Must be called before Start.
func (r *Runner) Add(jobs ...Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range jobs {
		r.jobs = append(r.jobs, &jobState{job: j})
	}
}

// Start launches one goroutine per job and returns. The goroutines
// stop when ctx is cancelled.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	r.started = true
	jobs := r.jobs
	r.mu.Unlock()

	for _, js := range jobs {
		go r.loop(ctx, js)
	}
}

func (r *Runner) loop(ctx context.Context, js *jobState) {
	log := zap.L().With(zap.String("job", js.job.Name))
	for {
		next := js.job.Schedule.Next(time.Now().UTC())
		r.mu.Lock()
		js.nextRun = next
		r.mu.Unlock()

		delay := time.Until(next)
		log.Debug("scheduler: sleeping until next run",
			zap.Time("next", next), zap.Duration("delay", delay))

		select {
		case <-ctx.Done():
			log.Debug("scheduler: job stopped")
			return
		case <-time.After(delay):
		}

		err := r.runOnce(ctx, js.job)

		r.mu.Lock()
		js.lastRun = time.Now().UTC()
		js.runs++
		if err != nil {
			js.lastErr = err.Error()
		} else {
			js.lastErr = ""
		}
		r.mu.Unlock()

		if err != nil {
			log.Error("scheduler: job failed", zap.Error(err))
		} else {
			log.Info("scheduler: job done")
		}
	}
}

// runOnce executes the job, converting a panic into an error so a bad
// job cannot take the process down.
func (r *Runner) runOnce(ctx context.Context, job Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v\n%s", rec, debug.Stack())
		}
	}()
	return job.Run(ctx)
}

// Started reports whether Start has been called.
func (r *Runner) Started() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

// Status snapshots every job for the HTTP status endpoint.
func (r *Runner) Status() []JobStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]JobStatus, 0, len(r.jobs))
	for _, js := range r.jobs {
		out = append(out, JobStatus{
			Name:     js.job.Name,
			Schedule: js.job.Schedule.String(),
			NextRun:  js.nextRun,
			LastRun:  js.lastRun,
			LastErr:  js.lastErr,
			Runs:     js.runs,
		})
	}
	return out
}
