// Package scheduler provides cron-based scheduling for the proactive engine.
//
// It drives the periodic evaluation ticks and the local-midnight reset of
// daily check-in counters.
package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler in the given location.
// A nil location uses server local time.
func NewScheduler(loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	// Use standard 5-field cron parser (min, hour, dom, month, dow) and enable recovery
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithLocation(loc), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// AddMidnightJob schedules a task at 00:00 in the scheduler's location,
// used for the daily counter reset.
func (s *Scheduler) AddMidnightJob(task func()) error {
	return s.AddJob("0 0 * * *", task)
}

// AddEveryMinutes schedules a task on a fixed minute interval.
func (s *Scheduler) AddEveryMinutes(minutes int, task func()) error {
	s.cron.Schedule(cron.Every(time.Duration(minutes)*time.Minute), cron.FuncJob(task))
	return nil
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
