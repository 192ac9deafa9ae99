/*
scheduler.go - Automated sweep scheduler

PURPOSE:
  Drives rental.Service.RunSweep from a cron expression so time-based
  transitions (overdue, auto-accept, reminders, expiry, renewal) happen
  without anyone calling the API.

DESIGN:
  - robfig/cron runs the job on its own goroutine
  - SkipIfStillRunning: a slow sweep is never overlapped by the next tick
    (overlap would be safe, since every step is idempotent, but wasteful)
  - Sweep reports are recorded by the service itself when the store
    supports it; the scheduler only logs

CONFIGURATION:
  - Schedule: cron spec, e.g. "@every 1h" or "5 0 * * *" (default: hourly)
  - Enabled:  whether Start does anything (default: true)

USAGE:
  scheduler := NewSweepScheduler(svc, "@daily", logger)
  if err := scheduler.Start(); err != nil { ... }
  defer scheduler.Stop()

SEE ALSO:
  - handlers.go: TriggerSweep endpoint (manual sweep)
  - rental/sweep.go: The sweep itself
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/warp/rental-engine/rental"
)

// SweepScheduler runs the rental sweep on a cron schedule.
type SweepScheduler struct {
	Service  *rental.Service
	Schedule string
	Enabled  bool
	Log      logrus.FieldLogger

	cron    *cron.Cron
	entryID cron.EntryID
	mu      sync.Mutex
}

// NewSweepScheduler creates a new scheduler.
func NewSweepScheduler(svc *rental.Service, schedule string, log logrus.FieldLogger) *SweepScheduler {
	if schedule == "" {
		schedule = "@every 1h"
	}
	if log == nil {
		log = svc.Log
	}
	return &SweepScheduler{
		Service:  svc,
		Schedule: schedule,
		Enabled:  true,
		Log:      log.WithField("component", "scheduler"),
	}
}

// Start begins the scheduler.
func (s *SweepScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Log.Info("sweep scheduler disabled, not starting")
		return nil
	}
	if s.cron != nil {
		return nil
	}

	logger := cron.PrintfLogger(s.Log)
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	id, err := c.AddFunc(s.Schedule, func() { s.RunNow(context.Background()) })
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.Schedule, err)
	}
	s.cron = c
	s.entryID = id
	c.Start()

	s.Log.WithFields(logrus.Fields{
		"schedule": s.Schedule,
		"next_run": c.Entry(id).Next.Format(time.RFC3339),
	}).Info("sweep scheduler started")
	return nil
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *SweepScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
	s.Log.Info("sweep scheduler stopped")
}

// RunNow runs one sweep immediately (for testing/admin).
func (s *SweepScheduler) RunNow(ctx context.Context) rental.SweepReport {
	report := s.Service.RunSweep(ctx)
	if len(report.Errors) > 0 {
		s.Log.WithField("errors", len(report.Errors)).Warn("sweep finished with errors")
	}
	return report
}

// NextRun returns when the next scheduled sweep will occur, zero if stopped.
func (s *SweepScheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}
