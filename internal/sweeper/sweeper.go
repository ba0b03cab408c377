// Package sweeper purges test runs that outlived their retention window.
//
// Runs are swept one purge request per run so that a run whose purge keeps
// failing does not hold back the others.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/purge"
)

// Reason is the audit reason recorded for every sweep purge.
const Reason = "retention sweep"

// DefaultRetention keeps runs for a week.
const DefaultRetention = 7 * 24 * time.Hour

// RunLister finds runs that were never purged.
type RunLister interface {
	ListStaleRuns(ctx context.Context, before time.Time) ([]string, error)
}

// Purger deletes the resources of runs.
type Purger interface {
	Purge(ctx context.Context, req purge.Request) (*purge.Result, error)
}

// Report summarizes one sweep.
type Report struct {
	Cutoff       time.Time         `json:"cutoff"`
	Purged       []string          `json:"purged"`
	Failed       map[string]string `json:"failed,omitempty"`
	TotalDeleted int64             `json:"total_deleted"`
}

// Sweeper periodically purges stale runs.
type Sweeper struct {
	runs      RunLister
	purger    Purger
	retention time.Duration
	actor     string
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
	lastRun time.Time
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sweeper) { s.logger = l }
}

// WithClock overrides the clock used by scheduled sweeps.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// New creates a Sweeper. A non-positive retention uses DefaultRetention.
func New(runs RunLister, purger Purger, retention time.Duration, actor string, opts ...Option) *Sweeper {
	if retention <= 0 {
		retention = DefaultRetention
	}
	s := &Sweeper{
		runs:      runs,
		purger:    purger,
		retention: retention,
		actor:     actor,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunOnce purges every unpurged run created before now minus the retention.
// Per-run failures are collected into the Report and the joined error;
// they never stop the sweep.
func (s *Sweeper) RunOnce(ctx context.Context, now time.Time) (*Report, error) {
	cutoff := now.Add(-s.retention).UTC()
	report := &Report{Cutoff: cutoff, Purged: []string{}}

	stale, err := s.runs.ListStaleRuns(ctx, cutoff)
	if err != nil {
		return report, fmt.Errorf("sweep: list stale runs: %w", err)
	}
	if len(stale) == 0 {
		s.logger.Debug("sweep found no stale runs", "cutoff", cutoff)
		return report, nil
	}

	var errs []error
	for _, runID := range stale {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res, err := s.purger.Purge(ctx, purge.Request{
			RunIDs:  []string{runID},
			Reason:  Reason,
			ActorID: s.actor,
		})
		if err != nil {
			if report.Failed == nil {
				report.Failed = make(map[string]string)
			}
			report.Failed[runID] = err.Error()
			errs = append(errs, fmt.Errorf("sweep run %s: %w", runID, err))
			s.logger.Error("sweep purge failed", "run_id", runID, "error", err)
			continue
		}
		report.Purged = append(report.Purged, runID)
		report.TotalDeleted += res.TotalDeleted
	}

	s.logger.Info("sweep complete",
		"cutoff", cutoff,
		"purged", len(report.Purged),
		"failed", len(report.Failed),
		"total_deleted", report.TotalDeleted,
	)
	return report, errors.Join(errs...)
}

// Start schedules RunOnce with a standard five-field cron spec.
func (s *Sweeper) Start(schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("sweeper already running")
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, s.tick); err != nil {
		return fmt.Errorf("sweeper: invalid schedule %q: %w", schedule, err)
	}
	c.Start()
	s.cron = c
	s.running = true

	if entries := c.Entries(); len(entries) > 0 {
		s.logger.Info("sweeper started", "schedule", schedule, "retention", s.retention, "next", entries[0].Next)
	}
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.running = false
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
		s.logger.Info("sweeper stopped")
	}
}

// Running reports whether a schedule is active.
func (s *Sweeper) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// LastRun returns when the last scheduled sweep started.
func (s *Sweeper) LastRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

func (s *Sweeper) tick() {
	now := s.now()
	s.mu.Lock()
	s.lastRun = now
	s.mu.Unlock()

	// errors are already logged per run
	_, _ = s.RunOnce(context.Background(), now)
}
