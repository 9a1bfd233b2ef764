package reports

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	DefaultSchedule      = "5 0 * * *"
	DefaultPurgeSchedule = "@hourly"
)

// EventPurger drops dedupe records older than a cutoff.
type EventPurger interface {
	Purge(ctx context.Context, cutoff time.Time) (int64, error)
}

// Scheduler runs the daily report and the dedupe cleanup on cron schedules (UTC).
type Scheduler struct {
	cron       *cron.Cron
	reports    *Service
	purger     EventPurger
	retention  time.Duration
	logger     *slog.Logger
	jobTimeout time.Duration
}

// NewScheduler registers the jobs. purger may be nil.
func NewScheduler(svc *Service, schedule string, purger EventPurger, retention time.Duration, logger *slog.Logger) (*Scheduler, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		cron:       cron.New(cron.WithLocation(time.UTC)),
		reports:    svc,
		purger:     purger,
		retention:  retention,
		logger:     logger.With("component", "scheduler"),
		jobTimeout: 10 * time.Minute,
	}
	if _, err := s.cron.AddFunc(schedule, s.runReports); err != nil {
		return nil, err
	}
	if purger != nil && retention > 0 {
		if _, err := s.cron.AddFunc(DefaultPurgeSchedule, s.runPurge); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Entries reports how many jobs are registered.
func (s *Scheduler) Entries() int { return len(s.cron.Entries()) }

func (s *Scheduler) runReports() {
	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()
	if _, err := s.reports.GenerateYesterday(ctx); err != nil {
		s.logger.Error("scheduled daily reports failed", "category", "query", "error", err)
	}
}

func (s *Scheduler) runPurge() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	n, err := s.purger.Purge(ctx, time.Now().Add(-s.retention))
	if err != nil {
		s.logger.Error("purge processed events failed", "category", "query", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("purged processed events", "count", n)
	}
}
