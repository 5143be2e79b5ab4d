package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const runTimeout = 5 * time.Minute

type Cleaner interface {
	CleanupOldViolations(ctx context.Context, days int) (int64, error)
}

// Retention deletes violations older than Days.
type Retention struct {
	cleaner Cleaner
	days    int
	log     zerolog.Logger
}

func NewRetention(cleaner Cleaner, days int, log zerolog.Logger) *Retention {
	return &Retention{cleaner: cleaner, days: days, log: log}
}

func (r *Retention) Run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	started := time.Now()
	deleted, err := r.cleaner.CleanupOldViolations(ctx, r.days)
	if err != nil {
		r.log.Error().Err(err).Int("days", r.days).Msg("retention cleanup failed")
		return
	}
	r.log.Info().
		Int64("deleted", deleted).
		Int("days", r.days).
		Dur("took", time.Since(started)).
		Msg("retention cleanup finished")
}

// Scheduler runs jobs on standard 5-field cron expressions
// (minute hour day-of-month month day-of-week).
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

func NewScheduler(log zerolog.Logger) *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return &Scheduler{
		cron: cron.New(cron.WithParser(parser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		log:  log,
	}
}

// ScheduleRetention registers the retention job. days == 0 disables it.
func (s *Scheduler) ScheduleRetention(ctx context.Context, schedule string, job *Retention) error {
	if job.days <= 0 {
		s.log.Info().Msg("retention cleanup disabled (RETENTION_DAYS not set)")
		return nil
	}
	schedule = strings.TrimSpace(schedule)
	id, err := s.cron.AddFunc(schedule, func() { job.Run(ctx) })
	if err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", schedule, err)
	}
	s.log.Info().
		Str("schedule", schedule).
		Int("days", job.days).
		Time("next", s.cron.Entry(id).Schedule.Next(time.Now())).
		Msg("retention cleanup scheduled")
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}
