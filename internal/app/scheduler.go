package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/yieldrouter/internal/notify"
)

// Job is a unit of scheduled background work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Alerter receives operator alerts for failed runs.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Scheduler runs jobs on cron schedules. Overlapping runs of one job are
// skipped.
type Scheduler struct {
	cron    *cron.Cron
	timeout time.Duration
	alerter Alerter
	logger  *slog.Logger
}

// NewScheduler creates a Scheduler. Each run is bounded by timeout. alerter
// may be nil.
func NewScheduler(timeout time.Duration, alerter Alerter, logger *slog.Logger) *Scheduler {
	logger = logger.With(slog.String("component", "scheduler"))
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cronLogger{logger}),
			cron.SkipIfStillRunning(cronLogger{logger}),
		)),
		timeout: timeout,
		alerter: alerter,
		logger:  logger,
	}
}

// Add registers job under a standard five-field or descriptor schedule
// ("0 3 * * *", "@every 4m").
func (s *Scheduler) Add(ctx context.Context, schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() { s.run(ctx, job) })
	if err != nil {
		return fmt.Errorf("scheduler: add %s %q: %w", job.Name(), schedule, err)
	}
	s.logger.InfoContext(ctx, "job registered",
		slog.String("job", job.Name()),
		slog.String("schedule", schedule),
	)
	return nil
}

// RunNow executes job once outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, job Job) {
	s.run(ctx, job)
}

func (s *Scheduler) run(ctx context.Context, job Job) {
	if ctx.Err() != nil {
		return
	}
	rctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	if err := job.Run(rctx); err != nil {
		s.logger.ErrorContext(ctx, "job failed",
			slog.String("job", job.Name()),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()),
		)
		s.alert(ctx, job, err)
		return
	}
	s.logger.DebugContext(ctx, "job completed",
		slog.String("job", job.Name()),
		slog.Duration("duration", time.Since(start)),
	)
}

func (s *Scheduler) alert(ctx context.Context, job Job, jobErr error) {
	if s.alerter == nil {
		return
	}
	title := fmt.Sprintf("yieldrouter job %s failed", job.Name())
	if err := s.alerter.Notify(ctx, notify.EventJobFailed, title, jobErr.Error()); err != nil {
		s.logger.WarnContext(ctx, "job alert failed",
			slog.String("job", job.Name()),
			slog.String("error", err.Error()),
		)
	}
}

// Run starts the scheduler and blocks until ctx is done, then waits for
// running jobs to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	s.logger.InfoContext(ctx, "scheduler started", slog.Int("jobs", len(s.cron.Entries())))
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
	return nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err.Error())...)
}
