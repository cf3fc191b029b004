package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/iho/cashflow/internal/domain"
)

// Runner materializes a date.
type Runner interface {
	RunMaterialization(ctx context.Context, date time.Time) (*domain.ProcessingRun, error)
}

// Config holds scheduler configuration.
type Config struct {
	// Spec is a standard five-field cron expression evaluated in UTC.
	Spec         string
	RunOnStartup bool
	// RunTimeout bounds one triggered run. Zero means no bound.
	RunTimeout time.Duration
	Logger     zerolog.Logger
}

// Scheduler triggers materialization on a cron schedule. Overlapping
// triggers are skipped while a run is still in flight.
type Scheduler struct {
	cron         *cron.Cron
	runner       Runner
	logger       zerolog.Logger
	runOnStartup bool
	runTimeout   time.Duration
	now          func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Scheduler. It fails on an invalid cron expression.
func New(runner Runner, cfg Config) (*Scheduler, error) {
	logger := cfg.Logger.With().Str("component", "scheduler").Logger()
	cronLogger := cronLogger{logger: logger}

	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:         c,
		runner:       runner,
		logger:       logger,
		runOnStartup: cfg.RunOnStartup,
		runTimeout:   cfg.RunTimeout,
		now:          func() time.Time { return time.Now().UTC() },
		ctx:          ctx,
		cancel:       cancel,
	}

	if _, err := c.AddFunc(cfg.Spec, func() { s.trigger(s.ctx) }); err != nil {
		cancel()
		return nil, fmt.Errorf("invalid schedule %q: %w", cfg.Spec, err)
	}
	return s, nil
}

// Start launches the cron loop and, if configured, an immediate run.
func (s *Scheduler) Start() {
	s.cron.Start()

	if s.runOnStartup {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.trigger(s.ctx)
		}()
	}

	entries := s.cron.Entries()
	if len(entries) > 0 {
		s.logger.Info().Time("next_run", entries[0].Next).Msg("scheduler started")
	}
}

// TriggerNow runs materialization for today outside the schedule.
func (s *Scheduler) TriggerNow(ctx context.Context) (*domain.ProcessingRun, error) {
	return s.run(ctx)
}

func (s *Scheduler) trigger(ctx context.Context) {
	if _, err := s.run(ctx); err != nil && !errors.Is(err, domain.ErrRunInProgress) {
		s.logger.Error().Err(err).Msg("scheduled materialization failed")
	}
}

func (s *Scheduler) run(ctx context.Context) (*domain.ProcessingRun, error) {
	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}

	date := domain.DateOf(s.now())
	run, err := s.runner.RunMaterialization(ctx, date)
	if err != nil {
		return nil, err
	}

	materialized, skipped, failed := run.Totals()
	s.logger.Info().
		Str("run_id", run.ID).
		Str("run_date", domain.FormatDate(run.RunDate)).
		Str("status", string(run.Status)).
		Int("materialized", materialized).
		Int("skipped", skipped).
		Int("failed", failed).
		Msg("materialization run finished")
	return run, nil
}

// Shutdown stops scheduling and waits up to timeout for a running job.
func (s *Scheduler) Shutdown(timeout time.Duration) {
	s.logger.Info().Msg("scheduler shutting down")

	stopped := s.cron.Stop()
	s.cancel()

	done := make(chan struct{})
	go func() {
		<-stopped.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("scheduler stopped")
	case <-time.After(timeout):
		s.logger.Warn().Dur("timeout", timeout).Msg("scheduler shutdown timed out")
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
