package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/robfig/cron/v3"
	"github.com/smallbiznis/expertly/internal/clock"
	"github.com/smallbiznis/expertly/internal/config"
	"github.com/smallbiznis/expertly/internal/lock"
	obscontext "github.com/smallbiznis/expertly/internal/observability/context"
	obsmetrics "github.com/smallbiznis/expertly/internal/observability/metrics"
	rebatedomain "github.com/smallbiznis/expertly/internal/rebate/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobRebateCreateDaily    = "rebate_create_daily"
	JobRebateProcessMonthly = "rebate_process_monthly"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Rebates    rebatedomain.Service
	Settlement *config.SettlementConfigHolder
	Locker     *lock.Locker                 `optional:"true"`
	Metrics    *obsmetrics.SchedulerMetrics `optional:"true"`
	Config     Config                       `optional:"true"`
}

// Scheduler runs the settlement jobs on their cron schedules.
type Scheduler struct {
	log        *zap.Logger
	cfg        Config
	genID      *snowflake.Node
	clock      clock.Clock
	rebates    rebatedomain.Service
	settlement *config.SettlementConfigHolder
	locker     *lock.Locker
	metrics    *obsmetrics.SchedulerMetrics

	mu   sync.Mutex
	cron *cron.Cron
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Rebates == nil {
		return nil, ErrInvalidConfig
	}
	metrics := p.Metrics
	if metrics == nil {
		metrics = obsmetrics.Scheduler()
	}
	return &Scheduler{
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		genID:      p.GenID,
		clock:      p.Clock,
		rebates:    p.Rebates,
		settlement: p.Settlement,
		locker:     p.Locker,
		metrics:    metrics,
	}, nil
}

// Start registers the daily and monthly jobs using the settlement cron specs
// and time zone in effect at startup.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}

	cfg := s.settlement.Get()
	c := cron.New(
		cron.WithLocation(cfg.Location()),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{log: s.log.Sugar()})),
	)

	entries := []struct {
		job  string
		spec string
		run  func(context.Context) error
	}{
		{JobRebateCreateDaily, cfg.DailyCron, s.RunDaily},
		{JobRebateProcessMonthly, cfg.MonthlyCron, s.RunMonthly},
	}
	for _, entry := range entries {
		if !s.isJobEnabled(entry.job) {
			continue
		}
		if _, err := c.AddFunc(entry.spec, func() {
			if err := entry.run(context.Background()); err != nil {
				s.log.Warn("scheduler job failed", zap.String("job", entry.job), zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("schedule %s: %w", entry.job, err)
		}
		s.log.Info("scheduler job registered",
			zap.String("job", entry.job),
			zap.String("spec", entry.spec),
			zap.String("time_zone", cfg.TimeZone),
		)
	}

	c.Start()
	s.cron = c
	return nil
}

// Stop stops the cron and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunDaily snapshots yesterday's eligible payments into PENDING rebates.
func (s *Scheduler) RunDaily(ctx context.Context) error {
	return s.runJob(ctx, JobRebateCreateDaily, func(ctx context.Context) error {
		result, err := s.rebates.CreateForPreviousDay(ctx)
		if err != nil {
			return err
		}
		s.metrics.AddBatchProcessed(JobRebateCreateDaily, "created", int(result.Created))
		addProcessed(ctx, int(result.Created))
		return nil
	})
}

// RunMonthly advances last month's PENDING rebates to a terminal status.
func (s *Scheduler) RunMonthly(ctx context.Context) error {
	return s.runJob(ctx, JobRebateProcessMonthly, func(ctx context.Context) error {
		result, err := s.rebates.ProcessPreviousMonth(ctx)
		if result != nil {
			s.metrics.AddBatchProcessed(JobRebateProcessMonthly, "completed", result.Completed)
			s.metrics.AddBatchProcessed(JobRebateProcessMonthly, "held", result.Held)
			s.metrics.AddBatchProcessed(JobRebateProcessMonthly, "failed", result.Failed)
			s.metrics.AddBatchProcessed(JobRebateProcessMonthly, "skipped", result.Skipped)
			addProcessed(ctx, result.Completed+result.Held+result.Failed)
		}
		return err
	})
}

// RunOnce runs every enabled job immediately.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var err error
	if s.isJobEnabled(JobRebateCreateDaily) {
		err = errors.Join(err, s.RunDaily(ctx))
	}
	if s.isJobEnabled(JobRebateProcessMonthly) {
		err = errors.Join(err, s.RunMonthly(ctx))
	}
	return err
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) error) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	ctx = obscontext.WithActor(ctx, "system", "scheduler")

	return s.withJobLock(ctx, name, func(ctx context.Context) error {
		ctx, run := s.startJobRun(ctx, name)
		s.logJobStart(ctx, run)
		s.metrics.IncJobRun(name)

		err := fn(ctx)
		s.metrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
		if err != nil {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
		if err == nil {
			return nil
		}

		isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
		if isTimeout {
			s.metrics.IncJobTimeout(name)
		}
		s.metrics.IncJobError(name, err)
		if isTimeout {
			s.logger(ctx).Warn("job timed out",
				zap.String("job", name),
				zap.Duration("timeout", s.cfg.JobTimeout),
				zap.Error(err),
			)
			return nil
		}
		s.logSchedulerError(ctx, run, "scheduler.job.failed", name, err)
		return fmt.Errorf("%s: %w", name, err)
	})
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(strings.TrimSpace(enabled), jobName) {
			return true
		}
	}
	return false
}

// cronLogger adapts zap to the cron.Logger interface.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}

var _ cron.Logger = cronLogger{}
