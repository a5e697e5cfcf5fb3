package scheduler

import (
	"context"
	"errors"

	"github.com/smallbiznis/expertly/internal/lock"
	obsmetrics "github.com/smallbiznis/expertly/internal/observability/metrics"
	"go.uber.org/zap"
)

const jobLockPrefix = "scheduler:job:"

func jobLockKey(job string) string {
	return jobLockPrefix + job
}

// withJobLock runs fn only when this instance wins the job lock. Without a
// locker the job runs unguarded.
func (s *Scheduler) withJobLock(ctx context.Context, job string, fn func(context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	err := s.locker.WithLock(ctx, jobLockKey(job), s.cfg.LockTTL, fn)
	if errors.Is(err, lock.ErrNotAcquired) {
		s.metrics.IncJobSkipped(job, obsmetrics.SchedulerJobSkippedLockHeld)
		s.logger(ctx).Info("scheduler.job.skipped",
			zap.String("job", job),
			zap.String("reason", obsmetrics.SchedulerJobSkippedLockHeld),
		)
		return nil
	}
	return err
}
