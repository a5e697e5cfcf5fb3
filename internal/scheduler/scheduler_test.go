package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/expertly/internal/clock"
	"github.com/smallbiznis/expertly/internal/config"
	"github.com/smallbiznis/expertly/internal/lock"
	obsmetrics "github.com/smallbiznis/expertly/internal/observability/metrics"
	rebatedomain "github.com/smallbiznis/expertly/internal/rebate/domain"
	"go.uber.org/zap"
)

type stubRebates struct {
	rebatedomain.Service

	mu           sync.Mutex
	dailyCalls   int
	monthlyCalls int
	created      int64
	processed    *rebatedomain.ProcessResult
	dailyErr     error
	monthlyErr   error
}

func (s *stubRebates) CreateForPreviousDay(ctx context.Context) (*rebatedomain.CreateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dailyCalls++
	if s.dailyErr != nil {
		return nil, s.dailyErr
	}
	return &rebatedomain.CreateResult{PeriodLabel: "2026-05", Created: s.created}, nil
}

func (s *stubRebates) ProcessPreviousMonth(ctx context.Context) (*rebatedomain.ProcessResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.monthlyCalls++
	result := s.processed
	if result == nil {
		result = &rebatedomain.ProcessResult{}
	}
	return result, s.monthlyErr
}

type harness struct {
	sched    *Scheduler
	rebates  *stubRebates
	registry *prometheus.Registry
	mr       *miniredis.Miniredis
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	registry := prometheus.NewRegistry()
	rebates := &stubRebates{}

	sched, err := New(Params{
		Log:        zap.NewNop(),
		GenID:      node,
		Clock:      clock.NewFakeClock(time.Date(2026, time.May, 15, 0, 0, 0, 0, time.UTC)),
		Rebates:    rebates,
		Settlement: config.NewStaticSettlementConfigHolder(config.DefaultSettlementConfig()),
		Locker:     lock.NewLocker(client),
		Metrics:    obsmetrics.NewSchedulerMetricsForRegistry(registry),
		Config:     cfg,
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return &harness{sched: sched, rebates: rebates, registry: registry, mr: mr}
}

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	h := newHarness(t, Config{JobTimeout: 5 * time.Millisecond})

	err := h.sched.runJob(context.Background(), "timeout_job", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	labels := map[string]string{
		"service": "expertly",
		"env":     "unknown",
		"job":     "timeout_job",
	}
	if got := getCounterValue(t, h.registry, "expertly_scheduler_job_timeouts_total", labels); got != 1 {
		t.Fatalf("expected timeout count 1, got %v", got)
	}

	errorLabels := map[string]string{
		"service": "expertly",
		"env":     "unknown",
		"job":     "timeout_job",
		"reason":  obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}
	if got := getCounterValue(t, h.registry, "expertly_scheduler_job_errors_total", errorLabels); got != 1 {
		t.Fatalf("expected error count 1, got %v", got)
	}
	if h.mr.Exists(jobLockKey("timeout_job")) {
		t.Fatalf("expected job lock to be released")
	}
}

func TestRunDailySkipsWhenLockHeld(t *testing.T) {
	h := newHarness(t, Config{})
	if err := h.mr.Set(jobLockKey(JobRebateCreateDaily), "other-instance"); err != nil {
		t.Fatalf("seed lock: %v", err)
	}

	if err := h.sched.RunDaily(context.Background()); err != nil {
		t.Fatalf("expected skip without error, got %v", err)
	}
	if h.rebates.dailyCalls != 0 {
		t.Fatalf("expected no rebate creation while lock held, got %d calls", h.rebates.dailyCalls)
	}

	labels := map[string]string{
		"service": "expertly",
		"env":     "unknown",
		"job":     JobRebateCreateDaily,
		"reason":  obsmetrics.SchedulerJobSkippedLockHeld,
	}
	if got := getCounterValue(t, h.registry, "expertly_scheduler_job_skipped_total", labels); got != 1 {
		t.Fatalf("expected skipped count 1, got %v", got)
	}
}

func TestRunDailyRecordsCreatedRows(t *testing.T) {
	h := newHarness(t, Config{})
	h.rebates.created = 4

	if err := h.sched.RunDaily(context.Background()); err != nil {
		t.Fatalf("run daily: %v", err)
	}
	if h.rebates.dailyCalls != 1 {
		t.Fatalf("expected one call, got %d", h.rebates.dailyCalls)
	}

	labels := map[string]string{
		"service": "expertly",
		"env":     "unknown",
		"job":     JobRebateCreateDaily,
		"outcome": "created",
	}
	if got := getCounterValue(t, h.registry, "expertly_scheduler_batch_processed_total", labels); got != 4 {
		t.Fatalf("expected 4 created, got %v", got)
	}
	runLabels := map[string]string{
		"service": "expertly",
		"env":     "unknown",
		"job":     JobRebateCreateDaily,
	}
	if got := getCounterValue(t, h.registry, "expertly_scheduler_job_runs_total", runLabels); got != 1 {
		t.Fatalf("expected one run, got %v", got)
	}
}

func TestRunMonthlyRecordsOutcomesEvenOnPartialError(t *testing.T) {
	h := newHarness(t, Config{})
	h.rebates.processed = &rebatedomain.ProcessResult{Total: 4, Completed: 2, Held: 1, Failed: 1}
	h.rebates.monthlyErr = errors.New("mark failed: connection refused")

	err := h.sched.RunMonthly(context.Background())
	if err == nil {
		t.Fatalf("expected error to surface")
	}
	if !errors.Is(err, h.rebates.monthlyErr) {
		t.Fatalf("expected wrapped error, got %v", err)
	}

	for outcome, want := range map[string]float64{"completed": 2, "held": 1, "failed": 1} {
		labels := map[string]string{
			"service": "expertly",
			"env":     "unknown",
			"job":     JobRebateProcessMonthly,
			"outcome": outcome,
		}
		if got := getCounterValue(t, h.registry, "expertly_scheduler_batch_processed_total", labels); got != want {
			t.Fatalf("outcome %s: expected %v, got %v", outcome, want, got)
		}
	}
}

func TestRunOnceJoinsJobErrors(t *testing.T) {
	h := newHarness(t, Config{})
	h.rebates.dailyErr = errors.New("daily boom")
	h.rebates.monthlyErr = errors.New("monthly boom")

	err := h.sched.RunOnce(context.Background())
	if !errors.Is(err, h.rebates.dailyErr) || !errors.Is(err, h.rebates.monthlyErr) {
		t.Fatalf("expected both job errors, got %v", err)
	}
}

func TestRunOnceHonorsEnabledJobs(t *testing.T) {
	h := newHarness(t, Config{EnabledJobs: []string{JobRebateProcessMonthly}})

	if err := h.sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if h.rebates.dailyCalls != 0 || h.rebates.monthlyCalls != 1 {
		t.Fatalf("expected only monthly job, got daily=%d monthly=%d", h.rebates.dailyCalls, h.rebates.monthlyCalls)
	}
}

func TestStartRegistersJobsInSettlementZone(t *testing.T) {
	h := newHarness(t, Config{})
	cfg := config.DefaultSettlementConfig()
	cfg.TimeZone = "Asia/Seoul"
	h.sched.settlement = config.NewStaticSettlementConfigHolder(cfg)

	if err := h.sched.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = h.sched.Stop(context.Background()) })

	if got := len(h.sched.cron.Entries()); got != 2 {
		t.Fatalf("expected 2 cron entries, got %d", got)
	}
	if got := h.sched.cron.Location().String(); got != "Asia/Seoul" {
		t.Fatalf("expected Asia/Seoul, got %s", got)
	}
	if err := h.sched.Start(); err != nil {
		t.Fatalf("second start: %v", err)
	}
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	if _, err := New(Params{Log: zap.NewNop()}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
