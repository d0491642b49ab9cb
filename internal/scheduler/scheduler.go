// Package scheduler owns cron firing, overlap suppression and execution
// tracking for every worker, so the workers themselves only implement Run.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"club-billing-engine/internal/common/logger"
	"club-billing-engine/internal/common/metrics"
	"club-billing-engine/internal/models"
	"club-billing-engine/internal/tracker"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
)

// Handler is one worker's run entrypoint.
type Handler func(ctx context.Context) (*models.RunStats, error)

// RunRecorder receives per-run measurements. Satisfied by
// observability.Observability; nil disables recording.
type RunRecorder interface {
	RecordRunProcessed(ctx context.Context, worker, status string)
	RecordRunDuration(ctx context.Context, worker string, duration time.Duration, status string)
}

// ScheduledTask registers one worker with the scheduler.
type ScheduledTask struct {
	Name    string
	Cadence string // cron expression
	Timeout time.Duration
	Handler Handler
}

// AdvisoryLocker serializes a task fleet-wide. A zero TTL disables locking.
type AdvisoryLocker struct {
	client *redis.Client
	ttl    time.Duration
	token  string
}

func NewAdvisoryLocker(client *redis.Client, ttl time.Duration, token string) *AdvisoryLocker {
	return &AdvisoryLocker{client: client, ttl: ttl, token: token}
}

// Acquire takes the fleet-wide lock for a task. Returns false when another
// instance holds it.
func (l *AdvisoryLocker) Acquire(ctx context.Context, taskName string) (bool, error) {
	if l == nil || l.client == nil || l.ttl <= 0 {
		return true, nil
	}
	return l.client.SetNX(ctx, lockKey(taskName), l.token, l.ttl).Result()
}

// Release drops the lock if this instance still owns it.
func (l *AdvisoryLocker) Release(ctx context.Context, taskName string) {
	if l == nil || l.client == nil || l.ttl <= 0 {
		return
	}
	val, err := l.client.Get(ctx, lockKey(taskName)).Result()
	if err != nil || val != l.token {
		return
	}
	l.client.Del(ctx, lockKey(taskName))
}

func lockKey(taskName string) string {
	return "billing:run-lock:" + taskName
}

// Scheduler runs registered tasks on their cadences. Within one task, an
// in-process flag makes a tick that finds a run in flight exit immediately:
// no queuing, no backpressure beyond skipping the tick.
type Scheduler struct {
	cron     *cron.Cron
	tracker  *tracker.Tracker
	locker   *AdvisoryLocker
	recorder RunRecorder
	logger   logger.Logger

	mu      sync.Mutex
	running map[string]*atomic.Bool
}

func New(trk *tracker.Tracker, locker *AdvisoryLocker, recorder RunRecorder, log logger.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		tracker:  trk,
		locker:   locker,
		recorder: recorder,
		logger:   log,
		running:  make(map[string]*atomic.Bool),
	}
}

// Register adds a task to the cron table. Returns an error for an invalid
// cadence expression.
func (s *Scheduler) Register(task ScheduledTask) error {
	if task.Name == "" {
		return fmt.Errorf("task name is required")
	}
	if task.Handler == nil {
		return fmt.Errorf("task handler is required")
	}

	s.mu.Lock()
	if _, exists := s.running[task.Name]; exists {
		s.mu.Unlock()
		return fmt.Errorf("task %q already registered", task.Name)
	}
	flag := &atomic.Bool{}
	s.running[task.Name] = flag
	s.mu.Unlock()

	_, err := s.cron.AddFunc(task.Cadence, func() {
		s.runOnce(task, flag)
	})
	if err != nil {
		return fmt.Errorf("invalid cadence for task %q: %w", task.Name, err)
	}

	s.logger.Info("task registered", map[string]interface{}{
		"task":    task.Name,
		"cadence": task.Cadence,
	})
	return nil
}

// Start begins firing registered tasks.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop suppresses future ticks. Runs already in flight are not cancelled.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// RunNow executes a task outside its schedule, with the same guards.
func (s *Scheduler) RunNow(task ScheduledTask) {
	s.mu.Lock()
	flag, exists := s.running[task.Name]
	if !exists {
		flag = &atomic.Bool{}
		s.running[task.Name] = flag
	}
	s.mu.Unlock()
	s.runOnce(task, flag)
}

func (s *Scheduler) runOnce(task ScheduledTask, flag *atomic.Bool) {
	if !flag.CompareAndSwap(false, true) {
		metrics.WorkerRunsSkipped.WithLabelValues(task.Name).Inc()
		s.logger.Warn("previous run still in flight, skipping tick", map[string]interface{}{
			"task": task.Name,
		})
		return
	}
	defer flag.Store(false)

	// A zero Timeout means the run is never cancelled mid-batch; a deadline
	// is an explicit operator opt-in.
	ctx := context.Background()
	var cancel context.CancelFunc
	if task.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, task.Timeout)
		defer cancel()
	}

	acquired, err := s.locker.Acquire(ctx, task.Name)
	if err != nil {
		s.logger.Error("advisory lock check failed", map[string]interface{}{
			"task":  task.Name,
			"error": err.Error(),
		})
		return
	}
	if !acquired {
		metrics.WorkerRunsSkipped.WithLabelValues(task.Name).Inc()
		s.logger.Info("another instance holds the run lock, skipping tick", map[string]interface{}{
			"task": task.Name,
		})
		return
	}
	// Release and ledger close run on their own context: the run context may
	// already be past its deadline by the time the handler returns.
	defer func() {
		relCtx, relCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer relCancel()
		s.locker.Release(relCtx, task.Name)
	}()

	execID, startedAt, err := s.tracker.StartExecution(ctx, task.Name)
	if err != nil {
		s.logger.Error("failed to open execution ledger row", map[string]interface{}{
			"task":  task.Name,
			"error": err.Error(),
		})
		return
	}

	timer := time.Now()
	stats, runErr := task.Handler(ctx)
	elapsed := time.Since(timer)
	metrics.WorkerRunDuration.WithLabelValues(task.Name).Observe(elapsed.Seconds())

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer closeCancel()

	if runErr != nil {
		metrics.WorkerRunsFailed.WithLabelValues(task.Name).Inc()
		s.recordRun(closeCtx, task.Name, "failed", elapsed)
		s.logger.Error("run failed", map[string]interface{}{
			"task":       task.Name,
			"durationMs": elapsed.Milliseconds(),
			"error":      runErr.Error(),
		})
		if err := s.tracker.FailExecution(closeCtx, execID, runErr.Error()); err != nil {
			s.logger.Error("failed to close execution ledger row", map[string]interface{}{
				"task":  task.Name,
				"error": err.Error(),
			})
		}
		return
	}

	if stats == nil {
		stats = &models.RunStats{}
	}
	metrics.WorkerRunsCompleted.WithLabelValues(task.Name).Inc()
	metrics.WorkerItemsProcessed.WithLabelValues(task.Name, "succeeded").Add(float64(stats.ItemsSucceeded))
	metrics.WorkerItemsProcessed.WithLabelValues(task.Name, "failed").Add(float64(stats.ItemsFailed))
	s.recordRun(closeCtx, task.Name, "completed", elapsed)

	s.logger.Info("run completed", map[string]interface{}{
		"task":           task.Name,
		"durationMs":     elapsed.Milliseconds(),
		"itemsProcessed": stats.ItemsProcessed,
		"itemsSucceeded": stats.ItemsSucceeded,
		"itemsFailed":    stats.ItemsFailed,
	})

	if err := s.tracker.CompleteExecution(closeCtx, execID, startedAt, stats); err != nil {
		s.logger.Error("failed to close execution ledger row", map[string]interface{}{
			"task":  task.Name,
			"error": err.Error(),
		})
	}
}

func (s *Scheduler) recordRun(ctx context.Context, taskName, status string, elapsed time.Duration) {
	if s.recorder == nil {
		return
	}
	s.recorder.RecordRunProcessed(ctx, taskName, status)
	s.recorder.RecordRunDuration(ctx, taskName, elapsed, status)
}
