// Package scheduler drives the periodic work of the incident watcher: the
// intake loop copying new export files into staging, the processing loop
// running aggregation passes, and the retention sweeper expiring calls that
// have been displayed past the ceiling.
package scheduler

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/incidentwatch/aggregate"
	"github.com/c360/incidentwatch/config"
	"github.com/c360/incidentwatch/errors"
	"github.com/c360/incidentwatch/incident"
	"github.com/c360/incidentwatch/pkg/worker"
)

// Publisher receives the incident list after each processing pass.
type Publisher interface {
	Publish(groups []incident.Group)
}

// copyTask is one source file to stage.
type copyTask struct {
	path string
}

// Scheduler owns the three periodic loops. It follows the component
// lifecycle: Initialize, Start(ctx), Stop(timeout).
type Scheduler struct {
	sourceDir string
	schedule  config.ScheduleConfig
	retention config.RetentionConfig

	pipeline  *aggregate.Pipeline
	publisher Publisher
	pool      *worker.Pool[copyTask]
	logger    *slog.Logger

	poolWorkers    int
	poolQueue      int
	poolRegisterer prometheus.Registerer

	mu       sync.Mutex
	running  atomic.Bool
	shutdown chan struct{}
	wg       sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithPublisher sets the sink the processing loop pushes each pass result to.
func WithPublisher(p Publisher) Option {
	return func(s *Scheduler) { s.publisher = p }
}

// WithCopyPool sizes the intake copy pool.
func WithCopyPool(workers, queueSize int) Option {
	return func(s *Scheduler) {
		s.poolWorkers = workers
		s.poolQueue = queueSize
	}
}

// WithPoolMetrics registers the copy pool's metrics with the given registerer
// under the intake pool prefix.
func WithPoolMetrics(registerer prometheus.Registerer) Option {
	return func(s *Scheduler) { s.poolRegisterer = registerer }
}

// NewScheduler creates a Scheduler copying from sourceDir via the pipeline.
func NewScheduler(sourceDir string, schedule config.ScheduleConfig, retention config.RetentionConfig, pipeline *aggregate.Pipeline, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		sourceDir:   sourceDir,
		schedule:    schedule,
		retention:   retention,
		pipeline:    pipeline,
		logger:      logger,
		poolWorkers: 4,
		poolQueue:   256,
	}
	for _, opt := range opts {
		opt(s)
	}
	var poolOpts []worker.Option[copyTask]
	if s.poolRegisterer != nil {
		poolOpts = append(poolOpts, worker.WithMetrics[copyTask](s.poolRegisterer, "incidentwatch_intake_pool"))
	}
	s.pool = worker.NewPool(s.poolWorkers, s.poolQueue, func(_ context.Context, task copyTask) error {
		if err := s.pipeline.StageFile(task.path); err != nil {
			s.logger.Error("failed to stage export file", "file", task.path, "error", err)
			return err
		}
		s.logger.Info("staged new export file", "file", filepath.Base(task.path))
		return nil
	}, poolOpts...)
	return s
}

// Initialize validates the scheduler can run.
func (s *Scheduler) Initialize() error {
	if s.sourceDir == "" {
		return errors.WrapFatal(errors.ErrMissingConfig, "Scheduler", "Initialize", "check source directory")
	}
	if s.pipeline == nil {
		return errors.WrapFatal(errors.ErrMissingConfig, "Scheduler", "Initialize", "check pipeline")
	}
	if s.schedule.IntakeInterval <= 0 || s.schedule.ProcessInterval <= 0 {
		return errors.WrapFatal(errors.ErrInvalidConfig, "Scheduler", "Initialize", "check intervals")
	}
	if s.retention.Ceiling <= 0 || s.retention.SweepInterval <= 0 {
		return errors.WrapFatal(errors.ErrInvalidConfig, "Scheduler", "Initialize", "check retention")
	}
	return nil
}

// Start launches the copy pool and the three loops.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return nil // Already running, idempotent
	}

	if err := s.pool.Start(ctx); err != nil {
		return errors.Wrap(err, "Scheduler", "Start", "start copy pool")
	}

	s.shutdown = make(chan struct{})
	s.running.Store(true)

	s.wg.Add(3)
	go s.intakeLoop(ctx)
	go s.processLoop(ctx)
	go s.retentionLoop(ctx)

	s.logger.Info("scheduler started",
		"source", s.sourceDir,
		"intake_interval", s.schedule.IntakeInterval,
		"process_interval", s.schedule.ProcessInterval,
		"retention_ceiling", s.retention.Ceiling)
	return nil
}

// Stop signals the loops and waits up to timeout for them and the copy pool
// to finish. An in-flight tick is never preempted.
func (s *Scheduler) Stop(timeout time.Duration) error {
	if !s.running.Load() {
		return nil
	}
	s.running.Store(false)

	s.mu.Lock()
	if s.shutdown != nil {
		select {
		case <-s.shutdown:
		default:
			close(s.shutdown)
		}
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		return errors.WrapTransient(errors.ErrStopTimeout, "Scheduler", "Stop", "wait for loops")
	}

	if err := s.pool.Stop(timeout); err != nil {
		return errors.WrapTransient(err, "Scheduler", "Stop", "stop copy pool")
	}
	s.logger.Info("scheduler stopped")
	return nil
}

// intakeLoop ticks the intake scan until shutdown.
func (s *Scheduler) intakeLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.schedule.IntakeInterval)
	defer ticker.Stop()

	s.intakeTick()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		case <-ticker.C:
			s.intakeTick()
		}
	}
}

// intakeTick scans the source directory and submits every export file not
// yet staged to the copy pool. A failed scan skips the tick.
func (s *Scheduler) intakeTick() {
	entries, err := os.ReadDir(s.sourceDir)
	if err != nil {
		s.logger.Error("source directory unreadable", "dir", s.sourceDir, "error", err)
		return
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		// Rotation backups are recognized by ParseExportName but are left
		// in place at the source, so only plain .xml exports are staged.
		if !strings.HasSuffix(name, ".xml") {
			continue
		}
		if _, _, err := aggregate.ParseExportName(name); err != nil {
			continue
		}
		if s.pipeline.Staged(name) {
			continue
		}
		if err := s.pool.Submit(copyTask{path: filepath.Join(s.sourceDir, name)}); err != nil {
			s.logger.Warn("intake copy not queued", "file", name, "error", err)
		}
	}
}

// processLoop ticks the aggregation pass until shutdown.
func (s *Scheduler) processLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.schedule.ProcessInterval)
	defer ticker.Stop()

	s.processTick()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		case <-ticker.C:
			s.processTick()
		}
	}
}

// processTick runs one aggregation pass and publishes the result. A failed
// pass skips the tick; the next one retries from scratch.
func (s *Scheduler) processTick() {
	groups, err := s.pipeline.Process()
	if err != nil {
		s.logger.Error("aggregation pass failed", "error", err)
		return
	}
	if s.publisher != nil {
		s.publisher.Publish(groups)
	}
}

// retentionLoop waits out the startup grace, then sweeps on its interval.
// The grace keeps a restart from expiring calls before the first pass has
// re-marked them.
func (s *Scheduler) retentionLoop(ctx context.Context) {
	defer s.wg.Done()

	grace := time.NewTimer(s.retention.StartupGrace)
	defer grace.Stop()
	select {
	case <-ctx.Done():
		return
	case <-s.shutdown:
		return
	case <-grace.C:
	}

	ticker := time.NewTicker(s.retention.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		case <-ticker.C:
			s.retentionTick()
		}
	}
}

// retentionTick expires calls displayed longer than the ceiling.
func (s *Scheduler) retentionTick() {
	expired, err := s.pipeline.Expire(s.retention.Ceiling)
	if err != nil {
		s.logger.Error("retention sweep failed", "error", err)
		return
	}
	if expired > 0 {
		s.logger.Info("retention sweep expired calls", "count", expired)
	}
}
