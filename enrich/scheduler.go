package enrich

import (
	"context"
	"sync"
	"time"

	"github.com/mkragh/ensemble/logging"
)

// Task is one unit of background enrichment. Implementations must be safe
// to run repeatedly: the scheduler gives no exactly-once guarantee.
type Task interface {
	Name() string
	Run(ctx context.Context) error
}

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	// TaskTimeout bounds each task run.
	TaskTimeout time.Duration
	Logger      logging.Logger
}

// Scheduler runs enrichment tasks on detached goroutines. Scheduling is
// fire-and-forget by contract: failures are logged, panics are recovered,
// and nothing propagates back to the scheduling request. Close waits for
// in-flight tasks, used during graceful shutdown.
type Scheduler struct {
	timeout time.Duration
	logger  logging.Logger

	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

// NewScheduler constructs a scheduler with a 60 second per-task timeout by
// default.
func NewScheduler(optFns ...func(o *SchedulerOptions)) *Scheduler {
	opts := SchedulerOptions{
		TaskTimeout: 60 * time.Second,
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Scheduler{timeout: opts.TaskTimeout, logger: opts.Logger}
}

// Schedule launches task on its own goroutine and returns immediately. The
// task runs detached from the scheduling request's context so request
// completion does not cancel it. Scheduling on a closed scheduler is a
// logged no-op.
func (s *Scheduler) Schedule(task Task) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.logger.Warn("enrichment scheduler closed, dropping task task=%s", task.Name())
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("enrichment task panicked task=%s panic=%v", task.Name(), r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		if err := task.Run(ctx); err != nil {
			s.logger.Warn("enrichment task failed task=%s err=%v", task.Name(), err)
			return
		}
		s.logger.Debug("enrichment task completed task=%s", task.Name())
	}()
}

// Close stops accepting new tasks and waits for in-flight ones to finish.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
}
