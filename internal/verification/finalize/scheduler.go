package finalize

import (
	"context"
	"log/slog"
	"sync"

	id "attesto/pkg/domain"
)

// Scheduler runs job processing off the request goroutine. The in-memory
// active set only prevents double-scheduling within this process; the durable
// guard against cross-process double execution is the store's atomic claim.
type Scheduler struct {
	mu     sync.Mutex
	active map[id.JobID]struct{}
	run    func(ctx context.Context, jobID id.JobID)
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewScheduler builds a scheduler around the given processing function.
func NewScheduler(run func(ctx context.Context, jobID id.JobID), logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		active: make(map[id.JobID]struct{}),
		run:    run,
		logger: logger,
	}
}

// Schedule fires processing for the job unless it is already active in this
// process. Reports whether a new run was started.
func (s *Scheduler) Schedule(jobID id.JobID) bool {
	s.mu.Lock()
	if _, running := s.active[jobID]; running {
		s.mu.Unlock()
		return false
	}
	s.active[jobID] = struct{}{}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.active, jobID)
			s.mu.Unlock()
		}()
		// Detached from the request context: the job outlives the HTTP call
		// that scheduled it.
		s.run(context.Background(), jobID)
	}()
	return true
}

// Active reports whether the job is currently scheduled in this process.
func (s *Scheduler) Active(jobID id.JobID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, running := s.active[jobID]
	return running
}

// Wait blocks until all in-flight jobs have finished. Used on shutdown so a
// claimed job is not abandoned mid-run.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
