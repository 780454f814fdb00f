package app

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"
)

// Job is a periodic background task.
type Job struct {
	Name string
	// Next returns the delay before each run.
	Next func() time.Duration
	Run  func(ctx context.Context) error
}

// Scheduler runs Jobs outside any request path until Stop.
type Scheduler struct {
	log  *slog.Logger
	jobs []Job

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler returns a stopped Scheduler for jobs.
func NewScheduler(log *slog.Logger, jobs ...Job) *Scheduler {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{log: log, jobs: jobs}
}

// Start launches one goroutine per job. Starting a running scheduler is a
// no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	for _, j := range s.jobs {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.loop(ctx, j)
		}()
	}
	s.log.Info("scheduler.start", "jobs", len(s.jobs))
}

// Stop cancels every job and waits for running ones to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.log.Info("scheduler.stop")
}

func (s *Scheduler) loop(ctx context.Context, j Job) {
	t := time.NewTimer(j.Next())
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		start := time.Now()
		if err := j.Run(ctx); err != nil {
			s.log.Error("scheduler.job.fail", "job", j.Name, "err", err)
		} else {
			s.log.Debug("scheduler.job.done", "job", j.Name, "duration_ms", time.Since(start).Milliseconds())
		}
		t.Reset(j.Next())
	}
}

// randomPeriod returns a Next func drawing uniformly from [lo, hi).
func randomPeriod(lo, hi time.Duration) func() time.Duration {
	if hi <= lo {
		return func() time.Duration { return lo }
	}
	return func() time.Duration {
		return lo + rand.N(hi-lo)
	}
}

// fixedOrRandom prefers a configured period over the randomized default.
func fixedOrRandom(fixed, lo, hi time.Duration) func() time.Duration {
	if fixed > 0 {
		return func() time.Duration { return fixed }
	}
	return randomPeriod(lo, hi)
}
