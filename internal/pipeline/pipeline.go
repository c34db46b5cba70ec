// Package pipeline schedules recurring pipeline stages. The watch
// command composes ingestion and correlation as runners on one ticker.
package pipeline

import (
	"context"
	"io"
	"log"
	"sync"
	"time"
)

// Runner is one schedulable pipeline stage.
type Runner interface {
	Name() string
	RunOnce(ctx context.Context) error
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc struct {
	RunnerName string
	Fn         func(ctx context.Context) error
}

func (r RunnerFunc) Name() string                      { return r.RunnerName }
func (r RunnerFunc) RunOnce(ctx context.Context) error { return r.Fn(ctx) }

// Stats counts scheduler activity.
type Stats struct {
	Runs      int       `json:"runs"`
	Errors    int       `json:"errors"`
	LastRun   time.Time `json:"lastRun"`
	LastError string    `json:"lastError,omitempty"`
}

// Scheduler runs its stages in order on a fixed interval. Stage failures
// are counted and logged; the schedule keeps going.
type Scheduler struct {
	interval time.Duration
	runners  []Runner
	logger   *log.Logger

	mu    sync.Mutex
	stats Stats
}

// NewScheduler creates a scheduler. Intervals below one second are
// raised to one second.
func NewScheduler(interval time.Duration, runners []Runner, logger *log.Logger) *Scheduler {
	if interval < time.Second {
		interval = time.Second
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Scheduler{interval: interval, runners: runners, logger: logger}
}

// Run executes all stages immediately, then on every tick until the
// context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.runAll(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Scheduler) runAll(ctx context.Context) {
	for _, r := range s.runners {
		if ctx.Err() != nil {
			return
		}
		err := r.RunOnce(ctx)

		s.mu.Lock()
		s.stats.Runs++
		s.stats.LastRun = time.Now()
		if err != nil {
			s.stats.Errors++
			s.stats.LastError = err.Error()
		}
		s.mu.Unlock()

		if err != nil {
			s.logger.Printf("Stage %s failed: %v", r.Name(), err)
		}
	}
}

// Stats returns a snapshot of scheduler counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
