package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/policylens/policylens/internal/pipeline"
)

// Status is a point-in-time snapshot of the scheduler.
type Status struct {
	IsRunning       bool             `json:"is_running"`
	Enabled         bool             `json:"enabled"`
	LastRun         string           `json:"last_run,omitempty"`
	LastResult      *pipeline.Result `json:"last_result,omitempty"`
	TotalRuns       int              `json:"total_runs"`
	IntervalSeconds int              `json:"interval_seconds"`
	RunOnStartup    bool             `json:"run_on_startup"`
}

// Scheduler triggers pipeline passes on a fixed interval. Scheduled and
// manual triggers share one single-flight guard: while a pass is in flight,
// any further trigger is a logged no-op.
type Scheduler struct {
	pipe         *pipeline.Pipeline
	interval     time.Duration
	runOnStartup bool
	startupDelay time.Duration
	pauseCheck   time.Duration

	mu         sync.Mutex
	running    bool
	enabled    bool
	lastRun    string
	lastResult *pipeline.Result
	totalRuns  int
}

// New creates a scheduler. interval <= 0 falls back to one hour.
func New(pipe *pipeline.Pipeline, interval time.Duration, runOnStartup bool) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{
		pipe:         pipe,
		interval:     interval,
		runOnStartup: runOnStartup,
		startupDelay: 5 * time.Second,
		pauseCheck:   time.Minute,
		enabled:      true,
	}
}

// Start runs the periodic loop until ctx is cancelled. Cancellation is
// checked at every sleep boundary; an in-flight pass finishes on its own.
func (s *Scheduler) Start(ctx context.Context) {
	if s.runOnStartup {
		log.Println("Running initial scrape on startup...")
		if !sleepCtx(ctx, s.startupDelay) {
			return
		}
		s.runPass(ctx)
	}

	for {
		wait := s.interval
		if !s.IsEnabled() {
			wait = s.pauseCheck
		}
		if !sleepCtx(ctx, wait) {
			log.Println("Scheduler stopped")
			return
		}
		if !s.IsEnabled() {
			continue
		}
		log.Println("Starting scheduled scrape...")
		s.runPass(ctx)
	}
}

// Trigger starts a pass in the background. Returns false without starting
// anything when a pass is already in flight.
func (s *Scheduler) Trigger(ctx context.Context) bool {
	if s.IsRunning() {
		return false
	}
	go s.runPass(ctx)
	return true
}

// runPass acquires the single-flight guard, runs one pipeline pass, and
// records the result. The guard is released on every path out.
func (s *Scheduler) runPass(ctx context.Context) {
	if !s.tryAcquire() {
		log.Println("Scraper already running, skipping trigger")
		return
	}
	defer s.release()

	result := s.pipe.Run(ctx)

	s.mu.Lock()
	s.lastRun = time.Now().UTC().Format(time.RFC3339)
	s.lastResult = result
	s.totalRuns++
	s.mu.Unlock()
}

func (s *Scheduler) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

func (s *Scheduler) release() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning reports whether a pass is in flight.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// IsEnabled reports whether scheduled passes are enabled. Manual triggers
// work regardless.
func (s *Scheduler) IsEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// SetEnabled pauses or resumes scheduled passes.
func (s *Scheduler) SetEnabled(enabled bool) {
	s.mu.Lock()
	s.enabled = enabled
	s.mu.Unlock()
}

// GetStatus returns a snapshot of the scheduler state.
func (s *Scheduler) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		IsRunning:       s.running,
		Enabled:         s.enabled,
		LastRun:         s.lastRun,
		LastResult:      s.lastResult,
		TotalRuns:       s.totalRuns,
		IntervalSeconds: int(s.interval / time.Second),
		RunOnStartup:    s.runOnStartup,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
