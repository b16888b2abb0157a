package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/policylens/policylens/internal/analyze"
	"github.com/policylens/policylens/internal/database"
	"github.com/policylens/policylens/internal/fetch"
	"github.com/policylens/policylens/internal/pipeline"
	"github.com/policylens/policylens/internal/scrape"
)

// newTestScheduler wires a pipeline with no sources, so a pass completes
// immediately without network or provider calls.
func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	pipe := pipeline.NewWithParts(db,
		scrape.New(nil, nil, 10),
		fetch.NewSummaryFetcher(time.Second),
		analyze.NewBatcher(analyze.NewExtractor(nil, 500, 0)))
	return New(pipe, time.Hour, false)
}

func TestSingleFlightGuard(t *testing.T) {
	s := newTestScheduler(t)

	if !s.tryAcquire() {
		t.Fatal("expected first acquire to succeed")
	}
	if s.tryAcquire() {
		t.Error("expected second acquire to fail while held")
	}
	if !s.IsRunning() {
		t.Error("expected IsRunning while held")
	}

	s.release()
	if s.IsRunning() {
		t.Error("expected not running after release")
	}
	if !s.tryAcquire() {
		t.Error("expected acquire to succeed after release")
	}
	s.release()
}

func TestTriggerWhileRunning(t *testing.T) {
	s := newTestScheduler(t)

	// hold the guard as if a pass were in flight
	if !s.tryAcquire() {
		t.Fatal("acquire failed")
	}
	if s.Trigger(context.Background()) {
		t.Error("expected trigger rejected while a pass is running")
	}
	s.release()
}

func TestTriggerRecordsResult(t *testing.T) {
	s := newTestScheduler(t)

	if !s.Trigger(context.Background()) {
		t.Fatal("expected trigger accepted")
	}

	// the pass runs in a goroutine; poll for completion
	deadline := time.Now().Add(5 * time.Second)
	for {
		st := s.GetStatus()
		if st.TotalRuns == 1 && !st.IsRunning {
			if st.LastRun == "" {
				t.Error("expected last_run recorded")
			}
			if st.LastResult == nil {
				t.Error("expected last_result recorded")
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("pass did not complete: %+v", st)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSetEnabled(t *testing.T) {
	s := newTestScheduler(t)

	if !s.IsEnabled() {
		t.Error("expected enabled by default")
	}
	s.SetEnabled(false)
	if s.IsEnabled() {
		t.Error("expected disabled after toggle")
	}
	s.SetEnabled(true)
	if !s.IsEnabled() {
		t.Error("expected re-enabled")
	}
}

func TestGetStatusSnapshot(t *testing.T) {
	s := newTestScheduler(t)
	st := s.GetStatus()

	if st.IsRunning {
		t.Error("expected not running initially")
	}
	if !st.Enabled {
		t.Error("expected enabled initially")
	}
	if st.IntervalSeconds != 3600 {
		t.Errorf("expected 3600s interval, got %d", st.IntervalSeconds)
	}
	if st.TotalRuns != 0 {
		t.Errorf("expected 0 runs, got %d", st.TotalRuns)
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	s := newTestScheduler(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop on context cancellation")
	}
}

func TestNewDefaultsInterval(t *testing.T) {
	s := newTestScheduler(t)
	if s.interval != time.Hour {
		t.Errorf("unexpected interval: %v", s.interval)
	}

	s2 := New(nil, 0, false)
	if s2.interval != time.Hour {
		t.Errorf("expected 1h fallback for zero interval, got %v", s2.interval)
	}
}
