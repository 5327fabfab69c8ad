package controller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pilotfish/pilotfish/internal/automation"
	"github.com/pilotfish/pilotfish/internal/events"
	"github.com/pilotfish/pilotfish/internal/session"
)

func newTestService(factory automation.Factory, sink events.Sink) *Service {
	return NewService(ServiceConfig{
		Factory:        factory,
		Sink:           sink,
		DefaultTimeout: 2 * time.Second,
	})
}

func TestServiceStartRejectsDuplicate(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	factory := &mockFactory{native: true, prepare: func(m *automation.Mock) {
		m.ExecuteFn = blockingExecute(release)
	}}
	svc := newTestService(factory, &sinkRecorder{})

	ctx := context.Background()
	if err := svc.Start(ctx, StartRequest{SessionID: "s1", Task: "t"}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	err := svc.Start(ctx, StartRequest{SessionID: "s1", Task: "another"})
	if !errors.Is(err, session.ErrDuplicateSession) {
		t.Fatalf("second Start() error = %v, want ErrDuplicateSession", err)
	}
	if got := svc.ActiveCount(); got != 1 {
		t.Fatalf("ActiveCount() = %d, want 1", got)
	}
}

func TestServiceStartValidatesInput(t *testing.T) {
	svc := newTestService(&mockFactory{native: true}, &sinkRecorder{})
	ctx := context.Background()

	if err := svc.Start(ctx, StartRequest{SessionID: " ", Task: "t"}); !errors.Is(err, ErrMissingSessionID) {
		t.Fatalf("Start() error = %v, want ErrMissingSessionID", err)
	}
	if err := svc.Start(ctx, StartRequest{SessionID: "s1", Task: "  "}); !errors.Is(err, ErrMissingTask) {
		t.Fatalf("Start() error = %v, want ErrMissingTask", err)
	}
	if got := svc.ActiveCount(); got != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", got)
	}
}

func TestServiceSessionIDFreedAfterTerminal(t *testing.T) {
	factory := &mockFactory{native: true}
	svc := newTestService(factory, &sinkRecorder{})
	ctx := context.Background()

	if err := svc.Start(ctx, StartRequest{SessionID: "s1", Task: "t"}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return !svc.IsActive("s1") })

	if err := svc.Start(ctx, StartRequest{SessionID: "s1", Task: "again"}); err != nil {
		t.Fatalf("Start() after terminal error = %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return !svc.IsActive("s1") })
}

func TestServiceStopUnknownSessionSucceeds(t *testing.T) {
	svc := newTestService(&mockFactory{native: true}, &sinkRecorder{})
	if err := svc.Stop(context.Background(), "never-started"); err != nil {
		t.Fatalf("Stop() error = %v, want nil for unknown id", err)
	}
}

func TestServicePauseUnknownSessionFails(t *testing.T) {
	svc := newTestService(&mockFactory{native: true}, &sinkRecorder{})
	if err := svc.Pause(context.Background(), "ghost"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("Pause() error = %v, want ErrNotFound", err)
	}
	if err := svc.Resume(context.Background(), "ghost", 0); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("Resume() error = %v, want ErrNotFound", err)
	}
}

func TestServiceStopUnregistersAndEmits(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	factory := &mockFactory{native: true, prepare: func(m *automation.Mock) {
		m.ExecuteFn = blockingExecute(release)
	}}
	sink := &sinkRecorder{}
	svc := newTestService(factory, sink)
	ctx := context.Background()

	if err := svc.Start(ctx, StartRequest{SessionID: "s1", Task: "t"}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		snap, err := svc.Get("s1")
		return err == nil && snap.Status == session.StatusRunning
	})

	if err := svc.Stop(ctx, "s1"); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return !svc.IsActive("s1") })

	if got := sink.count("stopped", events.LevelInfo); got != 1 {
		t.Fatalf("stopped events = %d, want 1", got)
	}
	if got := factory.backend().Cleanups(); got != 1 {
		t.Fatalf("Cleanup calls = %d, want 1", got)
	}
	if _, err := svc.Get("s1"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("Get() after stop error = %v, want ErrNotFound", err)
	}
}

func TestServiceUpdateStatusRoundTrip(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	factory := &mockFactory{native: true, prepare: func(m *automation.Mock) {
		m.ExecuteFn = blockingExecute(release)
	}}
	svc := newTestService(factory, &sinkRecorder{})
	ctx := context.Background()

	if err := svc.Start(ctx, StartRequest{SessionID: "s1", Task: "t"}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		snap, err := svc.Get("s1")
		return err == nil && snap.Status == session.StatusRunning
	})

	if err := svc.UpdateStatus(ctx, "s1", "paused", 0); err != nil {
		t.Fatalf("UpdateStatus(paused) error = %v", err)
	}
	snap, err := svc.Get("s1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if snap.Status != session.StatusPaused {
		t.Fatalf("status = %q, want paused", snap.Status)
	}

	if err := svc.UpdateStatus(ctx, "s1", "running", 0); err != nil {
		t.Fatalf("UpdateStatus(running) error = %v", err)
	}
	snap, _ = svc.Get("s1")
	if snap.Status != session.StatusRunning {
		t.Fatalf("status = %q, want running", snap.Status)
	}

	if err := svc.UpdateStatus(ctx, "s1", "completed", 0); err != nil {
		t.Fatalf("UpdateStatus(completed) error = %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return !svc.IsActive("s1") })
}

func TestServiceResumeHonorsRequestTimeout(t *testing.T) {
	factory := &mockFactory{native: false, prepare: func(m *automation.Mock) {
		m.ExecuteFn = blockingExecute(nil)
	}}
	sink := &sinkRecorder{}
	svc := NewService(ServiceConfig{
		Factory:        factory,
		Sink:           sink,
		DefaultTimeout: time.Minute,
	})
	ctx := context.Background()

	if err := svc.Start(ctx, StartRequest{SessionID: "s1", Task: "t"}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		snap, err := svc.Get("s1")
		return err == nil && snap.Status == session.StatusRunning
	})

	if err := svc.Pause(ctx, "s1"); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}

	// The per-request cap bounds the restarted run, overriding the
	// minute-long service default.
	if err := svc.Resume(ctx, "s1", 50*time.Millisecond); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return !svc.IsActive("s1") })

	if got := sink.count("time limit reached", events.LevelWarning); got != 1 {
		t.Fatalf("time limit events = %d, want 1", got)
	}
	if got := sink.count("stopped", events.LevelInfo); got != 1 {
		t.Fatalf("stopped events = %d, want 1", got)
	}
}

func TestServiceShutdownStopsEverything(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	factory := &mockFactory{native: true, prepare: func(m *automation.Mock) {
		m.ExecuteFn = blockingExecute(release)
	}}
	svc := newTestService(factory, &sinkRecorder{})
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := svc.Start(ctx, StartRequest{SessionID: id, Task: "t"}); err != nil {
			t.Fatalf("Start(%s) error = %v", id, err)
		}
	}
	waitFor(t, 2*time.Second, func() bool { return svc.ActiveCount() == 3 })

	svc.Shutdown(ctx)
	if got := svc.ActiveCount(); got != 0 {
		t.Fatalf("ActiveCount() after shutdown = %d, want 0", got)
	}
}

func TestServiceHistoryWithoutStore(t *testing.T) {
	svc := newTestService(&mockFactory{native: true}, &sinkRecorder{})
	recs, err := svc.History(context.Background(), "s1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("History() = %d records, want 0", len(recs))
	}

	recs, err = svc.RecentHistory(context.Background(), 10)
	if err != nil {
		t.Fatalf("RecentHistory() error = %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("RecentHistory() = %d records, want 0", len(recs))
	}
}
