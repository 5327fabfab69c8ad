package automation

import (
	"context"
	"fmt"
	"sync"

	"github.com/pilotfish/pilotfish/internal/events"
)

// Mock is a scriptable backend for tests and for running the service without
// network access. Behavior hooks default to instant success; counters record
// every lifecycle call.
type Mock struct {
	spec   TaskSpec
	native bool

	StartFn   func(ctx context.Context) error
	ExecuteFn func(ctx context.Context) error
	PauseFn   func(ctx context.Context) error
	ResumeFn  func(ctx context.Context) error
	StopFn    func(ctx context.Context) error
	CleanupFn func(ctx context.Context) error

	mu       sync.Mutex
	starts   int
	executes int
	pauses   int
	resumes  int
	stops    int
	cleanups int
}

func NewMock(spec TaskSpec, native bool) *Mock {
	return &Mock{spec: spec, native: native}
}

// Spec exposes the task spec the mock was built with, so tests can drive the
// progress callbacks directly.
func (m *Mock) Spec() TaskSpec { return m.spec }

func (m *Mock) SupportsNativePause() bool { return m.native }

func (m *Mock) Start(ctx context.Context) error {
	m.count(&m.starts)
	if m.StartFn != nil {
		return m.StartFn(ctx)
	}
	return ctx.Err()
}

func (m *Mock) Execute(ctx context.Context) error {
	m.count(&m.executes)
	if m.ExecuteFn != nil {
		return m.ExecuteFn(ctx)
	}
	m.spec.activity(fmt.Sprintf("Executed task: %s", m.spec.Task), events.LevelSuccess)
	return ctx.Err()
}

func (m *Mock) Pause(ctx context.Context) error {
	m.count(&m.pauses)
	if !m.native {
		return ErrNoNativePause
	}
	if m.PauseFn != nil {
		return m.PauseFn(ctx)
	}
	return nil
}

func (m *Mock) Resume(ctx context.Context) error {
	m.count(&m.resumes)
	if !m.native {
		return ErrNoNativePause
	}
	if m.ResumeFn != nil {
		return m.ResumeFn(ctx)
	}
	return nil
}

func (m *Mock) Stop(ctx context.Context) error {
	m.count(&m.stops)
	if m.StopFn != nil {
		return m.StopFn(ctx)
	}
	return nil
}

func (m *Mock) Cleanup(ctx context.Context) error {
	m.count(&m.cleanups)
	if m.CleanupFn != nil {
		return m.CleanupFn(ctx)
	}
	return nil
}

func (m *Mock) count(field *int) {
	m.mu.Lock()
	*field++
	m.mu.Unlock()
}

func (m *Mock) Starts() int   { m.mu.Lock(); defer m.mu.Unlock(); return m.starts }
func (m *Mock) Executes() int { m.mu.Lock(); defer m.mu.Unlock(); return m.executes }
func (m *Mock) Pauses() int   { m.mu.Lock(); defer m.mu.Unlock(); return m.pauses }
func (m *Mock) Resumes() int  { m.mu.Lock(); defer m.mu.Unlock(); return m.resumes }
func (m *Mock) Stops() int    { m.mu.Lock(); defer m.mu.Unlock(); return m.stops }
func (m *Mock) Cleanups() int { m.mu.Lock(); defer m.mu.Unlock(); return m.cleanups }
