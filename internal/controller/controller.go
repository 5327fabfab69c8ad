package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pilotfish/pilotfish/internal/automation"
	"github.com/pilotfish/pilotfish/internal/events"
	"github.com/pilotfish/pilotfish/internal/session"
)

// ErrNoViewportStream means the session's backend does not export rendered
// frames, or the session is already terminal.
var ErrNoViewportStream = errors.New("no viewport stream for session")

// Config assembles one session controller. Sink takes precedence over
// Broadcast when both are set; with neither, progress events are dropped.
type Config struct {
	SessionID string
	Task      string
	Model     string
	Factory   automation.Factory
	Sink      events.Sink
	Broadcast events.Sink
	// OnTerminal fires exactly once, after backend cleanup, on every path
	// that ends the session.
	OnTerminal func(snap session.Session)
}

// Controller owns the lifecycle of a single automation session: it launches
// the backend's unit of work, supervises it against a deadline, serializes
// pause/resume/stop against run-loop exits, and guarantees cleanup plus the
// terminal hook on every way out.
type Controller struct {
	sessionID  string
	task       string
	backend    automation.Backend
	kind       string
	sink       events.Sink
	onTerminal func(session.Session)

	// ctrl admits one control operation (or one run-loop transition) at a
	// time. Never acquired while holding mu.
	ctrl sync.Mutex

	mu        sync.Mutex
	status    session.Status
	startedAt time.Time
	location  string
	errMsg    string
	started   bool
	cancel    context.CancelFunc
	done      chan struct{}
	finalized bool
}

func New(cfg Config) *Controller {
	c := &Controller{
		sessionID:  cfg.SessionID,
		task:       cfg.Task,
		kind:       cfg.Factory.Kind(),
		sink:       cfg.Sink,
		onTerminal: cfg.OnTerminal,
		status:     session.StatusInitializing,
		startedAt:  time.Now().UTC(),
		location:   session.DefaultLocation,
	}
	if c.sink == nil {
		c.sink = cfg.Broadcast
	}
	c.backend = cfg.Factory.New(automation.TaskSpec{
		SessionID: cfg.SessionID,
		Task:      cfg.Task,
		Model:     cfg.Model,
		Activity:  c.emitActivity,
		Viewport:  c.emitViewport,
	})
	return c
}

func (c *Controller) emitActivity(message string, level events.Level) {
	if c.sink != nil {
		c.sink.SendActivity(c.sessionID, message, level)
	}
}

func (c *Controller) emitViewport(location string) {
	c.mu.Lock()
	c.location = location
	c.mu.Unlock()
	if c.sink != nil {
		c.sink.SendViewport(c.sessionID, location)
	}
}

// Launch starts the session's unit of work and returns immediately. The run
// is supervised in the background; timeout bounds the Execute call, zero
// means no deadline.
func (c *Controller) Launch(timeout time.Duration) {
	go c.run(timeout)
}

func (c *Controller) run(timeout time.Duration) {
	c.ctrl.Lock()
	c.mu.Lock()
	if c.status.Terminal() || c.status == session.StatusRunning {
		c.mu.Unlock()
		c.ctrl.Unlock()
		return
	}
	resuming := c.started
	c.mu.Unlock()

	if !resuming {
		if err := c.backend.Start(context.Background()); err != nil {
			// Nothing was in flight yet, so a warning, not an error.
			c.emitActivity(fmt.Sprintf("Task startup failed: %v", err), events.LevelWarning)
			c.mu.Lock()
			c.status = session.StatusFailed
			c.errMsg = err.Error()
			c.mu.Unlock()
			c.ctrl.Unlock()
			c.finishTerminal()
			return
		}
		c.mu.Lock()
		c.started = true
		c.status = session.StatusReady
		c.mu.Unlock()
	}

	runCtx := context.Background()
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(runCtx)
	}
	done := make(chan struct{})
	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.status = session.StatusRunning
	c.mu.Unlock()
	c.ctrl.Unlock()

	err := c.backend.Execute(runCtx)
	timedOut := errors.Is(runCtx.Err(), context.DeadlineExceeded)
	cancel()
	// Control operations join on done before touching state, so it must be
	// closed before taking ctrl here or pause/stop would deadlock.
	close(done)

	c.ctrl.Lock()
	c.mu.Lock()
	current := c.done == done
	status := c.status
	c.mu.Unlock()

	// A superseded run, or a run a control operation already classified,
	// cedes the outcome. The deadline is the exception: it fires with no
	// control operation attached, so an expired run settles itself even
	// when a pause landed first.
	if !current || status.Terminal() || (status != session.StatusRunning && !timedOut) {
		c.ctrl.Unlock()
		return
	}

	switch {
	case timedOut:
		c.emitActivity("time limit reached", events.LevelWarning)
		c.stopUnderCtrl(context.Background())
	case err != nil:
		c.emitActivity(fmt.Sprintf("Task execution failed: %v", err), events.LevelError)
		c.mu.Lock()
		c.status = session.StatusFailed
		c.errMsg = err.Error()
		c.mu.Unlock()
	default:
		c.emitActivity("completed", events.LevelSuccess)
		c.mu.Lock()
		c.status = session.StatusCompleted
		c.mu.Unlock()
	}
	c.ctrl.Unlock()
	c.finishTerminal()
}

// Pause suspends a running session. Backends without native pause get their
// Execute cancelled instead; the progress made so far is discarded and a
// later Resume re-runs the task from its first step.
func (c *Controller) Pause(ctx context.Context) error {
	c.ctrl.Lock()
	defer c.ctrl.Unlock()

	c.mu.Lock()
	running := c.status == session.StatusRunning
	c.mu.Unlock()
	if !running {
		return nil
	}

	if c.backend.SupportsNativePause() {
		if err := c.backend.Pause(ctx); err != nil {
			return err
		}
	} else {
		c.cancelAndJoin()
	}
	c.mu.Lock()
	c.status = session.StatusPaused
	c.mu.Unlock()
	c.emitActivity("paused", events.LevelWarning)
	return nil
}

// Resume continues a paused session. On cancel-only backends this launches a
// fresh run bounded by timeout; on native ones the in-flight Execute picks
// back up where it left off.
func (c *Controller) Resume(ctx context.Context, timeout time.Duration) error {
	c.ctrl.Lock()
	c.mu.Lock()
	paused := c.status == session.StatusPaused
	c.mu.Unlock()
	if !paused {
		c.ctrl.Unlock()
		return nil
	}

	if c.backend.SupportsNativePause() {
		if err := c.backend.Resume(ctx); err != nil {
			c.ctrl.Unlock()
			return err
		}
		c.mu.Lock()
		c.status = session.StatusRunning
		c.mu.Unlock()
		c.emitActivity("resumed", events.LevelInfo)
		c.ctrl.Unlock()
		return nil
	}

	c.emitActivity("resumed", events.LevelInfo)
	c.ctrl.Unlock()
	c.Launch(timeout)
	return nil
}

// Stop ends the session. It is idempotent, emits "stopped" even when nothing
// is running, and never reports an error to the caller.
func (c *Controller) Stop(ctx context.Context) error {
	c.ctrl.Lock()
	c.cancelAndJoin()
	c.stopUnderCtrl(ctx)
	c.ctrl.Unlock()
	c.finishTerminal()
	return nil
}

// stopUnderCtrl runs the stop sequence with ctrl already held and no run
// loop in flight. Terminal states are absorbing: the event is still emitted
// but the status is left alone.
func (c *Controller) stopUnderCtrl(ctx context.Context) {
	c.mu.Lock()
	terminal := c.status.Terminal()
	if !terminal {
		c.status = session.StatusStopping
	}
	c.mu.Unlock()

	if err := c.backend.Stop(ctx); err != nil {
		c.emitActivity(fmt.Sprintf("Backend stop failed: %v", err), events.LevelWarning)
	}
	c.emitActivity("stopped", events.LevelInfo)

	c.mu.Lock()
	if !c.status.Terminal() {
		c.status = session.StatusStopped
	}
	c.mu.Unlock()
}

// UpdateStatus maps the external status vocabulary onto control operations.
// Unrecognized names are ignored rather than rejected.
func (c *Controller) UpdateStatus(ctx context.Context, name string, timeout time.Duration) error {
	switch name {
	case string(session.StatusPaused):
		return c.Pause(ctx)
	case string(session.StatusRunning):
		return c.Resume(ctx, timeout)
	case string(session.StatusCompleted):
		return c.Stop(ctx)
	default:
		return nil
	}
}

// Frames exposes the backend's rendered viewport stream for sessions that
// are not yet terminal.
func (c *Controller) Frames(ctx context.Context) (<-chan []byte, error) {
	c.mu.Lock()
	terminal := c.status.Terminal()
	c.mu.Unlock()
	if terminal {
		return nil, ErrNoViewportStream
	}
	fs, ok := c.backend.(automation.FrameStreamer)
	if !ok {
		return nil, ErrNoViewportStream
	}
	return fs.Frames(ctx), nil
}

// Snapshot returns a point-in-time copy of the session's observable state.
func (c *Controller) Snapshot() session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return session.Session{
		ID:              c.sessionID,
		Task:            c.task,
		Backend:         c.kind,
		Status:          c.status,
		StartedAt:       c.startedAt,
		CurrentLocation: c.location,
		Error:           c.errMsg,
	}
}

func (c *Controller) cancelAndJoin() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// finishTerminal releases backend resources and fires the terminal hook,
// once, no matter how many exit paths race into it.
func (c *Controller) finishTerminal() {
	c.mu.Lock()
	if c.finalized || !c.status.Terminal() {
		c.mu.Unlock()
		return
	}
	c.finalized = true
	c.mu.Unlock()

	_ = c.backend.Cleanup(context.Background())
	if c.onTerminal != nil {
		c.onTerminal(c.Snapshot())
	}
}
