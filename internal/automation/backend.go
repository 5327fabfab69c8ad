package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pilotfish/pilotfish/internal/events"
)

var (
	// ErrBackendUnavailable means no execution backend could be constructed.
	// It is fatal at process startup, never per-session.
	ErrBackendUnavailable = errors.New("no automation backend available")

	// ErrNoNativePause is returned by Pause/Resume on backends whose pause
	// semantics are emulated by the caller through cancellation.
	ErrNoNativePause = errors.New("backend has no native pause")
)

// TaskSpec describes one session's unit of work and the callbacks progress is
// reported through. Both callbacks are optional.
type TaskSpec struct {
	SessionID string
	Task      string
	Model     string
	Activity  func(message string, level events.Level)
	Viewport  func(location string)
}

func (s TaskSpec) activity(message string, level events.Level) {
	if s.Activity != nil {
		s.Activity(message, level)
	}
}

func (s TaskSpec) viewport(location string) {
	if s.Viewport != nil {
		s.Viewport(location)
	}
}

// Backend drives one session's task. Exactly one Execute is in flight at a
// time; the lifecycle controller enforces that.
//
// Backends that report SupportsNativePause() == false have pause emulated by
// the controller: the running Execute is cancelled outright and a later
// resume calls Execute again from the beginning. Pause and Resume on such
// backends return ErrNoNativePause.
type Backend interface {
	// Start prepares backend resources (browser context, network handles).
	Start(ctx context.Context) error
	// Execute runs the task to completion or until ctx is done.
	Execute(ctx context.Context) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Stop(ctx context.Context) error
	// Cleanup releases backend resources. Safe to call repeatedly and after
	// Stop.
	Cleanup(ctx context.Context) error
	SupportsNativePause() bool
}

// FrameStreamer is implemented by backends that can export rendered viewport
// frames. The returned channel is lazy and non-restartable; it closes when
// the page handle goes away or ctx is done. Closing is the producer's job,
// walking away early is the consumer's.
type FrameStreamer interface {
	Frames(ctx context.Context) <-chan []byte
}

// Factory builds one backend instance per session. The concrete factory is
// chosen once at process startup; business logic never branches on the
// backend kind per call.
type Factory interface {
	Kind() string
	New(spec TaskSpec) Backend
}

// FactoryFunc adapts a constructor function to the Factory interface.
type FactoryFunc struct {
	Name       string
	NewBackend func(spec TaskSpec) Backend
}

func (f FactoryFunc) Kind() string              { return f.Name }
func (f FactoryFunc) New(spec TaskSpec) Backend { return f.NewBackend(spec) }

// Options tunes the built-in backends.
type Options struct {
	Mode          string
	StartURL      string
	SearchURL     string
	UserAgent     string
	HTTPTimeout   time.Duration
	StepDelay     time.Duration
	PausePoll     time.Duration
	FrameInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.StartURL == "" {
		o.StartURL = "https://duckduckgo.com/html/"
	}
	if o.SearchURL == "" {
		o.SearchURL = "https://duckduckgo.com/html/?q="
	}
	if o.UserAgent == "" {
		o.UserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	}
	if o.HTTPTimeout <= 0 {
		o.HTTPTimeout = 30 * time.Second
	}
	if o.StepDelay <= 0 {
		o.StepDelay = 2 * time.Second
	}
	if o.PausePoll <= 0 {
		o.PausePoll = time.Second
	}
	if o.FrameInterval <= 0 {
		o.FrameInterval = 500 * time.Millisecond
	}
	return o
}

// NewFactory selects the execution backend for the whole process. "auto"
// prefers the browser backend with native pause control; "runner" forces the
// cancel-only executor.
func NewFactory(opts Options) (Factory, error) {
	mode := strings.ToLower(strings.TrimSpace(opts.Mode))
	if mode == "" {
		mode = "auto"
	}
	opts = opts.withDefaults()

	switch mode {
	case "auto", "browser":
		return &browserFactory{opts: opts}, nil
	case "runner":
		return &runnerFactory{opts: opts, runner: planRunner{opts: opts}}, nil
	case "mock":
		return FactoryFunc{Name: "mock", NewBackend: func(spec TaskSpec) Backend {
			return NewMock(spec, true)
		}}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported backend mode %q", ErrBackendUnavailable, opts.Mode)
	}
}
