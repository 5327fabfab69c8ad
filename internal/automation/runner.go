package automation

import (
	"context"
)

// Runner executes a whole task as one opaque shot: no pause primitive, no
// progress checkpoints, cancellation through ctx only.
type Runner interface {
	Run(ctx context.Context, spec TaskSpec) error
}

type runnerFactory struct {
	opts   Options
	runner Runner
}

func (f *runnerFactory) Kind() string { return "runner" }

func (f *runnerFactory) New(spec TaskSpec) Backend {
	return &CancelOnly{spec: spec, runner: f.runner}
}

// CancelOnly is the cancel-only backend. Pause is emulated by the controller
// cancelling Execute; a later resume calls Execute again, which re-runs the
// task from its first step. Progress made before the cancellation is lost.
// That restart-from-scratch behavior is deliberate and documented, not a bug.
type CancelOnly struct {
	spec   TaskSpec
	runner Runner
}

func (c *CancelOnly) SupportsNativePause() bool { return false }

func (c *CancelOnly) Start(ctx context.Context) error {
	// Resources are created per run; nothing to prepare up front.
	_ = ctx
	return nil
}

func (c *CancelOnly) Execute(ctx context.Context) error {
	return c.runner.Run(ctx, c.spec)
}

func (c *CancelOnly) Pause(ctx context.Context) error {
	_ = ctx
	return ErrNoNativePause
}

func (c *CancelOnly) Resume(ctx context.Context) error {
	_ = ctx
	return ErrNoNativePause
}

func (c *CancelOnly) Stop(ctx context.Context) error {
	_ = ctx
	return nil
}

func (c *CancelOnly) Cleanup(ctx context.Context) error {
	_ = ctx
	return nil
}

// planRunner is the default cancel-only executor: a fresh browsing context
// per run, the same deterministic plan, no pause polling.
type planRunner struct {
	opts Options
}

func (r planRunner) Run(ctx context.Context, spec TaskSpec) error {
	b := newBrowser(spec, r.opts)
	if err := b.Start(ctx); err != nil {
		return err
	}
	defer b.Cleanup(context.Background())
	return b.Execute(ctx)
}
