package session

import (
	"context"
	"time"
)

// DefaultLocation is reported until the first viewport event arrives.
const DefaultLocation = "about:blank"

type Status string

const (
	StatusInitializing Status = "initializing"
	StatusReady        Status = "ready"
	StatusRunning      Status = "running"
	StatusPaused       Status = "paused"
	StatusStopping     Status = "stopping"
	StatusStopped      Status = "stopped"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// Terminal reports whether no further transition may leave the status.
func (s Status) Terminal() bool {
	switch s {
	case StatusStopped, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// Session is a point-in-time snapshot of one automation session.
type Session struct {
	ID              string    `json:"session_id"`
	Task            string    `json:"task"`
	Backend         string    `json:"backend"`
	Status          Status    `json:"status"`
	StartedAt       time.Time `json:"started_at"`
	CurrentLocation string    `json:"current_location"`
	Error           string    `json:"error,omitempty"`
}

// Handle is the control surface the registry tracks per active session.
// The lifecycle controller implements it.
type Handle interface {
	Pause(ctx context.Context) error
	Resume(ctx context.Context, timeout time.Duration) error
	Stop(ctx context.Context) error
	UpdateStatus(ctx context.Context, name string, timeout time.Duration) error
	Snapshot() Session
}
