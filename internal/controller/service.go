package controller

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/pilotfish/pilotfish/internal/automation"
	"github.com/pilotfish/pilotfish/internal/events"
	"github.com/pilotfish/pilotfish/internal/history"
	"github.com/pilotfish/pilotfish/internal/observability"
	"github.com/pilotfish/pilotfish/internal/session"
)

var (
	ErrMissingSessionID = errors.New("session id is required")
	ErrMissingTask      = errors.New("task is required")
)

// ServiceConfig wires the session service. Store and Metrics are optional.
type ServiceConfig struct {
	Factory        automation.Factory
	Sink           events.Sink
	Store          history.Store
	Metrics        *observability.Metrics
	DefaultTimeout time.Duration
}

// Service is the application-facing entry point: it enforces the one active
// session per id rule, fans control operations out to the owning controller,
// and archives terminal outcomes.
type Service struct {
	registry       *session.Registry
	factory        automation.Factory
	sink           events.Sink
	store          history.Store
	metrics        *observability.Metrics
	defaultTimeout time.Duration
}

func NewService(cfg ServiceConfig) *Service {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 2 * time.Minute
	}
	return &Service{
		registry:       session.NewRegistry(),
		factory:        cfg.Factory,
		sink:           cfg.Sink,
		store:          cfg.Store,
		metrics:        cfg.Metrics,
		defaultTimeout: cfg.DefaultTimeout,
	}
}

// StartRequest describes one session start. Timeout zero means the service
// default.
type StartRequest struct {
	SessionID string
	Task      string
	Model     string
	Timeout   time.Duration
}

// Start registers a new session and launches its task. A second start for an
// id that is still active is rejected with session.ErrDuplicateSession; the
// caller may retry once the first session reaches a terminal status.
func (s *Service) Start(ctx context.Context, req StartRequest) error {
	id := strings.TrimSpace(req.SessionID)
	if id == "" {
		return ErrMissingSessionID
	}
	if strings.TrimSpace(req.Task) == "" {
		return ErrMissingTask
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.defaultTimeout
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ctrl := New(Config{
		SessionID:  id,
		Task:       req.Task,
		Model:      req.Model,
		Factory:    s.factory,
		Sink:       s.sink,
		OnTerminal: s.finalize,
	})
	if err := s.registry.Register(id, ctrl); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.ActiveSessions.Set(float64(s.registry.Count()))
	}
	log.Printf("session %s: starting task (backend=%s timeout=%s)", id, s.factory.Kind(), timeout)
	ctrl.Launch(timeout)
	return nil
}

// Stop ends a session. Unknown ids are not an error: the stop outcome is the
// same whether or not anything was running.
func (s *Service) Stop(ctx context.Context, sessionID string) error {
	h, err := s.registry.Get(sessionID)
	if errors.Is(err, session.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return h.Stop(ctx)
}

func (s *Service) Pause(ctx context.Context, sessionID string) error {
	h, err := s.registry.Get(sessionID)
	if err != nil {
		return err
	}
	return h.Pause(ctx)
}

// Resume continues a paused session. On the cancel-only backend the restarted
// run is bounded by timeout; zero means the service default.
func (s *Service) Resume(ctx context.Context, sessionID string, timeout time.Duration) error {
	h, err := s.registry.Get(sessionID)
	if err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = s.defaultTimeout
	}
	return h.Resume(ctx, timeout)
}

// UpdateStatus applies an externally requested status to a session. The
// timeout bounds a run restarted through the "running" mapping; zero means
// the service default.
func (s *Service) UpdateStatus(ctx context.Context, sessionID, status string, timeout time.Duration) error {
	h, err := s.registry.Get(sessionID)
	if err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = s.defaultTimeout
	}
	return h.UpdateStatus(ctx, status, timeout)
}

// Get returns a snapshot of an active session.
func (s *Service) Get(sessionID string) (session.Session, error) {
	h, err := s.registry.Get(sessionID)
	if err != nil {
		return session.Session{}, err
	}
	return h.Snapshot(), nil
}

// Frames exposes the viewport stream of an active session, if its backend
// renders one.
func (s *Service) Frames(ctx context.Context, sessionID string) (<-chan []byte, error) {
	h, err := s.registry.Get(sessionID)
	if err != nil {
		return nil, err
	}
	ctrl, ok := h.(*Controller)
	if !ok {
		return nil, ErrNoViewportStream
	}
	return ctrl.Frames(ctx)
}

func (s *Service) IsActive(sessionID string) bool { return s.registry.Contains(sessionID) }

func (s *Service) ActiveCount() int { return s.registry.Count() }

// History lists archived outcomes for a session id. With no store configured
// the result is empty, not an error.
func (s *Service) History(ctx context.Context, sessionID string, limit int) ([]history.Record, error) {
	if s.store == nil {
		return []history.Record{}, nil
	}
	return s.store.ListBySession(ctx, sessionID, limit)
}

// RecentHistory lists the latest archived outcomes across all sessions.
func (s *Service) RecentHistory(ctx context.Context, limit int) ([]history.Record, error) {
	if s.store == nil {
		return []history.Record{}, nil
	}
	return s.store.ListRecent(ctx, limit)
}

// Shutdown stops every active session and blocks until their terminal hooks
// have run.
func (s *Service) Shutdown(ctx context.Context) {
	for _, h := range s.registry.List() {
		_ = h.Stop(ctx)
	}
}

// finalize runs once per session, after backend cleanup. It frees the id for
// reuse first, then records the outcome.
func (s *Service) finalize(snap session.Session) {
	s.registry.Unregister(snap.ID)
	log.Printf("session %s: finished with status %s", snap.ID, snap.Status)

	if s.metrics != nil {
		s.metrics.ActiveSessions.Set(float64(s.registry.Count()))
		s.metrics.SessionOutcomes.WithLabelValues(string(snap.Status)).Inc()
		s.metrics.ObserveSessionDuration(time.Since(snap.StartedAt))
	}
	if s.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		rec := history.Record{
			SessionID:    snap.ID,
			Task:         snap.Task,
			Backend:      snap.Backend,
			Status:       string(snap.Status),
			Error:        snap.Error,
			LastLocation: snap.CurrentLocation,
			StartedAt:    snap.StartedAt,
			EndedAt:      time.Now().UTC(),
		}
		if err := s.store.Save(ctx, rec); err != nil {
			log.Printf("session %s: archive failed: %v", snap.ID, err)
		}
	}
}
