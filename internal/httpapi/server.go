package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/pilotfish/pilotfish/internal/config"
	"github.com/pilotfish/pilotfish/internal/controller"
	"github.com/pilotfish/pilotfish/internal/events"
	"github.com/pilotfish/pilotfish/internal/observability"
	"github.com/pilotfish/pilotfish/internal/session"
)

type Server struct {
	cfg         config.Config
	service     *controller.Service
	broadcaster *events.Broadcaster
	metrics     *observability.Metrics
	upgrader    websocket.Upgrader
}

func New(cfg config.Config, service *controller.Service, broadcaster *events.Broadcaster, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:         cfg,
		service:     service,
		broadcaster: broadcaster,
		metrics:     metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browser connections unless explicitly
				// opened up; non-browser clients omit Origin and pass.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/start-session", s.handleStartSession)
	r.Post("/stop-session", s.handleStopSession)
	r.Post("/pause-session", s.handlePauseSession)
	r.Post("/resume-session", s.handleResumeSession)
	r.Post("/update-status", s.handleUpdateStatus)
	r.Get("/status/{sessionID}", s.handleGetStatus)
	r.Get("/history", s.handleRecentHistory)
	r.Get("/history/{sessionID}", s.handleHistory)
	r.Get("/ws/{sessionID}", s.handleWS)
	r.Get("/viewport/{sessionID}", s.handleViewport)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": s.service.ActiveCount(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

type startSessionRequest struct {
	SessionID      string `json:"session_id"`
	Task           string `json:"task"`
	Model          string `json:"model,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	err := s.service.Start(r.Context(), controller.StartRequest{
		SessionID: req.SessionID,
		Task:      req.Task,
		Model:     req.Model,
		Timeout:   time.Duration(req.TimeoutSeconds) * time.Second,
	})
	switch {
	case errors.Is(err, session.ErrDuplicateSession):
		respondError(w, http.StatusConflict, "session_already_active", err.Error())
		return
	case errors.Is(err, controller.ErrMissingSessionID), errors.Is(err, controller.ErrMissingTask):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "start_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"status":     "started",
		"session_id": strings.TrimSpace(req.SessionID),
	})
}

type sessionIDRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	var req sessionIDRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.service.Stop(r.Context(), req.SessionID); err != nil {
		respondError(w, http.StatusInternalServerError, "stop_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "stopped",
		"session_id": req.SessionID,
	})
}

func (s *Server) handlePauseSession(w http.ResponseWriter, r *http.Request) {
	var req sessionIDRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.service.Pause(r.Context(), req.SessionID); err != nil {
		s.respondControlError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "paused",
		"session_id": req.SessionID,
	})
}

type resumeSessionRequest struct {
	SessionID      string `json:"session_id"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

func (s *Server) handleResumeSession(w http.ResponseWriter, r *http.Request) {
	var req resumeSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	timeout := time.Duration(req.TimeoutSeconds) * time.Second
	if err := s.service.Resume(r.Context(), req.SessionID, timeout); err != nil {
		s.respondControlError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "resumed",
		"session_id": req.SessionID,
	})
}

type updateStatusRequest struct {
	SessionID      string `json:"session_id"`
	Status         string `json:"status"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	timeout := time.Duration(req.TimeoutSeconds) * time.Second
	if err := s.service.UpdateStatus(r.Context(), req.SessionID, req.Status, timeout); err != nil {
		s.respondControlError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     req.Status,
		"session_id": req.SessionID,
	})
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	snap, err := s.service.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleRecentHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := limitParam(w, r)
	if !ok {
		return
	}
	recs, err := s.service.RecentHistory(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "history_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"records": recs})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	limit, ok := limitParam(w, r)
	if !ok {
		return
	}
	recs, err := s.service.History(r.Context(), id, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "history_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"records":    recs,
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(chi.URLParam(r, "sessionID"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "session id is required")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ws := &wsConn{conn: conn, metrics: s.metrics}
	connID := s.broadcaster.Connect(sessionID, ws)
	defer s.broadcaster.Disconnect(sessionID, connID)

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	// Subscribers only listen; the read loop exists to notice disconnects
	// and answer pings.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// handleViewport streams rendered frames as a multipart document, one part
// per frame, until the backend stops producing or the client goes away.
func (s *Server) handleViewport(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	frames, err := s.service.Frames(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			respondError(w, http.StatusNotFound, "session_not_found", err.Error())
			return
		}
		respondError(w, http.StatusConflict, "viewport_unavailable", err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer cannot stream")
		return
	}
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.WriteHeader(http.StatusOK)

	for frame := range frames {
		if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: text/html\r\nContent-Length: %d\r\n\r\n", len(frame)); err != nil {
			return
		}
		if _, err := w.Write(frame); err != nil {
			return
		}
		if _, err := fmt.Fprint(w, "\r\n"); err != nil {
			return
		}
		flusher.Flush()
	}
}

// limitParam parses the optional ?limit query parameter; the second return is
// false when the response has already been written.
func limitParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	limit := 50
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return 0, false
		}
		limit = n
	}
	return limit, true
}

func (s *Server) respondControlError(w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrNotFound) {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	respondError(w, http.StatusInternalServerError, "control_failed", err.Error())
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
