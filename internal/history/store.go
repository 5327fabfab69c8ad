package history

import (
	"context"
	"strings"
	"time"
)

// Record is one archived session outcome. Rows are written once, when the
// session reaches a terminal status, and never updated.
type Record struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	Task         string    `json:"task"`
	Backend      string    `json:"backend"`
	Status       string    `json:"status"`
	Error        string    `json:"error,omitempty"`
	LastLocation string    `json:"last_location"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at"`
}

// Store archives terminal session outcomes. Implementations must be safe for
// concurrent use.
type Store interface {
	Save(ctx context.Context, rec Record) error
	ListBySession(ctx context.Context, sessionID string, limit int) ([]Record, error)
	ListRecent(ctx context.Context, limit int) ([]Record, error)
	Close()
}

// NewStore returns a Postgres-backed store, or nil when no database URL is
// configured. A nil Store means history is disabled, not an error.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	url := strings.TrimSpace(databaseURL)
	if url == "" {
		return nil, nil
	}
	return newPostgresStore(ctx, url)
}
