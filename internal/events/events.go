package events

import "time"

// Level classifies the severity of an activity event.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Type discriminates the two event kinds pushed to subscribers.
type Type string

const (
	TypeActivity Type = "activity"
	TypeViewport Type = "viewport"
)

// Event is one push notification scoped to a session. Activity events carry
// Message and Level; viewport events carry Location.
type Event struct {
	Type      Type      `json:"type"`
	SessionID string    `json:"sessionId"`
	Message   string    `json:"message,omitempty"`
	Level     Level     `json:"level,omitempty"`
	Location  string    `json:"location,omitempty"`
	At        time.Time `json:"at"`
}

func Activity(sessionID, message string, level Level) Event {
	return Event{
		Type:      TypeActivity,
		SessionID: sessionID,
		Message:   message,
		Level:     level,
		At:        time.Now().UTC(),
	}
}

func Viewport(sessionID, location string) Event {
	return Event{
		Type:      TypeViewport,
		SessionID: sessionID,
		Location:  location,
		At:        time.Now().UTC(),
	}
}

// Sink receives session-scoped events. Implementations must tolerate
// concurrent calls from multiple sessions.
type Sink interface {
	SendActivity(sessionID, message string, level Level)
	SendViewport(sessionID, location string)
}
