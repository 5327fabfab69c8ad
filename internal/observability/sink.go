package observability

import (
	"github.com/pilotfish/pilotfish/internal/events"
)

// InstrumentedSink counts every emitted event before handing it to the real
// sink.
type InstrumentedSink struct {
	Next    events.Sink
	Metrics *Metrics
}

func (s InstrumentedSink) SendActivity(sessionID, message string, level events.Level) {
	s.Metrics.EventsEmitted.WithLabelValues(string(events.TypeActivity)).Inc()
	s.Next.SendActivity(sessionID, message, level)
}

func (s InstrumentedSink) SendViewport(sessionID, location string) {
	s.Metrics.EventsEmitted.WithLabelValues(string(events.TypeViewport)).Inc()
	s.Next.SendViewport(sessionID, location)
}
