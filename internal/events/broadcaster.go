package events

import (
	"sync"

	"github.com/google/uuid"
)

// Conn is one live subscriber connection. The broadcaster never owns the
// transport lifecycle; a failed Send marks the connection dead and it is
// pruned on the same broadcast.
type Conn interface {
	Send(Event) error
}

// Broadcaster fans events out to every live subscriber of a session.
// Delivery for one session happens under that session's lock, so each
// subscriber observes a session's events in emission order. Sessions do not
// contend with each other.
type Broadcaster struct {
	mu       sync.RWMutex
	sessions map[string]*subscriberSet
}

type subscriberSet struct {
	mu    sync.Mutex
	conns map[string]Conn
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{sessions: make(map[string]*subscriberSet)}
}

// Connect registers a subscriber for the session and returns its connection
// id. Subscribing to a session that is not (yet) active is allowed; the
// subscriber simply receives nothing until events arrive.
//
// The conn is added while the outer lock is still held: releasing it first
// would let a concurrent Disconnect empty the set and drop the map entry,
// stranding the new subscriber on a detached set.
func (b *Broadcaster) Connect(sessionID string, conn Conn) string {
	id := uuid.NewString()

	b.mu.Lock()
	set, ok := b.sessions[sessionID]
	if !ok {
		set = &subscriberSet{conns: make(map[string]Conn)}
		b.sessions[sessionID] = set
	}
	set.mu.Lock()
	set.conns[id] = conn
	set.mu.Unlock()
	b.mu.Unlock()
	return id
}

// Disconnect removes the subscriber. When the session's set becomes empty the
// session entry itself is dropped.
func (b *Broadcaster) Disconnect(sessionID, connID string) {
	b.mu.RLock()
	set := b.sessions[sessionID]
	b.mu.RUnlock()
	if set == nil {
		return
	}

	set.mu.Lock()
	delete(set.conns, connID)
	empty := len(set.conns) == 0
	set.mu.Unlock()

	if empty {
		b.dropIfEmpty(sessionID)
	}
}

// Broadcast delivers the event to every live subscriber of the session,
// best-effort. A connection whose Send fails is removed as a side effect;
// the failure never surfaces to the session or to other subscribers.
func (b *Broadcaster) Broadcast(sessionID string, evt Event) {
	b.mu.RLock()
	set := b.sessions[sessionID]
	b.mu.RUnlock()
	if set == nil {
		return
	}

	set.mu.Lock()
	var dead []string
	for id, conn := range set.conns {
		if err := conn.Send(evt); err != nil {
			dead = append(dead, id)
		}
	}
	for _, id := range dead {
		delete(set.conns, id)
	}
	empty := len(set.conns) == 0
	set.mu.Unlock()

	if empty && len(dead) > 0 {
		b.dropIfEmpty(sessionID)
	}
}

// SubscriberCount reports the live subscribers for a session.
func (b *Broadcaster) SubscriberCount(sessionID string) int {
	b.mu.RLock()
	set := b.sessions[sessionID]
	b.mu.RUnlock()
	if set == nil {
		return 0
	}
	set.mu.Lock()
	defer set.mu.Unlock()
	return len(set.conns)
}

func (b *Broadcaster) dropIfEmpty(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.sessions[sessionID]
	if !ok {
		return
	}
	set.mu.Lock()
	empty := len(set.conns) == 0
	set.mu.Unlock()
	if empty {
		delete(b.sessions, sessionID)
	}
}

// SendActivity implements Sink.
func (b *Broadcaster) SendActivity(sessionID, message string, level Level) {
	b.Broadcast(sessionID, Activity(sessionID, message, level))
}

// SendViewport implements Sink.
func (b *Broadcaster) SendViewport(sessionID, location string) {
	b.Broadcast(sessionID, Viewport(sessionID, location))
}
