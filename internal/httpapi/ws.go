package httpapi

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pilotfish/pilotfish/internal/events"
	"github.com/pilotfish/pilotfish/internal/observability"
)

// wsConn adapts one gorilla connection to the broadcaster. Writes are
// serialized; a failed write reports the connection dead so the broadcaster
// prunes it.
type wsConn struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	metrics *observability.Metrics
}

func (c *wsConn) Send(ev events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.conn.WriteJSON(ev); err != nil {
		if c.metrics != nil {
			c.metrics.WSWriteErrors.Inc()
		}
		return err
	}
	return nil
}
