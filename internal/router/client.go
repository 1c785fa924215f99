package router

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arpanet-terminal/relay/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 120 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = 60 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 65536

	// sendQueueSize buffers paced output frames per browser connection.
	sendQueueSize = 256
)

// sender is the minimal surface shared by downstream clients and the
// uplink channel.
type sender interface {
	Send(msg *protocol.Message) error
	Close()
}

// client is one browser connection, 1:1 with a session for its lifetime.
type client struct {
	conn      *websocket.Conn
	sessionID string
	send      chan []byte

	mu     sync.Mutex
	closed bool
}

func newClient(conn *websocket.Conn, sessionID string) *client {
	return &client{
		conn:      conn,
		sessionID: sessionID,
		send:      make(chan []byte, sendQueueSize),
	}
}

// Send queues a frame for delivery to the browser. A client that cannot
// drain its queue is closed rather than allowed to block the router.
func (c *client) Send(msg *protocol.Message) error {
	data, err := msg.Marshal()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	select {
	case c.send <- data:
	default:
		log.Printf("Browser send queue full for session %s, dropping connection", c.sessionID)
		c.closeLocked()
	}
	return nil
}

// Close closes the client's send side. The pumps notice and tear the
// socket down.
func (c *client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// writePump pumps queued frames to the browser socket and keeps the link
// alive with pings. One writePump per connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// One frame per message so JSON.parse works on the page.
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
