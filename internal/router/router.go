// Package router terminates browser connections and forwards
// session-tagged frames between them and the active pool manager.
package router

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/arpanet-terminal/relay/internal/protocol"
)

// uplinkChannel is the single active pool manager socket. Writes are
// serialized because every browser pump forwards through it.
type uplinkChannel struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (u *uplinkChannel) Send(msg *protocol.Message) error {
	data, err := msg.Marshal()
	if err != nil {
		return err
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	u.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return u.ws.WriteMessage(websocket.TextMessage, data)
}

func (u *uplinkChannel) Close() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.ws.Close()
}

// Router owns the session-id to browser-socket routing table and the
// active uplink. It keeps accepting browsers even with no pool manager
// attached; those sessions just get error frames.
type Router struct {
	mu       sync.RWMutex
	sessions map[string]*client
	uplink   *uplinkChannel
}

// New creates an empty router.
func New() *Router {
	return &Router{
		sessions: make(map[string]*client),
	}
}

// SessionCount returns the number of connected browsers.
func (r *Router) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// HasUplink reports whether a pool manager is attached.
func (r *Router) HasUplink() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.uplink != nil
}

// AcceptDownstream serves one browser socket: issues a session id,
// registers the routing entry, announces the session upstream and relays
// until the browser goes away. Blocks for the connection lifetime.
func (r *Router) AcceptDownstream(conn *websocket.Conn) {
	sessionID := uuid.New().String()
	c := newClient(conn, sessionID)

	r.mu.Lock()
	r.sessions[sessionID] = c
	up := r.uplink
	r.mu.Unlock()

	log.Printf("Browser connected: %s from %s", sessionID, conn.RemoteAddr())

	go c.writePump()

	if up != nil {
		if err := up.Send(&protocol.Message{Type: protocol.MessageTypeNewSession, Session: sessionID}); err != nil {
			log.Printf("Failed to announce session %s upstream: %v", sessionID, err)
		}
	} else {
		c.Send(&protocol.Message{
			Type: protocol.MessageTypeError,
			Data: "Simulator pool not connected",
		})
	}

	r.readDownstream(c)

	// The browser is gone: drop the route and close the session upstream
	// exactly once.
	r.mu.Lock()
	delete(r.sessions, sessionID)
	up = r.uplink
	r.mu.Unlock()

	c.Close()

	if up != nil {
		if err := up.Send(&protocol.Message{Type: protocol.MessageTypeCloseSession, Session: sessionID}); err != nil {
			log.Printf("Failed to close session %s upstream: %v", sessionID, err)
		}
	}
	log.Printf("Browser disconnected: %s", sessionID)
}

// readDownstream consumes browser frames until the socket closes.
func (r *Router) readDownstream(c *client) {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("Browser socket error (%s): %v", c.sessionID, err)
			}
			return
		}
		r.relayUp(c, data)
	}
}

// relayUp stamps the client's session id onto one browser frame and
// forwards it to the pool manager. Browsers never supply session ids
// themselves.
func (r *Router) relayUp(c *client, data []byte) {
	msg, err := protocol.Unmarshal(data)
	if err != nil {
		log.Printf("Invalid JSON from browser (%s): %.100s", c.sessionID, data)
		return
	}

	r.mu.RLock()
	up := r.uplink
	r.mu.RUnlock()

	if up == nil {
		log.Printf("No pool manager connected to relay %s frame from %s", msg.Type, c.sessionID)
		c.Send(&protocol.Message{
			Type: protocol.MessageTypeError,
			Data: "Simulator pool not connected",
		})
		return
	}

	if err := up.Send(msg.Stamped(c.sessionID)); err != nil {
		log.Printf("Failed to relay %s frame for %s: %v", msg.Type, c.sessionID, err)
	}
}

// AcceptUplink serves the pool manager socket. Only one may be active; a
// reconnect replaces the previous one. Blocks for the connection lifetime.
func (r *Router) AcceptUplink(conn *websocket.Conn) {
	up := &uplinkChannel{ws: conn}

	r.mu.Lock()
	old := r.uplink
	r.uplink = up
	r.mu.Unlock()

	if old != nil {
		log.Printf("Replacing previous pool manager connection")
		old.Close()
	}
	log.Printf("Pool manager connected from %s", conn.RemoteAddr())

	r.readUplink(up)

	// Only clear the slot if we are still the active channel; a newer
	// uplink may have replaced us already.
	r.mu.Lock()
	lost := r.uplink == up
	if lost {
		r.uplink = nil
	}
	clients := make([]*client, 0, len(r.sessions))
	for _, c := range r.sessions {
		clients = append(clients, c)
	}
	r.mu.Unlock()

	if lost {
		log.Printf("Pool manager disconnected - browsers will not receive data")
		for _, c := range clients {
			c.Send(&protocol.Message{
				Type: protocol.MessageTypeError,
				Data: "Simulator pool disconnected",
			})
		}
	}
}

// readUplink consumes pool manager frames until the socket closes.
func (r *Router) readUplink(up *uplinkChannel) {
	up.ws.SetReadLimit(maxMessageSize)
	up.ws.SetReadDeadline(time.Now().Add(pongWait))
	// The pool manager pings from its side; treat pings as liveness.
	up.ws.SetPingHandler(func(appData string) error {
		up.ws.SetReadDeadline(time.Now().Add(pongWait))
		err := up.ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	for {
		_, data, err := up.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("Pool manager socket error: %v", err)
			}
			return
		}
		r.relayDown(data)
	}
}

// relayDown routes one pool manager frame to the browser that owns the
// session, stripping the session id on the way. A missing route is the
// normal close race, not an error.
func (r *Router) relayDown(data []byte) {
	msg, err := protocol.Unmarshal(data)
	if err != nil {
		log.Printf("Invalid JSON from pool manager: %.100s", data)
		return
	}
	if msg.Session == "" {
		log.Printf("Frame from pool manager missing session id")
		return
	}

	r.mu.RLock()
	c, ok := r.sessions[msg.Session]
	r.mu.RUnlock()

	if !ok {
		// Browser already went away; the frame raced the close.
		log.Printf("Dropping %s frame for unknown session %s", msg.Type, msg.Session)
		return
	}

	if err := c.Send(msg.Stripped()); err != nil {
		log.Printf("Failed to deliver %s frame to %s: %v", msg.Type, msg.Session, err)
	}
}

// Close disconnects every browser and the uplink.
func (r *Router) Close() {
	r.mu.Lock()
	clients := make([]*client, 0, len(r.sessions))
	for _, c := range r.sessions {
		clients = append(clients, c)
	}
	r.sessions = make(map[string]*client)
	up := r.uplink
	r.uplink = nil
	r.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
	if up != nil {
		up.Close()
	}
}

var _ sender = (*client)(nil)
var _ sender = (*uplinkChannel)(nil)
