// Package uplink maintains the pool manager's connections to routers,
// reconnecting autonomously with capped exponential backoff.
package uplink

import (
	"crypto/tls"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arpanet-terminal/relay/internal/protocol"
)

// State is the connection lifecycle state. Transitions are monotonic
// within one reconnect cycle: Disconnected -> Connecting -> Connected ->
// Disconnected.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second

	// pongWait and pingPeriod keep the link alive without reaping flaky
	// client networks aggressively.
	pongWait   = 120 * time.Second
	pingPeriod = 60 * time.Second
)

// Conn is one pool-manager-to-router connection. At most one live socket
// exists per Conn at any time.
type Conn struct {
	url string
	id  string

	mu         sync.Mutex
	ws         *websocket.Conn
	state      State
	retryCount int
}

// NewConn creates a disconnected uplink for the given router URL.
func NewConn(rawURL string) *Conn {
	return &Conn{
		url:   rawURL,
		id:    friendlyID(rawURL),
		state: StateDisconnected,
	}
}

// friendlyID derives a short connection name from the router URL.
func friendlyID(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return rawURL
	}
	host := u.Hostname()
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return "local"
	}
	return host
}

// ID returns the friendly connection name.
func (c *Conn) ID() string {
	return c.id
}

// URL returns the router URL this uplink dials.
func (c *Conn) URL() string {
	return c.url
}

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether a live socket is attached.
func (c *Conn) Connected() bool {
	return c.State() == StateConnected
}

// RetryCount returns the consecutive failed connect attempts.
func (c *Conn) RetryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retryCount
}

// Send marshals the frame and writes it as one text message. Serialized so
// the relay goroutines of different sessions never interleave writes.
func (c *Conn) Send(msg *protocol.Message) error {
	data, err := msg.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConnected || c.ws == nil {
		return fmt.Errorf("uplink %s is not connected", c.id)
	}
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// sendPing writes a ping control frame.
func (c *Conn) sendPing() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConnected || c.ws == nil {
		return fmt.Errorf("uplink %s is not connected", c.id)
	}
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.PingMessage, nil)
}

// attach installs a freshly dialed socket.
func (c *Conn) attach(ws *websocket.Conn) {
	c.mu.Lock()
	c.ws = ws
	c.state = StateConnected
	c.retryCount = 0
	c.mu.Unlock()
}

// markConnecting records the start of a connect attempt.
func (c *Conn) markConnecting() {
	c.mu.Lock()
	c.state = StateConnecting
	c.mu.Unlock()
}

// markDisconnected drops the socket and returns to Disconnected.
func (c *Conn) markDisconnected() {
	c.mu.Lock()
	if c.ws != nil {
		c.ws.Close()
		c.ws = nil
	}
	c.state = StateDisconnected
	c.mu.Unlock()
}

// failAttempt records a failed connect attempt.
func (c *Conn) failAttempt() {
	c.mu.Lock()
	c.state = StateDisconnected
	c.ws = nil
	c.retryCount++
	c.mu.Unlock()
}

// socket returns the live websocket, or nil.
func (c *Conn) socket() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws
}

// Close tears the socket down for good.
func (c *Conn) Close() {
	c.markDisconnected()
}

// defaultDial dials the router. Certificate verification is disabled for
// wss so self-signed router certs work, matching the browser-free trust
// model of the legacy deployment.
func defaultDial(rawURL string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if strings.HasPrefix(rawURL, "wss://") {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	ws, _, err := dialer.Dial(rawURL, nil)
	return ws, err
}
