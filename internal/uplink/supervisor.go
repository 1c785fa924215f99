package uplink

import (
	"context"
	"log"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sethvargo/go-retry"

	"github.com/arpanet-terminal/relay/internal/protocol"
)

const (
	// baseBackoff and maxBackoff bound the reconnect delay: 1s, 2s, 4s,
	// 8s, then 16s forever until a connect succeeds.
	baseBackoff = 1 * time.Second
	maxBackoff  = 16 * time.Second
)

// Handler receives the frames and lifecycle events of one uplink.
// Implemented by the session pool manager.
type Handler interface {
	NewSession(id string, conn *Conn)
	CloseSession(id string)
	Input(id, data string)
	Resize(id string, cols, rows uint16)
	SetBaudRate(id string, baud int)
	ConnectionLost(conn *Conn)
}

// Supervisor keeps one uplink alive forever: dial with backoff, run the
// listener, cascade the loss, repeat. Multiple supervisors run
// independently, one per configured router.
type Supervisor struct {
	conn    *Conn
	handler Handler

	// dial and sleep are injection points for tests.
	dial  func(rawURL string) (*websocket.Conn, error)
	sleep func(ctx context.Context, d time.Duration) error
}

// NewSupervisor creates a supervisor for the given router URL.
func NewSupervisor(rawURL string, handler Handler) *Supervisor {
	return &Supervisor{
		conn:    NewConn(rawURL),
		handler: handler,
		dial:    defaultDial,
		sleep:   sleepCtx,
	}
}

// Conn returns the supervised connection.
func (s *Supervisor) Conn() *Conn {
	return s.conn
}

// Run supervises the uplink until the context is cancelled. The very
// first connect attempt is immediate; every retry after a failure or a
// lost socket waits out the backoff, which resets on success.
func (s *Supervisor) Run(ctx context.Context) {
	log.Printf("Starting connection monitor for %s (%s)", s.conn.id, s.conn.url)
	defer s.conn.Close()

	immediate := true
	for ctx.Err() == nil {
		if !s.connectWithBackoff(ctx, immediate) {
			return
		}
		immediate = false

		s.serve(ctx)

		s.conn.markDisconnected()
		s.handler.ConnectionLost(s.conn)
		if ctx.Err() == nil {
			log.Printf("Uplink %s lost, reconnecting", s.conn.id)
		}
	}
}

// connectWithBackoff dials until a connection is established. Returns
// false when the context ended first.
func (s *Supervisor) connectWithBackoff(ctx context.Context, immediate bool) bool {
	backoff := retry.WithCappedDuration(maxBackoff, retry.NewExponential(baseBackoff))

	for {
		if !immediate {
			delay, _ := backoff.Next()
			log.Printf("Reconnecting to %s in %s (attempt #%d)", s.conn.id, delay, s.conn.RetryCount()+1)
			if err := s.sleep(ctx, delay); err != nil {
				return false
			}
		}
		immediate = false

		if ctx.Err() != nil {
			return false
		}

		s.conn.markConnecting()
		ws, err := s.dial(s.conn.url)
		if err != nil {
			s.conn.failAttempt()
			log.Printf("Connection attempt failed for %s: %v", s.conn.id, err)
			continue
		}

		s.conn.attach(ws)
		log.Printf("Connected to %s: %s", s.conn.id, s.conn.url)
		return true
	}
}

// serve runs the listener while the connection is up, restarting it if it
// ever returns without the socket having failed.
func (s *Supervisor) serve(ctx context.Context) {
	for s.conn.Connected() && ctx.Err() == nil {
		if err := s.listen(ctx); err != nil {
			if ctx.Err() == nil {
				log.Printf("Listener for %s stopped: %v", s.conn.id, err)
			}
			return
		}
		log.Printf("Listener for %s exited unexpectedly, restarting", s.conn.id)
	}
}

// listen consumes inbound frames until the socket dies or the context is
// cancelled. A nil return means the socket is still considered healthy.
func (s *Supervisor) listen(ctx context.Context) error {
	ws := s.conn.socket()
	if ws == nil {
		return context.Canceled
	}

	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	pingDone := make(chan struct{})
	defer close(pingDone)
	go s.pingLoop(ctx, pingDone)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.dispatch(data)
	}
}

// pingLoop keeps the link alive while the listener reads.
func (s *Supervisor) pingLoop(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.conn.sendPing(); err != nil {
				return
			}
		}
	}
}

// dispatch routes one inbound frame to the handler. Malformed frames and
// unknown types are logged and dropped, never fatal.
func (s *Supervisor) dispatch(data []byte) {
	msg, err := protocol.Unmarshal(data)
	if err != nil {
		log.Printf("Invalid JSON from %s: %.100s", s.conn.id, data)
		return
	}
	if msg.Session == "" {
		log.Printf("Frame from %s missing session id", s.conn.id)
		return
	}

	switch msg.Type {
	case protocol.MessageTypeNewSession:
		s.handler.NewSession(msg.Session, s.conn)
	case protocol.MessageTypeCloseSession:
		s.handler.CloseSession(msg.Session)
	case protocol.MessageTypeInput:
		s.handler.Input(msg.Session, msg.Data)
	case protocol.MessageTypeResize:
		s.handler.Resize(msg.Session, msg.Cols, msg.Rows)
	case protocol.MessageTypeSetBaudRate:
		s.handler.SetBaudRate(msg.Session, msg.BaudRate)
	default:
		log.Printf("Unknown message type from %s: %s", s.conn.id, msg.Type)
	}
}

// sleepCtx sleeps for d unless the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
