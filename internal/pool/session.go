package pool

import (
	"sync"

	"github.com/arpanet-terminal/relay/internal/protocol"
)

// DefaultBaudRate is the line speed a session starts with.
const DefaultBaudRate = 9600

// Sender is the uplink handle a session routes its frames through.
type Sender interface {
	Send(msg *protocol.Message) error
	Connected() bool
}

// simProcess is the subset of the pty process the pool relies on.
// Satisfied by *pty.Process; substituted in tests.
type simProcess interface {
	Read(b []byte) (int, error)
	Write(b []byte) (int, error)
	Resize(rows, cols uint16) error
	Shutdown() error
	Wait() (int, error)
	ExitedChan() <-chan struct{}
	PID() int
}

// Session binds one simulator subprocess to one slot and one owning uplink.
type Session struct {
	ID   string
	Slot int

	owner Sender
	proc  simProcess

	mu   sync.Mutex
	baud int

	// done is closed when the session is being destroyed; it cancels the
	// relay loop's pacing sleeps.
	done     chan struct{}
	doneOnce sync.Once
}

func newSession(id string, slot int, owner Sender, proc simProcess) *Session {
	return &Session{
		ID:    id,
		Slot:  slot,
		owner: owner,
		proc:  proc,
		baud:  DefaultBaudRate,
		done:  make(chan struct{}),
	}
}

// BaudRate returns the session's current line speed.
func (s *Session) BaudRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baud
}

// SetBaudRate changes the session's line speed. Non-positive rates are
// ignored.
func (s *Session) SetBaudRate(baud int) {
	if baud <= 0 {
		return
	}
	s.mu.Lock()
	s.baud = baud
	s.mu.Unlock()
}

// cancel marks the session destroyed. Idempotent.
func (s *Session) cancel() {
	s.doneOnce.Do(func() {
		close(s.done)
	})
}

// cancelled reports whether destruction has begun.
func (s *Session) cancelled() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
