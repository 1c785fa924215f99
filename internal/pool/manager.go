// Package pool owns the bounded pool of simulator subprocesses and relays
// their terminal I/O to the routers that requested them.
package pool

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/arpanet-terminal/relay/internal/protocol"
	"github.com/arpanet-terminal/relay/internal/pty"
)

const (
	// readBufferSize is the pty read buffer size.
	readBufferSize = 4096

	// reapGrace is how long a failed pty read waits for the process reaper
	// before concluding the pty died without a process exit.
	reapGrace = 200 * time.Millisecond
)

var (
	// ErrPoolFull is returned when all simulator slots are occupied.
	ErrPoolFull = errors.New("all simulator slots are occupied")

	// ErrSessionExists is returned for a duplicate session id.
	ErrSessionExists = errors.New("session already exists")
)

// Manager owns the global slot pool and every live simulator session,
// regardless of which uplink created it.
type Manager struct {
	scriptPath string

	// spawn is pty.Start behind an indirection for tests.
	spawn func(opts pty.StartOptions) (simProcess, error)

	mu       sync.RWMutex
	slots    *SlotPool
	sessions map[string]*Session
}

// NewManager creates a session pool manager that spawns the given launch
// script for each session.
func NewManager(scriptPath string) *Manager {
	return &Manager{
		scriptPath: scriptPath,
		spawn:      defaultSpawn,
		slots:      NewSlotPool(),
		sessions:   make(map[string]*Session),
	}
}

func defaultSpawn(opts pty.StartOptions) (simProcess, error) {
	p, err := pty.Start(opts)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// CreateSession allocates a slot, spawns a simulator for it and starts the
// relay. Capacity exhaustion and spawn failures are reported back to the
// owning uplink as error frames; no slot stays claimed on failure.
func (m *Manager) CreateSession(id string, owner Sender) error {
	m.mu.Lock()

	if _, exists := m.sessions[id]; exists {
		m.mu.Unlock()
		log.Printf("Session %s already exists", id)
		return ErrSessionExists
	}

	if len(m.sessions) >= PoolSize {
		m.mu.Unlock()
		log.Printf("Session limit reached (%d), rejecting %s", PoolSize, id)
		m.sendTo(owner, &protocol.Message{
			Type:    protocol.MessageTypeError,
			Session: id,
			Data:    fmt.Sprintf("All %d terminals are busy. Please try again later.", PoolSize),
		})
		m.sendTo(owner, &protocol.Message{
			Type:    protocol.MessageTypeExit,
			Session: id,
			Data:    "Connection closed - terminal busy",
		})
		return ErrPoolFull
	}

	slot, ok := m.slots.Acquire()
	if !ok {
		m.mu.Unlock()
		log.Printf("No free slot for %s despite open session count", id)
		m.sendTo(owner, &protocol.Message{
			Type:    protocol.MessageTypeError,
			Session: id,
			Data:    "Internal error: no available session slots",
		})
		return ErrPoolFull
	}

	proc, err := m.spawn(pty.StartOptions{
		ScriptPath:  m.scriptPath,
		Slot:        slot,
		InitialRows: 24,
		InitialCols: 80,
	})
	if err != nil {
		m.slots.Release(slot)
		m.mu.Unlock()
		log.Printf("Failed to spawn simulator for %s: %v", id, err)
		m.sendTo(owner, &protocol.Message{
			Type:    protocol.MessageTypeError,
			Session: id,
			Data:    "Failed to start simulator",
		})
		return fmt.Errorf("failed to spawn simulator: %w", err)
	}

	s := newSession(id, slot, owner, proc)
	m.sessions[id] = s
	count := len(m.sessions)
	m.mu.Unlock()

	log.Printf("Created session %s in slot %d, PID %d (%d/%d)", id, slot, proc.PID(), count, PoolSize)

	go m.relay(s)
	go m.waitLoop(s)

	return nil
}

// DestroySession tears down a session: graceful simulator shutdown, slot
// release, routing-state removal. Safe to call on an id that is already
// gone.
func (m *Manager) DestroySession(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	s.cancel()
	delete(m.sessions, id)
	count := len(m.sessions)
	m.mu.Unlock()

	// Shutdown waits out the graceful escalation, so it runs outside the
	// manager lock; input and session creation for other sessions must not
	// stall behind a dying simulator. The slot stays claimed until the
	// process is gone so no new session can collide with it.
	if err := s.proc.Shutdown(); err != nil {
		log.Printf("Error shutting down simulator for %s: %v", id, err)
	}
	m.slots.Release(s.Slot)

	log.Printf("Destroyed session %s, returned slot %d to pool (%d/%d)", id, s.Slot, count, PoolSize)
}

// DestroyOwned tears down every session created through the given uplink.
// Called when an uplink connection is lost.
func (m *Manager) DestroyOwned(owner Sender) {
	m.mu.RLock()
	var ids []string
	for id, s := range m.sessions {
		if s.owner == owner {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()

	if len(ids) > 0 {
		log.Printf("Cleaning up %d session(s) from lost uplink", len(ids))
	}
	for _, id := range ids {
		m.DestroySession(id)
	}
}

// HandleInput writes terminal input to the session's pty. Unknown sessions
// are a logged no-op.
func (m *Manager) HandleInput(id, data string) {
	s, ok := m.get(id)
	if !ok {
		log.Printf("Input for unknown session %s", id)
		return
	}
	if _, err := s.proc.Write([]byte(data)); err != nil {
		log.Printf("Error writing to PTY (%s): %v", id, err)
	}
}

// HandleResize changes the session's pty window size.
func (m *Manager) HandleResize(id string, cols, rows uint16) {
	s, ok := m.get(id)
	if !ok {
		log.Printf("Resize for unknown session %s", id)
		return
	}
	if cols == 0 || rows == 0 {
		return
	}
	if err := s.proc.Resize(rows, cols); err != nil {
		log.Printf("Error resizing PTY (%s): %v", id, err)
		return
	}
	log.Printf("Resized terminal (%s) to %dx%d", id, cols, rows)
}

// HandleBaudRate changes the session's simulated line speed.
func (m *Manager) HandleBaudRate(id string, baud int) {
	s, ok := m.get(id)
	if !ok {
		log.Printf("Baud rate for unknown session %s", id)
		return
	}
	if baud <= 0 {
		log.Printf("Ignoring baud rate %d for %s", baud, id)
		return
	}
	s.SetBaudRate(baud)
	log.Printf("Set baud rate (%s) to %d (%.1f CPS)", id, baud, float64(baud)/10.0)
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// FreeSlots returns the number of unassigned slots.
func (m *Manager) FreeSlots() int {
	return m.slots.Free()
}

// Has reports whether a session with the given id is live.
func (m *Manager) Has(id string) bool {
	_, ok := m.get(id)
	return ok
}

// Close destroys every session. Used on pool manager shutdown.
func (m *Manager) Close() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.DestroySession(id)
	}
}

func (m *Manager) get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *Manager) sendTo(owner Sender, msg *protocol.Message) {
	if err := owner.Send(msg); err != nil {
		log.Printf("Failed to send %s frame for %s: %v", msg.Type, msg.Session, err)
	}
}

// relay reads simulator output and forwards it as paced output frames.
// One relay goroutine per session; a slow line never delays another
// session. The loop ends on pty close, process exit or owner loss,
// whichever comes first.
func (m *Manager) relay(s *Session) {
	buf := make([]byte, readBufferSize)

	for {
		if s.cancelled() {
			return
		}

		n, err := s.proc.Read(buf)
		if err != nil {
			// A dying subprocess surfaces here as a read error just
			// before the reaper sees it; let the wait loop report the
			// exit in that case.
			select {
			case <-s.proc.ExitedChan():
			case <-s.done:
			case <-time.After(reapGrace):
				log.Printf("PTY closed for %s without process exit", s.ID)
				m.DestroySession(s.ID)
			}
			return
		}
		if n == 0 {
			continue
		}

		if !m.sendPaced(s, buf[:n]) {
			return
		}
	}
}

// sendPaced splits one pty read into baud-sized chunks and emits them with
// serial-line pacing. Returns false when the relay should stop.
func (m *Manager) sendPaced(s *Session, data []byte) bool {
	// Character-based chunking: multi-byte sequences count once, invalid
	// bytes degrade to replacement runes.
	runes := []rune(string(data))

	baud := s.BaudRate()
	size := chunkSize(baud)

	for i := 0; i < len(runes); i += size {
		if s.cancelled() {
			return false
		}
		if !s.owner.Connected() {
			log.Printf("Uplink lost during chunk send for %s, aborting relay", s.ID)
			m.DestroySession(s.ID)
			return false
		}

		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		msg := &protocol.Message{
			Type:    protocol.MessageTypeOutput,
			Session: s.ID,
			Data:    string(runes[i:end]),
		}
		if err := s.owner.Send(msg); err != nil {
			log.Printf("Failed to relay output for %s: %v", s.ID, err)
			m.DestroySession(s.ID)
			return false
		}

		select {
		case <-time.After(chunkDelay(baud, end-i)):
		case <-s.done:
			return false
		}
	}
	return true
}

// waitLoop reaps the subprocess. When the simulator exits on its own the
// session is destroyed and the owner told to close its view.
func (m *Manager) waitLoop(s *Session) {
	exitCode, err := s.proc.Wait()

	if s.cancelled() {
		// Destruction already in progress; nothing to report.
		return
	}

	if err != nil {
		log.Printf("Simulator for %s failed: %v", s.ID, err)
	} else {
		log.Printf("Simulator for %s exited with status %d", s.ID, exitCode)
	}

	m.DestroySession(s.ID)

	if s.owner.Connected() {
		m.sendTo(s.owner, &protocol.Message{
			Type:    protocol.MessageTypeExit,
			Session: s.ID,
			Data:    "Simulator exited",
		})
	}
}
