// Package pty spawns the simulator launch script attached to a
// pseudo-terminal and owns its process lifecycle.
package pty

import (
	"io"
	"os/exec"
	"sync"
	"time"
)

const (
	// SlotEnvVar communicates the assigned pool slot (0-7) to the launch
	// script so it can select which simulated host to expose.
	SlotEnvVar = "SESSION_NUMBER"

	// attentionByte is Ctrl-], the telnet client escape. Writing it to the
	// pty asks the simulator wrapper to exit on its own terms.
	attentionByte = 0x1d

	// attentionWait is how long the wrapper gets to react to the attention
	// byte before we confirm with a newline.
	attentionWait = 300 * time.Millisecond

	// confirmWait is the pause after the confirming newline.
	confirmWait = 200 * time.Millisecond

	// termWait is how long the process group gets after SIGTERM before
	// escalation to SIGKILL.
	termWait = 500 * time.Millisecond
)

// PTY is the master side of a pseudo-terminal pair.
type PTY interface {
	io.Reader
	io.Writer
	io.Closer

	// Resize changes the terminal window size.
	Resize(rows, cols uint16) error

	// Fd returns the master file descriptor.
	Fd() uintptr
}

// StartOptions configures a launch-script spawn.
type StartOptions struct {
	// ScriptPath is the simulator launch script, run as `bash <script>`
	// with the script's directory as working directory.
	ScriptPath string

	// Slot is the pool slot number exported as SESSION_NUMBER.
	Slot int

	// InitialRows and InitialCols set the pty window size at spawn.
	InitialRows uint16
	InitialCols uint16
}

// Process is a running launch script bound to a pty. It lives in its own
// process group so the whole simulator tree can be signalled as a unit.
type Process struct {
	PTY PTY
	Cmd *exec.Cmd

	pid int

	waitOnce  sync.Once
	closeOnce sync.Once
	exited    chan struct{}
	exitCode  int
	waitErr   error
}

// PID returns the process id of the launch script.
func (p *Process) PID() int {
	return p.pid
}

// Read reads simulator output from the pty master.
func (p *Process) Read(b []byte) (int, error) {
	return p.PTY.Read(b)
}

// Write writes terminal input to the pty master.
func (p *Process) Write(b []byte) (int, error) {
	return p.PTY.Write(b)
}

// Resize changes the pty window size.
func (p *Process) Resize(rows, cols uint16) error {
	return p.PTY.Resize(rows, cols)
}

// Wait blocks until the process exits and returns its exit code.
// Safe to call from multiple goroutines; the process is reaped once.
func (p *Process) Wait() (int, error) {
	p.waitOnce.Do(func() {
		err := p.Cmd.Wait()
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				p.exitCode = exitErr.ExitCode()
			} else {
				p.exitCode = -1
				p.waitErr = err
			}
		}
		close(p.exited)
	})
	<-p.exited
	return p.exitCode, p.waitErr
}

// Exited reports whether the process has been reaped.
func (p *Process) Exited() bool {
	select {
	case <-p.exited:
		return true
	default:
		return false
	}
}

// ExitedChan returns a channel closed once the process has exited.
func (p *Process) ExitedChan() <-chan struct{} {
	return p.exited
}

// Shutdown stops the process and closes the pty. It first asks the
// simulator wrapper to exit by writing the attention byte, confirms with a
// newline, and only then signals the process group, SIGTERM before SIGKILL.
// Idempotent; escalation failures are reported but never block.
func (p *Process) Shutdown() error {
	if !p.Exited() {
		if _, err := p.PTY.Write([]byte{attentionByte}); err == nil {
			p.waitExit(attentionWait)
			if !p.Exited() {
				if _, err := p.PTY.Write([]byte{'\n'}); err == nil {
					p.waitExit(confirmWait)
				}
			}
		}
	}

	var killErr error
	if !p.Exited() {
		killErr = p.terminateGroup()
	}

	var closeErr error
	p.closeOnce.Do(func() {
		closeErr = p.PTY.Close()
	})
	if closeErr != nil && killErr == nil {
		killErr = closeErr
	}
	return killErr
}

// waitExit waits up to d for the process to be reaped.
func (p *Process) waitExit(d time.Duration) {
	select {
	case <-p.exited:
	case <-time.After(d):
	}
}
