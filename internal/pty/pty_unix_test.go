//go:build !windows

package pty

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "launch.sh")
	if err := os.WriteFile(path, []byte(body), 0755); err != nil {
		t.Fatalf("Failed to write script: %v", err)
	}
	return path
}

// outputCollector drains the pty in the background so reads never block
// the test.
type outputCollector struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func collect(p *Process) *outputCollector {
	c := &outputCollector{}
	go func() {
		buf := make([]byte, 1024)
		for {
			n, err := p.Read(buf)
			if n > 0 {
				c.mu.Lock()
				c.buf.Write(buf[:n])
				c.mu.Unlock()
			}
			if err != nil {
				return
			}
		}
	}()
	return c
}

func (c *outputCollector) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

func waitForOutput(t *testing.T, c *outputCollector, want string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(c.String(), want) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %q in output %q", want, c.String())
}

func startTestProcess(t *testing.T, script string, slot int) *Process {
	t.Helper()
	p, err := Start(StartOptions{
		ScriptPath:  script,
		Slot:        slot,
		InitialRows: 24,
		InitialCols: 80,
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	go p.Wait()
	t.Cleanup(func() { p.Shutdown() })
	return p
}

func TestStart_ExportsSlotNumber(t *testing.T) {
	script := writeScript(t, "#!/bin/bash\necho \"slot=$SESSION_NUMBER\"\nexec cat\n")
	p := startTestProcess(t, script, 3)

	out := collect(p)
	waitForOutput(t, out, "slot=3")

	if p.PID() <= 0 {
		t.Errorf("Expected a real PID, got %d", p.PID())
	}
}

func TestProcess_EchoesInput(t *testing.T) {
	script := writeScript(t, "#!/bin/bash\nexec cat\n")
	p := startTestProcess(t, script, 0)

	out := collect(p)
	if _, err := p.Write([]byte("hello terminal\r")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	waitForOutput(t, out, "hello terminal")
}

func TestProcess_WaitReturnsExitCode(t *testing.T) {
	script := writeScript(t, "#!/bin/bash\nexit 7\n")
	p, err := Start(StartOptions{ScriptPath: script, Slot: 0})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Shutdown()

	code, err := p.Wait()
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if code != 7 {
		t.Errorf("Expected exit code 7, got %d", code)
	}
	if !p.Exited() {
		t.Error("Exited should report true after Wait")
	}

	select {
	case <-p.ExitedChan():
	default:
		t.Error("ExitedChan should be closed after Wait")
	}
}

func TestProcess_ShutdownTerminates(t *testing.T) {
	// cat ignores the attention byte, forcing signal escalation.
	script := writeScript(t, "#!/bin/bash\nexec cat\n")
	p := startTestProcess(t, script, 0)

	if err := p.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for !p.Exited() {
		if time.Now().After(deadline) {
			t.Fatal("Process still running after Shutdown")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Second shutdown on a dead process must not error.
	if err := p.Shutdown(); err != nil {
		t.Errorf("Repeated Shutdown errored: %v", err)
	}
}

func TestProcess_Resize(t *testing.T) {
	script := writeScript(t, "#!/bin/bash\nexec sleep 60\n")
	p := startTestProcess(t, script, 0)

	if err := p.Resize(43, 132); err != nil {
		t.Errorf("Resize failed: %v", err)
	}
}
