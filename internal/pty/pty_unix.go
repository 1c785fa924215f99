//go:build !windows
// +build !windows

package pty

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// unixPTY is the master side of a /dev/ptmx pair.
type unixPTY struct {
	master *os.File
}

func (p *unixPTY) Read(b []byte) (int, error) {
	return p.master.Read(b)
}

func (p *unixPTY) Write(b []byte) (int, error) {
	return p.master.Write(b)
}

func (p *unixPTY) Close() error {
	return p.master.Close()
}

func (p *unixPTY) Fd() uintptr {
	return p.master.Fd()
}

// Resize changes the pty window size via TIOCSWINSZ.
func (p *unixPTY) Resize(rows, cols uint16) error {
	ws := &unix.Winsize{
		Row: rows,
		Col: cols,
	}
	return unix.IoctlSetWinsize(int(p.master.Fd()), unix.TIOCSWINSZ, ws)
}

// Start spawns `bash <script>` on a fresh pty. The child runs in its own
// session with the pty as controlling terminal, and SESSION_NUMBER in its
// environment carries the pool slot to the launch script.
func Start(opts StartOptions) (*Process, error) {
	if opts.ScriptPath == "" {
		return nil, fmt.Errorf("launch script path is required")
	}

	master, slave, err := openPTY()
	if err != nil {
		return nil, fmt.Errorf("failed to open PTY: %w", err)
	}

	rows, cols := opts.InitialRows, opts.InitialCols
	if rows == 0 {
		rows = 24
	}
	if cols == 0 {
		cols = 80
	}
	ws := &unix.Winsize{Row: rows, Col: cols}
	if err := unix.IoctlSetWinsize(int(master.Fd()), unix.TIOCSWINSZ, ws); err != nil {
		master.Close()
		slave.Close()
		return nil, fmt.Errorf("failed to set window size: %w", err)
	}

	scriptAbs, err := filepath.Abs(opts.ScriptPath)
	if err != nil {
		master.Close()
		slave.Close()
		return nil, fmt.Errorf("failed to resolve script path: %w", err)
	}

	cmd := exec.Command("bash", scriptAbs)
	cmd.Dir = filepath.Dir(scriptAbs)
	cmd.Env = append(os.Environ(), fmt.Sprintf("%s=%d", SlotEnvVar, opts.Slot))

	cmd.Stdin = slave
	cmd.Stdout = slave
	cmd.Stderr = slave

	// Own session and process group, pty as controlling terminal, so the
	// whole simulator tree can be killed as a unit.
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid:  true,
		Setctty: true,
	}

	if err := cmd.Start(); err != nil {
		master.Close()
		slave.Close()
		return nil, fmt.Errorf("failed to start launch script: %w", err)
	}

	// The slave end belongs to the child now.
	slave.Close()

	return &Process{
		PTY:    &unixPTY{master: master},
		Cmd:    cmd,
		pid:    cmd.Process.Pid,
		exited: make(chan struct{}),
	}, nil
}

// terminateGroup signals the child's process group, SIGTERM first and
// SIGKILL if it is still around after termWait.
func (p *Process) terminateGroup() error {
	pgid, err := unix.Getpgid(p.pid)
	if err != nil {
		// Process group already gone; fall back to the single process.
		pgid = p.pid
	}

	if err := unix.Kill(-pgid, unix.SIGTERM); err != nil && err != unix.ESRCH {
		return fmt.Errorf("failed to signal process group: %w", err)
	}
	p.waitExit(termWait)
	if p.Exited() {
		return nil
	}

	if err := unix.Kill(-pgid, unix.SIGKILL); err != nil && err != unix.ESRCH {
		return fmt.Errorf("failed to kill process group: %w", err)
	}
	p.waitExit(termWait)
	return nil
}

// openPTY opens a new pty master/slave pair.
func openPTY() (master, slave *os.File, err error) {
	master, err = os.OpenFile("/dev/ptmx", os.O_RDWR, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open /dev/ptmx: %w", err)
	}

	slaveName, err := ptsname(master)
	if err != nil {
		master.Close()
		return nil, nil, fmt.Errorf("failed to get slave name: %w", err)
	}

	if err := unlockpt(master); err != nil {
		master.Close()
		return nil, nil, fmt.Errorf("failed to unlock PTY: %w", err)
	}

	slave, err = os.OpenFile(slaveName, os.O_RDWR|syscall.O_NOCTTY, 0)
	if err != nil {
		master.Close()
		return nil, nil, fmt.Errorf("failed to open slave PTY: %w", err)
	}

	return master, slave, nil
}

// ptsname returns the name of the slave pty.
func ptsname(master *os.File) (string, error) {
	var n uint32
	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, master.Fd(), syscall.TIOCGPTN, uintptr(unsafe.Pointer(&n)))
	if errno != 0 {
		return "", errno
	}
	return fmt.Sprintf("/dev/pts/%d", n), nil
}

// unlockpt unlocks the slave pty.
func unlockpt(master *os.File) error {
	var unlock int32 = 0
	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, master.Fd(), syscall.TIOCSPTLCK, uintptr(unsafe.Pointer(&unlock)))
	if errno != 0 {
		return errno
	}
	return nil
}
