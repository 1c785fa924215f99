//go:build windows
// +build windows

package pty

import "fmt"

// Start is not supported on Windows: the simulator pool depends on Unix
// process groups and /dev/ptmx semantics.
func Start(opts StartOptions) (*Process, error) {
	return nil, fmt.Errorf("pty spawn is not supported on windows")
}

func (p *Process) terminateGroup() error {
	if p.Cmd.Process != nil {
		return p.Cmd.Process.Kill()
	}
	return nil
}
