//go:build !linux

package target

import "fmt"

// Process is only implemented on Linux.
type Process struct {
	Target
}

// OpenProcess always fails on this platform.
func OpenProcess(pid int) (*Process, error) {
	return nil, fmt.Errorf("attach to pid %d: %w", pid, ErrUnsupported)
}

// PID returns zero.
func (p *Process) PID() int { return 0 }

// Close does nothing.
func (p *Process) Close() error { return nil }
