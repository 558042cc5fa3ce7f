//go:build linux

package target

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// Process is a live Linux process. Reads go through process_vm_readv and
// writes through /proc/<pid>/mem, which the kernel services regardless of
// page protection.
type Process struct {
	pid int
	mem *os.File

	mu   sync.Mutex
	maps []Mapping
}

// OpenProcess attaches to pid. The caller needs ptrace access to it.
func OpenProcess(pid int) (*Process, error) {
	f, err := os.OpenFile(fmt.Sprintf("/proc/%d/mem", pid), os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open process memory: %w", err)
	}
	p := &Process{pid: pid, mem: f}
	if err := p.RefreshMaps(); err != nil {
		f.Close()
		return nil, err
	}
	return p, nil
}

// PID returns the process id.
func (p *Process) PID() int { return p.pid }

// Close releases the memory handle.
func (p *Process) Close() error {
	return p.mem.Close()
}

// RefreshMaps rereads /proc/<pid>/maps.
func (p *Process) RefreshMaps() error {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", p.pid))
	if err != nil {
		return fmt.Errorf("open maps: %w", err)
	}
	defer f.Close()
	maps, err := ParseMaps(f)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.maps = maps
	p.mu.Unlock()
	return nil
}

// ReadBytes implements Reader.
func (p *Process) ReadBytes(addr uint64, size int) ([]byte, bool) {
	if size <= 0 {
		return nil, false
	}
	buf := make([]byte, size)
	local := []unix.Iovec{{Base: &buf[0]}}
	local[0].SetLen(size)
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: size}}

	n, err := unix.ProcessVMReadv(p.pid, local, remote, 0)
	if err != nil || n <= 0 {
		// process_vm_readv fails the whole vector on the first bad page;
		// /proc/<pid>/mem gives a partial read instead.
		n, err = p.mem.ReadAt(buf, int64(addr))
		if n <= 0 {
			slog.Debug("Process read failed", "pid", p.pid, "addr", fmt.Sprintf("%#x", addr), "error", err)
			return nil, false
		}
	}
	return buf[:n], true
}

// WriteBytes implements Writer.
func (p *Process) WriteBytes(addr uint64, data []byte) bool {
	if len(data) == 0 {
		return false
	}
	n, err := p.mem.WriteAt(data, int64(addr))
	if err != nil || n != len(data) {
		slog.Debug("Process write failed", "pid", p.pid, "addr", fmt.Sprintf("%#x", addr), "written", n, "error", err)
		return false
	}
	return true
}

// BypassesProtection implements Bypasser.
func (p *Process) BypassesProtection() bool { return true }

// ChangeProtection is not available for a foreign process without code
// injection; writes bypass protection instead.
func (p *Process) ChangeProtection(addr uint64, size int, prot Protection) (Protection, error) {
	return ProtNone, fmt.Errorf("change protection %#x: %w", addr, ErrUnsupported)
}

// FlushExecutionCache is a no-op: x86 keeps instruction fetch coherent with
// data writes.
func (p *Process) FlushExecutionCache(addr uint64, size int) bool {
	return true
}

// ResolveOwningImage implements Resolver.
func (p *Process) ResolveOwningImage(addr uint64) (Image, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return ImageOf(p.maps, addr)
}

var _ Target = (*Process)(nil)
