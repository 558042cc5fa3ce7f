// Package target defines the collaborator surface the disassembly and patch
// engine consumes: byte reads and writes over a foreign address space, the
// owning-image resolver, protection changes and instruction-cache flushes.
package target

import (
	"errors"
	"fmt"
)

// Protection is a page protection bitmask.
type Protection uint32

const (
	ProtNone Protection = 0
	ProtRead Protection = 1 << (iota - 1)
	ProtWrite
	ProtExec

	ProtRW  = ProtRead | ProtWrite
	ProtRX  = ProtRead | ProtExec
	ProtRWX = ProtRead | ProtWrite | ProtExec
)

func (p Protection) String() string {
	b := []byte("---")
	if p&ProtRead != 0 {
		b[0] = 'r'
	}
	if p&ProtWrite != 0 {
		b[1] = 'w'
	}
	if p&ProtExec != 0 {
		b[2] = 'x'
	}
	return string(b)
}

var (
	// ErrUnmapped is returned when an address range is not backed by any region.
	ErrUnmapped = errors.New("address not mapped")

	// ErrUnsupported is returned by collaborators that cannot perform an operation.
	ErrUnsupported = errors.New("operation not supported by target")
)

// Image is the loaded module owning an address.
type Image struct {
	Name string
	Base uint64
}

func (im Image) String() string {
	return fmt.Sprintf("%s@%#x", im.Name, im.Base)
}

// Reader reads bytes from the target. Short reads are allowed; ok is false
// only when nothing could be read.
type Reader interface {
	ReadBytes(addr uint64, size int) (data []byte, ok bool)
}

// Writer writes bytes into the target.
type Writer interface {
	WriteBytes(addr uint64, data []byte) bool
}

// Protector changes page protection and returns the previous protection.
type Protector interface {
	ChangeProtection(addr uint64, size int, prot Protection) (Protection, error)
}

// Flusher flushes the instruction cache for a range. Best effort.
type Flusher interface {
	FlushExecutionCache(addr uint64, size int) bool
}

// Resolver maps an address to its owning image.
type Resolver interface {
	ResolveOwningImage(addr uint64) (Image, bool)
}

// Bypasser is implemented by targets whose writes ignore page protection,
// so no protection change is needed before patching.
type Bypasser interface {
	BypassesProtection() bool
}

// Target is the full collaborator surface.
type Target interface {
	Reader
	Writer
	Protector
	Flusher
	Resolver
}

// NeedsProtectionChange reports whether writes to t must be bracketed by
// protection changes.
func NeedsProtectionChange(t any) bool {
	if b, ok := t.(Bypasser); ok {
		return !b.BypassesProtection()
	}
	return true
}
