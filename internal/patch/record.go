package patch

import (
	"fmt"
	"time"
)

// Record is one patch in the ledger. It is the only copy of the bytes the
// patch replaced. Only the ledger changes the applied state.
type Record struct {
	Address     uint64
	Length      uint16
	Original    []byte
	Replacement []byte
	Description string

	applied   bool
	appliedAt time.Time
	seq       uint64 // order of the last write; higher sits on top
}

// Applied reports whether the replacement bytes are currently in place.
func (r *Record) Applied() bool { return r.applied }

// AppliedAt returns when the replacement was last written.
func (r *Record) AppliedAt() time.Time { return r.appliedAt }

// End returns the address one past the patched range.
func (r *Record) End() uint64 { return r.Address + uint64(r.Length) }

// Overlaps reports whether the record covers any byte of [addr, addr+n).
func (r *Record) Overlaps(addr uint64, n int) bool {
	return addr < r.End() && r.Address < addr+uint64(n)
}

func (r *Record) String() string {
	state := "restored"
	if r.applied {
		state = "applied"
	}
	return fmt.Sprintf("%#x+%d %s (%s)", r.Address, r.Length, r.Description, state)
}

// Fit is the result of sizing a replacement against the region it
// replaces.
type Fit struct {
	Region   int
	Size     int
	Padding  int // NOP bytes appended when the replacement is shorter
	Overflow int // bytes past the region when the replacement is longer
}

// Fits reports whether the replacement stays inside the region.
func (f Fit) Fits() bool { return f.Overflow == 0 }

const nop = 0x90

// CheckFit sizes replacement against a region of regionLen bytes.
func CheckFit(regionLen int, replacement []byte) Fit {
	f := Fit{Region: regionLen, Size: len(replacement)}
	switch {
	case f.Size < regionLen:
		f.Padding = regionLen - f.Size
	case f.Size > regionLen:
		f.Overflow = f.Size - regionLen
	}
	return f
}

// Pad returns replacement extended with NOPs up to the region size.
func (f Fit) Pad(replacement []byte) []byte {
	out := make([]byte, 0, len(replacement)+f.Padding)
	out = append(out, replacement...)
	for i := 0; i < f.Padding; i++ {
		out = append(out, nop)
	}
	return out
}
