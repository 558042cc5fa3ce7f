// Package disasm decodes a byte window into an ordered sequence of x86
// instructions anchored at target addresses.
package disasm

import (
	"sort"

	"golang.org/x/arch/x86/x86asm"
)

// Kind tags a decoded unit.
type Kind uint8

const (
	// KindInstruction is a successfully decoded instruction.
	KindInstruction Kind = iota
	// KindData is a single byte that did not decode.
	KindData
)

func (k Kind) String() string {
	if k == KindData {
		return "data"
	}
	return "inst"
}

// Unit is one row of the view: an instruction or a one-byte data fallback.
// Units are immutable once produced.
type Unit struct {
	Address uint64
	Length  uint8
	Raw     []byte
	Kind    Kind
	Inst    x86asm.Inst // valid only when Kind == KindInstruction
}

// IsData reports whether u is a data fallback byte.
func (u Unit) IsData() bool { return u.Kind == KindData }

// End returns the address one past the last byte of u.
func (u Unit) End() uint64 { return u.Address + uint64(u.Length) }

// Contains reports whether addr lies inside u.
func (u Unit) Contains(addr uint64) bool {
	return addr >= u.Address && addr < u.End()
}

// Window is the decoded result of one navigation. It is replaced, never
// mutated, when the operator navigates again.
type Window struct {
	Start       uint64
	Length      int // bytes read
	Units       []Unit
	Target      uint64
	TargetIndex int // -1 when the target is outside the decoded units
	Unreadable  bool
}

// Empty reports whether no units were decoded.
func (w *Window) Empty() bool { return w == nil || len(w.Units) == 0 }

// End returns the address one past the last decoded byte.
func (w *Window) End() uint64 {
	if w.Empty() {
		return w.Start
	}
	return w.Units[len(w.Units)-1].End()
}

// IndexOf returns the index of the unit starting exactly at addr, or -1.
func (w *Window) IndexOf(addr uint64) int {
	if w.Empty() {
		return -1
	}
	i := sort.Search(len(w.Units), func(i int) bool { return w.Units[i].Address >= addr })
	if i < len(w.Units) && w.Units[i].Address == addr {
		return i
	}
	return -1
}

// IndexContaining returns the index of the unit whose range contains addr,
// or -1.
func (w *Window) IndexContaining(addr uint64) int {
	if w.Empty() {
		return -1
	}
	i := sort.Search(len(w.Units), func(i int) bool { return w.Units[i].End() > addr })
	if i < len(w.Units) && w.Units[i].Contains(addr) {
		return i
	}
	return -1
}

// Decode decodes buf, which starts at address start, strictly forward.
// Invalid bytes become one-byte data units. Decoding stops after maxUnits
// units (no limit when maxUnits <= 0) or when buf is exhausted. The unit
// starting exactly at target is preferred over one merely containing it.
func Decode(start uint64, buf []byte, target uint64, mode, maxUnits int) *Window {
	owned := make([]byte, len(buf))
	copy(owned, buf)

	w := &Window{
		Start:       start,
		Length:      len(owned),
		Target:      target,
		TargetIndex: -1,
	}
	if maxUnits <= 0 {
		maxUnits = len(owned)
	}
	w.Units = make([]Unit, 0, min(maxUnits, len(owned)))

	containing := -1
	for off := 0; off < len(owned) && len(w.Units) < maxUnits; {
		addr := start + uint64(off)
		u := Unit{Address: addr}

		inst, err := x86asm.Decode(owned[off:], mode)
		if err != nil || inst.Len <= 0 {
			u.Kind = KindData
			u.Length = 1
		} else {
			u.Kind = KindInstruction
			u.Length = uint8(inst.Len)
			u.Inst = inst
		}
		n := int(u.Length)
		u.Raw = owned[off : off+n : off+n]

		idx := len(w.Units)
		if addr == target {
			w.TargetIndex = idx
		} else if containing < 0 && u.Contains(target) {
			containing = idx
		}
		w.Units = append(w.Units, u)
		off += n
	}
	if w.TargetIndex < 0 {
		w.TargetIndex = containing
	}
	return w
}
