package disasm

import (
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// BranchKind classifies control transfers drawn as flow arrows.
type BranchKind uint8

const (
	BranchNone BranchKind = iota
	BranchCall
	BranchJump
	BranchCond
)

func (k BranchKind) String() string {
	switch k {
	case BranchCall:
		return "call"
	case BranchJump:
		return "jump"
	case BranchCond:
		return "cond"
	}
	return "none"
}

var condOps = map[x86asm.Op]bool{
	x86asm.JA: true, x86asm.JAE: true, x86asm.JB: true, x86asm.JBE: true,
	x86asm.JE: true, x86asm.JNE: true, x86asm.JG: true, x86asm.JGE: true,
	x86asm.JL: true, x86asm.JLE: true, x86asm.JO: true, x86asm.JNO: true,
	x86asm.JP: true, x86asm.JNP: true, x86asm.JS: true, x86asm.JNS: true,
	x86asm.JCXZ: true, x86asm.JECXZ: true, x86asm.JRCXZ: true,
	x86asm.LOOP: true, x86asm.LOOPE: true, x86asm.LOOPNE: true,
}

// Branch classifies u and resolves its target: a near relative target or a
// RIP-relative memory operand. ok is false for non-branches and for
// branches whose target cannot be resolved statically (register or
// absolute memory operands).
func Branch(u Unit) (kind BranchKind, to uint64, ok bool) {
	if u.Kind != KindInstruction {
		return BranchNone, 0, false
	}
	switch op := u.Inst.Op; {
	case op == x86asm.CALL:
		kind = BranchCall
	case op == x86asm.JMP:
		kind = BranchJump
	case condOps[op]:
		kind = BranchCond
	default:
		return BranchNone, 0, false
	}

	next := u.End()
	switch a := u.Inst.Args[0].(type) {
	case x86asm.Rel:
		return kind, next + uint64(int64(a)), true
	case x86asm.Mem:
		if a.Base == x86asm.RIP && a.Index == 0 {
			return kind, next + uint64(a.Disp), true
		}
	}
	return kind, 0, false
}

// Text formats u. syntax is "intel" (default) or "gnu"; symname may be nil.
func Text(u Unit, syntax string, symname x86asm.SymLookup) string {
	if u.Kind == KindData {
		return fmt.Sprintf("db 0x%02x", u.Raw[0])
	}
	if syntax == "gnu" {
		return x86asm.GNUSyntax(u.Inst, u.Address, symname)
	}
	return x86asm.IntelSyntax(u.Inst, u.Address, symname)
}

// PartKind tags a piece of a rendered row.
type PartKind uint8

const (
	PartAddress PartKind = iota
	PartBytes
	PartMnemonic
	PartOperands
	PartData
)

// Part is one styled fragment of a row.
type Part struct {
	Kind PartKind
	Text string
}

var prefixes = map[string]bool{
	"lock": true, "rep": true, "repe": true, "repz": true,
	"repne": true, "repnz": true, "data16": true, "addr32": true,
	"bnd": true, "notrack": true, "xacquire": true, "xrelease": true,
}

// Parts splits a row into render parts. label is the address label and text
// the output of Text for u.
func Parts(u Unit, label, text string) []Part {
	parts := []Part{
		{Kind: PartAddress, Text: label},
		{Kind: PartBytes, Text: HexBytes(u.Raw)},
	}
	if u.Kind == KindData {
		return append(parts, Part{Kind: PartData, Text: text})
	}

	mn, ops := splitMnemonic(text)
	parts = append(parts, Part{Kind: PartMnemonic, Text: mn})
	if ops != "" {
		parts = append(parts, Part{Kind: PartOperands, Text: ops})
	}
	return parts
}

func splitMnemonic(text string) (string, string) {
	fields := strings.Fields(text)
	i := 0
	for i < len(fields)-1 && prefixes[fields[i]] {
		i++
	}
	if len(fields) == 0 {
		return "", ""
	}
	mn := strings.Join(fields[:i+1], " ")
	return mn, strings.Join(fields[i+1:], " ")
}

// HexBytes renders b as space separated upper-case hex pairs.
func HexBytes(b []byte) string {
	var sb strings.Builder
	for i, c := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", c)
	}
	return sb.String()
}

func hex(v uint64) string { return fmt.Sprintf("%#x", v) }
