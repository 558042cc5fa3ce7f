// Package analysis recovers C strings referenced by decoded instructions so
// listings can show them next to the code that loads them.
package analysis

import (
	"bytes"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/arch/x86/x86asm"

	"procview/internal/disasm"
)

const (
	// MaxStringLength bounds how far a string is read looking for its NUL.
	MaxStringLength = 96
	minStringLength = 4

	// Immediates below this are treated as constants, not addresses.
	minImmAddress = 0x10000

	pageSize = 0x1000
)

// ReadFunc returns n bytes at addr or nil.
type ReadFunc func(addr uint64, n int) []byte

// EscapeUnprintable returns a string where printable Unicode runes are preserved.
// Control and unprintable runes are escaped as \uXXXX. Invalid UTF-8 is escaped as \xXX.
func EscapeUnprintable(b []byte) string {
	var sb strings.Builder
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		switch {
		case r == utf8.RuneError && size == 1:
			fmt.Fprintf(&sb, "\\x%02X", b[0])
		case r == '\n':
			sb.WriteString("\\n")
		case r == '\t':
			sb.WriteString("\\t")
		case unicode.IsPrint(r):
			sb.WriteRune(r)
		default:
			fmt.Fprintf(&sb, "\\u%04X", r)
		}
		b = b[size:]
	}
	return sb.String()
}

// isPrintableString checks if byte data is mostly printable ASCII
func isPrintableString(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	printableCount := 0
	for _, b := range data {
		if (b >= 32 && b < 127) || b == '\n' || b == '\r' || b == '\t' {
			printableCount++
		}
	}
	return float64(printableCount)/float64(len(data)) >= 0.75
}

// CString reads a NUL-terminated string at addr. The read never crosses
// the page boundary after addr, so a string that runs off its page is
// not recovered.
func CString(read ReadFunc, addr uint64) (string, bool) {
	n := min(MaxStringLength, int(pageSize-addr%pageSize))
	b := read(addr, n)
	if b == nil {
		return "", false
	}
	end := bytes.IndexByte(b, 0)
	if end < minStringLength || !isPrintableString(b[:end]) {
		return "", false
	}
	return EscapeUnprintable(b[:end]), true
}

// References returns the addresses u may point at as data: RIP-relative
// memory operands and large immediates. Branch targets are code and are
// left out.
func References(u disasm.Unit) []uint64 {
	if u.IsData() {
		return nil
	}
	if kind, _, _ := disasm.Branch(u); kind != disasm.BranchNone {
		return nil
	}
	var refs []uint64
	for _, arg := range u.Inst.Args {
		switch a := arg.(type) {
		case nil:
			return refs
		case x86asm.Mem:
			if a.Base == x86asm.RIP && a.Index == 0 {
				refs = append(refs, u.End()+uint64(a.Disp))
			}
		case x86asm.Imm:
			if int64(a) >= minImmAddress {
				refs = append(refs, uint64(a))
			}
		}
	}
	return refs
}

// Annotate returns a comment for u naming the first string it references.
func Annotate(u disasm.Unit, read ReadFunc) (string, bool) {
	for _, addr := range References(u) {
		if s, ok := CString(read, addr); ok {
			return `"` + s + `"`, true
		}
	}
	return "", false
}
