// Package asm encodes a constrained set of x86 instructions: no-operand
// forms, single register forms and register/register or register/immediate
// two-operand forms. It is not a general assembler.
package asm

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	// ErrUnsupported is returned for mnemonics or operand shapes outside the
	// table.
	ErrUnsupported = errors.New("unsupported instruction")

	// ErrImmediateRange is returned when an immediate does not fit the form.
	ErrImmediateRange = errors.New("immediate out of range")
)

type reg struct {
	num   uint8 // 0-15
	width uint8 // 4 or 8 bytes
}

func (r reg) extended() bool { return r.num >= 8 }

var regs = func() map[string]reg {
	m := make(map[string]reg)
	for i, n := range []string{"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi"} {
		m[n] = reg{uint8(i), 4}
	}
	for i, n := range []string{"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi"} {
		m[n] = reg{uint8(i), 8}
	}
	for i := 8; i < 16; i++ {
		m[fmt.Sprintf("r%d", i)] = reg{uint8(i), 8}
		m[fmt.Sprintf("r%dd", i)] = reg{uint8(i), 4}
	}
	return m
}()

type noOperand struct {
	code   []byte
	only64 bool
}

var noOperands = map[string]noOperand{
	"nop":     {code: []byte{0x90}},
	"ret":     {code: []byte{0xC3}},
	"int3":    {code: []byte{0xCC}},
	"hlt":     {code: []byte{0xF4}},
	"leave":   {code: []byte{0xC9}},
	"cdq":     {code: []byte{0x99}},
	"cqo":     {code: []byte{0x48, 0x99}, only64: true},
	"pushfq":  {code: []byte{0x9C}, only64: true},
	"popfq":   {code: []byte{0x9D}, only64: true},
	"pushfd":  {code: []byte{0x9C}},
	"popfd":   {code: []byte{0x9D}},
	"clc":     {code: []byte{0xF8}},
	"stc":     {code: []byte{0xF9}},
	"cld":     {code: []byte{0xFC}},
	"std":     {code: []byte{0xFD}},
	"pause":   {code: []byte{0xF3, 0x90}},
	"cpuid":   {code: []byte{0x0F, 0xA2}},
	"ud2":     {code: []byte{0x0F, 0x0B}},
	"syscall": {code: []byte{0x0F, 0x05}, only64: true},
}

// Single register forms encoded as opcode /ext.
type unary struct {
	op  byte
	ext uint8
	// nativeOnly forms take only the mode's native width and never need
	// REX.W (near call and jmp through a register).
	nativeOnly bool
}

var unaries = map[string]unary{
	"inc":  {op: 0xFF, ext: 0},
	"dec":  {op: 0xFF, ext: 1},
	"not":  {op: 0xF7, ext: 2},
	"neg":  {op: 0xF7, ext: 3},
	"mul":  {op: 0xF7, ext: 4},
	"div":  {op: 0xF7, ext: 6},
	"call": {op: 0xFF, ext: 2, nativeOnly: true},
	"jmp":  {op: 0xFF, ext: 4, nativeOnly: true},
}

// Register/register forms, "op dst, src" encoded as opcode /r with src in
// ModRM.reg.
var binaries = map[string]byte{
	"add":  0x01,
	"or":   0x09,
	"adc":  0x11,
	"sbb":  0x19,
	"and":  0x21,
	"sub":  0x29,
	"xor":  0x31,
	"cmp":  0x39,
	"test": 0x85,
	"xchg": 0x87,
	"mov":  0x89,
}

// Group 1 /ext for register/immediate arithmetic.
var group1 = map[string]uint8{
	"add": 0, "or": 1, "adc": 2, "sbb": 3, "and": 4, "sub": 5, "xor": 6, "cmp": 7,
}

// Group 2 /ext for shifts and rotates by an immediate.
var group2 = map[string]uint8{
	"rol": 0, "ror": 1, "shl": 4, "sal": 4, "shr": 5, "sar": 7,
}

// Assemble encodes text for the given mode (32 or 64).
func Assemble(text string, mode int) ([]byte, error) {
	if mode != 32 && mode != 64 {
		return nil, fmt.Errorf("%w: mode %d", ErrUnsupported, mode)
	}
	mn, ops, err := parse(text)
	if err != nil {
		return nil, err
	}
	unsupported := func() error { return fmt.Errorf("%w: %q", ErrUnsupported, text) }

	switch len(ops) {
	case 0:
		no, ok := noOperands[mn]
		if !ok || (no.only64 && mode != 64) {
			return nil, unsupported()
		}
		return append([]byte(nil), no.code...), nil

	case 1:
		r, ok := lookupReg(ops[0], mode)
		if !ok {
			return nil, unsupported()
		}
		switch mn {
		case "push", "pop":
			if int(r.width)*8 != mode {
				return nil, unsupported()
			}
			base := byte(0x50)
			if mn == "pop" {
				base = 0x58
			}
			var b []byte
			if r.extended() {
				b = append(b, 0x41)
			}
			return append(b, base+r.num&7), nil
		}
		u, ok := unaries[mn]
		if !ok || (u.nativeOnly && int(r.width)*8 != mode) {
			return nil, unsupported()
		}
		w := r.width == 8 && !u.nativeOnly
		return encodeRM(u.op, u.ext, r, w), nil

	case 2:
		dst, ok := lookupReg(ops[0], mode)
		if !ok {
			return nil, unsupported()
		}
		if src, ok := lookupReg(ops[1], mode); ok {
			op, ok := binaries[mn]
			if !ok || src.width != dst.width {
				return nil, unsupported()
			}
			return encodeRM(op, src.num, dst, dst.width == 8), nil
		}
		imm, ok := parseImm(ops[1])
		if !ok {
			return nil, unsupported()
		}
		return encodeImm(mn, dst, imm, text)
	}
	return nil, unsupported()
}

func parse(text string) (string, []string, error) {
	s := strings.ToLower(strings.Join(strings.Fields(text), " "))
	if s == "" {
		return "", nil, fmt.Errorf("%w: empty text", ErrUnsupported)
	}
	mn, rest, _ := strings.Cut(s, " ")
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return mn, nil, nil
	}
	ops := strings.Split(rest, ",")
	for i := range ops {
		ops[i] = strings.TrimSpace(ops[i])
		if ops[i] == "" {
			return "", nil, fmt.Errorf("%w: %q", ErrUnsupported, text)
		}
	}
	return mn, ops, nil
}

func lookupReg(name string, mode int) (reg, bool) {
	r, ok := regs[name]
	if !ok {
		return reg{}, false
	}
	if mode == 32 && (r.width == 8 || r.extended()) {
		return reg{}, false
	}
	return r, true
}

// encodeRM emits [REX] op ModRM(11, ext, rm).
func encodeRM(op byte, ext uint8, rm reg, w bool) []byte {
	var b []byte
	if rex := rexByte(w, ext, rm.num); rex != 0 {
		b = append(b, rex)
	}
	return append(b, op, modrm(ext, rm.num))
}

func rexByte(w bool, regField, rmField uint8) byte {
	rex := byte(0)
	if w {
		rex |= 0x08
	}
	rex |= (regField & 8) >> 1
	rex |= (rmField & 8) >> 3
	if rex == 0 {
		return 0
	}
	return 0x40 | rex
}

func modrm(regField, rmField uint8) byte {
	return 0xC0 | (regField&7)<<3 | rmField&7
}

func encodeImm(mn string, dst reg, imm int64, text string) ([]byte, error) {
	w := dst.width == 8
	if !w {
		if imm < math.MinInt32 || imm > math.MaxUint32 {
			return nil, fmt.Errorf("%w: %q", ErrImmediateRange, text)
		}
		imm = int64(int32(uint32(imm)))
	}

	if mn == "mov" {
		if !w {
			b := rexPrefix(false, 0, dst.num)
			return appendLE(append(b, 0xB8+dst.num&7), uint64(imm), 4), nil
		}
		if fitsInt32(imm) {
			b := encodeRM(0xC7, 0, dst, true)
			return appendLE(b, uint64(imm), 4), nil
		}
		b := rexPrefix(true, 0, dst.num)
		return appendLE(append(b, 0xB8+dst.num&7), uint64(imm), 8), nil
	}

	if ext, ok := group1[mn]; ok {
		switch {
		case fitsInt8(imm):
			return appendLE(encodeRM(0x83, ext, dst, w), uint64(imm), 1), nil
		case fitsInt32(imm):
			return appendLE(encodeRM(0x81, ext, dst, w), uint64(imm), 4), nil
		}
		return nil, fmt.Errorf("%w: %q", ErrImmediateRange, text)
	}

	if mn == "test" {
		if !fitsInt32(imm) {
			return nil, fmt.Errorf("%w: %q", ErrImmediateRange, text)
		}
		return appendLE(encodeRM(0xF7, 0, dst, w), uint64(imm), 4), nil
	}

	if ext, ok := group2[mn]; ok {
		if imm < 0 || imm > 0xFF {
			return nil, fmt.Errorf("%w: %q", ErrImmediateRange, text)
		}
		if imm == 1 {
			return encodeRM(0xD1, ext, dst, w), nil
		}
		return appendLE(encodeRM(0xC1, ext, dst, w), uint64(imm), 1), nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnsupported, text)
}

func rexPrefix(w bool, regField, rmField uint8) []byte {
	if rex := rexByte(w, regField, rmField); rex != 0 {
		return []byte{rex}
	}
	return nil
}

func appendLE(b []byte, v uint64, n int) []byte {
	for i := 0; i < n; i++ {
		b = append(b, byte(v>>(8*i)))
	}
	return b
}

func fitsInt8(v int64) bool  { return v >= math.MinInt8 && v <= math.MaxInt8 }
func fitsInt32(v int64) bool { return v >= math.MinInt32 && v <= math.MaxInt32 }

// parseImm accepts decimal, 0x-prefixed hex and h-suffixed hex, optionally
// negative.
func parseImm(s string) (int64, bool) {
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	} else if strings.HasPrefix(s, "+") {
		s = s[1:]
	}
	var (
		u   uint64
		err error
	)
	switch {
	case strings.HasPrefix(s, "0x"):
		u, err = strconv.ParseUint(s[2:], 16, 64)
	case strings.HasSuffix(s, "h") && len(s) > 1 && s[0] >= '0' && s[0] <= '9':
		u, err = strconv.ParseUint(s[:len(s)-1], 16, 64)
	default:
		u, err = strconv.ParseUint(s, 10, 64)
	}
	if err != nil {
		return 0, false
	}
	if neg {
		if u > 1<<63 {
			return 0, false
		}
		return -int64(u), true
	}
	return int64(u), true
}
