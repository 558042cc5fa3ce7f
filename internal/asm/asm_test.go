package asm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/arch/x86/x86asm"
)

func TestAssemble64(t *testing.T) {
	tests := []struct {
		text string
		want []byte
	}{
		{"nop", []byte{0x90}},
		{"RET", []byte{0xC3}},
		{"int3", []byte{0xCC}},
		{"syscall", []byte{0x0F, 0x05}},
		{"xor eax, eax", []byte{0x31, 0xC0}},
		{"xor eax,eax", []byte{0x31, 0xC0}},
		{"push rbp", []byte{0x55}},
		{"push r12", []byte{0x41, 0x54}},
		{"pop r15", []byte{0x41, 0x5F}},
		{"mov eax, 1", []byte{0xB8, 0x01, 0x00, 0x00, 0x00}},
		{"mov r9d, 0x10", []byte{0x41, 0xB9, 0x10, 0x00, 0x00, 0x00}},
		{"mov r9, -1", []byte{0x49, 0xC7, 0xC1, 0xFF, 0xFF, 0xFF, 0xFF}},
		{"mov rax, 0x1122334455667788", []byte{0x48, 0xB8, 0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11}},
		{"add rsp, 8", []byte{0x48, 0x83, 0xC4, 0x08}},
		{"sub rsp, 0x28", []byte{0x48, 0x83, 0xEC, 0x28}},
		{"sub rsp, 28h", []byte{0x48, 0x83, 0xEC, 0x28}},
		{"add eax, 0x1000", []byte{0x81, 0xC0, 0x00, 0x10, 0x00, 0x00}},
		{"cmp ecx, -1", []byte{0x83, 0xF9, 0xFF}},
		{"mov rbp, rsp", []byte{0x48, 0x89, 0xE5}},
		{"mov r8, rax", []byte{0x49, 0x89, 0xC0}},
		{"mov rax, r8", []byte{0x4C, 0x89, 0xC0}},
		{"test eax, eax", []byte{0x85, 0xC0}},
		{"test ecx, 0x80", []byte{0xF7, 0xC1, 0x80, 0x00, 0x00, 0x00}},
		{"inc ecx", []byte{0xFF, 0xC1}},
		{"dec rax", []byte{0x48, 0xFF, 0xC8}},
		{"neg r10", []byte{0x49, 0xF7, 0xDA}},
		{"shl eax, 1", []byte{0xD1, 0xE0}},
		{"shr rdx, 4", []byte{0x48, 0xC1, 0xEA, 0x04}},
		{"call rax", []byte{0xFF, 0xD0}},
		{"jmp r11", []byte{0x41, 0xFF, 0xE3}},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, err := Assemble(tt.text, 64)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAssemble32(t *testing.T) {
	tests := []struct {
		text string
		want []byte
	}{
		{"push ebp", []byte{0x55}},
		{"mov ebp, esp", []byte{0x89, 0xE5}},
		{"pushfd", []byte{0x9C}},
		{"call eax", []byte{0xFF, 0xD0}},
		{"mov eax, 0xffffffff", []byte{0xB8, 0xFF, 0xFF, 0xFF, 0xFF}},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, err := Assemble(tt.text, 32)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAssembleRejects(t *testing.T) {
	tests := []struct {
		text string
		mode int
		err  error
	}{
		{"", 64, ErrUnsupported},
		{"movaps xmm0, xmm1", 64, ErrUnsupported},
		{"mov eax, [rbx]", 64, ErrUnsupported},
		{"mov eax, rbx", 64, ErrUnsupported},
		{"push eax", 64, ErrUnsupported},
		{"push rax", 32, ErrUnsupported},
		{"syscall", 32, ErrUnsupported},
		{"mov r8d, 1", 32, ErrUnsupported},
		{"call eax", 64, ErrUnsupported},
		{"xchg eax,", 64, ErrUnsupported},
		{"nop", 16, ErrUnsupported},
		{"add rax, 0x100000000", 64, ErrImmediateRange},
		{"shl eax, 300", 64, ErrImmediateRange},
		{"mov eax, 0x100000000", 64, ErrImmediateRange},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			_, err := Assemble(tt.text, tt.mode)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestAssembleDecodesBack(t *testing.T) {
	tests := []struct {
		text string
		op   x86asm.Op
	}{
		{"xor eax, eax", x86asm.XOR},
		{"push r12", x86asm.PUSH},
		{"mov rbp, rsp", x86asm.MOV},
		{"add rsp, 8", x86asm.ADD},
		{"sub rsp, 0x28", x86asm.SUB},
		{"mov rax, 0x1122334455667788", x86asm.MOV},
		{"mov r9, -1", x86asm.MOV},
		{"inc ecx", x86asm.INC},
		{"sar r13, 3", x86asm.SAR},
		{"call rax", x86asm.CALL},
		{"ud2", x86asm.UD2},
		{"ret", x86asm.RET},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			code, err := Assemble(tt.text, 64)
			require.NoError(t, err)
			inst, err := x86asm.Decode(code, 64)
			require.NoError(t, err)
			assert.Equal(t, len(code), inst.Len)
			assert.Equal(t, tt.op, inst.Op)
		})
	}
}
