package disasm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBranch(t *testing.T) {
	tests := []struct {
		name   string
		code   []byte
		kind   BranchKind
		to     uint64
		wantOK bool
	}{
		{"call rel32", []byte{0xE8, 0x0B, 0x00, 0x00, 0x00}, BranchCall, 0x1010, true},
		{"jmp short self", []byte{0xEB, 0xFE}, BranchJump, 0x1000, true},
		{"je short", []byte{0x74, 0x02}, BranchCond, 0x1004, true},
		{"jne near back", []byte{0x0F, 0x85, 0xFA, 0xFF, 0xFF, 0xFF}, BranchCond, 0x1000, true},
		{"jmp rip relative", []byte{0xFF, 0x25, 0x10, 0x00, 0x00, 0x00}, BranchJump, 0x1016, true},
		{"jmp register", []byte{0xFF, 0xE0}, BranchJump, 0, false},
		{"loop", []byte{0xE2, 0xFE}, BranchCond, 0x1000, true},
		{"ret", []byte{0xC3}, BranchNone, 0, false},
		{"data", []byte{0x06}, BranchNone, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := Decode(0x1000, tt.code, 0x1000, 64, 1)
			require.Len(t, w.Units, 1)
			kind, to, ok := Branch(w.Units[0])
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.to, to)
			}
		})
	}
}

func TestParts(t *testing.T) {
	w := Decode(0x1000, []byte{0x31, 0xC0, 0xF3, 0xA4, 0x06, 0xC3}, 0x1000, 64, 0)
	require.Len(t, w.Units, 4)

	parts := Parts(w.Units[0], "prog+1000", Text(w.Units[0], "intel", nil))
	assert.Equal(t, []Part{
		{PartAddress, "prog+1000"},
		{PartBytes, "31 C0"},
		{PartMnemonic, "xor"},
		{PartOperands, "eax, eax"},
	}, parts)

	parts = Parts(w.Units[1], "x", Text(w.Units[1], "intel", nil))
	require.GreaterOrEqual(t, len(parts), 3)
	assert.Equal(t, PartMnemonic, parts[2].Kind)
	assert.Contains(t, parts[2].Text, "rep")

	parts = Parts(w.Units[2], "x", Text(w.Units[2], "intel", nil))
	assert.Equal(t, []Part{{PartAddress, "x"}, {PartBytes, "06"}, {PartData, "db 0x06"}}, parts)

	parts = Parts(w.Units[3], "x", Text(w.Units[3], "intel", nil))
	assert.Len(t, parts, 3)
	assert.Equal(t, Part{PartMnemonic, "ret"}, parts[2])
}

func TestHexBytes(t *testing.T) {
	assert.Equal(t, "", HexBytes(nil))
	assert.Equal(t, "0F 05", HexBytes([]byte{0x0f, 0x05}))
}
