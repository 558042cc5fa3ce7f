package disasm

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"procview/internal/config"
	"procview/internal/target"
)

func TestDecodeScenario(t *testing.T) {
	// Two NOPs, one byte that is invalid in 64-bit mode, then xor eax, eax.
	buf := []byte{0x90, 0x90, 0x06, 0x33, 0xC0}
	w := Decode(0x1000, buf, 0x1003, 64, 0)

	require.Len(t, w.Units, 4)
	tests := []struct {
		addr   uint64
		length uint8
		kind   Kind
		text   string
	}{
		{0x1000, 1, KindInstruction, "nop"},
		{0x1001, 1, KindInstruction, "nop"},
		{0x1002, 1, KindData, "db 0x06"},
		{0x1003, 2, KindInstruction, "xor eax, eax"},
	}
	for i, tt := range tests {
		u := w.Units[i]
		assert.Equal(t, tt.addr, u.Address, "unit %d", i)
		assert.Equal(t, tt.length, u.Length, "unit %d", i)
		assert.Equal(t, tt.kind, u.Kind, "unit %d", i)
		assert.Equal(t, tt.text, Text(u, "intel", nil), "unit %d", i)
	}
	assert.Equal(t, 3, w.TargetIndex)
	assert.Equal(t, uint64(0x1005), w.End())
}

func TestDecodeNeverStalls(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for iter := 0; iter < 200; iter++ {
		buf := make([]byte, 1+rng.Intn(256))
		rng.Read(buf)
		buf[rng.Intn(len(buf))] = 0x06

		const limit = 64
		w := Decode(0x400000, buf, 0, 64, limit)
		require.NotEmpty(t, w.Units)
		assert.LessOrEqual(t, len(w.Units), limit)

		next := uint64(0x400000)
		for _, u := range w.Units {
			require.Equal(t, next, u.Address)
			require.GreaterOrEqual(t, u.Length, uint8(1))
			require.Len(t, u.Raw, int(u.Length))
			if u.IsData() {
				require.Equal(t, uint8(1), u.Length)
			}
			next = u.End()
		}
		if len(w.Units) < limit {
			assert.Equal(t, uint64(0x400000+len(buf)), next, "whole buffer consumed")
		}
	}
}

func TestDecodeTargetContained(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	buf := make([]byte, 512)
	rng.Read(buf)
	for off := 0; off < len(buf); off += 13 {
		tgt := uint64(0x2000 + off)
		w := Decode(0x2000, buf, tgt, 64, 0)
		require.GreaterOrEqual(t, w.TargetIndex, 0, "target %#x", tgt)
		assert.True(t, w.Units[w.TargetIndex].Contains(tgt), "target %#x", tgt)
	}
}

func TestDecodeExactMatchWins(t *testing.T) {
	// mov eax, 0x90909090 followed by nop.
	buf := []byte{0xB8, 0x90, 0x90, 0x90, 0x90, 0x90}
	w := Decode(0x10, buf, 0x15, 64, 0)
	require.Len(t, w.Units, 2)
	assert.Equal(t, 1, w.TargetIndex)

	w = Decode(0x10, buf, 0x12, 64, 0)
	assert.Equal(t, 0, w.TargetIndex)

	w = Decode(0x10, buf, 0x40, 64, 0)
	assert.Equal(t, -1, w.TargetIndex)
}

func TestDecodeCopiesInput(t *testing.T) {
	buf := []byte{0x90, 0xC3}
	w := Decode(0, buf, 0, 64, 0)
	buf[0] = 0xCC
	assert.Equal(t, byte(0x90), w.Units[0].Raw[0])
}

func TestWindowIndexLookups(t *testing.T) {
	buf := []byte{0x90, 0x33, 0xC0, 0xC3}
	w := Decode(0x100, buf, 0x100, 64, 0)
	assert.Equal(t, 1, w.IndexOf(0x101))
	assert.Equal(t, -1, w.IndexOf(0x102))
	assert.Equal(t, 1, w.IndexContaining(0x102))
	assert.Equal(t, 2, w.IndexContaining(0x103))
	assert.Equal(t, -1, w.IndexContaining(0x104))

	var empty *Window
	assert.True(t, empty.Empty())
	assert.Equal(t, -1, empty.IndexOf(0))
}

type scriptedReader struct {
	calls []attemptCall
	fn    func(addr uint64, size int) ([]byte, bool)
}

type attemptCall struct {
	addr uint64
	size int
}

func (r *scriptedReader) ReadBytes(addr uint64, size int) ([]byte, bool) {
	r.calls = append(r.calls, attemptCall{addr, size})
	return r.fn(addr, size)
}

func testDecodeConfig() config.DecodeConfig {
	cfg := config.Default().Decode
	cfg.BytesBefore = 0x100
	cfg.BytesAfter = 0x400
	cfg.MinimalBytes = 0x10
	return cfg
}

func TestBuildRetryPolicy(t *testing.T) {
	nops := func(n int) []byte {
		b := make([]byte, n)
		for i := range b {
			b[i] = 0x90
		}
		return b
	}

	tests := []struct {
		name       string
		fn         func(addr uint64, size int) ([]byte, bool)
		wantCalls  []attemptCall
		wantStart  uint64
		wantTarget int
		wantEmpty  bool
	}{
		{
			name:       "context read succeeds",
			fn:         func(addr uint64, size int) ([]byte, bool) { return nops(size), true },
			wantCalls:  []attemptCall{{0x4f00, 0x500}},
			wantStart:  0x4f00,
			wantTarget: 0x100,
		},
		{
			name: "anchored retry",
			fn: func(addr uint64, size int) ([]byte, bool) {
				if addr < 0x5000 {
					return nil, false
				}
				return nops(size), true
			},
			wantCalls:  []attemptCall{{0x4f00, 0x500}, {0x5000, 0x400}},
			wantStart:  0x5000,
			wantTarget: 0,
		},
		{
			name: "context read stops before target",
			fn: func(addr uint64, size int) ([]byte, bool) {
				if addr < 0x5000 {
					return nops(0x20), true
				}
				return nops(size), true
			},
			wantCalls:  []attemptCall{{0x4f00, 0x500}, {0x5000, 0x400}},
			wantStart:  0x5000,
			wantTarget: 0,
		},
		{
			name: "minimal retry",
			fn: func(addr uint64, size int) ([]byte, bool) {
				if size > 0x10 {
					return nil, false
				}
				return nops(size), true
			},
			wantCalls:  []attemptCall{{0x4f00, 0x500}, {0x5000, 0x400}, {0x5000, 0x10}},
			wantStart:  0x5000,
			wantTarget: 0,
		},
		{
			name:       "everything fails",
			fn:         func(addr uint64, size int) ([]byte, bool) { return nil, false },
			wantCalls:  []attemptCall{{0x4f00, 0x500}, {0x5000, 0x400}, {0x5000, 0x10}},
			wantStart:  0x5000,
			wantTarget: -1,
			wantEmpty:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &scriptedReader{fn: tt.fn}
			w := NewBuilder(r, testDecodeConfig()).Build(0x5000)
			require.NotNil(t, w)
			assert.Equal(t, tt.wantCalls, r.calls)
			assert.Equal(t, tt.wantStart, w.Start)
			assert.Equal(t, tt.wantTarget, w.TargetIndex)
			assert.Equal(t, tt.wantEmpty, w.Empty())
			assert.Equal(t, tt.wantEmpty, w.Unreadable)
		})
	}
}

func TestBuildNearZeroClampsContext(t *testing.T) {
	r := &scriptedReader{fn: func(addr uint64, size int) ([]byte, bool) { return make([]byte, size), true }}
	w := NewBuilder(r, testDecodeConfig()).Build(0x20)
	assert.Equal(t, []attemptCall{{0, 0x420}}, r.calls)
	assert.Equal(t, uint64(0), w.Start)
	require.GreaterOrEqual(t, w.TargetIndex, 0)
	assert.True(t, w.Units[w.TargetIndex].Contains(0x20))
}

func TestBuildOverMemory(t *testing.T) {
	m := target.NewMemory()
	code := []byte{0x55, 0x48, 0x89, 0xE5, 0x31, 0xC0, 0x5D, 0xC3}
	page := make([]byte, target.PageSize)
	copy(page, code)
	_, err := m.Map(0x7000, page, target.ProtRX, "prog")
	require.NoError(t, err)

	// The context read starts in unmapped memory and fails.
	w := NewBuilder(m, testDecodeConfig()).Build(0x7004)
	require.False(t, w.Empty())
	assert.Equal(t, uint64(0x7004), w.Start)
	assert.Equal(t, 0, w.TargetIndex)
	assert.Equal(t, "xor eax, eax", Text(w.Units[0], "intel", nil))
}

func TestBuildZeroByteReadsYieldEmptyWindow(t *testing.T) {
	r := &scriptedReader{fn: func(addr uint64, size int) ([]byte, bool) { return []byte{}, true }}
	w := NewBuilder(r, testDecodeConfig()).Build(0x9000)
	require.NotNil(t, w)
	assert.True(t, w.Empty())
	assert.Equal(t, -1, w.TargetIndex)
	assert.Len(t, r.calls, 3)
}
