package target

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMemory(t *testing.T) *Memory {
	t.Helper()
	m := NewMemory()
	_, err := m.Map(0x1000, bytes.Repeat([]byte{0xAA}, 2*PageSize), ProtRX, "game.exe")
	require.NoError(t, err)
	_, err = m.Map(0x4000, bytes.Repeat([]byte{0xBB}, PageSize), ProtRW, "")
	require.NoError(t, err)
	return m
}

func TestMemoryRead(t *testing.T) {
	m := newTestMemory(t)

	tests := []struct {
		name    string
		addr    uint64
		size    int
		wantLen int
		wantOK  bool
	}{
		{name: "inside region", addr: 0x1010, size: 16, wantLen: 16, wantOK: true},
		{name: "across pages", addr: 0x1ff0, size: 32, wantLen: 32, wantOK: true},
		{name: "short at region end", addr: 0x2ff0, size: 64, wantLen: 16, wantOK: true},
		{name: "unmapped", addr: 0x3000, size: 16, wantOK: false},
		{name: "zero size", addr: 0x1000, size: 0, wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, ok := m.ReadBytes(tt.addr, tt.size)
			assert.Equal(t, tt.wantOK, ok)
			assert.Len(t, data, tt.wantLen)
		})
	}
}

func TestMemoryWriteRespectsProtection(t *testing.T) {
	m := newTestMemory(t)

	assert.False(t, m.WriteBytes(0x1000, []byte{0x90}), "code pages are not writable")
	assert.True(t, m.WriteBytes(0x4000, []byte{0x01, 0x02}))

	old, err := m.ChangeProtection(0x1000, 1, ProtRWX)
	require.NoError(t, err)
	assert.Equal(t, ProtRX, old)
	assert.True(t, m.WriteBytes(0x1000, []byte{0x90}))

	data, ok := m.ReadBytes(0x1000, 2)
	require.True(t, ok)
	assert.Equal(t, []byte{0x90, 0xAA}, data)

	// A write straddling into a read-only page fails without touching memory.
	assert.False(t, m.WriteBytes(0x1ffe, []byte{1, 2, 3, 4}))
	data, _ = m.ReadBytes(0x1ffe, 2)
	assert.Equal(t, []byte{0xAA, 0xAA}, data)

	m.SetBypass(true)
	assert.True(t, m.WriteBytes(0x1ffe, []byte{1, 2, 3, 4}))
}

func TestMemoryChangeProtectionUnmapped(t *testing.T) {
	m := newTestMemory(t)
	_, err := m.ChangeProtection(0x3000, 4, ProtRWX)
	assert.ErrorIs(t, err, ErrUnmapped)

	_, err = m.ChangeProtection(0x2ff0, 0x20, ProtRWX)
	assert.ErrorIs(t, err, ErrUnmapped)
	prot, _ := m.Protection(0x2ff0)
	assert.Equal(t, ProtRX, prot, "failed change leaves protection alone")
}

func TestMemoryResolveOwningImage(t *testing.T) {
	m := newTestMemory(t)
	_, err := m.Map(0x8000, []byte{1}, ProtRW, "game.exe")
	require.NoError(t, err)

	im, ok := m.ResolveOwningImage(0x8000)
	require.True(t, ok)
	assert.Equal(t, Image{Name: "game.exe", Base: 0x1000}, im)

	_, ok = m.ResolveOwningImage(0x4000)
	assert.False(t, ok, "anonymous mapping has no image")
}

func TestMemoryMapRejectsOverlap(t *testing.T) {
	m := newTestMemory(t)
	_, err := m.Map(0x2000, []byte{1}, ProtRW, "")
	assert.Error(t, err)
	_, err = m.Map(0x2001, []byte{1}, ProtRW, "")
	assert.Error(t, err)
}

func TestParseMaps(t *testing.T) {
	listing := strings.Join([]string{
		"55d0c0a00000-55d0c0a02000 r--p 00000000 08:01 1234 /usr/bin/game",
		"55d0c0a02000-55d0c0a05000 r-xp 00002000 08:01 1234 /usr/bin/game",
		"7ffd1000-7ffd2000 rw-p 00000000 00:00 0 [stack]",
		"7f0000000000-7f0000001000 rw-s 00000000 00:05 99 /dev/shm/my region",
		"",
	}, "\n")

	maps, err := ParseMaps(strings.NewReader(listing))
	require.NoError(t, err)
	require.Len(t, maps, 4)

	assert.Equal(t, ProtRX, maps[1].Perm)
	assert.Equal(t, uint64(0x2000), maps[1].Offset)
	assert.True(t, maps[3].Shared)
	assert.Equal(t, "/dev/shm/my region", maps[3].Path)

	im, ok := ImageOf(maps, 0x55d0c0a03010)
	require.True(t, ok)
	assert.Equal(t, Image{Name: "game", Base: 0x55d0c0a00000}, im)

	_, ok = ImageOf(maps, 0x7ffd1800)
	assert.False(t, ok, "pseudo mappings are not images")
	_, ok = ImageOf(maps, 0x1000)
	assert.False(t, ok)
}

func TestParseMapsBadLine(t *testing.T) {
	_, err := ParseMaps(strings.NewReader("zz-10 r-xp 0 0 0\n"))
	assert.Error(t, err)
}

func TestProtectionString(t *testing.T) {
	assert.Equal(t, "r-x", ProtRX.String())
	assert.Equal(t, "---", ProtNone.String())
	assert.Equal(t, "rwx", ProtRWX.String())
}
