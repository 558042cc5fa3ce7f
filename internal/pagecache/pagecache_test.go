package pagecache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"procview/internal/target"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

type countingReader struct {
	mem   *target.Memory
	reads []uint64
}

func (r *countingReader) ReadBytes(addr uint64, size int) ([]byte, bool) {
	r.reads = append(r.reads, addr)
	return r.mem.ReadBytes(addr, size)
}

func setup(t *testing.T, maxPages int) (*Cache, *countingReader, *target.Memory, *clock) {
	t.Helper()
	m := target.NewMemory()
	data := make([]byte, 3*target.PageSize)
	for i := range data {
		data[i] = byte(i)
	}
	_, err := m.Map(0x10000, data, target.ProtRW, "heap")
	require.NoError(t, err)

	r := &countingReader{mem: m}
	clk := &clock{t: time.Unix(1700000000, 0)}
	c := New(r, 0x1000, 100*time.Millisecond, maxPages, WithClock(clk.now))
	return c, r, m, clk
}

func TestReadServesFromPage(t *testing.T) {
	c, r, _, _ := setup(t, 16)

	got := c.Read(0x10010, 4)
	assert.Equal(t, []byte{0x10, 0x11, 0x12, 0x13}, got)
	assert.Equal(t, []uint64{0x10000}, r.reads)

	// Same page, no new read.
	got = c.Read(0x10ffe, 2)
	assert.Equal(t, []byte{0xfe, 0xff}, got)
	assert.Len(t, r.reads, 1)
	assert.Equal(t, 1, c.Reads())
}

func TestReadAcrossPages(t *testing.T) {
	c, r, _, _ := setup(t, 16)

	got := c.Read(0x10ffe, 4)
	assert.Equal(t, []byte{0xfe, 0xff, 0x00, 0x01}, got)
	assert.Equal(t, []uint64{0x10000, 0x11000}, r.reads)
}

func TestExpiredPageIsReread(t *testing.T) {
	c, r, m, clk := setup(t, 16)

	c.Read(0x10000, 1)
	require.True(t, m.WriteBytes(0x10000, []byte{0xAA}))

	clk.advance(100 * time.Millisecond)
	assert.Equal(t, []byte{0x00}, c.Read(0x10000, 1), "still within TTL")

	clk.advance(time.Millisecond)
	assert.Equal(t, []byte{0xAA}, c.Read(0x10000, 1))
	assert.Len(t, r.reads, 2)
}

func TestFailedReadsAreEmpty(t *testing.T) {
	c, _, _, _ := setup(t, 16)

	tests := []struct {
		name string
		addr uint64
		size int
	}{
		{"unmapped", 0x90000, 4},
		{"runs past mapping", 0x12ffe, 4},
		{"zero size", 0x10000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Empty(t, c.Read(tt.addr, tt.size))
		})
	}
}

func TestInvalidate(t *testing.T) {
	c, r, m, _ := setup(t, 16)

	c.Read(0x10000, 0x2000)
	assert.Equal(t, 2, c.Len())
	require.True(t, m.WriteBytes(0x11000, []byte{0xBB}))

	c.Invalidate(0x11000, 1)
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, []byte{0xBB}, c.Read(0x11000, 1))
	assert.Len(t, r.reads, 3)

	c.Reset()
	assert.Equal(t, 0, c.Len())
}

func TestEviction(t *testing.T) {
	c, _, _, clk := setup(t, 2)

	c.Read(0x10000, 1)
	clk.advance(300 * time.Millisecond)
	c.Read(0x11000, 1)
	// Third page pushes the cache over its bound; the first page is older
	// than twice the TTL and goes.
	c.Read(0x12000, 1)
	assert.Equal(t, 2, c.Len())

	// Everything is fresh now, so going over the bound drops all pages.
	assert.Equal(t, []byte{0x00}, c.Read(0x10000, 1))
	assert.Equal(t, 0, c.Len())
}
