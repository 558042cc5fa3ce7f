package selection

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResetViewportPolicy(t *testing.T) {
	tests := []struct {
		name       string
		length     int
		target     int
		wantOffset int
		wantSel    []int
	}{
		{"target centered", 100, 50, 45, []int{50}},
		{"target near top", 100, 2, 0, []int{2}},
		{"target near bottom", 100, 98, 90, []int{98}},
		{"target missing", 100, -1, 0, []int{0}},
		{"empty", 0, -1, 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(10)
			m.Reset(tt.length, tt.target)
			assert.Equal(t, tt.wantOffset, m.Offset())
			assert.Equal(t, tt.wantSel, m.Selected())
		})
	}
}

func TestToggleKeepsAnchor(t *testing.T) {
	m := New(10)
	m.Reset(20, 3)
	m.Toggle(7)
	m.Toggle(9)
	assert.Equal(t, []int{3, 7, 9}, m.Selected())
	m.Toggle(3)
	assert.Equal(t, []int{7, 9}, m.Selected())

	a, ok := m.Anchor()
	assert.True(t, ok)
	assert.Equal(t, 3, a)

	m.SelectRange(6)
	assert.Equal(t, []int{3, 4, 5, 6}, m.Selected())
	m.SelectRange(1)
	assert.Equal(t, []int{1, 2, 3}, m.Selected())
	first, last, contiguous := m.Contiguous()
	assert.True(t, contiguous)
	assert.Equal(t, 1, first)
	assert.Equal(t, 3, last)
}

func TestSelectRangeWithoutAnchor(t *testing.T) {
	m := New(10)
	m.Reset(0, -1)
	m.SelectRange(2)
	assert.Empty(t, m.Selected(), "out of range")

	m.Reset(5, -1)
	m.Remap(5, func(int) (int, bool) { return 0, false })
	_, ok := m.Anchor()
	assert.False(t, ok)

	m.Toggle(2)
	a, ok := m.Anchor()
	assert.True(t, ok, "toggle sets a missing anchor")
	assert.Equal(t, 2, a)
}

func TestKeyboardCollapsesAndReanchors(t *testing.T) {
	m := New(10)
	m.Reset(100, 0)
	m.SelectRange(4)
	assert.Len(t, m.Selected(), 5)

	m.Down()
	assert.Equal(t, []int{5}, m.Selected())
	a, _ := m.Anchor()
	assert.Equal(t, 5, a)

	m.PageDown()
	assert.Equal(t, []int{15}, m.Selected())
	assert.Equal(t, 6, m.Offset(), "minimal scroll puts 15 on the last row")

	m.Up()
	assert.Equal(t, 6, m.Offset(), "14 is already visible")

	m.End()
	assert.Equal(t, []int{99}, m.Selected())
	assert.Equal(t, 90, m.Offset())

	m.PageUp()
	assert.Equal(t, []int{89}, m.Selected())
	assert.Equal(t, 89, m.Offset())

	m.Home()
	assert.Equal(t, []int{0}, m.Selected())
	assert.Equal(t, 0, m.Offset())

	m.Up()
	assert.Equal(t, []int{0}, m.Selected(), "clamped at the top")
}

func TestEnsureVisibleIsMinimal(t *testing.T) {
	m := New(10)
	m.Reset(100, -1)
	m.EnsureVisible(5)
	assert.Equal(t, 0, m.Offset())
	m.EnsureVisible(10)
	assert.Equal(t, 1, m.Offset())
	m.EnsureVisible(40)
	assert.Equal(t, 31, m.Offset())
	m.EnsureVisible(35)
	assert.Equal(t, 31, m.Offset())
	m.EnsureVisible(30)
	assert.Equal(t, 30, m.Offset())
}

func TestDragWithAutoScroll(t *testing.T) {
	m := New(10)
	m.Reset(30, -1)

	m.BeginDrag(4)
	m.DragTo(2)
	assert.Equal(t, []int{2, 3, 4}, m.Selected())
	m.DragTo(9)
	assert.Equal(t, []int{4, 5, 6, 7, 8, 9}, m.Selected())

	// Pointer on the last visible row: one row per tick.
	assert.True(t, m.DragTick())
	assert.Equal(t, 1, m.Offset())
	assert.Equal(t, 10, m.Cursor())
	assert.True(t, m.DragTick())
	assert.Equal(t, 2, m.Offset())
	assert.Equal(t, []int{4, 5, 6, 7, 8, 9, 10, 11}, m.Selected())

	// Pointer back in the middle: no scrolling.
	m.DragTo(6)
	assert.False(t, m.DragTick())

	// Pointer on the top row scrolls up and the range shrinks past the start.
	m.DragTo(2)
	assert.True(t, m.DragTick())
	assert.Equal(t, 1, m.Offset())
	assert.Equal(t, []int{1, 2, 3, 4}, m.Selected())

	m.EndDrag()
	assert.False(t, m.DragTick())
	m.DragTo(20)
	assert.Equal(t, []int{1, 2, 3, 4}, m.Selected(), "drag ended")
}

func TestDragTickStopsAtEnds(t *testing.T) {
	m := New(10)
	m.Reset(12, -1)
	m.BeginDrag(0)
	assert.False(t, m.DragTick(), "already at the top")
	m.DragTo(11)
	assert.True(t, m.DragTick())
	assert.True(t, m.DragTick())
	assert.False(t, m.DragTick(), "last row is visible")
	assert.Equal(t, 2, m.Offset())
	assert.Equal(t, 11, m.Cursor())
}

func TestRemap(t *testing.T) {
	m := New(10)
	m.Reset(50, 20)
	m.SelectRange(22)
	offset := m.Offset()

	// New window has two extra rows in front and lost old row 21.
	m.Remap(52, func(old int) (int, bool) {
		if old == 21 {
			return 0, false
		}
		return old + 2, true
	})
	assert.Equal(t, []int{22, 24}, m.Selected())
	a, _ := m.Anchor()
	assert.Equal(t, 22, a)
	assert.Equal(t, 24, m.Cursor())
	assert.Equal(t, offset, m.Offset())
}

func TestSetRowsKeepsCursorVisible(t *testing.T) {
	m := New(20)
	m.Reset(100, 50)
	m.SetRows(4)
	from, to := m.Visible()
	assert.True(t, from <= 50 && 50 < to)
	assert.Equal(t, 4, m.Rows())
	m.ScrollBy(-1000)
	assert.Equal(t, 0, m.Offset())
	assert.Equal(t, []int{50}, m.Selected(), "scrolling keeps the selection")
}
