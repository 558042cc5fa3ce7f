// Package selection tracks the selected rows of a decoded window and the
// scroll offset of the viewport over it.
package selection

import (
	"maps"
	"slices"
)

// Model is the selection and viewport state over a window of length rows.
// Indices are row indices into the current window.
type Model struct {
	length int
	rows   int // viewport height
	offset int

	anchor   int // -1 when unset
	cursor   int // last row touched, -1 when unset
	selected map[int]struct{}

	dragging  bool
	dragStart int
	pointer   int
}

// New returns an empty model with a viewport of rows lines.
func New(rows int) *Model {
	m := &Model{rows: max(rows, 1)}
	m.Reset(0, -1)
	return m
}

// Reset replaces the window. With a target row the viewport centers on it
// and selects it; without one it scrolls to the top and selects the first
// row; an empty window has no selection.
func (m *Model) Reset(length, target int) {
	m.length = max(length, 0)
	m.offset = 0
	m.anchor, m.cursor = -1, -1
	m.selected = make(map[int]struct{})
	m.dragging = false

	switch {
	case m.length == 0:
	case target >= 0 && target < m.length:
		m.Select(target)
		m.offset = m.clampOffset(target - m.rows/2)
	default:
		m.Select(0)
	}
}

// SetRows changes the viewport height and keeps the cursor visible.
func (m *Model) SetRows(rows int) {
	m.rows = max(rows, 1)
	m.offset = m.clampOffset(m.offset)
	if m.cursor >= 0 {
		m.EnsureVisible(m.cursor)
	}
}

// Select makes i the only selected row and the anchor.
func (m *Model) Select(i int) {
	if !m.valid(i) {
		return
	}
	clear(m.selected)
	m.selected[i] = struct{}{}
	m.anchor, m.cursor = i, i
}

// Toggle adds or removes i without touching the rest of the selection. The
// anchor is kept, or set to i when there is none.
func (m *Model) Toggle(i int) {
	if !m.valid(i) {
		return
	}
	if _, ok := m.selected[i]; ok {
		delete(m.selected, i)
	} else {
		m.selected[i] = struct{}{}
	}
	if m.anchor < 0 {
		m.anchor = i
	}
	m.cursor = i
}

// SelectRange selects the contiguous rows between the anchor and i.
func (m *Model) SelectRange(i int) {
	if !m.valid(i) {
		return
	}
	if m.anchor < 0 {
		m.Select(i)
		return
	}
	m.fill(m.anchor, i)
	m.cursor = i
}

func (m *Model) fill(a, b int) {
	clear(m.selected)
	for k := min(a, b); k <= max(a, b); k++ {
		m.selected[k] = struct{}{}
	}
}

// BeginDrag starts a drag selection at i.
func (m *Model) BeginDrag(i int) {
	if !m.valid(i) {
		return
	}
	m.Select(i)
	m.dragging = true
	m.dragStart, m.pointer = i, i
}

// DragTo extends the drag selection to the row under the pointer.
func (m *Model) DragTo(i int) {
	if !m.dragging {
		return
	}
	i = min(max(i, 0), m.length-1)
	m.pointer = i
	m.fill(m.dragStart, i)
	m.cursor = i
}

// DragTick scrolls one row when the pointer sits on the first or last
// visible row and extends the selection to the newly revealed row. It
// reports whether the viewport moved.
func (m *Model) DragTick() bool {
	if !m.dragging {
		return false
	}
	switch {
	case m.pointer <= m.offset && m.offset > 0:
		m.offset--
		m.DragTo(m.offset)
		return true
	case m.pointer >= m.offset+m.rows-1 && m.offset+m.rows < m.length:
		m.offset++
		m.DragTo(m.offset + m.rows - 1)
		return true
	}
	return false
}

// EndDrag finishes a drag; the selection stays.
func (m *Model) EndDrag() { m.dragging = false }

// Dragging reports whether a drag is in progress.
func (m *Model) Dragging() bool { return m.dragging }

func (m *Model) Up()       { m.move(-1) }
func (m *Model) Down()     { m.move(1) }
func (m *Model) PageUp()   { m.move(-m.rows) }
func (m *Model) PageDown() { m.move(m.rows) }
func (m *Model) Home()     { m.moveTo(0) }
func (m *Model) End()      { m.moveTo(m.length - 1) }

func (m *Model) move(delta int) {
	from := m.cursor
	if from < 0 {
		from = m.offset
	}
	m.moveTo(from + delta)
}

// moveTo collapses the selection to one row, re-anchors and scrolls it
// into view.
func (m *Model) moveTo(i int) {
	if m.length == 0 {
		return
	}
	i = min(max(i, 0), m.length-1)
	m.dragging = false
	m.Select(i)
	m.EnsureVisible(i)
}

// EnsureVisible scrolls by the minimum amount that brings i into the
// viewport.
func (m *Model) EnsureVisible(i int) {
	if !m.valid(i) {
		return
	}
	switch {
	case i < m.offset:
		m.offset = i
	case i >= m.offset+m.rows:
		m.offset = i - m.rows + 1
	}
	m.offset = m.clampOffset(m.offset)
}

// ScrollBy moves the viewport without changing the selection.
func (m *Model) ScrollBy(n int) {
	m.offset = m.clampOffset(m.offset + n)
}

// Remap carries the selection over to a replacement window of length rows.
// fn maps an old row to its new row; rows it cannot map are dropped. The
// viewport keeps its offset where possible.
func (m *Model) Remap(length int, fn func(old int) (int, bool)) {
	old := m.selected
	anchor, cursor, offset := m.anchor, m.cursor, m.offset

	m.length = max(length, 0)
	m.selected = make(map[int]struct{}, len(old))
	m.anchor, m.cursor = -1, -1
	m.dragging = false

	for i := range old {
		if j, ok := fn(i); ok && m.valid(j) {
			m.selected[j] = struct{}{}
		}
	}
	if j, ok := mapRow(fn, anchor); ok && m.valid(j) {
		m.anchor = j
	}
	if j, ok := mapRow(fn, cursor); ok && m.valid(j) {
		m.cursor = j
	}
	m.offset = m.clampOffset(offset)
	if m.cursor >= 0 {
		m.EnsureVisible(m.cursor)
	}
}

func mapRow(fn func(int) (int, bool), i int) (int, bool) {
	if i < 0 {
		return -1, false
	}
	return fn(i)
}

// Selected returns the selected rows in ascending order.
func (m *Model) Selected() []int {
	return slices.Sorted(maps.Keys(m.selected))
}

// IsSelected reports whether row i is selected.
func (m *Model) IsSelected(i int) bool {
	_, ok := m.selected[i]
	return ok
}

// Contiguous reports whether the selection is one unbroken run and returns
// its bounds.
func (m *Model) Contiguous() (first, last int, ok bool) {
	sel := m.Selected()
	if len(sel) == 0 {
		return 0, 0, false
	}
	first, last = sel[0], sel[len(sel)-1]
	return first, last, last-first+1 == len(sel)
}

// Anchor returns the anchor row.
func (m *Model) Anchor() (int, bool) { return m.anchor, m.anchor >= 0 }

// Cursor returns the last row touched, or -1.
func (m *Model) Cursor() int { return m.cursor }

// Offset returns the first visible row.
func (m *Model) Offset() int { return m.offset }

// Rows returns the viewport height.
func (m *Model) Rows() int { return m.rows }

// Len returns the window length.
func (m *Model) Len() int { return m.length }

// Visible returns the half-open range of visible rows.
func (m *Model) Visible() (from, to int) {
	return m.offset, min(m.offset+m.rows, m.length)
}

func (m *Model) valid(i int) bool { return i >= 0 && i < m.length }

func (m *Model) clampOffset(o int) int {
	return min(max(o, 0), max(m.length-m.rows, 0))
}
