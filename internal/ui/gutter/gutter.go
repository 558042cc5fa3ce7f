// Package gutter draws the control-flow arrows of a flow.Layout as box
// drawing characters, one row of cells per listing row.
package gutter

import (
	"strings"

	"github.com/charmbracelet/lipgloss/v2"

	"procview/internal/disasm"
	"procview/internal/flow"
)

// Cell is one character of the gutter and the kind of the edge that drew it.
type Cell struct {
	Rune rune
	Kind disasm.BranchKind
}

var kindStyles = map[disasm.BranchKind]lipgloss.Style{
	disasm.BranchCall: lipgloss.NewStyle().Foreground(lipgloss.Color("81")),
	disasm.BranchJump: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
	disasm.BranchCond: lipgloss.NewStyle().Foreground(lipgloss.Color("141")),
}

// Width returns the number of cells in every row of l: one column per lane
// plus the marker column next to the listing.
func Width(l flow.Layout) int {
	if l.Lanes <= 0 {
		return 0
	}
	return l.Lanes + 1
}

// Row returns the cells of one row. Lane 0 is the column closest to the
// listing. The marker column shows '>' on rows that are branch targets and
// '─' on rows that only branch away.
func Row(l flow.Layout, row int) []Cell {
	width := Width(l)
	cells := make([]Cell, width)
	for i := range cells {
		cells[i].Rune = ' '
	}
	if width == 0 {
		return cells
	}
	marker := width - 1

	put := func(c int, r rune, k disasm.BranchKind) {
		cells[c] = Cell{Rune: merge(cells[c].Rune, r), Kind: k}
	}

	for _, e := range l.At(row) {
		c := l.Lanes - 1 - int(e.Lane)
		if row != e.Min() && row != e.Max() {
			put(c, '│', e.Kind)
			continue
		}

		switch {
		case e.Min() == e.Max():
			put(c, '↺', e.Kind)
		case row == e.Min():
			put(c, '┌', e.Kind)
		default:
			put(c, '└', e.Kind)
		}
		for h := c + 1; h < marker; h++ {
			put(h, '─', e.Kind)
		}
		if row == e.TargetIndex {
			cells[marker] = Cell{Rune: '>', Kind: e.Kind}
		} else if cells[marker].Rune != '>' {
			cells[marker] = Cell{Rune: '─', Kind: e.Kind}
		}
	}
	return cells
}

// merge combines a new stroke with what is already in a cell. Corners win
// over horizontal runs, and crossing strokes become a junction.
func merge(old, r rune) rune {
	switch {
	case old == ' ':
		return r
	case old == '│' && r == '─', old == '─' && r == '│':
		return '┼'
	case r == '─':
		return old
	}
	return r
}

// Render returns row as a string, colored by edge kind when color is set.
func Render(l flow.Layout, row int, color bool) string {
	var sb strings.Builder
	for _, c := range Row(l, row) {
		if !color || c.Rune == ' ' {
			sb.WriteRune(c.Rune)
			continue
		}
		style, ok := kindStyles[c.Kind]
		if !ok {
			sb.WriteRune(c.Rune)
			continue
		}
		sb.WriteString(style.Render(string(c.Rune)))
	}
	return sb.String()
}
