// Package flow lays out control-flow arrows between units of a decoded
// window on a fixed number of lanes.
package flow

import (
	"sort"

	"procview/internal/disasm"
)

// DefaultLanes is the lane count used when none is configured.
const DefaultLanes = 6

// Edge is an arrow from the unit at SourceIndex to the unit at TargetIndex.
type Edge struct {
	SourceIndex int
	TargetIndex int
	Lane        uint8
	Kind        disasm.BranchKind
}

// Min returns the smaller row index the edge spans.
func (e Edge) Min() int { return min(e.SourceIndex, e.TargetIndex) }

// Max returns the larger row index the edge spans.
func (e Edge) Max() int { return max(e.SourceIndex, e.TargetIndex) }

// Backward reports whether the edge points up the listing.
func (e Edge) Backward() bool { return e.TargetIndex < e.SourceIndex }

// Layout is the arrow layout for one window.
type Layout struct {
	Edges     []Edge // sorted by SourceIndex
	Lanes     int
	Exhausted bool // some edge had to share an occupied lane
}

// Edges returns every branch in w whose statically resolved target starts a
// unit inside w. Edges leaving the window are dropped. Lanes are unassigned.
func Edges(w *disasm.Window) []Edge {
	if w.Empty() {
		return nil
	}
	index := make(map[uint64]int, len(w.Units))
	for i, u := range w.Units {
		index[u.Address] = i
	}

	var edges []Edge
	for i, u := range w.Units {
		kind, to, ok := disasm.Branch(u)
		if !ok {
			continue
		}
		j, inside := index[to]
		if !inside {
			continue
		}
		edges = append(edges, Edge{SourceIndex: i, TargetIndex: j, Kind: kind})
	}
	return edges
}

// Allocate assigns lanes to the edges of w with a greedy first-fit over
// lanes in a fixed order. Edges are placed outermost span first. When
// every lane is occupied the edge shares the lane whose occupied extent
// ends earliest, the lowest lane winning ties, so every edge is always
// produced.
func Allocate(w *disasm.Window, lanes int) Layout {
	if lanes <= 0 {
		lanes = DefaultLanes
	}
	lanes = min(lanes, 256)
	edges := Edges(w)
	layout := Layout{Lanes: lanes}
	if len(edges) == 0 {
		return layout
	}

	order := make([]int, len(edges))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ea, eb := edges[order[a]], edges[order[b]]
		if ea.Min() == eb.Min() {
			return ea.Max() > eb.Max()
		}
		return ea.Min() < eb.Min()
	})

	// ends[l] is the last row occupied on lane l, -1 when the lane is free.
	ends := make([]int, lanes)
	for l := range ends {
		ends[l] = -1
	}

	for _, k := range order {
		e := &edges[k]
		lane := -1
		for l, end := range ends {
			if end < e.Min() {
				lane = l
				break
			}
		}
		if lane < 0 {
			layout.Exhausted = true
			lane = 0
			for l := 1; l < lanes; l++ {
				if ends[l] < ends[lane] {
					lane = l
				}
			}
		}
		e.Lane = uint8(lane)
		ends[lane] = max(ends[lane], e.Max())
	}

	sort.SliceStable(edges, func(a, b int) bool {
		return edges[a].SourceIndex < edges[b].SourceIndex
	})
	layout.Edges = edges
	return layout
}

// At returns the edges whose span includes row.
func (l Layout) At(row int) []Edge {
	var out []Edge
	for _, e := range l.Edges {
		if e.Min() <= row && row <= e.Max() {
			out = append(out, e)
		}
	}
	return out
}
