package gutter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"procview/internal/disasm"
	"procview/internal/flow"
)

func rows(l flow.Layout, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = Render(l, i, false)
	}
	return out
}

func TestRender(t *testing.T) {
	tests := []struct {
		name   string
		layout flow.Layout
		want   []string
	}{
		{
			name: "forward jump",
			layout: flow.Layout{Lanes: 2, Edges: []flow.Edge{
				{SourceIndex: 0, TargetIndex: 3, Lane: 0, Kind: disasm.BranchJump},
			}},
			want: []string{" ┌─", " │ ", " │ ", " └>", "   "},
		},
		{
			name: "backward jump",
			layout: flow.Layout{Lanes: 2, Edges: []flow.Edge{
				{SourceIndex: 2, TargetIndex: 0, Lane: 1, Kind: disasm.BranchCond},
			}},
			want: []string{"┌─>", "│  ", "└──", "   ", "   "},
		},
		{
			name: "self loop",
			layout: flow.Layout{Lanes: 1, Edges: []flow.Edge{
				{SourceIndex: 1, TargetIndex: 1, Lane: 0, Kind: disasm.BranchJump},
			}},
			want: []string{"  ", "↺>", "  ", "  ", "  "},
		},
		{
			name: "crossing",
			layout: flow.Layout{Lanes: 2, Edges: []flow.Edge{
				{SourceIndex: 0, TargetIndex: 4, Lane: 0, Kind: disasm.BranchJump},
				{SourceIndex: 2, TargetIndex: 3, Lane: 1, Kind: disasm.BranchCond},
			}},
			want: []string{" ┌─", " │ ", "┌┼─", "└┼>", " └>"},
		},
		{
			name: "target wins the marker",
			layout: flow.Layout{Lanes: 2, Edges: []flow.Edge{
				{SourceIndex: 0, TargetIndex: 2, Lane: 1, Kind: disasm.BranchJump},
				{SourceIndex: 2, TargetIndex: 4, Lane: 0, Kind: disasm.BranchCall},
			}},
			want: []string{"┌──", "│  ", "└┌>", " │ ", " └>"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rows(tt.layout, len(tt.want)))
		})
	}
}

func TestNoLanes(t *testing.T) {
	assert.Equal(t, 0, Width(flow.Layout{}))
	assert.Empty(t, Render(flow.Layout{}, 0, true))
}

func TestRowKinds(t *testing.T) {
	l := flow.Layout{Lanes: 1, Edges: []flow.Edge{
		{SourceIndex: 0, TargetIndex: 1, Lane: 0, Kind: disasm.BranchCall},
	}}
	cells := Row(l, 0)
	assert.Equal(t, []Cell{{'┌', disasm.BranchCall}, {'─', disasm.BranchCall}}, cells)
	assert.Contains(t, Render(l, 1, true), "└")
}
