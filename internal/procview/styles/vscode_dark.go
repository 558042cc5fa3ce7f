package styles

import (
	"github.com/charmbracelet/lipgloss/v2"
	"github.com/charmbracelet/x/exp/charmtone"
)

// VS Code Dark theme colors
const (
	VSCodeForeground = "#D4D4D4"
	VSCodeInlineCode = "#EACD53" // golden
	VSCodeComment    = "#6A9955"
	VSCodeHeading    = "#569CD6"
	VSCodeNumber     = "#B5CEA8"
	VSCodeSelection  = "#264F78"
	VSCodeLineNumber = "#858585"
	VSCodeError      = "#F44747"
)

// Palette shared by the lipgloss styles and the markdown renderer.
var (
	colorCursor  = charmtone.Guac.Hex()
	colorTitle   = charmtone.Malibu.Hex()
	colorPatched = charmtone.Cheeky.Hex()
	colorPrompt  = charmtone.Charple.Hex()
	colorAccent  = charmtone.Zest.Hex()
)

// Listing styles shared by the TUI panes.
var (
	Cursor   = lipgloss.NewStyle().Foreground(lipgloss.Color(colorCursor)).Bold(true)
	Selected = lipgloss.NewStyle().Background(lipgloss.Color(VSCodeSelection))
	Target   = lipgloss.NewStyle().Foreground(lipgloss.Color(VSCodeInlineCode))
	Patched  = lipgloss.NewStyle().Foreground(lipgloss.Color(colorPatched))
	Dim      = lipgloss.NewStyle().Foreground(lipgloss.Color(VSCodeLineNumber))
	Error    = lipgloss.NewStyle().Foreground(lipgloss.Color(VSCodeError)).Bold(true)
	Hex      = lipgloss.NewStyle().Foreground(lipgloss.Color(VSCodeNumber))

	Title = lipgloss.NewStyle().
		Foreground(lipgloss.Color(colorTitle)).
		Bold(true).
		MarginLeft(2)

	Menu = lipgloss.NewStyle().
		Background(lipgloss.Color("235")).
		Foreground(lipgloss.Color("252")).
		Padding(0, 1)

	Prompt = lipgloss.NewStyle().
		Background(lipgloss.Color(colorPrompt)).
		Foreground(lipgloss.Color(colorAccent)).
		Padding(0, 1)
)
