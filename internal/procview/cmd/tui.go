package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/v2/list"
	"github.com/charmbracelet/bubbles/v2/viewport"
	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/lipgloss/v2"

	"procview/internal/disasm"
	"procview/internal/patch"
	"procview/internal/procview/styles"
	"procview/internal/session"
	"procview/internal/ui/colorize"
	"procview/internal/ui/gutter"
)

type viewMode int

const (
	viewListing viewMode = iota
	viewHex
	viewLedger
	viewHelp
)

type promptKind int

const (
	promptNone promptKind = iota
	promptGoto
	promptAssemble
	promptFill
	promptOverflow
)

var promptLabels = map[promptKind]string{
	promptGoto:     "goto",
	promptAssemble: "assemble",
	promptFill:     "fill byte",
	promptOverflow: "overflow, write anyway? (y/n)",
}

// listingTop is the number of lines above the first listing row.
const listingTop = 1

const dragInterval = 50 * time.Millisecond

type dragTickMsg struct{}

// changes counts session events. It is shared by every copy of the model.
type changes struct {
	n    int
	seen int
}

type recordItem struct {
	rec *patch.Record
}

func (i recordItem) FilterValue() string {
	return fmt.Sprintf("%x %s", i.rec.Address, i.rec.Description)
}

type recordDelegate struct{}

func (d recordDelegate) Height() int                               { return 1 }
func (d recordDelegate) Spacing() int                              { return 0 }
func (d recordDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }

func (d recordDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	i, ok := listItem.(recordItem)
	if !ok {
		return
	}

	indicator := " "
	addrStyle := styles.Dim
	if index == m.Index() {
		indicator = ">"
		addrStyle = styles.Cursor
	}
	state := styles.Dim.Render("restored")
	if i.rec.Applied() {
		state = styles.Patched.Render("applied")
	}
	fmt.Fprintf(w, " %s  %s  %-8s  %s  %s",
		indicator,
		addrStyle.Render(fmt.Sprintf("%#x", i.rec.Address)),
		state,
		i.rec.Description,
		styles.Dim.Render(disasm.HexBytes(i.rec.Replacement)))
}

type model struct {
	s       *session.Session
	name    string
	changes *changes

	mode   viewMode
	hex    viewport.Model
	help   viewport.Model
	ledger list.Model

	prompt  promptKind
	input   string
	pending string // assembly awaiting overflow confirmation

	status    string
	statusErr bool
	width     int
	height    int
}

func newModel(s *session.Session, name string, start uint64) model {
	hex := viewport.New()
	hex.SetWidth(80)
	hex.SetHeight(24)

	help := viewport.New()
	help.SetWidth(80)
	help.SetHeight(24)

	ledger := list.New([]list.Item{}, recordDelegate{}, 80, 24)
	ledger.SetShowStatusBar(false)
	ledger.SetFilteringEnabled(true)
	ledger.Title = "Patches"
	ledger.Styles.Title = styles.Title
	ledger.SetShowHelp(true)

	c := &changes{}
	s.Subscribe(func(session.Event) { c.n++ })

	m := model{
		s:       s,
		name:    name,
		changes: c,
		mode:    viewListing,
		hex:     hex,
		help:    help,
		ledger:  ledger,
		width:   80,
		height:  24,
	}
	s.Selection().SetRows(m.listingRows())
	s.Navigate(start)
	m.sync()
	return m
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) listingRows() int {
	// title line, status line, menu bar
	return max(m.height-listingTop-2, 1)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if msg.Width != m.width || msg.Height != m.height {
			m.width = msg.Width
			m.height = msg.Height
			m.hex.SetWidth(msg.Width)
			m.hex.SetHeight(msg.Height - 2)
			m.help.SetWidth(msg.Width)
			m.help.SetHeight(msg.Height - 2)
			m.ledger.SetWidth(msg.Width)
			m.ledger.SetHeight(msg.Height - 2)
			m.s.Selection().SetRows(m.listingRows())
			m.sync()
		}
		return m, nil

	case dragTickMsg:
		m.s.Selection().DragTick()
		if m.s.Selection().Dragging() {
			return m, dragTick()
		}
		return m, nil

	case tea.MouseClickMsg:
		if m.mode == viewListing && m.prompt == promptNone {
			return m.mouseDown(msg.Mouse())
		}

	case tea.MouseMotionMsg:
		if m.mode == viewListing && m.s.Selection().Dragging() {
			m.s.Selection().DragTo(m.rowAt(msg.Mouse().Y))
			return m, nil
		}

	case tea.MouseReleaseMsg:
		if m.s.Selection().Dragging() {
			m.s.Selection().EndDrag()
			m.sync()
			return m, nil
		}

	case tea.KeyMsg:
		if m.prompt != promptNone {
			return m.promptKey(msg.String())
		}
		if m.mode == viewLedger && m.ledger.FilterState() == list.Filtering {
			if msg.String() == "ctrl+c" {
				return m, tea.Quit
			}
			break
		}

		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "tab":
			m.mode = (m.mode + 1) % viewHelp
			m.sync()
			return m, nil
		case "shift+tab":
			m.mode = (m.mode + viewHelp - 1) % viewHelp
			m.sync()
			return m, nil
		case "?":
			if m.mode == viewHelp {
				m.mode = viewListing
			} else {
				m.mode = viewHelp
				m.help.SetContent(styles.RenderMarkdown(helpMarkdown+ledgerMarkdown(m.s.Ledger().History()), m.width-2))
				m.help.GotoTop()
			}
			return m, nil
		case "esc":
			m.mode = viewListing
			return m, nil
		}

		switch m.mode {
		case viewListing, viewHex:
			if handled, next := m.listingKey(msg.String()); handled {
				return next, nil
			}
		case viewLedger:
			if handled, next := m.ledgerKey(msg.String()); handled {
				return next, nil
			}
		}
	}

	switch m.mode {
	case viewLedger:
		m.ledger, cmd = m.ledger.Update(msg)
	case viewHelp:
		m.help, cmd = m.help.Update(msg)
	case viewHex:
		m.hex, cmd = m.hex.Update(msg)
	}
	return m, cmd
}

func dragTick() tea.Cmd {
	return tea.Tick(dragInterval, func(time.Time) tea.Msg { return dragTickMsg{} })
}

func (m model) rowAt(y int) int {
	return m.s.Selection().Offset() + y - listingTop
}

func (m model) mouseDown(mouse tea.Mouse) (tea.Model, tea.Cmd) {
	if mouse.Button != tea.MouseLeft {
		return m, nil
	}
	sel := m.s.Selection()
	row := m.rowAt(mouse.Y)
	if row < 0 || row >= sel.Len() {
		return m, nil
	}
	switch {
	case mouse.Mod.Contains(tea.ModShift):
		sel.SelectRange(row)
	case mouse.Mod.Contains(tea.ModCtrl):
		sel.Toggle(row)
	default:
		sel.BeginDrag(row)
		m.sync()
		return m, dragTick()
	}
	m.sync()
	return m, nil
}

// listingKey handles the keys shared by the listing and hex views.
func (m model) listingKey(key string) (bool, tea.Model) {
	sel := m.s.Selection()
	switch key {
	case "up", "k":
		sel.Up()
	case "down", "j":
		sel.Down()
	case "pgup":
		sel.PageUp()
	case "pgdown":
		sel.PageDown()
	case "home":
		sel.Home()
	case "end":
		sel.End()
	case "shift+up", "K":
		sel.SelectRange(sel.Cursor() - 1)
		sel.EnsureVisible(sel.Cursor())
	case "shift+down", "J":
		sel.SelectRange(sel.Cursor() + 1)
		sel.EnsureVisible(sel.Cursor())
	case "space":
		sel.Toggle(sel.Cursor())
	case "enter":
		_, err := m.s.Follow()
		m.report("", err)
	case "backspace", "b":
		_, err := m.s.Back()
		m.report("", err)
	case "ctrl+r":
		m.s.Refresh()
		m.report("refreshed", nil)
	case "g":
		m.open(promptGoto)
	case "a":
		m.open(promptAssemble)
	case "f":
		m.open(promptFill)
	case "n":
		rec, err := m.s.NopSelection("")
		m.reportRecord(rec, err)
	case "u":
		rec, err := m.s.Undo()
		if err == nil {
			m.report("undid "+rec.String(), nil)
		} else {
			m.report("", err)
		}
	case "U":
		m.report("restored all patches", m.s.RestoreAll())
	default:
		return false, m
	}
	m.sync()
	return true, m
}

func (m model) ledgerKey(key string) (bool, tea.Model) {
	item, ok := m.ledger.SelectedItem().(recordItem)
	switch key {
	case "r":
		if ok {
			m.report("restored "+item.rec.String(), m.s.Restore(item.rec))
		}
	case "p":
		if ok {
			m.report("reapplied "+item.rec.String(), m.s.Reapply(item.rec))
		}
	case "enter":
		if ok {
			m.s.Navigate(item.rec.Address)
			m.mode = viewListing
		}
	default:
		return false, m
	}
	m.sync()
	return true, m
}

func (m *model) open(p promptKind) {
	m.prompt = p
	m.input = ""
	if p == promptAssemble {
		if u, ok := m.s.CursorUnit(); ok && !u.IsData() {
			m.input = m.s.Text(u)
		}
	}
}

func (m model) promptKey(key string) (tea.Model, tea.Cmd) {
	switch key {
	case "ctrl+c":
		return m, tea.Quit
	case "esc":
		m.prompt, m.input, m.pending = promptNone, "", ""
		return m, nil
	case "backspace":
		if r := []rune(m.input); len(r) > 0 {
			m.input = string(r[:len(r)-1])
		}
		return m, nil
	case "enter":
		m = m.submit()
		m.sync()
		return m, nil
	case "space":
		m.input += " "
		return m, nil
	}
	if m.prompt == promptOverflow {
		switch key {
		case "y", "Y":
			rec, err := m.s.Reassemble(m.pending, true)
			m.reportRecord(rec, err)
		default:
			m.report("reassembly cancelled", nil)
		}
		m.prompt, m.pending = promptNone, ""
		m.sync()
		return m, nil
	}
	if len([]rune(key)) == 1 {
		m.input += key
	}
	return m, nil
}

func (m model) submit() model {
	p, input := m.prompt, strings.TrimSpace(m.input)
	m.prompt, m.input = promptNone, ""
	switch p {
	case promptGoto:
		addr, err := parseAddress(input, m.symbols())
		if err != nil {
			m.report("", err)
			break
		}
		m.s.Navigate(addr)
		m.report("", nil)
	case promptFill:
		v, err := parseHex(input)
		if err != nil || v > 0xff {
			m.report("", fmt.Errorf("invalid byte %q", input))
			break
		}
		rec, err := m.s.FillSelection(byte(v), "")
		m.reportRecord(rec, err)
	case promptAssemble:
		fit, err := m.s.CheckReassemble(input)
		if err != nil {
			m.report("", err)
			break
		}
		if !fit.Fits() {
			m.prompt, m.pending = promptOverflow, input
			m.report(fmt.Sprintf("%d bytes overflow the selection", fit.Overflow), nil)
			break
		}
		rec, err := m.s.Reassemble(input, false)
		m.reportRecord(rec, err)
	}
	return m
}

func (m model) symbols() symbolTable {
	if st, ok := m.s.Target().(symbolTable); ok {
		return st
	}
	return nil
}

func (m *model) report(msg string, err error) {
	if err != nil {
		m.status, m.statusErr = err.Error(), true
		return
	}
	m.status, m.statusErr = msg, false
}

func (m *model) reportRecord(rec *patch.Record, err error) {
	var pe *patch.Error
	if errors.As(err, &pe) {
		m.report("", fmt.Errorf("%s at %s: %w", pe.Op, m.s.Label(pe.Address), pe.Err))
		return
	}
	if err != nil {
		m.report("", err)
		return
	}
	m.report("patched "+rec.String(), nil)
}

// sync refreshes the panes that mirror session state after it changed.
func (m *model) sync() {
	if m.changes.n != m.changes.seen {
		m.changes.seen = m.changes.n
		items := make([]list.Item, 0, m.s.Ledger().Len())
		for _, rec := range m.s.Ledger().History() {
			items = append(items, recordItem{rec: rec})
		}
		m.ledger.SetItems(items)
		m.ledger.Title = fmt.Sprintf("Patches (%d)", len(items))
	}
	m.hex.SetContent(m.hexDump())
}

const hexRows = 16

func (m model) hexDump() string {
	u, ok := m.s.CursorUnit()
	if !ok {
		return styles.Dim.Render("no window")
	}
	start := u.Address &^ 0xf
	var sb strings.Builder
	for r := range hexRows {
		addr := start + uint64(r*16)
		b := m.s.Raw(addr, 16)
		fmt.Fprintf(&sb, "%s  ", styles.Dim.Render(fmt.Sprintf("%016x", addr)))
		if b == nil {
			sb.WriteString(styles.Error.Render("??"))
			sb.WriteByte('\n')
			continue
		}
		sb.WriteString(styles.Hex.Render(disasm.HexBytes(b)))
		sb.WriteString("  ")
		for _, c := range b {
			if c >= 0x20 && c < 0x7f {
				sb.WriteByte(c)
			} else {
				sb.WriteByte('.')
			}
		}
		sb.WriteByte('\n')
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

func (m model) View() string {
	var content string
	switch m.mode {
	case viewLedger:
		content = m.ledger.View()
	case viewHelp:
		content = m.help.View()
	case viewHex:
		content = m.hex.View()
	default:
		content = m.listing()
	}

	var menu string
	switch m.mode {
	case viewLedger:
		menu = " Enter: go to • R: restore • P: reapply • Tab: cycle • Q: quit "
	case viewHelp:
		menu = " Esc: back • Q: quit "
	default:
		menu = " N: nop • A: assemble • F: fill • U: undo • G: goto • Tab: cycle • ?: help • Q: quit "
	}

	var bottom string
	if m.prompt != promptNone {
		bottom = styles.Prompt.Width(m.width).Render(promptLabels[m.prompt] + ": " + m.input + "▏")
	} else {
		bottom = styles.Menu.Width(m.width).Render(menu)
	}

	status := m.status
	if m.statusErr {
		status = styles.Error.Render(status)
	}
	return content + "\n" + status + "\n" + bottom
}

// listing renders the title line and the visible window rows.
func (m model) listing() string {
	w := m.s.Window()
	var sb strings.Builder
	title := styles.Title.Render(m.name)
	if w != nil {
		title += styles.Dim.Render(fmt.Sprintf("  %s", m.s.Label(w.Target)))
	}
	sb.WriteString(title)

	if w.Empty() {
		msg := "unable to decode"
		if w == nil || w.Unreadable {
			msg = "unreadable"
		}
		sb.WriteString("\n  ")
		sb.WriteString(styles.Error.Render(msg))
		return sb.String()
	}

	sel := m.s.Selection()
	from, to := sel.Visible()
	cols := columns(m.s, from, to)
	color := !colorize.Disabled()
	for i := from; i < to; i++ {
		sb.WriteByte('\n')
		sb.WriteString(m.row(i, cols, color))
	}
	return sb.String()
}

func (m model) row(i int, cols colorize.Columns, color bool) string {
	w := m.s.Window()
	u := w.Units[i]
	sel := m.s.Selection()

	indicator := " "
	if i == sel.Cursor() {
		indicator = ">"
	}
	patched := " "
	if len(m.s.Ledger().Applied(u.Address, int(u.Length))) > 0 {
		patched = styles.Patched.Render("*")
	}

	parts := disasm.Parts(u, m.s.Label(u.Address), m.s.Text(u))
	var text string
	switch {
	case sel.IsSelected(i):
		text = styles.Selected.Render(colorize.Plain(parts, cols))
	case i == w.TargetIndex && color:
		text = styles.Target.Render(colorize.Plain(parts, cols))
	default:
		text = colorize.Row(parts, cols)
	}
	if note := m.s.Annotation(u); note != "" {
		text += "  " + styles.Dim.Render("; "+note)
	}
	line := fmt.Sprintf("%s%s %s %s", indicator, patched, gutter.Render(m.s.Layout(), i, color), text)
	return lipgloss.NewStyle().MaxWidth(m.width).Render(line)
}

// columns sizes the address and byte columns over rows [from, to).
func columns(s *session.Session, from, to int) colorize.Columns {
	var cols colorize.Columns
	w := s.Window()
	for i := from; i < to; i++ {
		u := w.Units[i]
		cols.Address = max(cols.Address, len(s.Label(u.Address)))
		cols.Bytes = max(cols.Bytes, len(u.Raw)*3-1)
	}
	return cols
}
