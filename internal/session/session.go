// Package session owns everything scoped to one attachment: the label and
// page caches, the window builder, the patch ledger and the selection.
// It re-decodes the current window after every patch.
package session

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/charmbracelet/log"
	"golang.org/x/arch/x86/x86asm"

	"procview/internal/analysis"
	"procview/internal/config"
	"procview/internal/disasm"
	"procview/internal/flow"
	"procview/internal/labels"
	"procview/internal/pagecache"
	"procview/internal/patch"
	"procview/internal/selection"
	"procview/internal/target"
)

var (
	ErrNoWindow      = errors.New("no window")
	ErrNoSelection   = errors.New("nothing selected")
	ErrNotContiguous = errors.New("selection is not contiguous")
	ErrNoBranch      = errors.New("no branch target")
	ErrNoHistory     = errors.New("no navigation history")
)

// EventKind tells observers what changed.
type EventKind uint8

const (
	EventWindow EventKind = iota // a new window was built
	EventPatch                   // a ledger operation rewrote bytes
	EventAttach                  // the target changed and caches were reset
)

// Event is delivered to observers after the change is complete.
type Event struct {
	Kind   EventKind
	Window *disasm.Window
	Record *patch.Record
}

// Session is single threaded: call it from one goroutine.
type Session struct {
	cfg     config.Config
	target  target.Target
	audit   *log.Logger
	symbols x86asm.SymLookup

	labels  *labels.Cache
	pages   *pagecache.Cache
	builder *disasm.Builder
	ledger  *patch.Ledger
	sel     *selection.Model

	window  *disasm.Window
	layout  flow.Layout
	history []uint64

	observers map[int]func(Event)
	nextID    int
}

// Option configures a Session.
type Option func(*Session)

// WithAudit sends every ledger operation to lg.
func WithAudit(lg *log.Logger) Option {
	return func(s *Session) { s.audit = lg }
}

// WithSymbols resolves branch targets to symbol names in instruction text.
func WithSymbols(fn x86asm.SymLookup) Option {
	return func(s *Session) { s.symbols = fn }
}

// New returns a session over t. No window is built until Navigate.
func New(t target.Target, cfg config.Config, opts ...Option) *Session {
	s := &Session{
		cfg:       cfg,
		target:    t,
		observers: make(map[int]func(Event)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.labels = labels.New(t, cfg.Labels.RegionSize)
	s.pages = pagecache.New(t, cfg.Cache.PageSize, cfg.Cache.TTL.Std(), cfg.Cache.MaxPages)
	s.builder = disasm.NewBuilder(t, cfg.Decode)
	s.ledger = s.newLedger(t)
	s.sel = selection.New(cfg.Decode.PageRows)
	return s
}

func (s *Session) newLedger(t target.Target) *patch.Ledger {
	opts := []patch.Option{
		patch.WithMode(s.cfg.Decode.Mode),
		patch.OnWrite(s.pages.Invalidate),
	}
	if s.audit != nil {
		opts = append(opts, patch.WithAudit(s.audit))
	}
	return patch.New(t, opts...)
}

// Attach switches to a new target. Both caches are cleared, the ledger
// starts empty and navigation history is dropped.
func (s *Session) Attach(t target.Target, symbols x86asm.SymLookup) {
	s.target = t
	s.symbols = symbols
	s.labels.SetResolver(t)
	s.pages.SetReader(t)
	s.builder.SetReader(t)
	s.ledger = s.newLedger(t)
	s.window = nil
	s.layout = flow.Layout{}
	s.history = nil
	s.sel.Reset(0, -1)
	slog.Debug("attached new target")
	s.emit(Event{Kind: EventAttach})
}

// Navigate builds a window around addr, replacing the current one, and
// remembers the previous target for Back.
func (s *Session) Navigate(addr uint64) *disasm.Window {
	if s.window != nil && s.window.Target != addr {
		s.history = append(s.history, s.window.Target)
	}
	return s.build(addr)
}

func (s *Session) build(addr uint64) *disasm.Window {
	w := s.builder.Build(addr)
	s.window = w
	s.layout = flow.Allocate(w, s.cfg.Flow.Lanes)
	s.sel.Reset(len(w.Units), w.TargetIndex)
	if s.layout.Exhausted {
		slog.Debug("arrow lanes exhausted", "edges", len(s.layout.Edges), "lanes", s.layout.Lanes)
	}
	s.emit(Event{Kind: EventWindow, Window: w})
	return w
}

// Back returns to the previous navigation target.
func (s *Session) Back() (*disasm.Window, error) {
	if len(s.history) == 0 {
		return nil, ErrNoHistory
	}
	addr := s.history[len(s.history)-1]
	s.history = s.history[:len(s.history)-1]
	return s.build(addr), nil
}

// Follow navigates to the branch target of the cursor row.
func (s *Session) Follow() (*disasm.Window, error) {
	u, ok := s.CursorUnit()
	if !ok {
		return nil, ErrNoSelection
	}
	_, to, ok := disasm.Branch(u)
	if !ok {
		return nil, fmt.Errorf("%w at %s", ErrNoBranch, s.Label(u.Address))
	}
	return s.Navigate(to), nil
}

// Refresh rebuilds the current window from fresh bytes. The selection and
// scroll position are carried over by address.
func (s *Session) Refresh() *disasm.Window {
	old := s.window
	if old == nil {
		return nil
	}
	offset := s.sel.Offset()
	w := s.builder.Build(old.Target)
	s.window = w
	s.layout = flow.Allocate(w, s.cfg.Flow.Lanes)

	s.sel.Remap(len(w.Units), func(i int) (int, bool) {
		j := w.IndexOf(old.Units[i].Address)
		return j, j >= 0
	})
	if len(s.sel.Selected()) == 0 {
		s.sel.Reset(len(w.Units), w.TargetIndex)
	} else if j := w.IndexOf(old.Units[min(offset, len(old.Units)-1)].Address); j >= 0 {
		s.sel.ScrollBy(j - s.sel.Offset())
		s.sel.EnsureVisible(s.sel.Cursor())
	}
	s.emit(Event{Kind: EventWindow, Window: w})
	return w
}

// Window returns the current window, or nil before the first Navigate.
func (s *Session) Window() *disasm.Window { return s.window }

// Layout returns the arrow layout of the current window.
func (s *Session) Layout() flow.Layout { return s.layout }

// Selection returns the selection model of the current window.
func (s *Session) Selection() *selection.Model { return s.sel }

// Ledger returns the patch ledger of the current attachment.
func (s *Session) Ledger() *patch.Ledger { return s.ledger }

// Target returns the attached target.
func (s *Session) Target() target.Target { return s.target }

// Config returns the session configuration.
func (s *Session) Config() config.Config { return s.cfg }

// Label returns the display label for addr.
func (s *Session) Label(addr uint64) string { return s.labels.Resolve(addr) }

// Text formats u in the configured syntax.
func (s *Session) Text(u disasm.Unit) string {
	return disasm.Text(u, s.cfg.Decode.Syntax, s.symbols)
}

// Annotation returns a comment for u quoting a string it references, read
// through the page cache.
func (s *Session) Annotation(u disasm.Unit) string {
	text, _ := analysis.Annotate(u, s.pages.Read)
	return text
}

// Raw returns n bytes at addr through the page cache.
func (s *Session) Raw(addr uint64, n int) []byte { return s.pages.Read(addr, n) }

// CursorUnit returns the unit under the cursor.
func (s *Session) CursorUnit() (disasm.Unit, bool) {
	if s.window.Empty() {
		return disasm.Unit{}, false
	}
	i := s.sel.Cursor()
	if i < 0 || i >= len(s.window.Units) {
		return disasm.Unit{}, false
	}
	return s.window.Units[i], true
}

// SelectedRange returns the address and byte length covered by the
// selection, which must be contiguous.
func (s *Session) SelectedRange() (uint64, int, error) {
	if s.window.Empty() {
		return 0, 0, ErrNoWindow
	}
	first, last, ok := s.sel.Contiguous()
	if !ok {
		if len(s.sel.Selected()) == 0 {
			return 0, 0, ErrNoSelection
		}
		return 0, 0, ErrNotContiguous
	}
	start := s.window.Units[first].Address
	end := s.window.Units[last].End()
	return start, int(end - start), nil
}

// NopSelection replaces the selected rows with NOPs.
func (s *Session) NopSelection(description string) (*patch.Record, error) {
	addr, n, err := s.SelectedRange()
	if err != nil {
		return nil, err
	}
	if description == "" {
		description = fmt.Sprintf("nop %d bytes", n)
	}
	return s.patched(s.ledger.Nop(addr, n, description))
}

// FillSelection overwrites the selected rows with b.
func (s *Session) FillSelection(b byte, description string) (*patch.Record, error) {
	addr, n, err := s.SelectedRange()
	if err != nil {
		return nil, err
	}
	if description == "" {
		description = fmt.Sprintf("fill %d bytes with %#02x", n, b)
	}
	return s.patched(s.ledger.Fill(addr, n, b, description))
}

// CheckReassemble encodes text against the selected rows without writing.
func (s *Session) CheckReassemble(text string) (patch.Fit, error) {
	addr, n, err := s.SelectedRange()
	if err != nil {
		return patch.Fit{}, err
	}
	_, fit, err := s.ledger.Assemble(addr, n, text)
	return fit, err
}

// Reassemble replaces the selected rows with the encoding of text.
func (s *Session) Reassemble(text string, confirmOverflow bool) (*patch.Record, error) {
	addr, n, err := s.SelectedRange()
	if err != nil {
		return nil, err
	}
	return s.patched(s.ledger.Reassemble(addr, n, text, "", confirmOverflow))
}

// Restore puts back the bytes rec replaced.
func (s *Session) Restore(rec *patch.Record) error {
	_, err := s.patched(rec, s.ledger.Restore(rec))
	return err
}

// Reapply writes rec's replacement again.
func (s *Session) Reapply(rec *patch.Record) error {
	_, err := s.patched(rec, s.ledger.Reapply(rec))
	return err
}

// Undo restores the most recently applied patch.
func (s *Session) Undo() (*patch.Record, error) {
	return s.patched(s.ledger.Undo())
}

// RestoreAll restores every applied patch.
func (s *Session) RestoreAll() error {
	err := s.ledger.RestoreAll()
	s.afterPatch(nil)
	return err
}

func (s *Session) patched(rec *patch.Record, err error) (*patch.Record, error) {
	if err != nil {
		return rec, err
	}
	s.afterPatch(rec)
	return rec, nil
}

func (s *Session) afterPatch(rec *patch.Record) {
	s.Refresh()
	s.emit(Event{Kind: EventPatch, Window: s.window, Record: rec})
}

// Subscribe registers fn for session events and returns a function that
// removes it.
func (s *Session) Subscribe(fn func(Event)) (unsubscribe func()) {
	id := s.nextID
	s.nextID++
	s.observers[id] = fn
	return func() { delete(s.observers, id) }
}

func (s *Session) emit(e Event) {
	for _, fn := range s.observers {
		fn(e)
	}
}
