package disasm

import (
	"log/slog"

	"procview/internal/config"
	"procview/internal/target"
)

// Builder reads windows around target addresses and decodes them.
type Builder struct {
	reader target.Reader
	cfg    config.DecodeConfig
}

// NewBuilder returns a Builder reading through r.
func NewBuilder(r target.Reader, cfg config.DecodeConfig) *Builder {
	return &Builder{reader: r, cfg: cfg}
}

// SetReader replaces the reader, for example after re-attaching.
func (b *Builder) SetReader(r target.Reader) { b.reader = r }

// Config returns the sizing the builder was created with.
func (b *Builder) Config() config.DecodeConfig { return b.cfg }

type attempt struct {
	name  string
	start uint64
	size  int
}

// Build reads around addr and decodes the result. It tries a generous window
// with context before addr, then a window anchored at addr, then a minimal
// one. When every read fails the returned window is empty and marked
// unreadable; Build never returns nil.
func (b *Builder) Build(addr uint64) *Window {
	before := uint64(b.cfg.BytesBefore)
	if before > addr {
		before = addr
	}
	attempts := []attempt{
		{"context", addr - before, int(before) + b.cfg.BytesAfter},
		{"anchored", addr, b.cfg.BytesAfter},
		{"minimal", addr, b.cfg.MinimalBytes},
	}

	for _, a := range attempts {
		if a.size <= 0 {
			continue
		}
		data, ok := b.reader.ReadBytes(a.start, a.size)
		if !ok || len(data) == 0 {
			slog.Debug("window read failed", "attempt", a.name, "addr", hex(a.start), "size", a.size)
			continue
		}
		// A short read that stops before the target is not useful for a
		// context window; fall through to an anchored read.
		if a.start+uint64(len(data)) <= addr {
			slog.Debug("window read stopped before target", "attempt", a.name, "got", len(data))
			continue
		}
		w := Decode(a.start, data, addr, b.cfg.Mode, b.cfg.UnitCap())
		slog.Debug("window decoded", "attempt", a.name, "start", hex(a.start), "units", len(w.Units), "target", w.TargetIndex)
		return w
	}

	return &Window{Start: addr, Target: addr, TargetIndex: -1, Unreadable: true}
}
