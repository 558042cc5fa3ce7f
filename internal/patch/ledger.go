// Package patch performs protected byte patches against a target and keeps
// a reversible history of them.
package patch

import (
	"bytes"
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"procview/internal/asm"
	"procview/internal/disasm"
	"procview/internal/target"
)

// Ledger applies patches and owns their records. The mutex guards only the
// history; no lock is held across target calls.
type Ledger struct {
	target  target.Target
	mode    int
	audit   *log.Logger
	now     func() time.Time
	onWrite []func(addr uint64, size int)

	mu      sync.Mutex
	records []*Record
	seq     uint64
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithAudit records every ledger operation to lg.
func WithAudit(lg *log.Logger) Option {
	return func(l *Ledger) { l.audit = lg }
}

// WithClock overrides the time source for AppliedAt.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithMode sets the decoding mode used by Reassemble (32 or 64).
func WithMode(mode int) Option {
	return func(l *Ledger) { l.mode = mode }
}

// OnWrite registers fn to be called with every range the ledger wrote to,
// after protection is restored.
func OnWrite(fn func(addr uint64, size int)) Option {
	return func(l *Ledger) { l.onWrite = append(l.onWrite, fn) }
}

// New returns an empty ledger over t.
func New(t target.Target, opts ...Option) *Ledger {
	l := &Ledger{
		target: t,
		mode:   64,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Patch writes replacement at addr and records the bytes it replaced.
func (l *Ledger) Patch(addr uint64, replacement []byte, description string) (*Record, error) {
	switch {
	case len(replacement) == 0:
		return nil, &Error{Op: "patch", Address: addr, Err: ErrEmptyPatch}
	case len(replacement) > math.MaxUint16:
		return nil, &Error{Op: "patch", Address: addr, Err: ErrPatchTooLarge}
	}
	payload := slices.Clone(replacement)

	original, err := l.write("patch", addr, payload)
	if err != nil {
		l.auditFailure("patch", addr, len(payload), description, err)
		return nil, err
	}

	rec := &Record{
		Address:     addr,
		Length:      uint16(len(payload)),
		Original:    original,
		Replacement: payload,
		Description: description,
		applied:     true,
		appliedAt:   l.now(),
	}
	l.mu.Lock()
	l.seq++
	rec.seq = l.seq
	l.records = append(l.records, rec)
	l.mu.Unlock()

	l.auditSuccess("patch", rec)
	return rec, nil
}

// Fill overwrites n bytes at addr with b.
func (l *Ledger) Fill(addr uint64, n int, b byte, description string) (*Record, error) {
	if n <= 0 {
		return nil, &Error{Op: "patch", Address: addr, Err: ErrEmptyPatch}
	}
	return l.Patch(addr, bytes.Repeat([]byte{b}, n), description)
}

// Nop overwrites n bytes at addr with NOPs.
func (l *Ledger) Nop(addr uint64, n int, description string) (*Record, error) {
	return l.Fill(addr, n, nop, description)
}

// Assemble encodes text and sizes it against a region of regionLen bytes.
// Callers show the Fit to the operator before calling Reassemble when it
// does not fit.
func (l *Ledger) Assemble(addr uint64, regionLen int, text string) ([]byte, Fit, error) {
	code, err := asm.Assemble(text, l.mode)
	if err != nil {
		return nil, Fit{}, &Error{Op: "reassemble", Address: addr, Err: fmt.Errorf("%w: %w", ErrAssemble, err)}
	}
	return code, CheckFit(regionLen, code), nil
}

// Reassemble replaces the regionLen bytes at addr with the encoding of
// text, padded with NOPs. A longer encoding is refused unless
// confirmOverflow is set.
func (l *Ledger) Reassemble(addr uint64, regionLen int, text, description string, confirmOverflow bool) (*Record, error) {
	code, fit, err := l.Assemble(addr, regionLen, text)
	if err != nil {
		return nil, err
	}
	if !fit.Fits() && !confirmOverflow {
		return nil, &Error{
			Op:      "reassemble",
			Address: addr,
			Err:     fmt.Errorf("%w by %d bytes", ErrOverflowUnconfirmed, fit.Overflow),
		}
	}
	if description == "" {
		description = text
	}
	return l.Patch(addr, fit.Pad(code), description)
}

// Restore writes the record's original bytes back. The record stays in the
// ledger so it can be reapplied. A record with a later applied patch on top
// of it is refused; those must be restored first.
func (l *Ledger) Restore(rec *Record) error {
	if err := l.owned(rec, "restore"); err != nil {
		return err
	}
	if !rec.applied {
		return &Error{Op: "restore", Address: rec.Address, Err: ErrNotApplied}
	}
	if above := l.overlapping(rec, true); len(above) > 0 {
		return &Error{Op: "restore", Address: rec.Address, Err: overlapErr(above)}
	}
	if _, err := l.write("restore", rec.Address, rec.Original); err != nil {
		l.auditFailure("restore", rec.Address, int(rec.Length), rec.Description, err)
		return err
	}
	rec.applied = false
	l.auditSuccess("restore", rec)
	return nil
}

// Reapply writes the record's replacement bytes again. It is refused while
// any applied patch overlaps the record, since the saved original bytes
// would no longer match memory.
func (l *Ledger) Reapply(rec *Record) error {
	if err := l.owned(rec, "reapply"); err != nil {
		return err
	}
	if rec.applied {
		return &Error{Op: "reapply", Address: rec.Address, Err: ErrAlreadyApplied}
	}
	if others := l.overlapping(rec, false); len(others) > 0 {
		return &Error{Op: "reapply", Address: rec.Address, Err: overlapErr(others)}
	}
	if _, err := l.write("reapply", rec.Address, rec.Replacement); err != nil {
		l.auditFailure("reapply", rec.Address, int(rec.Length), rec.Description, err)
		return err
	}
	l.mu.Lock()
	l.seq++
	rec.seq = l.seq
	l.mu.Unlock()
	rec.applied = true
	rec.appliedAt = l.now()
	l.auditSuccess("reapply", rec)
	return nil
}

// Undo restores the most recently applied record.
func (l *Ledger) Undo() (*Record, error) {
	rec := l.Latest()
	if rec == nil {
		return nil, ErrNothingToUndo
	}
	return rec, l.Restore(rec)
}

// RestoreAll restores every applied record, newest write first, so
// overlapping patches unwind in order. Failures are collected and the rest
// continue.
func (l *Ledger) RestoreAll() error {
	l.mu.Lock()
	var stack []*Record
	for _, rec := range l.records {
		if rec.applied {
			stack = append(stack, rec)
		}
	}
	l.mu.Unlock()
	slices.SortFunc(stack, func(a, b *Record) int { return cmp.Compare(b.seq, a.seq) })

	var errs []error
	for _, rec := range stack {
		if err := l.Restore(rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Latest returns the most recently applied record still in place, or nil.
func (l *Ledger) Latest() *Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	var latest *Record
	for _, rec := range l.records {
		if rec.applied && (latest == nil || rec.seq > latest.seq) {
			latest = rec
		}
	}
	return latest
}

// History returns the records in creation order.
func (l *Ledger) History() []*Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.records)
}

// Applied returns the records currently in place that overlap
// [addr, addr+n).
func (l *Ledger) Applied(addr uint64, n int) []*Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*Record
	for _, rec := range l.records {
		if rec.applied && rec.Overlaps(addr, n) {
			out = append(out, rec)
		}
	}
	return out
}

// overlapping returns the other applied records sharing a byte with rec.
// With above set, only records written after rec are returned.
func (l *Ledger) overlapping(rec *Record, above bool) []*Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*Record
	for _, other := range l.records {
		if other == rec || !other.applied || !other.Overlaps(rec.Address, int(rec.Length)) {
			continue
		}
		if above && other.seq < rec.seq {
			continue
		}
		out = append(out, other)
	}
	return out
}

func overlapErr(recs []*Record) error {
	addrs := make([]string, len(recs))
	for i, rec := range recs {
		addrs[i] = fmt.Sprintf("%#x", rec.Address)
	}
	return fmt.Errorf("%w at %s", ErrOverlapped, strings.Join(addrs, ", "))
}

// Len returns the number of records.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

func (l *Ledger) owned(rec *Record, op string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rec == nil || !slices.Contains(l.records, rec) {
		addr := uint64(0)
		if rec != nil {
			addr = rec.Address
		}
		return &Error{Op: op, Address: addr, Err: ErrUnknownRecord}
	}
	return nil
}

// write runs the ordered protocol: read the current bytes, lift protection
// unless the target bypasses it, write, flush, put protection back. It
// returns the bytes that were replaced.
func (l *Ledger) write(op string, addr uint64, payload []byte) ([]byte, error) {
	n := len(payload)
	fail := func(err error) ([]byte, error) {
		return nil, &Error{Op: op, Address: addr, Err: err}
	}

	original, ok := l.target.ReadBytes(addr, n)
	if !ok || len(original) < n {
		return fail(fmt.Errorf("%w: got %d of %d bytes", ErrReadFailed, len(original), n))
	}
	original = slices.Clone(original[:n])

	protect := target.NeedsProtectionChange(l.target)
	var old target.Protection
	if protect {
		var err error
		old, err = l.target.ChangeProtection(addr, n, target.ProtRWX)
		if err != nil {
			return fail(fmt.Errorf("%w: %w", ErrProtectionChangeFailed, err))
		}
	}

	if !l.target.WriteBytes(addr, payload) {
		err := error(ErrWriteFailed)
		if protect {
			if _, rerr := l.target.ChangeProtection(addr, n, old); rerr != nil {
				slog.Warn("protection not restored after failed write", "addr", fmt.Sprintf("%#x", addr), "err", rerr)
				err = errors.Join(err, fmt.Errorf("restore protection: %w", rerr))
			}
		}
		l.notify(addr, n)
		return fail(err)
	}

	if !l.target.FlushExecutionCache(addr, n) {
		slog.Warn("execution cache flush failed", "addr", fmt.Sprintf("%#x", addr), "size", n)
	}

	if protect {
		if _, err := l.target.ChangeProtection(addr, n, old); err != nil {
			slog.Warn("protection not restored after write", "addr", fmt.Sprintf("%#x", addr), "prot", old, "err", err)
		}
	}

	l.notify(addr, n)
	return original, nil
}

func (l *Ledger) notify(addr uint64, n int) {
	for _, fn := range l.onWrite {
		fn(addr, n)
	}
}

func (l *Ledger) auditSuccess(op string, rec *Record) {
	if l.audit == nil {
		return
	}
	written := rec.Replacement
	if op == "restore" {
		written = rec.Original
	}
	l.audit.Info(op,
		"address", fmt.Sprintf("%#x", rec.Address),
		"length", rec.Length,
		"description", rec.Description,
		"original", disasm.HexBytes(rec.Original),
		"written", disasm.HexBytes(written),
	)
}

func (l *Ledger) auditFailure(op string, addr uint64, n int, description string, err error) {
	if l.audit == nil {
		return
	}
	l.audit.Error(op,
		"address", fmt.Sprintf("%#x", addr),
		"length", n,
		"description", description,
		"err", err,
	)
}
