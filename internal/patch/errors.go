package patch

import (
	"errors"
	"fmt"
)

var (
	// Collaborator failures. Any of these leaves target protection as it
	// was found.
	ErrReadFailed             = errors.New("read failed")
	ErrProtectionChangeFailed = errors.New("protection change failed")
	ErrWriteFailed            = errors.New("write failed")

	// Ledger state errors
	ErrEmptyPatch          = errors.New("empty patch")
	ErrPatchTooLarge       = errors.New("patch too large")
	ErrNotApplied          = errors.New("patch not applied")
	ErrAlreadyApplied      = errors.New("patch already applied")
	ErrUnknownRecord       = errors.New("record not in ledger")
	ErrNothingToUndo       = errors.New("nothing to undo")
	ErrOverflowUnconfirmed = errors.New("replacement overflows region")
	ErrAssemble            = errors.New("assemble failed")
	ErrOverlapped          = errors.New("overlapped by another applied patch")
)

// Error describes a failed ledger operation at an address.
type Error struct {
	Op      string // patch, restore, reapply, reassemble
	Address uint64
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %#x: %v", e.Op, e.Address, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
