package target

import (
	"debug/elf"
	"fmt"
	"path/filepath"

	"procview/internal/elfx"
)

// Snapshot is an ELF image loaded into a Memory address space, optionally
// rebased. It behaves like a process with that single image mapped, with
// segment permissions enforced on writes.
type Snapshot struct {
	*Memory

	image *elfx.Image
	name  string
	slide uint64 // added to link-time addresses
}

// OpenSnapshot maps the loadable segments of the ELF file at path. A base of
// zero keeps link-time addresses.
func OpenSnapshot(path string, base uint64) (*Snapshot, error) {
	im, err := elfx.Open(path)
	if err != nil {
		return nil, err
	}
	defer im.Close()

	s := &Snapshot{
		Memory: NewMemory(),
		image:  im,
		name:   filepath.Base(path),
	}
	low := im.LowAddr() &^ (PageSize - 1)
	if base != 0 {
		if base%PageSize != 0 {
			return nil, fmt.Errorf("snapshot base %#x not page aligned", base)
		}
		s.slide = base - low
	}

	for _, seg := range im.Loads {
		data, err := im.SegmentData(seg)
		if err != nil {
			return nil, err
		}
		start := seg.Vaddr &^ (PageSize - 1)
		// Pad the front so the region starts on a page boundary.
		padded := make([]byte, seg.Vaddr-start+uint64(len(data)))
		copy(padded[seg.Vaddr-start:], data)

		if err := s.mapMerged(start+s.slide, padded, segProt(seg.Flags)); err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", s.name, err)
		}
	}
	return s, nil
}

// mapMerged maps data, trimming any leading pages already covered by the
// previous segment (segments commonly share a boundary page).
func (s *Snapshot) mapMerged(base uint64, data []byte, prot Protection) error {
	for len(data) > 0 {
		s.mu.RLock()
		covered := s.regionAt(base) != nil
		s.mu.RUnlock()
		if !covered {
			break
		}
		n := PageSize
		if n > len(data) {
			n = len(data)
		}
		base += PageSize
		data = data[n:]
	}
	if len(data) == 0 {
		return nil
	}
	_, err := s.Map(base, data, prot, s.name)
	return err
}

func segProt(flags elf.ProgFlag) Protection {
	var p Protection
	if flags&elf.PF_R != 0 {
		p |= ProtRead
	}
	if flags&elf.PF_W != 0 {
		p |= ProtWrite
	}
	if flags&elf.PF_X != 0 {
		p |= ProtExec
	}
	return p
}

// Name returns the image file name.
func (s *Snapshot) Name() string { return s.name }

// Mode returns the x86 decode mode for the image, 0 if not x86.
func (s *Snapshot) Mode() int { return s.image.Mode() }

// Entry returns the rebased entry point.
func (s *Snapshot) Entry() uint64 { return s.image.Entry + s.slide }

// Lookup resolves addr to the containing symbol and its rebased address.
// The signature matches x86asm.SymLookup.
func (s *Snapshot) Lookup(addr uint64) (string, uint64) {
	sym, ok := s.image.SymbolAt(addr - s.slide)
	if !ok {
		return "", 0
	}
	return sym.Display(), sym.Addr + s.slide
}

// Symbol finds a symbol by name and returns its rebased address.
func (s *Snapshot) Symbol(name string) (uint64, bool) {
	sym, ok := s.image.FindSymbol(name)
	if !ok {
		return 0, false
	}
	return sym.Addr + s.slide, true
}
