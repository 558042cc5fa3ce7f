// Package elfx opens ELF images, exposes their loadable segments and provides
// a sorted, demangled symbol table for address lookups.
package elfx

import (
	"debug/elf"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/ianlancetaylor/demangle"
)

type Image struct {
	Path    string
	File    *elf.File
	Machine elf.Machine
	Entry   uint64
	Loads   []Seg
	Syms    []Sym // sorted by Addr
}

type Seg struct {
	Vaddr, Off, Filesz, Memsz uint64
	Flags                     elf.ProgFlag
}

type Sym struct {
	Name      string
	Demangled string
	Addr      uint64
	Size      uint64
}

// Display returns the demangled name when demangling succeeded.
func (s Sym) Display() string {
	if s.Demangled != "" {
		return s.Demangled
	}
	return s.Name
}

func Open(path string) (*Image, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open elf: %w", err)
	}

	im := &Image{Path: path, File: f, Machine: f.Machine, Entry: f.Entry}
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD || p.Memsz == 0 {
			continue
		}
		im.Loads = append(im.Loads, Seg{
			Vaddr:  p.Vaddr,
			Off:    p.Off,
			Filesz: p.Filesz,
			Memsz:  p.Memsz,
			Flags:  p.Flags,
		})
	}
	if len(im.Loads) == 0 {
		f.Close()
		return nil, fmt.Errorf("open elf: %s has no loadable segments", path)
	}

	im.loadSymbols()
	return im, nil
}

func (im *Image) Close() error {
	if im.File == nil {
		return nil
	}
	err := im.File.Close()
	im.File = nil
	return err
}

// Mode returns the x86 decoding mode for the image, or 0 when the machine
// is not x86.
func (im *Image) Mode() int {
	switch im.Machine {
	case elf.EM_X86_64:
		return 64
	case elf.EM_386:
		return 32
	}
	return 0
}

// LowAddr returns the lowest segment address.
func (im *Image) LowAddr() uint64 {
	low := im.Loads[0].Vaddr
	for _, s := range im.Loads[1:] {
		if s.Vaddr < low {
			low = s.Vaddr
		}
	}
	return low
}

// SegmentData returns Memsz bytes of a segment, zero filled past Filesz.
func (im *Image) SegmentData(s Seg) ([]byte, error) {
	data := make([]byte, s.Memsz)
	if s.Filesz == 0 {
		return data, nil
	}
	var prog *elf.Prog
	for _, p := range im.File.Progs {
		if p.Type == elf.PT_LOAD && p.Vaddr == s.Vaddr && p.Off == s.Off {
			prog = p
			break
		}
	}
	if prog == nil {
		return nil, fmt.Errorf("read segment %#x: not in program headers", s.Vaddr)
	}
	if _, err := io.ReadFull(prog.Open(), data[:s.Filesz]); err != nil {
		return nil, fmt.Errorf("read segment %#x: %w", s.Vaddr, err)
	}
	return data, nil
}

func (im *Image) loadSymbols() {
	byName := make(map[string]Sym)
	add := func(syms []elf.Symbol) {
		for _, s := range syms {
			if s.Name == "" || s.Value == 0 || elf.ST_TYPE(s.Info) != elf.STT_FUNC && elf.ST_TYPE(s.Info) != elf.STT_OBJECT {
				continue
			}
			// Keep the lowest address for duplicate names.
			if existing, ok := byName[s.Name]; ok && existing.Addr <= s.Value {
				continue
			}
			byName[s.Name] = Sym{
				Name:      s.Name,
				Demangled: demangleName(s.Name),
				Addr:      s.Value,
				Size:      s.Size,
			}
		}
	}

	if dyn, err := im.File.DynamicSymbols(); err == nil {
		add(dyn)
	}
	// Stripped binaries only carry dynamic symbols.
	if static, err := im.File.Symbols(); err == nil {
		add(static)
	}

	im.Syms = make([]Sym, 0, len(byName))
	for _, s := range byName {
		im.Syms = append(im.Syms, s)
	}
	sort.Slice(im.Syms, func(i, j int) bool {
		if im.Syms[i].Addr == im.Syms[j].Addr {
			return im.Syms[i].Name < im.Syms[j].Name
		}
		return im.Syms[i].Addr < im.Syms[j].Addr
	})
}

func demangleName(name string) string {
	if !strings.HasPrefix(name, "_Z") {
		return ""
	}
	d := demangle.Filter(name, demangle.NoParams)
	if d == name {
		return ""
	}
	return d
}

// SymbolAt returns the symbol containing addr. Symbols without a size only
// match their exact address.
func (im *Image) SymbolAt(addr uint64) (Sym, bool) {
	i := sort.Search(len(im.Syms), func(i int) bool {
		return im.Syms[i].Addr > addr
	})
	for i--; i >= 0; i-- {
		s := im.Syms[i]
		if s.Addr == addr || addr < s.Addr+s.Size {
			return s, true
		}
		if s.Size != 0 {
			break
		}
	}
	return Sym{}, false
}

// FindSymbol looks a symbol up by mangled or demangled name.
func (im *Image) FindSymbol(name string) (Sym, bool) {
	for _, s := range im.Syms {
		if s.Name == name || s.Demangled == name {
			return s, true
		}
	}
	return Sym{}, false
}
